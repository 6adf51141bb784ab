package geo

import (
	"math"
	"testing"

	"ridecore/internal/types"
)

func TestHaversineKm(t *testing.T) {
	// Philipsburg to Maho Beach, roughly 7 km as the crow flies.
	philipsburg := types.Point{Lat: 18.0255, Lng: -63.0450}
	maho := types.Point{Lat: 18.0397, Lng: -63.1186}

	got := HaversineKm(philipsburg, maho)
	if got < 7.0 || got > 8.5 {
		t.Errorf("HaversineKm = %.3f km, want roughly 7-8.5 km", got)
	}

	if d := HaversineKm(philipsburg, philipsburg); d != 0 {
		t.Errorf("distance to self = %v, want 0", d)
	}

	// Symmetry.
	if a, b := HaversineKm(philipsburg, maho), HaversineKm(maho, philipsburg); math.Abs(a-b) > 1e-9 {
		t.Errorf("asymmetric distance: %v vs %v", a, b)
	}
}

func TestInCircle(t *testing.T) {
	center := types.Point{Lat: 18.0255, Lng: -63.0450}

	cases := []struct {
		name   string
		p      types.Point
		radius float64
		want   bool
	}{
		{"center itself", center, 1, true},
		{"just inside 2km", types.Point{Lat: 18.0300, Lng: -63.0450}, 2000, true},
		{"well outside 500m", types.Point{Lat: 18.0397, Lng: -63.1186}, 500, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := InCircle(tc.p, center, tc.radius); got != tc.want {
				t.Errorf("InCircle = %v, want %v", got, tc.want)
			}
		})
	}
}
