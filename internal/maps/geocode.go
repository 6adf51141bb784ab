// README: Resolves human-readable labels for pickup and dropoff coordinates.
package maps

import (
	"context"
	"fmt"

	gmaps "googlemaps.github.io/maps"

	"ridecore/internal/types"
)

// Labeler resolves a point to a short display label. Handlers fall back to
// the rider-provided label when no resolver is configured.
type Labeler interface {
	Label(ctx context.Context, p types.Point) (string, error)
}

// GeocodeService labels coordinates through the Google Geocoding API.
type GeocodeService struct {
	client *gmaps.Client
}

func NewGeocodeService(client *gmaps.Client) *GeocodeService {
	return &GeocodeService{client: client}
}

// Label reverse-geocodes the point and returns the first formatted address.
func (s *GeocodeService) Label(ctx context.Context, p types.Point) (string, error) {
	resp, err := s.client.ReverseGeocode(ctx, &gmaps.GeocodingRequest{
		LatLng: &gmaps.LatLng{Lat: p.Lat, Lng: p.Lng},
	})
	if err != nil {
		return "", fmt.Errorf("reverse geocode: %w", err)
	}
	if len(resp) == 0 {
		return "", fmt.Errorf("no geocoding result for %.5f,%.5f", p.Lat, p.Lng)
	}
	return resp[0].FormattedAddress, nil
}
