// README: Common value objects shared across modules.
package types

// ID is an opaque entity identifier (uuid in storage).
type ID string

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lng float64
}

// Valid reports whether the point is inside the representable lat/lng range.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Location is a point plus its human-readable label.
type Location struct {
	Point
	Label string
}
