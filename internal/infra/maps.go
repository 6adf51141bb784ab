// README: Google Maps client initialization for the label resolver.
package infra

import (
	"fmt"

	"googlemaps.github.io/maps"
)

func NewMaps(apiKey string) (*maps.Client, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("maps.NewClient: %w", err)
	}
	return c, nil
}
