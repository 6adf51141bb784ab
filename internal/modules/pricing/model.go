// README: Pricing configuration entities and quote breakdown.
package pricing

import (
	"time"

	"ridecore/internal/types"
)

type Region struct {
	ID           types.ID
	CountryCode  string
	Currency     string
	DistanceUnit string
	Active       bool
}

// Zone is a circular geofence used for flat-rate pricing.
type Zone struct {
	ID           types.ID
	RegionID     types.ID
	Name         string
	Center       types.Point
	RadiusMeters float64
	Active       bool
}

// FixedFare is a flat price for a zone pair, matched in either direction.
type FixedFare struct {
	ID                types.ID
	RegionID          types.ID
	OriginZoneID      *types.ID
	DestinationZoneID *types.ID
	Amount            float64
	Active            bool
}

// RuleVersion is one version of a region's distance pricing rule; exactly one
// is active per region at a time.
type RuleVersion struct {
	ID        types.ID
	RegionID  types.ID
	Version   int
	BaseFare  float64
	PerKmRate float64
	Active    bool
}

type ModifierType string

const (
	ModifierNight ModifierType = "night"
	ModifierPeak  ModifierType = "peak"
)

type ModifierApplication string

const (
	ApplyMultiply ModifierApplication = "multiply"
	ApplyAdd      ModifierApplication = "add"
)

// Threshold configures when a modifier fires. Hours are UTC; StartHour >
// EndHour means the range wraps midnight. Days is only consulted for peak
// modifiers ("sun" .. "sat").
type Threshold struct {
	StartHour int      `json:"start_hour"`
	EndHour   int      `json:"end_hour"`
	Days      []string `json:"days,omitempty"`
}

// Modifier adjusts a distance-fallback total. Priority plus ID gives the
// declared application order; multiply/add interaction depends on it.
type Modifier struct {
	ID          types.ID
	RegionID    types.ID
	Name        string
	Type        ModifierType
	Application ModifierApplication
	Value       float64
	Enabled     bool
	Priority    int
	Threshold   Threshold
}

type Method string

const (
	MethodZoneFixed        Method = "zone_fixed"
	MethodDistanceFallback Method = "distance_fallback"
)

// AppliedModifier records one modifier that fired during a computation.
type AppliedModifier struct {
	Type        ModifierType        `json:"type"`
	Name        string              `json:"name"`
	Application ModifierApplication `json:"application"`
	Value       float64             `json:"value"`
}

// Breakdown is the full computation trace persisted with a session's quote.
type Breakdown struct {
	Method            Method            `json:"method"`
	OriginZoneID      *types.ID         `json:"origin_zone_id,omitempty"`
	OriginZoneName    string            `json:"origin_zone_name,omitempty"`
	DestinationZoneID *types.ID         `json:"destination_zone_id,omitempty"`
	DestZoneName      string            `json:"destination_zone_name,omitempty"`
	FixedFareID       *types.ID         `json:"fixed_fare_id,omitempty"`
	StraightLineKm    float64           `json:"straight_line_km,omitempty"`
	DistanceKm        float64           `json:"distance_km,omitempty"`
	Multiplier        float64           `json:"multiplier,omitempty"`
	BaseFare          float64           `json:"base_fare,omitempty"`
	PerKmRate         float64           `json:"per_km_rate,omitempty"`
	DistanceFare      float64           `json:"distance_fare,omitempty"`
	Modifiers         []AppliedModifier `json:"modifiers,omitempty"`
	Subtotal          float64           `json:"subtotal,omitempty"`
	Total             float64           `json:"total"`
	ComputedAt        time.Time         `json:"calculated_at"`
}

// Quote is the platform-quoted fare returned to the rider.
type Quote struct {
	Amount        float64
	Currency      string
	Method        Method
	RuleVersionID *types.ID
	Breakdown     Breakdown
}
