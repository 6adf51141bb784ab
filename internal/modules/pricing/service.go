// README: Fare computation: zone fixed fares, then distance fallback with time modifiers.
package pricing

import (
	"context"
	"errors"
	"math"
	"time"

	"ridecore/internal/geo"
	"ridecore/internal/types"
)

// roadFactor scales straight-line distance to approximate road distance.
const roadFactor = 1.3

var (
	ErrRegionNotFound = errors.New("no active region")
	ErrRuleNotFound   = errors.New("no active pricing rule for region")
	ErrBadRequest     = errors.New("invalid coordinates")
)

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// ComputeFare quotes a fare for the given origin/destination. regionID may be
// empty, in which case the default region is resolved. The computation is pure
// over the stored configuration and the clock; it never mutates state.
func (s *Service) ComputeFare(ctx context.Context, origin, dest types.Point, regionID types.ID) (Quote, error) {
	if !origin.Valid() || !dest.Valid() {
		return Quote{}, ErrBadRequest
	}

	region, err := s.resolveRegion(ctx, regionID)
	if err != nil {
		return Quote{}, err
	}

	zones, err := s.store.ActiveZones(ctx, region.ID)
	if err != nil {
		return Quote{}, err
	}

	originZone := matchZone(origin, zones)
	destZone := matchZone(dest, zones)

	if originZone != nil || destZone != nil {
		fixed, err := s.store.FindFixedFare(ctx, region.ID, zoneID(originZone), zoneID(destZone))
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Quote{}, err
		}
		if fixed != nil {
			return s.zoneQuote(region, originZone, destZone, fixed), nil
		}
	}

	return s.fallbackQuote(ctx, region, origin, dest)
}

func (s *Service) resolveRegion(ctx context.Context, regionID types.ID) (Region, error) {
	var (
		region Region
		err    error
	)
	if regionID == "" {
		region, err = s.store.DefaultRegion(ctx)
	} else {
		region, err = s.store.Region(ctx, regionID)
	}
	if errors.Is(err, ErrNotFound) {
		return Region{}, ErrRegionNotFound
	}
	if err != nil {
		return Region{}, err
	}
	return region, nil
}

func (s *Service) zoneQuote(region Region, originZone, destZone *Zone, fixed *FixedFare) Quote {
	b := Breakdown{
		Method:      MethodZoneFixed,
		FixedFareID: &fixed.ID,
		Total:       fixed.Amount,
		ComputedAt:  s.now().UTC(),
	}
	if originZone != nil {
		b.OriginZoneID = &originZone.ID
		b.OriginZoneName = originZone.Name
	}
	if destZone != nil {
		b.DestinationZoneID = &destZone.ID
		b.DestZoneName = destZone.Name
	}
	return Quote{
		Amount:    fixed.Amount,
		Currency:  region.Currency,
		Method:    MethodZoneFixed,
		Breakdown: b,
	}
}

func (s *Service) fallbackQuote(ctx context.Context, region Region, origin, dest types.Point) (Quote, error) {
	rule, err := s.store.ActiveRuleVersion(ctx, region.ID)
	if errors.Is(err, ErrNotFound) {
		// Fatal for this request: callers must not substitute a default rate.
		return Quote{}, ErrRuleNotFound
	}
	if err != nil {
		return Quote{}, err
	}

	straightKm := geo.HaversineKm(origin, dest)
	distanceKm := straightKm * roadFactor
	distanceFare := distanceKm * rule.PerKmRate
	subtotal := rule.BaseFare + distanceFare
	total := subtotal

	modifiers, err := s.store.EnabledModifiers(ctx, region.ID)
	if err != nil {
		return Quote{}, err
	}

	now := s.now().UTC()
	applied := make([]AppliedModifier, 0, len(modifiers))
	for _, m := range modifiers {
		if !m.Matches(now) {
			continue
		}
		switch m.Application {
		case ApplyMultiply:
			total *= m.Value
		case ApplyAdd:
			total += m.Value
		}
		applied = append(applied, AppliedModifier{
			Type:        m.Type,
			Name:        m.Name,
			Application: m.Application,
			Value:       m.Value,
		})
	}

	total = round2(total)
	return Quote{
		Amount:        total,
		Currency:      region.Currency,
		Method:        MethodDistanceFallback,
		RuleVersionID: &rule.ID,
		Breakdown: Breakdown{
			Method:         MethodDistanceFallback,
			StraightLineKm: straightKm,
			DistanceKm:     distanceKm,
			Multiplier:     roadFactor,
			BaseFare:       rule.BaseFare,
			PerKmRate:      rule.PerKmRate,
			DistanceFare:   distanceFare,
			Modifiers:      applied,
			Subtotal:       subtotal,
			Total:          total,
			ComputedAt:     now,
		},
	}, nil
}

// Matches reports whether the modifier's threshold covers t (UTC).
func (m Modifier) Matches(t time.Time) bool {
	hour := t.Hour()
	switch m.Type {
	case ModifierNight:
		if m.Threshold.StartHour > m.Threshold.EndHour {
			// Spans midnight, e.g. 22:00 to 06:00.
			return hour >= m.Threshold.StartHour || hour < m.Threshold.EndHour
		}
		return hour >= m.Threshold.StartHour && hour < m.Threshold.EndHour
	case ModifierPeak:
		if !containsDay(m.Threshold.Days, t.Weekday()) {
			return false
		}
		return hour >= m.Threshold.StartHour && hour < m.Threshold.EndHour
	default:
		return false
	}
}

var dayNames = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

func containsDay(days []string, wd time.Weekday) bool {
	name := dayNames[int(wd)]
	for _, d := range days {
		if d == name {
			return true
		}
	}
	return false
}

func matchZone(p types.Point, zones []Zone) *Zone {
	for i := range zones {
		if geo.InCircle(p, zones[i].Center, zones[i].RadiusMeters) {
			return &zones[i]
		}
	}
	return nil
}

func zoneID(z *Zone) *types.ID {
	if z == nil {
		return nil
	}
	return &z.ID
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
