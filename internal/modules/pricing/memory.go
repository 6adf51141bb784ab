// README: In-memory pricing store used by tests and DSN-less dev runs.
package pricing

import (
	"context"
	"sort"
	"sync"

	"ridecore/internal/types"
)

type MemoryStore struct {
	mu        sync.RWMutex
	regions   []Region
	zones     []Zone
	fares     []FixedFare
	rules     []RuleVersion
	modifiers []Modifier
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) AddRegion(r Region)        { s.mu.Lock(); s.regions = append(s.regions, r); s.mu.Unlock() }
func (s *MemoryStore) AddZone(z Zone)            { s.mu.Lock(); s.zones = append(s.zones, z); s.mu.Unlock() }
func (s *MemoryStore) AddFixedFare(f FixedFare)  { s.mu.Lock(); s.fares = append(s.fares, f); s.mu.Unlock() }
func (s *MemoryStore) AddRuleVersion(r RuleVersion) {
	s.mu.Lock()
	s.rules = append(s.rules, r)
	s.mu.Unlock()
}
func (s *MemoryStore) AddModifier(m Modifier) { s.mu.Lock(); s.modifiers = append(s.modifiers, m); s.mu.Unlock() }

func (s *MemoryStore) DefaultRegion(_ context.Context) (Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.regions {
		if r.Active {
			return r, nil
		}
	}
	return Region{}, ErrNotFound
}

func (s *MemoryStore) Region(_ context.Context, id types.ID) (Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.regions {
		if r.ID == id && r.Active {
			return r, nil
		}
	}
	return Region{}, ErrNotFound
}

func (s *MemoryStore) ActiveZones(_ context.Context, regionID types.ID) ([]Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Zone
	for _, z := range s.zones {
		if z.RegionID == regionID && z.Active {
			out = append(out, z)
		}
	}
	return out, nil
}

func (s *MemoryStore) FindFixedFare(_ context.Context, regionID types.ID, zoneA, zoneB *types.ID) (*FixedFare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.fares {
		f := s.fares[i]
		if f.RegionID != regionID || !f.Active {
			continue
		}
		if (idEq(f.OriginZoneID, zoneA) && idEq(f.DestinationZoneID, zoneB)) ||
			(idEq(f.OriginZoneID, zoneB) && idEq(f.DestinationZoneID, zoneA)) {
			return &f, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ActiveRuleVersion(_ context.Context, regionID types.ID) (RuleVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rules {
		if r.RegionID == regionID && r.Active {
			return r, nil
		}
	}
	return RuleVersion{}, ErrNotFound
}

func (s *MemoryStore) EnabledModifiers(_ context.Context, regionID types.ID) ([]Modifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Modifier
	for _, m := range s.modifiers {
		if m.RegionID == regionID && m.Enabled {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func idEq(a, b *types.ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
