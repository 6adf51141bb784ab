// README: In-memory offer store used by tests and DSN-less dev runs.
package discovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"ridecore/internal/types"
)

type MemoryStore struct {
	mu     sync.Mutex
	offers map[types.ID]*Offer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{offers: map[types.ID]*Offer{}}
}

func (s *MemoryStore) Create(_ context.Context, o *Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.offers[o.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return nil, ErrOfferNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListBySession(_ context.Context, sessionID types.ID) ([]*Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Offer
	for _, o := range s.offers {
		if o.SessionID == sessionID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) HasPendingByDriver(_ context.Context, sessionID, driverID types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.offers {
		if o.SessionID == sessionID && o.DriverID == driverID && o.Status == OfferPending {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id types.ID, from, to OfferStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return false, ErrOfferNotFound
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	t := at
	o.RespondedAt = &t
	return true, nil
}

func (s *MemoryStore) RejectPendingExcept(_ context.Context, sessionID, except types.ID, at time.Time) ([]types.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var drivers []types.ID
	for _, o := range s.offers {
		if o.SessionID != sessionID || o.Status != OfferPending || o.ID == except {
			continue
		}
		o.Status = OfferRejected
		t := at
		o.RespondedAt = &t
		drivers = append(drivers, o.DriverID)
	}
	return drivers, nil
}
