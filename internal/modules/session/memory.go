// README: In-memory session store used by tests and DSN-less dev runs.
package session

import (
	"context"
	"sync"
	"time"

	"ridecore/internal/types"
)

type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[types.ID]*Session
	events      map[types.ID][]Event
	nextEventID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[types.ID]*Session{}, events: map[types.ID][]Event{}}
}

func (s *MemoryStore) Create(_ context.Context, sess *Session, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	s.appendEventLocked(e)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int, patch Patch, e *Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	if sess.Status != from || sess.StatusVersion != version {
		return false, nil
	}

	sess.Status = to
	sess.StatusVersion++
	if patch.SelectedOfferID != nil {
		v := *patch.SelectedOfferID
		sess.SelectedOfferID = &v
	}
	if patch.SelectedDriverID != nil {
		v := *patch.SelectedDriverID
		sess.SelectedDriverID = &v
	}
	if patch.FinalAmount != nil {
		v := *patch.FinalAmount
		sess.FinalAmount = &v
	}
	if patch.CancelReason != nil {
		v := *patch.CancelReason
		sess.CancelReason = &v
	}

	now := time.Now().UTC()
	switch to {
	case StatusDiscovery:
		sess.DiscoveryAt = &now
	case StatusHold:
		sess.HoldAt = &now
	case StatusConfirmed:
		sess.ConfirmedAt = &now
	case StatusActive:
		sess.StartedAt = &now
	case StatusCompleted:
		sess.CompletedAt = &now
	case StatusCanceled:
		sess.CanceledAt = &now
	case StatusExpired:
		sess.ExpiredAt = &now
	}
	// Same lock as the status change, so the event is never missing for a
	// committed transition.
	s.appendEventLocked(e)
	return true, nil
}

func (s *MemoryStore) SetQRTokenJTI(_ context.Context, id types.ID, jti string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.QRTokenJTI = &jti
	return nil
}

func (s *MemoryStore) appendEventLocked(e *Event) {
	if e == nil {
		return
	}
	s.nextEventID++
	cp := *e
	cp.ID = s.nextEventID
	s.events[e.SessionID] = append(s.events[e.SessionID], cp)
}

func (s *MemoryStore) ListEvents(_ context.Context, id types.ID) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events[id]))
	copy(out, s.events[id])
	return out, nil
}

func (s *MemoryStore) ListStale(_ context.Context, before time.Time) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Session
	for _, sess := range s.sessions {
		if sess.Status.Terminal() || !sess.CreatedAt.Before(before) {
			continue
		}
		cp := *sess
		out = append(out, &cp)
	}
	return out, nil
}

// ReassignGuestSessions satisfies the guest module's migration seam: every
// session owned by the guest identity moves to the user in one sweep.
func (s *MemoryStore) ReassignGuestSessions(_ context.Context, guestID, userID types.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	moved := 0
	for _, sess := range s.sessions {
		if sess.GuestTokenID == nil || *sess.GuestTokenID != guestID {
			continue
		}
		uid := userID
		sess.RiderUserID = &uid
		sess.GuestTokenID = nil
		moved++
	}
	return moved, nil
}
