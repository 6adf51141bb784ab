// README: In-memory guest store used by tests and DSN-less dev runs.
package guest

import (
	"context"
	"sync"
	"time"

	"ridecore/internal/types"
)

// SessionReassigner moves a guest's ride sessions to an authenticated user.
// The session module's memory store implements it; the postgres store does the
// same reassignment inside its own transaction instead.
type SessionReassigner interface {
	ReassignGuestSessions(ctx context.Context, guestID, userID types.ID) (int, error)
}

type MemoryStore struct {
	mu       sync.Mutex
	byToken  map[string]*Identity
	sessions SessionReassigner
}

// NewMemoryStore builds a memory store; sessions may be nil when no session
// store participates (migrations then report zero moved sessions).
func NewMemoryStore(sessions SessionReassigner) *MemoryStore {
	return &MemoryStore{byToken: map[string]*Identity{}, sessions: sessions}
}

func (s *MemoryStore) Create(_ context.Context, g Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := g
	s.byToken[g.Token] = &cp
	return nil
}

func (s *MemoryStore) ByToken(_ context.Context, token string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.byToken[token]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return *g, nil
}

func (s *MemoryStore) TouchLastUsed(_ context.Context, id types.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.byToken {
		if g.ID == id {
			t := at
			g.LastUsedAt = &t
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) Claim(ctx context.Context, id, userID types.ID, at time.Time) (int, error) {
	s.mu.Lock()
	var target *Identity
	for _, g := range s.byToken {
		if g.ID == id {
			target = g
			break
		}
	}
	if target == nil {
		s.mu.Unlock()
		return 0, ErrNotFound
	}
	if target.ClaimedBy != nil {
		s.mu.Unlock()
		return 0, ErrClaimed
	}
	uid := userID
	ts := at
	target.ClaimedBy = &uid
	target.ClaimedAt = &ts
	s.mu.Unlock()

	if s.sessions == nil {
		return 0, nil
	}
	return s.sessions.ReassignGuestSessions(ctx, id, userID)
}
