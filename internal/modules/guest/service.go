// README: Guest identity issue / validate / migrate-once service.
package guest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ridecore/internal/types"
)

var (
	ErrNotFound = errors.New("guest token not found")
	ErrExpired  = errors.New("guest token expired")
	// ErrClaimed is a conflict: the token was already consumed by a sign-up.
	ErrClaimed    = errors.New("guest token already claimed")
	ErrBadRequest = errors.New("guest token and user id are required")
)

type Service struct {
	store Store
	ttl   time.Duration
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store, ttl time.Duration, log *slog.Logger) *Service {
	return &Service{store: store, ttl: ttl, log: log, now: time.Now}
}

type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Issue creates a fresh guest identity with a fixed expiry window.
func (s *Service) Issue(ctx context.Context) (Issued, error) {
	now := s.now().UTC()
	g := Identity{
		ID:        types.ID(uuid.NewString()),
		Token:     "guest_" + uuid.NewString(),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Create(ctx, g); err != nil {
		return Issued{}, fmt.Errorf("create guest token: %w", err)
	}
	s.log.Info("guest token issued", "token_id", g.ID, "expires_at", g.ExpiresAt)
	return Issued{Token: g.Token, ExpiresAt: g.ExpiresAt}, nil
}

// Validate checks the token and refreshes last_used_at. Failures are
// recoverable: the caller simply issues a new guest identity.
func (s *Service) Validate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrBadRequest
	}
	g, err := s.store.ByToken(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	now := s.now().UTC()
	if g.Expired(now) {
		return Identity{}, ErrExpired
	}
	if g.Claimed() {
		return Identity{}, ErrClaimed
	}
	// Best effort; a failed refresh must not fail validation.
	if err := s.store.TouchLastUsed(ctx, g.ID, now); err != nil {
		s.log.Warn("guest last_used_at refresh failed", "token_id", g.ID, "err", err)
	} else {
		g.LastUsedAt = &now
	}
	return g, nil
}

// Migrate reassigns every ride session created under this guest identity to
// userID and consumes the token, atomically. A second call with the same token
// reports ErrClaimed and performs no mutation, which makes sign-in retries safe.
func (s *Service) Migrate(ctx context.Context, token string, userID types.ID) (int, error) {
	if token == "" || userID == "" {
		return 0, ErrBadRequest
	}
	g, err := s.store.ByToken(ctx, token)
	if err != nil {
		return 0, err
	}
	if g.Claimed() {
		return 0, ErrClaimed
	}
	migrated, err := s.store.Claim(ctx, g.ID, userID, s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.log.Info("guest rides migrated", "token_id", g.ID, "user_id", userID, "migrated", migrated)
	return migrated, nil
}
