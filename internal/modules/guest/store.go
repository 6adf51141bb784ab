// README: Guest identity store interface and PostgreSQL implementation.
package guest

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/types"
)

// Store persists guest identities. Claim must be atomic: the conditional
// claim update and the session reassignment either both happen or neither does,
// and a token can only ever be claimed once.
type Store interface {
	Create(ctx context.Context, g Identity) error
	ByToken(ctx context.Context, token string) (Identity, error)
	TouchLastUsed(ctx context.Context, id types.ID, at time.Time) error
	// Claim consumes the token for userID and reassigns the guest's ride
	// sessions, returning how many sessions moved. ErrClaimed when the token
	// was already consumed.
	Claim(ctx context.Context, id, userID types.ID, at time.Time) (int, error)
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, g Identity) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO guest_tokens (id, token, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)`,
		string(g.ID), g.Token, g.IssuedAt, g.ExpiresAt,
	)
	return err
}

func (s *PostgresStore) ByToken(ctx context.Context, token string) (Identity, error) {
	var g Identity
	var lastUsed, claimedAt *time.Time
	var claimedBy *string
	err := s.db.QueryRow(ctx, `
		SELECT id, token, issued_at, expires_at, last_used_at, claimed_by_user_id, claimed_at
		FROM guest_tokens
		WHERE token = $1`, token,
	).Scan(&g.ID, &g.Token, &g.IssuedAt, &g.ExpiresAt, &lastUsed, &claimedBy, &claimedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, err
	}
	g.LastUsedAt = lastUsed
	g.ClaimedAt = claimedAt
	if claimedBy != nil {
		id := types.ID(*claimedBy)
		g.ClaimedBy = &id
	}
	return g, nil
}

func (s *PostgresStore) TouchLastUsed(ctx context.Context, id types.ID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE guest_tokens SET last_used_at = $2 WHERE id = $1`, string(id), at)
	return err
}

func (s *PostgresStore) Claim(ctx context.Context, id, userID types.ID, at time.Time) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// Conditional claim: only one caller can ever flip claimed_by_user_id.
	tag, err := tx.Exec(ctx, `
		UPDATE guest_tokens
		SET claimed_by_user_id = $2, claimed_at = $3
		WHERE id = $1 AND claimed_by_user_id IS NULL`,
		string(id), string(userID), at,
	)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrClaimed
	}

	moved, err := tx.Exec(ctx, `
		UPDATE ride_sessions
		SET rider_user_id = $2, guest_token_id = NULL
		WHERE guest_token_id = $1`,
		string(id), string(userID),
	)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(moved.RowsAffected()), nil
}
