// README: Offer store interface and the PostgreSQL implementation.
package discovery

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/types"
)

var ErrOfferNotFound = errors.New("offer not found")

type Store interface {
	Create(ctx context.Context, o *Offer) error
	Get(ctx context.Context, id types.ID) (*Offer, error)
	ListBySession(ctx context.Context, sessionID types.ID) ([]*Offer, error)
	HasPendingByDriver(ctx context.Context, sessionID, driverID types.ID) (bool, error)
	// UpdateStatus performs a conditional status change and reports whether the
	// row matched.
	UpdateStatus(ctx context.Context, id types.ID, from, to OfferStatus, at time.Time) (bool, error)
	// RejectPendingExcept rejects every pending offer on the session except the
	// given one (pass an empty id to reject all) and returns the driver ids of
	// the offers it closed.
	RejectPendingExcept(ctx context.Context, sessionID, except types.ID, at time.Time) ([]types.ID, error)
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, o *Offer) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO ride_offers (
            id, ride_session_id, driver_id, offer_type, amount, price_label,
            status, created_at, expires_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(o.ID),
		string(o.SessionID),
		string(o.DriverID),
		string(o.Type),
		o.Amount,
		string(o.Label),
		string(o.Status),
		o.CreatedAt,
		o.ExpiresAt,
	)
	return err
}

const offerColumns = `
        id, ride_session_id, driver_id, offer_type, amount, price_label,
        status, created_at, expires_at, responded_at`

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Offer, error) {
	row := s.db.QueryRow(ctx, `SELECT`+offerColumns+` FROM ride_offers WHERE id = $1`, string(id))
	o, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOfferNotFound
	}
	return o, err
}

func scanOffer(row interface{ Scan(dest ...any) error }) (*Offer, error) {
	var o Offer
	var respondedAt sql.NullTime
	err := row.Scan(
		&o.ID, &o.SessionID, &o.DriverID, &o.Type, &o.Amount, &o.Label,
		&o.Status, &o.CreatedAt, &o.ExpiresAt, &respondedAt,
	)
	if err != nil {
		return nil, err
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		o.RespondedAt = &t
	}
	return &o, nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID types.ID) ([]*Offer, error) {
	rows, err := s.db.Query(ctx, `
        SELECT`+offerColumns+`
        FROM ride_offers
        WHERE ride_session_id = $1
        ORDER BY created_at, id`, string(sessionID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) HasPendingByDriver(ctx context.Context, sessionID, driverID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM ride_offers
            WHERE ride_session_id = $1 AND driver_id = $2 AND status = 'pending'
        )`, string(sessionID), string(driverID),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id types.ID, from, to OfferStatus, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE ride_offers
        SET status = $1, responded_at = $2
        WHERE id = $3 AND status = $4`,
		string(to), at, string(id), string(from),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RejectPendingExcept(ctx context.Context, sessionID, except types.ID, at time.Time) ([]types.ID, error) {
	rows, err := s.db.Query(ctx, `
        UPDATE ride_offers
        SET status = 'rejected', responded_at = $1
        WHERE ride_session_id = $2 AND status = 'pending' AND id <> $3
        RETURNING driver_id`,
		at, string(sessionID), string(except),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drivers []types.ID
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		drivers = append(drivers, types.ID(d))
	}
	return drivers, rows.Err()
}
