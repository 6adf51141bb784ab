// README: Ride session store interface and the PostgreSQL implementation.
package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridecore/internal/types"
)

var ErrNotFound = errors.New("ride session not found")

// Patch carries the columns a transition pins alongside the status change.
// Nil fields are left untouched.
type Patch struct {
	SelectedOfferID  *types.ID
	SelectedDriverID *types.ID
	FinalAmount      *float64
	CancelReason     *string
}

// eventMetadata renders the pinned fields as the audit event's metadata.
func (p Patch) eventMetadata() map[string]any {
	var m map[string]any
	set := func(k string, v any) {
		if m == nil {
			m = map[string]any{}
		}
		m[k] = v
	}
	if p.SelectedOfferID != nil {
		set("selected_offer_id", string(*p.SelectedOfferID))
	}
	if p.SelectedDriverID != nil {
		set("selected_driver_id", string(*p.SelectedDriverID))
	}
	if p.FinalAmount != nil {
		set("final_amount", *p.FinalAmount)
	}
	if p.CancelReason != nil {
		set("reason", *p.CancelReason)
	}
	return m
}

type Store interface {
	// Create persists the session and its creation event together.
	Create(ctx context.Context, s *Session, e *Event) error
	Get(ctx context.Context, id types.ID) (*Session, error)
	// UpdateStatus performs the conditional transition and, when it wins,
	// appends the audit event in the same unit of work. It reports false when
	// the row no longer matches (from, version), which callers surface as a
	// conflict.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, patch Patch, e *Event) (bool, error)
	SetQRTokenJTI(ctx context.Context, id types.ID, jti string) error
	ListEvents(ctx context.Context, id types.ID) ([]Event, error)
	// ListStale returns non-terminal sessions created before the cutoff.
	ListStale(ctx context.Context, before time.Time) ([]*Session, error)
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, sess *Session, e *Event) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
        INSERT INTO ride_sessions (
            id, rider_user_id, guest_token_id,
            origin_lat, origin_lng, origin_label,
            destination_lat, destination_lng, destination_label,
            fare_amount, fare_method, request_mode, target_driver_id,
            status, status_version, created_at
        ) VALUES (
            $1, $2, $3,
            $4, $5, $6,
            $7, $8, $9,
            $10, $11, $12, $13,
            $14, $15, $16
        )`,
		string(sess.ID),
		toStringPtr(sess.RiderUserID),
		toStringPtr(sess.GuestTokenID),
		sess.Origin.Lat, sess.Origin.Lng, sess.Origin.Label,
		sess.Destination.Lat, sess.Destination.Lng, sess.Destination.Label,
		sess.FareAmount,
		sess.FareMethod,
		sess.RequestMode,
		toStringPtr(sess.TargetDriverID),
		string(sess.Status),
		sess.StatusVersion,
		sess.CreatedAt,
	)
	if err != nil {
		return err
	}
	if err := insertEvent(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const sessionColumns = `
        id, rider_user_id, guest_token_id,
        origin_lat, origin_lng, origin_label,
        destination_lat, destination_lng, destination_label,
        fare_amount, fare_method, request_mode, target_driver_id, status, status_version,
        selected_driver_id, selected_offer_id, final_amount,
        qr_token_jti, cancel_reason,
        created_at, discovery_at, hold_at, confirmed_at, started_at, completed_at, canceled_at, expired_at`

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Session, error) {
	row := s.db.QueryRow(ctx, `SELECT`+sessionColumns+` FROM ride_sessions WHERE id = $1`, string(id))
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var riderID, guestID, targetID, driverID, offerID, jti, reason sql.NullString
	var finalAmount sql.NullFloat64
	var discoveryAt, holdAt, confirmedAt, startedAt, completedAt, canceledAt, expiredAt sql.NullTime

	err := row.Scan(
		&sess.ID, &riderID, &guestID,
		&sess.Origin.Lat, &sess.Origin.Lng, &sess.Origin.Label,
		&sess.Destination.Lat, &sess.Destination.Lng, &sess.Destination.Label,
		&sess.FareAmount, &sess.FareMethod, &sess.RequestMode, &targetID, &sess.Status, &sess.StatusVersion,
		&driverID, &offerID, &finalAmount,
		&jti, &reason,
		&sess.CreatedAt, &discoveryAt, &holdAt, &confirmedAt, &startedAt, &completedAt, &canceledAt, &expiredAt,
	)
	if err != nil {
		return nil, err
	}

	sess.RiderUserID = toIDPtr(riderID)
	sess.GuestTokenID = toIDPtr(guestID)
	sess.TargetDriverID = toIDPtr(targetID)
	sess.SelectedDriverID = toIDPtr(driverID)
	sess.SelectedOfferID = toIDPtr(offerID)
	if finalAmount.Valid {
		v := finalAmount.Float64
		sess.FinalAmount = &v
	}
	if jti.Valid {
		sess.QRTokenJTI = &jti.String
	}
	if reason.Valid {
		sess.CancelReason = &reason.String
	}
	sess.DiscoveryAt = toTimePtr(discoveryAt)
	sess.HoldAt = toTimePtr(holdAt)
	sess.ConfirmedAt = toTimePtr(confirmedAt)
	sess.StartedAt = toTimePtr(startedAt)
	sess.CompletedAt = toTimePtr(completedAt)
	sess.CanceledAt = toTimePtr(canceledAt)
	sess.ExpiredAt = toTimePtr(expiredAt)
	return &sess, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, patch Patch, e *Event) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
        UPDATE ride_sessions
        SET status = $1,
            status_version = status_version + 1,
            selected_offer_id = COALESCE($2, selected_offer_id),
            selected_driver_id = COALESCE($3, selected_driver_id),
            final_amount = COALESCE($4, final_amount),
            cancel_reason = COALESCE($5, cancel_reason),
            discovery_at = CASE WHEN $1 = 'discovery' THEN NOW() ELSE discovery_at END,
            hold_at = CASE WHEN $1 = 'hold' THEN NOW() ELSE hold_at END,
            confirmed_at = CASE WHEN $1 = 'confirmed' THEN NOW() ELSE confirmed_at END,
            started_at = CASE WHEN $1 = 'active' THEN NOW() ELSE started_at END,
            completed_at = CASE WHEN $1 = 'completed' THEN NOW() ELSE completed_at END,
            canceled_at = CASE WHEN $1 = 'canceled' THEN NOW() ELSE canceled_at END,
            expired_at = CASE WHEN $1 = 'expired' THEN NOW() ELSE expired_at END
        WHERE id = $6 AND status = $7 AND status_version = $8`,
		string(to),
		toStringPtr(patch.SelectedOfferID),
		toStringPtr(patch.SelectedDriverID),
		patch.FinalAmount,
		patch.CancelReason,
		string(id),
		string(from),
		version,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if err := insertEvent(ctx, tx, e); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func (s *PostgresStore) SetQRTokenJTI(ctx context.Context, id types.ID, jti string) error {
	tag, err := s.db.Exec(ctx, `UPDATE ride_sessions SET qr_token_jti = $1 WHERE id = $2`, jti, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, e *Event) error {
	if e == nil {
		return nil
	}
	_, err := tx.Exec(ctx, `
        INSERT INTO ride_events (
            ride_session_id, from_status, to_status, actor_type, actor_id, metadata, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.SessionID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListEvents(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, ride_session_id, from_status, to_status, actor_type, actor_id, metadata, created_at
        FROM ride_events
        WHERE ride_session_id = $1
        ORDER BY id`, string(id),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = toIDPtr(actorID)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListStale(ctx context.Context, before time.Time) ([]*Session, error) {
	rows, err := s.db.Query(ctx, `
        SELECT`+sessionColumns+`
        FROM ride_sessions
        WHERE status IN ('created','discovery','hold','confirmed','active')
          AND created_at < $1`, before,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v sql.NullString) *types.ID {
	if !v.Valid {
		return nil
	}
	id := types.ID(v.String)
	return &id
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
