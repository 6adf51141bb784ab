// README: Ride session lifecycle service (create, transitions, audit events).
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ridecore/internal/metrics"
	"ridecore/internal/notify"
	"ridecore/internal/types"
)

var (
	// ErrInvalidState means the requested transition is not in the flow at all.
	ErrInvalidState = errors.New("invalid session state transition")
	// ErrConflict means the transition was legal but another writer got there
	// first; reading back the session shows the winning state.
	ErrConflict   = errors.New("session state conflict")
	ErrBadRequest = errors.New("invalid session request")
	// ErrTokenMismatch means the presented verification token is not the one
	// currently attached to the session (a re-issue superseded it).
	ErrTokenMismatch = errors.New("verification token does not match the session")
)

const (
	ActorRider  = "rider"
	ActorDriver = "driver"
	ActorSystem = "system"
)

// Actor identifies who drove a transition, for the audit log.
type Actor struct {
	Type string
	ID   *types.ID
}

// OfferCloser rejects a session's pending offers when the rider cancels.
// The discovery module implements it; a nil closer skips the step.
type OfferCloser interface {
	RejectPending(ctx context.Context, sessionID types.ID) ([]types.ID, error)
}

type Service struct {
	store    Store
	notifier notify.Notifier
	offers   OfferCloser
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store Store, notifier notify.Notifier, log *slog.Logger) *Service {
	return &Service{store: store, notifier: notifier, log: log, now: time.Now}
}

// SetOfferCloser wires the discovery module in after construction; the two
// services reference each other.
func (s *Service) SetOfferCloser(c OfferCloser) { s.offers = c }

type CreateInput struct {
	RiderUserID  *types.ID
	GuestTokenID *types.ID
	Origin       types.Location
	Destination  types.Location
	FareAmount   float64
	FareMethod   string
	// RequestMode defaults to broadcast. Direct mode requires TargetDriverID.
	RequestMode    string
	TargetDriverID *types.ID
}

// Create validates and persists a new session in status created. Exactly one
// of RiderUserID and GuestTokenID must be set.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Session, error) {
	if (in.RiderUserID == nil) == (in.GuestTokenID == nil) {
		return nil, fmt.Errorf("%w: exactly one of rider user and guest token", ErrBadRequest)
	}
	if !in.Origin.Valid() || !in.Destination.Valid() {
		return nil, fmt.Errorf("%w: origin and destination coordinates", ErrBadRequest)
	}
	if in.FareAmount <= 0 {
		return nil, fmt.Errorf("%w: fare amount must be positive", ErrBadRequest)
	}
	mode := in.RequestMode
	switch mode {
	case "":
		mode = ModeBroadcast
	case ModeBroadcast:
	case ModeDirect:
		if in.TargetDriverID == nil {
			return nil, fmt.Errorf("%w: direct mode requires a target driver", ErrBadRequest)
		}
	default:
		return nil, fmt.Errorf("%w: unknown request mode %q", ErrBadRequest, in.RequestMode)
	}

	sess := &Session{
		ID:             types.ID(uuid.NewString()),
		RiderUserID:    in.RiderUserID,
		GuestTokenID:   in.GuestTokenID,
		Origin:         in.Origin,
		Destination:    in.Destination,
		FareAmount:     in.FareAmount,
		FareMethod:     in.FareMethod,
		RequestMode:    mode,
		TargetDriverID: in.TargetDriverID,
		Status:         StatusCreated,
		StatusVersion:  1,
		CreatedAt:      s.now().UTC(),
	}
	e := s.newEvent(sess.ID, StatusNone, StatusCreated, Actor{Type: ActorRider, ID: in.RiderUserID}, nil)
	if err := s.store.Create(ctx, sess, e); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.log.Info("ride session created", "session_id", sess.ID, "fare", sess.FareAmount)
	return sess, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Session, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Events(ctx context.Context, id types.ID) ([]Event, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id)
}

// BeginDiscovery moves created -> discovery when the rider requests drivers.
func (s *Service) BeginDiscovery(ctx context.Context, id types.ID, actor Actor) (*Session, error) {
	sess, _, err := s.transition(ctx, id, StatusDiscovery, actor, Patch{})
	return sess, err
}

// Hold pins the selected offer and moves discovery -> hold. The conditional
// update is what guarantees a single winner under concurrent selection.
func (s *Service) Hold(ctx context.Context, id, offerID, driverID types.ID, amount float64) (*Session, error) {
	patch := Patch{
		SelectedOfferID:  &offerID,
		SelectedDriverID: &driverID,
		FinalAmount:      &amount,
	}
	sess, _, err := s.transition(ctx, id, StatusHold, Actor{Type: ActorRider}, patch)
	return sess, err
}

// AttachVerification records the jti of the issued verification token.
func (s *Service) AttachVerification(ctx context.Context, id types.ID, jti string) error {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != StatusHold {
		return fmt.Errorf("%w: verification is issued on hold, not %s", ErrInvalidState, sess.Status)
	}
	return s.store.SetQRTokenJTI(ctx, id, jti)
}

// Confirm moves hold -> confirmed after a successful verification. For a QR
// scan, jti is the token's id and must match the one attached to the session,
// so a superseded token stops confirming after a re-issue. The manual-code
// path passes an empty jti; the code itself is derived from the session id.
func (s *Service) Confirm(ctx context.Context, id types.ID, jti string, actor Actor) (*Session, error) {
	if jti != "" {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.QRTokenJTI == nil || *cur.QRTokenJTI != jti {
			return nil, ErrTokenMismatch
		}
	}
	sess, _, err := s.transition(ctx, id, StatusConfirmed, actor, Patch{})
	if err != nil {
		return nil, err
	}
	s.notifyAsync(notify.Message{Kind: notify.KindRideConfirmed, RideSessionID: id, DriverID: derefID(sess.SelectedDriverID)})
	return sess, nil
}

func (s *Service) Start(ctx context.Context, id types.ID, actor Actor) (*Session, error) {
	sess, _, err := s.transition(ctx, id, StatusActive, actor, Patch{})
	return sess, err
}

func (s *Service) Complete(ctx context.Context, id types.ID, actor Actor) (*Session, error) {
	sess, _, err := s.transition(ctx, id, StatusCompleted, actor, Patch{})
	if err != nil {
		return nil, err
	}
	s.notifyAsync(notify.Message{Kind: notify.KindRideCompleted, RideSessionID: id, DriverID: derefID(sess.SelectedDriverID)})
	return sess, nil
}

// Cancel moves the session to canceled, rejects any pending offers, and
// notifies the affected drivers. Allowed only before a driver is confirmed.
// The returned Status is the state the session was canceled from.
func (s *Service) Cancel(ctx context.Context, id types.ID, reason string, actor Actor) (*Session, Status, error) {
	patch := Patch{}
	if reason != "" {
		patch.CancelReason = &reason
	}
	sess, prev, err := s.transition(ctx, id, StatusCanceled, actor, patch)
	if err != nil {
		return nil, StatusNone, err
	}

	if s.offers != nil {
		drivers, err := s.offers.RejectPending(ctx, id)
		if err != nil {
			s.log.Warn("rejecting pending offers failed", "session_id", id, "err", err)
		}
		for _, d := range drivers {
			s.notifyAsync(notify.Message{Kind: notify.KindRideCanceled, RideSessionID: id, DriverID: d})
		}
	}
	// A driver selected before the cancel holds an accepted offer, not a
	// pending one, so the reject sweep above never reaches them.
	if sess.SelectedDriverID != nil {
		s.notifyAsync(notify.Message{Kind: notify.KindRideCanceled, RideSessionID: id, DriverID: *sess.SelectedDriverID})
	}
	return sess, prev, nil
}

// ExpireStale reaps non-terminal sessions older than the cutoff. It is a
// maintenance hook for a periodic caller, not a background loop of its own.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.store.ListStale(ctx, s.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, sess := range stale {
		e := s.newEvent(sess.ID, sess.Status, StatusExpired, Actor{Type: ActorSystem}, nil)
		ok, err := s.store.UpdateStatus(ctx, sess.ID, sess.Status, StatusExpired, sess.StatusVersion, Patch{}, e)
		if err != nil {
			return expired, err
		}
		if !ok {
			continue // raced with a live transition, leave it be
		}
		metrics.SessionTransitions.WithLabelValues(string(StatusExpired), "ok").Inc()
		expired++
	}
	return expired, nil
}

// transition performs the conditional status update. The store writes the
// status change and the audit event as one unit, so a committed transition is
// never missing its event row. Returns the refreshed session and the status
// the transition left behind.
func (s *Service) transition(ctx context.Context, id types.ID, to Status, actor Actor, patch Patch) (*Session, Status, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, StatusNone, err
	}
	if !CanTransition(sess.Status, to) {
		metrics.SessionTransitions.WithLabelValues(string(to), "invalid").Inc()
		return nil, StatusNone, fmt.Errorf("%w: %s -> %s", ErrInvalidState, sess.Status, to)
	}

	e := s.newEvent(id, sess.Status, to, actor, patch.eventMetadata())
	ok, err := s.store.UpdateStatus(ctx, id, sess.Status, to, sess.StatusVersion, patch, e)
	if err != nil {
		return nil, StatusNone, fmt.Errorf("update session status: %w", err)
	}
	if !ok {
		metrics.SessionTransitions.WithLabelValues(string(to), "conflict").Inc()
		return nil, StatusNone, ErrConflict
	}
	metrics.SessionTransitions.WithLabelValues(string(to), "ok").Inc()
	s.log.Info("ride session transition", "session_id", id, "from", sess.Status, "to", to, "actor", actor.Type)

	updated, err := s.store.Get(ctx, id)
	return updated, sess.Status, err
}

func (s *Service) newEvent(id types.ID, from, to Status, actor Actor, meta map[string]any) *Event {
	return &Event{
		SessionID:  id,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  actor.Type,
		ActorID:    actor.ID,
		Metadata:   meta,
		CreatedAt:  s.now().UTC(),
	}
}

func (s *Service) notifyAsync(m notify.Message) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.Notify(ctx, m); err != nil {
			s.log.Warn("notify failed", "kind", m.Kind, "err", err)
		}
	}()
}

func derefID(id *types.ID) types.ID {
	if id == nil {
		return ""
	}
	return *id
}
