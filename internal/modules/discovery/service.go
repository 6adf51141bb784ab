// README: Discovery service: waves, driver notification, offers, winner selection.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"ridecore/internal/config"
	"ridecore/internal/metrics"
	"ridecore/internal/modules/session"
	"ridecore/internal/notify"
	"ridecore/internal/types"
)

var (
	// ErrNotOpen means the session is not in a state that accepts discovery
	// rounds or offers.
	ErrNotOpen = errors.New("session is not accepting offers")
	// ErrOfferNotPending means the offer was already resolved.
	ErrOfferNotPending = errors.New("offer is no longer pending")
	ErrOfferExpired    = errors.New("offer expired")
	ErrDuplicateOffer  = errors.New("driver already has a pending offer")
	ErrBadRequest      = errors.New("invalid offer request")
)

// Sessions is the slice of the session service discovery drives.
type Sessions interface {
	Get(ctx context.Context, id types.ID) (*session.Session, error)
	BeginDiscovery(ctx context.Context, id types.ID, actor session.Actor) (*session.Session, error)
	Hold(ctx context.Context, id, offerID, driverID types.ID, amount float64) (*session.Session, error)
}

type Service struct {
	offers   Store
	pool     Pool
	sessions Sessions
	notifier notify.Notifier
	cfg      config.DiscoveryConfig
	log      *slog.Logger
	now      func() time.Time
}

func NewService(offers Store, pool Pool, sessions Sessions, notifier notify.Notifier, cfg config.DiscoveryConfig, log *slog.Logger) *Service {
	return &Service{
		offers:   offers,
		pool:     pool,
		sessions: sessions,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

type StartInput struct {
	Wave int
	// DirectDriverID switches to direct mode: only this driver is pinged.
	DirectDriverID *types.ID
}

// StartDiscovery runs one discovery round. Wave 0 targets the rider's
// favorite drivers near the origin; later waves widen the geo radius by a
// fixed step. Notification is fire and forget; the result only counts drivers
// reached for the first time on this session.
func (s *Service) StartDiscovery(ctx context.Context, sessionID types.ID, in StartInput) (WaveResult, error) {
	if in.Wave < 0 {
		return WaveResult{}, fmt.Errorf("%w: wave must not be negative", ErrBadRequest)
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return WaveResult{}, err
	}
	switch sess.Status {
	case session.StatusCreated:
		if sess, err = s.sessions.BeginDiscovery(ctx, sessionID, session.Actor{Type: session.ActorRider, ID: sess.RiderUserID}); err != nil {
			return WaveResult{}, err
		}
	case session.StatusDiscovery:
		// another round on an open session
	default:
		return WaveResult{}, fmt.Errorf("%w: status %s", ErrNotOpen, sess.Status)
	}

	candidates, radius, err := s.candidates(ctx, sess, in)
	if err != nil {
		return WaveResult{}, fmt.Errorf("collect candidates: %w", err)
	}

	fresh, err := s.pool.MarkNotified(ctx, sessionID, candidates)
	if err != nil {
		return WaveResult{}, fmt.Errorf("mark notified: %w", err)
	}
	for _, d := range fresh {
		s.notifyAsync(notify.Message{
			Kind:          notify.KindRideRequested,
			RideSessionID: sessionID,
			DriverID:      d,
			Payload: map[string]any{
				"origin":      sess.Origin.Label,
				"destination": sess.Destination.Label,
				"fare":        sess.FareAmount,
			},
		})
	}

	metrics.DriversNotified.WithLabelValues(strconv.Itoa(in.Wave)).Observe(float64(len(fresh)))
	s.log.Info("discovery wave", "session_id", sessionID, "wave", in.Wave, "radius_km", radius, "notified", len(fresh))
	return WaveResult{Wave: in.Wave, RadiusKm: radius, Notified: len(fresh)}, nil
}

func (s *Service) candidates(ctx context.Context, sess *session.Session, in StartInput) ([]types.ID, float64, error) {
	if in.DirectDriverID != nil {
		if *in.DirectDriverID == "" {
			return nil, 0, fmt.Errorf("%w: direct driver id is empty", ErrBadRequest)
		}
		return []types.ID{*in.DirectDriverID}, 0, nil
	}
	// Direct-mode sessions always target the driver picked at creation.
	if sess.RequestMode == session.ModeDirect && sess.TargetDriverID != nil {
		return []types.ID{*sess.TargetDriverID}, 0, nil
	}

	// Favorites-only wave, for riders that have any.
	if in.Wave == 0 && s.cfg.FavoritesFirst && sess.RiderUserID != nil {
		favs, err := s.pool.Favorites(ctx, *sess.RiderUserID)
		if err != nil {
			return nil, 0, err
		}
		if len(favs) > 0 {
			nearby, err := s.pool.Nearby(ctx, sess.Origin.Point, s.cfg.BaseRadiusKm)
			if err != nil {
				return nil, 0, err
			}
			available := map[types.ID]bool{}
			for _, d := range nearby {
				available[d] = true
			}
			var out []types.ID
			for _, d := range favs {
				if available[d] {
					out = append(out, d)
				}
			}
			return out, s.cfg.BaseRadiusKm, nil
		}
	}

	radius := s.cfg.BaseRadiusKm
	if in.Wave > 0 {
		radius += float64(in.Wave) * s.cfg.WaveStepKm
	}
	ids, err := s.pool.Nearby(ctx, sess.Origin.Point, radius)
	return ids, radius, err
}

type OfferInput struct {
	Type   OfferType
	Amount float64
}

// SubmitOffer records a driver's response while discovery is open. An accept
// pins the amount to the quoted fare no matter what the driver sent.
func (s *Service) SubmitOffer(ctx context.Context, sessionID, driverID types.ID, in OfferInput) (*Offer, error) {
	if driverID == "" {
		return nil, fmt.Errorf("%w: driver id is required", ErrBadRequest)
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusDiscovery {
		return nil, fmt.Errorf("%w: status %s", ErrNotOpen, sess.Status)
	}

	amount := in.Amount
	switch in.Type {
	case TypeAccept:
		amount = sess.FareAmount
	case TypeCounter:
		if amount <= 0 {
			return nil, fmt.Errorf("%w: counter amount must be positive", ErrBadRequest)
		}
	default:
		return nil, fmt.Errorf("%w: unknown offer type %q", ErrBadRequest, in.Type)
	}

	dup, err := s.offers.HasPendingByDriver(ctx, sessionID, driverID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, ErrDuplicateOffer
	}

	now := s.now().UTC()
	o := &Offer{
		ID:        types.ID(uuid.NewString()),
		SessionID: sessionID,
		DriverID:  driverID,
		Type:      in.Type,
		Amount:    amount,
		Label:     LabelFor(sess.FareAmount, amount),
		Status:    OfferPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.OfferTTL),
	}
	if err := s.offers.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	metrics.OffersSubmitted.WithLabelValues(string(o.Type), string(o.Label)).Inc()
	s.notifyAsync(notify.Message{
		Kind:          notify.KindOfferReceived,
		RideSessionID: sessionID,
		Payload:       map[string]any{"offer_id": string(o.ID), "amount": o.Amount, "label": string(o.Label)},
	})
	s.log.Info("offer submitted", "session_id", sessionID, "driver_id", driverID, "type", o.Type, "amount", o.Amount, "label", o.Label)
	return o, nil
}

// SelectOffer resolves the round: the session's conditional move to hold picks
// exactly one winner under concurrent selection, then every other pending
// offer is rejected and its driver told.
func (s *Service) SelectOffer(ctx context.Context, sessionID, offerID types.ID) (*session.Session, error) {
	o, err := s.offers.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.SessionID != sessionID {
		return nil, ErrOfferNotFound
	}
	if o.Status != OfferPending {
		return nil, ErrOfferNotPending
	}

	now := s.now().UTC()
	if !now.Before(o.ExpiresAt) {
		if _, err := s.offers.UpdateStatus(ctx, o.ID, OfferPending, OfferExpired, now); err != nil {
			s.log.Warn("marking offer expired failed", "offer_id", o.ID, "err", err)
		}
		return nil, ErrOfferExpired
	}

	sess, err := s.sessions.Hold(ctx, sessionID, o.ID, o.DriverID, o.Amount)
	if err != nil {
		return nil, err
	}

	if ok, err := s.offers.UpdateStatus(ctx, o.ID, OfferPending, OfferAccepted, now); err != nil || !ok {
		s.log.Error("accepting winning offer failed", "offer_id", o.ID, "ok", ok, "err", err)
	}
	rejected, err := s.offers.RejectPendingExcept(ctx, sessionID, o.ID, now)
	if err != nil {
		s.log.Warn("rejecting losing offers failed", "session_id", sessionID, "err", err)
	}
	for _, d := range rejected {
		s.notifyAsync(notify.Message{Kind: notify.KindOfferRejected, RideSessionID: sessionID, DriverID: d})
	}
	s.notifyAsync(notify.Message{Kind: notify.KindOfferSelected, RideSessionID: sessionID, DriverID: o.DriverID})

	s.log.Info("offer selected", "session_id", sessionID, "offer_id", o.ID, "driver_id", o.DriverID, "rejected", len(rejected))
	return sess, nil
}

func (s *Service) ListOffers(ctx context.Context, sessionID types.ID) ([]*Offer, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.offers.ListBySession(ctx, sessionID)
}

// RejectPending closes a canceled session's open offers; the session service
// calls it through its closer seam.
func (s *Service) RejectPending(ctx context.Context, sessionID types.ID) ([]types.ID, error) {
	return s.offers.RejectPendingExcept(ctx, sessionID, "", s.now().UTC())
}

// Driver pool passthroughs used by the driver-facing handlers.

func (s *Service) UpsertDriverLocation(ctx context.Context, driverID types.ID, p types.Point) error {
	if driverID == "" || !p.Valid() {
		return fmt.Errorf("%w: driver id and valid coordinates", ErrBadRequest)
	}
	return s.pool.UpsertDriver(ctx, driverID, p)
}

func (s *Service) RemoveDriver(ctx context.Context, driverID types.ID) error {
	return s.pool.RemoveDriver(ctx, driverID)
}

func (s *Service) AddFavorite(ctx context.Context, riderID, driverID types.ID) error {
	if riderID == "" || driverID == "" {
		return fmt.Errorf("%w: rider and driver ids are required", ErrBadRequest)
	}
	return s.pool.AddFavorite(ctx, riderID, driverID)
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
