package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"ridecore/internal/config"
	"ridecore/internal/modules/session"
	"ridecore/internal/notify"
	"ridecore/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		BaseRadiusKm:   5,
		WaveStepKm:     5,
		OfferTTL:       10 * time.Minute,
		FavoritesFirst: true,
	}
}

type harness struct {
	disc     *Service
	sessions *session.Service
	pool     *MemoryPool
	offers   *MemoryStore
}

func newHarness() *harness {
	log := testLogger()
	sessions := session.NewService(session.NewMemoryStore(), notify.LogNotifier{Log: log}, log)
	pool := NewMemoryPool()
	offers := NewMemoryStore()
	disc := NewService(offers, pool, sessions, notify.LogNotifier{Log: log}, testConfig(), log)
	sessions.SetOfferCloser(disc)
	return &harness{disc: disc, sessions: sessions, pool: pool, offers: offers}
}

var origin = types.Point{Lat: 18.0410, Lng: -63.1087}

func (h *harness) newSession(t *testing.T, fare float64) *session.Session {
	t.Helper()
	uid := types.ID("rider-1")
	sess, err := h.sessions.Create(context.Background(), session.CreateInput{
		RiderUserID: &uid,
		Origin:      types.Location{Point: origin, Label: "Airport"},
		Destination: types.Location{Point: types.Point{Lat: 18.0255, Lng: -63.0450}, Label: "Philipsburg"},
		FareAmount:  fare,
		FareMethod:  "zone_fixed",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

// Offsets in latitude: 0.01 degrees is roughly 1.1 km.
func (h *harness) addDriver(t *testing.T, id types.ID, latOffset float64) {
	t.Helper()
	p := types.Point{Lat: origin.Lat + latOffset, Lng: origin.Lng}
	if err := h.pool.UpsertDriver(context.Background(), id, p); err != nil {
		t.Fatalf("upsert driver: %v", err)
	}
}

func TestStartDiscoveryWaves(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.addDriver(t, "fav", 0.009)   // ~1 km
	h.addDriver(t, "near", 0.027)  // ~3 km
	h.addDriver(t, "far", 0.25)    // ~28 km
	if err := h.pool.AddFavorite(ctx, "rider-1", "fav"); err != nil {
		t.Fatalf("add favorite: %v", err)
	}

	sess := h.newSession(t, 20)

	res, err := h.disc.StartDiscovery(ctx, sess.ID, StartInput{Wave: 0})
	if err != nil {
		t.Fatalf("wave 0: %v", err)
	}
	if res.Notified != 1 {
		t.Errorf("wave 0 notified = %d, want 1 (favorites only)", res.Notified)
	}

	got, err := h.sessions.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != session.StatusDiscovery {
		t.Errorf("status after wave 0 = %s, want discovery", got.Status)
	}

	// Wave 1 widens to geo search; the favorite is deduplicated.
	res, err = h.disc.StartDiscovery(ctx, sess.ID, StartInput{Wave: 1})
	if err != nil {
		t.Fatalf("wave 1: %v", err)
	}
	if res.Notified != 1 {
		t.Errorf("wave 1 notified = %d, want 1 (near driver only)", res.Notified)
	}
	if res.RadiusKm != 10 {
		t.Errorf("wave 1 radius = %v, want 10", res.RadiusKm)
	}

	res, err = h.disc.StartDiscovery(ctx, sess.ID, StartInput{Wave: 5})
	if err != nil {
		t.Fatalf("wave 5: %v", err)
	}
	if res.RadiusKm != 30 {
		t.Errorf("wave 5 radius = %v, want 30", res.RadiusKm)
	}
	if res.Notified != 1 {
		t.Errorf("wave 5 notified = %d, want 1 (far driver only)", res.Notified)
	}
}

func TestStartDiscoveryDirect(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	sess := h.newSession(t, 20)

	direct := types.ID("driver-direct")
	res, err := h.disc.StartDiscovery(ctx, sess.ID, StartInput{DirectDriverID: &direct})
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	if res.Notified != 1 {
		t.Errorf("notified = %d, want 1", res.Notified)
	}

	// A repeat direct request never re-pings the same driver.
	res, err = h.disc.StartDiscovery(ctx, sess.ID, StartInput{DirectDriverID: &direct})
	if err != nil {
		t.Fatalf("repeat direct: %v", err)
	}
	if res.Notified != 0 {
		t.Errorf("repeat notified = %d, want 0", res.Notified)
	}
}

func TestStartDiscoveryDirectModeSession(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.addDriver(t, "near", 0.009)
	uid := types.ID("rider-1")
	target := types.ID("driver-target")
	sess, err := h.sessions.Create(ctx, session.CreateInput{
		RiderUserID:    &uid,
		Origin:         types.Location{Point: origin, Label: "Airport"},
		Destination:    types.Location{Point: types.Point{Lat: 18.0255, Lng: -63.0450}, Label: "Philipsburg"},
		FareAmount:     20,
		FareMethod:     "zone_fixed",
		RequestMode:    session.ModeDirect,
		TargetDriverID: &target,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The target pinned at creation wins over the nearby pool.
	res, err := h.disc.StartDiscovery(ctx, sess.ID, StartInput{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Notified != 1 {
		t.Errorf("notified = %d, want only the pinned target", res.Notified)
	}
}

func TestStartDiscoveryClosedSession(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	sess := h.newSession(t, 20)

	if _, err := h.sessions.BeginDiscovery(ctx, sess.ID, session.Actor{Type: session.ActorRider}); err != nil {
		t.Fatalf("begin discovery: %v", err)
	}
	if _, err := h.sessions.Hold(ctx, sess.ID, "o", "d", 18); err != nil {
		t.Fatalf("hold: %v", err)
	}

	if _, err := h.disc.StartDiscovery(ctx, sess.ID, StartInput{Wave: 1}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("err = %v, want ErrNotOpen", err)
	}
}

func TestLabelFor(t *testing.T) {
	tests := []struct {
		amount float64
		want   PriceLabel
	}{
		{16.00, LabelGoodDeal}, // exactly -20%
		{15.00, LabelGoodDeal},
		{16.01, LabelNormal},
		{20.00, LabelNormal},
		{25.99, LabelNormal},
		{26.00, LabelPricier}, // exactly +30%
		{30.00, LabelPricier},
	}
	for _, tt := range tests {
		if got := LabelFor(20, tt.amount); got != tt.want {
			t.Errorf("LabelFor(20, %v) = %s, want %s", tt.amount, got, tt.want)
		}
	}
}

func TestSubmitOffer(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	sess := h.newSession(t, 20)
	if _, err := h.disc.StartDiscovery(ctx, sess.ID, StartInput{Wave: 0}); err != nil {
		t.Fatalf("start discovery: %v", err)
	}

	// An accept pins the amount to the quoted fare regardless of the request.
	o, err := h.disc.SubmitOffer(ctx, sess.ID, "driver-1", OfferInput{Type: TypeAccept, Amount: 99})
	if err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	if o.Amount != 20 || o.Label != LabelNormal {
		t.Errorf("accept offer = %v %s, want 20 normal", o.Amount, o.Label)
	}

	counter, err := h.disc.SubmitOffer(ctx, sess.ID, "driver-2", OfferInput{Type: TypeCounter, Amount: 15})
	if err != nil {
		t.Fatalf("counter offer: %v", err)
	}
	if counter.Label != LabelGoodDeal {
		t.Errorf("counter label = %s, want good_deal", counter.Label)
	}

	if _, err := h.disc.SubmitOffer(ctx, sess.ID, "driver-1", OfferInput{Type: TypeAccept}); !errors.Is(err, ErrDuplicateOffer) {
		t.Errorf("duplicate err = %v, want ErrDuplicateOffer", err)
	}
	if _, err := h.disc.SubmitOffer(ctx, sess.ID, "driver-3", OfferInput{Type: TypeCounter, Amount: 0}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("zero counter err = %v, want ErrBadRequest", err)
	}
	if _, err := h.disc.SubmitOffer(ctx, sess.ID, "driver-3", OfferInput{Type: "haggle", Amount: 5}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("bad type err = %v, want ErrBadRequest", err)
	}

	offers, err := h.disc.ListOffers(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list offers: %v", err)
	}
	if len(offers) != 2 {
		t.Errorf("offer count = %d, want 2", len(offers))
	}
}

func TestSubmitOfferBeforeDiscovery(t *testing.T) {
	h := newHarness()
	sess := h.newSession(t, 20)
	if _, err := h.disc.SubmitOffer(context.Background(), sess.ID, "driver-1", OfferInput{Type: TypeAccept}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("err = %v, want ErrNotOpen", err)
	}
}

func TestSelectOffer(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	sess := h.newSession(t, 20)
	if _, err := h.disc.StartDiscovery(ctx, sess.ID, StartInput{Wave: 0}); err != nil {
		t.Fatalf("start discovery: %v", err)
	}

	winner, err := h.disc.SubmitOffer(ctx, sess.ID, "driver-1", OfferInput{Type: TypeCounter, Amount: 18})
	if err != nil {
		t.Fatalf("offer 1: %v", err)
	}
	loser, err := h.disc.SubmitOffer(ctx, sess.ID, "driver-2", OfferInput{Type: TypeAccept})
	if err != nil {
		t.Fatalf("offer 2: %v", err)
	}

	held, err := h.disc.SelectOffer(ctx, sess.ID, winner.ID)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if held.Status != session.StatusHold {
		t.Errorf("status = %s, want hold", held.Status)
	}
	if held.SelectedDriverID == nil || *held.SelectedDriverID != "driver-1" {
		t.Errorf("selected driver = %v", held.SelectedDriverID)
	}
	if held.FinalAmount == nil || *held.FinalAmount != 18 {
		t.Errorf("final amount = %v", held.FinalAmount)
	}

	gotWinner, _ := h.offers.Get(ctx, winner.ID)
	if gotWinner.Status != OfferAccepted {
		t.Errorf("winner status = %s, want accepted", gotWinner.Status)
	}
	gotLoser, _ := h.offers.Get(ctx, loser.ID)
	if gotLoser.Status != OfferRejected {
		t.Errorf("loser status = %s, want rejected", gotLoser.Status)
	}

	if _, err := h.disc.SelectOffer(ctx, sess.ID, loser.ID); !errors.Is(err, ErrOfferNotPending) {
		t.Errorf("second select err = %v, want ErrOfferNotPending", err)
	}
}

func TestSelectExpiredOffer(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	sess := h.newSession(t, 20)
	if _, err := h.disc.StartDiscovery(ctx, sess.ID, StartInput{Wave: 0}); err != nil {
		t.Fatalf("start discovery: %v", err)
	}
	o, err := h.disc.SubmitOffer(ctx, sess.ID, "driver-1", OfferInput{Type: TypeAccept})
	if err != nil {
		t.Fatalf("offer: %v", err)
	}

	h.disc.now = func() time.Time { return o.ExpiresAt.Add(time.Second) }
	if _, err := h.disc.SelectOffer(ctx, sess.ID, o.ID); !errors.Is(err, ErrOfferExpired) {
		t.Errorf("err = %v, want ErrOfferExpired", err)
	}
	got, _ := h.offers.Get(ctx, o.ID)
	if got.Status != OfferExpired {
		t.Errorf("offer status = %s, want expired", got.Status)
	}
}

func TestCancelRejectsOffersThroughCloser(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	sess := h.newSession(t, 20)
	if _, err := h.disc.StartDiscovery(ctx, sess.ID, StartInput{Wave: 0}); err != nil {
		t.Fatalf("start discovery: %v", err)
	}
	o, err := h.disc.SubmitOffer(ctx, sess.ID, "driver-1", OfferInput{Type: TypeAccept})
	if err != nil {
		t.Fatalf("offer: %v", err)
	}

	if _, _, err := h.sessions.Cancel(ctx, sess.ID, "rider left", session.Actor{Type: session.ActorRider}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := h.offers.Get(ctx, o.ID)
	if got.Status != OfferRejected {
		t.Errorf("offer status after cancel = %s, want rejected", got.Status)
	}
}
