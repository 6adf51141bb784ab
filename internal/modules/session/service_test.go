package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ridecore/internal/notify"
	"ridecore/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	svc := NewService(store, notify.LogNotifier{Log: testLogger()}, testLogger())
	return svc, store
}

func riderInput() CreateInput {
	uid := types.ID("user-1")
	return CreateInput{
		RiderUserID: &uid,
		Origin:      types.Location{Point: types.Point{Lat: 18.0410, Lng: -63.1087}, Label: "Airport"},
		Destination: types.Location{Point: types.Point{Lat: 18.0255, Lng: -63.0450}, Label: "Philipsburg"},
		FareAmount:  22.50,
		FareMethod:  "zone_fixed",
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService()
	gid := types.ID("guest-1")

	tests := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"no owner", func(in *CreateInput) { in.RiderUserID = nil }},
		{"both owners", func(in *CreateInput) { in.GuestTokenID = &gid }},
		{"bad origin", func(in *CreateInput) { in.Origin.Lat = 91 }},
		{"bad destination", func(in *CreateInput) { in.Destination.Lng = -181 }},
		{"zero fare", func(in *CreateInput) { in.FareAmount = 0 }},
		{"negative fare", func(in *CreateInput) { in.FareAmount = -3 }},
		{"direct without target", func(in *CreateInput) { in.RequestMode = ModeDirect }},
		{"unknown mode", func(in *CreateInput) { in.RequestMode = "shout" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := riderInput()
			tt.mutate(&in)
			if _, err := svc.Create(context.Background(), in); !errors.Is(err, ErrBadRequest) {
				t.Errorf("err = %v, want ErrBadRequest", err)
			}
		})
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	sess, err := svc.Create(ctx, riderInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.Status != StatusCreated || sess.StatusVersion != 1 {
		t.Fatalf("fresh session = %s v%d", sess.Status, sess.StatusVersion)
	}
	if sess.RequestMode != ModeBroadcast {
		t.Fatalf("default request mode = %q", sess.RequestMode)
	}

	if sess, err = svc.BeginDiscovery(ctx, sess.ID, Actor{Type: ActorRider}); err != nil {
		t.Fatalf("begin discovery: %v", err)
	}
	if sess, err = svc.Hold(ctx, sess.ID, "offer-1", "driver-1", 20.00); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if sess.SelectedOfferID == nil || *sess.SelectedOfferID != "offer-1" {
		t.Errorf("selected offer = %v", sess.SelectedOfferID)
	}
	if sess.SelectedDriverID == nil || *sess.SelectedDriverID != "driver-1" {
		t.Errorf("selected driver = %v", sess.SelectedDriverID)
	}
	if sess.FinalAmount == nil || *sess.FinalAmount != 20.00 {
		t.Errorf("final amount = %v", sess.FinalAmount)
	}

	if err = svc.AttachVerification(ctx, sess.ID, "jti-1"); err != nil {
		t.Fatalf("attach verification: %v", err)
	}
	if sess, err = svc.Confirm(ctx, sess.ID, "jti-1", Actor{Type: ActorDriver}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if sess, err = svc.Start(ctx, sess.ID, Actor{Type: ActorDriver}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess, err = svc.Complete(ctx, sess.ID, Actor{Type: ActorDriver}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if sess.Status != StatusCompleted {
		t.Fatalf("final status = %s", sess.Status)
	}
	if sess.QRTokenJTI == nil || *sess.QRTokenJTI != "jti-1" {
		t.Errorf("qr token jti = %v", sess.QRTokenJTI)
	}

	events, err := svc.Events(ctx, sess.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	want := []Status{StatusCreated, StatusDiscovery, StatusHold, StatusConfirmed, StatusActive, StatusCompleted}
	if len(events) != len(want) {
		t.Fatalf("event count = %d, want %d", len(events), len(want))
	}
	for i, e := range events {
		if e.ToStatus != want[i] {
			t.Errorf("event %d to = %s, want %s", i, e.ToStatus, want[i])
		}
	}
	hold := events[2]
	if hold.Metadata["selected_offer_id"] != "offer-1" {
		t.Errorf("hold event metadata = %v", hold.Metadata)
	}
	if hold.Metadata["final_amount"] != 20.00 {
		t.Errorf("hold event final_amount = %v", hold.Metadata["final_amount"])
	}
}

func TestInvalidTransitions(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name    string
		prepare func(t *testing.T, id types.ID)
		attempt func(id types.ID) error
	}{
		{
			"hold before discovery",
			func(*testing.T, types.ID) {},
			func(id types.ID) error { _, err := svc.Hold(ctx, id, "o", "d", 10); return err },
		},
		{
			"start before confirm",
			func(*testing.T, types.ID) {},
			func(id types.ID) error { _, err := svc.Start(ctx, id, Actor{Type: ActorDriver}); return err },
		},
		{
			"cancel after confirm",
			func(t *testing.T, id types.ID) {
				mustTransition(t, svc, id, StatusDiscovery, StatusHold, StatusConfirmed)
			},
			func(id types.ID) error { _, _, err := svc.Cancel(ctx, id, "late", Actor{Type: ActorRider}); return err },
		},
		{
			"cancel after start",
			func(t *testing.T, id types.ID) {
				mustTransition(t, svc, id, StatusDiscovery, StatusHold, StatusConfirmed, StatusActive)
			},
			func(id types.ID) error { _, _, err := svc.Cancel(ctx, id, "late", Actor{Type: ActorRider}); return err },
		},
		{
			"complete after complete",
			func(t *testing.T, id types.ID) {
				mustTransition(t, svc, id, StatusDiscovery, StatusHold, StatusConfirmed, StatusActive, StatusCompleted)
			},
			func(id types.ID) error { _, err := svc.Complete(ctx, id, Actor{Type: ActorDriver}); return err },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := svc.Create(ctx, riderInput())
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			tt.prepare(t, sess.ID)
			if err := tt.attempt(sess.ID); !errors.Is(err, ErrInvalidState) {
				t.Errorf("err = %v, want ErrInvalidState", err)
			}
		})
	}
}

func mustTransition(t *testing.T, svc *Service, id types.ID, path ...Status) {
	t.Helper()
	ctx := context.Background()
	for _, to := range path {
		var err error
		switch to {
		case StatusDiscovery:
			_, err = svc.BeginDiscovery(ctx, id, Actor{Type: ActorRider})
		case StatusHold:
			_, err = svc.Hold(ctx, id, "offer-1", "driver-1", 20)
		case StatusConfirmed:
			_, err = svc.Confirm(ctx, id, "", Actor{Type: ActorDriver})
		case StatusActive:
			_, err = svc.Start(ctx, id, Actor{Type: ActorDriver})
		case StatusCompleted:
			_, err = svc.Complete(ctx, id, Actor{Type: ActorDriver})
		}
		if err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
}

type recordingCloser struct {
	mu       sync.Mutex
	sessions []types.ID
	drivers  []types.ID
}

func (c *recordingCloser) RejectPending(_ context.Context, sessionID types.ID) ([]types.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, sessionID)
	c.drivers = []types.ID{"driver-1", "driver-2"}
	return c.drivers, nil
}

func TestCancelRejectsPendingOffers(t *testing.T) {
	svc, _ := newTestService()
	closer := &recordingCloser{}
	svc.SetOfferCloser(closer)
	ctx := context.Background()

	sess, err := svc.Create(ctx, riderInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.BeginDiscovery(ctx, sess.ID, Actor{Type: ActorRider}); err != nil {
		t.Fatalf("begin discovery: %v", err)
	}

	sess, prev, err := svc.Cancel(ctx, sess.ID, "changed my mind", Actor{Type: ActorRider})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if sess.Status != StatusCanceled {
		t.Errorf("status = %s", sess.Status)
	}
	if prev != StatusDiscovery {
		t.Errorf("previous status = %s, want discovery", prev)
	}
	if sess.CancelReason == nil || *sess.CancelReason != "changed my mind" {
		t.Errorf("cancel reason = %v", sess.CancelReason)
	}
	if len(closer.sessions) != 1 || closer.sessions[0] != sess.ID {
		t.Errorf("reject pending called for %v", closer.sessions)
	}
}

// brokenUpdateStore simulates a store whose transition unit of work fails,
// for instance because the event row cannot be written.
type brokenUpdateStore struct {
	*MemoryStore
}

func (s *brokenUpdateStore) UpdateStatus(context.Context, types.ID, Status, Status, int, Patch, *Event) (bool, error) {
	return false, errors.New("event append failed")
}

func TestTransitionFailureLeavesNoPartialState(t *testing.T) {
	mem := NewMemoryStore()
	svc := NewService(mem, notify.LogNotifier{Log: testLogger()}, testLogger())

	sess, err := svc.Create(context.Background(), riderInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Swap in a store that cannot commit the transition unit of work.
	svc.store = &brokenUpdateStore{MemoryStore: mem}
	if _, err := svc.BeginDiscovery(context.Background(), sess.ID, Actor{Type: ActorRider}); err == nil {
		t.Fatal("transition reported success despite a failed commit")
	}

	svc.store = mem
	got, err := svc.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCreated {
		t.Errorf("status = %s, want created", got.Status)
	}
	events, err := svc.Events(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].ToStatus != StatusCreated {
		t.Errorf("events = %+v, want only the creation event", events)
	}
}

func TestConfirmRequiresMatchingToken(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	sess, err := svc.Create(ctx, riderInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mustTransition(t, svc, sess.ID, StatusDiscovery, StatusHold)
	if err := svc.AttachVerification(ctx, sess.ID, "jti-new"); err != nil {
		t.Fatalf("attach verification: %v", err)
	}

	// A token superseded by a re-issue must not confirm.
	if _, err := svc.Confirm(ctx, sess.ID, "jti-old", Actor{Type: ActorDriver}); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("err = %v, want ErrTokenMismatch", err)
	}
	got, err := svc.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusHold {
		t.Fatalf("status = %s, want hold after rejected confirm", got.Status)
	}

	if _, err := svc.Confirm(ctx, sess.ID, "jti-new", Actor{Type: ActorDriver}); err != nil {
		t.Fatalf("confirm with current token: %v", err)
	}
}

func TestConcurrentHoldSingleWinner(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	sess, err := svc.Create(ctx, riderInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.BeginDiscovery(ctx, sess.ID, Actor{Type: ActorRider}); err != nil {
		t.Fatalf("begin discovery: %v", err)
	}

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			offer := types.ID("offer-" + string(rune('a'+i)))
			_, errs[i] = svc.Hold(ctx, sess.ID, offer, "driver", 15)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidState):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}

	got, err := svc.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusHold || got.SelectedOfferID == nil {
		t.Fatalf("post-race session = %s, offer %v", got.Status, got.SelectedOfferID)
	}
}

func TestExpireStale(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	a, err := svc.Create(ctx, riderInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := svc.Create(ctx, riderInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// This one is created an hour in the future, so the cutoff spares it.
	svc.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	future, err := svc.Create(ctx, riderInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	svc.now = time.Now
	expired, err := svc.ExpireStale(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("expire stale: %v", err)
	}
	if expired != 2 {
		t.Fatalf("expired = %d, want 2", expired)
	}

	for _, id := range []types.ID{a.ID, b.ID} {
		got, err := svc.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != StatusExpired {
			t.Errorf("session %s status = %s, want expired", id, got.Status)
		}
	}
	if got, _ := svc.Get(ctx, future.ID); got.Status != StatusCreated {
		t.Errorf("future session status = %s, want created", got.Status)
	}
}
