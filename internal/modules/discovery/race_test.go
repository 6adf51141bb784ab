package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"ridecore/internal/modules/session"
	"ridecore/internal/types"
)

// Run with -race: concurrent selections across different offers must resolve
// to exactly one accepted offer and one hold transition.
func TestConcurrentSelectSingleWinner(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	sess := h.newSession(t, 20)
	if _, err := h.disc.StartDiscovery(ctx, sess.ID, StartInput{Wave: 0}); err != nil {
		t.Fatalf("start discovery: %v", err)
	}

	const racers = 12
	offers := make([]*Offer, racers)
	for i := range offers {
		var err error
		offers[i], err = h.disc.SubmitOffer(ctx, sess.ID, types.ID(fmt.Sprintf("driver-%d", i)), OfferInput{Type: TypeAccept})
		if err != nil {
			t.Fatalf("offer %d: %v", i, err)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.disc.SelectOffer(ctx, sess.ID, offers[i].ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, session.ErrConflict),
			errors.Is(err, session.ErrInvalidState),
			errors.Is(err, ErrOfferNotPending):
		default:
			t.Errorf("racer %d: unexpected error %v", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}

	got, err := h.sessions.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != session.StatusHold {
		t.Fatalf("session status = %s, want hold", got.Status)
	}

	accepted := 0
	all, err := h.disc.ListOffers(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list offers: %v", err)
	}
	for _, o := range all {
		switch o.Status {
		case OfferAccepted:
			accepted++
			if got.SelectedOfferID == nil || *got.SelectedOfferID != o.ID {
				t.Errorf("accepted offer %s is not the session's selected offer", o.ID)
			}
		case OfferRejected:
		default:
			t.Errorf("offer %s left in status %s", o.ID, o.Status)
		}
	}
	if accepted != 1 {
		t.Fatalf("accepted offers = %d, want exactly 1", accepted)
	}
}
