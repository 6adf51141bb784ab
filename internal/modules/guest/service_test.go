package guest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"ridecore/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubReassigner struct {
	moved int
	calls int
}

func (r *stubReassigner) ReassignGuestSessions(_ context.Context, _, _ types.ID) (int, error) {
	r.calls++
	return r.moved, nil
}

func TestIssueAndValidate(t *testing.T) {
	svc := NewService(NewMemoryStore(nil), 30*24*time.Hour, testLogger())

	issued, err := svc.Issue(context.Background())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.Token == "" {
		t.Fatal("expected a non-empty token")
	}

	g, err := svc.Validate(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if g.LastUsedAt == nil {
		t.Error("expected last_used_at to be refreshed on validate")
	}
}

func TestValidateFailures(t *testing.T) {
	store := NewMemoryStore(nil)
	svc := NewService(store, 30*24*time.Hour, testLogger())

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	issued, err := svc.Issue(context.Background())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	tests := []struct {
		name  string
		token string
		now   time.Time
		want  error
	}{
		{"empty token", "", base, ErrBadRequest},
		{"unknown token", "guest_nope", base, ErrNotFound},
		{"expired token", issued.Token, base.Add(31 * 24 * time.Hour), ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc.now = func() time.Time { return tt.now }
			if _, err := svc.Validate(context.Background(), tt.token); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateClaimedToken(t *testing.T) {
	store := NewMemoryStore(nil)
	svc := NewService(store, 30*24*time.Hour, testLogger())

	issued, err := svc.Issue(context.Background())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.Migrate(context.Background(), issued.Token, "user-1"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := svc.Validate(context.Background(), issued.Token); !errors.Is(err, ErrClaimed) {
		t.Errorf("err = %v, want ErrClaimed", err)
	}
}

func TestMigrateOnce(t *testing.T) {
	sessions := &stubReassigner{moved: 3}
	store := NewMemoryStore(sessions)
	svc := NewService(store, 30*24*time.Hour, testLogger())

	issued, err := svc.Issue(context.Background())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	moved, err := svc.Migrate(context.Background(), issued.Token, "user-a")
	if err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if moved != 3 {
		t.Errorf("moved = %d, want 3", moved)
	}

	// Second claim must conflict, no matter which user retries.
	if _, err := svc.Migrate(context.Background(), issued.Token, "user-b"); !errors.Is(err, ErrClaimed) {
		t.Errorf("err = %v, want ErrClaimed", err)
	}
	if _, err := svc.Migrate(context.Background(), issued.Token, "user-a"); !errors.Is(err, ErrClaimed) {
		t.Errorf("retry err = %v, want ErrClaimed", err)
	}
	if sessions.calls != 1 {
		t.Errorf("reassign calls = %d, want 1", sessions.calls)
	}

	g, err := store.ByToken(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("by token: %v", err)
	}
	if g.ClaimedBy == nil || *g.ClaimedBy != "user-a" {
		t.Errorf("claimed_by = %v, want user-a", g.ClaimedBy)
	}
}

func TestMigrateValidation(t *testing.T) {
	svc := NewService(NewMemoryStore(nil), time.Hour, testLogger())
	if _, err := svc.Migrate(context.Background(), "", "user-a"); !errors.Is(err, ErrBadRequest) {
		t.Errorf("err = %v, want ErrBadRequest", err)
	}
	if _, err := svc.Migrate(context.Background(), "guest_x", ""); !errors.Is(err, ErrBadRequest) {
		t.Errorf("err = %v, want ErrBadRequest", err)
	}
}
