// README: Ride session aggregate and status flow definitions.
package session

import (
	"time"

	"ridecore/internal/types"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusCreated   Status = "created"
	StatusDiscovery Status = "discovery"
	StatusHold      Status = "hold"
	StatusConfirmed Status = "confirmed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

// Request modes. Broadcast rides fan out in discovery waves; direct rides
// target a single driver chosen up front.
const (
	ModeBroadcast = "broadcast"
	ModeDirect    = "direct"
)

// Session is the rider-side ride aggregate. Exactly one of RiderUserID and
// GuestTokenID is set.
type Session struct {
	ID               types.ID
	RiderUserID      *types.ID
	GuestTokenID     *types.ID
	Origin           types.Location
	Destination      types.Location
	FareAmount       float64
	FareMethod       string
	RequestMode      string
	TargetDriverID   *types.ID
	Status           Status
	StatusVersion    int
	SelectedDriverID *types.ID
	SelectedOfferID  *types.ID
	FinalAmount      *float64
	QRTokenJTI       *string
	CancelReason     *string
	CreatedAt        time.Time
	DiscoveryAt      *time.Time
	HoldAt           *time.Time
	ConfirmedAt      *time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	CanceledAt       *time.Time
	ExpiredAt        *time.Time
}

// Event is one row of the append-only session audit log.
type Event struct {
	ID         int64
	SessionID  types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	Metadata   map[string]any
	CreatedAt  time.Time
}

// AllowedTransitions represents the session state flow (diagram) as code.
// Cancellation is a rider action and stops being available once a driver is
// confirmed; expiry can still reap any non-terminal session.
var AllowedTransitions = map[Status][]Status{
	StatusCreated:   {StatusDiscovery, StatusCanceled, StatusExpired},
	StatusDiscovery: {StatusHold, StatusCanceled, StatusExpired},
	StatusHold:      {StatusConfirmed, StatusCanceled, StatusExpired},
	StatusConfirmed: {StatusActive, StatusExpired},
	StatusActive:    {StatusCompleted, StatusExpired},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
