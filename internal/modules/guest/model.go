// README: Guest identity entity: an anonymous, expiring, claim-once handle.
package guest

import (
	"time"

	"ridecore/internal/types"
)

// Identity is an anonymous handle that lets a rider create sessions without an
// account. Once ClaimedBy is set the token is permanently consumed.
type Identity struct {
	ID         types.ID
	Token      string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	LastUsedAt *time.Time
	ClaimedBy  *types.ID
	ClaimedAt  *time.Time
}

func (g Identity) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

func (g Identity) Claimed() bool {
	return g.ClaimedBy != nil
}
