// README: Driver/rider notification fan-out (log locally, redis pub/sub in deployments).
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"ridecore/internal/types"
)

const (
	KindRideRequested = "ride_requested"
	KindOfferReceived = "offer_received"
	KindOfferSelected = "offer_selected"
	KindOfferRejected = "offer_rejected"
	KindRideCanceled  = "ride_canceled"
	KindRideConfirmed = "ride_confirmed"
	KindRideCompleted = "ride_completed"
)

// Message is the payload pushed to drivers and riders. DriverID is empty for
// broadcast messages.
type Message struct {
	Kind          string         `json:"kind"`
	RideSessionID types.ID       `json:"ride_session_id,omitempty"`
	DriverID      types.ID       `json:"driver_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Notifier delivers messages best-effort; callers treat failures as
// non-fatal and log them.
type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// LogNotifier is the DSN-less fallback: it just records the message.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, m Message) error {
	n.Log.Info("notify", "kind", m.Kind, "ride_session_id", m.RideSessionID, "driver_id", m.DriverID)
	return nil
}

// Fanout delivers to every notifier and returns the first error after trying
// them all.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, m Message) error {
	var first error
	for _, n := range f {
		if err := n.Notify(ctx, m); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RedisNotifier publishes messages on a single pub/sub channel; gateway
// processes subscribe and route to connected clients.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, m Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, n.channel, raw).Err()
}
