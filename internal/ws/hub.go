// README: WebSocket hub: per-session subscribers and driver connections.
package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"ridecore/internal/notify"
	"ridecore/internal/types"
)

// conn serializes writes; gorilla connections allow one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// Hub routes notification messages to connected clients. Riders subscribe to
// a ride session; drivers register one connection each. It satisfies
// notify.Notifier so services stay unaware of transports.
type Hub struct {
	mu       sync.RWMutex
	sessions map[types.ID]map[*conn]bool
	drivers  map[types.ID]*conn
	log      *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		sessions: map[types.ID]map[*conn]bool{},
		drivers:  map[types.ID]*conn{},
		log:      log,
	}
}

// Subscribe attaches a websocket to a ride session's event stream and returns
// an unsubscribe func for the handler's defer.
func (h *Hub) Subscribe(sessionID types.ID, ws *websocket.Conn) func() {
	c := &conn{ws: ws}
	h.mu.Lock()
	set := h.sessions[sessionID]
	if set == nil {
		set = map[*conn]bool{}
		h.sessions[sessionID] = set
	}
	set[c] = true
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.sessions[sessionID], c)
		if len(h.sessions[sessionID]) == 0 {
			delete(h.sessions, sessionID)
		}
	}
}

// AddDriver registers a driver connection, replacing any previous one.
func (h *Hub) AddDriver(driverID types.ID, ws *websocket.Conn) func() {
	c := &conn{ws: ws}
	h.mu.Lock()
	h.drivers[driverID] = c
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.drivers[driverID] == c {
			delete(h.drivers, driverID)
		}
	}
}

// Notify fans the message out to the session's subscribers and, when the
// message targets a driver, to that driver's connection. Absent listeners are
// not an error; clients reconnect and poll.
func (h *Hub) Notify(_ context.Context, m notify.Message) error {
	h.mu.RLock()
	var targets []*conn
	for c := range h.sessions[m.RideSessionID] {
		targets = append(targets, c)
	}
	if m.DriverID != "" {
		if c, ok := h.drivers[m.DriverID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(m); err != nil {
			h.log.Warn("ws send failed", "kind", m.Kind, "err", err)
		}
	}
	return nil
}
