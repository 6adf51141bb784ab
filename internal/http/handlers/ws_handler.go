// README: WebSocket endpoints streaming offer and status events.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ridecore/internal/http/middleware"
	"ridecore/internal/modules/session"
	"ridecore/internal/types"
	"ridecore/internal/ws"
)

type WSHandler struct {
	hub      *ws.Hub
	sessions *session.Service
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewWSHandler(hub *ws.Hub, sessions *session.Service, log *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:      hub,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Mobile clients connect from app origins; auth happens via tokens.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// RideStream subscribes the caller to one ride session's event stream.
func (h *WSHandler) RideStream(c *gin.Context) {
	id := types.ID(c.Param("id"))
	if _, err := h.sessions.Get(c.Request.Context(), id); err != nil {
		writeSessionError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "session_id", id, "err", err)
		return
	}
	defer conn.Close()

	unsubscribe := h.hub.Subscribe(id, conn)
	defer unsubscribe()

	// Reads are only used to detect the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// DriverStream registers the authenticated driver's notification connection.
func (h *WSHandler) DriverStream(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	if id == nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "driver_id", id.UserID, "err", err)
		return
	}
	defer conn.Close()

	remove := h.hub.AddDriver(types.ID(id.UserID), conn)
	defer remove()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
