// README: Guest identity endpoints: issue, validate, migrate.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridecore/internal/http/middleware"
	"ridecore/internal/modules/guest"
	"ridecore/internal/types"
)

type GuestHandler struct {
	guest *guest.Service
}

func NewGuestHandler(svc *guest.Service) *GuestHandler {
	return &GuestHandler{guest: svc}
}

func (h *GuestHandler) Issue(c *gin.Context) {
	issued, err := h.guest.Issue(c.Request.Context())
	if err != nil {
		writeGuestError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{
		"token":      issued.Token,
		"expires_at": issued.ExpiresAt.Format(time.RFC3339),
	})
}

type validateGuestReq struct {
	Token string `json:"token"`
}

func (h *GuestHandler) Validate(c *gin.Context) {
	var req validateGuestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "validation", "invalid json")
		return
	}
	g, err := h.guest.Validate(c.Request.Context(), req.Token)
	if err != nil {
		writeGuestError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"valid":      true,
		"token_id":   g.ID,
		"expires_at": g.ExpiresAt.Format(time.RFC3339),
	})
}

type migrateGuestReq struct {
	Token string `json:"token"`
}

// Migrate claims the guest token for the authenticated user and moves its
// ride history over. Requires auth; the user id comes from the bearer token,
// never the body.
func (h *GuestHandler) Migrate(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	if id == nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req migrateGuestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "validation", "invalid json")
		return
	}
	moved, err := h.guest.Migrate(c.Request.Context(), req.Token, types.ID(id.UserID))
	if err != nil {
		writeGuestError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"migrated_rides": moved})
}
