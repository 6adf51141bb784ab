// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridecore/internal/http/middleware"
	"ridecore/internal/modules/discovery"
	"ridecore/internal/modules/guest"
	"ridecore/internal/modules/pricing"
	"ridecore/internal/modules/session"
	"ridecore/internal/modules/verification"
	"ridecore/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{Error: msg, Code: code})
}

func writeInternal(c *gin.Context) {
	writeError(c, http.StatusInternalServerError, "internal", "internal error")
}

// requireRideOwner loads the session and rejects callers that do not own it.
// A session belongs to the rider identity or guest token it was created with;
// anonymous callers get 401, authenticated strangers 403.
func requireRideOwner(c *gin.Context, sessions *session.Service, guests *guest.Service, id types.ID) (*session.Session, bool) {
	sess, err := sessions.Get(c.Request.Context(), id)
	if err != nil {
		writeSessionError(c, err)
		return nil, false
	}
	if ident := middleware.IdentityFrom(c); ident != nil {
		if sess.RiderUserID != nil && *sess.RiderUserID == types.ID(ident.UserID) {
			return sess, true
		}
		writeError(c, http.StatusForbidden, "forbidden", "ride belongs to another rider")
		return nil, false
	}
	if token := middleware.GuestToken(c); token != "" {
		g, err := guests.Validate(c.Request.Context(), token)
		if err != nil {
			writeGuestError(c, err)
			return nil, false
		}
		if sess.GuestTokenID != nil && *sess.GuestTokenID == g.ID {
			return sess, true
		}
		writeError(c, http.StatusForbidden, "forbidden", "ride belongs to another rider")
		return nil, false
	}
	writeError(c, http.StatusUnauthorized, "unauthorized", "a bearer token or guest token is required")
	return nil, false
}

func writePricingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pricing.ErrBadRequest):
		writeError(c, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, pricing.ErrRegionNotFound), errors.Is(err, pricing.ErrRuleNotFound):
		writeError(c, http.StatusNotFound, "not_found", err.Error())
	default:
		writeInternal(c)
	}
}

func writeGuestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, guest.ErrBadRequest):
		writeError(c, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, guest.ErrNotFound):
		writeError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, guest.ErrExpired):
		writeError(c, http.StatusUnauthorized, "guest_token_expired", err.Error())
	case errors.Is(err, guest.ErrClaimed):
		writeError(c, http.StatusConflict, "conflict", err.Error())
	default:
		writeInternal(c)
	}
}

func writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrBadRequest):
		writeError(c, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, session.ErrInvalidState), errors.Is(err, session.ErrConflict):
		writeError(c, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, session.ErrTokenMismatch):
		writeError(c, http.StatusConflict, "token_mismatch", err.Error())
	default:
		writeInternal(c)
	}
}

func writeDiscoveryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, discovery.ErrBadRequest):
		writeError(c, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, discovery.ErrOfferNotFound):
		writeError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, discovery.ErrNotOpen),
		errors.Is(err, discovery.ErrOfferNotPending),
		errors.Is(err, discovery.ErrOfferExpired),
		errors.Is(err, discovery.ErrDuplicateOffer):
		writeError(c, http.StatusConflict, "conflict", err.Error())
	default:
		writeSessionError(c, err)
	}
}

func writeVerificationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, verification.ErrMalformed):
		writeError(c, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, verification.ErrTampered):
		writeError(c, http.StatusUnprocessableEntity, "token_tampered", err.Error())
	case errors.Is(err, verification.ErrExpired):
		writeError(c, http.StatusUnprocessableEntity, "token_expired", err.Error())
	default:
		writeInternal(c)
	}
}
