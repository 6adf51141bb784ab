// README: Verification endpoints: issue QR + manual code, verify, confirm.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridecore/internal/modules/guest"
	"ridecore/internal/modules/session"
	"ridecore/internal/modules/verification"
	"ridecore/internal/types"
)

type VerificationHandler struct {
	sessions *session.Service
	guests   *guest.Service
	tokens   *verification.Service
}

func NewVerificationHandler(sessions *session.Service, guests *guest.Service, tokens *verification.Service) *VerificationHandler {
	return &VerificationHandler{sessions: sessions, guests: guests, tokens: tokens}
}

// Issue creates the session's verification credential once a driver is on
// hold. Only the ride's owner may issue it. The amount embedded is the agreed
// offer amount, falling back to the original quote.
func (h *VerificationHandler) Issue(c *gin.Context) {
	id := types.ID(c.Param("id"))
	sess, ok := requireRideOwner(c, h.sessions, h.guests, id)
	if !ok {
		return
	}
	if sess.Status != session.StatusHold {
		writeError(c, http.StatusConflict, "conflict", "verification is issued while a driver is on hold")
		return
	}

	amount := sess.FareAmount
	if sess.FinalAmount != nil {
		amount = *sess.FinalAmount
	}
	tok, err := h.tokens.Issue(id, sess.Origin.Label, sess.Destination.Label, amount)
	if err != nil {
		writeInternal(c)
		return
	}
	if err := h.sessions.AttachVerification(c.Request.Context(), id, tok.Payload.JTI); err != nil {
		writeSessionError(c, err)
		return
	}

	writeJSON(c, http.StatusCreated, gin.H{
		"qr_token":    tok.Encoded,
		"manual_code": tok.ManualCode,
		"expires_at":  time.Unix(tok.Payload.ExpiresAt, 0).UTC().Format(time.RFC3339),
	})
}

type verifyReq struct {
	Token string `json:"token"`
}

// Verify checks a scanned QR token and, on success, confirms the ride it
// names. Tamper and expiry come back as distinct 422 codes so the client can
// offer the manual fallback.
func (h *VerificationHandler) Verify(c *gin.Context) {
	var req verifyReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		writeError(c, http.StatusBadRequest, "validation", "token is required")
		return
	}

	p, err := h.tokens.Verify(req.Token)
	if err != nil {
		writeVerificationError(c, err)
		return
	}

	sess, err := h.sessions.Confirm(c.Request.Context(), p.RideSessionID, p.JTI, driverActor(c))
	if err != nil {
		writeSessionError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"verified": true,
		"payload": gin.H{
			"ride_session_id":   p.RideSessionID,
			"origin_label":      p.OriginLabel,
			"destination_label": p.DestinationLabel,
			"fare_amount":       p.FareAmount,
		},
		"session": sessionResp(sess),
	})
}

type manualVerifyReq struct {
	Code string `json:"code"`
}

// VerifyManual is the fallback path when the QR cannot be scanned.
func (h *VerificationHandler) VerifyManual(c *gin.Context) {
	var req manualVerifyReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		writeError(c, http.StatusBadRequest, "validation", "code is required")
		return
	}

	id := types.ID(c.Param("id"))
	if !h.tokens.VerifyManualCode(id, req.Code) {
		writeError(c, http.StatusUnprocessableEntity, "manual_code_mismatch", "manual code does not match")
		return
	}

	sess, err := h.sessions.Confirm(c.Request.Context(), id, "", driverActor(c))
	if err != nil {
		writeSessionError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"verified": true, "session": sessionResp(sess)})
}
