// README: Ride session endpoints: create, get, cancel, start, complete, events.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridecore/internal/http/middleware"
	"ridecore/internal/maps"
	"ridecore/internal/modules/guest"
	"ridecore/internal/modules/session"
	"ridecore/internal/types"
)

type RideHandler struct {
	sessions *session.Service
	guests   *guest.Service
	labeler  maps.Labeler
}

// NewRideHandler builds the handler; labeler may be nil, in which case the
// rider-provided labels are used verbatim.
func NewRideHandler(sessions *session.Service, guests *guest.Service, labeler maps.Labeler) *RideHandler {
	return &RideHandler{sessions: sessions, guests: guests, labeler: labeler}
}

type locationReq struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label"`
}

type createRideReq struct {
	Origin         locationReq `json:"origin"`
	Destination    locationReq `json:"destination"`
	FareAmount     float64     `json:"fare_amount"`
	FareMethod     string      `json:"fare_method"`
	RequestMode    string      `json:"request_mode"`
	TargetDriverID string      `json:"target_driver_id"`
}

// Create opens a ride session for either an authenticated rider or a valid
// guest token.
func (h *RideHandler) Create(c *gin.Context) {
	var req createRideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "validation", "invalid json")
		return
	}

	in := session.CreateInput{
		Origin:      h.resolveLocation(c, req.Origin),
		Destination: h.resolveLocation(c, req.Destination),
		FareAmount:  req.FareAmount,
		FareMethod:  req.FareMethod,
		RequestMode: req.RequestMode,
	}
	if req.TargetDriverID != "" {
		tid := types.ID(req.TargetDriverID)
		in.TargetDriverID = &tid
	}

	if id := middleware.IdentityFrom(c); id != nil {
		uid := types.ID(id.UserID)
		in.RiderUserID = &uid
	} else if token := middleware.GuestToken(c); token != "" {
		g, err := h.guests.Validate(c.Request.Context(), token)
		if err != nil {
			writeGuestError(c, err)
			return
		}
		in.GuestTokenID = &g.ID
	} else {
		writeError(c, http.StatusUnauthorized, "unauthorized", "a bearer token or guest token is required")
		return
	}

	sess, err := h.sessions.Create(c.Request.Context(), in)
	if err != nil {
		writeSessionError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, sessionResp(sess))
}

func (h *RideHandler) resolveLocation(c *gin.Context, req locationReq) types.Location {
	loc := types.Location{Point: types.Point{Lat: req.Lat, Lng: req.Lng}, Label: req.Label}
	if loc.Label != "" || h.labeler == nil {
		return loc
	}
	label, err := h.labeler.Label(c.Request.Context(), loc.Point)
	if err == nil {
		loc.Label = label
	}
	return loc
}

func (h *RideHandler) Get(c *gin.Context) {
	sess, err := h.sessions.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeSessionError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sessionResp(sess))
}

type cancelRideReq struct {
	Reason string `json:"reason"`
}

func (h *RideHandler) Cancel(c *gin.Context) {
	if _, ok := requireRideOwner(c, h.sessions, h.guests, types.ID(c.Param("id"))); !ok {
		return
	}
	var req cancelRideReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "validation", "invalid json")
			return
		}
	}
	sess, prev, err := h.sessions.Cancel(c.Request.Context(), types.ID(c.Param("id")), req.Reason, riderActor(c))
	if err != nil {
		writeSessionError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"previous_status": prev,
		"status":          sess.Status,
		"session":         sessionResp(sess),
	})
}

func (h *RideHandler) Start(c *gin.Context) {
	sess, err := h.sessions.Start(c.Request.Context(), types.ID(c.Param("id")), driverActor(c))
	if err != nil {
		writeSessionError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sessionResp(sess))
}

func (h *RideHandler) Complete(c *gin.Context) {
	sess, err := h.sessions.Complete(c.Request.Context(), types.ID(c.Param("id")), driverActor(c))
	if err != nil {
		writeSessionError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sessionResp(sess))
}

func (h *RideHandler) Events(c *gin.Context) {
	events, err := h.sessions.Events(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeSessionError(c, err)
		return
	}
	out := make([]gin.H, 0, len(events))
	for _, e := range events {
		ev := gin.H{
			"from":       e.FromStatus,
			"to":         e.ToStatus,
			"actor_type": e.ActorType,
			"actor_id":   e.ActorID,
			"created_at": e.CreatedAt.Format(time.RFC3339),
		}
		if e.Metadata != nil {
			ev["metadata"] = e.Metadata
		}
		out = append(out, ev)
	}
	writeJSON(c, http.StatusOK, gin.H{"events": out})
}

func riderActor(c *gin.Context) session.Actor {
	if id := middleware.IdentityFrom(c); id != nil {
		uid := types.ID(id.UserID)
		return session.Actor{Type: session.ActorRider, ID: &uid}
	}
	return session.Actor{Type: session.ActorRider}
}

func driverActor(c *gin.Context) session.Actor {
	if id := middleware.IdentityFrom(c); id != nil {
		uid := types.ID(id.UserID)
		return session.Actor{Type: session.ActorDriver, ID: &uid}
	}
	return session.Actor{Type: session.ActorDriver}
}

func sessionResp(s *session.Session) gin.H {
	resp := gin.H{
		"id":             s.ID,
		"status":         s.Status,
		"status_version": s.StatusVersion,
		"origin":         locationResp(s.Origin),
		"destination":    locationResp(s.Destination),
		"fare_amount":    s.FareAmount,
		"fare_method":    s.FareMethod,
		"request_mode":   s.RequestMode,
		"created_at":     s.CreatedAt.Format(time.RFC3339),
	}
	if s.TargetDriverID != nil {
		resp["target_driver_id"] = *s.TargetDriverID
	}
	if s.RiderUserID != nil {
		resp["rider_user_id"] = *s.RiderUserID
	}
	if s.GuestTokenID != nil {
		resp["guest_token_id"] = *s.GuestTokenID
	}
	if s.SelectedDriverID != nil {
		resp["selected_driver_id"] = *s.SelectedDriverID
	}
	if s.SelectedOfferID != nil {
		resp["selected_offer_id"] = *s.SelectedOfferID
	}
	if s.FinalAmount != nil {
		resp["final_amount"] = *s.FinalAmount
	}
	if s.CancelReason != nil {
		resp["cancel_reason"] = *s.CancelReason
	}
	if s.DiscoveryAt != nil {
		resp["discovery_at"] = s.DiscoveryAt.Format(time.RFC3339)
	}
	if s.CompletedAt != nil {
		resp["completed_at"] = s.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

func locationResp(l types.Location) gin.H {
	return gin.H{"lat": l.Lat, "lng": l.Lng, "label": l.Label}
}
