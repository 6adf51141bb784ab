// README: Discovery endpoints: waves, offers, selection, driver pool upkeep.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridecore/internal/http/middleware"
	"ridecore/internal/modules/discovery"
	"ridecore/internal/modules/guest"
	"ridecore/internal/modules/session"
	"ridecore/internal/types"
)

type DiscoveryHandler struct {
	discovery *discovery.Service
	sessions  *session.Service
	guests    *guest.Service
}

func NewDiscoveryHandler(svc *discovery.Service, sessions *session.Service, guests *guest.Service) *DiscoveryHandler {
	return &DiscoveryHandler{discovery: svc, sessions: sessions, guests: guests}
}

type startDiscoveryReq struct {
	Wave           int    `json:"wave"`
	DirectDriverID string `json:"direct_driver_id"`
}

func (h *DiscoveryHandler) Start(c *gin.Context) {
	if _, ok := requireRideOwner(c, h.sessions, h.guests, types.ID(c.Param("id"))); !ok {
		return
	}
	var req startDiscoveryReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "validation", "invalid json")
			return
		}
	}

	in := discovery.StartInput{Wave: req.Wave}
	if req.DirectDriverID != "" {
		d := types.ID(req.DirectDriverID)
		in.DirectDriverID = &d
	}

	res, err := h.discovery.StartDiscovery(c.Request.Context(), types.ID(c.Param("id")), in)
	if err != nil {
		writeDiscoveryError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

type submitOfferReq struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
}

func (h *DiscoveryHandler) SubmitOffer(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	if id == nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req submitOfferReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "validation", "invalid json")
		return
	}

	o, err := h.discovery.SubmitOffer(c.Request.Context(), types.ID(c.Param("id")), types.ID(id.UserID), discovery.OfferInput{
		Type:   discovery.OfferType(req.Type),
		Amount: req.Amount,
	})
	if err != nil {
		writeDiscoveryError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, offerResp(o))
}

func (h *DiscoveryHandler) ListOffers(c *gin.Context) {
	offers, err := h.discovery.ListOffers(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeDiscoveryError(c, err)
		return
	}
	out := make([]gin.H, 0, len(offers))
	for _, o := range offers {
		out = append(out, offerResp(o))
	}
	writeJSON(c, http.StatusOK, gin.H{"offers": out})
}

type selectOfferReq struct {
	OfferID string `json:"offer_id"`
}

func (h *DiscoveryHandler) Select(c *gin.Context) {
	if _, ok := requireRideOwner(c, h.sessions, h.guests, types.ID(c.Param("id"))); !ok {
		return
	}
	var req selectOfferReq
	if err := c.ShouldBindJSON(&req); err != nil || req.OfferID == "" {
		writeError(c, http.StatusBadRequest, "validation", "offer_id is required")
		return
	}

	sess, err := h.discovery.SelectOffer(c.Request.Context(), types.ID(c.Param("id")), types.ID(req.OfferID))
	if err != nil {
		writeDiscoveryError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sessionResp(sess))
}

type driverLocationReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (h *DiscoveryHandler) UpdateDriverLocation(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	if id == nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req driverLocationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "validation", "invalid json")
		return
	}
	err := h.discovery.UpsertDriverLocation(c.Request.Context(), types.ID(id.UserID), types.Point{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		writeDiscoveryError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (h *DiscoveryHandler) RemoveDriver(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	if id == nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	if err := h.discovery.RemoveDriver(c.Request.Context(), types.ID(id.UserID)); err != nil {
		writeDiscoveryError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

type addFavoriteReq struct {
	DriverID string `json:"driver_id"`
}

func (h *DiscoveryHandler) AddFavorite(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	if id == nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req addFavoriteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "validation", "invalid json")
		return
	}
	if err := h.discovery.AddFavorite(c.Request.Context(), types.ID(id.UserID), types.ID(req.DriverID)); err != nil {
		writeDiscoveryError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"ok": true})
}

func offerResp(o *discovery.Offer) gin.H {
	resp := gin.H{
		"id":         o.ID,
		"driver_id":  o.DriverID,
		"type":       o.Type,
		"amount":     o.Amount,
		"label":      o.Label,
		"status":     o.Status,
		"created_at": o.CreatedAt.Format(time.RFC3339),
		"expires_at": o.ExpiresAt.Format(time.RFC3339),
	}
	if o.RespondedAt != nil {
		resp["responded_at"] = o.RespondedAt.Format(time.RFC3339)
	}
	return resp
}
