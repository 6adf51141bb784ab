// README: Fare quote endpoint.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridecore/internal/metrics"
	"ridecore/internal/modules/pricing"
	"ridecore/internal/types"
)

type PricingHandler struct {
	pricing *pricing.Service
}

func NewPricingHandler(svc *pricing.Service) *PricingHandler {
	return &PricingHandler{pricing: svc}
}

type pointReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type quoteReq struct {
	RegionID    string   `json:"region_id"`
	Origin      pointReq `json:"origin"`
	Destination pointReq `json:"destination"`
}

type quoteResp struct {
	Amount        float64           `json:"amount"`
	Currency      string            `json:"currency"`
	Method        string            `json:"method"`
	RuleVersionID *types.ID         `json:"rule_version_id,omitempty"`
	Breakdown     pricing.Breakdown `json:"breakdown"`
}

func (h *PricingHandler) Quote(c *gin.Context) {
	var req quoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "validation", "invalid json")
		return
	}

	q, err := h.pricing.ComputeFare(c.Request.Context(),
		types.Point{Lat: req.Origin.Lat, Lng: req.Origin.Lng},
		types.Point{Lat: req.Destination.Lat, Lng: req.Destination.Lng},
		types.ID(req.RegionID),
	)
	if err != nil {
		writePricingError(c, err)
		return
	}

	metrics.FareQuotes.WithLabelValues(string(q.Method)).Inc()
	writeJSON(c, http.StatusOK, quoteResp{
		Amount:        q.Amount,
		Currency:      q.Currency,
		Method:        string(q.Method),
		RuleVersionID: q.RuleVersionID,
		Breakdown:     q.Breakdown,
	})
}
