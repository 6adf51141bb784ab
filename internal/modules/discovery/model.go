// README: Driver offers and price labels for the discovery protocol.
package discovery

import (
	"time"

	"ridecore/internal/types"
)

type OfferType string

const (
	// TypeAccept takes the quoted fare as-is; the amount is pinned server-side.
	TypeAccept OfferType = "accept"
	// TypeCounter proposes a different amount.
	TypeCounter OfferType = "counter"
)

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
	OfferExpired  OfferStatus = "expired"
)

type PriceLabel string

const (
	LabelGoodDeal PriceLabel = "good_deal"
	LabelNormal   PriceLabel = "normal"
	LabelPricier  PriceLabel = "pricier"
)

// LabelFor classifies an offer amount against the quoted fare. At least 20%
// under is a good deal, at least 30% over is pricier; everything between is
// normal.
func LabelFor(fare, amount float64) PriceLabel {
	if fare <= 0 {
		return LabelNormal
	}
	delta := (amount - fare) / fare
	switch {
	case delta <= -0.20:
		return LabelGoodDeal
	case delta >= 0.30:
		return LabelPricier
	default:
		return LabelNormal
	}
}

// Offer is one driver's response to a discovery round.
type Offer struct {
	ID          types.ID
	SessionID   types.ID
	DriverID    types.ID
	Type        OfferType
	Amount      float64
	Label       PriceLabel
	Status      OfferStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RespondedAt *time.Time
}

// WaveResult summarizes one discovery round.
type WaveResult struct {
	Wave     int     `json:"wave"`
	RadiusKm float64 `json:"radius_km"`
	Notified int     `json:"notified"`
}
