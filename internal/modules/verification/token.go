// README: Signed verification tokens (QR payload) and the 6-digit manual fallback code.
package verification

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ridecore/internal/types"
)

// Distinct failure kinds: the client offers the manual code as a fallback on
// tamper/expiry specifically, so these must never collapse into one error.
var (
	ErrMalformed = errors.New("verification token malformed")
	ErrTampered  = errors.New("verification token signature mismatch")
	ErrExpired   = errors.New("verification token expired")
)

// Payload is the signed QR content proving ride-session identity at pickup.
type Payload struct {
	JTI              string   `json:"jti"`
	RideSessionID    types.ID `json:"ride_session_id"`
	OriginLabel      string   `json:"origin_label"`
	DestinationLabel string   `json:"destination_label"`
	FareAmount       float64  `json:"fare_amount"`
	IssuedAt         int64    `json:"iat"`
	ExpiresAt        int64    `json:"exp"`
}

// Token is an issued verification credential plus its manual fallback.
type Token struct {
	Encoded    string
	Payload    Payload
	ManualCode string
}

type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(secret string, ttl time.Duration) *Service {
	return &Service{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue builds and signs a verification token for the session. The payload's
// exp (issued + ttl) is the single canonical expiry; Verify applies no other
// window.
func (s *Service) Issue(sessionID types.ID, originLabel, destLabel string, fare float64) (Token, error) {
	now := s.now().UTC()
	p := Payload{
		JTI:              uuid.NewString(),
		RideSessionID:    sessionID,
		OriginLabel:      originLabel,
		DestinationLabel: destLabel,
		FareAmount:       fare,
		IssuedAt:         now.Unix(),
		ExpiresAt:        now.Add(s.ttl).Unix(),
	}
	encoded, err := s.encode(p)
	if err != nil {
		return Token{}, err
	}
	return Token{Encoded: encoded, Payload: p, ManualCode: s.ManualCode(sessionID)}, nil
}

// Verify decodes and checks a token. Malformed input, a bad signature, and an
// expired window are reported as distinct failures.
func (s *Service) Verify(encoded string) (Payload, error) {
	body, sig, ok := strings.Cut(encoded, ".")
	if !ok {
		return Payload{}, ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Payload{}, ErrMalformed
	}

	expected := s.sign(raw)
	provided, err := hex.DecodeString(sig)
	if err != nil {
		return Payload{}, ErrMalformed
	}
	if !hmac.Equal(expected, provided) {
		return Payload{}, ErrTampered
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, ErrMalformed
	}
	if s.now().UTC().Unix() >= p.ExpiresAt {
		return Payload{}, ErrExpired
	}
	return p, nil
}

// ManualCode derives the 6-digit fallback deterministically from the session
// id and the deployment secret, so both parties can compute it independently.
func (s *Service) ManualCode(sessionID types.ID) string {
	sum := sha256.Sum256(append([]byte(sessionID), s.secret...))
	n, _ := strconv.ParseUint(hex.EncodeToString(sum[:])[:8], 16, 64)
	return fmt.Sprintf("%06d", n%1_000_000)
}

// VerifyManualCode compares a presented code in constant time.
func (s *Service) VerifyManualCode(sessionID types.ID, code string) bool {
	want := s.ManualCode(sessionID)
	return subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1
}

func (s *Service) encode(p Payload) (string, error) {
	raw, err := canonicalJSON(p)
	if err != nil {
		return "", err
	}
	sig := s.sign(raw)
	return base64.RawURLEncoding.EncodeToString(raw) + "." + hex.EncodeToString(sig), nil
}

func (s *Service) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// canonicalJSON serializes the payload with sorted keys so signatures are
// stable across producers.
func canonicalJSON(p Payload) ([]byte, error) {
	direct, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(direct, &m); err != nil {
		return nil, err
	}
	return json.Marshal(m) // map keys marshal in sorted order
}
