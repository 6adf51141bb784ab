// README: Bearer-token verification for rider and driver identities.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// Identity holds the verified token data used by downstream middleware.
type Identity struct {
	UserID string
	Role   string
}

// TokenVerifier verifies a raw bearer token string and returns the identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

var ErrInvalidToken = errors.New("invalid token")

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// hmacVerifier validates HS256 JWTs signed with a shared platform secret.
type hmacVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a TokenVerifier for HS256-signed platform tokens.
func NewHMACVerifier(secret string) TokenVerifier {
	return &hmacVerifier{secret: []byte(secret)}
}

func (v *hmacVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if c.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: c.Subject, Role: c.Role}, nil
}
