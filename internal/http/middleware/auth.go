// README: Bearer-token auth middleware and role gates.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ridecore/internal/auth"
)

const identityKey = "identity"

// Auth parses an optional Authorization header. A present but invalid token
// fails the request; a missing one just leaves the identity unset so guest
// flows can proceed.
func Auth(verifier auth.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "malformed authorization header", "code": "unauthorized"})
			return
		}
		id, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": "unauthorized"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireUser aborts unless a verified identity is present.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IdentityFrom(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}
		c.Next()
	}
}

// RequireDriver aborts unless the verified identity carries the driver role.
func RequireDriver() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := IdentityFrom(c)
		if id == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required", "code": "unauthorized"})
			return
		}
		if id.Role != "driver" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "driver role required", "code": "forbidden"})
			return
		}
		c.Next()
	}
}

// IdentityFrom returns the verified identity, or nil for anonymous requests.
func IdentityFrom(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*auth.Identity)
	return id
}

// GuestToken returns the raw guest token header, if any.
func GuestToken(c *gin.Context) string {
	return c.GetHeader("X-Guest-Token")
}
