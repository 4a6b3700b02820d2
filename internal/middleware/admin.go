package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminMiddleware guards the mutating control endpoints (enable, disable,
// scan, risk limits) behind an operator API key. When no key is configured
// the guard is open, which is the expected mode for local development.
type AdminMiddleware struct {
	apiKey string
}

// NewAdminMiddleware creates the guard with the configured operator key.
func NewAdminMiddleware(apiKey string) *AdminMiddleware {
	return &AdminMiddleware{apiKey: apiKey}
}

// Enabled reports whether an operator key is configured.
func (am *AdminMiddleware) Enabled() bool {
	return am.apiKey != ""
}

// RequireAdminAuth validates the operator API key from either a Bearer
// Authorization header or an X-API-Key header.
func (am *AdminMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !am.Enabled() {
			c.Next()
			return
		}

		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") && am.matches(parts[1]) {
				c.Next()
				return
			}
		}

		if am.matches(c.GetHeader("X-API-Key")) {
			c.Next()
			return
		}

		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "Unauthorized",
			"message": "Valid operator API key required for this endpoint",
		})
		c.Abort()
	}
}

func (am *AdminMiddleware) matches(candidate string) bool {
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(am.apiKey)) == 1
}
