package middleware

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeaders adds security-related HTTP headers to JSON API responses.
// HSTS is only sent in production.
func SecurityHeaders(environment string) gin.HandlerFunc {
	production := environment == "production"
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Responses are data, never documents
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		if production {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
