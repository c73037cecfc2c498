package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/storefront/pkg/logger"
	"go.uber.org/zap"
)

// RequestLogger logs every request with its route and correlation ID.
// Requests to skipPaths (probes, scrapes) are not logged. Server errors log
// at Error and client errors at Warn.
func RequestLogger(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if _, ok := skip[path]; ok {
			return
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.String("correlation_id", GetCorrelationID(c)),
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}

		switch {
		case len(c.Errors) > 0:
			logger.Get().Error("Request completed with errors", append(fields, zap.String("errors", c.Errors.String()))...)
		case status >= 500:
			logger.Get().Error("Request failed", fields...)
		case status >= 400:
			logger.Get().Warn("Request rejected", fields...)
		default:
			logger.Get().Info("Request completed", fields...)
		}
	}
}
