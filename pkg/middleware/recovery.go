package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/storefront/pkg/common"
	"github.com/richxcame/storefront/pkg/logger"
	"go.uber.org/zap"
)

// Recovery turns a handler panic into a 500 and logs it with the request's
// correlation ID
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.WithContext(c.Request.Context()).Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)

				common.ErrorResponse(c, http.StatusInternalServerError, "internal server error")
				c.Abort()
			}
		}()

		c.Next()
	}
}
