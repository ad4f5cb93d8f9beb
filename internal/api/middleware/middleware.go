// Package middleware carries the gin middleware of the management surface:
// request-ID tagging with logging, and the optional admin API key gate.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/synapsr/proxywarp/internal/api/models"
)

// requestIDKey is the gin context key the minted request ID is stored under.
const requestIDKey = "proxywarp_request_id"

// RequestLogger tags every management request with a short request ID — the
// same uuid-prefix scheme the proxy path stamps on its upstream log lines, so
// one grep correlates both surfaces — echoes it on X-Request-Id, and logs the
// outcome.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()[:8]
		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set("X-Request-Id", requestID)

		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path

		c.Next()

		if logger == nil {
			return
		}
		logger.Info("management request",
			"request_id", requestID,
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// RequestID returns the ID minted by RequestLogger for this request, or ""
// when the middleware did not run.
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// RequireAPIKey gates the admin group behind a shared secret sent as
// `X-API-Key`. Rejections are logged under the request ID and answered with
// the management API's JSON error shape carrying that same ID.
func RequireAPIKey(expected string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" || c.GetHeader("X-API-Key") == expected {
			c.Next()
			return
		}

		requestID := RequestID(c)
		if logger != nil {
			logger.Warn("admin request rejected",
				"request_id", requestID,
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP(),
			)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:     "invalid or missing X-API-Key",
			RequestID: requestID,
		})
	}
}
