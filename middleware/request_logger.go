package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"knoweasy/logger"
)

const (
	RequestIDHeader = "X-Request-ID"
	ContextLogger   = "logger"
)

// RequestLogger tags each request with an id and logs it once it completes.
// The request-scoped entry is stored under ContextLogger.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		entry := log.WithRequestID(requestID)
		c.Set(ContextLogger, entry)

		start := time.Now()
		c.Next()

		entry = entry.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		})
		if userID, ok := c.Get(ContextUserID); ok {
			entry = entry.WithField("user_id", userID)
		}

		switch {
		case c.Writer.Status() >= 500:
			entry.Error("Request failed")
		case len(c.Errors) > 0:
			entry.WithField("errors", c.Errors.String()).Warn("Request completed with errors")
		default:
			entry.Info("Request completed")
		}
	}
}
