package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"coastal-alert-service/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// RequestLoggingMiddleware tags each request with an id and logs its outcome.
func RequestLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)

		path := c.Request.URL.Path
		method := c.Request.Method
		c.Next()

		logger.WithRequestID(requestID).WithFields(logrus.Fields{
			"method":  method,
			"path":    path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Info("Request handled")
	}
}

func requestLogger(c *gin.Context, logger *logging.Logger) *logrus.Entry {
	return logger.WithRequestID(c.GetString("request_id"))
}
