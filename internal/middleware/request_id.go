package middleware

import (
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/logger"
)

// RequestIDHeader carries the request id in both directions.
const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRequestID returns a time-sortable identifier.
func NewRequestID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// RequestID reuses a well-formed incoming X-Request-ID or mints a ULID, and
// echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = NewRequestID()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestLogger attaches a request-scoped logger and logs one line per request.
func RequestLogger(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqLogger := base.With("request_id", c.GetString(RequestIDKey))
		c.Request = c.Request.WithContext(logger.IntoContext(c.Request.Context(), reqLogger))

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		switch {
		case status >= 500:
			reqLogger.Error("🌐 [HTTP] Request failed", attrs...)
		case status >= 400:
			reqLogger.Warn("🌐 [HTTP] Request rejected", attrs...)
		default:
			reqLogger.Info("🌐 [HTTP] Request served", attrs...)
		}
	}
}
