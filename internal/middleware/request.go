package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kartikbazzad/bunbase/stage/internal/metrics"
	"github.com/kartikbazzad/bunbase/stage/pkg/logger"
)

// RequestIDHeader carries the request id to and from the gateway.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns every request an id, reusing the caller's when present,
// and stores it on the request context for logging.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AccessLog logs one line per request after it completes.
func AccessLog(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"bytes", c.Writer.Size(),
		}
		if backend := c.GetString(metrics.BackendKey); backend != "" {
			attrs = append(attrs, "backend", backend)
		}
		l := logger.FromContext(c.Request.Context(), log)
		if c.Writer.Status() >= http.StatusInternalServerError {
			l.Warn("request", attrs...)
			return
		}
		l.Info("request", attrs...)
	}
}

// Recovery turns handler panics into a 500. http.ErrAbortHandler is passed
// on so net/http can drop a connection whose response was cut off midway.
func Recovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.FromContext(c.Request.Context(), log).Error("panic recovered",
				"path", c.Request.URL.Path, "panic", rec)
			if !c.Writer.Written() {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
				return
			}
			c.Abort()
		}()
		c.Next()
	}
}
