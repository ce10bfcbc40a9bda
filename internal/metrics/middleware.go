package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BackendKey is the gin context key holding the backend a request was
// routed to.
const BackendKey = "backend"

// Middleware records request count and duration.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		backend := c.GetString(BackendKey)
		if backend == "" {
			backend = "none"
		}
		status := strconv.Itoa(c.Writer.Status())
		RequestTotal.WithLabelValues(backend, c.Request.Method, status).Inc()
		RequestDuration.WithLabelValues(backend, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
