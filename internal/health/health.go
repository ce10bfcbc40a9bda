package health

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/stage/internal/gateway"
)

// Liveness returns 200 while the process serves requests.
func Liveness() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// Readiness reports 200 when every route has a usable origin and 503 with
// the failing routes otherwise.
func Readiness(table *gateway.Table) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		checks := make(map[string]string)
		for _, r := range table.Routes() {
			if r.Usable() {
				checks[r.Name] = "ok"
				continue
			}
			checks[r.Name] = r.OriginErr.Error()
			status = http.StatusServiceUnavailable
		}

		resp := gin.H{"status": "ready", "checks": checks}
		if status != http.StatusOK {
			resp["status"] = "degraded"
		}
		c.JSON(status, resp)
	}
}
