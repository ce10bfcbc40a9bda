package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/stage/internal/gateway"
)

// RouteInfo describes one entry of the route table.
type RouteInfo struct {
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
	Origin string `json:"origin"`
	Usable bool   `json:"usable"`
	Error  string `json:"error,omitempty"`
}

// DescribeRoutes converts the table for display.
func DescribeRoutes(table *gateway.Table) []RouteInfo {
	routes := table.Routes()
	out := make([]RouteInfo, 0, len(routes))
	for _, r := range routes {
		info := RouteInfo{
			Name:   r.Name,
			Prefix: r.Prefix,
			Origin: r.RawOrigin(),
			Usable: r.Usable(),
		}
		if r.OriginErr != nil {
			info.Error = r.OriginErr.Error()
		}
		out = append(out, info)
	}
	return out
}

// ListRoutes handles GET /api/routes.
func ListRoutes(table *gateway.Table) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"routes": DescribeRoutes(table)})
	}
}
