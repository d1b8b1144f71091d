package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// setupHealthRoutes registers health check endpoints
func (r *Router) setupHealthRoutes() {
	var handler gin.HandlerFunc
	if r.health != nil {
		handler = gin.WrapF(r.health.HTTPHandler())
	} else {
		handler = func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":    "ok",
				"timestamp": time.Now().Format(time.RFC3339),
			})
		}
	}

	// Both paths for compatibility
	r.Engine.GET("/health", handler)
	r.Engine.GET("/api/health", handler)
}
