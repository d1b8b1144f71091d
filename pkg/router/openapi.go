package router

import (
	"net/http"

	"consensus-chat/client/pkg/validator"

	"github.com/gin-gonic/gin"
)

// AddOpenAPIValidation validates chat API requests against the bundled schema
// and serves the schema at /api/docs/openapi.yaml. Call it before SetupRoutes.
func (r *Router) AddOpenAPIValidation() error {
	v, err := validator.NewOpenAPIValidator()
	if err != nil {
		r.Logger.LogError(err, "Failed to initialize OpenAPI validator")
		return err
	}

	r.Engine.Use(v.Middleware())
	r.Engine.GET("/api/docs/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", validator.ChatAPISchema())
	})
	r.Logger.Info("OpenAPI validation enabled", "schema", "/api/docs/openapi.yaml")
	return nil
}
