package router

import (
	"net/http"

	"consensus-chat/client/internal/api"
	"consensus-chat/client/pkg/errors"
	"consensus-chat/client/pkg/health"
	"consensus-chat/client/pkg/logger"
	"consensus-chat/client/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Options holds the collaborators of the development server router
type Options struct {
	Env         string
	Logger      *logger.Logger
	Handler     *api.Handler
	Health      *health.Checker
	Metrics     http.Handler
	RateLimiter *middleware.RateLimiter
}

// Router is the HTTP router of the development server
type Router struct {
	Engine *gin.Engine
	Logger *logger.Logger

	handler *api.Handler
	health  *health.Checker
	metrics http.Handler
}

// New creates a router with the request pipeline installed
func New(opts Options) *Router {
	log := logger.OrGlobal(opts.Logger)

	if opts.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Request ids first so the request logger carries them
	engine.Use(middleware.RequestIDMiddleware())
	engine.Use(logger.Middleware(log))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware())

	if opts.RateLimiter != nil {
		engine.Use(opts.RateLimiter.Middleware())
	}

	return &Router{
		Engine:  engine,
		Logger:  log,
		handler: opts.Handler,
		health:  opts.Health,
		metrics: opts.Metrics,
	}
}

// SetupRoutes registers all routes. Middleware added afterwards does not
// apply to them.
func (r *Router) SetupRoutes() {
	r.setupHealthRoutes()

	if r.metrics != nil {
		r.Engine.GET("/metrics", gin.WrapH(r.metrics))
	}

	if r.handler != nil {
		r.handler.RegisterRoutes(r.Engine)
	}
}

// ServeHTTP makes the router usable as an http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.Engine.ServeHTTP(w, req)
}

// corsMiddleware allows browser clients, including WebSocket upgrade headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, Origin, Upgrade, Connection, Cache-Control, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
