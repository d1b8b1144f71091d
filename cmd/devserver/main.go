package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"consensus-chat/client/internal/api"
	"consensus-chat/client/internal/pubsub"
	"consensus-chat/client/internal/ws"
	"consensus-chat/client/pkg/config"
	"consensus-chat/client/pkg/di"
	"consensus-chat/client/pkg/health"
	"consensus-chat/client/pkg/logger"
	"consensus-chat/client/pkg/middleware"
	"consensus-chat/client/pkg/observability"
	"consensus-chat/client/pkg/router"

	"golang.org/x/time/rate"
)

func main() {
	cfg := config.New()

	log := di.NewLogger(cfg)
	logger.SetGlobal(log)

	log.Info("Starting development chat server", "version", os.Getenv("APP_VERSION"), "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, shutdownMetrics, err := observability.SetupMetrics("consensus-chat-devserver")
	if err != nil {
		log.LogError(err, "Failed to initialize metrics")
		os.Exit(1)
	}
	defer shutdownMetrics(context.Background())

	if os.Getenv("TRACE_STDOUT") == "true" {
		shutdownTracing, err := observability.SetupTracing("consensus-chat-devserver", os.Stdout)
		if err != nil {
			log.LogError(err, "Failed to initialize tracing")
			os.Exit(1)
		}
		defer shutdownTracing(context.Background())
	}

	store := api.NewStore()
	responder := api.NewResponder(store, cfg.Server.PhaseStepDelay, log)

	hub := ws.NewHub(responder, log)
	go hub.Run(ctx)

	checker := health.NewChecker(log, 30*time.Second)
	checker.RegisterCheck("hub", func(context.Context) (health.Status, string, error) {
		return health.StatusUp, fmt.Sprintf("%d push peers connected", hub.ClientCount()), nil
	})

	if cfg.Client.PushTransport == config.PushRedis {
		bridge := pubsub.NewBridge(pubsub.Config{
			Addr:            cfg.Redis.Addr,
			Password:        cfg.Redis.Password,
			DB:              cfg.Redis.DB,
			OutboundChannel: cfg.Redis.OutboundChannel,
			InboundChannel:  cfg.Redis.InboundChannel,
		}, responder, log)
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.LogError(err, "Redis bridge stopped")
			}
		}()
	}
	checker.Start(ctx)

	limiter := middleware.NewRateLimiter(log, middleware.RateLimiterOptions{
		Limit:          rate.Limit(cfg.Server.RateLimit),
		Burst:          cfg.Server.RateLimitBurst,
		ExpiryDuration: time.Hour,
	})
	go limiter.Run(ctx)

	r := router.New(router.Options{
		Env:         cfg.Server.Env,
		Logger:      log,
		Handler:     api.NewHandler(store, responder, hub),
		Health:      checker,
		Metrics:     metricsHandler,
		RateLimiter: limiter,
	})
	if cfg.Server.OpenAPIValidation {
		if err := r.AddOpenAPIValidation(); err != nil {
			os.Exit(1)
		}
	}
	r.SetupRoutes()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}

	log.Info("Server exited gracefully")
}
