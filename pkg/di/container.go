package di

import (
	"context"
	"fmt"
	"sync"
	"time"

	"consensus-chat/client/internal/api"
	"consensus-chat/client/internal/pubsub"
	"consensus-chat/client/internal/service"
	"consensus-chat/client/internal/ws"
	"consensus-chat/client/pkg/cache"
	"consensus-chat/client/pkg/config"
	"consensus-chat/client/pkg/health"
	"consensus-chat/client/pkg/logger"
	"consensus-chat/client/pkg/observability"
	"consensus-chat/client/pkg/resilience"
	wire "consensus-chat/client/pkg/ws"
)

const healthCheckPeriod = 30 * time.Second

// PushChannel is a push transport the container runs in the background
type PushChannel interface {
	service.PushTransport
	service.StateNotifier
	Events() <-chan wire.Envelope
	Run(ctx context.Context) error
}

// Container holds all the dependencies of a chat client
type Container struct {
	Config       *config.Config
	Logger       *logger.Logger
	Metrics      *observability.Instruments
	API          *api.Client
	Push         PushChannel
	Conversation *service.Conversation
	Health       *health.Checker

	historyCache *cache.Cache
}

// NewLogger builds the process logger from the logging settings
func NewLogger(cfg *config.Config) *logger.Logger {
	lc := logger.DefaultConfig()
	lc.Level = cfg.Logging.Level
	lc.JSON = cfg.Logging.Format != "text"
	return logger.New(lc)
}

// New wires a conversation from configuration. metrics may be nil.
func New(cfg *config.Config, log *logger.Logger, metrics *observability.Instruments) (*Container, error) {
	if cfg == nil {
		cfg = config.New()
	}
	if log == nil {
		log = NewLogger(cfg)
	}

	dedup, err := service.ParseDedupStrategy(cfg.Reconciler.DedupStrategy)
	if err != nil {
		return nil, fmt.Errorf("failed to configure reconciler: %w", err)
	}
	driver, err := service.NewPhaseDriver(cfg.Consensus.PhaseMode, service.RealClock(), service.DefaultPhaseSteps(
		cfg.Consensus.ProcessingDelay,
		cfg.Consensus.ConsensusDelay,
		cfg.Consensus.FinalizingDelay,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to configure consensus tracker: %w", err)
	}

	var historyCache *cache.Cache
	if cfg.Cache.Enabled {
		historyCache = cache.New(cache.Options{
			DefaultExpiration: cfg.Cache.TTL,
			CleanupInterval:   cfg.Cache.PurgeWindow,
			MaxItems:          cfg.Cache.MaxSize,
		})
	}

	breaker := resilience.DefaultCircuitBreakerConfig("chat-api")
	breaker.FailureThreshold = cfg.Breaker.FailureThreshold
	breaker.SuccessThreshold = cfg.Breaker.SuccessThreshold
	breaker.RetryTimeout = cfg.Breaker.RetryTimeout

	client := api.NewClient(api.ClientConfig{
		BaseURL:   cfg.Client.APIBaseURL,
		Timeout:   cfg.Client.HTTPTimeout,
		RateLimit: cfg.Client.RateLimit,
		RateBurst: cfg.Client.RateLimitBurst,
		Breaker:   breaker,
		History:   historyCache,
	}, log)

	push, err := newPushChannel(cfg, log, metrics)
	if err != nil {
		return nil, err
	}

	var transport service.PushTransport
	if push != nil {
		transport = push
	}

	conv := service.NewConversation(service.ConversationOptions{
		Staging:       service.NewAttachmentStagingArea(client, log, metrics),
		Tracker:       service.NewConsensusStatusTracker(driver, log, metrics),
		Reconciler:    service.NewMessageReconciler(dedup, log, metrics),
		Arbitrator:    service.NewChannelArbitrator(transport, client, log, metrics),
		History:       client,
		DefaultModels: cfg.Consensus.DefaultModels,
		Logger:        log,
		Metrics:       metrics,
	})
	if push != nil {
		push.SetStateHandler(conv.ChannelChanged)
	}

	checker := health.NewChecker(log, healthCheckPeriod)
	checker.RegisterAPICheck("chat", client.Ping)
	checker.MarkCritical("api-chat")
	if push != nil {
		checker.RegisterPushCheck(push.Name(), push.Connected)
	}

	log.Info("Chat client wired",
		"api", cfg.Client.APIBaseURL,
		"push_transport", cfg.Client.PushTransport,
		"dedup", dedup.Name(),
		"phase_driver", driver.Name(),
	)

	return &Container{
		Config:       cfg,
		Logger:       log,
		Metrics:      metrics,
		API:          client,
		Push:         push,
		Conversation: conv,
		Health:       checker,
		historyCache: historyCache,
	}, nil
}

func newPushChannel(cfg *config.Config, log *logger.Logger, metrics *observability.Instruments) (PushChannel, error) {
	switch cfg.Client.PushTransport {
	case config.PushWebSocket:
		return ws.NewClient(ws.ClientConfig{
			URL:          cfg.Client.PushURL,
			ReconnectMin: cfg.Client.ReconnectMin,
			ReconnectMax: cfg.Client.ReconnectMax,
			SendBuffer:   cfg.Client.SendBuffer,
		}, log, metrics), nil
	case config.PushRedis:
		return pubsub.NewTransport(pubsub.Config{
			Addr:            cfg.Redis.Addr,
			Password:        cfg.Redis.Password,
			DB:              cfg.Redis.DB,
			OutboundChannel: cfg.Redis.OutboundChannel,
			InboundChannel:  cfg.Redis.InboundChannel,
			SendBuffer:      cfg.Client.SendBuffer,
			ReconnectMin:    cfg.Client.ReconnectMin,
			ReconnectMax:    cfg.Client.ReconnectMax,
		}, log, metrics), nil
	case config.PushNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown push transport %q", cfg.Client.PushTransport)
	}
}

// Run keeps the push channel and the inbound event loop running until ctx
// is done. Without a push channel it only runs health checks.
func (c *Container) Run(ctx context.Context) {
	c.Health.Start(ctx)

	if c.Push == nil {
		<-ctx.Done()
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := c.Push.Run(ctx); err != nil && ctx.Err() == nil {
			c.Logger.LogError(err, "Push channel stopped")
		}
	}()
	go func() {
		defer wg.Done()
		_ = c.Conversation.Run(ctx, c.Push.Events())
	}()
	wg.Wait()
}

// Close releases background resources not tied to Run's context
func (c *Container) Close() {
	if c.historyCache != nil {
		c.historyCache.Close()
	}
}
