package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"consensus-chat/client/pkg/logger"
	"consensus-chat/client/pkg/observability"
	wire "consensus-chat/client/pkg/ws"

	"github.com/redis/go-redis/v9"
)

// TransportName identifies the Redis push channel
const TransportName = "redis"

// Default channel names
const (
	DefaultOutboundChannel = "chat:outbound"
	DefaultInboundChannel  = "chat:events"
)

// Config configures the Redis push channel
type Config struct {
	Addr     string
	Password string
	DB       int
	// OutboundChannel receives chat frames published by the client
	OutboundChannel string
	// InboundChannel carries server envelopes back to the client
	InboundChannel string
	SendBuffer     int
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	// PingInterval is how often the connection is probed while subscribed
	PingInterval time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.OutboundChannel == "" {
		cfg.OutboundChannel = DefaultOutboundChannel
	}
	if cfg.InboundChannel == "" {
		cfg.InboundChannel = DefaultInboundChannel
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 500 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = cfg.ReconnectMin
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	return cfg
}

// Transport is a push channel over Redis pub/sub. Chat frames are published
// on the outbound channel; envelopes on the inbound channel are delivered on
// Events in arrival order.
type Transport struct {
	cfg       Config
	client    *redis.Client
	connected atomic.Bool
	send      chan []byte
	events    chan wire.Envelope

	stateMu sync.Mutex
	onState func(bool)

	log     *logger.Logger
	metrics *observability.Instruments
}

// NewTransport creates a disconnected transport; Run connects it
func NewTransport(cfg Config, log *logger.Logger, metrics *observability.Instruments) *Transport {
	cfg = cfg.withDefaults()
	return &Transport{
		cfg: cfg,
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		send:    make(chan []byte, cfg.SendBuffer),
		events:  make(chan wire.Envelope, cfg.SendBuffer),
		log:     logger.OrGlobal(log).WithComponent("redis_push").With("addr", cfg.Addr),
		metrics: metrics,
	}
}

func (t *Transport) Name() string { return TransportName }

// Connected reports whether the inbound subscription is live
func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// SetStateHandler registers fn to be called on every connect and disconnect
func (t *Transport) SetStateHandler(fn func(connected bool)) {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.onState = fn
}

// Events returns the inbound envelopes; the channel is closed when Run returns
func (t *Transport) Events() <-chan wire.Envelope {
	return t.events
}

// TrySend queues a chat frame for publishing without blocking
func (t *Transport) TrySend(ctx context.Context, req wire.ChatRequest) bool {
	if !t.Connected() {
		return false
	}
	data, err := encode(wire.TypeChat, req)
	if err != nil {
		t.log.LogError(err, "Failed to encode chat frame")
		return false
	}

	select {
	case t.send <- data:
		return true
	case <-ctx.Done():
		return false
	default:
		t.log.Warn("Push send queue full", "buffer", cap(t.send))
		return false
	}
}

// Run subscribes to the inbound channel and publishes queued frames until
// ctx is done, resubscribing with backoff after failures
func (t *Transport) Run(ctx context.Context) error {
	defer close(t.events)
	defer t.client.Close()

	delay := t.cfg.ReconnectMin
	for {
		err := t.serve(ctx)
		t.setConnected(ctx, false)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err == nil {
			delay = t.cfg.ReconnectMin
		}
		t.log.Warn("Push channel lost, resubscribing", "error", errString(err), "retry_in", delay.String())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if err != nil {
			delay *= 2
			if delay > t.cfg.ReconnectMax {
				delay = t.cfg.ReconnectMax
			}
		}
	}
}

// serve runs one subscription. It returns nil when an established
// subscription was lost and the dial error when none was established.
func (t *Transport) serve(ctx context.Context) error {
	sub := t.client.Subscribe(ctx, t.cfg.InboundChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	t.log.Info("Push channel subscribed", "channel", t.cfg.InboundChannel)
	t.setConnected(ctx, true)

	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var env wire.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				t.log.Warn("Malformed push frame skipped", "error", err.Error())
				continue
			}
			select {
			case t.events <- env:
			case <-ctx.Done():
				return nil
			}

		case data := <-t.send:
			if err := t.client.Publish(ctx, t.cfg.OutboundChannel, data).Err(); err != nil {
				t.log.Warn("Push frame lost on publish", "error", err.Error())
				return nil
			}

		case <-ticker.C:
			if err := t.client.Ping(ctx).Err(); err != nil {
				t.log.Warn("Push channel ping failed", "error", err.Error())
				return nil
			}
		}
	}
}

func (t *Transport) setConnected(ctx context.Context, connected bool) {
	if t.connected.Swap(connected) == connected {
		return
	}
	t.metrics.PushConnectivity(context.WithoutCancel(ctx), TransportName, connected)

	t.stateMu.Lock()
	fn := t.onState
	t.stateMu.Unlock()
	if fn != nil {
		fn(connected)
	}
}

func encode(messageType string, content any) ([]byte, error) {
	env, err := wire.NewEnvelope(messageType, content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
