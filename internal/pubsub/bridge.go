package pubsub

import (
	"context"
	"encoding/json"

	apperrors "consensus-chat/client/pkg/errors"
	"consensus-chat/client/pkg/logger"
	wire "consensus-chat/client/pkg/ws"

	"github.com/redis/go-redis/v9"
)

// ChatHandler answers chat frames; emit publishes an envelope to the client
type ChatHandler interface {
	HandleChat(ctx context.Context, req wire.ChatRequest, emit func(wire.Envelope))
}

// Bridge is the server side of the Redis push channel. It answers frames
// published on the outbound channel, one at a time, and publishes the
// resulting envelopes on the inbound channel.
type Bridge struct {
	cfg     Config
	client  *redis.Client
	handler ChatHandler
	log     *logger.Logger
}

// NewBridge creates a bridge dispatching chat frames to handler
func NewBridge(cfg Config, handler ChatHandler, log *logger.Logger) *Bridge {
	cfg = cfg.withDefaults()
	return &Bridge{
		cfg: cfg,
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		handler: handler,
		log:     logger.OrGlobal(log).WithComponent("redis_bridge").With("addr", cfg.Addr),
	}
}

// Run serves the outbound channel until ctx is done
func (b *Bridge) Run(ctx context.Context) error {
	defer b.client.Close()

	sub := b.client.Subscribe(ctx, b.cfg.OutboundChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return apperrors.NewTransportError(err, "redis subscribe failed")
	}
	b.log.Info("Redis bridge subscribed", "channel", b.cfg.OutboundChannel)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (b *Bridge) handle(ctx context.Context, payload []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.publishError(ctx, apperrors.CodeInvalidEvent, "malformed frame")
		return
	}

	switch env.Type {
	case wire.TypeChat:
		var req wire.ChatRequest
		if err := env.Decode(&req); err != nil {
			b.publishError(ctx, apperrors.CodeInvalidRequest, "malformed chat frame")
			return
		}
		if b.handler == nil {
			b.publishError(ctx, apperrors.CodeTransportUnavailable, "no chat handler configured")
			return
		}
		b.handler.HandleChat(ctx, req, func(out wire.Envelope) { b.publish(ctx, out) })

	case wire.TypePing:
		b.publish(ctx, wire.Envelope{Type: wire.TypePong})

	default:
		b.publishError(ctx, apperrors.CodeInvalidEvent, "unsupported frame type "+env.Type)
	}
}

func (b *Bridge) publish(ctx context.Context, env wire.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		b.log.LogError(err, "Failed to encode envelope", "type", env.Type)
		return
	}
	if err := b.client.Publish(ctx, b.cfg.InboundChannel, data).Err(); err != nil {
		b.log.Warn("Envelope lost on publish", "type", env.Type, "error", err.Error())
	}
}

func (b *Bridge) publishError(ctx context.Context, code, message string) {
	env, err := wire.NewEnvelope(wire.TypeError, wire.ErrorEvent{Code: code, Message: message})
	if err != nil {
		return
	}
	b.publish(ctx, env)
}
