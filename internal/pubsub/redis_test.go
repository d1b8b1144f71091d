package pubsub

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"consensus-chat/client/pkg/logger"
	wire "consensus-chat/client/pkg/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

func unreachableConfig() Config {
	return Config{
		Addr:         "127.0.0.1:1",
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 20 * time.Millisecond,
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, "localhost:6379", cfg.Addr)
	assert.Equal(t, DefaultOutboundChannel, cfg.OutboundChannel)
	assert.Equal(t, DefaultInboundChannel, cfg.InboundChannel)
	assert.Equal(t, 64, cfg.SendBuffer)
	assert.GreaterOrEqual(t, cfg.ReconnectMax, cfg.ReconnectMin)
}

func TestTransport_TrySendWhileDisconnected(t *testing.T) {
	transport := NewTransport(unreachableConfig(), logger.Discard(), nil)

	assert.Equal(t, TransportName, transport.Name())
	assert.False(t, transport.Connected())
	assert.False(t, transport.TrySend(context.Background(), wire.ChatRequest{Message: "hi"}))
}

func TestTransport_RunRetriesUntilCancelled(t *testing.T) {
	transport := NewTransport(unreachableConfig(), logger.Discard(), nil)
	var states []bool
	transport.SetStateHandler(func(connected bool) { states = append(states, connected) })

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := transport.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, states)

	_, open := <-transport.Events()
	assert.False(t, open)
}

func TestEncode(t *testing.T) {
	data, err := encode(wire.TypeChat, wire.ChatRequest{Message: "hi", SelectedModels: []string{}, AttachedFileIDs: []string{}})
	require.NoError(t, err)

	var env wire.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, wire.TypeChat, env.Type)

	var req wire.ChatRequest
	require.NoError(t, env.Decode(&req))
	assert.Equal(t, "hi", req.Message)
}

type echoHandler struct{}

func (echoHandler) HandleChat(_ context.Context, req wire.ChatRequest, emit func(wire.Envelope)) {
	env, _ := wire.NewEnvelope(wire.TypeMessage, wire.InboundEvent{Role: "assistant", Content: "echo: " + req.Message})
	emit(env)
}

// Needs a live Redis: REDIS_ADDR=localhost:6379 go test ./internal/pubsub/
func TestTransport_RoundTripThroughBridge(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	cfg := Config{
		Addr:            addr,
		OutboundChannel: "test:outbound:" + t.Name(),
		InboundChannel:  "test:inbound:" + t.Name(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	bridge := NewBridge(cfg, echoHandler{}, logger.Discard())
	go bridge.Run(ctx)

	transport := NewTransport(cfg, logger.Discard(), nil)
	connected := make(chan struct{})
	transport.SetStateHandler(func(up bool) {
		if up {
			close(connected)
		}
	})
	go transport.Run(ctx)

	select {
	case <-connected:
	case <-ctx.Done():
		t.Fatal("transport never connected")
	}
	// Give the bridge time to subscribe before publishing
	time.Sleep(100 * time.Millisecond)

	require.True(t, transport.TrySend(ctx, wire.ChatRequest{Message: "ping me"}))

	select {
	case env := <-transport.Events():
		var ev wire.InboundEvent
		require.NoError(t, env.Decode(&ev))
		assert.Equal(t, "echo: ping me", ev.Content)
	case <-ctx.Done():
		t.Fatal("no reply received")
	}
}
