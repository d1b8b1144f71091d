package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"consensus-chat/client/pkg/logger"
	"consensus-chat/client/pkg/observability"
	wire "consensus-chat/client/pkg/ws"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

// TransportName identifies the websocket push channel
const TransportName = "websocket"

// ClientConfig configures the push channel client
type ClientConfig struct {
	URL          string
	Header       http.Header
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	SendBuffer   int
}

// Client is the client side of the push channel. It keeps one websocket
// connection alive, reconnecting with backoff, and delivers inbound
// envelopes on Events in arrival order.
type Client struct {
	cfg       ClientConfig
	dialer    *websocket.Dialer
	connected atomic.Bool
	send      chan []byte
	events    chan wire.Envelope

	stateMu sync.Mutex
	onState func(bool)

	log     *logger.Logger
	metrics *observability.Instruments
}

// NewClient creates a disconnected client; Run connects it
func NewClient(cfg ClientConfig, log *logger.Logger, metrics *observability.Instruments) *Client {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 500 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = cfg.ReconnectMin
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		send:    make(chan []byte, cfg.SendBuffer),
		events:  make(chan wire.Envelope, cfg.SendBuffer),
		log:     logger.OrGlobal(log).WithComponent("push_client").With("url", cfg.URL),
		metrics: metrics,
	}
}

func (c *Client) Name() string { return TransportName }

// Connected reports whether a connection is currently established
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// SetStateHandler registers fn to be called on every connect and disconnect
func (c *Client) SetStateHandler(fn func(connected bool)) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.onState = fn
}

// Events returns the inbound envelopes; the channel is closed when Run returns
func (c *Client) Events() <-chan wire.Envelope {
	return c.events
}

// TrySend queues a chat frame. It never blocks: a full queue or a dropped
// connection rejects the frame so the caller can use the fallback.
func (c *Client) TrySend(ctx context.Context, req wire.ChatRequest) bool {
	if !c.Connected() {
		return false
	}
	env, err := wire.NewEnvelope(wire.TypeChat, req)
	if err != nil {
		c.log.LogError(err, "Failed to encode chat frame")
		return false
	}
	data, err := json.Marshal(env)
	if err != nil {
		c.log.LogError(err, "Failed to encode chat frame")
		return false
	}

	select {
	case c.send <- data:
		return true
	case <-ctx.Done():
		return false
	default:
		c.log.Warn("Push send queue full", "buffer", cap(c.send))
		return false
	}
}

// Run keeps the connection alive until ctx is done
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	delay := c.cfg.ReconnectMin
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("Push channel dial failed", "error", err.Error(), "retry_in", delay.String())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.cfg.ReconnectMax {
				delay = c.cfg.ReconnectMax
			}
			continue
		}

		delay = c.cfg.ReconnectMin
		c.log.Info("Push channel connected")
		c.setConnected(ctx, true)
		c.serve(ctx, conn)
		c.setConnected(ctx, false)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("Push channel disconnected, reconnecting")
	}
}

// serve runs the pumps of one connection and returns when it is gone
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.readPump(ctx, conn)
	}()

	c.writePump(ctx, conn, done)
	conn.Close()
	<-done
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("Push channel read failed", "error", err.Error())
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("Malformed push frame skipped", "error", err.Error())
			continue
		}
		if env.Type == wire.TypePong {
			continue
		}

		select {
		case c.events <- env:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-done:
			return

		case data := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Warn("Push frame lost on write", "error", err.Error())
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) setConnected(ctx context.Context, connected bool) {
	if c.connected.Swap(connected) == connected {
		return
	}
	c.metrics.PushConnectivity(context.WithoutCancel(ctx), TransportName, connected)

	c.stateMu.Lock()
	fn := c.onState
	c.stateMu.Unlock()
	if fn != nil {
		fn(connected)
	}
}
