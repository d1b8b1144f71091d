package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	apperrors "consensus-chat/client/pkg/errors"
	"consensus-chat/client/pkg/logger"
	wire "consensus-chat/client/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
}

// frameQueueSize bounds the frames a peer may have waiting for its handler
const frameQueueSize = 16

// ChatHandler answers chat frames received by the hub. emit delivers an
// envelope to the peer that sent the frame.
type ChatHandler interface {
	HandleChat(ctx context.Context, req wire.ChatRequest, emit func(wire.Envelope))
}

// Hub is the server side of the push channel used by the development server
type Hub struct {
	clients    map[*Peer]bool
	broadcast  chan []byte
	register   chan *Peer
	unregister chan *Peer
	done       chan struct{}
	handler    ChatHandler
	mu         sync.Mutex
	log        *logger.Logger
}

// NewHub creates a hub dispatching chat frames to handler
func NewHub(handler ChatHandler, log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Peer]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Peer),
		unregister: make(chan *Peer),
		done:       make(chan struct{}),
		handler:    handler,
		log:        logger.OrGlobal(log).WithComponent("hub"),
	}
}

// Run services registrations and broadcasts until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for peer := range h.clients {
				peer.close()
				delete(h.clients, peer)
			}
			h.mu.Unlock()
			return

		case peer := <-h.register:
			h.mu.Lock()
			h.clients[peer] = true
			h.mu.Unlock()
			h.log.Info("Peer registered", "peer_id", peer.ID)

		case peer := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[peer]; ok {
				delete(h.clients, peer)
				peer.close()
				h.log.Info("Peer unregistered", "peer_id", peer.ID)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for peer := range h.clients {
				if !peer.enqueue(message) {
					peer.close()
					delete(h.clients, peer)
					h.log.Warn("Peer removed due to blocked channel", "peer_id", peer.ID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends env to every connected peer
func (h *Hub) Broadcast(ctx context.Context, env wire.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
		return nil
	case <-h.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClientCount returns the number of registered peers
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Peer is one connection registered with the hub
type Peer struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub
	log  *logger.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func (p *Peer) enqueue(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

func (p *Peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.send)
	}
}

func (p *Peer) emit(env wire.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		p.log.LogError(err, "Failed to encode envelope", "type", env.Type)
		return
	}
	if !p.enqueue(data) {
		p.log.Debug("Envelope dropped for closed peer", "type", env.Type)
	}
}

// readPump reads frames and hands them to a single handler goroutine, so
// a peer's frames are answered in the order they were sent. Pings are
// answered inline.
func (p *Peer) readPump(ctx context.Context) {
	frames := make(chan wire.Envelope, frameQueueSize)
	go p.handleLoop(ctx, frames)

	defer func() {
		close(frames)
		select {
		case p.hub.unregister <- p:
		case <-p.hub.done:
		}
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				p.log.Warn("Peer read failed", "error", err.Error())
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			p.log.Warn("Malformed frame skipped", "error", err.Error())
			continue
		}
		if env.Type == wire.TypePing {
			p.emit(wire.Envelope{Type: wire.TypePong})
			continue
		}
		frames <- env
	}
}

func (p *Peer) handleLoop(ctx context.Context, frames <-chan wire.Envelope) {
	for env := range frames {
		p.handle(ctx, env)
	}
}

func (p *Peer) handle(ctx context.Context, env wire.Envelope) {
	switch env.Type {
	case wire.TypeChat:
		var req wire.ChatRequest
		if err := env.Decode(&req); err != nil {
			p.sendError(apperrors.CodeInvalidEvent, "invalid chat frame")
			return
		}
		if p.hub.handler == nil {
			p.sendError(apperrors.CodeInternal, "no chat handler configured")
			return
		}
		p.hub.handler.HandleChat(ctx, req, p.emit)
	case wire.TypePing:
		p.emit(wire.Envelope{Type: wire.TypePong})
	default:
		p.log.Debug("Unknown frame type", "type", env.Type)
	}
}

func (p *Peer) sendError(code, message string) {
	env, err := wire.NewEnvelope(wire.TypeError, wire.ErrorEvent{Code: code, Message: message})
	if err == nil {
		p.emit(env)
	}
}

func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades the request and registers the connection with hub
func ServeWs(hub *Hub, c *gin.Context) {
	log := logger.FromContext(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.LogError(err, "Error upgrading connection")
		return
	}

	peerID := c.Query("clientId")
	if peerID == "" {
		peerID = uuid.New().String()
	}
	peer := &Peer{
		ID:   peerID,
		conn: conn,
		hub:  hub,
		send: make(chan []byte, 256),
		log:  hub.log.With("peer_id", peerID),
	}

	select {
	case hub.register <- peer:
	case <-hub.done:
		conn.Close()
		return
	}
	log.Info("WebSocket connection established", "peer_id", peerID)

	go peer.writePump()
	go peer.readPump(context.WithoutCancel(c.Request.Context()))
}
