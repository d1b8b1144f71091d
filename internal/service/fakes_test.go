package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"consensus-chat/client/internal/models"
	"consensus-chat/client/pkg/logger"
	"consensus-chat/client/pkg/ws"
)

var testLog = logger.Discard()

const (
	timeout = 2 * time.Second
	tick    = 10 * time.Millisecond
)

// manualClock fires timers only when Advance moves past their deadline
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves the clock forward and runs due timers in deadline order
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

// Pending counts timers that have neither fired nor been stopped
func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakePush struct {
	mu        sync.Mutex
	connected bool
	accept    bool
	sent      []ws.ChatRequest
}

func (p *fakePush) Name() string { return "websocket" }

func (p *fakePush) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePush) setConnected(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
}

func (p *fakePush) TrySend(_ context.Context, req ws.ChatRequest) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.accept {
		return false
	}
	p.sent = append(p.sent, req)
	return true
}

func (p *fakePush) Sent() []ws.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ws.ChatRequest(nil), p.sent...)
}

type fakeFallback struct {
	mu       sync.Mutex
	requests []ws.ChatRequest
	respond  func(ws.ChatRequest) (*ws.FallbackResponse, error)
}

func (f *fakeFallback) SendMessage(_ context.Context, req ws.ChatRequest) (*ws.FallbackResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return &ws.FallbackResponse{Message: ws.FallbackMessage{
			ID:        "srv-1",
			Role:      "assistant",
			Content:   "reply to " + req.Message,
			SessionID: sessionOf(req),
		}}, nil
	}
	return respond(req)
}

func (f *fakeFallback) Requests() []ws.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ws.ChatRequest(nil), f.requests...)
}

func sessionOf(req ws.ChatRequest) ws.SessionRef {
	if req.SessionID == nil {
		return ""
	}
	return *req.SessionID
}

// fakeUploader fails files whose name is listed in fail and blocks files
// listed in block until their context is cancelled
type fakeUploader struct {
	fail  map[string]bool
	block map[string]bool
}

var errUploadRejected = errors.New("upload rejected")

func (u *fakeUploader) Upload(ctx context.Context, file models.FileSource, onProgress func(sent, total int64)) (string, error) {
	if u.block[file.Name()] {
		<-ctx.Done()
		return "", ctx.Err()
	}
	onProgress(5, 10)
	if u.fail[file.Name()] {
		return "", errUploadRejected
	}
	onProgress(10, 10)
	return "file-" + file.Name(), nil
}

type fakeHistory struct {
	events map[string][]ws.InboundEvent
	err    error
}

func (h *fakeHistory) History(_ context.Context, sessionID string) ([]ws.InboundEvent, error) {
	if h.err != nil {
		return nil, h.err
	}
	return h.events[sessionID], nil
}

func msg(id, role, content, session string) models.Message {
	return models.Message{ID: id, Role: models.Role(role), Content: content, SessionID: session}
}

func contents(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func envelope(t interface{ Fatalf(string, ...any) }, typ string, content any) ws.Envelope {
	env, err := ws.NewEnvelope(typ, content)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return env
}
