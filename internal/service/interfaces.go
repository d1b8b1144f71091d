package service

import (
	"context"
	"time"

	"consensus-chat/client/internal/models"
	"consensus-chat/client/pkg/ws"
)

// PushTransport is a fire-and-forget channel. A send it accepts produces no
// return value; results arrive later as inbound envelopes.
type PushTransport interface {
	// Name identifies the transport in logs, metrics and SendResult.
	Name() string
	// Connected reports the live connectivity flag.
	Connected() bool
	// TrySend queues req for delivery and reports whether it was accepted.
	// A false return means nothing was sent.
	TrySend(ctx context.Context, req ws.ChatRequest) bool
}

// FallbackTransport is the synchronous request/response path
type FallbackTransport interface {
	SendMessage(ctx context.Context, req ws.ChatRequest) (*ws.FallbackResponse, error)
}

// Uploader persists an attachment and returns the stored file id
type Uploader interface {
	Upload(ctx context.Context, file models.FileSource, onProgress func(sent, total int64)) (string, error)
}

// HistoryLoader fetches the stored log of a session
type HistoryLoader interface {
	History(ctx context.Context, sessionID string) ([]ws.InboundEvent, error)
}

// StateNotifier is implemented by push transports that report connectivity changes
type StateNotifier interface {
	SetStateHandler(func(connected bool))
}

// Timer is a cancellable scheduled callback
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks; tests substitute a manual clock
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// RealClock returns a Clock backed by the time package
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
