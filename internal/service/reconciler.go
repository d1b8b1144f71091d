package service

import (
	"context"
	"fmt"

	"consensus-chat/client/internal/models"
	"consensus-chat/client/pkg/logger"
	"consensus-chat/client/pkg/observability"
)

// Reasons an inbound message is not appended
const (
	DropForeignSession = "foreign_session"
	DropDuplicate      = "duplicate"
	DropInvalid        = "invalid"
)

// DedupStrategy decides whether an inbound message is already in the log.
//
// ContentDedup matches on exact content and tolerates echo paths that
// assign different ids to the same message. IDDedup matches on id and only
// falls back to content for messages that arrive without one.
type DedupStrategy interface {
	Name() string
	IsDuplicate(log *SessionLog, msg models.Message) bool
}

// ContentDedup treats messages with identical content as duplicates
type ContentDedup struct{}

func (ContentDedup) Name() string { return "content" }

func (ContentDedup) IsDuplicate(log *SessionLog, msg models.Message) bool {
	return log.HasContent(msg.Content)
}

// IDDedup treats messages with identical ids as duplicates
type IDDedup struct{}

func (IDDedup) Name() string { return "id" }

func (IDDedup) IsDuplicate(log *SessionLog, msg models.Message) bool {
	if msg.ID == "" {
		return log.HasContent(msg.Content)
	}
	return log.HasID(msg.ID)
}

// ParseDedupStrategy maps a configuration value to a strategy
func ParseDedupStrategy(name string) (DedupStrategy, error) {
	switch name {
	case "", "content":
		return ContentDedup{}, nil
	case "id":
		return IDDedup{}, nil
	default:
		return nil, fmt.Errorf("unknown dedup strategy %q", name)
	}
}

// MessageReconciler merges inbound messages from every channel into the
// active session's log
type MessageReconciler struct {
	dedup   DedupStrategy
	log     *logger.Logger
	metrics *observability.Instruments
}

// NewMessageReconciler creates a reconciler; a nil strategy means ContentDedup
func NewMessageReconciler(dedup DedupStrategy, log *logger.Logger, metrics *observability.Instruments) *MessageReconciler {
	if dedup == nil {
		dedup = ContentDedup{}
	}
	return &MessageReconciler{
		dedup:   dedup,
		log:     logger.OrGlobal(log).WithComponent("reconciler"),
		metrics: metrics,
	}
}

// Merge appends the messages of batch that belong to activeSessionID and are
// not already logged, in arrival order, and returns the appended ones.
// Duplicates within the batch are caught because each survivor is logged
// before the next message is checked.
func (r *MessageReconciler) Merge(ctx context.Context, log *SessionLog, batch []models.Message, activeSessionID string, origin string) []models.Message {
	if log == nil || log.ID() != activeSessionID {
		for range batch {
			r.metrics.MessageDropped(ctx, DropForeignSession)
		}
		return nil
	}

	var appended []models.Message
	for _, msg := range batch {
		switch {
		case !msg.Role.Valid():
			r.drop(ctx, msg, activeSessionID, DropInvalid)
		case msg.SessionID != activeSessionID:
			r.drop(ctx, msg, activeSessionID, DropForeignSession)
		case r.dedup.IsDuplicate(log, msg):
			r.drop(ctx, msg, activeSessionID, DropDuplicate)
		default:
			log.append(msg)
			appended = append(appended, msg)
			r.metrics.MessageAppended(ctx, origin)
		}
	}
	return appended
}

// AppendLocal appends the user's optimistic echo without dedup
func (r *MessageReconciler) AppendLocal(ctx context.Context, log *SessionLog, msg models.Message) {
	log.append(msg)
	r.metrics.MessageAppended(ctx, "local")
}

func (r *MessageReconciler) drop(ctx context.Context, msg models.Message, activeSessionID, reason string) {
	r.metrics.MessageDropped(ctx, reason)
	r.log.Debug("Inbound message dropped",
		"reason", reason,
		"message_session", msg.SessionID,
		"active_session", activeSessionID,
		"strategy", r.dedup.Name(),
	)
}
