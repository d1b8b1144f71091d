package service

import (
	"sync"

	"consensus-chat/client/internal/models"
)

// SessionLog is the ordered message log of one session. It hands out copies
// only, so appended messages cannot be changed by callers.
type SessionLog struct {
	mu        sync.RWMutex
	id        string
	messages  []models.Message
	byContent map[string]struct{}
	byID      map[string]struct{}
}

// NewSessionLog creates an empty log for sessionID
func NewSessionLog(sessionID string) *SessionLog {
	return &SessionLog{
		id:        sessionID,
		byContent: make(map[string]struct{}),
		byID:      make(map[string]struct{}),
	}
}

// ID returns the session id the log belongs to
func (l *SessionLog) ID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.id
}

// Messages returns a copy of the log in insertion order
func (l *SessionLog) Messages() []models.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages in the log
func (l *SessionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// HasContent reports whether a message with exactly this content is logged
func (l *SessionLog) HasContent(content string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.byContent[content]
	return ok
}

// HasID reports whether a message with this id is logged
func (l *SessionLog) HasID(id string) bool {
	if id == "" {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.byID[id]
	return ok
}

func (l *SessionLog) append(msg models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)
	l.byContent[msg.Content] = struct{}{}
	if msg.ID != "" {
		l.byID[msg.ID] = struct{}{}
	}
}

// rekey moves the log to another session id, re-tagging every message
func (l *SessionLog) rekey(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.id = sessionID
	for i := range l.messages {
		l.messages[i] = l.messages[i].WithSession(sessionID)
	}
}
