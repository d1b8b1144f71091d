package models

import (
	"time"

	"consensus-chat/client/pkg/ws"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message represents a chat message in a session log.
// Messages are never modified after they are appended.
type Message struct {
	ID        string               `json:"id"`
	Role      Role                 `json:"role"`
	Content   string               `json:"content"`
	Timestamp time.Time            `json:"timestamp"`
	SessionID string               `json:"session_id"`
	Consensus *ws.ConsensusPayload `json:"consensus,omitempty"`
}

// WithSession returns a copy of the message tagged with another session id
func (m Message) WithSession(sessionID string) Message {
	m.SessionID = sessionID
	return m
}

// MessageFromEvent converts a push event into a message
func MessageFromEvent(ev ws.InboundEvent, now time.Time) Message {
	return Message{
		ID:        ev.ID,
		Role:      Role(ev.Role),
		Content:   ev.Content,
		Timestamp: parseTimestamp(ev.Timestamp, now),
		SessionID: ev.SessionID.String(),
		Consensus: ev.Consensus,
	}
}

// MessageFromFallback converts a fallback reply into a message
func MessageFromFallback(fm ws.FallbackMessage, now time.Time) Message {
	return Message{
		ID:        fm.ID,
		Role:      Role(fm.Role),
		Content:   fm.Content,
		Timestamp: parseTimestamp(fm.CreatedAt, now),
		SessionID: fm.SessionID.String(),
		Consensus: fm.ConsensusData,
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return fallback
}
