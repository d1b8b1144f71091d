package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Envelope types carried over the push channel
const (
	TypeChat           = "chat"
	TypeMessage        = "message"
	TypeStatus         = "consensus_status"
	TypeSessionCreated = "session_created"
	TypeError          = "error"
	TypePing           = "ping"
	TypePong           = "pong"
)

// Envelope is the frame exchanged over the push channel
type Envelope struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// NewEnvelope marshals content into an envelope of the given type
func NewEnvelope(messageType string, content any) (Envelope, error) {
	if content == nil {
		return Envelope{Type: messageType}, nil
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s content: %w", messageType, err)
	}
	return Envelope{Type: messageType, Content: raw}, nil
}

// Decode unmarshals the envelope content into v
func (e Envelope) Decode(v any) error {
	if len(e.Content) == 0 {
		return fmt.Errorf("empty %s content", e.Type)
	}
	return json.Unmarshal(e.Content, v)
}

// SessionRef is a session identifier that may travel as a JSON string or number
type SessionRef string

// UnmarshalJSON accepts "12", 12 and null
func (s *SessionRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = SessionRef(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("session id must be a string or number: %w", err)
	}
	*s = SessionRef(num.String())
	return nil
}

// MarshalJSON writes numeric ids as numbers and everything else as strings
func (s SessionRef) MarshalJSON() ([]byte, error) {
	if s.IsNumeric() {
		return []byte(s), nil
	}
	return json.Marshal(string(s))
}

// IsNumeric reports whether the id is a plain unsigned integer
func (s SessionRef) IsNumeric() bool {
	if s == "" || strings.HasPrefix(string(s), "+") {
		return false
	}
	if len(s) > 1 && s[0] == '0' {
		return false
	}
	_, err := strconv.ParseUint(string(s), 10, 64)
	return err == nil
}

// String returns the id as a plain string
func (s SessionRef) String() string {
	return string(s)
}

// ConsensusPayload is the result of a multi-model answer
type ConsensusPayload struct {
	FinalConsensus  string            `json:"final_consensus"`
	ConfidenceScore float64           `json:"confidence_score"`
	Reasoning       string            `json:"reasoning,omitempty"`
	DebatePoints    []json.RawMessage `json:"debate_points,omitempty"`
	ModelResponses  []ModelResponse   `json:"model_responses,omitempty"`
}

// ModelResponse is one model's contribution to a consensus answer
type ModelResponse struct {
	Model   string `json:"model"`
	Content string `json:"content"`
}

// InboundEvent is a message delivered by the push channel
type InboundEvent struct {
	ID        string            `json:"id,omitempty"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Timestamp string            `json:"timestamp,omitempty"`
	SessionID SessionRef        `json:"session_id"`
	Consensus *ConsensusPayload `json:"consensus,omitempty"`
}

// ChatRequest is an outbound user message. The same shape is posted to the
// fallback endpoint and sent as a push "chat" frame.
type ChatRequest struct {
	Message         string      `json:"message"`
	SessionID       *SessionRef `json:"session_id,omitempty"`
	UseConsensus    bool        `json:"use_consensus"`
	SelectedModels  []string    `json:"selected_models"`
	AttachedFileIDs []string    `json:"attached_file_ids"`
	ClientMessageID string      `json:"client_message_id,omitempty"`
	Epoch           uint64      `json:"epoch,omitempty"`
}

// FallbackMessage is the assistant reply returned by the fallback endpoint
type FallbackMessage struct {
	ID            string            `json:"id"`
	Role          string            `json:"role"`
	Content       string            `json:"content"`
	CreatedAt     string            `json:"created_at"`
	SessionID     SessionRef        `json:"session_id"`
	ConsensusData *ConsensusPayload `json:"consensus_data,omitempty"`
}

// SessionInfo identifies the session a fallback reply was stored in
type SessionInfo struct {
	ID SessionRef `json:"id"`
}

// FallbackResponse is the body returned by the fallback endpoint
type FallbackResponse struct {
	Message FallbackMessage `json:"message"`
	Session *SessionInfo    `json:"session,omitempty"`
}

// StatusSignal is an explicit consensus progress update
type StatusSignal struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
	Epoch   uint64 `json:"epoch"`
}

// SessionCreated announces the server session assigned to a draft conversation
type SessionCreated struct {
	ID              SessionRef `json:"id"`
	ClientMessageID string     `json:"client_message_id,omitempty"`
}

// ErrorEvent is an error reported over the push channel
type ErrorEvent struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// UploadResponse is the body returned by the upload endpoint
type UploadResponse struct {
	FileID string `json:"file_id"`
}

// HistoryResponse is the body returned by the session history endpoint
type HistoryResponse struct {
	SessionID SessionRef     `json:"session_id"`
	Messages  []InboundEvent `json:"messages"`
	Count     int            `json:"count"`
}
