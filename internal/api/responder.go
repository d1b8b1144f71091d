package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"consensus-chat/client/internal/models"
	apperrors "consensus-chat/client/pkg/errors"
	"consensus-chat/client/pkg/logger"
	"consensus-chat/client/pkg/ws"

	"github.com/google/uuid"
)

var consensusPhases = []models.Phase{
	models.PhaseAnalyzing,
	models.PhaseProcessing,
	models.PhaseConsensus,
	models.PhaseFinalizing,
}

// Responder produces the development server's canned answers. Multi-model
// requests get a consensus payload, and on the push channel an explicit
// status signal per phase.
type Responder struct {
	store     *Store
	stepDelay time.Duration
	now       func() time.Time
	log       *logger.Logger
}

// NewResponder creates a responder that pauses stepDelay between pushed phases
func NewResponder(store *Store, stepDelay time.Duration, log *logger.Logger) *Responder {
	return &Responder{
		store:     store,
		stepDelay: stepDelay,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.OrGlobal(log).WithComponent("responder"),
	}
}

// Reply stores the user message and the assistant answer and returns the
// fallback response body
func (r *Responder) Reply(req ws.ChatRequest) (ws.FallbackResponse, bool) {
	sessionID, created, answer := r.record(req)
	ref := ws.SessionRef(sessionID)

	resp := ws.FallbackResponse{
		Message: ws.FallbackMessage{
			ID:            answer.ID,
			Role:          answer.Role,
			Content:       answer.Content,
			CreatedAt:     answer.Timestamp,
			SessionID:     ref,
			ConsensusData: answer.Consensus,
		},
	}
	if created {
		resp.Session = &ws.SessionInfo{ID: ref}
	}
	return resp, created
}

// HandleChat answers a chat frame received over the push channel
func (r *Responder) HandleChat(ctx context.Context, req ws.ChatRequest, emit func(ws.Envelope)) {
	if strings.TrimSpace(req.Message) == "" {
		r.emit(emit, ws.TypeError, ws.ErrorEvent{Code: apperrors.CodeEmptyMessage, Message: "message content is empty"})
		return
	}

	sessionID, created, answer := r.record(req)
	if created {
		r.emit(emit, ws.TypeSessionCreated, ws.SessionCreated{
			ID:              ws.SessionRef(sessionID),
			ClientMessageID: req.ClientMessageID,
		})
	}

	if req.UseConsensus {
		for _, phase := range consensusPhases {
			r.emit(emit, ws.TypeStatus, ws.StatusSignal{Phase: string(phase), Epoch: req.Epoch})
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.stepDelay):
			}
		}
	}

	r.emit(emit, ws.TypeMessage, answer)
	r.log.Debug("Chat answered over push channel", "session_id", sessionID, "consensus", req.UseConsensus)
}

// record stores the exchange and returns the assistant event
func (r *Responder) record(req ws.ChatRequest) (string, bool, ws.InboundEvent) {
	sessionID, created := r.store.EnsureSession(req.SessionID)
	ref := ws.SessionRef(sessionID)
	now := r.now()

	r.store.Append(sessionID, ws.InboundEvent{
		ID:        req.ClientMessageID,
		Role:      string(models.RoleUser),
		Content:   req.Message,
		Timestamp: now.Format(time.RFC3339Nano),
		SessionID: ref,
	})

	answer := ws.InboundEvent{
		ID:        uuid.New().String(),
		Role:      string(models.RoleAssistant),
		Timestamp: now.Format(time.RFC3339Nano),
		SessionID: ref,
	}
	if req.UseConsensus && len(req.SelectedModels) > 0 {
		answer.Consensus = consensusFor(req)
		answer.Content = answer.Consensus.FinalConsensus
	} else {
		answer.Content = fmt.Sprintf("You said: %s", req.Message)
	}
	if n := len(req.AttachedFileIDs); n > 0 {
		answer.Content += fmt.Sprintf(" (%d attachment(s) received)", n)
	}

	r.store.Append(sessionID, answer)
	return sessionID, created, answer
}

func consensusFor(req ws.ChatRequest) *ws.ConsensusPayload {
	payload := &ws.ConsensusPayload{
		FinalConsensus:  fmt.Sprintf("Consensus of %d models: %s", len(req.SelectedModels), req.Message),
		ConfidenceScore: 1 - 1/float64(len(req.SelectedModels)+1),
		Reasoning:       "All models answered the same question independently.",
	}
	for _, model := range req.SelectedModels {
		payload.ModelResponses = append(payload.ModelResponses, ws.ModelResponse{
			Model:   model,
			Content: fmt.Sprintf("%s: %s", model, req.Message),
		})
		point, _ := json.Marshal(map[string]string{"model": model, "position": "agrees"})
		payload.DebatePoints = append(payload.DebatePoints, point)
	}
	return payload
}

func (r *Responder) emit(emit func(ws.Envelope), typ string, content any) {
	env, err := ws.NewEnvelope(typ, content)
	if err != nil {
		r.log.LogError(err, "Failed to encode envelope", "type", typ)
		return
	}
	emit(env)
}
