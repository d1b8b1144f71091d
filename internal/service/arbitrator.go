package service

import (
	"context"

	"consensus-chat/client/internal/models"
	apperrors "consensus-chat/client/pkg/errors"
	"consensus-chat/client/pkg/logger"
	"consensus-chat/client/pkg/observability"
	"consensus-chat/client/pkg/ws"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TransportFallback names the request/response path in SendResult
const TransportFallback = "fallback"

// SendResult describes which channel carried a submission. Response is set
// only when the fallback carried it.
type SendResult struct {
	Transport string
	Response  *ws.FallbackResponse
}

// Pushed reports whether the push channel accepted the submission
func (r SendResult) Pushed() bool {
	return r.Transport != TransportFallback
}

// ChannelArbitrator picks exactly one channel per submission: push when it
// is connected and accepts the frame, otherwise the fallback.
type ChannelArbitrator struct {
	push     PushTransport
	fallback FallbackTransport
	log      *logger.Logger
	metrics  *observability.Instruments
}

// NewChannelArbitrator creates an arbitrator. Either transport may be nil.
func NewChannelArbitrator(push PushTransport, fallback FallbackTransport, log *logger.Logger, metrics *observability.Instruments) *ChannelArbitrator {
	return &ChannelArbitrator{
		push:     push,
		fallback: fallback,
		log:      logger.OrGlobal(log).WithComponent("arbitrator"),
		metrics:  metrics,
	}
}

// ChannelState returns the push channel's live connectivity
func (a *ChannelArbitrator) ChannelState() models.ChannelState {
	if a.push == nil {
		return models.ChannelState{Transport: TransportFallback}
	}
	return models.ChannelState{
		Connected: a.push.Connected(),
		Transport: a.push.Name(),
	}
}

// Send delivers req over one channel. An accepted push returns immediately
// without a response; the fallback is awaited and its error returned as is.
func (a *ChannelArbitrator) Send(ctx context.Context, req ws.ChatRequest) (SendResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "ChannelArbitrator.Send",
		trace.WithAttributes(
			attribute.Bool("chat.use_consensus", req.UseConsensus),
			attribute.Int("chat.attachments", len(req.AttachedFileIDs)),
		))
	defer span.End()

	if a.push != nil && a.push.Connected() {
		if a.push.TrySend(ctx, req) {
			a.metrics.Send(ctx, a.push.Name(), true)
			span.SetAttributes(attribute.String("chat.transport", a.push.Name()))
			a.log.Debug("Message sent over push channel", "transport", a.push.Name(), "client_message_id", req.ClientMessageID)
			return SendResult{Transport: a.push.Name()}, nil
		}
		a.metrics.Send(ctx, a.push.Name(), false)
		a.log.Warn("Push channel rejected message, using fallback", "transport", a.push.Name())
	}

	if a.fallback == nil {
		err := apperrors.NewUnavailableError("no connected push channel and no fallback configured")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Message)
		return SendResult{}, err
	}

	span.SetAttributes(attribute.String("chat.transport", TransportFallback))
	resp, err := a.fallback.SendMessage(ctx, req)
	a.metrics.Send(ctx, TransportFallback, err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fallback send failed")
		return SendResult{Transport: TransportFallback}, err
	}
	return SendResult{Transport: TransportFallback, Response: resp}, nil
}
