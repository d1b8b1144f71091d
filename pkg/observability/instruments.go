package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "consensus-chat/client"

// Tracer returns the tracer used by the conversation engine
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Instruments holds the counters recorded by the conversation engine.
// A nil *Instruments records nothing.
type Instruments struct {
	appended  metric.Int64Counter
	dropped   metric.Int64Counter
	sends     metric.Int64Counter
	uploads   metric.Int64Counter
	phases    metric.Int64Counter
	connected metric.Int64UpDownCounter
}

// NewInstruments creates counters on the global meter provider
func NewInstruments() (*Instruments, error) {
	return NewInstrumentsFrom(otel.Meter(instrumentationName))
}

// NewInstrumentsFrom creates counters on the given meter
func NewInstrumentsFrom(meter metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	if in.appended, err = meter.Int64Counter("chat.messages.appended",
		metric.WithDescription("Messages appended to a session log")); err != nil {
		return nil, err
	}
	if in.dropped, err = meter.Int64Counter("chat.messages.dropped",
		metric.WithDescription("Inbound messages dropped by reconciliation")); err != nil {
		return nil, err
	}
	if in.sends, err = meter.Int64Counter("chat.sends",
		metric.WithDescription("Outbound submissions by transport and outcome")); err != nil {
		return nil, err
	}
	if in.uploads, err = meter.Int64Counter("chat.attachments.uploads",
		metric.WithDescription("Settled attachment uploads by status")); err != nil {
		return nil, err
	}
	if in.phases, err = meter.Int64Counter("chat.consensus.phase_changes",
		metric.WithDescription("Consensus phase transitions")); err != nil {
		return nil, err
	}
	if in.connected, err = meter.Int64UpDownCounter("chat.push.connected",
		metric.WithDescription("1 while the push channel is connected")); err != nil {
		return nil, err
	}
	return &in, nil
}

// MessageAppended counts an appended message by origin (local, push, fallback, history)
func (in *Instruments) MessageAppended(ctx context.Context, origin string) {
	if in == nil {
		return
	}
	in.appended.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", origin)))
}

// MessageDropped counts a dropped inbound message by reason
func (in *Instruments) MessageDropped(ctx context.Context, reason string) {
	if in == nil {
		return
	}
	in.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// Send counts a submission attempt
func (in *Instruments) Send(ctx context.Context, transport string, ok bool) {
	if in == nil {
		return
	}
	in.sends.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", transport),
		attribute.Bool("ok", ok),
	))
}

// UploadSettled counts a finished upload
func (in *Instruments) UploadSettled(ctx context.Context, status string) {
	if in == nil {
		return
	}
	in.uploads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// PhaseChanged counts a consensus phase transition
func (in *Instruments) PhaseChanged(ctx context.Context, phase string, explicit bool) {
	if in == nil {
		return
	}
	in.phases.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.Bool("explicit", explicit),
	))
}

// PushConnectivity records a push channel connect (+1) or disconnect (-1)
func (in *Instruments) PushConnectivity(ctx context.Context, transport string, connected bool) {
	if in == nil {
		return
	}
	delta := int64(-1)
	if connected {
		delta = 1
	}
	in.connected.Add(ctx, delta, metric.WithAttributes(attribute.String("transport", transport)))
}
