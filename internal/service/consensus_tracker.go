package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"consensus-chat/client/internal/models"
	"consensus-chat/client/pkg/logger"
	"consensus-chat/client/pkg/observability"
	"consensus-chat/client/pkg/ws"
)

// Human-readable text shown for each phase when no explicit message is given
var phaseMessages = map[models.Phase]string{
	models.PhaseAnalyzing:  "Analyzing your question with multiple models...",
	models.PhaseProcessing: "Models are drafting their answers...",
	models.PhaseConsensus:  "Comparing answers and building consensus...",
	models.PhaseFinalizing: "Finalizing the consensus answer...",
}

// PhaseStep is one scheduled advance of a simulated epoch, measured from Begin
type PhaseStep struct {
	After   time.Duration
	Phase   models.Phase
	Message string
}

// PhaseDriver advances an epoch's phase when no explicit signals drive it.
// Start returns a cancel func that stops every pending advance.
type PhaseDriver interface {
	Name() string
	Start(epoch uint64, advance func(epoch uint64, phase models.Phase, message string)) (cancel func())
}

// SimulatedDriver advances phases on timers
type SimulatedDriver struct {
	clock Clock
	steps []PhaseStep
}

// DefaultPhaseSteps returns processing, consensus and finalizing steps at the given offsets
func DefaultPhaseSteps(processing, consensus, finalizing time.Duration) []PhaseStep {
	return []PhaseStep{
		{After: processing, Phase: models.PhaseProcessing, Message: phaseMessages[models.PhaseProcessing]},
		{After: consensus, Phase: models.PhaseConsensus, Message: phaseMessages[models.PhaseConsensus]},
		{After: finalizing, Phase: models.PhaseFinalizing, Message: phaseMessages[models.PhaseFinalizing]},
	}
}

// NewSimulatedDriver creates a timer-driven phase driver
func NewSimulatedDriver(clock Clock, steps []PhaseStep) *SimulatedDriver {
	if clock == nil {
		clock = RealClock()
	}
	return &SimulatedDriver{clock: clock, steps: steps}
}

func (d *SimulatedDriver) Name() string { return "simulated" }

func (d *SimulatedDriver) Start(epoch uint64, advance func(uint64, models.Phase, string)) func() {
	timers := make([]Timer, 0, len(d.steps))
	for _, step := range d.steps {
		step := step
		timers = append(timers, d.clock.AfterFunc(step.After, func() {
			advance(epoch, step.Phase, step.Message)
		}))
	}
	return func() {
		for _, t := range timers {
			t.Stop()
		}
	}
}

// ExplicitDriver schedules nothing; phases come only from status signals
type ExplicitDriver struct{}

func (ExplicitDriver) Name() string { return "explicit" }

func (ExplicitDriver) Start(uint64, func(uint64, models.Phase, string)) func() {
	return func() {}
}

// NewPhaseDriver maps a phase mode (auto, simulated, explicit) to a driver.
// auto and simulated both run timers; in either mode the first explicit
// signal of an epoch stops them.
func NewPhaseDriver(mode string, clock Clock, steps []PhaseStep) (PhaseDriver, error) {
	switch mode {
	case "", "auto", "simulated":
		return NewSimulatedDriver(clock, steps), nil
	case "explicit":
		return ExplicitDriver{}, nil
	default:
		return nil, fmt.Errorf("unknown consensus phase mode %q", mode)
	}
}

// ConsensusStatusTracker is the phase state machine of in-flight consensus
// answers. Phases only move forward within an epoch; they return to idle on
// completion or when a newer epoch supersedes the current one.
type ConsensusStatusTracker struct {
	mu       sync.Mutex
	status   models.ConsensusStatus
	explicit bool
	cancel   func()
	driver   PhaseDriver
	onChange func(models.ConsensusStatus)
	log      *logger.Logger
	metrics  *observability.Instruments
}

// NewConsensusStatusTracker creates an idle tracker; a nil driver means ExplicitDriver
func NewConsensusStatusTracker(driver PhaseDriver, log *logger.Logger, metrics *observability.Instruments) *ConsensusStatusTracker {
	if driver == nil {
		driver = ExplicitDriver{}
	}
	return &ConsensusStatusTracker{
		status:  models.ConsensusStatus{Phase: models.PhaseIdle},
		driver:  driver,
		log:     logger.OrGlobal(log).WithComponent("consensus_tracker"),
		metrics: metrics,
	}
}

// OnChange registers a callback invoked after every status change.
// It runs without the tracker lock held.
func (t *ConsensusStatusTracker) OnChange(fn func(models.ConsensusStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Status returns the current status
func (t *ConsensusStatusTracker) Status() models.ConsensusStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Begin starts a new epoch at analyzing and supersedes the previous one
func (t *ConsensusStatusTracker) Begin() uint64 {
	t.mu.Lock()
	t.stopLocked()
	epoch := t.status.Epoch + 1
	t.status = models.ConsensusStatus{
		Phase:   models.PhaseAnalyzing,
		Message: phaseMessages[models.PhaseAnalyzing],
		Epoch:   epoch,
	}
	t.explicit = false
	t.mu.Unlock()

	// The driver may fire synchronously, so it starts without the lock.
	cancel := t.driver.Start(epoch, t.advance)

	t.mu.Lock()
	if t.status.Epoch == epoch && t.status.Active() {
		t.cancel = cancel
		cancel = nil
	}
	status := t.status
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	t.log.Debug("Consensus epoch started", "epoch", epoch, "driver", t.driver.Name())
	t.metrics.PhaseChanged(context.Background(), string(models.PhaseAnalyzing), false)
	t.notify(status)
	return epoch
}

// advance is the simulated driver's callback
func (t *ConsensusStatusTracker) advance(epoch uint64, phase models.Phase, message string) {
	t.mu.Lock()
	if epoch != t.status.Epoch || t.explicit || !t.status.Active() || phase.Rank() <= t.status.Phase.Rank() {
		t.mu.Unlock()
		return
	}
	t.status.Phase = phase
	t.status.Message = message
	status := t.status
	t.mu.Unlock()

	t.metrics.PhaseChanged(context.Background(), string(phase), false)
	t.notify(status)
}

// ApplySignal applies an explicit status signal and reports whether it
// changed the tracked status
func (t *ConsensusStatusTracker) ApplySignal(sig ws.StatusSignal) bool {
	phase, ok := models.ParsePhase(sig.Phase)
	if !ok {
		t.log.Debug("Unknown consensus phase ignored", "phase", sig.Phase, "epoch", sig.Epoch)
		return false
	}

	t.mu.Lock()
	current := t.status
	switch {
	case sig.Epoch < current.Epoch:
		t.mu.Unlock()
		t.log.Debug("Stale status signal ignored", "signal_epoch", sig.Epoch, "epoch", current.Epoch)
		return false
	case sig.Epoch == current.Epoch && !current.Active():
		t.mu.Unlock()
		return false
	case sig.Epoch == current.Epoch && phase != models.PhaseIdle && phase.Rank() < current.Phase.Rank():
		t.mu.Unlock()
		t.log.Debug("Regressive status signal ignored", "phase", phase, "current", current.Phase, "epoch", sig.Epoch)
		return false
	}

	t.stopLocked()
	t.explicit = true
	message := sig.Message
	if message == "" {
		message = phaseMessages[phase]
	}
	t.status = models.ConsensusStatus{Phase: phase, Message: message, Epoch: sig.Epoch}
	status := t.status
	t.mu.Unlock()

	t.metrics.PhaseChanged(context.Background(), string(phase), true)
	t.notify(status)
	return true
}

// Complete ends epoch after its terminal assistant message. Zero means the
// current epoch. Returns false when epoch is stale or already finished.
func (t *ConsensusStatusTracker) Complete(epoch uint64) bool {
	t.mu.Lock()
	if epoch == 0 {
		epoch = t.status.Epoch
	}
	if epoch != t.status.Epoch || !t.status.Active() {
		t.mu.Unlock()
		return false
	}
	t.stopLocked()
	t.status = models.ConsensusStatus{Phase: models.PhaseIdle, Epoch: epoch}
	status := t.status
	t.mu.Unlock()

	t.log.Debug("Consensus epoch completed", "epoch", epoch)
	t.metrics.PhaseChanged(context.Background(), string(models.PhaseIdle), false)
	t.notify(status)
	return true
}

func (t *ConsensusStatusTracker) stopLocked() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

func (t *ConsensusStatusTracker) notify(status models.ConsensusStatus) {
	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn(status)
	}
}
