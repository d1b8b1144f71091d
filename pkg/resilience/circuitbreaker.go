package resilience

import (
	"context"
	"net/http"
	"sync"
	"time"

	apperrors "consensus-chat/client/pkg/errors"
	"consensus-chat/client/pkg/logger"
)

// CircuitBreakerState represents the current state of a circuit breaker
type CircuitBreakerState string

const (
	// StateClosed means requests pass through
	StateClosed CircuitBreakerState = "closed"
	// StateOpen means requests are short-circuited
	StateOpen CircuitBreakerState = "open"
	// StateHalfOpen means a limited number of trial requests are allowed
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold uint
	SuccessThreshold uint
	RetryTimeout     time.Duration
	// IsFailure decides whether an error counts against the breaker.
	// Defaults to counting everything except 4xx application errors.
	IsFailure func(error) bool
}

// DefaultCircuitBreakerConfig returns a default circuit breaker configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RetryTimeout:     30 * time.Second,
	}
}

// Metrics is a snapshot of breaker counters
type Metrics struct {
	Name             string              `json:"name"`
	State            CircuitBreakerState `json:"state"`
	TotalRequests    uint64              `json:"total_requests"`
	TotalFailures    uint64              `json:"total_failures"`
	TotalSuccesses   uint64              `json:"total_successes"`
	Rejected         uint64              `json:"rejected"`
	OpenCircuitCount uint64              `json:"open_circuit_count"`
	LastFailureTime  time.Time           `json:"last_failure_time"`
}

// CircuitBreaker implements the Circuit Breaker pattern
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	log   *logger.Logger
	now   func() time.Time
	mutex sync.Mutex

	state           CircuitBreakerState
	failureCount    uint
	successCount    uint
	inFlightTrials  uint
	nextAttemptTime time.Time
	metrics         Metrics
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg CircuitBreakerConfig, log *logger.Logger) *CircuitBreaker {
	if cfg.IsFailure == nil {
		cfg.IsFailure = countsAsFailure
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		cfg:     cfg,
		log:     logger.OrGlobal(log),
		now:     time.Now,
		state:   StateClosed,
		metrics: Metrics{Name: cfg.Name},
	}
}

// countsAsFailure ignores request errors the caller caused
func countsAsFailure(err error) bool {
	status := apperrors.GetStatusCode(err)
	return status < http.StatusBadRequest || status >= http.StatusInternalServerError
}

// Execute runs fn through the circuit breaker
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.allowRequest() {
		cb.log.Warn("Circuit breaker preventing request",
			"name", cb.cfg.Name,
			"state", string(cb.State()),
		)
		return apperrors.NewError(http.StatusServiceUnavailable, apperrors.CodeCircuitOpen,
			"fallback endpoint temporarily disabled after repeated failures")
	}

	start := cb.now()
	err := fn(ctx)

	if err != nil && cb.cfg.IsFailure(err) && ctx.Err() == nil {
		cb.recordFailure()
		cb.log.Warn("Circuit breaker recorded failure",
			"name", cb.cfg.Name,
			"error", err.Error(),
			"duration", time.Since(start).String(),
		)
		return err
	}

	if err != nil {
		cb.releaseTrial()
		return err
	}

	cb.recordSuccess()
	return nil
}

// releaseTrial frees a half-open slot without counting the outcome
func (cb *CircuitBreaker) releaseTrial() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateHalfOpen && cb.inFlightTrials > 0 {
		cb.inFlightTrials--
	}
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.metrics.TotalRequests++

	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.nextAttemptTime) {
			cb.metrics.Rejected++
			return false
		}
		cb.toHalfOpen()
		fallthrough
	case StateHalfOpen:
		if cb.inFlightTrials >= cb.cfg.SuccessThreshold {
			cb.metrics.Rejected++
			return false
		}
		cb.inFlightTrials++
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.metrics.TotalSuccesses++

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.toClosed()
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.metrics.TotalFailures++
	cb.metrics.LastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.toOpen()
		}
	case StateHalfOpen:
		cb.toOpen()
	}
}

func (cb *CircuitBreaker) toOpen() {
	cb.state = StateOpen
	cb.metrics.OpenCircuitCount++
	cb.inFlightTrials = 0
	cb.nextAttemptTime = cb.now().Add(cb.cfg.RetryTimeout)

	cb.log.Info("Circuit breaker opened",
		"name", cb.cfg.Name,
		"failures", cb.failureCount,
		"nextAttempt", cb.nextAttemptTime.Format(time.RFC3339),
	)
}

func (cb *CircuitBreaker) toHalfOpen() {
	cb.state = StateHalfOpen
	cb.successCount = 0
	cb.inFlightTrials = 0

	cb.log.Info("Circuit breaker half-open", "name", cb.cfg.Name)
}

func (cb *CircuitBreaker) toClosed() {
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.inFlightTrials = 0

	cb.log.Info("Circuit breaker closed", "name", cb.cfg.Name)
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.state
}

// Metrics returns a snapshot of the breaker counters
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	m := cb.metrics
	m.State = cb.state
	return m
}
