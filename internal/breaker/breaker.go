// Package breaker provides a process-local circuit breaker guarding calls to
// the upstream item API. State lives in memory only: in deployments with
// multiple process instances each instance trips and recovers on its own.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/restock/internal/logger"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; calls pass through.
	StateOpen                  // Failing; calls are rejected immediately.
	StateHalfOpen              // Probing; a single call is allowed to test recovery.
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// OpenError is returned when the circuit is open and the call was rejected
// without invoking the operation. RetryAfter is the remaining cooldown.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Name, e.RetryAfter)
}

// Config controls breaker thresholds.
type Config struct {
	Name             string
	FailureThreshold int           // consecutive failures before opening
	CooldownTimeout  time.Duration // how long to reject calls once open
}

// Metrics holds cumulative totals for the process lifetime. Never reset.
type Metrics struct {
	TotalSuccesses uint64 `json:"total_successes"`
	TotalFailures  uint64 `json:"total_failures"`
	TotalOpens     uint64 `json:"total_opens"`
	TotalCloses    uint64 `json:"total_closes"`
}

// Snapshot is a point-in-time view of breaker state for observability.
type Snapshot struct {
	Name                string    `json:"name"`
	State               State     `json:"-"`
	StateName           string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
	Metrics             Metrics   `json:"metrics"`
}

// CircuitBreaker wraps fallible operations with CLOSED/OPEN/HALF_OPEN
// state-machine protection. Construct one per process and inject it into
// every caller that talks to the guarded dependency.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	log       *logger.Logger

	// now is swapped in tests to control cooldown expiry.
	now func() time.Time

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureAt       time.Time
	metrics             Metrics
}

// New creates a CircuitBreaker in the CLOSED state.
func New(cfg Config, log *logger.Logger) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CooldownTimeout <= 0 {
		cfg.CooldownTimeout = 5 * time.Minute
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &CircuitBreaker{
		name:      cfg.Name,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.CooldownTimeout,
		log:       log.WithField(logger.FieldComponent, "breaker"),
		now:       time.Now,
		state:     StateClosed,
	}
}

// Execute runs op under breaker protection. The original error from op is
// always returned unchanged; the breaker only substitutes its own error when
// the circuit is open and op was never invoked.
//
// The mutex is held across op: one in-flight call at a time, which keeps the
// HALF_OPEN probe exclusive and matches the upstream's per-second rate limit.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		elapsed := cb.now().Sub(cb.lastFailureAt)
		if elapsed < cb.cooldown {
			return &OpenError{Name: cb.name, RetryAfter: cb.cooldown - elapsed}
		}
		cb.state = StateHalfOpen
		cb.log.WithFields(logger.Fields{
			"name":     cb.name,
			"from":     StateOpen.String(),
			"to":       StateHalfOpen.String(),
			"cooldown": cb.cooldown.String(),
		}).Info("Circuit breaker cooldown elapsed, allowing recovery probe")
	}

	switch cb.state {
	case StateHalfOpen:
		return cb.probe(ctx, op)
	default:
		return cb.pass(ctx, op)
	}
}

// pass handles a call in the CLOSED state.
func (cb *CircuitBreaker) pass(ctx context.Context, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil {
		cb.consecutiveFailures = 0
		cb.metrics.TotalSuccesses++
		return nil
	}

	cb.consecutiveFailures++
	cb.metrics.TotalFailures++
	if cb.consecutiveFailures >= cb.threshold {
		cb.state = StateOpen
		cb.lastFailureAt = cb.now()
		cb.metrics.TotalOpens++
		cb.log.WithFields(logger.Fields{
			"name":                 cb.name,
			"from":                 StateClosed.String(),
			"to":                   StateOpen.String(),
			"consecutive_failures": cb.consecutiveFailures,
			"failure_threshold":    cb.threshold,
			"cooldown":             cb.cooldown.String(),
		}).WithError(err).Error("Circuit breaker opened")
	}
	return err
}

// probe handles the single HALF_OPEN recovery call.
func (cb *CircuitBreaker) probe(ctx context.Context, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil {
		cb.state = StateClosed
		cb.consecutiveFailures = 0
		cb.metrics.TotalSuccesses++
		cb.metrics.TotalCloses++
		cb.log.WithFields(logger.Fields{
			"name": cb.name,
			"from": StateHalfOpen.String(),
			"to":   StateClosed.String(),
		}).Info("Circuit breaker closed after successful probe")
		return nil
	}

	// Probe failed: reopen and restart the cooldown clock.
	cb.state = StateOpen
	cb.lastFailureAt = cb.now()
	cb.metrics.TotalFailures++
	cb.metrics.TotalOpens++
	cb.log.WithFields(logger.Fields{
		"name":     cb.name,
		"from":     StateHalfOpen.String(),
		"to":       StateOpen.String(),
		"cooldown": cb.cooldown.String(),
	}).WithError(err).Warn("Circuit breaker probe failed, reopening")
	return err
}

// State returns a snapshot of the current state and counters.
func (cb *CircuitBreaker) State() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:                cb.name,
		State:               cb.state,
		StateName:           cb.state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
		LastFailureAt:       cb.lastFailureAt,
		Metrics:             cb.metrics,
	}
}

// Metrics returns the cumulative totals for the process lifetime.
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.metrics
}
