// Package selfheal provides fault detection and automatic recovery for the
// services the model pipeline depends on: per-service circuit breakers, a
// health score, and a manager that drives recovery strategies.
package selfheal

import (
	"time"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState int

// Circuit breaker states.
const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

// String returns a human-readable state name.
func (s BreakerState) String() string {
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

// BreakerConfig holds configuration for a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Default: 3
	FailureThreshold int

	// Timeout is how long the circuit stays open before a half-open probe
	// is allowed. Default: 60 seconds
	Timeout time.Duration

	// Clock returns the current time. Used by tests; defaults to time.Now.
	Clock func() time.Time
}

// Breaker is a consecutive-failure circuit breaker.
//
// It is not safe for concurrent use on its own; the Manager serializes all
// access to it. The failure count is intentionally not reset when the
// circuit transitions to half-open, so a single failure during the probe
// immediately re-opens the circuit.
type Breaker struct {
	failureThreshold int
	timeout          time.Duration
	now              func() time.Time

	failureCount int
	lastFailure  time.Time
	state        BreakerState
}

// NewBreaker creates a circuit breaker in the closed state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Breaker{
		failureThreshold: cfg.FailureThreshold,
		timeout:          cfg.Timeout,
		now:              cfg.Clock,
		state:            StateClosed,
	}
}

// RecordSuccess resets the failure count and closes the circuit.
// Idempotent on an already-closed breaker.
func (b *Breaker) RecordSuccess() {
	b.failureCount = 0
	b.state = StateClosed
}

// RecordFailure increments the failure count and opens the circuit once the
// threshold is reached. A failure while half-open re-opens the circuit
// because the count was never reset on entering half-open.
func (b *Breaker) RecordFailure() {
	b.failureCount++
	b.lastFailure = b.now()
	if b.failureCount >= b.failureThreshold {
		b.state = StateOpen
	}
}

// Available reports whether a call may be attempted. An open circuit whose
// timeout has elapsed transitions to half-open and allows a single probe;
// the caller is expected to report the outcome immediately afterward.
func (b *Breaker) Available() bool {
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) >= b.timeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return true
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	return b.state
}

// FailureCount returns the current consecutive failure count.
func (b *Breaker) FailureCount() int {
	return b.failureCount
}
