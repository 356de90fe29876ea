package errors

import (
	"sync"
	"time"
)

// breakerState is the circuit breaker's three-state machine.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker trips open after FailureThreshold consecutive failures and
// stays open for ResetTimeout before allowing a single half-open probe.
// Nothing in this module constructs one: the LLM provider and worker
// submit calls are made without a breaker.
type CircuitBreaker struct {
	FailureThreshold int
	ResetTimeout     time.Duration

	mu          sync.Mutex
	state       breakerState
	failures    int
	openedAt    time.Time
}

// NewCircuitBreaker returns a breaker with the given thresholds.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{FailureThreshold: failureThreshold, ResetTimeout: resetTimeout}
}

// Allow reports whether a call may proceed. When the breaker is open but
// ResetTimeout has elapsed, it transitions to half-open and allows exactly
// one probe through.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateHalfOpen:
		return false // a probe is already in flight
	case stateOpen:
		if time.Since(b.openedAt) >= b.ResetTimeout {
			b.state = stateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failures = 0
}

// RecordFailure increments the failure count and trips the breaker open
// once FailureThreshold is reached (or immediately, from half-open).
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = time.Now()
		return
	}

	b.failures++
	if b.failures >= b.FailureThreshold {
		b.state = stateOpen
		b.openedAt = time.Now()
	}
}

// IsOpen reports the current trip state without mutating it.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen
}
