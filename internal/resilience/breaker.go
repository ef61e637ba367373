// Package resilience provides retry, circuit breaking and per-call timeouts
// for calls to external providers.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected by an open circuit.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breaker opens after a run of consecutive failures and lets a single probe
// through once the reset timeout has passed.
type Breaker struct {
	threshold    int
	resetTimeout time.Duration
	onChange     func(from, to CircuitState)

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	now      func() time.Time
}

// NewBreaker creates a closed breaker. Non-positive arguments fall back to
// 5 failures and a 30 second reset timeout.
func NewBreaker(threshold int, resetTimeout time.Duration, onChange func(from, to CircuitState)) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		onChange:     onChange,
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return ErrCircuitOpen
		}
		b.transition(CircuitHalfOpen)
		return nil
	default:
		return nil
	}
}

// Record feeds a call outcome into the breaker. Caller cancellation is not
// counted as a provider failure.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !IsTransient(err) {
		b.failures = 0
		if b.state == CircuitHalfOpen {
			b.transition(CircuitClosed)
		}
		return
	}

	b.failures++
	if b.state == CircuitHalfOpen || b.failures >= b.threshold {
		b.openedAt = b.now()
		b.transition(CircuitOpen)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return CircuitHalfOpen
	}
	return b.state
}

func (b *Breaker) transition(to CircuitState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
