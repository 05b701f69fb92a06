// Package resilience provides reliability patterns for calls to external
// services such as the NATS event relay.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker implements a circuit breaker for protecting external calls.
// It opens after maxFailures consecutive failures and rejects calls until
// timeout elapses. The first call after that is a single half-open probe.
type Breaker struct {
	name string

	mu          sync.Mutex
	state       State
	failures    int
	probing     bool
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	rejected    uint64
	now         func() time.Time // for testing
}

// NewBreaker creates a named circuit breaker.
func NewBreaker(name string, maxFailures int, timeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Execute runs fn if the circuit is closed or a half-open probe is due.
// Returns ErrCircuitOpen otherwise.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// State returns the current breaker position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Rejected returns how many calls were refused while open.
func (b *Breaker) Rejected() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejected
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.timeout {
			b.transition(StateHalfOpen)
			b.probing = true
			return true
		}
	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			return true
		}
	}
	b.rejected++
	return false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.transition(StateClosed)
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	slog.Info("circuit breaker state change", "breaker", b.name, "from", b.state.String(), "to", to.String())
	b.state = to
}
