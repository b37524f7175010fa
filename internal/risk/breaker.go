package risk

import (
	"sync"
	"time"

	"optionsbot/internal/observ"
)

// BreakerState is the circuit breaker's tri-state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker gates Gateway calls after repeated failures. It is shared across
// all symbols: one unhealthy connection affects every symbol, since they
// share one session.
//
// Transitions: CLOSED -> OPEN after threshold consecutive failures;
// OPEN -> HALF_OPEN once resetTimeout has elapsed since the last failure;
// HALF_OPEN -> CLOSED on success, back to OPEN on failure.
type Breaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	lastFailure  time.Time
	threshold    int
	resetTimeout time.Duration

	now func() time.Time // swapped in tests
}

// NewBreaker builds a closed breaker. threshold < 1 defaults to 3,
// resetTimeout <= 0 defaults to 5 minutes.
func NewBreaker(threshold int, resetTimeout time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 5 * time.Minute
	}
	return &Breaker{
		state:        BreakerClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// RecordFailure counts one failed Gateway interaction.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.transition(BreakerOpen)
	}
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != BreakerClosed {
		b.transition(BreakerClosed)
	}
}

// ShouldAttempt reports whether a Gateway call is allowed right now. In the
// OPEN state it permits a single probe once the reset timeout has elapsed,
// moving to HALF_OPEN first.
func (b *Breaker) ShouldAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) > b.resetTimeout {
			b.transition(BreakerHalfOpen)
			return true
		}
		return false
	}
	return false
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) transition(next BreakerState) {
	if b.state == next {
		return
	}
	observ.Log("breaker_transition", map[string]any{
		"from":     string(b.state),
		"to":       string(next),
		"failures": b.failures,
	})
	observ.IncCounter("breaker_transitions_total", map[string]string{
		"from": string(b.state),
		"to":   string(next),
	})
	b.state = next
	observ.SetGauge("breaker_state", breakerStateValue(next), nil)
}

func breakerStateValue(s BreakerState) float64 {
	switch s {
	case BreakerClosed:
		return 0
	case BreakerHalfOpen:
		return 1
	case BreakerOpen:
		return 2
	}
	return -1
}
