package snapshot

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while the breaker is rejecting calls.
var ErrBreakerOpen = errors.New("snapshot: circuit breaker open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// breaker trips after maxFailures consecutive errors and rejects calls for
// resetTimeout. The first call after the timeout probes; a successful probe
// closes the breaker, a failed one reopens it. Snapshot writes are
// best-effort, so an open breaker skips Redis instead of stalling trading.
type breaker struct {
	mu           sync.Mutex
	state        breakerState
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time

	onStateChange func(from, to breakerState)
}

func newBreaker(maxFailures int, resetTimeout time.Duration) *breaker {
	return &breaker{maxFailures: maxFailures, resetTimeout: resetTimeout}
}

func (b *breaker) execute(fn func() error) error {
	b.mu.Lock()
	if b.state == breakerOpen {
		if time.Since(b.lastFailure) > b.resetTimeout {
			b.transition(breakerHalfOpen)
		} else {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if b.state == breakerHalfOpen || b.failures >= b.maxFailures {
			b.transition(breakerOpen)
		}
		return err
	}
	if b.state == breakerHalfOpen {
		b.transition(breakerClosed)
	}
	b.failures = 0
	return nil
}

func (b *breaker) currentState() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) transition(to breakerState) {
	from := b.state
	b.state = to
	if to == breakerClosed {
		b.failures = 0
	}
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
