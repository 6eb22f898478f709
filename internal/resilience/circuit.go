package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls immediately after repeated failures.
	CircuitOpen
	// CircuitHalfOpen lets a single probe through to test recovery.
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

// ErrCircuitOpen is returned when a call is rejected because the circuit is
// open. It is classified as transient so a later retry may pass once the
// reset timeout elapses.
var ErrCircuitOpen = NewTransientError(eris.New("circuit breaker is open"), 0)

// Breaker is a per-backend circuit breaker. It trips after a run of
// consecutive transient failures so a hard-down backend fails fast inside a
// fan-out instead of burning every task's retry budget.
type Breaker struct {
	failureThreshold int
	resetTimeout     time.Duration

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time

	nowFunc func() time.Time
}

// NewBreaker creates a Breaker. Non-positive arguments fall back to a
// threshold of 5 failures and a 30s reset timeout.
func NewBreaker(failureThreshold int, resetTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            CircuitClosed,
		nowFunc:          time.Now,
	}
}

// Allow reports whether a call may proceed, transitioning open→half-open
// once the reset timeout has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen {
		if b.nowFunc().Sub(b.lastFailureTime) < b.resetTimeout {
			return ErrCircuitOpen
		}
		b.state = CircuitHalfOpen
	}
	return nil
}

// Record feeds a call result into the breaker. Only transient failures count
// toward the threshold; shape and fatal errors say nothing about backend
// health.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || Classify(err) != OutcomeTransient {
		b.state = CircuitClosed
		b.consecutiveFailures = 0
		return
	}

	b.consecutiveFailures++
	b.lastFailureTime = b.nowFunc()
	if b.state == CircuitHalfOpen || b.consecutiveFailures >= b.failureThreshold {
		b.state = CircuitOpen
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.nowFunc().Sub(b.lastFailureTime) >= b.resetTimeout {
		return CircuitHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.consecutiveFailures = 0
}

// BreakerSet manages one breaker per logical call name.
type BreakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	failureThreshold int
	resetTimeout     time.Duration
}

// NewBreakerSet creates a registry of per-call circuit breakers.
func NewBreakerSet(failureThreshold int, resetTimeout time.Duration) *BreakerSet {
	return &BreakerSet{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
	}
}

// Get returns the breaker for the named call, creating one if needed.
func (s *BreakerSet) Get(name string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[name]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[name]; ok {
		return b
	}
	b = NewBreaker(s.failureThreshold, s.resetTimeout)
	s.breakers[name] = b
	return b
}
