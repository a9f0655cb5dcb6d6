// SPDX-License-Identifier: MIT

// Package resilience guards the origin connection. The circuit breaker
// stops hammering an origin that keeps failing; while it is open the
// gateway leans on stale-if-error serving instead.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/thumbgate/thumbgate/internal/metrics"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is returned while the breaker refuses requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CircuitBreaker is a three-state breaker: closed until failureThreshold
// consecutive failures, open for openInterval, then half-open until
// successThreshold consecutive successes close it again. Any half-open
// failure reopens immediately.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	openInterval     time.Duration
	openedAt         time.Time
	clock            clock

	// If set, panics in the executed function are counted as failures and
	// re-thrown.
	recoverPanic bool
}

// Option configuration pattern
type Option func(*CircuitBreaker)

func WithClock(c clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

func WithPanicRecovery(enabled bool) Option {
	return func(cb *CircuitBreaker) { cb.recoverPanic = enabled }
}

// NewCircuitBreaker creates a breaker with the given thresholds. Zero or
// negative arguments fall back to conservative defaults.
func NewCircuitBreaker(failureThreshold, successThreshold int, openInterval time.Duration, opts ...Option) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 1
	}
	if openInterval <= 0 {
		openInterval = 30 * time.Second
	}

	cb := &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openInterval:     openInterval,
		clock:            realClock{},
	}
	for _, opt := range opts {
		opt(cb)
	}

	metrics.SetBreakerState(stateGauge(cb.state))
	return cb
}

// Execute runs fn respecting the breaker state.
func (cb *CircuitBreaker) Execute(fn func() error) (err error) {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	if cb.recoverPanic {
		defer func() {
			if r := recover(); r != nil {
				cb.recordFailure()
				panic(r)
			}
		}()
	}

	err = fn()
	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

// RecordResult feeds an externally observed outcome into the breaker, for
// callers that cannot wrap their work in Execute (a 5xx response is a
// failure even though the transport call itself succeeded).
func (cb *CircuitBreaker) RecordResult(failed bool) {
	if failed {
		cb.recordFailure()
		return
	}
	cb.recordSuccess()
}

// Allow reports whether a request may proceed right now, performing the
// open-to-half-open transition when the interval has elapsed.
func (cb *CircuitBreaker) Allow() bool { return cb.allowRequest() }

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) > cb.openInterval {
			cb.transitionTo(StateHalfOpen)
			return true
		}
		return false
	default: // StateHalfOpen: probes are allowed through
		return true
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.successes = 0

	if cb.state == StateHalfOpen {
		cb.transitionTo(StateOpen)
		return
	}
	if cb.state == StateClosed && cb.failures >= cb.failureThreshold {
		cb.transitionTo(StateOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.transitionTo(StateClosed)
		}
	case StateOpen:
		// A success while open means an in-flight request finished after the
		// trip; it does not close the breaker.
	default:
		cb.successes = 0
	}
}

// transitionTo handles state transitions and updates metrics.
// Caller must hold lock.
func (cb *CircuitBreaker) transitionTo(newState State) {
	if cb.state == newState {
		return
	}
	cb.state = newState
	cb.successes = 0
	if newState == StateOpen {
		cb.openedAt = cb.clock.Now()
		cb.failures = 0
	}
	metrics.SetBreakerState(stateGauge(newState))
	metrics.IncBreakerTransition(string(newState))
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func stateGauge(s State) float64 {
	switch s {
	case StateOpen:
		return 1
	case StateHalfOpen:
		return 2
	default:
		return 0
	}
}
