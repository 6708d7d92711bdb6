package core

import (
	"sync/atomic"
	"time"
)

// CircuitState represents the state of a CircuitBreaker guarding calls to
// the coordination store.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitOptions configures breaker thresholds.
type CircuitOptions struct {
	FailureThreshold int64
	OpenDuration     time.Duration
	HalfOpenMaxCalls int64
}

// CircuitBreaker trips after a run of coordination-store failures so that
// subsequent admission attempts fail fast with ErrCoordinationUnavailable
// instead of each blocking on the store's own timeout. It never causes an
// admission to be granted; it only changes how quickly a denial-by-outage
// is reached.
type CircuitBreaker struct {
	state            atomic.Int32
	openUntil        atomic.Int64
	failures         atomic.Int64
	halfOpenInFlight atomic.Int64
	opts             CircuitOptions
}

// NewCircuitBreaker constructs a breaker, filling in defaults for any
// unset option.
func NewCircuitBreaker(opts CircuitOptions) *CircuitBreaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 10
	}
	if opts.OpenDuration <= 0 {
		opts.OpenDuration = 200 * time.Millisecond
	}
	if opts.HalfOpenMaxCalls <= 0 {
		opts.HalfOpenMaxCalls = 5
	}
	cb := &CircuitBreaker{opts: opts}
	cb.state.Store(int32(CircuitClosed))
	return cb
}

// Allow reports whether a coordination-store call should be attempted.
func (cb *CircuitBreaker) Allow() bool {
	if cb == nil {
		return true
	}
	switch CircuitState(cb.state.Load()) {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Now().UnixNano() >= cb.openUntil.Load() {
			cb.state.Store(int32(CircuitHalfOpen))
			cb.halfOpenInFlight.Store(0)
			return true
		}
		return false
	case CircuitHalfOpen:
		inFlight := cb.halfOpenInFlight.Add(1)
		if inFlight <= cb.opts.HalfOpenMaxCalls {
			return true
		}
		cb.halfOpenInFlight.Add(-1)
		return false
	default:
		return true
	}
}

// State reports the breaker's current state without side effects, for
// observability hooks that should not themselves influence the half-open
// probe budget the way Allow does.
func (cb *CircuitBreaker) State() CircuitState {
	if cb == nil {
		return CircuitClosed
	}
	return CircuitState(cb.state.Load())
}

// OnSuccess records a successful coordination-store call.
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	switch CircuitState(cb.state.Load()) {
	case CircuitHalfOpen:
		cb.halfOpenInFlight.Add(-1)
		cb.failures.Store(0)
		cb.state.Store(int32(CircuitClosed))
	case CircuitClosed:
		cb.failures.Store(0)
	}
}

// OnFailure records a failed coordination-store call.
func (cb *CircuitBreaker) OnFailure() {
	if cb == nil {
		return
	}
	if CircuitState(cb.state.Load()) == CircuitHalfOpen {
		cb.halfOpenInFlight.Add(-1)
		cb.failures.Store(cb.opts.FailureThreshold)
		cb.openUntil.Store(time.Now().Add(cb.opts.OpenDuration).UnixNano())
		cb.state.Store(int32(CircuitOpen))
		return
	}
	failures := cb.failures.Add(1)
	if failures >= cb.opts.FailureThreshold {
		cb.openUntil.Store(time.Now().Add(cb.opts.OpenDuration).UnixNano())
		cb.state.Store(int32(CircuitOpen))
	}
}
