package core

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// DefaultWindow is the sliding-window horizon W (§3, §6 WINDOW_SECONDS
// default).
const DefaultWindow = 60 * time.Second

// Engine is the Admission Engine (§4.2). It embeds the sliding-window
// algorithm: given a key and estimated costs, it issues exactly one
// atomic round trip to the coordination store and returns ADMIT or DENY.
// Engine holds no per-key cache that participates in admission — the
// store is the sole source of truth (§3 "Ownership").
type Engine struct {
	store   CoordinationStore
	breaker *CircuitBreaker
	window  time.Duration
}

// NewEngine constructs an Engine backed by store. breaker may be nil, in
// which case every call reaches the store directly.
func NewEngine(store CoordinationStore, breaker *CircuitBreaker, window time.Duration) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Engine{store: store, breaker: breaker, window: window}
}

// BreakerOpen reports whether the coordination-store circuit breaker is
// currently open, for callers that want to surface it as a metric without
// consuming one of the breaker's own half-open probe slots.
func (e *Engine) BreakerOpen() bool {
	if e == nil {
		return false
	}
	return e.breaker.State() == CircuitOpen
}

// Admit evaluates the three dimensions for key and, if none would be
// exceeded, commits one event per dimension (§4.1 items 1-6, §4.2).
//
// Admit is never idempotent: a second call with the same inputs but a
// fresh event_id consumes quota again, per §8.
func (e *Engine) Admit(ctx context.Context, key string, cfg RateLimitConfig, estIn, estOut int64, now time.Time) (Decision, error) {
	if e == nil || e.store == nil {
		return Decision{}, ErrCoordinationUnavailable
	}
	if key == "" {
		return Decision{}, ErrInvalidInput
	}
	if estIn < 0 || estOut < 0 {
		return Decision{}, ErrInvalidInput
	}
	if e.breaker != nil && !e.breaker.Allow() {
		return Decision{}, ErrCoordinationUnavailable
	}

	eventID := uuid.NewString()
	result, err := e.store.AdmitBatch(ctx, AdmitParams{
		APIKey:  key,
		Config:  cfg,
		CostIn:  estIn,
		CostOut: estOut,
		Now:     now,
		Window:  e.window,
		EventID: eventID,
	})
	if err != nil {
		if e.breaker != nil {
			e.breaker.OnFailure()
		}
		return Decision{}, wrapCoordinationError(err)
	}
	if e.breaker != nil {
		e.breaker.OnSuccess()
	}

	if !result.Admitted {
		return Decision{
			Allowed:         false,
			DeniedDimension: result.Dimension,
			RetryAfter:      retryAfter(result.OldestSurvivor, e.window, now),
		}, nil
	}
	return Decision{
		Allowed:                 true,
		EventID:                 eventID,
		CommittedInput:          estIn,
		CommittedOutputEstimate: estOut,
	}, nil
}

// Reconcile adjusts a previously committed event's output cost after the
// generator reports the actual completion length (§4.2, §4.1 reconcile).
// It is a no-op when actualOut equals oldOut. Failures are reported to the
// caller but are expected to be logged and dropped, never to block the
// response already in flight (§4.2, §7).
func (e *Engine) Reconcile(ctx context.Context, key, eventID string, oldOut, actualOut int64, now time.Time) error {
	if e == nil || e.store == nil {
		return ErrCoordinationUnavailable
	}
	if actualOut == oldOut {
		return nil
	}
	err := e.store.Reconcile(ctx, ReconcileParams{
		APIKey:  key,
		EventID: eventID,
		OldCost: oldOut,
		NewCost: actualOut,
		Now:     now,
		Window:  e.window,
	})
	if err != nil {
		return wrapCoordinationError(err)
	}
	return nil
}

// Usage returns the current non-expired sums for key, for the read-only
// usage endpoint. It never mutates counter state.
func (e *Engine) Usage(ctx context.Context, key string, now time.Time) (Usage, error) {
	if e == nil || e.store == nil {
		return Usage{}, ErrCoordinationUnavailable
	}
	usage, err := e.store.Usage(ctx, key, now, e.window)
	if err != nil {
		return Usage{}, wrapCoordinationError(err)
	}
	return usage, nil
}

// retryAfter computes ceil(oldest+W - now) clamped to [1, W], per §4.2.
func retryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	if oldest.IsZero() {
		return time.Second
	}
	until := oldest.Add(window).Sub(now)
	seconds := math.Ceil(until.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	maxSeconds := window.Seconds()
	if seconds > maxSeconds {
		seconds = maxSeconds
	}
	return time.Duration(seconds * float64(time.Second))
}

func wrapCoordinationError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(CodeCoordinationUnavailable, "coordination store timed out", err)
	}
	return Wrap(CodeCoordinationUnavailable, "coordination store unavailable", err)
}
