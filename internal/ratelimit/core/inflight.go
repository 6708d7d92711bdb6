package core

import (
	"context"
	"sync/atomic"
)

// InFlight bounds the number of requests a node admits into its pipeline
// and supports draining on shutdown. Begin enforces the MAX_INFLIGHT
// ceiling (§5 "Backpressure") before a request ever touches the
// coordination store; over-ceiling arrivals are rejected for free.
type InFlight struct {
	n       atomic.Int64
	ceiling int64
	closed  atomic.Bool
	ch      chan struct{}
}

// NewInFlight constructs a tracker with the given ceiling. A ceiling of 0
// or less means unbounded (ceiling is only enforced, not counted against).
func NewInFlight(ceiling int64) *InFlight {
	return &InFlight{ceiling: ceiling, ch: make(chan struct{})}
}

// Begin admits one more in-flight request, returning false if the node is
// draining or the ceiling has been reached.
func (f *InFlight) Begin() bool {
	if f == nil {
		return false
	}
	if f.closed.Load() {
		return false
	}
	n := f.n.Add(1)
	if f.closed.Load() || (f.ceiling > 0 && n > f.ceiling) {
		f.n.Add(-1)
		return false
	}
	return true
}

// End marks one in-flight request as complete.
func (f *InFlight) End() {
	if f == nil {
		return
	}
	if f.n.Add(-1) == 0 && f.closed.Load() {
		close(f.ch)
	}
}

// Close stops admitting new requests and signals drained once the last
// in-flight request calls End.
func (f *InFlight) Close() {
	if f == nil {
		return
	}
	if !f.closed.CompareAndSwap(false, true) {
		return
	}
	if f.n.Load() == 0 {
		close(f.ch)
	}
}

// Wait blocks until fully drained or ctx is done.
func (f *InFlight) Wait(ctx context.Context) error {
	if f == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
