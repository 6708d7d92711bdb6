package observability

import (
	"context"
	"hash/fnv"
)

// NoopTracer discards every span. It is the default when no tracing
// backend is configured, so the admission path stays on the fast path
// with zero span allocation.
type NoopTracer struct{}

// NoopSpan discards every attribute and error recorded against it.
type NoopSpan struct{}

// StartSpan returns ctx unchanged alongside a NoopSpan.
func (t NoopTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, NoopSpan{}
}

// SetAttribute is a no-op.
func (s NoopSpan) SetAttribute(key, value string) {}

// RecordError is a no-op.
func (s NoopSpan) RecordError(err error) {}

// End is a no-op.
func (s NoopSpan) End() {}

// HashSampler decides whether a request's trace is sampled by hashing its
// request ID, the same uuid each handler stamps onto X-Request-ID, so two
// nodes shown the same ID always agree without coordinating — the same
// property the admission path's deterministic tier resolution relies on.
//
// percent mirrors Config.TraceSampleRate directly: 0 samples nothing, 100
// samples every request, anything in between samples that share of
// request IDs deterministically.
type HashSampler struct {
	percent int
}

// NewHashSampler returns a HashSampler that samples roughly percent% of
// request IDs. Values outside [0, 100] are clamped.
func NewHashSampler(percent int) HashSampler {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return HashSampler{percent: percent}
}

// Sampled reports whether the request identified by requestID should be
// traced. An empty ID is never sampled.
func (s HashSampler) Sampled(requestID string) bool {
	if requestID == "" || s.percent <= 0 {
		return false
	}
	if s.percent >= 100 {
		return true
	}
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(requestID))
	return int(hasher.Sum32()%100) < s.percent
}
