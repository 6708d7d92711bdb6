// Package observability defines the logging, metrics, and tracing
// interfaces the rest of the service depends on, plus zerolog- and
// prometheus-backed implementations.
package observability

import (
	"context"
	"time"
)

// Span captures tracing span operations.
type Span interface {
	SetAttribute(key, value string)
	RecordError(err error)
	End()
}

// Tracer is an optional tracing dependency.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Sampler decides if a trace should be sampled.
type Sampler interface {
	Sampled(traceID string) bool
}

// Logger provides structured logging hooks. The zerolog-backed
// implementation in logger.go is what every component outside of
// tests is constructed with.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// Metrics records service measurements for the admission path (§4.2) and
// the coordination store (§4.1, §7).
type Metrics interface {
	IncAdmission(result string, dimension string)
	ObserveLatency(op string, d time.Duration)
	IncCoordinationError(op string)
	IncCircuitOpen()
	IncReconcile(result string)
	IncGeneratorError()
}
