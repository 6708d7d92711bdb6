// Package httptransport exposes the Request Handler's OpenAI-compatible
// surface over HTTP, adapted from the teacher's transport/http package:
// the same register-then-Start lifecycle and net/http.ServeMux routing,
// generalized from rule CRUD to the admission path (§4.3).
package httptransport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"llmratelimit/internal/ratelimit/core"
	"llmratelimit/internal/ratelimit/observability"
)

const defaultMaxBodyBytes = 1 << 20

// Deps bundles every collaborator a request handler needs to serve one
// HTTP request.
type Deps struct {
	Engine     *core.Engine
	Resolver   *core.Resolver
	Accountant *core.Accountant
	Generator  core.Generator
	InFlight   *core.InFlight
	Store      core.CoordinationStore
	Logger     observability.Logger
	Metrics    observability.Metrics
	Tracer     observability.Tracer
	Sampler    observability.Sampler

	EnableAuth     bool
	APIKeys        map[string]struct{}
	MaxBodyBytes   int64
	DefaultMaxOut  int64
	RequestTimeout time.Duration
}

// HTTPTransport serves the rate limiter's HTTP surface (§4.3, §6).
type HTTPTransport struct {
	addr         string
	srv          *http.Server
	deps         Deps
	appReady     func() bool
	mux          http.Handler
	mu           sync.Mutex
	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

// HTTPTransportConfig configures server-level timeouts; request-level
// dependencies are supplied via Deps at construction time.
type HTTPTransportConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewHTTPTransport constructs a transport bound to addr, serving deps.
// ready reports whether the node has finished startup, for /readyz.
func NewHTTPTransport(addr string, deps Deps, ready func() bool) *HTTPTransport {
	if addr == "" {
		addr = ":8080"
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = defaultMaxBodyBytes
	}
	if deps.DefaultMaxOut <= 0 {
		deps.DefaultMaxOut = 150
	}
	if ready == nil {
		ready = func() bool { return false }
	}
	if deps.Tracer == nil {
		deps.Tracer = observability.NoopTracer{}
	}
	if deps.Sampler == nil {
		deps.Sampler = observability.NewHashSampler(100)
	}
	return &HTTPTransport{
		addr:         addr,
		deps:         deps,
		appReady:     ready,
		readTimeout:  10 * time.Second,
		writeTimeout: 30 * time.Second,
		idleTimeout:  60 * time.Second,
	}
}

// Configure applies server-level timeout overrides.
func (t *HTTPTransport) Configure(cfg HTTPTransportConfig) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cfg.ReadTimeout > 0 {
		t.readTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		t.writeTimeout = cfg.WriteTimeout
	}
	if cfg.IdleTimeout > 0 {
		t.idleTimeout = cfg.IdleTimeout
	}
}

// Start begins serving HTTP requests; it blocks until Shutdown is called
// or the listener fails.
func (t *HTTPTransport) Start() error {
	if t == nil {
		return errors.New("http transport is nil")
	}
	handler := t.Handler()
	t.mu.Lock()
	if t.srv == nil {
		t.srv = &http.Server{
			Addr:         t.addr,
			Handler:      handler,
			ReadTimeout:  t.readTimeout,
			WriteTimeout: t.writeTimeout,
			IdleTimeout:  t.idleTimeout,
		}
	}
	srv := t.srv
	t.mu.Unlock()

	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server, letting in-flight requests finish
// within ctx's deadline.
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	if t == nil {
		return errors.New("http transport is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	srv := t.srv
	t.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Handler returns the routed http.Handler. Exposed for tests that want
// to drive the transport via httptest without binding a real listener.
func (t *HTTPTransport) Handler() http.Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mux != nil {
		return t.mux
	}
	mux := http.NewServeMux()
	t.registerRoutes(mux)
	t.mux = mux
	return mux
}
