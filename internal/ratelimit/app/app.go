// Package app wires the rate limiter's components into a running node:
// coordination store selection, the admission engine and its
// collaborators, observability, and the HTTP transport, following the
// teacher's construct-then-Start/Shutdown lifecycle.
package app

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"llmratelimit/internal/ratelimit/config"
	"llmratelimit/internal/ratelimit/core"
	"llmratelimit/internal/ratelimit/observability"
	"llmratelimit/internal/ratelimit/store/inmemory"
	"llmratelimit/internal/ratelimit/store/redisstore"
	httptransport "llmratelimit/internal/ratelimit/transport/http"
)

// Application holds every constructed component for one node.
type Application struct {
	Config     *config.Config
	Store      core.CoordinationStore
	Resolver   *core.Resolver
	Accountant *core.Accountant
	Generator  core.Generator
	Engine     *core.Engine
	InFlight   *core.InFlight
	Breaker    *core.CircuitBreaker
	Logger     observability.Logger
	Metrics    *observability.PrometheusMetrics

	ready         atomic.Bool
	httpTransport *httptransport.HTTPTransport
	redisClient   *redis.Client
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	drainTimeout  time.Duration
}

// NewApplication validates cfg and constructs every collaborator, but
// does not yet start any background work or bind a listener.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := observability.NewZerologLogger(os.Stderr, cfg.LogLevel)
	metrics := observability.NewPrometheusMetrics(nil)
	tracer := observability.Tracer(observability.NoopTracer{})
	sampler := observability.Sampler(observability.NewHashSampler(cfg.TraceSampleRate))

	var store core.CoordinationStore
	var redisClient *redis.Client
	switch cfg.StoreBackend {
	case config.StoreRedis:
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			DB:       cfg.RedisDB,
			PoolSize: max(16, 10*runtime.GOMAXPROCS(0)),
		})
		store = redisstore.NewStore(redisClient)
	default:
		store = inmemory.NewStore()
	}

	resolver, err := cfg.LoadResolver()
	if err != nil {
		return nil, err
	}
	accountant, err := core.NewAccountant()
	if err != nil {
		return nil, err
	}
	generator := core.NewMockGenerator(core.MockGeneratorConfig{
		MinOutputTokens: cfg.MockMinOutputTokens,
		MaxOutputTokens: cfg.MockMaxOutputTokens,
		AvgOutputTokens: cfg.MockAvgOutputTokens,
	}, accountant)

	breaker := core.NewCircuitBreaker(core.CircuitOptions{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenDuration:     cfg.BreakerOpenDuration,
		HalfOpenMaxCalls: cfg.BreakerHalfOpenMaxCalls,
	})
	engine := core.NewEngine(store, breaker, cfg.Window)
	inflight := core.NewInFlight(cfg.MaxInflight)

	app := &Application{
		Config:       cfg,
		Store:        store,
		Resolver:     resolver,
		Accountant:   accountant,
		Generator:    generator,
		Engine:       engine,
		InFlight:     inflight,
		Breaker:      breaker,
		Logger:       logger,
		Metrics:      metrics,
		redisClient:  redisClient,
		drainTimeout: cfg.DrainTimeout,
	}

	transport := httptransport.NewHTTPTransport(cfg.HTTPListenAddr, httptransport.Deps{
		Engine:         engine,
		Resolver:       resolver,
		Accountant:     accountant,
		Generator:      generator,
		InFlight:       inflight,
		Store:          store,
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
		Sampler:        sampler,
		EnableAuth:     cfg.EnableAuth,
		APIKeys:        cfg.APIKeys,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		DefaultMaxOut:  cfg.MockAvgOutputTokens,
		RequestTimeout: cfg.RequestTimeout,
	}, app.Ready)
	transport.Configure(httptransport.HTTPTransportConfig{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	})
	app.httpTransport = transport

	return app, nil
}

// Start begins serving HTTP traffic in the background and marks the node
// ready.
func (app *Application) Start(ctx context.Context) error {
	if app == nil {
		return errors.New("application is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	if app.httpTransport != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := app.httpTransport.Start(); err != nil && app.Logger != nil {
				app.Logger.Error("http transport stopped", map[string]any{"error": err.Error()})
			}
		}()
	}

	app.ready.Store(true)
	if app.Logger != nil && app.Config != nil {
		app.Logger.Info("application started", map[string]any{
			"store_backend": string(app.Config.StoreBackend),
			"http_addr":     app.Config.HTTPListenAddr,
		})
	}
	return nil
}

// Shutdown stops accepting new work, drains in-flight requests up to the
// configured drain timeout, and stops the HTTP transport.
func (app *Application) Shutdown(ctx context.Context) error {
	if app == nil {
		return errors.New("application is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	app.ready.Store(false)
	if app.Logger != nil && app.Config != nil {
		app.Logger.Info("application shutdown", map[string]any{"store_backend": string(app.Config.StoreBackend)})
	}

	if app.InFlight != nil {
		app.InFlight.Close()
	}
	var drainErr error
	if app.InFlight != nil {
		drainCtx := ctx
		if app.drainTimeout > 0 {
			var cancel context.CancelFunc
			drainCtx, cancel = context.WithTimeout(ctx, app.drainTimeout)
			defer cancel()
		}
		drainErr = app.InFlight.Wait(drainCtx)
	}

	if app.httpTransport != nil {
		_ = app.httpTransport.Shutdown(ctx)
	}
	if app.redisClient != nil {
		_ = app.redisClient.Close()
	}
	if app.cancel != nil {
		app.cancel()
	}

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return drainErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the application has completed startup.
func (app *Application) Ready() bool {
	if app == nil {
		return false
	}
	return app.ready.Load()
}
