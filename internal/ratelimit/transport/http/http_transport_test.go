package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"llmratelimit/internal/ratelimit/core"
	"llmratelimit/internal/ratelimit/observability"
	"llmratelimit/internal/ratelimit/store/inmemory"
	httptransport "llmratelimit/internal/ratelimit/transport/http"
)

func newTestTransport(t *testing.T) *httptest.Server {
	t.Helper()
	store := inmemory.NewStore()
	store.SetHealthy(true)
	breaker := core.NewCircuitBreaker(core.CircuitOptions{})
	engine := core.NewEngine(store, breaker, core.DefaultWindow)
	resolver := core.NewResolver()
	accountant, err := core.NewAccountant()
	require.NoError(t, err)
	generator := core.NewMockGenerator(core.DefaultMockGeneratorConfig, accountant)

	transport := httptransport.NewHTTPTransport(":0", httptransport.Deps{
		Engine:     engine,
		Resolver:   resolver,
		Accountant: accountant,
		Generator:  generator,
		InFlight:   core.NewInFlight(1000),
		Store:      store,
		Logger:     observability.NewZerologLogger(nil, "info"),
	}, func() bool { return true })
	return httptest.NewServer(transport.Handler())
}

func TestChatCompletions_AdmitsAndReturnsUsage(t *testing.T) {
	server := newTestTransport(t)
	defer server.Close()

	payload, err := json.Marshal(map[string]any{
		"model":    "gpt-3.5-turbo",
		"messages": []map[string]string{{"role": "user", "content": "hello there"}},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/chat/completions", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer test-key")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "chat.completion", body["object"])
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestChatCompletions_RejectsMissingAuth(t *testing.T) {
	server := newTestTransport(t)
	defer server.Close()

	resp, err := http.Post(server.URL+"/v1/chat/completions", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatCompletions_RejectsEmptyMessages(t *testing.T) {
	server := newTestTransport(t)
	defer server.Close()

	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/chat/completions", bytes.NewReader([]byte(`{"model":"gpt-3.5-turbo","messages":[]}`)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer test-key")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestModels_ListsCatalog(t *testing.T) {
	server := newTestTransport(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/models")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	data, ok := body["data"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, data)
}

func TestUsage_RequiresAuth(t *testing.T) {
	server := newTestTransport(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/v1/usage/test-key")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUsage_ReturnsZeroedCountersForFreshKey(t *testing.T) {
	server := newTestTransport(t)
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL+"/v1/usage/test-key", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer test-key")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, float64(0), body["requests_used"])
}

func TestHealth_ReportsHealthyStore(t *testing.T) {
	server := newTestTransport(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

type alwaysSampler struct{}

func (alwaysSampler) Sampled(traceID string) bool { return traceID != "" }

type recordingTracer struct {
	spans []string
}

type recordingSpan struct {
	tracer *recordingTracer
	attrs  map[string]string
	err    error
}

func (tr *recordingTracer) StartSpan(ctx context.Context, name string) (context.Context, observability.Span) {
	tr.spans = append(tr.spans, name)
	return ctx, &recordingSpan{tracer: tr, attrs: map[string]string{}}
}

func (s *recordingSpan) SetAttribute(key, value string) { s.attrs[key] = value }
func (s *recordingSpan) RecordError(err error)          { s.err = err }
func (s *recordingSpan) End()                           {}

func TestChatCompletions_RecordsSampledSpan(t *testing.T) {
	store := inmemory.NewStore()
	store.SetHealthy(true)
	breaker := core.NewCircuitBreaker(core.CircuitOptions{})
	engine := core.NewEngine(store, breaker, core.DefaultWindow)
	resolver := core.NewResolver()
	accountant, err := core.NewAccountant()
	require.NoError(t, err)
	generator := core.NewMockGenerator(core.DefaultMockGeneratorConfig, accountant)
	tracer := &recordingTracer{}

	transport := httptransport.NewHTTPTransport(":0", httptransport.Deps{
		Engine:     engine,
		Resolver:   resolver,
		Accountant: accountant,
		Generator:  generator,
		InFlight:   core.NewInFlight(1000),
		Store:      store,
		Logger:     observability.NewZerologLogger(nil, "info"),
		Tracer:     tracer,
		Sampler:    alwaysSampler{},
	}, func() bool { return true })
	server := httptest.NewServer(transport.Handler())
	defer server.Close()

	payload := []byte(`{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"hi"}]}`)
	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/chat/completions", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer test-key")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"chat_completions"}, tracer.spans)
}

func TestChatCompletions_DeniedRequestReturnsRetryAfterAndDimension(t *testing.T) {
	store := inmemory.NewStore()
	store.SetHealthy(true)
	breaker := core.NewCircuitBreaker(core.CircuitOptions{})
	engine := core.NewEngine(store, breaker, core.DefaultWindow)
	resolver := core.NewResolver(core.WithOverrides(map[string]core.RateLimitConfig{
		"test-key": {InputTPM: 1_000_000, OutputTPM: 1_000_000, RPM: 1},
	}))
	accountant, err := core.NewAccountant()
	require.NoError(t, err)
	generator := core.NewMockGenerator(core.DefaultMockGeneratorConfig, accountant)

	transport := httptransport.NewHTTPTransport(":0", httptransport.Deps{
		Engine:     engine,
		Resolver:   resolver,
		Accountant: accountant,
		Generator:  generator,
		InFlight:   core.NewInFlight(1000),
		Store:      store,
		Logger:     observability.NewZerologLogger(nil, "info"),
	}, func() bool { return true })
	server := httptest.NewServer(transport.Handler())
	defer server.Close()

	payload := []byte(`{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"hi"}]}`)
	newRequest := func() *http.Request {
		req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/chat/completions", bytes.NewReader(payload))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer test-key")
		return req
	}

	first, err := http.DefaultClient.Do(newRequest())
	require.NoError(t, err)
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.DefaultClient.Do(newRequest())
	require.NoError(t, err)
	defer second.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	require.NotEmpty(t, second.Header.Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(second.Body).Decode(&body))
	errDetail, ok := body["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "rate_limit_exceeded", errDetail["type"])
	require.Equal(t, string(core.DimensionRPM), errDetail["dimension"])
}

func TestChatCompletions_CoordinationOutageReturnsBadGateway(t *testing.T) {
	store := inmemory.NewStore()
	store.SetHealthy(false)
	breaker := core.NewCircuitBreaker(core.CircuitOptions{})
	engine := core.NewEngine(store, breaker, core.DefaultWindow)
	resolver := core.NewResolver()
	accountant, err := core.NewAccountant()
	require.NoError(t, err)
	generator := core.NewMockGenerator(core.DefaultMockGeneratorConfig, accountant)

	transport := httptransport.NewHTTPTransport(":0", httptransport.Deps{
		Engine:     engine,
		Resolver:   resolver,
		Accountant: accountant,
		Generator:  generator,
		InFlight:   core.NewInFlight(1000),
		Store:      store,
		Logger:     observability.NewZerologLogger(nil, "info"),
	}, func() bool { return true })
	server := httptest.NewServer(transport.Handler())
	defer server.Close()

	payload := []byte(`{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"hi"}]}`)
	req, err := http.NewRequest(http.MethodPost, server.URL+"/v1/chat/completions", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer test-key")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	errDetail, ok := body["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "coordination_unavailable_error", errDetail["type"])
}

func TestRoot_ReturnsServiceInfo(t *testing.T) {
	server := newTestTransport(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "llmratelimit", body["service"])
}
