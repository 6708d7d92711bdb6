package httptransport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"llmratelimit/internal/ratelimit/core"
	"llmratelimit/internal/ratelimit/observability"
)

// coordinationStoreTimeout and generatorCallTimeout are the per-call
// budgets of §5 (CS admission ≤50ms, mock generator ≤2s). Deps.RequestTimeout,
// when set, replaces whichever of the two is larger than the configured
// request timeout.
const (
	coordinationStoreTimeout = 50 * time.Millisecond
	generatorCallTimeout     = 2 * time.Second
)

func (t *HTTPTransport) admitTimeout() time.Duration {
	return subBudget(t.deps.RequestTimeout, coordinationStoreTimeout)
}

func (t *HTTPTransport) generatorTimeout() time.Duration {
	return subBudget(t.deps.RequestTimeout, generatorCallTimeout)
}

func subBudget(requestTimeout, ceiling time.Duration) time.Duration {
	if requestTimeout > 0 && requestTimeout < ceiling {
		return requestTimeout
	}
	return ceiling
}

func (t *HTTPTransport) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", t.handleRoot)
	mux.HandleFunc("POST /v1/chat/completions", t.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", t.handleModels)
	mux.HandleFunc("GET /v1/usage/{api_key}", t.handleUsage)
	mux.HandleFunc("GET /health", t.handleHealth)
	mux.HandleFunc("GET /readyz", t.handleReady)
	mux.Handle("GET /metrics", observability.Handler())
}

func (t *HTTPTransport) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "llmratelimit",
		"version": "1.0.0",
		"status":  "running",
	})
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if t.deps.Store != nil && !t.deps.Store.Healthy(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (t *HTTPTransport) handleReady(w http.ResponseWriter, r *http.Request) {
	if t.appReady != nil && t.appReady() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (t *HTTPTransport) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelsResponse{Object: "list", Data: modelCatalog})
}

func (t *HTTPTransport) handleUsage(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := t.authorize(w, r)
	if !ok {
		return
	}
	pathKey := r.PathValue("api_key")
	if pathKey != "" {
		apiKey = pathKey
	}
	usageCtx, cancel := context.WithTimeout(r.Context(), t.admitTimeout())
	defer cancel()
	usage, err := t.deps.Engine.Usage(usageCtx, apiKey, time.Now())
	if err != nil {
		if t.deps.Metrics != nil && core.CodeOf(err) == core.CodeCoordinationUnavailable {
			t.deps.Metrics.IncCoordinationError("usage")
		}
		t.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{
		InputTokensUsed:  usage.InputTokensUsed,
		OutputTokensUsed: usage.OutputTokensUsed,
		RequestsUsed:     usage.RequestsUsed,
		WindowSeconds:    usage.WindowSeconds,
	})
}

func (t *HTTPTransport) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := t.authorize(w, r)
	if !ok {
		return
	}

	var req chatCompletionRequest
	if err := t.decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, simpleErrorBody("invalid_request_error", "malformed request body"))
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, simpleErrorBody("invalid_request_error", "messages must not be empty"))
		return
	}
	if req.Stream {
		writeJSON(w, http.StatusBadRequest, simpleErrorBody("invalid_request_error", "streaming responses are not supported"))
		return
	}

	now := time.Now()
	requestID := uuid.NewString()
	ctx := r.Context()
	var span observability.Span
	if t.deps.Sampler != nil && t.deps.Sampler.Sampled(requestID) {
		ctx, span = t.deps.Tracer.StartSpan(ctx, "chat_completions")
		span.SetAttribute("api_key", apiKey)
		span.SetAttribute("model", req.Model)
		defer span.End()
	}

	cfg := t.deps.Resolver.Resolve(apiKey)
	messages := toChatMessages(req.Messages)
	estIn := t.deps.Accountant.CountInput(messages)

	defaultMaxOut := t.deps.DefaultMaxOut
	estOut := defaultMaxOut
	if req.MaxTokens > 0 && req.MaxTokens < defaultMaxOut {
		estOut = req.MaxTokens
	}

	if t.deps.InFlight != nil && !t.deps.InFlight.Begin() {
		writeJSON(w, http.StatusServiceUnavailable, simpleErrorBody("overloaded_error", "server is at capacity"))
		return
	}
	if t.deps.InFlight != nil {
		defer t.deps.InFlight.End()
	}

	if t.deps.Metrics != nil && t.deps.Engine.BreakerOpen() {
		t.deps.Metrics.IncCircuitOpen()
	}

	admitCtx, cancelAdmit := context.WithTimeout(ctx, t.admitTimeout())
	start := time.Now()
	decision, err := t.deps.Engine.Admit(admitCtx, apiKey, cfg, estIn, estOut, now)
	cancelAdmit()
	if t.deps.Metrics != nil {
		t.deps.Metrics.ObserveLatency("admit", time.Since(start))
	}
	if err != nil {
		if span != nil {
			span.RecordError(err)
		}
		if t.deps.Metrics != nil && core.CodeOf(err) == core.CodeCoordinationUnavailable {
			t.deps.Metrics.IncCoordinationError("admit")
		}
		t.writeEngineError(w, r, err)
		return
	}
	if !decision.Allowed {
		if t.deps.Metrics != nil {
			t.deps.Metrics.IncAdmission("denied", string(decision.DeniedDimension))
		}
		if span != nil {
			span.SetAttribute("denied_dimension", string(decision.DeniedDimension))
		}
		retrySeconds := int64(decision.RetryAfter / time.Second)
		if retrySeconds < 1 {
			retrySeconds = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(retrySeconds, 10))
		writeJSON(w, http.StatusTooManyRequests, rateLimitErrorBody(decision.DeniedDimension, retrySeconds))
		return
	}
	if t.deps.Metrics != nil {
		t.deps.Metrics.IncAdmission("allowed", "")
	}

	generatorCtx, cancelGenerator := context.WithTimeout(ctx, t.generatorTimeout())
	resp, err := t.deps.Generator.Generate(generatorCtx, core.GeneratorRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   decision.CommittedOutputEstimate,
		Temperature: req.Temperature,
	})
	cancelGenerator()
	if err != nil {
		if t.deps.Metrics != nil {
			t.deps.Metrics.IncGeneratorError()
		}
		if span != nil {
			span.RecordError(err)
		}
		writeJSON(w, http.StatusBadGateway, simpleErrorBody("generator_error", "response generation failed"))
		return
	}

	if resp.ActualOutputTokens != decision.CommittedOutputEstimate {
		reconcileCtx, cancelReconcile := context.WithTimeout(ctx, t.admitTimeout())
		reconcileErr := t.deps.Engine.Reconcile(reconcileCtx, apiKey, decision.EventID, decision.CommittedOutputEstimate, resp.ActualOutputTokens, now)
		cancelReconcile()
		if t.deps.Metrics != nil {
			if reconcileErr != nil {
				t.deps.Metrics.IncReconcile("failed")
			} else {
				t.deps.Metrics.IncReconcile("applied")
			}
		}
	}

	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("X-RateLimit-Limit-Requests", core.FormatUsageHeaderValue(cfg.RPM))
	w.Header().Set("X-RateLimit-Limit-Tokens-Input", core.FormatUsageHeaderValue(cfg.InputTPM))
	w.Header().Set("X-RateLimit-Limit-Tokens-Output", core.FormatUsageHeaderValue(cfg.OutputTPM))
	writeJSON(w, http.StatusOK, fromGeneratedResponse(resp))
}

func (t *HTTPTransport) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		writeJSON(w, http.StatusUnauthorized, simpleErrorBody("authentication_error", "missing or malformed Authorization header"))
		return "", false
	}
	apiKey := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if apiKey == "" {
		writeJSON(w, http.StatusUnauthorized, simpleErrorBody("authentication_error", "missing API key"))
		return "", false
	}
	if t.deps.EnableAuth {
		if _, known := t.deps.APIKeys[apiKey]; !known {
			writeJSON(w, http.StatusUnauthorized, simpleErrorBody("authentication_error", "unknown API key"))
			return "", false
		}
	}
	return apiKey, true
}

func (t *HTTPTransport) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForCode(core.CodeOf(err))
	t.logRequestError(r, status, err)
	writeJSON(w, status, simpleErrorBody(errorTypeForCode(core.CodeOf(err)), err.Error()))
}

func statusForCode(code core.ErrorCode) int {
	switch code {
	case core.CodeInvalidInput:
		return http.StatusBadRequest
	case core.CodeUnauthorized:
		return http.StatusUnauthorized
	case core.CodeRateLimited:
		return http.StatusTooManyRequests
	case core.CodeCoordinationUnavailable:
		return http.StatusBadGateway
	case core.CodeOverloaded:
		return http.StatusServiceUnavailable
	case core.CodeGeneratorFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorTypeForCode(code core.ErrorCode) string {
	switch code {
	case core.CodeInvalidInput:
		return "invalid_request_error"
	case core.CodeUnauthorized:
		return "authentication_error"
	case core.CodeRateLimited:
		return "rate_limit_exceeded"
	case core.CodeCoordinationUnavailable:
		return "coordination_unavailable_error"
	case core.CodeOverloaded:
		return "overloaded_error"
	case core.CodeGeneratorFailed:
		return "generator_error"
	default:
		return "internal_error"
	}
}

func (t *HTTPTransport) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return core.ErrInvalidInput
	}
	maxBytes := t.deps.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return core.ErrInvalidInput
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return core.ErrInvalidInput
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (t *HTTPTransport) logRequestError(r *http.Request, status int, err error) {
	if t == nil || t.deps.Logger == nil || r == nil || err == nil {
		return
	}
	fields := map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
		"error":  err.Error(),
	}
	if status >= http.StatusInternalServerError {
		t.deps.Logger.Error("http request error", fields)
		return
	}
	t.deps.Logger.Info("http request error", fields)
}
