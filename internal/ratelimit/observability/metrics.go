package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics against a Prometheus registerer,
// the default one unless another is supplied.
type PrometheusMetrics struct {
	admissions        *prometheus.CounterVec
	latency           *prometheus.HistogramVec
	coordinationError *prometheus.CounterVec
	circuitOpen       prometheus.Counter
	reconciles        *prometheus.CounterVec
	generatorErrors   prometheus.Counter
}

// NewPrometheusMetrics constructs and registers the metric families with
// registry. Passing nil registers with prometheus.DefaultRegisterer. A
// metric family already registered there is reused rather than
// registered twice, so several instances can share one registerer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	m := &PrometheusMetrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmratelimit_admissions_total",
			Help: "Total admission decisions by result and denying dimension.",
		}, []string{"result", "dimension"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmratelimit_op_latency_seconds",
			Help:    "Latency of admission-path operations.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
		coordinationError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmratelimit_coordination_errors_total",
			Help: "Total coordination store errors by operation.",
		}, []string{"op"}),
		circuitOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llmratelimit_circuit_open_total",
			Help: "Total chat-completion requests that arrived while the coordination-store circuit breaker was open.",
		}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmratelimit_reconciles_total",
			Help: "Total reconcile calls by result.",
		}, []string{"result"}),
		generatorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llmratelimit_generator_errors_total",
			Help: "Total mock generator failures.",
		}),
	}
	register := func(c prometheus.Collector) prometheus.Collector {
		if err := registry.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return already.ExistingCollector
			}
			panic(err)
		}
		return c
	}
	m.admissions = register(m.admissions).(*prometheus.CounterVec)
	m.latency = register(m.latency).(*prometheus.HistogramVec)
	m.coordinationError = register(m.coordinationError).(*prometheus.CounterVec)
	m.circuitOpen = register(m.circuitOpen).(prometheus.Counter)
	m.reconciles = register(m.reconciles).(*prometheus.CounterVec)
	m.generatorErrors = register(m.generatorErrors).(prometheus.Counter)
	return m
}

// IncAdmission implements Metrics.
func (m *PrometheusMetrics) IncAdmission(result, dimension string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(result, dimension).Inc()
}

// ObserveLatency implements Metrics.
func (m *PrometheusMetrics) ObserveLatency(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(op).Observe(d.Seconds())
}

// IncCoordinationError implements Metrics.
func (m *PrometheusMetrics) IncCoordinationError(op string) {
	if m == nil {
		return
	}
	m.coordinationError.WithLabelValues(op).Inc()
}

// IncCircuitOpen implements Metrics.
func (m *PrometheusMetrics) IncCircuitOpen() {
	if m == nil {
		return
	}
	m.circuitOpen.Inc()
}

// IncReconcile implements Metrics.
func (m *PrometheusMetrics) IncReconcile(result string) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(result).Inc()
}

// IncGeneratorError implements Metrics.
func (m *PrometheusMetrics) IncGeneratorError() {
	if m == nil {
		return
	}
	m.generatorErrors.Inc()
}

// Handler returns the standard Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
