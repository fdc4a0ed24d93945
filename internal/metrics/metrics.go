// Package metrics exposes checkout service metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wufi/storefront-checkout/internal/checkout"
)

// Metrics holds every collector of the service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Checkout metrics
	SessionsOpen        prometheus.Gauge
	StepTransitions     *prometheus.CounterVec
	PendingOperations   prometheus.Gauge
	SubmissionsInFlight prometheus.Gauge
	OrdersPlaced        *prometheus.CounterVec

	// Backend metrics
	BackendCalls        *prometheus.CounterVec
	BackendCallDuration *prometheus.HistogramVec
	CircuitBreakerState *prometheus.GaugeVec
}

// Config holds metrics configuration.
type Config struct {
	Namespace string
	// GoCollectors adds the Go runtime and process collectors.
	GoCollectors bool
}

func DefaultConfig() Config {
	return Config{Namespace: "wufi_checkout", GoCollectors: true}
}

// New creates and registers every collector on a fresh registry.
func New(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()
	if cfg.GoCollectors {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
	m.HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)

	m.SessionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "sessions_open",
			Help:      "Number of checkout sessions held in memory",
		},
	)
	m.StepTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "step_transitions_total",
			Help:      "Checkout step transitions",
		},
		[]string{"from", "to", "mode"},
	)
	m.PendingOperations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "pending_operations",
			Help:      "Failed mutations waiting for retry across all sessions",
		},
	)
	m.SubmissionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "submissions_in_flight",
			Help:      "Step submissions currently waiting on the backend",
		},
	)
	m.OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "orders_total",
			Help:      "Order placement attempts",
		},
		[]string{"status"},
	)

	m.BackendCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "backend_calls_total",
			Help:      "Store API calls by operation and outcome",
		},
		[]string{"op", "status", "kind"},
	)
	m.BackendCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Store API call duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)
	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SessionsOpen,
		m.StepTransitions,
		m.PendingOperations,
		m.SubmissionsInFlight,
		m.OrdersPlaced,
		m.BackendCalls,
		m.BackendCallDuration,
		m.CircuitBreakerState,
	)
	return m
}

// Handler returns the /metrics handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records a served request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordBackendCall records one store API call.
func (m *Metrics) RecordBackendCall(op string, kind checkout.Kind, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.BackendCalls.WithLabelValues(op, status, string(kind)).Inc()
	m.BackendCallDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordOrder records an order placement attempt.
func (m *Metrics) RecordOrder(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.OrdersPlaced.WithLabelValues(status).Inc()
}

// Observer returns a checkout.Observer feeding the step and queue metrics.
func (m *Metrics) Observer() checkout.Observer {
	return observer{m}
}

type observer struct{ m *Metrics }

func (o observer) StepChanged(from, to checkout.StepID, auto bool) {
	mode := "manual"
	if auto {
		mode = "auto"
	}
	o.m.StepTransitions.WithLabelValues(string(from), string(to), mode).Inc()
}

func (o observer) PendingChanged(delta int) {
	o.m.PendingOperations.Add(float64(delta))
}
