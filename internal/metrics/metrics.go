package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// HTTPRequestsTotal counts HTTP requests by endpoint, method and status
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight is the number of HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// QuotaRemaining tracks remaining quota percentage per account and model
	QuotaRemaining *prometheus.GaugeVec
	// TokenRefreshes counts token refresh attempts by outcome
	TokenRefreshes *prometheus.CounterVec
	// QuotaFetches counts quota fetch attempts by endpoint and outcome
	QuotaFetches *prometheus.CounterVec
	// AggregationsInFlight is the number of per-account units currently running
	AggregationsInFlight prometheus.Gauge
	// AggregationDuration tracks full aggregateAll latency
	AggregationDuration prometheus.Histogram
	// ErrorCounter counts errors by type
	ErrorCounter *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		QuotaRemaining: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_remaining_percent",
				Help:      "Last observed remaining quota percentage",
			},
			[]string{"email", "model"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Total number of OAuth token refresh attempts",
			},
			[]string{"outcome"},
		),
		QuotaFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_fetches_total",
				Help:      "Total number of quota fetch attempts",
			},
			[]string{"endpoint", "outcome"},
		),
		AggregationsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "aggregation_units_in_flight",
				Help:      "Per-account aggregation units currently running",
			},
		),
		AggregationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregation_duration_seconds",
				Help:      "Duration of full multi-account aggregations",
				Buckets:   []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"type"},
		),
	}

	registry.MustRegister(
		m.RequestLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
		m.QuotaRemaining,
		m.TokenRefreshes,
		m.QuotaFetches,
		m.AggregationsInFlight,
		m.AggregationDuration,
		m.ErrorCounter,
	)

	return m
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, seconds float64) {
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(seconds)
}

// RecordHTTPRequest counts a completed HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordQuotaRemaining records the last observed remaining percentage
func (m *Metrics) RecordQuotaRemaining(email, model string, pct float64) {
	m.QuotaRemaining.WithLabelValues(email, model).Set(pct)
}

// RecordTokenRefresh counts a token refresh attempt
func (m *Metrics) RecordTokenRefresh(outcome string) {
	m.TokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordQuotaFetch counts a quota fetch attempt against one endpoint
func (m *Metrics) RecordQuotaFetch(endpoint, outcome string) {
	m.QuotaFetches.WithLabelValues(endpoint, outcome).Inc()
}

// RecordError counts an error by type
func (m *Metrics) RecordError(errType string) {
	m.ErrorCounter.WithLabelValues(errType).Inc()
}
