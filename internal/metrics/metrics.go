// Package metrics provides Prometheus metrics for the adaptation service.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for latency.
var defaultBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the service.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	TransactionsTotal     *prometheus.CounterVec
	TransactionsInFlight  prometheus.Gauge
	TransactionDuration   *prometheus.HistogramVec
	ContextFailures       prometheus.Counter
	ReplacementsTotal     prometheus.Counter
	BytesScannedTotal     prometheus.Counter
	HeaderInjectionsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icap_rewrite_http_requests_total",
			Help: "Total inbound admin HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "icap_rewrite_http_request_duration_seconds",
			Help:    "Inbound admin HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "icap_rewrite_http_requests_in_flight",
			Help: "Number of admin HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "icap_rewrite_upstream_request_duration_seconds",
			Help:    "Origin call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icap_rewrite_upstream_responses_total",
			Help: "Total origin responses by method and status code.",
		}, []string{"method", "status_code"}),

		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icap_rewrite_transactions_total",
			Help: "Adaptation transactions by ICAP method and textual classification.",
		}, []string{"icap_method", "textual"}),

		TransactionsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "icap_rewrite_transactions_in_flight",
			Help: "Number of request contexts currently allocated.",
		}),

		TransactionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "icap_rewrite_transaction_duration_seconds",
			Help:    "Time from context creation to destruction in seconds.",
			Buckets: defaultBuckets,
		}, []string{"icap_method"}),

		ContextFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "icap_rewrite_context_failures_total",
			Help: "Request contexts that could not be allocated.",
		}),

		ReplacementsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "icap_rewrite_replacements_total",
			Help: "Marker occurrences replaced in bodies.",
		}),

		BytesScannedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "icap_rewrite_bytes_scanned_total",
			Help: "Body bytes scanned for the marker.",
		}),

		HeaderInjectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icap_rewrite_header_injections_total",
			Help: "Informational header injections by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.TransactionsTotal,
		m.TransactionsInFlight,
		m.TransactionDuration,
		m.ContextFailures,
		m.ReplacementsTotal,
		m.BytesScannedTotal,
		m.HeaderInjectionsTotal,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/adapt", "/origin", "/healthz", "/service/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
