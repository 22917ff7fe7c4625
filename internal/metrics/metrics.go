// Package metrics exposes Prometheus instrumentation for the devportal.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors the HTTP layer and the orchestration
// services record into.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	inFlight       prometheus.Gauge
	workflowSubmit *prometheus.CounterVec
	cacheInvalid   *prometheus.CounterVec
}

// New creates a metrics bundle with its own registry.
func New(service string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "devportal_http_requests_total",
			Help:        "HTTP requests by method, path and status.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "devportal_http_request_duration_seconds",
			Help:        "HTTP request latency.",
			ConstLabels: prometheus.Labels{"service": service},
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "path"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "devportal_http_in_flight_requests",
			Help:        "In-flight HTTP requests.",
			ConstLabels: prometheus.Labels{"service": service},
		}),
		workflowSubmit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "devportal_workflow_submissions_total",
			Help:        "Workflow submissions by kind and outcome.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"kind", "outcome"}),
		cacheInvalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "devportal_gateway_invalidations_total",
			Help:        "Gateway cache invalidation attempts by environment and outcome.",
			ConstLabels: prometheus.Labels{"service": service},
		}, []string{"environment", "outcome"}),
	}

	registry.MustRegister(m.httpRequests, m.httpDuration, m.inFlight, m.workflowSubmit, m.cacheInvalid)
	return m
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records a completed request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncrementInFlight marks a request as started.
func (m *Metrics) IncrementInFlight() { m.inFlight.Inc() }

// DecrementInFlight marks a request as finished.
func (m *Metrics) DecrementInFlight() { m.inFlight.Dec() }

// RecordWorkflowSubmission counts one workflow submission attempt.
func (m *Metrics) RecordWorkflowSubmission(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.workflowSubmit.WithLabelValues(kind, outcome).Inc()
}

// RecordInvalidation counts one gateway invalidation attempt.
func (m *Metrics) RecordInvalidation(environment string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.cacheInvalid.WithLabelValues(environment, outcome).Inc()
}
