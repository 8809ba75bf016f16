// Package metrics provides Prometheus metrics for the gateway
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway collectors and the registry they live in
type Metrics struct {
	registry *prometheus.Registry

	// inbound HTTP
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// calls to OData services
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec
	UpstreamRetriesTotal    prometheus.Counter

	// core results
	EntitySetsReported prometheus.Histogram
	RecordsReturned    prometheus.Histogram
}

// New creates the collectors on a private registry, plus the Go and process
// collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "odata_gateway_http_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "odata_gateway_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "odata_gateway_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
		UpstreamRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "odata_gateway_upstream_requests_total",
				Help: "Total number of requests sent to OData services",
			},
			[]string{"operation", "status"},
		),
		UpstreamRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "odata_gateway_upstream_request_duration_seconds",
				Help:    "Duration of OData service requests in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),
		UpstreamRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "odata_gateway_upstream_retries_total",
				Help: "Total number of retried OData service requests",
			},
		),
		EntitySetsReported: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "odata_gateway_metadata_entity_sets",
				Help:    "Entity sets reported per metadata response",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		RecordsReturned: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "odata_gateway_query_records",
				Help:    "Records returned per query response",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one inbound request
func (m *Metrics) ObserveRequest(route, method string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveUpstream records one upstream attempt. status 0 means the request
// never got a response.
func (m *Metrics) ObserveUpstream(operation string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.UpstreamRequestsTotal.WithLabelValues(operation, label).Inc()
	m.UpstreamRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveRetry counts one retry
func (m *Metrics) ObserveRetry() {
	m.UpstreamRetriesTotal.Inc()
}
