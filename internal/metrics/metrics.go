// Package metrics provides Prometheus collectors for the notes service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ownership check results.
const (
	OwnershipAllowed = "allowed"
	OwnershipDenied  = "denied"
)

// RPCMetrics contains the request and ownership-check metrics. A nil
// *RPCMetrics records nothing.
type RPCMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	ownershipChecks *prometheus.CounterVec
}

// NewRPCMetrics creates the collectors and registers them with registry.
func NewRPCMetrics(registry *prometheus.Registry) (*RPCMetrics, error) {
	m := &RPCMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// Handler serves the exposition format for registry.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

func (m *RPCMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_rpc_requests_total",
			Help: "Total number of notes RPC requests",
		},
		[]string{"service", "method", "code"}, // code: ok or an error code such as not_found
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notes_rpc_request_duration_seconds",
			Help:    "Time taken to serve notes RPC requests",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"service", "method"},
	)

	m.ownershipChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_ownership_checks_total",
			Help: "Total number of persona ownership checks",
		},
		[]string{"result"},
	)
}

func (m *RPCMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.ownershipChecks,
	}
}

// Describe implements the Collector interface
func (m *RPCMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.getCollectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *RPCMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.getCollectors() {
		collector.Collect(ch)
	}
}

// RecordRequest records one dispatched request. code is "ok" on success.
func (m *RPCMetrics) RecordRequest(service, method, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(service, method, code).Inc()
	m.requestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordOwnershipCheck records the outcome of a persona ownership check.
func (m *RPCMetrics) RecordOwnershipCheck(allowed bool) {
	if m == nil {
		return
	}
	result := OwnershipDenied
	if allowed {
		result = OwnershipAllowed
	}
	m.ownershipChecks.WithLabelValues(result).Inc()
}
