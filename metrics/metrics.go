// Package metrics exposes prometheus collectors for the store and the HTTP
// layer. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registry and every collector the server reports.
type Metrics struct {
	Registry *prometheus.Registry

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	queueWait  prometheus.Histogram
	queueDepth *prometheus.GaugeVec
	requests   *prometheus.CounterVec
}

// New creates a registry with Go and process collectors plus the store and
// HTTP collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: registry,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fansite_store_operations_total",
				Help: "Store operations by kind, collection and result",
			},
			[]string{"op", "collection", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fansite_store_operation_duration_seconds",
				Help:    "Time spent executing store operations, excluding queue wait",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		queueWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fansite_store_queue_wait_seconds",
				Help:    "Time an operation waited for its turn on a collection",
				Buckets: prometheus.DefBuckets,
			},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fansite_store_queue_depth",
				Help: "Operations submitted but not yet finished per collection",
			},
			[]string{"collection"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fansite_http_requests_total",
				Help: "HTTP requests by method and status",
			},
			[]string{"method", "status"},
		),
	}
	registry.MustRegister(m.operations, m.duration, m.queueWait, m.queueDepth, m.requests)
	return m
}

// ObserveOp records one finished store operation.
func (m *Metrics) ObserveOp(op, collection string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, collection, result).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveQueueWait records how long an operation waited in its chain.
func (m *Metrics) ObserveQueueWait(d time.Duration) {
	if m == nil {
		return
	}
	m.queueWait.Observe(d.Seconds())
}

// QueueAdd moves the depth gauge of collection by delta.
func (m *Metrics) QueueAdd(collection string, delta float64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(collection).Add(delta)
}

// ObserveRequest counts one served HTTP request.
func (m *Metrics) ObserveRequest(method string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
