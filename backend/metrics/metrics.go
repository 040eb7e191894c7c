// Package metrics exposes the server's Prometheus collectors. Every method is
// safe on a nil *Metrics, so components can run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation results.
const (
	ResultCommitted = "committed"
	ResultRejected  = "rejected"
	ResultResync    = "resync"
	ResultConflict  = "conflict"
	ResultError     = "error"
)

// Metrics holds the collectors, registered on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	operations     *prometheus.CounterVec
	commitRetries  prometheus.Counter
	transformDepth prometheus.Histogram
	commitDuration prometheus.Histogram
	messages       *prometheus.CounterVec
	connections    prometheus.Gauge
	snapshots      prometheus.Counter
}

// New creates and registers the collectors, along with the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coedit_operations_total",
			Help: "Operations received, by outcome",
		}, []string{"result"}),
		commitRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "coedit_commit_retries_total",
			Help: "Commits retried after a concurrent revision change",
		}),
		transformDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "coedit_transform_depth",
			Help:    "History entries an operation was transformed against",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
		commitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "coedit_commit_duration_seconds",
			Help:    "Time to read, transform, apply and commit an operation",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "coedit_messages_total",
			Help: "Client messages processed, by type",
		}, []string{"type"}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "coedit_connections",
			Help: "Open websocket connections",
		}),
		snapshots: factory.NewCounter(prometheus.CounterOpts{
			Name: "coedit_snapshots_total",
			Help: "Document snapshots archived",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveOperation records the outcome of one ReceiveOperation call.
func (m *Metrics) ObserveOperation(result string, depth int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(result).Inc()
	if result == ResultCommitted {
		m.transformDepth.Observe(float64(depth))
		m.commitDuration.Observe(elapsed.Seconds())
	}
}

// CommitRetried counts one compare-and-swap retry.
func (m *Metrics) CommitRetried() {
	if m == nil {
		return
	}
	m.commitRetries.Inc()
}

// MessageProcessed counts one client message.
func (m *Metrics) MessageProcessed(name string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(name).Inc()
}

// ConnectionOpened tracks a new websocket connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed tracks a closed websocket connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// SnapshotSaved counts one archived snapshot.
func (m *Metrics) SnapshotSaved() {
	if m == nil {
		return
	}
	m.snapshots.Inc()
}
