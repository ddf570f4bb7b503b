// Package metrics exposes ledger and HTTP counters on a private Prometheus
// registry.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/lifeblox/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lifeblox"

// Recorder implements ledger.OperationLogger and records HTTP traffic.
type Recorder struct {
	registry        *prometheus.Registry
	operations      *prometheus.CounterVec
	attempts        *prometheus.HistogramVec
	reconciliations *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers the lifeblox collectors plus the Go and process collectors.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)
	return &Recorder{
		registry: registry,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by outcome.",
		}, []string{"operation", "status", "category"}),
		attempts: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_attempts",
			Help:      "Compare-and-swap attempts per committed mutation.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}, []string{"operation"}),
		reconciliations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "summary_rebuilds_total",
			Help:      "Mutations that rebuilt a drifted summary entry.",
		}, []string{"operation"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (recorder *Recorder) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	recorder.operations.WithLabelValues(entry.Operation, entry.Status, string(ledger.CategoryOf(entry.Error))).Inc()
	if entry.Error == nil && entry.Attempts > 0 {
		recorder.attempts.WithLabelValues(entry.Operation).Observe(float64(entry.Attempts))
	}
	if entry.Reconciled {
		recorder.reconciliations.WithLabelValues(entry.Operation).Inc()
	}
}

// ObserveRequest counts one served HTTP request.
func (recorder *Recorder) ObserveRequest(method string, route string, code int, elapsed time.Duration) {
	recorder.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	recorder.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (recorder *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(recorder.registry, promhttp.HandlerOpts{Registry: recorder.registry})
}

// Registry exposes the underlying registry for extra collectors.
func (recorder *Recorder) Registry() *prometheus.Registry {
	return recorder.registry
}
