// Package metrics exposes Prometheus instrumentation for the enrichment
// worker: task lifecycle, provider traffic, cache effectiveness, and
// callback delivery.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksTotal counts task executions by task name and terminal status.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enrichworker",
		Name:      "tasks_total",
		Help:      "Task executions by task name and terminal status.",
	}, []string{"task", "status"})

	// TaskDuration observes task wall-clock time.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "enrichworker",
		Name:      "task_duration_seconds",
		Help:      "Task execution duration.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"task"})

	// ProviderRequests counts outbound provider calls by provider and outcome.
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enrichworker",
		Name:      "provider_requests_total",
		Help:      "Outbound provider requests by provider and outcome.",
	}, []string{"provider", "outcome"})

	// ProviderDuration observes outbound request latency per provider.
	ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "enrichworker",
		Name:      "provider_request_duration_seconds",
		Help:      "Outbound provider request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	// CacheLookups counts cache lookups by cache name and result.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enrichworker",
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by cache and result (hit/miss).",
	}, []string{"cache", "result"})

	// CallbackDeliveries counts callback POSTs by outcome.
	CallbackDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enrichworker",
		Name:      "callback_deliveries_total",
		Help:      "Callback deliveries by outcome.",
	}, []string{"outcome"})

	// QueueEnqueues counts task enqueues by queue backend.
	QueueEnqueues = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enrichworker",
		Name:      "queue_enqueues_total",
		Help:      "Task enqueues by queue backend and outcome.",
	}, []string{"backend", "outcome"})
)

// Handler returns the HTTP handler for the /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}
