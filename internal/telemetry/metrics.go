package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "conference_hall"

var (
	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_active_connections",
		Help:      "HTTP requests currently being served.",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_websocket_connections",
		Help:      "Open event stream websockets.",
	})

	// Session mutations
	SessionMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_mutations_total",
		Help:      "Settled session mutations by intent and outcome.",
	}, []string{"intent", "outcome"})

	SessionMutationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_mutation_duration_seconds",
		Help:      "Time from submission to settlement.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"intent"})

	SessionMutationsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_mutations_inflight",
		Help:      "Submitted session mutations not yet settled.",
	})

	SessionConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_conflicts_total",
		Help:      "Placements rejected because the slot overlaps another session.",
	}, []string{"stage"})

	// Database
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "database_query_duration_seconds",
		Help:      "Database operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "database_errors_total",
		Help:      "Database operation errors.",
	}, []string{"operation", "type"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "database_connections_active",
		Help:      "Open database connections.",
	})

	// Cache
	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_requests_total",
		Help:      "Cache lookups by result.",
	}, []string{"result"})
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
