package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strdash_backend_requests_total",
			Help: "Total number of backend requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "strdash_backend_request_duration_seconds",
			Help:    "Time taken by backend requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strdash_backend_breaker_state",
			Help: "Circuit breaker state per backend endpoint",
		},
		[]string{"endpoint"},
	)

	Searches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strdash_searches_total",
			Help: "Total number of alert searches by outcome",
		},
		[]string{"outcome"},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "strdash_search_duration_seconds",
			Help:    "Time taken by an alert search from precondition pass to completion",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	Sections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strdash_sections_total",
			Help: "Result sections by name and outcome",
		},
		[]string{"section", "outcome"},
	)

	SessionMirrorFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "strdash_session_mirror_failures_total",
			Help: "Total number of failed session mirror writes",
		},
	)

	ConnectionTests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strdash_connection_tests_total",
			Help: "Data source connection attempts by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	Exports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strdash_exports_total",
			Help: "TOML export attempts by outcome",
		},
		[]string{"outcome"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strdash_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strdash_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strdash_cache_errors_total",
			Help: "Total number of cache errors",
		},
		[]string{"cache", "op"},
	)

	ActiveWorkspaces = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "strdash_active_workspaces",
			Help: "Investigator workspaces currently held in memory",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strdash_http_requests_total",
			Help: "Dashboard HTTP requests by method, route and status class",
		},
		[]string{"method", "route", "status"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "strdash_websocket_clients",
			Help: "Connected WebSocket clients",
		},
	)
)
