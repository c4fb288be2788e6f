package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsSubmitted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "sewaghar", Name: "requests_submitted_total", Help: "Service requests created"})

	LifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "sewaghar", Name: "lifecycle_transitions_total", Help: "Request lifecycle transitions by operation and outcome"},
		[]string{"operation", "outcome"},
	)

	TelemetryPublishes = promauto.NewCounter(prometheus.CounterOpts{Namespace: "sewaghar", Name: "telemetry_publishes_total", Help: "Provider location records published"})
	NearbyQueries      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "sewaghar", Name: "nearby_queries_total", Help: "Nearby provider scans served"})

	RouteEstimates = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "sewaghar", Name: "route_estimates_total", Help: "Route estimates by source"},
		[]string{"source"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "sewaghar", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sewaghar",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
