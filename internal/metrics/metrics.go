package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics for the ops endpoints
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strikekeeper_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "strikekeeper_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path"})
)

// Strike lifecycle counters (incremented on occurrence)
var (
	StrikesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strikekeeper_strikes_issued_total",
		Help: "Total number of strikes issued",
	})

	StrikesRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strikekeeper_strikes_removed_total",
		Help: "Total number of strikes deactivated, by cause",
	}, []string{"cause"})

	EscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strikekeeper_escalations_total",
		Help: "Total number of escalations, by punishment length in minutes",
	}, []string{"minutes"})

	EnforcementTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strikekeeper_enforcement_total",
		Help: "Total number of suspension requests, by result",
	}, []string{"result"})

	StoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strikekeeper_store_errors_total",
		Help: "Total number of failed engine operations caused by the store",
	}, []string{"op"})
)

// Background loop metrics
var (
	LoopIterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strikekeeper_loop_iterations_total",
		Help: "Total number of background loop iterations",
	}, []string{"loop"})

	LoopErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strikekeeper_loop_errors_total",
		Help: "Total number of failed background loop iterations",
	}, []string{"loop"})
)

// Store gauges (updated periodically by collector)
var (
	ActiveStrikes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "strikekeeper_active_strikes",
		Help: "Number of currently active strikes",
	})

	TotalStrikes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "strikekeeper_strikes_recorded",
		Help: "Number of strikes ever recorded",
	})

	UsersWithStrikes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "strikekeeper_users_with_active_strikes",
		Help: "Number of users holding at least one active strike",
	})

	UsersWithViolations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "strikekeeper_users_with_violations",
		Help: "Number of users with a non-zero violation count",
	})
)

// NormalizePath reduces high-cardinality path labels by replacing dynamic
// segments with placeholders. This keeps the metric label space bounded.
func NormalizePath(path string) string {
	segments := splitPath(path)
	if len(segments) == 3 && segments[0] == "api" && segments[1] == "users" {
		return "/api/users/:id"
	}
	switch path {
	case "/metrics", "/healthz", "/api/summary", "/api/audit", "/api/table":
		return path
	}
	return "/other"
}

func splitPath(path string) []string {
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	var segments []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if i > start {
				segments = append(segments, path[start:i])
			}
			start = i + 1
		}
	}
	if start < len(path) {
		segments = append(segments, path[start:])
	}
	return segments
}
