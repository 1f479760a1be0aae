package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksSubmitted counts verification tasks accepted by submit.
	TasksSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idverify_tasks_submitted_total",
			Help: "Total number of verification tasks created",
		},
	)

	// TasksFinished counts terminal tasks by outcome: valid, invalid, failed.
	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idverify_tasks_finished_total",
			Help: "Total number of verification tasks reaching a terminal state",
		},
		[]string{"outcome"},
	)

	// StageDuration observes per-stage execution time.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idverify_stage_duration_seconds",
			Help:    "Verification stage execution time in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage", "valid"},
	)

	// StageRetries counts retries spent on collaborator calls.
	StageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idverify_stage_retries_total",
			Help: "Total number of collaborator call retries",
		},
		[]string{"operation"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idverify_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idverify_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// ObserveStage records one stage execution.
func ObserveStage(stage string, valid bool, elapsed time.Duration) {
	label := "false"
	if valid {
		label = "true"
	}
	StageDuration.WithLabelValues(stage, label).Observe(elapsed.Seconds())
}

// RecordHTTPRequest records one handled HTTP request.
func RecordHTTPRequest(method, path string, status int, seconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(seconds)
}
