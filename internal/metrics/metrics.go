// Package metrics defines custom Prometheus metrics for Pixyard.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixyard_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixyard_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize observes response body size in bytes.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixyard_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Pipeline metrics.
var (
	// StageOutcomesTotal counts pipeline stage completions by stage
	// (derivative, labels, dispatch) and outcome (success, skipped,
	// invalid_input, transient, failed).
	StageOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixyard_pipeline_stage_outcomes_total",
			Help: "Pipeline stage completions by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	// StageDuration observes pipeline stage latency in seconds.
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixyard_pipeline_stage_duration_seconds",
			Help:    "Pipeline stage latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// RetriesTotal counts backoff retries by stage.
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixyard_pipeline_retries_total",
			Help: "Transient-failure retries by stage",
		},
		[]string{"stage"},
	)

	// NotificationsTotal counts object-created notifications received,
	// by result (accepted, malformed).
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixyard_notifications_total",
			Help: "Object-created notifications received by result",
		},
		[]string{"result"},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPResponseSize,
			StageOutcomesTotal,
			StageDuration,
			RetriesTotal,
			NotificationsTotal,
		)
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. This avoids high-cardinality
// labels from query strings or unexpected paths.
func NormalizePath(path string) string {
	switch path {
	case "/health", "/metrics", "/openapi.json", "/images":
		return path
	case "/", "":
		return "/"
	}
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}
	if strings.HasPrefix(path, "/images") {
		return "/images"
	}
	return "/other"
}
