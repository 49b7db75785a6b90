// Package metrics provides centralized Prometheus metrics for the gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics track the webhook ingress.
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Pipeline metrics track post processing outcomes.
var (
	// PostsPublishedTotal counts posts published per source and platform
	PostsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posts_published_total",
			Help: "Total number of posts published to the target instance",
		},
		[]string{"source_id", "platform"},
	)

	// PostsSkippedTotal counts skipped posts by reason
	PostsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posts_skipped_total",
			Help: "Total number of posts skipped by the pipeline",
		},
		[]string{"source_id", "reason"},
	)

	// PostsFailedTotal counts posts that ended in a terminal failure
	PostsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "posts_failed_total",
			Help: "Total number of posts that failed terminally",
		},
		[]string{"source_id"},
	)

	// PublishDuration measures the publish stage latency
	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "publish_duration_seconds",
			Help:    "Time taken to publish one status",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	// MediaUploadsTotal counts media uploads by result
	MediaUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_uploads_total",
			Help: "Total number of media uploads",
		},
		[]string{"result"},
	)
)

// Adapter metrics track upstream fetches.
var (
	// AdapterFetchDuration measures time to fetch one source
	AdapterFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adapter_fetch_duration_seconds",
			Help:    "Time taken to fetch posts from an upstream platform",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"platform"},
	)

	// AdapterFetchErrors counts fetch errors by platform and kind
	AdapterFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adapter_fetch_errors_total",
			Help: "Total number of adapter fetch errors",
		},
		[]string{"platform", "error_type"},
	)

	// TierSelectedTotal counts tier-engine decisions
	TierSelectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tier_selected_total",
			Help: "Total number of tier decisions by the tier engine",
		},
		[]string{"tier"},
	)
)

// Queue metrics track the durable webhook queue.
var (
	// QueueDepth tracks file counts per environment and state
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of queue files per environment and state",
		},
		[]string{"env", "state"},
	)

	// QueueJobsTotal counts processed queue jobs by priority and result
	QueueJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_total",
			Help: "Total number of queue jobs processed",
		},
		[]string{"priority", "result"},
	)
)

// RecordHTTPRequest records an HTTP request with its metadata.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
