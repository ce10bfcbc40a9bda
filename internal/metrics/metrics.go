package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestTotal counts HTTP requests by backend, method and status.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stage_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"backend", "method", "status"},
	)
	// RequestDuration is the latency of HTTP requests, including the time
	// spent streaming a proxied response.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stage_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "method"},
	)
	// UpstreamErrors counts requests that could not be forwarded.
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stage_upstream_errors_total",
			Help: "Total number of failed upstream round trips",
		},
		[]string{"backend", "reason"},
	)
	// SavedSets counts saveSet calls by backend and outcome.
	SavedSets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stage_saved_sets_total",
			Help: "Total number of saved set requests",
		},
		[]string{"backend", "status"},
	)
)
