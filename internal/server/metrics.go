package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedback_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_submissions_total",
			Help: "Feedback submissions by outcome (accepted, invalid, failed)",
		},
		[]string{"outcome"},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_rate_limited_total",
			Help: "Requests rejected by a rate limiter",
		},
		[]string{"limiter"},
	)

	authFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_auth_failures_total",
			Help: "Rejected admin requests by reason",
		},
		[]string{"reason"},
	)

	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_store_errors_total",
			Help: "Store operations that failed, by operation",
		},
		[]string{"op"},
	)

	backupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_backups_total",
			Help: "On-demand backup exports by outcome",
		},
		[]string{"outcome"},
	)
)

func observeRequest(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
