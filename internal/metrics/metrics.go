// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "appbridge_invocation_duration_seconds",
			Help:    "Time taken by the application to produce a full response",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method"},
	)

	Invocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appbridge_invocations_total",
			Help: "Total number of application invocations",
		},
		[]string{"method", "status_code"},
	)

	InvocationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appbridge_invocation_failures_total",
			Help: "Application failures turned into fallback responses",
		},
		[]string{"phase"},
	)

	ResponseBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appbridge_response_bytes_total",
			Help: "Total response body bytes captured from the application",
		},
		[]string{"method"},
	)

	DecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appbridge_multipart_decode_errors_total",
			Help: "Multipart bodies that failed to decode",
		},
		[]string{"app"},
	)

	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appbridge_uploads_total",
			Help: "File parts written through to an upload store",
		},
		[]string{"store", "result"},
	)

	UploadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appbridge_upload_bytes_total",
			Help: "Committed upload bytes",
		},
		[]string{"store"},
	)

	JournalFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appbridge_journal_flushes_total",
			Help: "Invocation journal flushes",
		},
		[]string{"result"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "appbridge_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appbridge_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)
)
