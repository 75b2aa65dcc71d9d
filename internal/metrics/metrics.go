// Package metrics exposes process-wide Prometheus collectors for the status
// API and job output.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	outputBytesTotal           *prometheus.CounterVec
	outputWritesTotal          *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablescan_http_requests_total",
				Help: "Total number of status API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tablescan_http_request_duration_seconds",
				Help:    "Histogram of status API latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)

		outputBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablescan_output_bytes_total",
				Help: "Bytes of job output written, labeled by job.",
			},
			[]string{"job"},
		)

		outputWritesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablescan_output_writes_total",
				Help: "Job output writes, labeled by job and result.",
			},
			[]string{"job", "result"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveOutput records one job output write.
func ObserveOutput(job string, bytes int64, err error) {
	Init()
	if err != nil {
		outputWritesTotal.WithLabelValues(job, "error").Inc()
		return
	}
	outputWritesTotal.WithLabelValues(job, "success").Inc()
	if bytes > 0 {
		outputBytesTotal.WithLabelValues(job).Add(float64(bytes))
	}
}
