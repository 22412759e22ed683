// Package metrics exposes Prometheus collectors for the ingestion service.
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
	batchAdvanceTotal          *prometheus.CounterVec
	batchAdvanceDuration       *prometheus.HistogramVec
	itemResultsTotal           *prometheus.CounterVec
	uploadAttemptsTotal        *prometheus.CounterVec
	schedulerTicksTotal        prometheus.Counter
	schedulerTickDuration      prometheus.Histogram
	schedulerBatchesAdvanced   prometheus.Gauge
	similarityCallsTotal       *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		batchAdvanceTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artimport_batch_advance_total",
				Help: "Batch state transitions attempted, labeled by kind, starting state and outcome.",
			},
			[]string{"kind", "state", "outcome"},
		)

		batchAdvanceDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artimport_batch_advance_duration_seconds",
				Help:    "Time spent running a state effect, labeled by state.",
				Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900},
			},
			[]string{"state"},
		)

		itemResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artimport_item_results_total",
				Help: "Per-item outcomes, labeled by batch kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		uploadAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artimport_upload_attempts_total",
				Help: "Durable storage upload attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		schedulerTicksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "artimport_scheduler_ticks_total",
				Help: "Total scheduler ticks run.",
			},
		)

		schedulerTickDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "artimport_scheduler_tick_duration_seconds",
				Help:    "Wall time per scheduler tick.",
				Buckets: []float64{0.01, 0.1, 1, 5, 30, 120, 600},
			},
		)

		schedulerBatchesAdvanced = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "artimport_scheduler_batches_advanced",
				Help: "Batches advanced during the most recent tick.",
			},
		)

		similarityCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "artimport_similarity_calls_total",
				Help: "Calls to the similarity engine, labeled by operation and outcome.",
			},
			[]string{"op", "outcome"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "artimport_fetch_rate_limit_delay_seconds",
				Help:    "Time downloads spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveAdvance records one state effect run.
func ObserveAdvance(kind, state string, duration time.Duration, err error) {
	Init()
	batchAdvanceTotal.WithLabelValues(kind, state, outcome(err)).Inc()
	batchAdvanceDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// ObserveItem counts one per-item outcome (ok, warning, failed).
func ObserveItem(kind, result string) {
	Init()
	itemResultsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveUploadAttempt counts one upload attempt.
func ObserveUploadAttempt(err error) {
	Init()
	uploadAttemptsTotal.WithLabelValues(outcome(err)).Inc()
}

// ObserveTick records a finished scheduler tick.
func ObserveTick(advanced int, duration time.Duration) {
	Init()
	schedulerTicksTotal.Inc()
	schedulerTickDuration.Observe(duration.Seconds())
	schedulerBatchesAdvanced.Set(float64(advanced))
}

// ObserveSimilarityCall counts one similarity engine call.
func ObserveSimilarityCall(op string, err error) {
	Init()
	similarityCallsTotal.WithLabelValues(op, outcome(err)).Inc()
}

// ObserveRateLimitDelay records time a download waited for a token.
func ObserveRateLimitDelay(host string, delay time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(delay.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
