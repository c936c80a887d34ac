package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	endpointReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docbatch",
			Name:      "endpoint_requests_total",
			Help:      "Total inference endpoint requests by result",
		},
		[]string{"result"},
	)

	endpointLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docbatch",
			Name:      "endpoint_request_duration_seconds",
			Help:      "Duration of inference endpoint requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "docbatch",
			Name:      "retries_total",
			Help:      "Total number of page invocation retries",
		},
	)

	breakerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docbatch",
			Name:      "breaker_events_total",
			Help:      "Circuit breaker events by action",
		},
		[]string{"action"},
	)

	pagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docbatch",
			Name:      "pages_processed_total",
			Help:      "Total pages processed by result",
		},
		[]string{"result"},
	)

	batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docbatch",
			Name:      "batches_total",
			Help:      "Total batches by result (ok, failed, timeout, cancelled)",
		},
		[]string{"result"},
	)

	batchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docbatch",
			Name:      "batch_duration_seconds",
			Help:      "End-to-end batch analysis duration",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(endpointReqs, endpointLatency, retriesTotal, breakerEvents, pagesProcessed, batchesTotal, batchDuration)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveInvoke(result string, dur time.Duration) {
	endpointReqs.WithLabelValues(result).Inc()
	endpointLatency.WithLabelValues(result).Observe(dur.Seconds())
}

func ObserveBatch(result string, dur time.Duration) {
	batchesTotal.WithLabelValues(result).Inc()
	batchDuration.Observe(dur.Seconds())
}

func IncRetry() { retriesTotal.Inc() }

func BreakerOpened() { breakerEvents.WithLabelValues("opened").Inc() }

func IncPages(result string, n int) { pagesProcessed.WithLabelValues(result).Add(float64(n)) }
