// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerBatchesTotal        prometheus.Counter
	crawlerBatchDuration       prometheus.Histogram
	crawlerFetchResultsTotal   *prometheus.CounterVec
	crawlerPoolRecyclesTotal   prometheus.Counter
	crawlerRecordsCreatedTotal prometheus.Counter
	crawlerRecordsUpdatedTotal prometheus.Counter
	graphWriteRetriesTotal     prometheus.Counter
	graphWriteDeadLettersTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerBatchesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_batches_total",
				Help: "Total number of crawl batches dispatched.",
			},
		)

		crawlerBatchDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_batch_duration_seconds",
				Help:    "Histogram of end-to-end batch durations.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		)

		crawlerFetchResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_results_total",
				Help: "Total number of fetch results, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerPoolRecyclesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_pool_recycles_total",
				Help: "Total number of times the fetch pool was killed and respawned after a batch deadline.",
			},
		)

		crawlerRecordsCreatedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_records_created_total",
				Help: "Total number of pending crawl records created from discovered links.",
			},
		)

		crawlerRecordsUpdatedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_records_updated_total",
				Help: "Total number of crawl records transitioned to crawled.",
			},
		)

		graphWriteRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_graph_write_retries_total",
				Help: "Total number of retried graph write attempts.",
			},
		)

		graphWriteDeadLettersTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_graph_write_dead_letters_total",
				Help: "Total number of graph writes dropped after exhausting retries.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveBatch records one completed dispatch batch.
func ObserveBatch(duration time.Duration) {
	crawlerBatchesTotal.Inc()
	crawlerBatchDuration.Observe(duration.Seconds())
}

// ObserveFetchResult increments the fetch outcome counter.
func ObserveFetchResult(outcome string) {
	crawlerFetchResultsTotal.WithLabelValues(outcome).Inc()
}

// ObservePoolRecycle increments the pool recycle counter.
func ObservePoolRecycle() {
	crawlerPoolRecyclesTotal.Inc()
}

// ObserveRecordsCreated adds to the created-records counter.
func ObserveRecordsCreated(n int64) {
	if n > 0 {
		crawlerRecordsCreatedTotal.Add(float64(n))
	}
}

// ObserveRecordsUpdated adds to the updated-records counter.
func ObserveRecordsUpdated(n int64) {
	if n > 0 {
		crawlerRecordsUpdatedTotal.Add(float64(n))
	}
}

// ObserveGraphWriteRetry increments the graph retry counter.
func ObserveGraphWriteRetry() {
	graphWriteRetriesTotal.Inc()
}

// ObserveGraphWriteDeadLetter increments the dead-letter counter.
func ObserveGraphWriteDeadLetter() {
	graphWriteDeadLettersTotal.Inc()
}
