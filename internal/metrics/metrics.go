// Package metrics exposes Prometheus collectors for the pipeline.
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
	pagesFetchedTotal     *prometheus.CounterVec
	pageFetchSeconds      *prometheus.HistogramVec
	pageRetriesTotal      *prometheus.CounterVec
	jobsTotal             *prometheus.CounterVec
	batchesIngestedTotal  *prometheus.CounterVec
	recordsUpsertedTotal  *prometheus.CounterVec
	notificationsTotal    *prometheus.CounterVec
	scheduledJobsTotal    prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gramwatch_pages_fetched_total",
				Help: "Total pages fetched from external sources, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		pageFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gramwatch_page_fetch_seconds",
				Help:    "Histogram of page fetch latencies, labeled by kind.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		)

		pageRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gramwatch_page_retries_total",
				Help: "Total page fetch retries, labeled by kind.",
			},
			[]string{"kind"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gramwatch_jobs_total",
				Help: "Total crawl jobs processed, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		batchesIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gramwatch_batches_ingested_total",
				Help: "Total batches handled by the ingestion consumer, labeled by status.",
			},
			[]string{"status"},
		)

		recordsUpsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gramwatch_records_upserted_total",
				Help: "Total records reconciled into the store, labeled by entity.",
			},
			[]string{"entity"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gramwatch_notifications_total",
				Help: "Total notification events emitted, labeled by status.",
			},
			[]string{"status"},
		)

		scheduledJobsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gramwatch_scheduled_jobs_total",
				Help: "Total crawl jobs seeded by the scheduler.",
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePageFetch records one page fetch attempt outcome.
func ObservePageFetch(kind, status string, duration time.Duration) {
	pagesFetchedTotal.WithLabelValues(kind, status).Inc()
	if status == "ok" {
		pageFetchSeconds.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// ObservePageRetry counts one page fetch retry.
func ObservePageRetry(kind string) {
	pageRetriesTotal.WithLabelValues(kind).Inc()
}

// ObserveJob counts one processed crawl job.
func ObserveJob(kind, status string) {
	jobsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveBatch counts one ingested batch.
func ObserveBatch(status string) {
	batchesIngestedTotal.WithLabelValues(status).Inc()
}

// ObserveUpsert counts records reconciled for the given entity.
func ObserveUpsert(entity string, count int) {
	if count > 0 {
		recordsUpsertedTotal.WithLabelValues(entity).Add(float64(count))
	}
}

// ObserveNotification counts one notification publish outcome.
func ObserveNotification(status string) {
	notificationsTotal.WithLabelValues(status).Inc()
}

// ObserveScheduledJob counts one seeded crawl job.
func ObserveScheduledJob() {
	scheduledJobsTotal.Inc()
}
