// Package metrics exposes Prometheus collectors for the batcher and worker.
// Collectors are registered on the registry passed in, so each process (and
// each test) owns its own set.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/ccextract/internal/pipeline"
)

// Record outcome labels for worker_records_total.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// BatchMetrics implements pipeline.BatchObserver.
type BatchMetrics struct {
	batches         prometheus.Counter
	processed       prometheus.Gauge
	filtered        prometheus.Counter
	publishAttempts *prometheus.CounterVec
	publishRetries  prometheus.Counter
	backoffSeconds  prometheus.Histogram
}

var _ pipeline.BatchObserver = (*BatchMetrics)(nil)

// NewBatchMetrics registers the batching collectors on reg.
func NewBatchMetrics(reg prometheus.Registerer) *BatchMetrics {
	factory := promauto.With(reg)
	return &BatchMetrics{
		batches: factory.NewCounter(prometheus.CounterOpts{
			Name: "batcher_batches",
			Help: "Number of published batches.",
		}),
		processed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "batcher_processed",
			Help: "Percentage of index chunks processed.",
		}),
		filtered: factory.NewCounter(prometheus.CounterOpts{
			Name: "batcher_filtered_urls",
			Help: "Number of index records dropped by the language and status filter.",
		}),
		publishAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "batcher_publish_attempts_total",
			Help: "Queue publish attempts, labeled by outcome.",
		}, []string{"result"}),
		publishRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "batcher_publish_retries_total",
			Help: "Publish retries after a queue connection failure.",
		}),
		backoffSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "batcher_publish_backoff_seconds",
			Help:    "Histogram of waits before publish retries.",
			Buckets: []float64{1, 1.5, 2.25, 3.375, 5.0625, 7.6, 11.4, 15},
		}),
	}
}

// ChunkProcessed sets the completion percentage.
func (m *BatchMetrics) ChunkProcessed(done, total int) {
	if total <= 0 {
		return
	}
	m.processed.Set(float64(done) / float64(total) * 100)
}

// RecordFiltered counts a dropped record.
func (m *BatchMetrics) RecordFiltered(pipeline.IndexRecord) {
	m.filtered.Inc()
}

// BatchPublished counts a delivered batch.
func (m *BatchMetrics) BatchPublished(int) {
	m.batches.Inc()
}

// PublishAttempt counts an attempt by outcome.
func (m *BatchMetrics) PublishAttempt(_ int, err error) {
	m.publishAttempts.WithLabelValues(result(err)).Inc()
}

// PublishRetry counts a retry and its wait.
func (m *BatchMetrics) PublishRetry(_ int, wait time.Duration) {
	m.publishRetries.Inc()
	m.backoffSeconds.Observe(wait.Seconds())
}

// WorkMetrics implements pipeline.WorkObserver.
type WorkMetrics struct {
	batches   *prometheus.CounterVec
	records   *prometheus.CounterVec
	documents prometheus.Counter
	bytes     prometheus.Counter
}

var _ pipeline.WorkObserver = (*WorkMetrics)(nil)

// NewWorkMetrics registers the extraction collectors on reg.
func NewWorkMetrics(reg prometheus.Registerer) *WorkMetrics {
	factory := promauto.With(reg)
	return &WorkMetrics{
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_batches",
			Help: "Number of consumed batches, labeled by outcome.",
		}, []string{"result"}),
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_records_total",
			Help: "Index records processed by the worker, labeled by outcome.",
		}, []string{"result"}),
		documents: factory.NewCounter(prometheus.CounterOpts{
			Name: "worker_documents_total",
			Help: "Extracted documents written to the content store.",
		}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "worker_document_bytes_total",
			Help: "Bytes of extracted text written to the content store.",
		}),
	}
}

// BatchConsumed counts a handled batch.
func (m *WorkMetrics) BatchConsumed(_ int, err error) {
	m.batches.WithLabelValues(result(err)).Inc()
}

// RecordProcessed counts a handled record.
func (m *WorkMetrics) RecordProcessed(err error) {
	m.records.WithLabelValues(result(err)).Inc()
}

// DocumentStored counts a stored document.
func (m *WorkMetrics) DocumentStored(_ string, n int) {
	m.documents.Inc()
	m.bytes.Add(float64(n))
}

// FetchMetrics records archive range request throttling.
type FetchMetrics struct {
	delay *prometheus.HistogramVec
}

// NewFetchMetrics registers the fetch collectors on reg.
func NewFetchMetrics(reg prometheus.Registerer) *FetchMetrics {
	return &FetchMetrics{
		delay: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archive_rate_limit_delay_seconds",
			Help:    "Time range requests waited on the per-host rate limiter.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"host"}),
	}
}

// RateLimitDelay observes one throttled wait.
func (m *FetchMetrics) RateLimitDelay(host string, d time.Duration) {
	m.delay.WithLabelValues(host).Observe(d.Seconds())
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// NewRegistry returns a registry preloaded with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
