// Package observability provides Prometheus metrics, OpenTelemetry tracing,
// and structured logging for indexforge.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector holds all Prometheus metrics for indexforge.
type MetricsCollector struct {
	// Sync metrics
	SyncRuns          *prometheus.CounterVec
	SyncDuration      *prometheus.HistogramVec
	SyncFilesChanged  *prometheus.CounterVec
	SyncErrorsTotal   *prometheus.CounterVec
	FilesIndexedTotal prometheus.Counter
	ChunksIndexedTotal prometheus.Counter

	// Watch metrics
	WatchEventsTotal    *prometheus.CounterVec
	WatchDebounceFires  prometheus.Counter
	ActiveWatchers      prometheus.Gauge

	// Queue metrics
	QueueJobsEnqueued  *prometheus.CounterVec
	QueueJobsDequeued  *prometheus.CounterVec
	QueueJobDuration   *prometheus.HistogramVec
	QueueDepth         *prometheus.GaugeVec

	// Embedding metrics
	EmbeddingRequests    *prometheus.CounterVec
	EmbeddingDuration    *prometheus.HistogramVec
	EmbeddingCacheHits   prometheus.Counter
	EmbeddingCacheMisses prometheus.Counter
	EmbeddingErrorsTotal *prometheus.CounterVec

	// Vector store metrics
	VectorSearchRequests *prometheus.CounterVec
	VectorSearchDuration *prometheus.HistogramVec
	VectorSearchResults  *prometheus.HistogramVec
	VectorStoreSize      prometheus.Gauge

	// Query planner metrics
	QueryFanOutCollections *prometheus.HistogramVec
	QueryPartialResults    *prometheus.CounterVec

	// Bus metrics
	BusEventsPublished *prometheus.CounterVec
	BusDroppedTotal    *prometheus.CounterVec
	BusSubscribers     prometheus.Gauge

	// Rate limiting metrics
	RateLimitRequests  *prometheus.CounterVec
	RateLimitHits      *prometheus.CounterVec
	RateLimitRemaining *prometheus.GaugeVec

	// System metrics
	SystemStartTime prometheus.Gauge
	SystemHealth    *prometheus.GaugeVec
}

// NewMetricsCollector creates and registers all Prometheus metrics.
func NewMetricsCollector(namespace string) *MetricsCollector {
	return NewMetricsCollectorWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates metrics with a specific registry (for testing).
func NewMetricsCollectorWithRegistry(namespace string, reg prometheus.Registerer) *MetricsCollector {
	if namespace == "" {
		namespace = "indexforge"
	}

	autoCounterVec := func(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
		return promauto.With(reg).NewCounterVec(opts, labelNames)
	}
	autoHistogramVec := func(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
		return promauto.With(reg).NewHistogramVec(opts, labelNames)
	}
	autoGaugeVec := func(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
		return promauto.With(reg).NewGaugeVec(opts, labelNames)
	}
	autoCounter := func(opts prometheus.CounterOpts) prometheus.Counter {
		return promauto.With(reg).NewCounter(opts)
	}
	autoGauge := func(opts prometheus.GaugeOpts) prometheus.Gauge {
		return promauto.With(reg).NewGauge(opts)
	}

	return &MetricsCollector{
		SyncRuns: autoCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_runs_total",
			Help: "Total number of sync runs by scope and status",
		}, []string{"scope", "status"}),
		SyncDuration: autoHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sync_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"scope"}),
		SyncFilesChanged: autoCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_files_changed_total",
			Help: "Total number of files detected as changed by change kind",
		}, []string{"kind"}),
		SyncErrorsTotal: autoCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sync_errors_total",
			Help: "Total number of sync errors by kind",
		}, []string{"error_kind"}),
		FilesIndexedTotal: autoCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_indexed_total",
			Help: "Total number of files indexed",
		}),
		ChunksIndexedTotal: autoCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "chunks_indexed_total",
			Help: "Total number of chunks indexed",
		}),

		WatchEventsTotal: autoCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "watch_events_total",
			Help: "Total number of filesystem events observed by op",
		}, []string{"op"}),
		WatchDebounceFires: autoCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "watch_debounce_fires_total",
			Help: "Total number of debounce timers that fired a reindex signal",
		}),
		ActiveWatchers: autoGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_watchers",
			Help: "Number of active filesystem watchers",
		}),

		QueueJobsEnqueued: autoCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "queue_jobs_enqueued_total",
			Help: "Total number of jobs enqueued by kind",
		}, []string{"kind"}),
		QueueJobsDequeued: autoCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "queue_jobs_dequeued_total",
			Help: "Total number of jobs dequeued by kind and status",
		}, []string{"kind", "status"}),
		QueueJobDuration: autoHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "queue_job_duration_seconds",
			Help:    "Queue job processing duration in seconds",
			Buckets: []float64{.5, 1, 5, 10, 30, 60, 300, 900},
		}, []string{"kind"}),
		QueueDepth: autoGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth",
			Help: "Current number of pending jobs by kind",
		}, []string{"kind"}),

		EmbeddingRequests: autoCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "embedding_requests_total",
			Help: "Total number of embedding requests by provider and status",
		}, []string{"provider", "status"}),
		EmbeddingDuration: autoHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "embedding_duration_seconds",
			Help:    "Embedding generation duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"provider"}),
		EmbeddingCacheHits: autoCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "embedding_cache_hits_total",
			Help: "Total number of embedding cache hits",
		}),
		EmbeddingCacheMisses: autoCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "embedding_cache_misses_total",
			Help: "Total number of embedding cache misses",
		}),
		EmbeddingErrorsTotal: autoCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "embedding_errors_total",
			Help: "Total number of embedding errors by provider and type",
		}, []string{"provider", "error_type"}),

		VectorSearchRequests: autoCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "vector_search_requests_total",
			Help: "Total number of vector search requests by type and status",
		}, []string{"search_type", "status"}),
		VectorSearchDuration: autoHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "vector_search_duration_seconds",
			Help:    "Vector search duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"search_type"}),
		VectorSearchResults: autoHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "vector_search_results_count",
			Help:    "Number of results returned by vector search",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"search_type"}),
		VectorStoreSize: autoGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "vector_store_size_bytes",
			Help: "Total size of vector store in bytes, where reported by the store",
		}),

		QueryFanOutCollections: autoHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "query_fanout_collections",
			Help:    "Number of collections a single query fanned out to",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}, []string{"plan"}),
		QueryPartialResults: autoCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "query_partial_results_total",
			Help: "Total number of queries that returned partial results after deadline",
		}, []string{"plan"}),

		BusEventsPublished: autoCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bus_events_published_total",
			Help: "Total number of events published by topic",
		}, []string{"topic"}),
		BusDroppedTotal: autoCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bus_dropped_total",
			Help: "Total number of events dropped due to a full subscriber channel",
		}, []string{"topic"}),
		BusSubscribers: autoGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "bus_subscribers",
			Help: "Current number of active bus subscribers",
		}),

		RateLimitRequests: autoCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limit_requests_total",
			Help: "Total number of rate limit checks by limiter type and result",
		}, []string{"limiter_type", "result"}),
		RateLimitHits: autoCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limit_hits_total",
			Help: "Total number of rate limit hits by limiter type",
		}, []string{"limiter_type"}),
		RateLimitRemaining: autoGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rate_limit_remaining_requests",
			Help: "Number of remaining requests for a rate limited identifier",
		}, []string{"limiter_type", "identifier"}),

		SystemStartTime: autoGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "system_start_time_seconds",
			Help: "Unix timestamp when the system started",
		}),
		SystemHealth: autoGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "system_health_status",
			Help: "System health status (1 = healthy, 0 = unhealthy)",
		}, []string{"component"}),
	}
}

// RecordSync records metrics for a completed sync run.
func (m *MetricsCollector) RecordSync(scope, status string, duration time.Duration) {
	m.SyncRuns.WithLabelValues(scope, status).Inc()
	m.SyncDuration.WithLabelValues(scope).Observe(duration.Seconds())
}

// RecordFilesChanged records the number of files observed in a given change kind.
func (m *MetricsCollector) RecordFilesChanged(kind string, count int) {
	m.SyncFilesChanged.WithLabelValues(kind).Add(float64(count))
}

// RecordSyncError records a sync error by kind.
func (m *MetricsCollector) RecordSyncError(errorKind string) {
	m.SyncErrorsTotal.WithLabelValues(errorKind).Inc()
}

// RecordIndexedFiles increments the indexed files counter.
func (m *MetricsCollector) RecordIndexedFiles(count int) {
	m.FilesIndexedTotal.Add(float64(count))
}

// RecordIndexedChunks increments the indexed chunks counter.
func (m *MetricsCollector) RecordIndexedChunks(count int) {
	m.ChunksIndexedTotal.Add(float64(count))
}

// RecordWatchEvent records a filesystem event observed by a watcher.
func (m *MetricsCollector) RecordWatchEvent(op string) {
	m.WatchEventsTotal.WithLabelValues(op).Inc()
}

// RecordDebounceFire records a debounce timer firing a reindex signal.
func (m *MetricsCollector) RecordDebounceFire() {
	m.WatchDebounceFires.Inc()
}

// SetActiveWatchers sets the current number of active watchers.
func (m *MetricsCollector) SetActiveWatchers(n int) {
	m.ActiveWatchers.Set(float64(n))
}

// RecordJobEnqueued records a job being enqueued.
func (m *MetricsCollector) RecordJobEnqueued(kind string) {
	m.QueueJobsEnqueued.WithLabelValues(kind).Inc()
}

// RecordJobDequeued records a job finishing processing.
func (m *MetricsCollector) RecordJobDequeued(kind, status string, duration time.Duration) {
	m.QueueJobsDequeued.WithLabelValues(kind, status).Inc()
	m.QueueJobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetQueueDepth sets the current queue depth for a job kind.
func (m *MetricsCollector) SetQueueDepth(kind string, depth int) {
	m.QueueDepth.WithLabelValues(kind).Set(float64(depth))
}

// RecordEmbedding records metrics for an embedding request.
func (m *MetricsCollector) RecordEmbedding(provider, status string, duration time.Duration) {
	m.EmbeddingRequests.WithLabelValues(provider, status).Inc()
	m.EmbeddingDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordEmbeddingCacheHit records a cache hit.
func (m *MetricsCollector) RecordEmbeddingCacheHit() { m.EmbeddingCacheHits.Inc() }

// RecordEmbeddingCacheMiss records a cache miss.
func (m *MetricsCollector) RecordEmbeddingCacheMiss() { m.EmbeddingCacheMisses.Inc() }

// RecordEmbeddingError records an embedding error.
func (m *MetricsCollector) RecordEmbeddingError(provider, errorType string) {
	m.EmbeddingErrorsTotal.WithLabelValues(provider, errorType).Inc()
}

// RecordVectorSearch records metrics for a vector search request.
func (m *MetricsCollector) RecordVectorSearch(searchType, status string, duration time.Duration, resultCount int) {
	m.VectorSearchRequests.WithLabelValues(searchType, status).Inc()
	m.VectorSearchDuration.WithLabelValues(searchType).Observe(duration.Seconds())
	m.VectorSearchResults.WithLabelValues(searchType).Observe(float64(resultCount))
}

// UpdateVectorStoreSize updates the vector store size metric.
func (m *MetricsCollector) UpdateVectorStoreSize(sizeBytes int64) {
	m.VectorStoreSize.Set(float64(sizeBytes))
}

// RecordQueryFanOut records how many collections a query plan expanded to.
func (m *MetricsCollector) RecordQueryFanOut(plan string, collections int) {
	m.QueryFanOutCollections.WithLabelValues(plan).Observe(float64(collections))
}

// RecordQueryPartial records a query that returned partial results after its deadline.
func (m *MetricsCollector) RecordQueryPartial(plan string) {
	m.QueryPartialResults.WithLabelValues(plan).Inc()
}

// RecordBusPublish records an event published to a topic.
func (m *MetricsCollector) RecordBusPublish(topic string) {
	m.BusEventsPublished.WithLabelValues(topic).Inc()
}

// RecordBusDropped records an event dropped because a subscriber channel was full.
func (m *MetricsCollector) RecordBusDropped(topic string) {
	m.BusDroppedTotal.WithLabelValues(topic).Inc()
}

// SetBusSubscribers sets the current subscriber count.
func (m *MetricsCollector) SetBusSubscribers(n int) {
	m.BusSubscribers.Set(float64(n))
}

// RecordRateLimit records metrics for a rate limit check.
func (m *MetricsCollector) RecordRateLimit(limiterType, result string) {
	m.RateLimitRequests.WithLabelValues(limiterType, result).Inc()
	if result == "hit" {
		m.RateLimitHits.WithLabelValues(limiterType).Inc()
	}
}

// UpdateRateLimitRemaining updates the remaining requests gauge.
func (m *MetricsCollector) UpdateRateLimitRemaining(limiterType, identifier string, remaining int64) {
	m.RateLimitRemaining.WithLabelValues(limiterType, identifier).Set(float64(remaining))
}

// SetSystemStartTime sets the system start time.
func (m *MetricsCollector) SetSystemStartTime(startTime time.Time) {
	m.SystemStartTime.Set(float64(startTime.Unix()))
}

// SetComponentHealth sets the health status of a component.
func (m *MetricsCollector) SetComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.SystemHealth.WithLabelValues(component).Set(value)
}
