package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksProcessed tracks tasks completed successfully per action kind
	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curateur_tasks_processed_total",
			Help: "Total number of tasks processed successfully",
		},
		[]string{"action"},
	)

	// TasksFailed tracks terminal task failures per failure class
	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curateur_tasks_failed_total",
			Help: "Total number of tasks that failed terminally",
		},
		[]string{"class"},
	)

	// TasksRetried tracks re-queued task attempts
	TasksRetried = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "curateur_tasks_retried_total",
			Help: "Total number of task retry re-queues",
		},
	)

	// TasksNotFound tracks items the lookup service does not know
	TasksNotFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "curateur_tasks_not_found_total",
			Help: "Total number of items not found by the lookup service",
		},
	)

	// RateLimitWait tracks time spent blocked in admission per endpoint
	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "curateur_ratelimit_wait_seconds",
			Help:    "Time spent waiting for rate limit admission",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// RateLimitOverloads tracks overload signals per endpoint
	RateLimitOverloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curateur_ratelimit_overloads_total",
			Help: "Total number of overload signals received",
		},
		[]string{"endpoint"},
	)

	// CacheHits tracks result cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "curateur_cache_hits_total",
			Help: "Total number of result cache hits",
		},
	)

	// CacheMisses tracks result cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "curateur_cache_misses_total",
			Help: "Total number of result cache misses",
		},
	)

	// LookupLatency tracks lookup service request latency per endpoint
	LookupLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "curateur_lookup_latency_seconds",
			Help:    "Lookup service request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)

	// WorkerBudget tracks the current pool concurrency budget
	WorkerBudget = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "curateur_worker_budget",
			Help: "Current worker pool concurrency budget",
		},
	)

	// QueuePending tracks tasks waiting in the queue
	QueuePending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "curateur_queue_pending",
			Help: "Tasks currently waiting in the queue",
		},
	)

	// MediaDownloaded tracks downloaded media assets per kind
	MediaDownloaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "curateur_media_downloaded_total",
			Help: "Total number of media assets downloaded",
		},
		[]string{"kind"},
	)
)
