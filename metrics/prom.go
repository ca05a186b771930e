package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paste_retrieved_total",
		Help: "no. of pastes retrieved",
	})
	PasteUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paste_updated_total",
		Help: "no. of pastes updated",
	})
	PasteDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paste_deleted_total",
		Help: "no. of pastes deleted by removal key",
	})
	PasteReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paste_reaped_total",
		Help: "no. of expired pastes removed by the reaper",
	})
	ReaperWakeups = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paste_reaper_wakeups_total",
		Help: "no. of reaper wakeups",
	})
	IDCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paste_id_collisions_total",
		Help: "no. of identifier allocation collisions",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paste_cache_hits_total",
		Help: "no. of cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paste_cache_misses_total",
		Help: "no. of cache misses",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paste_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paste_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
)
