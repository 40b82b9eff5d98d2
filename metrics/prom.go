package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_paste_retrieved_total",
		Help: "no. of pastes retrieved by hash",
	})
	PasteListed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_paste_listed_total",
		Help: "no. of list requests served",
	})
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebin_cache_hits_total",
			Help: "no. of content cache hits",
		},
		[]string{"tier"},
	)
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastebin_cache_misses_total",
		Help: "no. of content cache misses",
	})
	ClickIncrements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastebin_click_increments_total",
			Help: "no. of click increments by outcome",
		},
		[]string{"outcome"},
	)
	ClickQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pastebin_click_queue_depth",
		Help: "click increments waiting for a worker",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pastebin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
)

const (
	TierLRU   = "lru"
	TierRedis = "redis"

	ClickApplied  = "applied"
	ClickFailed   = "failed"
	ClickOverflow = "overflow"
)
