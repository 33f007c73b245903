package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits counts reads served from the cache.
	// Labels: model
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total record reads served from the cache",
	}, []string{"model"})

	// cacheMisses counts cacheable reads that went to the backend.
	// Labels: model
	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cacheable record reads that missed the cache",
	}, []string{"model"})

	// cacheInvalidations counts records dropped around writes and deletes.
	// Labels: model
	cacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Total cache invalidations caused by writes and deletes",
	}, []string{"model"})

	// cacheStaleFills counts miss loads not cached because a write raced them.
	// Labels: model
	cacheStaleFills = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Subsystem: "cache",
		Name:      "stale_fills_total",
		Help:      "Total miss loads discarded because the record changed meanwhile",
	}, []string{"model"})

	// cacheErrors counts cache failures; the backend is used instead.
	// Labels: op (get, put, invalidate)
	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "strata",
		Subsystem: "cache",
		Name:      "errors_total",
		Help:      "Total cache operation failures",
	}, []string{"op"})
)
