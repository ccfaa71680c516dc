package cache

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "modelrouter",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Cache lookups served from disk",
	})
	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "modelrouter",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Cache lookups that found no usable entry",
	})
	cacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "modelrouter",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Entries removed to make room",
	})
	cacheInvalidations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "modelrouter",
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Entries removed because they were stale, corrupt or explicitly invalidated",
	})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMisses, cacheEvictions, cacheInvalidations)
}
