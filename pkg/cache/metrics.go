package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks page cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "helpdesk_cache_hits_total",
			Help: "Total number of page cache hits",
		},
	)

	// CacheMisses tracks page cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "helpdesk_cache_misses_total",
			Help: "Total number of page cache misses",
		},
	)

	// CacheWrittenBytes tracks bytes written to the cache
	CacheWrittenBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "helpdesk_cache_written_bytes_total",
			Help: "Total bytes of page bodies written to the cache",
		},
	)

	// CachePurgedKeys counts pages removed by Purge
	CachePurgedKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "helpdesk_cache_purged_keys_total",
			Help: "Total number of cached pages removed by purge",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "helpdesk_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "purge"
	)
)
