// Package cache provides an optional Redis cache of fetched list pages.
//
// Re-running an export against the same account within the TTL serves pages
// from Redis instead of spending the per-minute request quota. Only 200
// responses are stored; error pages are always fetched again. Quota headers
// are not stored with a page.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient, 10*time.Minute)
//
//	key := cache.CacheKey{
//		Account:     "acme",
//		Path:        "/api/v2/tickets.json",
//		QueryParams: url.Values{"page": []string{"2"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// fetch from the API, then:
//		manager.Set(ctx, key, cache.NewEntry(200, resp.Header, body, manager.TTL()))
//	}
//
// Pages of one account are dropped with Purge:
//
//	n, err := manager.Purge(ctx, "acme")
//
// # Metrics
//
//   - helpdesk_cache_hits_total
//   - helpdesk_cache_misses_total
//   - helpdesk_cache_written_bytes_total
//   - helpdesk_cache_purged_keys_total
//   - helpdesk_cache_errors_total{operation}
package cache
