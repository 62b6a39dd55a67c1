// Package cache stores YouTube Data API responses in Redis so that repeated
// exports of the same channel do not spend quota on unchanged pages.
//
// Entries are fresh for a configured TTL. After that they are kept for a
// retention window and revalidated with If-None-Match against the ETag the
// API returned; a 304 refreshes the entry without transferring the body.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, 24*time.Hour)
//
//	key := cache.KeyFromURL(req.URL)
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API
//	}
//
//	entry, err = cache.ResponseToEntry(resp, 5*time.Minute)
//	err = manager.Set(ctx, key, entry)
//
// # Metrics
//
//   - yt_cache_hits_total{state="fresh|revalidated"}
//   - yt_cache_misses_total
//   - yt_cache_size_bytes
//   - yt_304_responses_total
//   - yt_conditional_requests_total
//   - yt_cache_errors_total{operation}
package cache
