// Package cachekit is a backend-agnostic caching engine. It enforces
// identical get/set/delete/TTL semantics over three storage substrates and
// layers concurrency-safe eviction, distributed locking, and selective
// invalidation on top of them.
//
// # Backends
//
// Three stores implement the Backend contract:
//
//   - memory: in-process store with exact O(1) LRU eviction and a bounded,
//     resumable background TTL sweep.
//   - file: durable store on a WAL-mode SQLite database with an in-memory
//     read-through index and hot reload across processes.
//   - redis: thin adapter over go-redis with pipelined batch operations and
//     native atomic counters.
//
// # Usage
//
//	store := memory.New(memory.WithCapacity(10_000))
//	cache, err := cachekit.New(store)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cache.Close()
//
//	err = cache.Set(ctx, "user:123", payload, time.Hour)
//	payload, ok, err := cache.Get(ctx, "user:123")
//
// Typed values go through the pluggable Codec (JSON by default):
//
//	err = cache.SetValue(ctx, "user:123", user, time.Hour)
//	ok, err := cache.GetValue(ctx, "user:123", &user)
//
// Concurrent cache misses for one key can share a single load:
//
//	payload, err := cache.GetOrSet(ctx, "report:42", 5*time.Minute,
//		func(ctx context.Context) ([]byte, error) {
//			return buildReport(ctx, 42)
//		})
//
// # Locks and invalidation
//
// The lock package builds distributed mutual exclusion on any backend that
// implements Locker; the invalidate package removes entries by key set,
// glob pattern, prefix, predicate, or dependency closure. Both are
// constructed around an existing Manager and reuse its primitives:
//
//	coord, err := lock.FromManager(cache)
//	err = coord.WithLock(ctx, "billing:run", 30*time.Second, func(ctx context.Context) error {
//		return runBilling(ctx)
//	})
//
//	inv := invalidate.New(cache)
//	removed, err := inv.InvalidatePattern(ctx, "user:*")
//
// # Errors
//
// The engine signals failures through sentinel errors (ErrInvalidTTL,
// ErrBackend, ErrSerialization, ErrNotInteger) checked with errors.Is.
// Batch operations never fail atomically: they report the count actually
// completed alongside any error.
//
// # Monitoring
//
// Every Manager keeps read-only counters (operation counts, hits, misses,
// evictions, invalidations, per-operation latency aggregates) exposed via
// Stats. Metrics-format encoders are external collaborators.
package cachekit
