// Package redis provides the network-backed cache backend on top of
// go-redis. Connection establishment validates the URL, retries with
// backoff, and verifies connectivity with a ping before returning the
// client; the Store then adapts it to the cachekit Backend contract.
//
// TTL expiry and memory eviction are the Redis server's responsibility.
// The adapter deliberately keeps no local cache of its own, which would be
// a second, inconsistent source of truth. Batch operations are pipelined
// (MGET, transactional pipelines of SET, chunked DEL) instead of issuing
// one round trip per key, and Increment delegates to INCRBY so counters
// stay atomic under concurrent writers.
//
//	cfg := redis.Config{ConnectionURL: "redis://localhost:6379/0"}
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	store := redis.New(client, redis.WithKeyPrefix("app:"))
//	cache, err := cachekit.New(store)
//
// Connection pooling (pool size, checkout timeout) is configured through
// Config and handled by go-redis. Both redis:// and rediss:// URL schemes
// are supported.
//
// The Store implements cachekit.Locker with SET NX plus an atomic
// check-and-delete script, making it the natural substrate for distributed
// locks across processes and hosts.
package redis
