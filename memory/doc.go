// Package memory provides the in-process cache backend. It keeps exact LRU
// recency with a hash index plus a doubly-linked list, so Get, Set, and
// Delete are O(1).
//
// TTL expiry has two paths: a read on an expired key removes it and reports
// a miss (lazy), and a background sweep wakes on a fixed interval to remove
// expired entries in bounded batches (active). The sweep scan is resumable:
// it never holds the store lock for a full table pass.
//
//	store := memory.New(
//		memory.WithCapacity(50_000),
//		memory.WithSweepInterval(30*time.Second),
//	)
//	defer store.Close()
//
// The store also implements cachekit.Locker, backed by a separate record
// table under the same mutex, which makes it a valid substrate for the lock
// package in single-process deployments and tests.
package memory
