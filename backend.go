package cachekit

import (
	"context"
	"time"
)

// Backend is the capability contract every store implements. Payloads are
// opaque byte slices; the engine never inspects them. A ttl of zero means
// "no expiry"; negative ttls never reach a backend (the Manager rejects
// them with ErrInvalidTTL).
//
// All operations accept a context for cancellation and deadlines. Batch
// operations are not transactions: a partial failure reports the count
// actually completed.
type Backend interface {
	// Get returns the payload for key. The second result reports whether
	// the key was present and unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores payload under key. ttl == 0 stores without expiry.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// GetMany returns the payloads for the given keys. Missing or expired
	// keys are simply absent from the result.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)

	// SetMany stores all entries with a shared ttl.
	SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// DeleteMany removes the given keys and returns how many existed.
	DeleteMany(ctx context.Context, keys []string) (int, error)

	// Keys returns all unexpired keys matching pattern. Pattern syntax:
	// '*' matches any run of characters, '?' matches exactly one.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Increment atomically adds delta to the integer stored under key,
	// creating it at zero if absent, and returns the new value. A payload
	// that does not parse as an integer fails with ErrNotInteger.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// TTL reports the remaining lifetime of key. The second result is
	// false when the key is absent or expired; a zero duration with a true
	// result means the entry never expires.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)

	// Len returns the number of unexpired entries.
	Len(ctx context.Context) (int, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Healthcheck verifies the store is operational.
	Healthcheck(ctx context.Context) error

	// Close releases resources and stops background tasks.
	Close() error
}

// Locker is implemented by backends that support atomic conditional writes.
// It is the primitive the lock package builds distributed mutual exclusion
// on. TryAcquire must be create-if-absent: it succeeds only when no
// unexpired record exists for resource. Release must be a conditional
// delete: it removes the record only when the stored token matches.
type Locker interface {
	TryAcquire(ctx context.Context, resource, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, resource, token string) (bool, error)
}

// EvictionCounter is implemented by stores that evict entries to stay
// within a configured capacity. The Manager folds the counter into its
// stats snapshot when available.
type EvictionCounter interface {
	EvictionCount() int64
}
