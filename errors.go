package cachekit

import "errors"

// Engine-wide error taxonomy. Backends wrap underlying failures with these
// sentinels so callers can branch with errors.Is regardless of which store
// is configured.
var (
	// ErrInvalidTTL is returned for a negative ttl. The Manager rejects it
	// before the call reaches any backend.
	ErrInvalidTTL = errors.New("cachekit: invalid ttl")

	// ErrBackend wraps I/O failures from the underlying store (disk full,
	// connection refused, corruption). It is surfaced unchanged; the engine
	// performs no silent retries.
	ErrBackend = errors.New("cachekit: backend failure")

	// ErrSerialization wraps codec encode/decode failures.
	ErrSerialization = errors.New("cachekit: serialization failed")

	// ErrNotInteger is returned by Increment when the stored payload does
	// not hold an integer value.
	ErrNotInteger = errors.New("cachekit: value is not an integer")

	// ErrCapacityExceeded is only possible with a hard, non-evicting limit.
	// Normal operation enforces capacity by eviction and never returns it.
	ErrCapacityExceeded = errors.New("cachekit: capacity exceeded")

	// ErrStoreClosed is returned by operations issued after Close.
	ErrStoreClosed = errors.New("cachekit: store is closed")

	// ErrLockingUnsupported is returned when a lock primitive is requested
	// from a backend that has no atomic conditional-set support.
	ErrLockingUnsupported = errors.New("cachekit: backend does not support locking")
)
