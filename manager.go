package cachekit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// Manager is the engine facade. It owns exactly one Backend, validates
// arguments before dispatch, applies the configured codec for typed values,
// and maintains the monitoring counters. All storage semantics live in the
// backend; the Manager adds no caching layer of its own.
type Manager struct {
	backend Backend
	codec   Codec
	logger  *slog.Logger
	metrics *Metrics
	sf      singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithCodec selects the codec used by SetValue/GetValue. Defaults to
// JSONCodec.
func WithCodec(c Codec) Option {
	return func(m *Manager) {
		if c != nil {
			m.codec = c
		}
	}
}

// WithLogger sets the logger for internal diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a Manager around backend.
func New(backend Backend, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, errors.New("cachekit: nil backend")
	}
	m := &Manager{
		backend: backend,
		codec:   JSONCodec{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: newMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// validateTTL rejects negative ttls before they reach the backend. Zero
// means "no expiry" and is always valid.
func validateTTL(ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}
	return nil
}

// Get returns the raw payload for key.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	payload, ok, err := m.backend.Get(ctx, key)
	if err != nil {
		m.fail("get", key, err)
		return nil, false, err
	}
	m.metrics.recordGet(ok, time.Since(start))
	return payload, ok, nil
}

// Set stores a raw payload under key.
func (m *Manager) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}
	start := time.Now()
	if err := m.backend.Set(ctx, key, payload, ttl); err != nil {
		m.fail("set", key, err)
		return err
	}
	m.metrics.recordSet(time.Since(start))
	return nil
}

// Delete removes key and reports whether it existed.
func (m *Manager) Delete(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	existed, err := m.backend.Delete(ctx, key)
	if err != nil {
		m.fail("delete", key, err)
		return false, err
	}
	m.metrics.recordDelete(time.Since(start))
	return existed, nil
}

// Exists reports whether key is present and unexpired.
func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := m.backend.Exists(ctx, key)
	if err != nil {
		m.fail("exists", key, err)
	}
	return ok, err
}

// GetMany returns payloads for keys; missing keys are absent from the map.
func (m *Manager) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	res, err := m.backend.GetMany(ctx, keys)
	if err != nil {
		m.fail("get_many", "", err)
	}
	return res, err
}

// SetMany stores all entries with a shared ttl.
func (m *Manager) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}
	if err := m.backend.SetMany(ctx, items, ttl); err != nil {
		m.fail("set_many", "", err)
		return err
	}
	return nil
}

// DeleteMany removes keys and returns the count that existed.
func (m *Manager) DeleteMany(ctx context.Context, keys []string) (int, error) {
	n, err := m.backend.DeleteMany(ctx, keys)
	if err != nil {
		m.fail("delete_many", "", err)
	}
	return n, err
}

// Keys enumerates unexpired keys matching pattern ('*' and '?' wildcards).
func (m *Manager) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := m.backend.Keys(ctx, pattern)
	if err != nil {
		m.fail("keys", pattern, err)
	}
	return keys, err
}

// Increment atomically adds delta to the integer stored under key.
func (m *Manager) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := m.backend.Increment(ctx, key, delta)
	if err != nil {
		m.fail("increment", key, err)
	}
	return v, err
}

// Decrement atomically subtracts delta from the integer stored under key.
func (m *Manager) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	return m.Increment(ctx, key, -delta)
}

// TTL reports the remaining lifetime of key. It reports false for an absent
// or expired key; a zero duration with a true result means the entry never
// expires.
func (m *Manager) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, ok, err := m.backend.TTL(ctx, key)
	if err != nil {
		m.fail("ttl", key, err)
	}
	return d, ok, err
}

// SetValue encodes v with the configured codec and stores it under key.
func (m *Manager) SetValue(ctx context.Context, key string, v any, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}
	data, err := m.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("%w: encode %q: %v", ErrSerialization, key, err)
	}
	return m.Set(ctx, key, data, ttl)
}

// GetValue fetches key and decodes it into dest. It reports false without
// touching dest when the key is absent.
func (m *Manager) GetValue(ctx context.Context, key string, dest any) (bool, error) {
	data, ok, err := m.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := m.codec.Decode(data, dest); err != nil {
		return false, fmt.Errorf("%w: decode %q: %v", ErrSerialization, key, err)
	}
	return true, nil
}

// GetOrSet returns the payload for key, invoking loader and storing its
// result on a miss. Concurrent misses for the same key share one loader
// call.
func (m *Manager) GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if err := validateTTL(ttl); err != nil {
		return nil, err
	}
	if payload, ok, err := m.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return payload, nil
	}

	v, err, _ := m.sf.Do(key, func() (any, error) {
		// Another flight may have populated the key while we queued.
		if payload, ok, err := m.backend.Get(ctx, key); err != nil {
			return nil, err
		} else if ok {
			return payload, nil
		}
		payload, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if err := m.backend.Set(ctx, key, payload, ttl); err != nil {
			return nil, err
		}
		m.metrics.recordSet(0)
		return payload, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Len returns the number of unexpired entries in the backend.
func (m *Manager) Len(ctx context.Context) (int, error) {
	return m.backend.Len(ctx)
}

// Clear removes every entry from the backend.
func (m *Manager) Clear(ctx context.Context) error {
	m.logger.InfoContext(ctx, "cache cleared")
	return m.backend.Clear(ctx)
}

// Healthcheck verifies the backend is operational.
func (m *Manager) Healthcheck(ctx context.Context) error {
	return m.backend.Healthcheck(ctx)
}

// Close releases the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}

// Backend exposes the configured backend for collaborators that reuse its
// primitives (lock coordinator, invalidator).
func (m *Manager) Backend() Backend {
	return m.backend
}

// Locker returns the backend's lock primitives when it supports them.
func (m *Manager) Locker() (Locker, bool) {
	l, ok := m.backend.(Locker)
	return l, ok
}

// Metrics exposes the live counters for collaborators (the invalidation
// engine bumps its counter here).
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// Stats returns a snapshot of the monitoring counters, folding in the
// backend's eviction count when it reports one.
func (m *Manager) Stats() Stats {
	var evictions int64
	if ec, ok := m.backend.(EvictionCounter); ok {
		evictions = ec.EvictionCount()
	}
	return m.metrics.snapshot(evictions)
}

func (m *Manager) fail(op, key string, err error) {
	m.metrics.recordError()
	m.logger.Debug("cache operation failed",
		slog.String("op", op),
		slog.String("key", key),
		slog.String("error", err.Error()))
}
