package memory

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/cachekit"
)

type entry struct {
	key            string
	payload        []byte
	expiresAt      time.Time // zero means no expiry
	insertedAt     time.Time
	lastAccessedAt time.Time
	elem           *list.Element
}

// An entry is expired at the exact expiry instant, matching the durable and
// remote backends.
func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type lockRecord struct {
	token     string
	expiresAt time.Time
}

// Store is an in-process cache with exact LRU eviction and TTL expiry.
//
// Concurrency discipline: one mutex serializes every index mutation. A
// reader-friendly RWMutex does not apply here because even Get mutates the
// recency list; the single-lock strategy is the documented tradeoff for
// exact LRU order.
type Store struct {
	mu    sync.Mutex
	items map[string]*entry
	lru   *list.List // front = most recently used
	locks map[string]lockRecord

	capacity      int
	sweepInterval time.Duration
	sweepBatch    int
	sweepCursor   *list.Element
	logger        *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	evictions   atomic.Int64
	expirations atomic.Int64
	sweepCycles atomic.Int64
}

// Stats is a point-in-time snapshot of store internals.
type Stats struct {
	Size        int
	Evictions   int64
	Expirations int64
	SweepCycles int64
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity sets the maximum entry count. The cap is hard: an insert at
// capacity evicts the least-recently-used entry first, so size never
// exceeds it.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithSweepInterval sets how often the background sweep wakes. Zero
// disables the sweep; expiry then happens lazily on reads only.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		s.sweepInterval = d
	}
}

// WithSweepBatch bounds how many entries one sweep wake examines. The scan
// resumes where it left off on the next wake, so the store lock is never
// held for a whole-table pass.
func WithSweepBatch(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

// WithLogger sets the logger for background sweep diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a memory store and starts its background sweep. Call Close to
// stop it.
func New(opts ...Option) *Store {
	s := &Store{
		items:         make(map[string]*entry),
		lru:           list.New(),
		locks:         make(map[string]lockRecord),
		capacity:      10_000,
		sweepInterval: time.Minute,
		sweepBatch:    256,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sweepInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go s.sweepLoop(ctx)
	}
	return s
}

// Get returns the payload for key, promoting it to most-recently-used. An
// expired entry is removed and reported as a miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, cachekit.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	now := time.Now()
	if e.expired(now) {
		s.removeLocked(e)
		s.expirations.Add(1)
		return nil, false, nil
	}
	e.lastAccessedAt = now
	s.lru.MoveToFront(e.elem)
	return e.payload, true, nil
}

// Set stores payload under key. When the store is at capacity and key is
// new, the least-recently-used entry is evicted before the insert.
func (s *Store) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return cachekit.ErrStoreClosed
	}
	if ttl < 0 {
		return fmt.Errorf("%w: %s", cachekit.ErrInvalidTTL, ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, payload, ttl, time.Now())
	return nil
}

func (s *Store) setLocked(key string, payload []byte, ttl time.Duration, now time.Time) {
	buf := make([]byte, len(payload))
	copy(buf, payload)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	if e, ok := s.items[key]; ok {
		e.payload = buf
		e.expiresAt = expiresAt
		e.lastAccessedAt = now
		s.lru.MoveToFront(e.elem)
		return
	}

	if s.lru.Len() >= s.capacity {
		s.evictLocked()
	}
	e := &entry{
		key:            key,
		payload:        buf,
		expiresAt:      expiresAt,
		insertedAt:     now,
		lastAccessedAt: now,
	}
	e.elem = s.lru.PushFront(e)
	s.items[key] = e
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if s.closed.Load() {
		return false, cachekit.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return false, nil
	}
	s.removeLocked(e)
	return true, nil
}

// Exists reports whether key is present and unexpired. Unlike Get it does
// not promote the entry.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if s.closed.Load() {
		return false, cachekit.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return false, nil
	}
	if e.expired(time.Now()) {
		s.removeLocked(e)
		s.expirations.Add(1)
		return false, nil
	}
	return true, nil
}

// GetMany returns the payloads for keys under a single lock acquisition.
func (s *Store) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	if s.closed.Load() {
		return nil, cachekit.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string][]byte, len(keys))
	now := time.Now()
	for _, key := range keys {
		e, ok := s.items[key]
		if !ok {
			continue
		}
		if e.expired(now) {
			s.removeLocked(e)
			s.expirations.Add(1)
			continue
		}
		e.lastAccessedAt = now
		s.lru.MoveToFront(e.elem)
		result[key] = e.payload
	}
	return result, nil
}

// SetMany stores all entries with a shared ttl under a single lock
// acquisition.
func (s *Store) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if s.closed.Load() {
		return cachekit.ErrStoreClosed
	}
	if ttl < 0 {
		return fmt.Errorf("%w: %s", cachekit.ErrInvalidTTL, ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, payload := range items {
		s.setLocked(key, payload, ttl, now)
	}
	return nil
}

// DeleteMany removes keys and returns the count that existed.
func (s *Store) DeleteMany(ctx context.Context, keys []string) (int, error) {
	if s.closed.Load() {
		return 0, cachekit.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, key := range keys {
		if e, ok := s.items[key]; ok {
			s.removeLocked(e)
			count++
		}
	}
	return count, nil
}

// Keys returns all unexpired keys matching pattern. Expired entries found
// during the scan are removed lazily.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, cachekit.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var keys []string
	var stale []*entry
	for key, e := range s.items {
		if e.expired(now) {
			stale = append(stale, e)
			continue
		}
		if pattern == "*" || cachekit.MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	for _, e := range stale {
		s.removeLocked(e)
		s.expirations.Add(1)
	}
	return keys, nil
}

// Increment atomically adds delta to the integer stored under key, creating
// it at zero when absent. The entry's expiry is preserved.
func (s *Store) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	if s.closed.Load() {
		return 0, cachekit.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var current int64
	var expiresAt time.Time

	if e, ok := s.items[key]; ok && !e.expired(now) {
		v, err := strconv.ParseInt(string(e.payload), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: key %q", cachekit.ErrNotInteger, key)
		}
		current = v
		expiresAt = e.expiresAt
		e.payload = []byte(strconv.FormatInt(current+delta, 10))
		e.expiresAt = expiresAt
		e.lastAccessedAt = now
		s.lru.MoveToFront(e.elem)
		return current + delta, nil
	}

	s.setLocked(key, []byte(strconv.FormatInt(delta, 10)), 0, now)
	return delta, nil
}

// TTL reports the remaining lifetime of key without promoting it. A zero
// duration with a true result means the entry never expires.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	if s.closed.Load() {
		return 0, false, cachekit.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return 0, false, nil
	}
	now := time.Now()
	if e.expired(now) {
		s.removeLocked(e)
		s.expirations.Add(1)
		return 0, false, nil
	}
	if e.expiresAt.IsZero() {
		return 0, true, nil
	}
	return e.expiresAt.Sub(now), true, nil
}

// Len returns the number of unexpired entries.
func (s *Store) Len(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, cachekit.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	n := 0
	for _, e := range s.items {
		if !e.expired(now) {
			n++
		}
	}
	return n, nil
}

// Clear removes every entry and resets the recency index.
func (s *Store) Clear(ctx context.Context) error {
	if s.closed.Load() {
		return cachekit.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*entry)
	s.lru.Init()
	s.sweepCursor = nil
	return nil
}

// Healthcheck reports whether the store is usable.
func (s *Store) Healthcheck(ctx context.Context) error {
	if s.closed.Load() {
		return cachekit.ErrStoreClosed
	}
	return nil
}

// Close stops the background sweep and marks the store closed. It is
// idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

// TryAcquire implements cachekit.Locker with a create-if-absent write under
// the store mutex. Lock records live beside the cache entries and are never
// subject to LRU eviction.
func (s *Store) TryAcquire(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, cachekit.ErrStoreClosed
	}
	if ttl <= 0 {
		return false, fmt.Errorf("%w: lock ttl must be positive", cachekit.ErrInvalidTTL)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if rec, ok := s.locks[resource]; ok && now.Before(rec.expiresAt) {
		return false, nil
	}
	s.locks[resource] = lockRecord{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

// Release implements cachekit.Locker with a conditional delete: the record
// is removed only when token matches the current unexpired holder.
func (s *Store) Release(ctx context.Context, resource, token string) (bool, error) {
	if s.closed.Load() {
		return false, cachekit.ErrStoreClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.locks[resource]
	if !ok || rec.token != token {
		return false, nil
	}
	delete(s.locks, resource)
	return time.Now().Before(rec.expiresAt), nil
}

// EvictionCount reports the total number of LRU evictions.
func (s *Store) EvictionCount() int64 {
	return s.evictions.Load()
}

// Stats returns a snapshot of store internals.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	size := s.lru.Len()
	s.mu.Unlock()

	return Stats{
		Size:        size,
		Evictions:   s.evictions.Load(),
		Expirations: s.expirations.Load(),
		SweepCycles: s.sweepCycles.Load(),
	}
}

func (s *Store) evictLocked() {
	back := s.lru.Back()
	if back == nil {
		return
	}
	s.removeLocked(back.Value.(*entry))
	s.evictions.Add(1)
}

func (s *Store) removeLocked(e *entry) {
	if s.sweepCursor == e.elem {
		s.sweepCursor = e.elem.Next()
	}
	s.lru.Remove(e.elem)
	delete(s.items, e.key)
}

func (s *Store) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	s.logger.Info("memory store sweep started",
		slog.Duration("interval", s.sweepInterval),
		slog.Int("batch", s.sweepBatch))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("memory store sweep stopped")
			return
		case <-ticker.C:
			s.sweepStep()
		}
	}
}

// sweepStep examines at most sweepBatch entries and removes the expired
// ones. The cursor survives between wakes, so a large store is drained
// incrementally instead of in one stop-the-world pass.
func (s *Store) sweepStep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	elem := s.sweepCursor
	if elem == nil {
		elem = s.lru.Front()
	}
	for i := 0; i < s.sweepBatch && elem != nil; i++ {
		next := elem.Next()
		e := elem.Value.(*entry)
		if e.expired(now) {
			s.removeLocked(e)
			s.expirations.Add(1)
		}
		elem = next
	}
	s.sweepCursor = elem
	s.sweepCycles.Add(1)

	// Expired lock records are small; drop them opportunistically.
	for resource, rec := range s.locks {
		if now.After(rec.expiresAt) {
			delete(s.locks, resource)
		}
	}
}
