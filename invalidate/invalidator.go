package invalidate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/cachekit"
)

// Record describes one completed invalidation pass.
type Record struct {
	Time   time.Time
	Method string
	Target string
	Count  int
}

// Stats is a read-only summary of the invalidator's activity. Last is the
// zero Record until the first pass completes.
type Stats struct {
	Passes  int64
	Removed int64
	Pending int
	Last    Record
}

// Invalidator removes cache entries in bulk: by key set, glob pattern,
// prefix, predicate over stored payloads, or dependency closure. Every pass
// is recorded in a bounded history and bumps the manager's invalidation
// counter.
type Invalidator struct {
	cache        *cachekit.Manager
	logger       *slog.Logger
	batchSize    int
	historyLimit int

	mu      sync.Mutex
	history []Record
	passes  int64
	removed int64
	pending map[*Pending]struct{}
	closed  bool
}

// Option configures an Invalidator.
type Option func(*Invalidator)

// WithBatchSize sets how many keys one backend delete carries. Defaults
// to 100.
func WithBatchSize(n int) Option {
	return func(inv *Invalidator) {
		if n > 0 {
			inv.batchSize = n
		}
	}
}

// WithHistoryLimit bounds the retained pass records. Defaults to 100.
func WithHistoryLimit(n int) Option {
	return func(inv *Invalidator) {
		if n > 0 {
			inv.historyLimit = n
		}
	}
}

// WithLogger sets the logger for pass diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(inv *Invalidator) {
		if logger != nil {
			inv.logger = logger
		}
	}
}

// New creates an Invalidator operating on cache.
func New(cache *cachekit.Manager, opts ...Option) *Invalidator {
	inv := &Invalidator{
		cache:        cache,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		batchSize:    100,
		historyLimit: 100,
		pending:      make(map[*Pending]struct{}),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// InvalidateKeys removes the given keys and returns how many existed.
// Batches are independent: a failing chunk does not abort the rest, and the
// returned count reflects what was actually removed alongside the joined
// errors.
func (inv *Invalidator) InvalidateKeys(ctx context.Context, keys ...string) (int, error) {
	removed, err := inv.deleteChunked(ctx, keys)
	inv.record("keys", target(keys), removed)
	return removed, err
}

// InvalidatePattern removes every key matching pattern ('*' and '?'
// wildcards) and returns the removed count.
func (inv *Invalidator) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	keys, err := inv.cache.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	removed, err := inv.deleteChunked(ctx, keys)
	inv.record("pattern", pattern, removed)
	return removed, err
}

// InvalidatePrefix removes every key starting with prefix.
func (inv *Invalidator) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := inv.cache.Keys(ctx, prefix+"*")
	if err != nil {
		return 0, err
	}
	removed, err := inv.deleteChunked(ctx, keys)
	inv.record("prefix", prefix, removed)
	return removed, err
}

// InvalidateAll empties the cache and returns the number of entries it held.
func (inv *Invalidator) InvalidateAll(ctx context.Context) (int, error) {
	n, err := inv.cache.Len(ctx)
	if err != nil {
		return 0, err
	}
	if err := inv.cache.Clear(ctx); err != nil {
		return 0, err
	}
	inv.record("all", "*", n)
	return n, nil
}

// InvalidateByCondition removes every entry whose key and payload satisfy
// pred. Payloads are fetched in batches; entries that vanish between the
// key scan and the fetch are simply skipped.
func (inv *Invalidator) InvalidateByCondition(ctx context.Context, pred func(key string, payload []byte) bool) (int, error) {
	keys, err := inv.cache.Keys(ctx, "*")
	if err != nil {
		return 0, err
	}

	var matched []string
	var chunkErr error
	chunks(keys, inv.batchSize)(func(chunk []string) bool {
		payloads, err := inv.cache.GetMany(ctx, chunk)
		if err != nil {
			chunkErr = err
			return false
		}
		for key, payload := range payloads {
			if pred(key, payload) {
				matched = append(matched, key)
			}
		}
		return true
	})
	if chunkErr != nil {
		return 0, chunkErr
	}

	removed, err := inv.deleteChunked(ctx, matched)
	inv.record("condition", "", removed)
	return removed, err
}

// InvalidateWithDependencies removes keys together with their transitive
// dependents. resolver returns the direct dependents of one key; cycles and
// duplicate edges are handled, each key is removed once.
func (inv *Invalidator) InvalidateWithDependencies(ctx context.Context, keys []string, resolver func(key string) []string) (int, error) {
	seen := make(map[string]struct{}, len(keys))
	queue := append([]string(nil), keys...)
	var closure []string
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		closure = append(closure, key)
		if resolver != nil {
			queue = append(queue, resolver(key)...)
		}
	}

	removed, err := inv.deleteChunked(ctx, closure)
	inv.record("dependencies", target(keys), removed)
	return removed, err
}

// Group returns a view of the invalidator scoped to one key prefix.
func (inv *Invalidator) Group(prefix string) *Group {
	return &Group{inv: inv, prefix: prefix}
}

// History returns the most recent pass records, newest first, capped at
// limit (all retained records when limit <= 0).
func (inv *Invalidator) History(limit int) []Record {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	n := len(inv.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, n)
	for i := 0; i < n; i++ {
		out[i] = inv.history[len(inv.history)-1-i]
	}
	return out
}

// Stats returns the invalidator's activity counters.
func (inv *Invalidator) Stats() Stats {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	st := Stats{Passes: inv.passes, Removed: inv.removed, Pending: len(inv.pending)}
	if n := len(inv.history); n > 0 {
		st.Last = inv.history[n-1]
	}
	return st
}

// Close cancels every pending scheduled and conditional invalidation and
// rejects new ones. Passes already firing run to completion; the cache
// itself is left untouched.
func (inv *Invalidator) Close() {
	inv.mu.Lock()
	if inv.closed {
		inv.mu.Unlock()
		return
	}
	inv.closed = true
	pending := make([]*Pending, 0, len(inv.pending))
	for p := range inv.pending {
		pending = append(pending, p)
	}
	inv.mu.Unlock()

	for _, p := range pending {
		p.Cancel()
	}
}

// deleteChunked removes keys in batches of batchSize. Failed chunks are
// skipped, their errors joined; the count covers only confirmed removals.
func (inv *Invalidator) deleteChunked(ctx context.Context, keys []string) (int, error) {
	var removed int
	var errs []error
	chunks(keys, inv.batchSize)(func(chunk []string) bool {
		n, err := inv.cache.DeleteMany(ctx, chunk)
		removed += n
		if err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return removed, errors.Join(errs...)
}

// record appends one pass to the bounded history and bumps the manager's
// invalidation counter. Zero-count passes are recorded too; knowing that a
// pattern matched nothing is useful when debugging stale data.
func (inv *Invalidator) record(method, target string, count int) {
	inv.cache.Metrics().AddInvalidations(int64(count))
	inv.logger.Debug("invalidation pass",
		slog.String("method", method),
		slog.String("target", target),
		slog.Int("count", count))

	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.passes++
	inv.removed += int64(count)
	inv.history = append(inv.history, Record{
		Time:   time.Now(),
		Method: method,
		Target: target,
		Count:  count,
	})
	if over := len(inv.history) - inv.historyLimit; over > 0 {
		inv.history = inv.history[over:]
	}
}

func (inv *Invalidator) track(p *Pending) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.closed {
		return ErrClosed
	}
	inv.pending[p] = struct{}{}
	return nil
}

func (inv *Invalidator) untrack(p *Pending) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	delete(inv.pending, p)
}

// target renders a key list for the history record without unbounded growth.
func target(keys []string) string {
	switch len(keys) {
	case 0:
		return ""
	case 1:
		return keys[0]
	default:
		return keys[0] + " +more"
	}
}

// chunks yields keys in slices of at most size elements.
func chunks(keys []string, size int) func(yield func([]string) bool) {
	return func(yield func([]string) bool) {
		for start := 0; start < len(keys); start += size {
			end := start + size
			if end > len(keys) {
				end = len(keys)
			}
			if !yield(keys[start:end]) {
				return
			}
		}
	}
}
