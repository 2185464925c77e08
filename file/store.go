package file

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dmitrymomot/cachekit"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key              TEXT PRIMARY KEY,
	payload          BLOB NOT NULL,
	expires_at       INTEGER,
	last_accessed_at INTEGER NOT NULL,
	inserted_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at
	ON cache_entries(expires_at) WHERE expires_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_cache_entries_last_accessed_at
	ON cache_entries(last_accessed_at);
CREATE TABLE IF NOT EXISTS lock_records (
	resource   TEXT PRIMARY KEY,
	token      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);`

// Store is the durable cache backend. Rows live in a WAL-mode SQLite
// database; a read-through index (key -> expires_at) keeps miss checks off
// the disk. Every mutating call commits before returning.
//
// Eviction approximates LRU by deleting rows in ascending last_accessed_at
// order via an indexed query; the exact linked recency order is not kept
// resident.
type Store struct {
	db   *sql.DB
	path string

	mu    sync.RWMutex
	index map[string]int64 // expires_at in unix millis, 0 = no expiry

	capacity      int
	sweepInterval time.Duration
	sweepBatch    int
	hotReload     bool
	logger        *slog.Logger

	lastMTime atomic.Int64
	degraded  atomic.Bool
	closed    atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	evictions   atomic.Int64
	expirations atomic.Int64
	reloads     atomic.Int64
}

// Config carries the env-mapped settings for a file store.
type Config struct {
	Path          string        `env:"FILE_CACHE_PATH" envDefault:"./cachekit.db"`
	Capacity      int           `env:"FILE_CACHE_CAPACITY" envDefault:"10000"`
	SweepInterval time.Duration `env:"FILE_CACHE_SWEEP_INTERVAL" envDefault:"5m"`
	HotReload     bool          `env:"FILE_CACHE_HOT_RELOAD" envDefault:"true"`
}

// Stats is a point-in-time snapshot of store internals.
type Stats struct {
	IndexSize   int
	Evictions   int64
	Expirations int64
	Reloads     int64
	Degraded    bool
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity sets the maximum row count. When a write pushes the table
// over it, rows with the oldest last_accessed_at are deleted in the same
// transaction until the table is back under capacity.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithSweepInterval sets how often the background task removes expired rows
// and checks for external file changes. Zero disables it.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		s.sweepInterval = d
	}
}

// WithSweepBatch bounds how many expired rows one sweep wake deletes.
func WithSweepBatch(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

// WithHotReload controls whether reads watch the backing file for external
// writes and rebuild the index when it changes. Enabled by default.
func WithHotReload(enabled bool) Option {
	return func(s *Store) {
		s.hotReload = enabled
	}
}

// WithLogger sets the logger for background task diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New opens (creating if needed) the SQLite database at path and starts the
// background sweep. Call Close to stop it.
func New(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:          path,
		index:         make(map[string]int64),
		capacity:      10_000,
		sweepInterval: 5 * time.Minute,
		sweepBatch:    512,
		hotReload:     true,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create cache dir: %v", cachekit.ErrBackend, err)
		}
	}

	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", cachekit.ErrBackend, path, err)
	}
	s.db = db

	ctx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelInit()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: init schema: %v", cachekit.ErrBackend, err)
	}
	if err := s.reloadIndex(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if s.sweepInterval > 0 {
		sweepCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go s.sweepLoop(sweepCtx)
	}
	return s, nil
}

// NewFromConfig builds a Store from an env-mapped Config.
func NewFromConfig(cfg Config, opts ...Option) (*Store, error) {
	base := []Option{
		WithCapacity(cfg.Capacity),
		WithSweepInterval(cfg.SweepInterval),
		WithHotReload(cfg.HotReload),
	}
	return New(cfg.Path, append(base, opts...)...)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// ready gates foreground calls on the degraded flag and closed state.
func (s *Store) ready() error {
	if s.closed.Load() {
		return cachekit.ErrStoreClosed
	}
	if s.degraded.Load() {
		return fmt.Errorf("%w: store degraded, backing file unavailable", cachekit.ErrBackend)
	}
	return nil
}

func (s *Store) backendErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", cachekit.ErrBackend, op, err)
}

// Get returns the payload for key. The index answers misses without disk
// access; hits read the durable row and refresh last_accessed_at.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.ready(); err != nil {
		return nil, false, err
	}
	s.maybeReload(ctx)

	s.mu.RLock()
	exp, ok := s.index[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	now := nowMillis()
	if exp != 0 && now >= exp {
		s.removeExpired(ctx, key)
		return nil, false, nil
	}

	var payload []byte
	var expires sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM cache_entries WHERE key = ?`, key).
		Scan(&payload, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		// Removed by another process since the last reload.
		s.dropFromIndex(key)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.backendErr("get", err)
	}
	if expires.Valid && now >= expires.Int64 {
		s.removeExpired(ctx, key)
		return nil, false, nil
	}

	// Recency refresh is best-effort: the read itself already succeeded.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET last_accessed_at = ? WHERE key = ?`, now, key); err != nil {
		s.logger.Warn("recency update failed", slog.String("key", key), slog.String("error", err.Error()))
	} else {
		s.touchMTime()
	}
	return payload, true, nil
}

// Set durably stores payload under key. The row is committed, and capacity
// enforced, before the call returns.
func (s *Store) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := s.ready(); err != nil {
		return err
	}
	if ttl < 0 {
		return fmt.Errorf("%w: %s", cachekit.ErrInvalidTTL, ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMillis()
	expires := expiresMillis(now, ttl)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.backendErr("set", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, payload, expires_at, last_accessed_at, inserted_at)
		 VALUES (?, ?, ?, ?, ?)`,
		key, payload, nullableMillis(expires), now, now); err != nil {
		return s.backendErr("set", err)
	}
	evicted, err := s.evictTx(ctx, tx)
	if err != nil {
		return s.backendErr("set evict", err)
	}
	if err := tx.Commit(); err != nil {
		return s.backendErr("set commit", err)
	}

	s.index[key] = expires
	for _, k := range evicted {
		delete(s.index, k)
	}
	s.touchMTime()
	return nil
}

// Delete removes key and reports whether a row existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return false, s.backendErr("delete", err)
	}
	n, _ := res.RowsAffected()
	delete(s.index, key)
	s.touchMTime()
	return n > 0, nil
}

// Exists answers from the read-through index; an expired entry is removed
// lazily and reported absent.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	s.maybeReload(ctx)

	s.mu.RLock()
	exp, ok := s.index[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if exp != 0 && nowMillis() >= exp {
		s.removeExpired(ctx, key)
		return false, nil
	}
	return true, nil
}

// GetMany reads all requested rows in one query and refreshes recency for
// the hits in one update.
func (s *Store) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	s.maybeReload(ctx)

	query := `SELECT key, payload, expires_at FROM cache_entries WHERE key IN (` +
		placeholders(len(keys)) + `)`
	rows, err := s.db.QueryContext(ctx, query, stringArgs(keys)...)
	if err != nil {
		return nil, s.backendErr("get_many", err)
	}
	defer rows.Close()

	now := nowMillis()
	result := make(map[string][]byte, len(keys))
	var hits []string
	for rows.Next() {
		var key string
		var payload []byte
		var expires sql.NullInt64
		if err := rows.Scan(&key, &payload, &expires); err != nil {
			return nil, s.backendErr("get_many scan", err)
		}
		if expires.Valid && now >= expires.Int64 {
			continue
		}
		result[key] = payload
		hits = append(hits, key)
	}
	if err := rows.Err(); err != nil {
		return nil, s.backendErr("get_many rows", err)
	}

	if len(hits) > 0 {
		update := `UPDATE cache_entries SET last_accessed_at = ? WHERE key IN (` +
			placeholders(len(hits)) + `)`
		args := append([]any{now}, stringArgs(hits)...)
		if _, err := s.db.ExecContext(ctx, update, args...); err != nil {
			s.logger.Warn("recency update failed", slog.String("error", err.Error()))
		} else {
			s.touchMTime()
		}
	}
	return result, nil
}

// SetMany durably stores all entries in one transaction with a shared ttl.
func (s *Store) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if err := s.ready(); err != nil {
		return err
	}
	if ttl < 0 {
		return fmt.Errorf("%w: %s", cachekit.ErrInvalidTTL, ttl)
	}
	if len(items) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMillis()
	expires := expiresMillis(now, ttl)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.backendErr("set_many", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, payload, expires_at, last_accessed_at, inserted_at)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return s.backendErr("set_many prepare", err)
	}
	defer stmt.Close()

	for key, payload := range items {
		if _, err := stmt.ExecContext(ctx, key, payload, nullableMillis(expires), now, now); err != nil {
			return s.backendErr("set_many exec", err)
		}
	}
	evicted, err := s.evictTx(ctx, tx)
	if err != nil {
		return s.backendErr("set_many evict", err)
	}
	if err := tx.Commit(); err != nil {
		return s.backendErr("set_many commit", err)
	}

	for key := range items {
		s.index[key] = expires
	}
	for _, k := range evicted {
		delete(s.index, k)
	}
	s.touchMTime()
	return nil
}

// DeleteMany removes the given keys and returns how many rows existed.
func (s *Store) DeleteMany(ctx context.Context, keys []string) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `DELETE FROM cache_entries WHERE key IN (` + placeholders(len(keys)) + `)`
	res, err := s.db.ExecContext(ctx, query, stringArgs(keys)...)
	if err != nil {
		return 0, s.backendErr("delete_many", err)
	}
	n, _ := res.RowsAffected()
	for _, k := range keys {
		delete(s.index, k)
	}
	s.touchMTime()
	return int(n), nil
}

// Keys enumerates unexpired keys matching pattern from the index.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.maybeReload(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := nowMillis()
	var keys []string
	for key, exp := range s.index {
		if exp != 0 && now >= exp {
			continue
		}
		if pattern == "*" || cachekit.MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Increment atomically adds delta to the integer stored under key inside a
// single transaction, creating the row at zero when absent or expired. The
// expiry of an existing row is preserved.
func (s *Store) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMillis()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.backendErr("increment", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	var expires sql.NullInt64
	var payload []byte
	err = tx.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM cache_entries WHERE key = ?`, key).
		Scan(&payload, &expires)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// starts at zero
	case err != nil:
		return 0, s.backendErr("increment read", err)
	case expires.Valid && now >= expires.Int64:
		expires = sql.NullInt64{}
	default:
		v, perr := strconv.ParseInt(string(payload), 10, 64)
		if perr != nil {
			return 0, fmt.Errorf("%w: key %q", cachekit.ErrNotInteger, key)
		}
		current = v
	}

	next := current + delta
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, payload, expires_at, last_accessed_at, inserted_at)
		 VALUES (?, ?, ?, ?, ?)`,
		key, []byte(strconv.FormatInt(next, 10)), expires, now, now); err != nil {
		return 0, s.backendErr("increment write", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, s.backendErr("increment commit", err)
	}

	if expires.Valid {
		s.index[key] = expires.Int64
	} else {
		s.index[key] = 0
	}
	s.touchMTime()
	return next, nil
}

// TTL reports the remaining lifetime of key from the index. A zero duration
// with a true result means the row never expires.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	if err := s.ready(); err != nil {
		return 0, false, err
	}
	s.maybeReload(ctx)

	s.mu.RLock()
	exp, ok := s.index[key]
	s.mu.RUnlock()
	if !ok {
		return 0, false, nil
	}
	now := nowMillis()
	if exp != 0 && now >= exp {
		s.removeExpired(ctx, key)
		return 0, false, nil
	}
	if exp == 0 {
		return 0, true, nil
	}
	return time.Duration(exp-now) * time.Millisecond, true, nil
}

// Len counts unexpired rows.
func (s *Store) Len(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE expires_at IS NULL OR expires_at > ?`,
		nowMillis()).Scan(&n)
	if err != nil {
		return 0, s.backendErr("len", err)
	}
	return n, nil
}

// Clear removes every row and resets the index.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		return s.backendErr("clear", err)
	}
	s.index = make(map[string]int64)
	s.touchMTime()
	return nil
}

// Healthcheck verifies the database answers queries and the store is not
// degraded.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.db.PingContext(ctx); err != nil {
		return s.backendErr("healthcheck", err)
	}
	return nil
}

// Close stops the background sweep and closes the database. Idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if err := s.db.Close(); err != nil {
		return s.backendErr("close", err)
	}
	return nil
}

// TryAcquire implements cachekit.Locker: expired records for the resource
// are purged and a create-if-absent insert decides ownership, all in one
// transaction.
func (s *Store) TryAcquire(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, fmt.Errorf("%w: lock ttl must be positive", cachekit.ErrInvalidTTL)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMillis()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, s.backendErr("try_acquire", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM lock_records WHERE resource = ? AND expires_at <= ?`, resource, now); err != nil {
		return false, s.backendErr("try_acquire purge", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO lock_records (resource, token, expires_at) VALUES (?, ?, ?)`,
		resource, token, now+ttl.Milliseconds())
	if err != nil {
		return false, s.backendErr("try_acquire insert", err)
	}
	if err := tx.Commit(); err != nil {
		return false, s.backendErr("try_acquire commit", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Release implements cachekit.Locker with a conditional delete: the record
// goes away only when token matches the current unexpired holder.
func (s *Store) Release(ctx context.Context, resource, token string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM lock_records WHERE resource = ? AND token = ? AND expires_at > ?`,
		resource, token, nowMillis())
	if err != nil {
		return false, s.backendErr("release", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// EvictionCount reports the total number of capacity evictions.
func (s *Store) EvictionCount() int64 {
	return s.evictions.Load()
}

// Stats returns a snapshot of store internals.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	size := len(s.index)
	s.mu.RUnlock()

	return Stats{
		IndexSize:   size,
		Evictions:   s.evictions.Load(),
		Expirations: s.expirations.Load(),
		Reloads:     s.reloads.Load(),
		Degraded:    s.degraded.Load(),
	}
}

// evictTx deletes the oldest rows by last_accessed_at until the table is
// back under capacity. Runs inside the caller's transaction; returns the
// evicted keys so the caller can fix the index after commit.
func (s *Store) evictTx(ctx context.Context, tx *sql.Tx) ([]string, error) {
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		return nil, err
	}
	if count <= s.capacity {
		return nil, nil
	}
	over := count - s.capacity

	rows, err := tx.QueryContext(ctx,
		`SELECT key FROM cache_entries ORDER BY last_accessed_at ASC LIMIT ?`, over)
	if err != nil {
		return nil, err
	}
	var victims []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, err
		}
		victims = append(victims, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(victims) == 0 {
		return nil, nil
	}

	query := `DELETE FROM cache_entries WHERE key IN (` + placeholders(len(victims)) + `)`
	if _, err := tx.ExecContext(ctx, query, stringArgs(victims)...); err != nil {
		return nil, err
	}
	s.evictions.Add(int64(len(victims)))
	return victims, nil
}

// removeExpired lazily deletes one expired row outside any transaction.
func (s *Store) removeExpired(ctx context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		key, nowMillis()); err != nil {
		s.logger.Warn("expired row delete failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	delete(s.index, key)
	s.expirations.Add(1)
	s.touchMTime()
}

func (s *Store) dropFromIndex(key string) {
	s.mu.Lock()
	delete(s.index, key)
	s.mu.Unlock()
}

// statMTime returns the newest modification time across the database file
// and its WAL sidecar (WAL writes may not touch the main file until a
// checkpoint).
func (s *Store) statMTime() (int64, error) {
	var newest int64
	var found bool
	for _, p := range []string{s.path, s.path + "-wal"} {
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return 0, err
		}
		found = true
		if mt := info.ModTime().UnixNano(); mt > newest {
			newest = mt
		}
	}
	if !found {
		return 0, fs.ErrNotExist
	}
	return newest, nil
}

// touchMTime records the file state after our own writes so they do not
// trigger a reload.
func (s *Store) touchMTime() {
	if mt, err := s.statMTime(); err == nil {
		s.lastMTime.Store(mt)
	}
}

// maybeReload rebuilds the index when the backing file changed outside this
// process.
func (s *Store) maybeReload(ctx context.Context) {
	if !s.hotReload {
		return
	}
	mt, err := s.statMTime()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.degrade("backing file missing")
		}
		return
	}
	if mt <= s.lastMTime.Load() {
		return
	}
	if err := s.reloadIndex(ctx); err != nil {
		s.logger.Error("hot reload failed", slog.String("error", err.Error()))
	}
}

// reloadIndex reconstructs the in-memory index from the non-expired durable
// rows.
func (s *Store) reloadIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, expires_at FROM cache_entries WHERE expires_at IS NULL OR expires_at > ?`,
		nowMillis())
	if err != nil {
		return s.backendErr("reload", err)
	}
	defer rows.Close()

	index := make(map[string]int64)
	for rows.Next() {
		var key string
		var expires sql.NullInt64
		if err := rows.Scan(&key, &expires); err != nil {
			return s.backendErr("reload scan", err)
		}
		if expires.Valid {
			index[key] = expires.Int64
		} else {
			index[key] = 0
		}
	}
	if err := rows.Err(); err != nil {
		return s.backendErr("reload rows", err)
	}

	s.index = index
	s.reloads.Add(1)
	if mt, err := s.statMTime(); err == nil {
		s.lastMTime.Store(mt)
	}
	return nil
}

// degrade flips the store into its degraded state once; foreground calls
// then fail with ErrBackend instead of the process crashing.
func (s *Store) degrade(reason string) {
	if s.degraded.CompareAndSwap(false, true) {
		s.logger.Error("file store degraded", slog.String("reason", reason))
	}
}

func (s *Store) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	s.logger.Info("file store sweep started", slog.Duration("interval", s.sweepInterval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("file store sweep stopped")
			return
		case <-ticker.C:
			s.sweepStep(ctx)
		}
	}
}

// sweepStep removes a bounded batch of expired rows, expired lock records,
// and runs the hot-reload check. Errors are logged, never fatal to the
// task; a missing backing file degrades the store.
func (s *Store) sweepStep(ctx context.Context) {
	if _, err := s.statMTime(); errors.Is(err, fs.ErrNotExist) {
		s.degrade("backing file missing")
		return
	}

	now := nowMillis()
	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ? LIMIT ?`,
		now, s.sweepBatch)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("sweep query failed", slog.String("error", err.Error()))
		return
	}
	var expired []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			break
		}
		expired = append(expired, key)
	}
	rows.Close()

	if len(expired) > 0 {
		query := `DELETE FROM cache_entries WHERE key IN (` + placeholders(len(expired)) + `)`
		if _, err := s.db.ExecContext(ctx, query, stringArgs(expired)...); err != nil {
			s.logger.Error("sweep delete failed", slog.String("error", err.Error()))
		} else {
			for _, k := range expired {
				delete(s.index, k)
			}
			s.expirations.Add(int64(len(expired)))
			s.touchMTime()
		}
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM lock_records WHERE expires_at <= ?`, now); err != nil {
		s.logger.Warn("lock record sweep failed", slog.String("error", err.Error()))
	}
	s.mu.Unlock()

	s.maybeReload(ctx)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(keys []string) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	return args
}

func expiresMillis(now int64, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now + ttl.Milliseconds()
}

func nullableMillis(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}
