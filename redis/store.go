package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/cachekit"
)

// releaseScript deletes a lock record only when the stored token matches.
// The check and the delete run atomically on the server, so a coordinator
// whose ttl expired can never release a lock re-acquired by someone else.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

const deleteChunkSize = 512

// Store adapts a Redis client to the cachekit Backend contract. Eviction
// and durability are the server's responsibility; the adapter adds no local
// caching layer. Batch operations map to the protocol's native multi-key
// commands rather than one round trip per key.
type Store struct {
	client    *redis.Client
	prefix    string
	scanBatch int64
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix namespaces every key, letting several engines share one
// Redis database.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithScanBatchSize sets the COUNT hint for SCAN-based key enumeration.
func WithScanBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.scanBatch = int64(n)
		}
	}
}

// New wraps an established client (see Connect) as a cache backend.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client:    client,
		scanBatch: 1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(key string) string {
	return s.prefix + key
}

// matchPrefix is the prefix with glob metacharacters quoted, so a literal
// prefix can never widen a SCAN MATCH pattern.
func (s *Store) matchPrefix() string {
	return matchEscaper.Replace(s.prefix)
}

var matchEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"?", `\?`,
	"[", `\[`,
	"]", `\]`,
)

func (s *Store) backendErr(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %v", cachekit.ErrBackend, op, err)
}

// Get returns the payload for key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.backendErr("get", err)
	}
	return payload, true, nil
}

// Set stores payload under key; ttl == 0 stores without expiry.
func (s *Store) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("%w: %s", cachekit.ErrInvalidTTL, ttl)
	}
	if err := s.client.Set(ctx, s.key(key), payload, ttl).Err(); err != nil {
		return s.backendErr("set", err)
	}
	return nil
}

// Delete removes key and reports whether it existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return false, s.backendErr("del", err)
	}
	return n > 0, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, s.backendErr("exists", err)
	}
	return n > 0, nil
}

// GetMany fetches all keys in one MGET round trip.
func (s *Store) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	vals, err := s.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, s.backendErr("mget", err)
	}
	result := make(map[string][]byte, len(keys))
	for i, v := range vals {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok {
			result[keys[i]] = []byte(str)
		}
	}
	return result, nil
}

// SetMany stores all entries in one pipelined round trip; per-key SET
// preserves the shared ttl (MSET cannot carry one).
func (s *Store) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if ttl < 0 {
		return fmt.Errorf("%w: %s", cachekit.ErrInvalidTTL, ttl)
	}
	if len(items) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for key, payload := range items {
		pipe.Set(ctx, s.key(key), payload, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return s.backendErr("pipelined set", err)
	}
	return nil
}

// DeleteMany unlinks keys in bounded chunks and returns the removed count.
func (s *Store) DeleteMany(ctx context.Context, keys []string) (int, error) {
	total := 0
	for start := 0; start < len(keys); start += deleteChunkSize {
		end := min(start+deleteChunkSize, len(keys))
		chunk := make([]string, 0, end-start)
		for _, k := range keys[start:end] {
			chunk = append(chunk, s.key(k))
		}
		n, err := s.client.Del(ctx, chunk...).Result()
		if err != nil {
			return total, s.backendErr("del", err)
		}
		total += int(n)
	}
	return total, nil
}

// Keys enumerates keys matching pattern with SCAN. The engine's wildcard
// subset ('*' and '?') maps directly onto Redis MATCH syntax.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.matchPrefix()+pattern, s.scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, s.backendErr("scan", err)
	}
	return keys, nil
}

// Increment delegates to the server's atomic INCRBY; emulating it with
// get+set would be unsafe under concurrency.
func (s *Store) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := s.client.IncrBy(ctx, s.key(key), delta).Result()
	if err != nil {
		if strings.Contains(err.Error(), "not an integer") {
			return 0, fmt.Errorf("%w: key %q", cachekit.ErrNotInteger, key)
		}
		return 0, s.backendErr("incrby", err)
	}
	return v, nil
}

// TTL reports the remaining lifetime of key via the server's TTL command. A
// zero duration with a true result means the key never expires.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, err := s.client.TTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, false, s.backendErr("ttl", err)
	}
	// go-redis passes the protocol's sentinels through as raw durations:
	// -2 means no such key, -1 means no expiry.
	switch d {
	case -2:
		return 0, false, nil
	case -1:
		return 0, true, nil
	}
	return d, true, nil
}

// Len counts keys in the adapter's namespace.
func (s *Store) Len(ctx context.Context) (int, error) {
	if s.prefix == "" {
		n, err := s.client.DBSize(ctx).Result()
		if err != nil {
			return 0, s.backendErr("dbsize", err)
		}
		return int(n), nil
	}
	n := 0
	iter := s.client.Scan(ctx, 0, s.matchPrefix()+"*", s.scanBatch).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, s.backendErr("scan", err)
	}
	return n, nil
}

// Clear removes every key in the adapter's namespace. It scans rather than
// flushing the database so other tenants of the same Redis are untouched.
func (s *Store) Clear(ctx context.Context) error {
	var batch []string
	iter := s.client.Scan(ctx, 0, s.matchPrefix()+"*", s.scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= deleteChunkSize {
			if err := s.client.Unlink(ctx, batch...).Err(); err != nil {
				return s.backendErr("unlink", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return s.backendErr("scan", err)
	}
	if len(batch) > 0 {
		if err := s.client.Unlink(ctx, batch...).Err(); err != nil {
			return s.backendErr("unlink", err)
		}
	}
	return nil
}

// Healthcheck pings the server.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.Join(ErrHealthcheckFailed, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// TryAcquire implements cachekit.Locker via SET NX with a server-enforced
// ttl.
func (s *Store) TryAcquire(ctx context.Context, resource, token string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("%w: lock ttl must be positive", cachekit.ErrInvalidTTL)
	}
	ok, err := s.client.SetNX(ctx, s.key(resource), token, ttl).Result()
	if err != nil {
		return false, s.backendErr("setnx", err)
	}
	return ok, nil
}

// Release implements cachekit.Locker with the atomic check-and-delete
// script.
func (s *Store) Release(ctx context.Context, resource, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{s.key(resource)}, token).Int()
	if err != nil {
		return false, s.backendErr("release script", err)
	}
	return n == 1, nil
}
