package redis_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/cachekit"
	"github.com/dmitrymomot/cachekit/redis"
)

// newStore connects to the server named by REDIS_URL and isolates the test
// under a unique key prefix. Tests are skipped when no server is available.
func newStore(t *testing.T) *redis.Store {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := redis.Connect(ctx, redis.Config{
		ConnectionURL:  url,
		RetryAttempts:  1,
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	s := redis.New(client, redis.WithKeyPrefix("test:"+uuid.NewString()+":"))
	t.Cleanup(func() {
		_ = s.Clear(context.Background())
		_ = s.Close()
	})
	return s
}

func TestConnect(t *testing.T) {
	t.Parallel()

	t.Run("empty url is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := redis.Connect(context.Background(), redis.Config{})
		require.ErrorIs(t, err, redis.ErrEmptyConnectionURL)
	})

	t.Run("malformed url is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := redis.Connect(context.Background(), redis.Config{
			ConnectionURL: "not-a-url",
		})
		require.ErrorIs(t, err, redis.ErrFailedToParseConnString)
	})
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	t.Run("set then get returns the payload", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "greeting", []byte("hello"), time.Minute))

		payload, ok, err := s.Get(ctx, "greeting")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("hello"), payload)
	})

	t.Run("missing key is a miss not an error", func(t *testing.T) {
		_, ok, err := s.Get(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete reports prior existence", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "victim", []byte("x"), 0))

		existed, err := s.Delete(ctx, "victim")
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = s.Delete(ctx, "victim")
		require.NoError(t, err)
		assert.False(t, existed)
	})

	t.Run("server enforces the ttl", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "ephemeral", []byte("v"), 50*time.Millisecond))
		time.Sleep(100 * time.Millisecond)

		ok, err := s.Exists(ctx, "ephemeral")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("remaining lifetime is reported", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "timed", []byte("v"), time.Hour))
		require.NoError(t, s.Set(ctx, "eternal", []byte("v"), 0))

		d, ok, err := s.TTL(ctx, "timed")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Greater(t, d, 59*time.Minute)
		assert.LessOrEqual(t, d, time.Hour)

		d, ok, err = s.TTL(ctx, "eternal")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Zero(t, d)

		_, ok, err = s.TTL(ctx, "never-set")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStorePrefixWithMetacharacters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	client, err := redis.Connect(ctx, redis.Config{
		ConnectionURL:  url,
		RetryAttempts:  1,
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	// A literal '*' in the namespace must not widen SCAN enumeration.
	base := "test:" + uuid.NewString()
	starred := redis.New(client, redis.WithKeyPrefix(base+":*:"))
	plain := redis.New(client, redis.WithKeyPrefix(base+":other:"))
	t.Cleanup(func() {
		_ = starred.Clear(context.Background())
		_ = plain.Clear(context.Background())
		_ = client.Close()
	})

	require.NoError(t, starred.Set(ctx, "mine", []byte("v"), time.Minute))
	require.NoError(t, plain.Set(ctx, "theirs", []byte("v"), time.Minute))

	keys, err := starred.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, keys)

	n, err := starred.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, starred.Clear(ctx))
	ok, err := plain.Exists(ctx, "theirs")
	require.NoError(t, err)
	assert.True(t, ok, "clearing one namespace must not leak into another")
}

func TestStoreBatchOperations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SetMany(ctx, map[string][]byte{
		"user:1": []byte("alice"),
		"user:2": []byte("bob"),
		"user:3": []byte("carol"),
	}, time.Minute))

	t.Run("get many skips missing keys", func(t *testing.T) {
		got, err := s.GetMany(ctx, []string{"user:1", "user:9", "user:3"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Equal(t, []byte("alice"), got["user:1"])
	})

	t.Run("keys honors the prefix namespace", func(t *testing.T) {
		keys, err := s.Keys(ctx, "user:*")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"user:1", "user:2", "user:3"}, keys)
	})

	t.Run("delete many counts existing keys", func(t *testing.T) {
		n, err := s.DeleteMany(ctx, []string{"user:1", "user:9"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestStoreIncrement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	t.Run("creates and accumulates atomically", func(t *testing.T) {
		v, err := s.Increment(ctx, "hits", 2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)

		v, err = s.Increment(ctx, "hits", -5)
		require.NoError(t, err)
		assert.Equal(t, int64(-3), v)
	})

	t.Run("text payload fails with sentinel", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "name", []byte("alice"), 0))
		_, err := s.Increment(ctx, "name", 1)
		require.ErrorIs(t, err, cachekit.ErrNotInteger)
	})
}

func TestStoreClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	for i := 0; i < 20; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute))
	}
	require.NoError(t, s.Clear(ctx))

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "clear must empty the namespace")
}

func TestStoreLocker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	t.Run("second acquire on a held resource fails", func(t *testing.T) {
		ok, err := s.TryAcquire(ctx, "job", "token-1", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.TryAcquire(ctx, "job", "token-2", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("release requires the holder token", func(t *testing.T) {
		ok, err := s.Release(ctx, "job", "wrong")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.Release(ctx, "job", "token-1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired lock is reclaimable", func(t *testing.T) {
		ok, err := s.TryAcquire(ctx, "batch", "crashed", 50*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(100 * time.Millisecond)

		ok, err = s.TryAcquire(ctx, "batch", "successor", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestStoreHealthcheck(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	require.NoError(t, s.Healthcheck(context.Background()))
}
