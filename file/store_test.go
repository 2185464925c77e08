package file_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/cachekit"
	"github.com/dmitrymomot/cachekit/file"
)

func newStore(t *testing.T, opts ...file.Option) *file.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	base := []file.Option{file.WithSweepInterval(0)}
	s, err := file.New(path, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	t.Run("set then get returns the payload", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "greeting", []byte("hello"), time.Hour))

		payload, ok, err := s.Get(ctx, "greeting")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("hello"), payload)
	})

	t.Run("miss stays off the disk via the index", func(t *testing.T) {
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
}

func TestStoreDurability(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := file.New(path, file.WithSweepInterval(0))
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "persistent", []byte("survives"), time.Hour))
	require.NoError(t, s.Set(ctx, "short-lived", []byte("gone"), 10*time.Millisecond))
	require.NoError(t, s.Close())

	time.Sleep(30 * time.Millisecond)

	t.Run("entries survive a reopen", func(t *testing.T) {
		reopened, err := file.New(path, file.WithSweepInterval(0))
		require.NoError(t, err)
		defer reopened.Close()

		payload, ok, err := reopened.Get(ctx, "persistent")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("survives"), payload)
	})

	t.Run("rows expired while closed are not resurrected", func(t *testing.T) {
		reopened, err := file.New(path, file.WithSweepInterval(0))
		require.NoError(t, err)
		defer reopened.Close()

		ok, err := reopened.Exists(ctx, "short-lived")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStoreTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	t.Run("expired entry reads as a miss", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "ephemeral", []byte("v"), 10*time.Millisecond))
		time.Sleep(30 * time.Millisecond)

		_, ok, err := s.Get(ctx, "ephemeral")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "eternal", []byte("v"), 0))

		ok, err := s.Exists(ctx, "eternal")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("negative ttl is rejected", func(t *testing.T) {
		err := s.Set(ctx, "bad", []byte("v"), -time.Second)
		require.ErrorIs(t, err, cachekit.ErrInvalidTTL)
	})

	t.Run("len counts only unexpired rows", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "live", []byte("v"), time.Hour))
		require.NoError(t, s.Set(ctx, "dying", []byte("v"), 10*time.Millisecond))
		time.Sleep(30 * time.Millisecond)

		n, err := s.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestStoreCapacityEviction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t, file.WithCapacity(3))

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 0))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Set(ctx, "b", []byte("2"), 0))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.Set(ctx, "c", []byte("3"), 0))
	time.Sleep(2 * time.Millisecond)

	// Refresh "a" so "b" holds the oldest last_accessed_at.
	_, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, s.Set(ctx, "d", []byte("4"), 0))

	ok, err = s.Exists(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok, "least recently accessed row should have been evicted")

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(1), s.EvictionCount())
}

func TestStoreBatchOperations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.SetMany(ctx, map[string][]byte{
		"user:1": []byte("alice"),
		"user:2": []byte("bob"),
		"user:3": []byte("carol"),
	}, time.Hour))

	t.Run("get many skips missing keys", func(t *testing.T) {
		got, err := s.GetMany(ctx, []string{"user:1", "user:9", "user:3"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Equal(t, []byte("alice"), got["user:1"])
	})

	t.Run("keys filters by pattern", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "order:1", []byte("x"), 0))

		keys, err := s.Keys(ctx, "user:*")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"user:1", "user:2", "user:3"}, keys)
	})

	t.Run("delete many counts existing rows", func(t *testing.T) {
		n, err := s.DeleteMany(ctx, []string{"user:1", "user:9"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestStoreIncrement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	t.Run("creates and accumulates", func(t *testing.T) {
		v, err := s.Increment(ctx, "hits", 2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)

		v, err = s.Increment(ctx, "hits", 3)
		require.NoError(t, err)
		assert.Equal(t, int64(5), v)
	})

	t.Run("expired counter restarts from delta", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "stale", []byte("99"), 10*time.Millisecond))
		time.Sleep(30 * time.Millisecond)

		v, err := s.Increment(ctx, "stale", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
	})

	t.Run("text payload fails with sentinel", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "name", []byte("alice"), 0))
		_, err := s.Increment(ctx, "name", 1)
		require.ErrorIs(t, err, cachekit.ErrNotInteger)
	})
}

func TestStoreHotReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	writer, err := file.New(path, file.WithSweepInterval(0))
	require.NoError(t, err)
	defer writer.Close()

	reader, err := file.New(path, file.WithSweepInterval(0))
	require.NoError(t, err)
	defer reader.Close()

	// Written by another handle after the reader built its index.
	require.NoError(t, writer.Set(ctx, "external", []byte("payload"), time.Hour))

	assert.Eventually(t, func() bool {
		payload, ok, err := reader.Get(ctx, "external")
		return err == nil && ok && string(payload) == "payload"
	}, 2*time.Second, 20*time.Millisecond, "reader should pick up external writes")
}

func TestStoreTTLIntrospection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

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

	_, ok, err = s.TTL(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreDegradedMode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := file.New(path, file.WithSweepInterval(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))

	// The backing file vanishes out from under a live store.
	require.NoError(t, os.Remove(path))
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")

	require.Eventually(t, func() bool {
		return errors.Is(s.Set(ctx, "k", []byte("v"), 0), cachekit.ErrBackend)
	}, 2*time.Second, 20*time.Millisecond, "foreground calls must fail once the file is gone")

	assert.True(t, s.Stats().Degraded)
	_, _, err = s.Get(ctx, "k")
	require.ErrorIs(t, err, cachekit.ErrBackend)
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
		ok, err := s.TryAcquire(ctx, "batch", "crashed", 10*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(30 * time.Millisecond)

		ok, err = s.TryAcquire(ctx, "batch", "successor", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestStoreClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0))
	}
	require.NoError(t, s.Clear(ctx))

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	keys, err := s.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStoreClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := file.New(path, file.WithSweepInterval(0))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close must be idempotent")

	err = s.Set(ctx, "k", []byte("v"), 0)
	require.ErrorIs(t, err, cachekit.ErrStoreClosed)
	require.ErrorIs(t, s.Healthcheck(ctx), cachekit.ErrStoreClosed)
}
