package lock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/cachekit"
)

// Coordinator builds distributed mutual exclusion on any backend that
// supports atomic conditional writes. A lock is held for at most its ttl:
// a crashed holder never blocks others longer than that.
type Coordinator struct {
	locker       cachekit.Locker
	logger       *slog.Logger
	prefix       string
	pollInterval time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPrefix changes the namespace lock records are stored under.
// Defaults to "lock:".
func WithPrefix(prefix string) Option {
	return func(c *Coordinator) {
		c.prefix = prefix
	}
}

// WithPollInterval sets the default retry interval for blocking
// acquisitions.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithLogger sets the logger for release diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Coordinator over a lock-capable backend.
func New(locker cachekit.Locker, opts ...Option) (*Coordinator, error) {
	if locker == nil {
		return nil, cachekit.ErrLockingUnsupported
	}
	c := &Coordinator{
		locker:       locker,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		prefix:       "lock:",
		pollInterval: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FromManager creates a Coordinator reusing a Manager's backend, failing
// when that backend has no lock primitives.
func FromManager(m *cachekit.Manager, opts ...Option) (*Coordinator, error) {
	locker, ok := m.Locker()
	if !ok {
		return nil, cachekit.ErrLockingUnsupported
	}
	return New(locker, opts...)
}

// Lock is one held acquisition. Its token proves current ownership; tokens
// are unique per acquisition and never reused.
type Lock struct {
	coord    *Coordinator
	resource string
	token    string
	released atomic.Bool
}

// Resource returns the unprefixed resource name.
func (l *Lock) Resource() string { return l.resource }

// Token returns the holder token.
func (l *Lock) Token() string { return l.token }

// Release gives the lock up. The delete is conditional on the token at the
// backend, so releasing after the ttl expired and another caller acquired
// the resource returns ErrNotHeld without touching the new holder.
func (l *Lock) Release(ctx context.Context) error {
	if !l.released.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s already released", ErrNotHeld, l.resource)
	}
	ok, err := l.coord.locker.Release(ctx, l.coord.prefix+l.resource, l.token)
	if err != nil {
		// Outcome unknown; allow a retry.
		l.released.Store(false)
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotHeld, l.resource)
	}
	return nil
}

// acquireOptions carry per-call acquisition tuning.
type acquireOptions struct {
	pollInterval time.Duration
	waitTimeout  time.Duration
}

// AcquireOption tunes one blocking acquisition.
type AcquireOption func(*acquireOptions)

// WithWaitTimeout bounds how long Acquire waits before failing with
// ErrLockTimeout. Zero waits until the context is done.
func WithWaitTimeout(d time.Duration) AcquireOption {
	return func(o *acquireOptions) {
		o.waitTimeout = d
	}
}

// WithRetryEvery overrides the coordinator's poll interval for one call.
func WithRetryEvery(d time.Duration) AcquireOption {
	return func(o *acquireOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// TryLock attempts a single non-blocking acquisition and fails immediately
// with ErrLockBusy when the resource is held.
func (c *Coordinator) TryLock(ctx context.Context, resource string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	ok, err := c.locker.TryAcquire(ctx, c.prefix+resource, token, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockBusy, resource)
	}
	return &Lock{coord: c, resource: resource, token: token}, nil
}

// Acquire blocks until the resource is free, polling on the configured
// interval. It fails with ErrLockTimeout when the wait timeout or the
// context expires. Each attempt is a single atomic create-if-absent at the
// backend, so an abandoned call leaves no partial lock state.
func (c *Coordinator) Acquire(ctx context.Context, resource string, ttl time.Duration, opts ...AcquireOption) (*Lock, error) {
	ao := acquireOptions{pollInterval: c.pollInterval}
	for _, opt := range opts {
		opt(&ao)
	}

	var giveUp <-chan time.Time
	if ao.waitTimeout > 0 {
		timer := time.NewTimer(ao.waitTimeout)
		defer timer.Stop()
		giveUp = timer.C
	}

	token := uuid.NewString()
	name := c.prefix + resource
	ticker := time.NewTicker(ao.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := c.locker.TryAcquire(ctx, name, token, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lock{coord: c, resource: resource, token: token}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, resource, ctx.Err())
		case <-giveUp:
			return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, resource, ao.waitTimeout)
		case <-ticker.C:
		}
	}
}

// WithLock runs fn while holding the resource and guarantees the release on
// every exit path, including fn errors and panics. The release uses a
// detached context so a cancelled caller still cleans up.
func (c *Coordinator) WithLock(ctx context.Context, resource string, ttl time.Duration, fn func(ctx context.Context) error, opts ...AcquireOption) error {
	l, err := c.Acquire(ctx, resource, ttl, opts...)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.Release(releaseCtx); err != nil && !errors.Is(err, ErrNotHeld) {
			c.logger.Warn("lock release failed",
				slog.String("resource", resource),
				slog.String("error", err.Error()))
		}
	}()
	return fn(ctx)
}
