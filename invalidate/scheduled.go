package invalidate

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pending is a deferred invalidation: either a one-shot timer or a
// condition poller. It resolves exactly once, to a removed count, an error,
// or ErrCancelled.
type Pending struct {
	cancel context.CancelFunc
	done   chan struct{}

	once  sync.Once
	count int
	err   error
}

func newPending() (*Pending, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pending{cancel: cancel, done: make(chan struct{})}, ctx
}

func (p *Pending) resolve(count int, err error) {
	p.once.Do(func() {
		p.count = count
		p.err = err
		close(p.done)
	})
}

// Cancel stops the pending invalidation if it has not fired yet. Once the
// timer or condition has fired, the pass runs to completion and Wait
// reports its real outcome; a late Cancel changes nothing.
func (p *Pending) Cancel() {
	p.cancel()
}

// Done is closed when the invalidation has resolved.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the invalidation resolves or ctx is done, returning the
// removed count.
func (p *Pending) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.count, p.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ScheduleInvalidation removes keys after delay. The returned handle can be
// cancelled before it fires or waited on for the removed count.
func (inv *Invalidator) ScheduleInvalidation(keys []string, delay time.Duration) (*Pending, error) {
	p, ctx := newPending()
	if err := inv.track(p); err != nil {
		return nil, err
	}

	go func() {
		defer inv.untrack(p)

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			p.resolve(0, ErrCancelled)
			return
		case <-timer.C:
		}

		// The pass is committed once the timer fires; a concurrent Cancel
		// must not abort a half-done delete or misreport its count.
		n, err := inv.InvalidateKeys(context.WithoutCancel(ctx), keys...)
		p.resolve(n, err)
	}()
	return p, nil
}

// ConditionalInvalidation polls cond every interval and removes keys the
// first time it reports true. cond errors stop the poller and resolve the
// handle with that error.
func (inv *Invalidator) ConditionalInvalidation(cond func(ctx context.Context) (bool, error), keys []string, interval time.Duration) (*Pending, error) {
	p, ctx := newPending()
	if err := inv.track(p); err != nil {
		return nil, err
	}

	go func() {
		defer inv.untrack(p)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.resolve(0, ErrCancelled)
				return
			case <-ticker.C:
			}

			fire, err := cond(ctx)
			if err != nil {
				if ctx.Err() != nil {
					p.resolve(0, ErrCancelled)
					return
				}
				inv.logger.Warn("invalidation condition failed",
					slog.String("error", err.Error()))
				p.resolve(0, err)
				return
			}
			if fire {
				n, err := inv.InvalidateKeys(context.WithoutCancel(ctx), keys...)
				p.resolve(n, err)
				return
			}
		}
	}()
	return p, nil
}
