// Package lock provides distributed mutual exclusion over any cache backend
// with atomic conditional writes (cachekit.Locker).
//
// Safety: at most one holder token is valid per resource at any instant,
// enforced by the backend's create-if-absent primitive. Liveness: a crashed
// holder's lock becomes reclaimable after at most its ttl.
//
//	coord, err := lock.FromManager(cache)
//	if err != nil {
//		// backend has no lock primitives
//	}
//
//	err = coord.WithLock(ctx, "report:rebuild", 30*time.Second, func(ctx context.Context) error {
//		return rebuildReport(ctx)
//	})
//
// Non-blocking use:
//
//	l, err := coord.TryLock(ctx, "report:rebuild", 30*time.Second)
//	if errors.Is(err, lock.ErrLockBusy) {
//		return nil // someone else is on it
//	}
//	defer l.Release(ctx)
package lock
