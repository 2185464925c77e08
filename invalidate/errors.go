package invalidate

import "errors"

var (
	// ErrCancelled means a scheduled or conditional invalidation was
	// cancelled before it fired.
	ErrCancelled = errors.New("invalidate: cancelled")
	// ErrClosed means the invalidator was closed and accepts no new work.
	ErrClosed = errors.New("invalidate: closed")
)
