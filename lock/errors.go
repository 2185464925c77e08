package lock

import "errors"

// Expected, recoverable lock conditions. None of these indicate a backend
// fault; check with errors.Is.
var (
	// ErrLockBusy means another holder owns the resource right now.
	ErrLockBusy = errors.New("lock: resource is busy")
	// ErrLockTimeout means a blocking acquisition gave up waiting.
	ErrLockTimeout = errors.New("lock: acquisition timed out")
	// ErrNotHeld means a release found no matching holder token, typically
	// because the lock's ttl expired and someone else acquired it.
	ErrNotHeld = errors.New("lock: not held")
)
