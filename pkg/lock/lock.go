// Package lock serializes work on a single key, either across processes
// through redis or inside one process.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when the context ends before the lock is granted.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker grants exclusive access to a key until the returned unlock is called.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
