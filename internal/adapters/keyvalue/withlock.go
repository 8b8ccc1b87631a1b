package keyvalue

import (
	"context"
	"time"
)

// WithLock acquires the named lock with a bounded wait, runs fn, and
// guarantees release on every exit path including panics.
func WithLock(ctx context.Context, s Store, key string, timeout time.Duration, fn func(ctx context.Context) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lock, err := s.AcquireLock(lockCtx, key)
	if err != nil {
		return err
	}
	defer lock.Release()

	return fn(ctx)
}
