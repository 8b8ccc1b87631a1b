// Package keyvalue abstracts the shared key-value store that backs
// cross-instance mutual exclusion. Conference-scoped mutations take the
// per-conference lock through this interface; the store itself is an
// external collaborator.
package keyvalue

import (
	"context"
	"errors"
)

var (
	ErrLockTimeout = errors.New("keyvalue: lock acquisition timed out")
)

// Lock is a scoped acquisition. Release is safe to call more than once;
// only the first call has effect.
type Lock interface {
	Release()
}

// Store exposes the lock primitive of the shared key-value database.
type Store interface {
	// AcquireLock blocks until the named lock is held or ctx ends.
	AcquireLock(ctx context.Context, key string) (Lock, error)
}

// ConferenceLockKey names the mutual-exclusion key for one conference.
func ConferenceLockKey(conferenceID string) string {
	return "conference:" + conferenceID + ":lock"
}
