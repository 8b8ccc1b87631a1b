package keyvalue

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_mutualExclusion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	l1, err := store.AcquireLock(ctx, ConferenceLockKey("c1"))
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// Second acquire on the same key must block until release.
	shortCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := store.AcquireLock(shortCtx, ConferenceLockKey("c1")); err != ErrLockTimeout {
		t.Fatalf("expected ErrLockTimeout while held, got %v", err)
	}

	// A different key is independent.
	l2, err := store.AcquireLock(ctx, ConferenceLockKey("c2"))
	if err != nil {
		t.Fatalf("acquire other key: %v", err)
	}
	l2.Release()

	l1.Release()
	l3, err := store.AcquireLock(ctx, ConferenceLockKey("c1"))
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	l3.Release()
}

func TestMemoryStore_releaseIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	l, err := store.AcquireLock(ctx, "k")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	l.Release()
	l.Release() // second release must not free the lock for someone else twice

	l2, err := store.AcquireLock(ctx, "k")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	shortCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	if _, err := store.AcquireLock(shortCtx, "k"); err != ErrLockTimeout {
		t.Fatalf("lock should still be held after double release, got %v", err)
	}
	l2.Release()
}

func TestMemoryStore_cancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	held, err := store.AcquireLock(context.Background(), "k")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.Release()

	if _, err := store.AcquireLock(ctx, "k"); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
