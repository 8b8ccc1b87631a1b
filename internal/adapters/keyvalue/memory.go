package keyvalue

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. Suitable for single-instance
// deployments and tests; a clustered deployment swaps in a store backed by
// a shared database behind the same interface.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[string]chan struct{})}
}

func (s *MemoryStore) sem(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		s.locks[key] = sem
	}
	return sem
}

func (s *MemoryStore) AcquireLock(ctx context.Context, key string) (Lock, error) {
	sem := s.sem(key)
	select {
	case sem <- struct{}{}:
		return &memoryLock{sem: sem}, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrLockTimeout
		}
		return nil, ctx.Err()
	}
}

type memoryLock struct {
	sem  chan struct{}
	once sync.Once
}

func (l *memoryLock) Release() {
	l.once.Do(func() { <-l.sem })
}
