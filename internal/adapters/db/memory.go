package db

import (
	"context"
	"sync"
)

// MemoryRepository is the in-memory ConferenceRepository used in tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	confs map[string]*Conference
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{confs: make(map[string]*Conference)}
}

func (r *MemoryRepository) CreateConference(_ context.Context, conf *Conference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *conf
	r.confs[conf.ID] = &clone
	return nil
}

func (r *MemoryRepository) FindConferenceByID(_ context.Context, id string) (*Conference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conf, ok := r.confs[id]
	if !ok {
		return nil, ErrConferenceNotFound
	}
	clone := *conf
	return &clone, nil
}

func (r *MemoryRepository) SetConferenceOpen(_ context.Context, id string, open bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conf, ok := r.confs[id]
	if !ok {
		return ErrConferenceNotFound
	}
	conf.Open = open
	return nil
}

func (r *MemoryRepository) IsConferenceOpen(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conf, ok := r.confs[id]
	if !ok {
		return false, ErrConferenceNotFound
	}
	return conf.Open, nil
}
