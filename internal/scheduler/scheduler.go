// Package scheduler provides deadline-driven callbacks with cancellable
// handles. The breakout-room close timer is its only in-tree consumer.
package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Handle cancels a scheduled callback. Cancelling a handle that already
// fired, or is concurrently firing, is a no-op.
type Handle interface {
	Cancel()
}

// Scheduler runs fn once at the given wall-clock time.
type Scheduler interface {
	ScheduleAt(t time.Time, fn func()) Handle
}

type timerHandle struct {
	timer *time.Timer
}

func (h *timerHandle) Cancel() {
	h.timer.Stop()
}

// Timers is the production Scheduler backed by time.AfterFunc.
type Timers struct{}

func NewTimers() *Timers { return &Timers{} }

func (*Timers) ScheduleAt(t time.Time, fn func()) Handle {
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	return &timerHandle{timer: time.AfterFunc(d, fn)}
}

// Manual is a test Scheduler fired by hand with Fire/FireAll.
type Manual struct {
	mu      sync.Mutex
	nextID  int
	pending map[int]*manualEntry
}

type manualEntry struct {
	at time.Time
	fn func()
}

func NewManual() *Manual {
	return &Manual{pending: make(map[int]*manualEntry)}
}

func (m *Manual) ScheduleAt(t time.Time, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.pending[id] = &manualEntry{at: t, fn: fn}
	return &manualHandle{s: m, id: id}
}

// Pending reports how many callbacks are scheduled and not yet fired.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// FireAll runs every pending callback synchronously, earliest first.
func (m *Manual) FireAll() {
	m.mu.Lock()
	entries := make([]*manualEntry, 0, len(m.pending))
	for _, e := range m.pending {
		entries = append(entries, e)
	}
	m.pending = make(map[int]*manualEntry)
	m.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	for _, e := range entries {
		e.fn()
	}
}

type manualHandle struct {
	s  *Manual
	id int
}

func (h *manualHandle) Cancel() {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	delete(h.s.pending, h.id)
}
