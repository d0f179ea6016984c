package schedule

import (
	"container/heap"
	"sync"
	"time"
)

// Scheduler runs a callback once after a delay without blocking the caller.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// Real schedules callbacks on runtime timers.
type Real struct{}

func (Real) AfterFunc(d time.Duration, f func()) {
	if d <= 0 {
		go f()
		return
	}
	time.AfterFunc(d, f)
}

// Manual is a virtual clock for tests and offline rendering. Callbacks fire
// synchronously from Advance, in due-time order (ties in scheduling order).
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	seq   uint64
	queue plannedQueue
}

type planned struct {
	at  time.Duration
	seq uint64
	f   func()
}

type plannedQueue []planned

func (q plannedQueue) Len() int { return len(q) }
func (q plannedQueue) Less(i, j int) bool {
	if q[i].at == q[j].at {
		return q[i].seq < q[j].seq
	}
	return q[i].at < q[j].at
}
func (q plannedQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *plannedQueue) Push(x interface{}) { *q = append(*q, x.(planned)) }
func (q *plannedQueue) Pop() interface{} {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) AfterFunc(d time.Duration, f func()) {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	heap.Push(&m.queue, planned{at: m.now + d, seq: m.seq, f: f})
}

// Advance moves the clock forward by d, firing every callback that comes due.
// Callbacks may schedule further callbacks; those fire too if they fall
// inside the window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	end := m.now + d
	m.mu.Unlock()
	for {
		m.mu.Lock()
		if len(m.queue) == 0 || m.queue[0].at > end {
			m.now = end
			m.mu.Unlock()
			return
		}
		next := heap.Pop(&m.queue).(planned)
		m.now = next.at
		m.mu.Unlock()
		next.f()
	}
}

// Now returns the virtual time elapsed since creation.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending reports how many callbacks have not fired yet.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
