package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Loop is the single writer for a Pool. Commands from any goroutine are
// queued and run on the loop goroutine between ticks; Do never blocks.
type Loop struct {
	pool     *Pool
	interval time.Duration
	dt       float64

	mu    sync.Mutex
	queue []func(*Pool)
	spare []func(*Pool)
	wake  chan struct{}

	paused atomic.Bool
	ticks  atomic.Uint64
}

// NewLoop takes ownership of p. From here on p must only be touched from
// commands passed to Do.
func NewLoop(p *Pool) *Loop {
	l := &Loop{
		pool:     p,
		interval: time.Duration(float64(time.Second) / p.cfg.ControlRate),
		dt:       1 / p.cfg.ControlRate,
		wake:     make(chan struct{}, 1),
	}
	p.post = l.Do
	return l
}

// Do queues f to run on the loop goroutine.
func (l *Loop) Do(f func(*Pool)) {
	l.mu.Lock()
	l.queue = append(l.queue, f)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pause stops voice updates. Queued commands still run.
func (l *Loop) Pause() { l.paused.Store(true) }

func (l *Loop) Resume() { l.paused.Store(false) }

func (l *Loop) Paused() bool { return l.paused.Load() }

// Ticks counts the ticks that advanced the pool.
func (l *Loop) Ticks() uint64 { return l.ticks.Load() }

// Interval is the time between ticks.
func (l *Loop) Interval() time.Duration { return l.interval }

// Run ticks the pool at the control rate until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.Drain()
			return nil
		case <-l.wake:
			l.Drain()
		case <-ticker.C:
			l.Step()
		}
	}
}

// Step runs queued commands and then one tick. It is Run's loop body; call
// it directly only when Run is not running (tests, offline rendering).
func (l *Loop) Step() {
	l.Drain()
	if l.paused.Load() {
		return
	}
	l.pool.Tick(l.dt)
	l.ticks.Add(1)
}

// Drain runs every queued command, including ones queued by the commands
// themselves.
func (l *Loop) Drain() {
	for {
		l.mu.Lock()
		cmds := l.queue
		l.queue = l.spare[:0]
		l.mu.Unlock()
		if len(cmds) == 0 {
			l.spare = cmds
			return
		}
		for i, f := range cmds {
			f(l.pool)
			cmds[i] = nil
		}
		l.spare = cmds
	}
}
