// Package transition switches presets without audible artifacts: fade out,
// hard-reset every voice, clear time-based effects, apply, fade back in.
package transition

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cbegin/touchfm-go/internal/pool"
	"github.com/cbegin/touchfm-go/internal/preset"
	"github.com/cbegin/touchfm-go/internal/schedule"
)

type State int

const (
	Idle State = iota
	FadingOut
	Silencing
	ClearingFX
	Applying
	FadingIn
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FadingOut:
		return "fading-out"
	case Silencing:
		return "silencing"
	case ClearingFX:
		return "clearing-fx"
	case Applying:
		return "applying"
	case FadingIn:
		return "fading-in"
	default:
		return "unknown"
	}
}

// Output is the master stage of the rendering backend.
type Output interface {
	SetMasterGain(gain float64, ramp time.Duration)
	MasterGain() float64
	ResetEffects()
}

// Control is the single writer that owns the voice pool. *pool.Loop
// implements it.
type Control interface {
	Pause()
	Resume()
	Do(f func(*pool.Pool))
}

type Config struct {
	FadeTime time.Duration
	// SettleTime separates the effect clear from the parameter apply so the
	// audio thread consumes the resets while the output is still muted.
	SettleTime time.Duration
	Scheduler  schedule.Scheduler
	Logger     *slog.Logger
	// OnApplied is called after a transition has faded back in.
	OnApplied func(preset.Bundle)
}

func DefaultConfig() Config {
	return Config{
		FadeTime:   100 * time.Millisecond,
		SettleTime: 10 * time.Millisecond,
	}
}

type request struct {
	bundle preset.Bundle
	done   []func()
}

// Coordinator runs one preset transition at a time. Loads arriving while a
// transition runs are coalesced: the latest bundle is applied once the
// current transition finishes, and every caller's callback fires then.
type Coordinator struct {
	cfg   Config
	ctl   Control
	out   Output
	sched schedule.Scheduler
	log   *slog.Logger

	mu       sync.Mutex
	state    State
	current  *request
	pending  *request
	restore  float64
	runs     uint64
	coalesce uint64
}

func New(cfg Config, ctl Control, out Output) *Coordinator {
	if cfg.FadeTime < 0 {
		cfg.FadeTime = 0
	}
	if cfg.SettleTime < 0 {
		cfg.SettleTime = 0
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		cfg:   cfg,
		ctl:   ctl,
		out:   out,
		sched: cfg.Scheduler,
		log:   cfg.Logger,
	}
}

// Load starts a transition to b. done, if not nil, is called once b (or a
// later bundle that superseded it) is audible. Load never blocks.
func (c *Coordinator) Load(b preset.Bundle, done func()) {
	c.mu.Lock()
	if c.state != Idle {
		if c.pending == nil {
			c.pending = &request{}
		}
		c.pending.bundle = b
		if done != nil {
			c.pending.done = append(c.pending.done, done)
		}
		c.coalesce++
		state := c.state
		c.mu.Unlock()
		c.log.Debug("preset load coalesced", "preset", b.Name, "state", state)
		return
	}
	req := &request{bundle: b}
	if done != nil {
		req.done = append(req.done, done)
	}
	c.startLocked(req)
	c.mu.Unlock()
	c.fadeOut()
}

func (c *Coordinator) startLocked(req *request) {
	c.current = req
	c.state = FadingOut
	c.restore = c.out.MasterGain()
	c.runs++
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	name := ""
	if c.current != nil {
		name = c.current.bundle.Name
	}
	c.mu.Unlock()
	c.log.Debug("preset transition", "state", s, "preset", name)
}

func (c *Coordinator) fadeOut() {
	c.log.Debug("preset transition", "state", FadingOut)
	c.out.SetMasterGain(0, c.cfg.FadeTime)
	c.sched.AfterFunc(c.cfg.FadeTime, c.silence)
}

func (c *Coordinator) silence() {
	c.setState(Silencing)
	c.ctl.Pause()
	c.ctl.Do(func(p *pool.Pool) {
		p.SilenceAndResetAllVoices()
		c.clearEffects()
	})
}

func (c *Coordinator) clearEffects() {
	c.setState(ClearingFX)
	c.out.ResetEffects()
	c.sched.AfterFunc(c.cfg.SettleTime, c.apply)
}

func (c *Coordinator) apply() {
	c.setState(Applying)
	c.mu.Lock()
	b := c.current.bundle
	c.mu.Unlock()
	c.ctl.Do(func(p *pool.Pool) {
		p.ApplyVoiceParameters(b)
		p.ApplyMasterParameters(b)
		c.ctl.Resume()
		c.fadeIn()
	})
}

func (c *Coordinator) fadeIn() {
	c.mu.Lock()
	c.state = FadingIn
	c.out.SetMasterGain(c.restore, c.cfg.FadeTime)
	c.mu.Unlock()
	c.log.Debug("preset transition", "state", FadingIn)
	c.sched.AfterFunc(c.cfg.FadeTime, c.finish)
}

func (c *Coordinator) finish() {
	c.mu.Lock()
	req := c.current
	c.current = nil
	c.state = Idle
	next := c.pending
	c.pending = nil
	if next != nil {
		c.startLocked(next)
	}
	c.mu.Unlock()

	c.log.Info("preset applied", "preset", req.bundle.Name)
	for _, f := range req.done {
		f()
	}
	if c.cfg.OnApplied != nil {
		c.cfg.OnApplied(req.bundle)
	}
	if next != nil {
		c.fadeOut()
	}
}

// SetGain changes the output gain. While a transition runs it only moves
// the gain the transition fades back in to.
func (c *Coordinator) SetGain(gain float64, ramp time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Idle:
		c.out.SetMasterGain(gain, ramp)
	case FadingIn:
		c.restore = gain
		c.out.SetMasterGain(gain, c.cfg.FadeTime)
	default:
		c.restore = gain
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a transition is running or queued.
func (c *Coordinator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != Idle || c.pending != nil
}

// Stats returns how many transitions have started and how many loads were
// folded into a pending one.
func (c *Coordinator) Stats() (runs, coalesced uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs, c.coalesce
}
