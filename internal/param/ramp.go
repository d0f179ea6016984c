// Package param provides lock-free, ramped parameter cells shared between a
// control writer and the audio thread.
package param

import (
	"math"
	"sync/atomic"
	"time"
)

// Ramp is one float parameter. Set may be called from any goroutine; Next
// must only be called from the audio thread. A new Set starts a linear ramp
// from wherever the audio thread currently is, so writes never step.
type Ramp struct {
	target atomic.Uint64 // float64 bits
	frames atomic.Int64
	seq    atomic.Uint64

	// audio-thread side
	seen  uint64
	value float64
	goal  float64
	step  float64
	left  int64
}

// NewRamp returns a cell already sitting at v.
func NewRamp(v float64) *Ramp {
	r := &Ramp{}
	r.Init(v)
	return r
}

// Init places the cell at v without a ramp. Call before the audio thread
// starts reading.
func (r *Ramp) Init(v float64) {
	r.target.Store(math.Float64bits(v))
	r.frames.Store(0)
	r.seen = r.seq.Load()
	r.value = v
	r.goal = v
	r.left = 0
}

// Set asks the audio thread to reach v over d at sampleRate.
func (r *Ramp) Set(v float64, d time.Duration, sampleRate float64) {
	n := int64(0)
	if d > 0 && sampleRate > 0 {
		n = int64(d.Seconds() * sampleRate)
	}
	r.target.Store(math.Float64bits(v))
	r.frames.Store(n)
	r.seq.Add(1)
}

// Target returns the most recently requested value.
func (r *Ramp) Target() float64 {
	return math.Float64frombits(r.target.Load())
}

// Next advances one frame and returns the current value.
func (r *Ramp) Next() float64 {
	if s := r.seq.Load(); s != r.seen {
		r.seen = s
		r.goal = math.Float64frombits(r.target.Load())
		n := r.frames.Load()
		if n <= 0 {
			r.value = r.goal
			r.left = 0
		} else {
			r.step = (r.goal - r.value) / float64(n)
			r.left = n
		}
	}
	if r.left > 0 {
		r.left--
		if r.left == 0 {
			r.value = r.goal
		} else {
			r.value += r.step
		}
	}
	return r.value
}

// Value returns the last value produced by Next.
func (r *Ramp) Value() float64 {
	return r.value
}

// Settled reports whether the audio side has reached the last target it saw.
func (r *Ramp) Settled() bool {
	return r.left == 0 && r.seq.Load() == r.seen
}
