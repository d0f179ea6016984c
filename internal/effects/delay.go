package effects

import (
	"time"

	"github.com/cbegin/touchfm-go/internal/param"
)

// MinDelaySeconds is the shortest delay time the line will read at.
const MinDelaySeconds = 0.001

// Delay is a stereo delay with feedback, cross-channel mixing and a delay
// time that can be ramped while running. The read head interpolates between
// samples so time changes glide instead of clicking.
type Delay struct {
	sampleRate float64
	maxSec     float64
	bufL, bufR []float32
	pos        int
	time       *param.Ramp
	feedback   atomicFloat
	cross      atomicFloat
	wet        atomicFloat
}

// NewDelay creates a delay effect.
// maxSec: longest delay time the buffer holds
// timeSec: initial delay time in seconds
// feedback: feedback amount 0..0.95
// cross: cross-channel feedback 0..1
// wet: wet/dry mix 0..1
func NewDelay(sampleRate int, maxSec, timeSec float64, feedback, cross, wet float32) *Delay {
	if maxSec < MinDelaySeconds {
		maxSec = MinDelaySeconds
	}
	size := int(maxSec*float64(sampleRate)) + 2
	d := &Delay{
		sampleRate: float64(sampleRate),
		maxSec:     maxSec,
		bufL:       make([]float32, size),
		bufR:       make([]float32, size),
		time:       param.NewRamp(clampTime(timeSec, maxSec)),
	}
	d.SetFeedback(feedback)
	d.SetCross(cross)
	d.SetMix(wet)
	return d
}

// Range returns the delay times the line accepts.
func (d *Delay) Range() (lo, hi float64) { return MinDelaySeconds, d.maxSec }

// SetTime ramps the delay time to sec over ramp.
func (d *Delay) SetTime(sec float64, ramp time.Duration) {
	d.time.Set(clampTime(sec, d.maxSec), ramp, d.sampleRate)
}

// Time returns the requested delay time.
func (d *Delay) Time() float64 { return d.time.Target() }

func (d *Delay) SetFeedback(v float32) { d.feedback.Store(clamp(v, 0, 0.95)) }
func (d *Delay) SetCross(v float32)    { d.cross.Store(clamp(v, 0, 1)) }
func (d *Delay) SetMix(v float32)      { d.wet.Store(clamp(v, 0, 1)) }

func (d *Delay) Process(l, r float32) (float32, float32) {
	size := len(d.bufL)
	delay := d.time.Next() * d.sampleRate
	if delay < 1 {
		delay = 1
	}
	if limit := float64(size - 2); delay > limit {
		delay = limit
	}
	readPos := float64(d.pos) - delay
	for readPos < 0 {
		readPos += float64(size)
	}
	idx := int(readPos)
	frac := float32(readPos - float64(idx))
	idx2 := idx + 1
	if idx2 >= size {
		idx2 = 0
	}
	delL := d.bufL[idx]*(1-frac) + d.bufL[idx2]*frac
	delR := d.bufR[idx]*(1-frac) + d.bufR[idx2]*frac

	fb, cross, wet := d.feedback.Load(), d.cross.Load(), d.wet.Load()
	d.bufL[d.pos] = l + delL*fb*(1-cross) + delR*fb*cross
	d.bufR[d.pos] = r + delR*fb*(1-cross) + delL*fb*cross
	d.pos++
	if d.pos >= size {
		d.pos = 0
	}
	return l*(1-wet) + delL*wet, r*(1-wet) + delR*wet
}

func (d *Delay) Reset() {
	for i := range d.bufL {
		d.bufL[i] = 0
		d.bufR[i] = 0
	}
	d.pos = 0
}

func clampTime(sec, limit float64) float64 {
	if sec != sec || sec < MinDelaySeconds {
		return MinDelaySeconds
	}
	if sec > limit {
		return limit
	}
	return sec
}
