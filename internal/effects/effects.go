package effects

import (
	"math"
	"sync/atomic"
)

// Effector processes stereo audio in-place.
type Effector interface {
	Process(l, r float32) (float32, float32)
	Reset()
}

// Chain applies a sequence of effects in order.
type Chain struct {
	effects []Effector
}

func NewChain(effects ...Effector) *Chain {
	return &Chain{effects: effects}
}

func (c *Chain) Process(l, r float32) (float32, float32) {
	for _, e := range c.effects {
		l, r = e.Process(l, r)
	}
	return l, r
}

// Reset clears the internal history of every effect in the chain. Only the
// audio thread may call it.
func (c *Chain) Reset() {
	for _, e := range c.effects {
		e.Reset()
	}
}

// Settings are the runtime-adjustable master FX parameters. Sizes that
// allocate buffers (maximum delay, room size, chorus depth) are fixed at
// construction.
type Settings struct {
	DelayTime      float64 `json:"delay_time"` // seconds
	DelayFeedback  float64 `json:"delay_feedback"`
	DelayCross     float64 `json:"delay_cross"`
	DelayMix       float64 `json:"delay_mix"`
	ReverbFeedback float64 `json:"reverb_feedback"`
	ReverbMix      float64 `json:"reverb_mix"`
	ChorusRateHz   float64 `json:"chorus_rate_hz"`
	ChorusMix      float64 `json:"chorus_mix"`
	CompThreshold  float64 `json:"comp_threshold_db"`
	CompRatio      float64 `json:"comp_ratio"`
}

func DefaultSettings() Settings {
	return Settings{
		DelayTime:      0.3,
		DelayFeedback:  0.35,
		DelayCross:     0.3,
		DelayMix:       0.2,
		ReverbFeedback: 0.7,
		ReverbMix:      0.15,
		ChorusRateHz:   0.8,
		ChorusMix:      0,
		CompThreshold:  -10,
		CompRatio:      4,
	}
}

// atomicFloat is a float32 stored as bits so the audio thread can read it
// without locking.
type atomicFloat struct {
	bits atomic.Uint32
}

func (a *atomicFloat) Store(v float32) { a.bits.Store(math.Float32bits(v)) }
func (a *atomicFloat) Load() float32   { return math.Float32frombits(a.bits.Load()) }

func clamp(v, lo, hi float32) float32 {
	if v != v {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
