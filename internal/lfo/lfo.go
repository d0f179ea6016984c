package lfo

import (
	"fmt"
	"math"
)

// Waveform selects the LFO shape. All shapes are bipolar in [-1, 1].
type Waveform int

const (
	WaveSine Waveform = iota
	WaveTriangle
	WaveSquare
	WaveSaw
	WaveRandom
)

const MaxRateHz = 50.0

var waveformNames = [...]string{"sine", "triangle", "square", "saw", "random"}

func (w Waveform) String() string {
	if w < 0 || int(w) >= len(waveformNames) {
		return fmt.Sprintf("Waveform(%d)", int(w))
	}
	return waveformNames[w]
}

// ParseWaveform accepts the names returned by String.
func ParseWaveform(s string) (Waveform, error) {
	for i, name := range waveformNames {
		if s == name {
			return Waveform(i), nil
		}
	}
	return WaveSine, fmt.Errorf("unknown lfo waveform %q", s)
}

func (w Waveform) MarshalText() ([]byte, error) {
	if w < 0 || int(w) >= len(waveformNames) {
		return nil, fmt.Errorf("unknown lfo waveform %d", int(w))
	}
	return []byte(waveformNames[w]), nil
}

func (w *Waveform) UnmarshalText(b []byte) error {
	v, err := ParseWaveform(string(b))
	if err != nil {
		return err
	}
	*w = v
	return nil
}

// Value evaluates waveform at phase in [0, 1). hold is the sample-and-hold
// value used by WaveRandom.
func Value(wf Waveform, phase, hold float64) float64 {
	switch wf {
	case WaveTriangle:
		if phase < 0.5 {
			return 4.0*phase - 1.0
		}
		return 3.0 - 4.0*phase
	case WaveSquare:
		if phase < 0.5 {
			return 1.0
		}
		return -1.0
	case WaveSaw:
		return 1.0 - 2.0*phase
	case WaveRandom:
		return hold
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}

// Step returns the value at phase, then the phase and hold advanced by dt
// seconds at rateHz. The held random value changes on each cycle boundary.
func Step(wf Waveform, rateHz, dt, phase, hold float64) (value, nextPhase, nextHold float64) {
	value = Value(wf, phase, hold)
	if rateHz <= 0 || dt <= 0 {
		return value, phase, hold
	}
	if rateHz > MaxRateHz {
		rateHz = MaxRateHz
	}
	nextPhase = phase + rateHz*dt
	nextHold = hold
	wrapped := false
	for nextPhase >= 1.0 {
		nextPhase -= 1.0
		wrapped = true
	}
	if wf == WaveRandom && wrapped {
		// Sine-hash noise: deterministic, no shared RNG state on the control path.
		r := math.Sin(nextPhase*12345.6789+hold*67890.1234) * 2.0
		r -= math.Floor(r)
		nextHold = r*2.0 - 1.0
	}
	return value, nextPhase, nextHold
}

// LFO is a control-rate oscillator. The engine keeps one as the global LFO
// shared by every voice; per-voice LFOs store their phase in the voice's
// modulation state and call Step directly.
type LFO struct {
	rateHz   float64
	waveform Waveform
	phase    float64 // [0, 1)
	hold     float64
	value    float64
}

// Set configures rate and shape. Unknown shapes fall back to sine.
func (l *LFO) Set(rateHz float64, waveform Waveform) {
	if rateHz < 0 {
		rateHz = 0
	}
	if waveform < WaveSine || waveform > WaveRandom {
		waveform = WaveSine
	}
	l.rateHz = rateHz
	l.waveform = waveform
}

// Advance returns the value at the current phase and moves the phase on by
// dt seconds.
func (l *LFO) Advance(dt float64) float64 {
	l.value, l.phase, l.hold = Step(l.waveform, l.rateHz, dt, l.phase, l.hold)
	return l.value
}

// Phase returns the current phase in [0, 1).
func (l *LFO) Phase() float64 { return l.phase }

// Current returns the value produced by the last Advance.
func (l *LFO) Current() float64 { return l.value }

// Active returns true if the LFO is moving.
func (l *LFO) Active() bool {
	return l.rateHz != 0
}

// Reset zeros the LFO phase.
func (l *LFO) Reset() {
	l.phase = 0
	l.hold = 0
	l.value = 0
}
