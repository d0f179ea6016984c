// Package modulation holds the destination formulas that turn modulation
// source values into final synthesis parameter values. Every function is
// pure: no state, no errors, and out-of-range results are clamped.
//
// Sources come in two flavours. Envelopes, key tracking and touch are
// unipolar (0..1); LFOs are bipolar (-1..1). Contributions are always
// combined additively as source*amount before the destination's scaling
// law is applied, so the order of the contributions never matters.
package modulation

import "math"

const (
	MinFrequency = 8.0
	MaxFrequency = 20000.0

	MinCutoff = 20.0
	MaxCutoff = 20000.0

	// MaxIndex bounds the modulation index and modulator multiplier.
	MaxIndex = 100.0

	// KeyTrackLowHz is the frequency that maps to a key-tracking factor of 0.
	KeyTrackLowHz = 27.5
	// KeyTrackOctaves is the span covered by factors 0..1.
	KeyTrackOctaves = 8.0

	MaxFaderGain = 2.0
)

// Pitch applies semitone offsets logarithmically: base * 2^(sum/12).
func Pitch(base float64, semitones ...float64) float64 {
	return clamp(base*math.Pow(2, sum(semitones)/12), MinFrequency, MaxFrequency)
}

// Amplitude adds linear offsets to base and clamps to 0..1.
func Amplitude(base float64, offsets ...float64) float64 {
	return clamp(base+sum(offsets), 0, 1)
}

// NonNegative adds linear offsets to base and clamps to 0..MaxIndex. Used for
// the modulation index and the modulator multiplier.
func NonNegative(base float64, offsets ...float64) float64 {
	return clamp(base+sum(offsets), 0, MaxIndex)
}

// KeyTrackFactor maps a note frequency onto 0..1 over KeyTrackOctaves
// starting at KeyTrackLowHz.
func KeyTrackFactor(freq float64) float64 {
	if freq <= KeyTrackLowHz {
		return 0
	}
	return clamp(math.Log2(freq/KeyTrackLowHz)/KeyTrackOctaves, 0, 1)
}

// KeyTrackScale is the multiplicative cutoff scale for a key-tracking factor.
// amount 1 makes the cutoff follow the played pitch exactly, 0 disables it.
func KeyTrackScale(factor, amount float64) float64 {
	return math.Pow(2, clamp(factor, 0, 1)*amount*KeyTrackOctaves)
}

// FilterCutoff applies key tracking multiplicatively first, then the octave
// offsets: base * keyTrackScale * 2^(sum).
func FilterCutoff(base, keyFactor, keyAmount float64, octaves ...float64) float64 {
	v := base * KeyTrackScale(keyFactor, keyAmount) * math.Pow(2, sum(octaves))
	return clamp(v, MinCutoff, MaxCutoff)
}

// DelayTime adds linear offsets (seconds) and clamps to the host range.
func DelayTime(base, lo, hi float64, offsets ...float64) float64 {
	return clamp(base+sum(offsets), lo, hi)
}

// FaderStereoGains splits base into opposing left/right gains driven by a
// bipolar LFO value.
func FaderStereoGains(base, lfo, amount float64) (float64, float64) {
	left := clamp(base*(1+lfo*amount), 0, MaxFaderGain)
	right := clamp(base*(1-lfo*amount), 0, MaxFaderGain)
	return left, right
}

// ScaleAmount is the single level of meta-modulation: a source value in 0..1
// scales another route's amount. depth 0 leaves amount untouched, depth 1
// multiplies it by source. The scaler is always a plain source value, never
// the output of another ScaleAmount.
func ScaleAmount(amount, source, depth float64) float64 {
	depth = clamp(depth, 0, 1)
	return amount * (1 - depth + depth*clamp(source, 0, 1))
}

// TouchAmpScale is the amplitude factor latched from the initial touch at
// trigger time.
func TouchAmpScale(touch, sensitivity float64) float64 {
	return ScaleAmount(1, touch, sensitivity)
}

func sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
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

// Clamp is clamp exported for callers that bound inputs before routing.
func Clamp(v, lo, hi float64) float64 {
	return clamp(v, lo, hi)
}
