package modulation

// DetuneMode selects how a frequency is split into the left/right oscillators.
type DetuneMode int

const (
	// DetuneProportional multiplies/divides by a ratio: constant cents, beat
	// rate grows with pitch.
	DetuneProportional DetuneMode = iota
	// DetuneConstant adds/subtracts Hz: constant beat rate across the
	// keyboard, wider relative detuning at low pitch.
	DetuneConstant
)

const (
	MaxDetuneRatio = 1.05
	MaxDetuneHz    = 20.0
)

func (m DetuneMode) String() string {
	switch m {
	case DetuneConstant:
		return "constant"
	default:
		return "proportional"
	}
}

// Detune returns the left and right oscillator frequencies for f.
func Detune(mode DetuneMode, param, f float64) (float64, float64) {
	switch mode {
	case DetuneConstant:
		hz := clamp(param, 0, MaxDetuneHz)
		return clamp(f+hz, MinFrequency, MaxFrequency), clamp(f-hz, MinFrequency, MaxFrequency)
	default:
		ratio := clamp(param, 1, MaxDetuneRatio)
		return clamp(f*ratio, MinFrequency, MaxFrequency), clamp(f/ratio, MinFrequency, MaxFrequency)
	}
}
