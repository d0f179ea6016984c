package voice

// Phase is the stage an envelope is in.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAttack
	PhaseDecay
	PhaseSustain
	PhaseRelease
)

func (p Phase) String() string {
	switch p {
	case PhaseAttack:
		return "attack"
	case PhaseDecay:
		return "decay"
	case PhaseSustain:
		return "sustain"
	case PhaseRelease:
		return "release"
	default:
		return "idle"
	}
}

// MinEnvelopeTime is the floor for every envelope segment, in seconds.
const MinEnvelopeTime = 0.001

// EnvelopeParams are segment times in seconds and the sustain level (0..1).
type EnvelopeParams struct {
	Attack  float64 `json:"attack"`
	Decay   float64 `json:"decay"`
	Sustain float64 `json:"sustain"`
	Release float64 `json:"release"`
}

// Envelope is the running state of one ADSR. Start is the level the current
// segment ramps from; Time is seconds spent in the segment.
type Envelope struct {
	Phase Phase
	Level float64
	Time  float64
	Start float64
}

// Open restarts the attack from the current level so a stolen or restarted
// voice never jumps.
func (e *Envelope) Open() {
	e.Start = e.Level
	e.Phase = PhaseAttack
	e.Time = 0
}

// Close begins the release from the current level.
func (e *Envelope) Close() {
	if e.Phase == PhaseIdle {
		return
	}
	e.Start = e.Level
	e.Phase = PhaseRelease
	e.Time = 0
}

// Gated reports whether the envelope is in a gate-open phase.
func (e *Envelope) Gated() bool {
	return e.Phase == PhaseAttack || e.Phase == PhaseDecay || e.Phase == PhaseSustain
}

// Advance moves the envelope dt seconds forward and returns the new level.
// Time left over at the end of a segment carries into the next one.
func (e *Envelope) Advance(dt float64, p EnvelopeParams) float64 {
	e.Time += dt
	sustain := clamp01(p.Sustain)
	for {
		switch e.Phase {
		case PhaseAttack:
			a := segmentTime(p.Attack)
			if e.Time < a {
				e.Level = e.Start + (1-e.Start)*(e.Time/a)
				return e.Level
			}
			e.Time -= a
			e.Phase = PhaseDecay
			e.Level = 1
			e.Start = 1
		case PhaseDecay:
			d := segmentTime(p.Decay)
			if e.Time < d {
				e.Level = 1 + (sustain-1)*(e.Time/d)
				return e.Level
			}
			e.Time -= d
			e.Phase = PhaseSustain
			e.Level = sustain
		case PhaseSustain:
			e.Level = sustain
			return e.Level
		case PhaseRelease:
			r := segmentTime(p.Release)
			if e.Time < r {
				e.Level = e.Start * (1 - e.Time/r)
				return e.Level
			}
			e.reset()
			return 0
		default:
			e.reset()
			return 0
		}
	}
}

func (e *Envelope) reset() {
	*e = Envelope{}
}

func segmentTime(t float64) float64 {
	if t < MinEnvelopeTime {
		return MinEnvelopeTime
	}
	return t
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
