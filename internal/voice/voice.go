package voice

import (
	"math"
	"time"

	"github.com/cbegin/touchfm-go/internal/lfo"
	"github.com/cbegin/touchfm-go/internal/modulation"
)

// Key identifies a physical key on the touch keyboard.
type Key int

// Nodes is the per-voice slice of the rendering backend. Every setter takes
// the target value and the time to ramp to it; a zero ramp jumps.
type Nodes interface {
	SetFrequency(left, right float64, ramp time.Duration)
	SetModulatorMultiplier(left, right float64, ramp time.Duration)
	SetModulationIndex(left, right float64, ramp time.Duration)
	SetFilterCutoff(hz float64, ramp time.Duration)
	SetFaderGain(left, right float64, ramp time.Duration)
	// Reset clears any internal signal history (filter state).
	Reset()
}

// Detune is the frequency split applied whenever a frequency is written.
type Detune struct {
	Mode  modulation.DetuneMode
	Param float64
}

// TickContext carries what every voice shares in one control tick.
type TickContext struct {
	GlobalLFO      float64
	GlobalLFOPhase float64
	Ramp           time.Duration
}

// Voice is one oscillator pair + filter + stereo fader and its modulation
// state. A Voice is not safe for concurrent use; the pool's control loop is
// its only writer.
type Voice struct {
	index     int
	available bool
	owner     Key
	owned     bool
	seq       uint64
	gen       uint64
	detune    Detune
	tmpl      Template
	state     ModulationState
	out       Output
	nodes     Nodes
}

func New(index int, nodes Nodes, tmpl Template) *Voice {
	v := &Voice{
		index:     index,
		available: true,
		nodes:     nodes,
		detune:    Detune{Mode: modulation.DetuneProportional, Param: 1},
	}
	v.Apply(tmpl)
	return v
}

// Trigger starts a note: the frequency jumps, the gate opens and every
// envelope restarts its attack from wherever it currently is. On a sounding
// voice the amplitude scale moves from the old touch to the new one over the
// loudness attack, so the output level does not jump.
func (v *Voice) Trigger(freq, touch float64, key Key, seq uint64) {
	s := &v.state
	touch = modulation.Clamp(touch, 0, 1)
	fromAmp := v.ampScale()
	sounding := !v.IsIdle()

	s.Base.Frequency = modulation.Clamp(freq, modulation.MinFrequency, modulation.MaxFrequency)
	s.Glide = Glide{}
	s.KeyTrack = modulation.KeyTrackFactor(s.Base.Frequency)
	s.InitialTouch = touch
	s.CurrentTouch = touch
	s.Gate = true
	for i := range s.Envelopes {
		s.Envelopes[i].Open()
	}
	s.VoiceLFO = LFOState{}

	v.latchTouch()
	s.AmpGlide = Glide{}
	if sounding && fromAmp != s.AmpScale {
		s.AmpGlide = Glide{From: fromAmp, Duration: segmentTime(v.tmpl.Envelopes[Loudness].Attack)}
	}

	v.available = false
	v.owner = key
	v.owned = true
	v.seq = seq
	v.gen++

	l, rr := modulation.Detune(v.detune.Mode, v.detune.Param, s.Base.Frequency)
	v.nodes.SetFrequency(l, rr, 0)
}

// Retrigger moves a sounding legato voice to a new note: pitch glides from
// where it is now, envelopes keep their phase and level.
func (v *Voice) Retrigger(freq, touch float64, key Key) {
	s := &v.state
	touch = modulation.Clamp(touch, 0, 1)
	from := v.Frequency()

	s.Base.Frequency = modulation.Clamp(freq, modulation.MinFrequency, modulation.MaxFrequency)
	s.Glide = Glide{From: from, Duration: v.tmpl.GlideTime}
	s.KeyTrack = modulation.KeyTrackFactor(s.Base.Frequency)
	s.InitialTouch = touch
	s.CurrentTouch = touch

	v.available = false
	v.owner = key
	v.owned = true
	v.gen++
}

// Release closes the gate if key owns the voice. It returns the generation
// the caller must hand back to MarkAvailable once delay has elapsed.
func (v *Voice) Release(key Key) (gen uint64, delay time.Duration, ok bool) {
	if !v.owned || v.owner != key || !v.state.Gate {
		return 0, 0, false
	}
	v.state.Gate = false
	for i := range v.state.Envelopes {
		v.state.Envelopes[i].Close()
	}
	v.gen++
	rel := segmentTime(v.tmpl.Envelopes[Loudness].Release)
	return v.gen, time.Duration(rel * float64(time.Second)), true
}

// MarkAvailable frees the voice for allocation. It does nothing when gen is
// stale, i.e. the voice was triggered or reset after the release.
func (v *Voice) MarkAvailable(gen uint64) bool {
	if gen != v.gen || v.state.Gate || v.available {
		return false
	}
	v.available = true
	v.owned = false
	v.owner = 0
	return true
}

// SilenceAndReset jumps the fader to zero and wipes all modulation state.
// The jump is discontinuous; call only while the output is muted.
func (v *Voice) SilenceAndReset() {
	v.nodes.SetFaderGain(0, 0, 0)
	v.nodes.Reset()
	base := v.state.Base
	v.state = ModulationState{Base: base}
	v.out = Output{}
	v.available = true
	v.owned = false
	v.owner = 0
	v.gen++
}

// SetTouch updates the live touch value.
func (v *Voice) SetTouch(touch float64) {
	v.state.CurrentTouch = modulation.Clamp(touch, 0, 1)
}

// SetDetune changes the left/right split used on the next frequency write.
func (v *Voice) SetDetune(d Detune) {
	v.detune = d
}

// Apply installs a template. Base values come straight from it; nothing is
// read back from the current (modulated) output. Touch amounts of a sounding
// note are latched again from its initial touch under the new routes.
func (v *Voice) Apply(tmpl Template) {
	v.tmpl = tmpl
	v.latchTouch()
	b := &v.state.Base
	b.FaderGain = modulation.Clamp(tmpl.FaderGain, 0, 1)
	b.ModulatorMultiplier = modulation.Clamp(tmpl.ModulatorMultiplier, 0, modulation.MaxIndex)
	b.ModulationIndex = modulation.Clamp(tmpl.ModulationIndex, 0, modulation.MaxIndex)
	b.FilterCutoff = modulation.Clamp(tmpl.FilterCutoff, modulation.MinCutoff, modulation.MaxCutoff)
	if v.IsIdle() {
		v.nodes.SetModulatorMultiplier(b.ModulatorMultiplier, b.ModulatorMultiplier, 0)
		v.nodes.SetModulationIndex(b.ModulationIndex, b.ModulationIndex, 0)
		v.nodes.SetFilterCutoff(b.FilterCutoff, 0)
	}
}

// latchTouch derives the touch-scaled amounts from the initial touch and the
// template routes.
func (v *Voice) latchTouch() {
	s := &v.state
	r := &v.tmpl.Routes
	s.AmpScale = modulation.TouchAmpScale(s.InitialTouch, r.TouchToAmp)
	s.ModEnvAmount = modulation.ScaleAmount(r.ModEnvToModIndex, s.InitialTouch, r.TouchToModEnv)
	s.AuxEnvScale = modulation.ScaleAmount(1, s.InitialTouch, r.TouchToAuxEnv)
}

// Update advances the modulation state by dt seconds and writes the routed
// values to the nodes. It reports true on the tick the voice falls silent.
func (v *Voice) Update(dt float64, ctx TickContext) bool {
	if v.IsIdle() {
		return false
	}
	s := &v.state
	t := &v.tmpl
	s.GlobalLFOPhase = ctx.GlobalLFOPhase
	s.GlobalLFOValue = ctx.GlobalLFO

	loud := s.Envelopes[Loudness].Advance(dt, t.Envelopes[Loudness])
	modEnv := s.Envelopes[Modulator].Advance(dt, t.Envelopes[Modulator])
	aux := s.Envelopes[Auxiliary].Advance(dt, t.Envelopes[Auxiliary])

	var raw float64
	raw, s.VoiceLFO.Phase, s.VoiceLFO.Hold = lfo.Step(t.VoiceLFO.Waveform, t.VoiceLFO.RateHz, dt, s.VoiceLFO.Phase, s.VoiceLFO.Hold)
	s.VoiceLFO.DelayElapsed += dt
	voiceLFO := raw
	if t.VoiceLFO.Delay > 0 && s.VoiceLFO.DelayElapsed < t.VoiceLFO.Delay {
		voiceLFO *= s.VoiceLFO.DelayElapsed / t.VoiceLFO.Delay
	}
	if s.Glide.Duration > 0 {
		s.Glide.Elapsed += dt
	}
	if s.AmpGlide.Duration > 0 {
		s.AmpGlide.Elapsed += dt
	}

	v.out = v.route(loud, modEnv, aux, voiceLFO, ctx.GlobalLFO)
	o := &v.out
	v.nodes.SetFrequency(o.FrequencyL, o.FrequencyR, ctx.Ramp)
	v.nodes.SetModulatorMultiplier(o.MultiplierL, o.MultiplierR, ctx.Ramp)
	v.nodes.SetModulationIndex(o.IndexL, o.IndexR, ctx.Ramp)
	v.nodes.SetFilterCutoff(o.Cutoff, ctx.Ramp)
	v.nodes.SetFaderGain(o.GainL, o.GainR, ctx.Ramp)

	if !s.Gate && s.Envelopes[Loudness].Phase == PhaseIdle {
		for i := range s.Envelopes {
			s.Envelopes[i] = Envelope{}
		}
		return true
	}
	return false
}

func (v *Voice) route(loud, modEnv, aux, voiceLFO, globalLFO float64) Output {
	s := &v.state
	r := &v.tmpl.Routes
	touchDelta := s.CurrentTouch - s.InitialTouch

	vibrato := modulation.ScaleAmount(r.VoiceLFOToPitch, aux, r.VibratoFollowsAuxEnv)
	freq := modulation.Pitch(v.glideFrequency(),
		aux*r.AuxEnvToPitch*s.AuxEnvScale,
		voiceLFO*vibrato,
		globalLFO*r.GlobalLFOToPitch,
	)
	fl, fr := modulation.Detune(v.detune.Mode, v.detune.Param, freq)

	envAmp := loud * v.ampScale()
	// Tremolo depth is relative to the envelope so a finished note stays silent.
	amp := modulation.Amplitude(envAmp, envAmp*globalLFO*r.GlobalLFOToAmp)
	gl, gr := modulation.FaderStereoGains(s.Base.FaderGain*amp, voiceLFO, r.VoiceLFOToFader)

	index := modulation.NonNegative(s.Base.ModulationIndex,
		modEnv*s.ModEnvAmount,
		voiceLFO*r.VoiceLFOToModIndex,
		globalLFO*r.GlobalLFOToModIndex,
		touchDelta*r.AftertouchToModIndex,
	)
	mul := modulation.NonNegative(s.Base.ModulatorMultiplier, aux*r.AuxEnvToModMultiplier*s.AuxEnvScale)
	cutoff := modulation.FilterCutoff(s.Base.FilterCutoff, s.KeyTrack, r.KeyTrack,
		aux*r.AuxEnvToFilter*s.AuxEnvScale,
		voiceLFO*r.VoiceLFOToFilter,
		globalLFO*r.GlobalLFOToFilter,
		touchDelta*r.AftertouchToFilter,
	)
	return Output{
		FrequencyL:  fl,
		FrequencyR:  fr,
		MultiplierL: mul,
		MultiplierR: mul,
		IndexL:      index,
		IndexR:      index,
		Cutoff:      cutoff,
		Amplitude:   amp,
		GainL:       gl,
		GainR:       gr,
	}
}

func (v *Voice) glideFrequency() float64 {
	g := v.state.Glide
	target := v.state.Base.Frequency
	if g.Duration <= 0 || g.From <= 0 || g.Elapsed >= g.Duration {
		return target
	}
	return g.From * math.Pow(target/g.From, g.Elapsed/g.Duration)
}

// ampScale is the touch amplitude factor in effect, including a running move
// away from a stolen note's touch.
func (v *Voice) ampScale() float64 {
	s := &v.state
	g := s.AmpGlide
	if g.Duration <= 0 || g.Elapsed >= g.Duration {
		return s.AmpScale
	}
	return g.From + (s.AmpScale-g.From)*g.Elapsed/g.Duration
}

// IsIdle reports whether the voice is silent and has nothing left to compute.
func (v *Voice) IsIdle() bool {
	return !v.state.Gate && v.state.Envelopes[Loudness].Phase == PhaseIdle
}

func (v *Voice) Index() int { return v.index }
func (v *Voice) Available() bool { return v.available }
func (v *Voice) Seq() uint64 { return v.seq }
func (v *Voice) Generation() uint64 { return v.gen }
func (v *Voice) Gate() bool { return v.state.Gate }
func (v *Voice) Template() Template { return v.tmpl }
func (v *Voice) LastOutput() Output { return v.out }
func (v *Voice) Detune() Detune { return v.detune }
func (v *Voice) Snapshot() ModulationState { return v.state }

// Owner returns the key that owns the voice, if any.
func (v *Voice) Owner() (Key, bool) {
	return v.owner, v.owned
}

// Frequency is the current unmodulated pitch, including any legato glide.
func (v *Voice) Frequency() float64 {
	return v.glideFrequency()
}

// Level is the loudness the voice is producing: envelope level times the
// touch scale in effect.
func (v *Voice) Level() float64 {
	return v.state.Envelopes[Loudness].Level * v.ampScale()
}
