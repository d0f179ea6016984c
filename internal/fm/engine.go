package fm

import (
	"math"
	"sync/atomic"
	"time"

	approx "github.com/cwbudde/algo-approx"

	"github.com/cbegin/touchfm-go/internal/effects"
	"github.com/cbegin/touchfm-go/internal/param"
)

const twoPi = math.Pi * 2

// voiceHeadroom scales the voice sum so a full chord with stereo fader
// boost stays inside [-1, 1] before the compressor.
const voiceHeadroom = 0.25

type Params struct {
	Voices      int
	MasterGain  float64
	MaxDelaySec float64
	ReverbRoom  float64
	ChorusDelay float64 // ms
	ChorusDepth float64 // ms
	Effects     effects.Settings
}

func DefaultParams() Params {
	return Params{
		Voices:      16,
		MasterGain:  0.8,
		MaxDelaySec: 2,
		ReverbRoom:  0.6,
		ChorusDelay: 12,
		ChorusDepth: 3,
		Effects:     effects.DefaultSettings(),
	}
}

// Engine is the rendering backend: one Node per synthesis voice summed into
// a master chain (chorus, delay, reverb, EQ, compressor) and a ramped master
// gain. Every setter is safe to call from any goroutine; RenderFrame and
// Process belong to the audio thread.
type Engine struct {
	sampleRate float64
	params     Params
	nodes      []*Node
	master     param.Ramp

	chorus *effects.Chorus
	delay  *effects.Delay
	reverb *effects.Reverb
	eq     *effects.EQ
	comp   *effects.Compressor
	chain  *effects.Chain

	fxReset  atomic.Bool
	settings atomic.Pointer[effects.Settings]
}

func New(sampleRate int, params Params) *Engine {
	if params.Voices <= 0 {
		params.Voices = 16
	}
	if params.MaxDelaySec <= 0 {
		params.MaxDelaySec = 2
	}
	sr := float64(sampleRate)
	fx := params.Effects
	e := &Engine{
		sampleRate: sr,
		params:     params,
		nodes:      make([]*Node, params.Voices),
		chorus: effects.NewChorus(sampleRate, float32(params.ChorusDelay), 0.2,
			float32(params.ChorusDepth), float32(fx.ChorusRateHz), float32(fx.ChorusMix)),
		delay: effects.NewDelay(sampleRate, params.MaxDelaySec, fx.DelayTime,
			float32(fx.DelayFeedback), float32(fx.DelayCross), float32(fx.DelayMix)),
		reverb: effects.NewReverb(sampleRate, float32(params.ReverbRoom),
			float32(fx.ReverbFeedback), float32(fx.ReverbMix)),
		eq:   effects.NewEQ(sampleRate),
		comp: effects.NewCompressor(sampleRate, float32(fx.CompThreshold), float32(fx.CompRatio), 5, 80, 0),
	}
	e.chain = effects.NewChain(e.chorus, e.delay, e.reverb, e.eq, e.comp)
	for i := range e.nodes {
		e.nodes[i] = newNode(sr)
	}
	e.master.Init(params.MasterGain)
	e.settings.Store(&fx)
	return e
}

func (e *Engine) SampleRate() int { return int(e.sampleRate) }

// NumNodes returns the number of per-voice node sets.
func (e *Engine) NumNodes() int { return len(e.nodes) }

// Node returns the node set for voice i.
func (e *Engine) Node(i int) *Node { return e.nodes[i] }

// SetMasterGain ramps the output gain to gain over ramp.
func (e *Engine) SetMasterGain(gain float64, ramp time.Duration) {
	e.master.Set(clamp(gain, 0, 2), ramp, e.sampleRate)
}

// MasterGain returns the most recently requested master gain.
func (e *Engine) MasterGain() float64 {
	return e.master.Target()
}

// SetDelayTime ramps the master delay time. Values are clamped to
// DelayRange.
func (e *Engine) SetDelayTime(sec float64, ramp time.Duration) {
	e.delay.SetTime(sec, ramp)
}

// DelayTime returns the requested master delay time in seconds.
func (e *Engine) DelayTime() float64 { return e.delay.Time() }

// DelayRange is the host range for the delay time destination.
func (e *Engine) DelayRange() (lo, hi float64) { return e.delay.Range() }

// ResetEffects clears the history of every master effect. The clear happens
// on the audio thread before the next frame is rendered.
func (e *Engine) ResetEffects() {
	e.fxReset.Store(true)
}

// ApplyEffects installs new master FX settings. The delay time jumps; callers
// apply presets while the output is faded out.
func (e *Engine) ApplyEffects(s effects.Settings) {
	e.delay.SetTime(s.DelayTime, 0)
	e.delay.SetFeedback(float32(s.DelayFeedback))
	e.delay.SetCross(float32(s.DelayCross))
	e.delay.SetMix(float32(s.DelayMix))
	e.reverb.SetFeedback(float32(s.ReverbFeedback))
	e.reverb.SetMix(float32(s.ReverbMix))
	e.chorus.SetRate(float32(s.ChorusRateHz))
	e.chorus.SetMix(float32(s.ChorusMix))
	e.comp.SetThreshold(float32(s.CompThreshold))
	e.comp.SetRatio(float32(s.CompRatio))
	e.settings.Store(&s)
}

// SetEQBand sets a master EQ band gain (0..2, 1 is flat). Bands split at
// 200 Hz, 800 Hz, 2.5 kHz and 8 kHz.
func (e *Engine) SetEQBand(band int, gain float64) {
	e.eq.SetGain(band, float32(gain))
}

func (e *Engine) EQBand(band int) float64 { return float64(e.eq.Gain(band)) }

// Effects returns the last applied FX settings.
func (e *Engine) Effects() effects.Settings {
	return *e.settings.Load()
}

// ActiveVoiceCount returns how many nodes currently have a non-zero fader
// target.
func (e *Engine) ActiveVoiceCount() int {
	n := 0
	for _, node := range e.nodes {
		if node.Active() {
			n++
		}
	}
	return n
}

func (e *Engine) RenderFrame() (float32, float32) {
	if e.fxReset.CompareAndSwap(true, false) {
		e.chain.Reset()
	}
	var l, r float64
	for _, n := range e.nodes {
		vl, vr := n.render()
		l += vl
		r += vr
	}
	fl, fr := e.chain.Process(float32(l*voiceHeadroom), float32(r*voiceHeadroom))
	g := e.master.Next()
	return float32(clamp(float64(fl)*g, -1, 1)), float32(clamp(float64(fr)*g, -1, 1))
}

// Process fills dst with interleaved stereo frames.
func (e *Engine) Process(dst []float32) {
	for i := 0; i+1 < len(dst); i += 2 {
		dst[i], dst[i+1] = e.RenderFrame()
	}
}

// Node is one voice's audio graph: a two-operator FM pair per channel, a
// low-pass of two cascaded one-pole stages sharing one cutoff, and a stereo
// fader. Setters store ramp targets; the audio thread reads them every frame.
type Node struct {
	sampleRate float64

	freqL, freqR   param.Ramp
	mulL, mulR     param.Ramp
	indexL, indexR param.Ramp
	cutoff         param.Ramp
	gainL, gainR   param.Ramp
	reset          atomic.Bool

	// audio thread
	carL, carR float64
	modL, modR float64
	lp         [2][2]float64 // [channel][stage]
}

func newNode(sampleRate float64) *Node {
	n := &Node{sampleRate: sampleRate}
	n.freqL.Init(440)
	n.freqR.Init(440)
	n.mulL.Init(1)
	n.mulR.Init(1)
	n.indexL.Init(0)
	n.indexR.Init(0)
	n.cutoff.Init(20000)
	n.gainL.Init(0)
	n.gainR.Init(0)
	return n
}

func (n *Node) SetFrequency(l, r float64, ramp time.Duration) {
	n.freqL.Set(l, ramp, n.sampleRate)
	n.freqR.Set(r, ramp, n.sampleRate)
}

func (n *Node) SetModulatorMultiplier(l, r float64, ramp time.Duration) {
	n.mulL.Set(l, ramp, n.sampleRate)
	n.mulR.Set(r, ramp, n.sampleRate)
}

func (n *Node) SetModulationIndex(l, r float64, ramp time.Duration) {
	n.indexL.Set(l, ramp, n.sampleRate)
	n.indexR.Set(r, ramp, n.sampleRate)
}

func (n *Node) SetFilterCutoff(hz float64, ramp time.Duration) {
	n.cutoff.Set(hz, ramp, n.sampleRate)
}

func (n *Node) SetFaderGain(l, r float64, ramp time.Duration) {
	n.gainL.Set(l, ramp, n.sampleRate)
	n.gainR.Set(r, ramp, n.sampleRate)
}

// Reset clears oscillator phases and filter history before the next frame.
func (n *Node) Reset() {
	n.reset.Store(true)
}

// Active reports whether either fader target is above zero.
func (n *Node) Active() bool {
	return n.gainL.Target() > 0 || n.gainR.Target() > 0
}

func (n *Node) render() (float64, float64) {
	if n.reset.CompareAndSwap(true, false) {
		n.carL, n.carR, n.modL, n.modR = 0, 0, 0, 0
		n.lp = [2][2]float64{}
	}
	fL, fR := n.freqL.Next(), n.freqR.Next()
	mL, mR := n.mulL.Next(), n.mulR.Next()
	iL, iR := n.indexL.Next(), n.indexR.Next()
	fc := n.cutoff.Next()
	gL, gR := n.gainL.Next(), n.gainR.Next()
	if gL == 0 && gR == 0 {
		return 0, 0
	}

	sL := math.Sin(n.carL + iL*math.Sin(n.modL))
	sR := math.Sin(n.carR + iR*math.Sin(n.modR))
	n.carL = wrap(n.carL + twoPi*fL/n.sampleRate)
	n.carR = wrap(n.carR + twoPi*fR/n.sampleRate)
	n.modL = wrap(n.modL + twoPi*fL*mL/n.sampleRate)
	n.modR = wrap(n.modR + twoPi*fR*mR/n.sampleRate)

	alpha := n.filterCoefficient(fc)
	sL = n.lowpass(0, sL, alpha)
	sR = n.lowpass(1, sR, alpha)
	return sL * gL, sR * gR
}

// filterCoefficient is the one-pole smoothing factor 1-e^(-2πfc/fs).
func (n *Node) filterCoefficient(fc float64) float64 {
	if fc >= n.sampleRate/2 {
		return 1
	}
	x := float32(-twoPi * fc / n.sampleRate)
	return 1 - float64(approx.FastExp(x))
}

func (n *Node) lowpass(ch int, in, alpha float64) float64 {
	s := &n.lp[ch]
	s[0] += alpha * (in - s[0])
	s[1] += alpha * (s[0] - s[1])
	return s[1]
}

func wrap(phase float64) float64 {
	if phase >= twoPi {
		phase = math.Mod(phase, twoPi)
	}
	return phase
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
