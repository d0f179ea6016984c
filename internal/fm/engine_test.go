package fm

import (
	"math"
	"testing"
	"time"

	"github.com/cbegin/touchfm-go/internal/effects"
)

func sound(e *Engine, voice int, l, r float64) {
	n := e.Node(voice)
	n.SetFrequency(220, 220, 0)
	n.SetModulatorMultiplier(2, 2, 0)
	n.SetModulationIndex(1.5, 1.5, 0)
	n.SetFilterCutoff(8000, 0)
	n.SetFaderGain(l, r, 0)
}

func energy(e *Engine, frames int) (float64, float64) {
	var left, right float64
	for i := 0; i < frames; i++ {
		l, r := e.RenderFrame()
		left += math.Abs(float64(l))
		right += math.Abs(float64(r))
	}
	return left, right
}

func TestEngineGeneratesSignal(t *testing.T) {
	e := New(48000, DefaultParams())
	if l, r := energy(e, 1000); l != 0 || r != 0 {
		t.Fatalf("idle engine produced l=%f r=%f", l, r)
	}
	sound(e, 0, 1, 1)
	if l, r := energy(e, 5000); l == 0 || r == 0 {
		t.Fatalf("expected non-zero output, l=%f r=%f", l, r)
	}
	if got := e.ActiveVoiceCount(); got != 1 {
		t.Fatalf("active voices = %d, want 1", got)
	}
}

func TestFaderGainsBiasChannels(t *testing.T) {
	e := New(48000, DefaultParams())
	sound(e, 3, 1, 0.1)
	left, right := energy(e, 4096)
	if left <= right {
		t.Fatalf("expected left-biased signal, left=%f right=%f", left, right)
	}
}

func TestSilentImmediatelyAfterResets(t *testing.T) {
	e := New(48000, DefaultParams())
	for i := 0; i < 4; i++ {
		sound(e, i, 1, 1)
	}
	energy(e, 24000) // fill delay, reverb and filter history
	for i := 0; i < e.NumNodes(); i++ {
		e.Node(i).SetFaderGain(0, 0, 0)
		e.Node(i).Reset()
	}
	e.ResetEffects()
	for i := 0; i < 48000; i++ {
		if l, r := e.RenderFrame(); l != 0 || r != 0 {
			t.Fatalf("frame %d = %v/%v, want exact silence", i, l, r)
		}
	}
	if got := e.ActiveVoiceCount(); got != 0 {
		t.Fatalf("active voices = %d, want 0", got)
	}
}

func TestMasterGainRamps(t *testing.T) {
	e := New(48000, DefaultParams())
	sound(e, 0, 1, 1)
	energy(e, 2000)
	e.SetMasterGain(0, 10*time.Millisecond)
	if got := e.MasterGain(); got != 0 {
		t.Fatalf("master target = %v, want 0", got)
	}
	// the first frames of the ramp are still audible
	if l, r := energy(e, 10); l == 0 && r == 0 {
		t.Fatal("master gain stepped instead of ramping")
	}
	energy(e, 480)
	if l, r := energy(e, 1000); l != 0 || r != 0 {
		t.Fatalf("faded engine produced l=%f r=%f", l, r)
	}
}

func TestDelayTimeIsClampedToRange(t *testing.T) {
	p := DefaultParams()
	p.MaxDelaySec = 1
	e := New(48000, p)
	e.SetDelayTime(3, 20*time.Millisecond)
	lo, hi := e.DelayRange()
	if got := e.DelayTime(); got != hi {
		t.Fatalf("delay time = %v, want %v", got, hi)
	}
	e.SetDelayTime(0, 0)
	if got := e.DelayTime(); got != lo {
		t.Fatalf("delay time = %v, want %v", got, lo)
	}
}

func TestApplyEffectsIsReported(t *testing.T) {
	e := New(48000, DefaultParams())
	s := effects.DefaultSettings()
	s.ReverbMix = 0.4
	s.DelayTime = 0.5
	e.ApplyEffects(s)
	if got := e.Effects(); got != s {
		t.Fatalf("effects = %+v, want %+v", got, s)
	}
	if got := e.DelayTime(); got != 0.5 {
		t.Fatalf("delay time = %v, want 0.5", got)
	}
}

func TestEQBandClampsAndIgnoresBadBands(t *testing.T) {
	e := New(48000, DefaultParams())
	e.SetEQBand(2, 3)
	if got := e.EQBand(2); got != 2 {
		t.Fatalf("band 2 = %v, want clamp to 2", got)
	}
	e.SetEQBand(-1, 0)
	if got := e.EQBand(-1); got != 1 {
		t.Fatalf("bad band = %v, want 1", got)
	}
}

func TestProcessFillsInterleavedFrames(t *testing.T) {
	e := New(48000, DefaultParams())
	sound(e, 0, 1, 0)
	buf := make([]float32, 2048)
	e.Process(buf)
	var left, right float64
	for i := 0; i < len(buf); i += 2 {
		left += math.Abs(float64(buf[i]))
		right += math.Abs(float64(buf[i+1]))
	}
	if left == 0 {
		t.Fatal("left channel silent")
	}
	if right >= left {
		t.Fatalf("right=%f should be quieter than left=%f", right, left)
	}
}
