package lfo

import (
	"math"
	"testing"
)

func TestLFOTriangleBasicShape(t *testing.T) {
	l := &LFO{}
	l.Set(1.0, WaveTriangle)

	dt := 0.01 // 100 steps per cycle
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = l.Advance(dt)
	}

	if math.Abs(samples[0]-(-1.0)) > 0.05 {
		t.Errorf("triangle at phase 0: got %f, want -1.0", samples[0])
	}
	if math.Abs(samples[25]) > 0.05 {
		t.Errorf("triangle at phase 0.25: got %f, want ~0", samples[25])
	}
	if math.Abs(samples[50]-1.0) > 0.05 {
		t.Errorf("triangle at phase 0.5: got %f, want 1.0", samples[50])
	}
}

func TestLFOSquareShape(t *testing.T) {
	l := &LFO{}
	l.Set(1.0, WaveSquare)

	dt := 0.01
	if v := l.Advance(dt); v != 1.0 {
		t.Errorf("square first half: got %f, want 1.0", v)
	}
	for i := 1; i < 60; i++ {
		l.Advance(dt)
	}
	if v := l.Advance(dt); v != -1.0 {
		t.Errorf("square second half: got %f, want -1.0", v)
	}
}

func TestLFOSineIsBipolar(t *testing.T) {
	l := &LFO{}
	l.Set(2.0, WaveSine)
	var lo, hi float64
	for i := 0; i < 1000; i++ {
		v := l.Advance(0.001)
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi < 0.99 || lo > -0.99 {
		t.Fatalf("sine range [%f, %f], want about [-1, 1]", lo, hi)
	}
}

func TestLFOSawShape(t *testing.T) {
	if v := Value(WaveSaw, 0, 0); v != 1.0 {
		t.Errorf("saw at phase 0: got %f, want 1.0", v)
	}
	if v := Value(WaveSaw, 0.5, 0); math.Abs(v) > 1e-12 {
		t.Errorf("saw at phase 0.5: got %f, want 0", v)
	}
}

func TestLFOZeroRateHoldsPhase(t *testing.T) {
	l := &LFO{}
	l.Set(0, WaveTriangle)
	first := l.Advance(0.5)
	second := l.Advance(0.5)
	if first != second || l.Phase() != 0 {
		t.Errorf("zero rate should not move, got %f then %f (phase %f)", first, second, l.Phase())
	}
}

func TestLFOActive(t *testing.T) {
	l := &LFO{}
	if l.Active() {
		t.Error("default LFO should not be active")
	}
	l.Set(5.0, WaveTriangle)
	if !l.Active() {
		t.Error("configured LFO should be active")
	}
}

func TestLFORandomStaysInRange(t *testing.T) {
	l := &LFO{}
	l.Set(10.0, WaveRandom)
	changed := false
	prev := l.Advance(0.001)
	for i := 0; i < 2000; i++ {
		v := l.Advance(0.001)
		if math.Abs(v) > 1.0 {
			t.Fatalf("random value out of range: %f", v)
		}
		if v != prev {
			changed = true
		}
		prev = v
	}
	if !changed {
		t.Error("random waveform never changed its held value")
	}
}

func TestLFOResetZerosPhase(t *testing.T) {
	l := &LFO{}
	l.Set(3, WaveSine)
	l.Advance(0.1)
	l.Reset()
	if l.Phase() != 0 || l.Current() != 0 {
		t.Fatalf("reset left phase=%f value=%f", l.Phase(), l.Current())
	}
}

func TestWaveformNamesRoundTrip(t *testing.T) {
	for _, wf := range []Waveform{WaveSine, WaveTriangle, WaveSquare, WaveSaw, WaveRandom} {
		b, err := wf.MarshalText()
		if err != nil {
			t.Fatalf("marshal %d: %v", int(wf), err)
		}
		var got Waveform
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("unmarshal %q: %v", b, err)
		}
		if got != wf {
			t.Fatalf("got %v, want %v", got, wf)
		}
	}
	if _, err := ParseWaveform("wobble"); err == nil {
		t.Fatal("expected error for unknown waveform")
	}
}
