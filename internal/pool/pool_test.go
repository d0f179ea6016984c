package pool

import (
	"context"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/cbegin/touchfm-go/internal/effects"
	"github.com/cbegin/touchfm-go/internal/lfo"
	"github.com/cbegin/touchfm-go/internal/modulation"
	"github.com/cbegin/touchfm-go/internal/preset"
	"github.com/cbegin/touchfm-go/internal/schedule"
	"github.com/cbegin/touchfm-go/internal/voice"
)

type fakeNodes struct {
	freqL, freqR   float64
	mulL, mulR     float64
	indexL, indexR float64
	cutoff         float64
	gainL, gainR   float64
	writes         int
	resets         int
}

func (n *fakeNodes) SetFrequency(l, r float64, _ time.Duration) {
	n.freqL, n.freqR = l, r
	n.writes++
}
func (n *fakeNodes) SetModulatorMultiplier(l, r float64, _ time.Duration) {
	n.mulL, n.mulR = l, r
	n.writes++
}
func (n *fakeNodes) SetModulationIndex(l, r float64, _ time.Duration) {
	n.indexL, n.indexR = l, r
	n.writes++
}
func (n *fakeNodes) SetFilterCutoff(hz float64, _ time.Duration) {
	n.cutoff = hz
	n.writes++
}
func (n *fakeNodes) SetFaderGain(l, r float64, _ time.Duration) {
	n.gainL, n.gainR = l, r
	n.writes++
}
func (n *fakeNodes) Reset() { n.resets++ }

type fakeMaster struct {
	delay   float64
	ramp    time.Duration
	sets    int
	applied []effects.Settings
}

func (m *fakeMaster) SetDelayTime(sec float64, ramp time.Duration) {
	m.delay, m.ramp = sec, ramp
	m.sets++
}
func (m *fakeMaster) DelayRange() (float64, float64) { return 0.001, 2 }
func (m *fakeMaster) ApplyEffects(s effects.Settings) {
	m.applied = append(m.applied, s)
}

type fixture struct {
	pool   *Pool
	nodes  []*fakeNodes
	master *fakeMaster
	clock  *schedule.Manual
	events []Event
}

func newFixture(voices int) *fixture {
	f := &fixture{master: &fakeMaster{}, clock: schedule.NewManual()}
	nodes := make([]voice.Nodes, voices)
	for i := range nodes {
		n := &fakeNodes{}
		f.nodes = append(f.nodes, n)
		nodes[i] = n
	}
	cfg := DefaultConfig()
	cfg.Scheduler = f.clock
	f.pool = New(cfg, nodes, f.master)
	f.pool.OnEvent(func(ev Event) { f.events = append(f.events, ev) })
	return f
}

func (f *fixture) tick(n int) {
	for i := 0; i < n; i++ {
		f.pool.Tick(0.01)
	}
}

func gatedOwners(p *Pool, key voice.Key) int {
	n := 0
	for i := 0; i < p.NumVoices(); i++ {
		v := p.Voice(i)
		if owner, ok := v.Owner(); ok && owner == key && v.Gate() {
			n++
		}
	}
	return n
}

func TestRoundRobinUsesEveryVoiceOnce(t *testing.T) {
	f := newFixture(4)
	seen := map[int]bool{}
	for k := voice.Key(1); k <= 4; k++ {
		i := f.pool.AllocateVoice(k, 220*float64(k), 1)
		if seen[i] {
			t.Fatalf("voice %d reused before all voices were used", i)
		}
		seen[i] = true
	}
	// free voices 2 and 0; the cursor continues from voice 0
	f.pool.ReleaseVoice(3)
	f.pool.ReleaseVoice(1)
	f.clock.Advance(time.Second)
	if got := f.pool.AllocateVoice(5, 440, 1); got != 0 {
		t.Fatalf("next voice = %d, want 0", got)
	}
	if got := f.pool.AllocateVoice(6, 440, 1); got != 2 {
		t.Fatalf("next voice = %d, want 2", got)
	}
}

func TestAtMostOneVoicePerKey(t *testing.T) {
	f := newFixture(4)
	held := map[voice.Key]bool{}
	x := uint32(7)
	for step := 0; step < 2000; step++ {
		x = x*1664525 + 1013904223
		key := voice.Key(x >> 28 % 6)
		if held[key] && x&0x100 != 0 {
			f.pool.ReleaseVoice(key)
			delete(held, key)
		} else {
			f.pool.AllocateVoice(key, 110*float64(key+1), float64(x&0xff)/255)
			held[key] = true
		}
		if x&0x3 == 0 {
			f.tick(3)
			f.clock.Advance(30 * time.Millisecond)
		}
		for k := voice.Key(0); k < 6; k++ {
			if n := gatedOwners(f.pool, k); n > 1 {
				t.Fatalf("step %d: key %d drives %d voices", step, k, n)
			}
		}
		if n := len(f.pool.Allocated()); n > f.pool.Polyphony() {
			t.Fatalf("step %d: %d keys mapped, polyphony %d", step, n, f.pool.Polyphony())
		}
		used := map[int]voice.Key{}
		for k, i := range f.pool.Allocated() {
			if other, dup := used[i]; dup {
				t.Fatalf("step %d: voice %d mapped by keys %d and %d", step, i, other, k)
			}
			used[i] = k
		}
	}
}

func TestKeyPriorityRetrigger(t *testing.T) {
	f := newFixture(4)
	first := f.pool.AllocateVoice(60, 261.6, 0.5)
	f.tick(5)
	second := f.pool.AllocateVoice(60, 261.6, 0.9)
	if first != second {
		t.Fatalf("second press used voice %d, want %d", second, first)
	}
	if got := len(f.pool.Allocated()); got != 1 {
		t.Fatalf("allocated keys = %d, want 1", got)
	}

	// press again while the release is still running
	f.pool.ReleaseVoice(60)
	f.tick(2)
	f.pool.AllocateVoice(60, 261.6, 0.5)
	if got := len(f.pool.Allocated()); got != 1 {
		t.Fatalf("allocated keys = %d, want 1", got)
	}
	if got := gatedOwners(f.pool, 60); got != 1 {
		t.Fatalf("gated voices for key = %d, want 1", got)
	}
}

func TestStealsOldestVoice(t *testing.T) {
	f := newFixture(2)
	a := f.pool.AllocateVoice(1, 220, 1)
	f.pool.AllocateVoice(2, 330, 1)
	got := f.pool.AllocateVoice(3, 440, 1)
	if got != a {
		t.Fatalf("stole voice %d, want oldest %d", got, a)
	}
	if _, ok := f.pool.VoiceForKey(1); ok {
		t.Fatal("stolen key still mapped")
	}
	if len(f.events) != 1 || f.events[0].Kind != EventVoiceStolen || f.events[0].Key != 1 || f.events[0].Voice != a {
		t.Fatalf("events = %+v", f.events)
	}
	// releasing the stolen key must not touch the new owner
	f.pool.ReleaseVoice(1)
	if !f.pool.Voice(a).Gate() {
		t.Fatal("release of stolen key closed the new owner's gate")
	}
}

func TestRetriggerKeepsOutputLevel(t *testing.T) {
	cases := []struct {
		name  string
		key   voice.Key
		touch float64
	}{
		{"steal with softer touch", 3, 0},
		{"same key with softer touch", 1, 0.1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(2)
			f.pool.AllocateVoice(1, 220, 1)
			f.pool.AllocateVoice(2, 330, 1)
			f.tick(30)
			v := f.pool.Voice(0)
			before := v.Level()

			if i := f.pool.AllocateVoice(c.key, 440, c.touch); i != 0 {
				t.Fatalf("allocated voice %d, want 0", i)
			}
			if got := v.Level(); got != before {
				t.Fatalf("level jumped %v -> %v", before, got)
			}
			f.tick(50)
			tmpl := v.Template()
			want := tmpl.Envelopes[voice.Loudness].Sustain * modulation.TouchAmpScale(c.touch, tmpl.Routes.TouchToAmp)
			if got := v.Level(); math.Abs(got-want) > 1e-9 {
				t.Fatalf("settled level = %v, want %v", got, want)
			}
		})
	}
}

func TestReleaseUnknownKeyIsNoOp(t *testing.T) {
	f := newFixture(2)
	f.pool.ReleaseVoice(42)
	f.pool.SetPolyphony(1)
	f.pool.ReleaseVoice(42)
	if f.clock.Pending() != 0 {
		t.Fatalf("pending callbacks = %d, want 0", f.clock.Pending())
	}
}

func TestAvailabilityFollowsReleaseTime(t *testing.T) {
	f := newFixture(2)
	i := f.pool.AllocateVoice(1, 220, 1)
	f.pool.ReleaseVoice(1)
	v := f.pool.Voice(i)
	if v.Available() {
		t.Fatal("voice available immediately after release")
	}
	f.clock.Advance(199 * time.Millisecond)
	if v.Available() {
		t.Fatal("voice available before the release time")
	}
	f.clock.Advance(time.Millisecond)
	if !v.Available() {
		t.Fatal("voice not available after the release time")
	}
}

func TestSupersededAvailabilityIsIgnored(t *testing.T) {
	f := newFixture(1) // mono
	f.pool.AllocateVoice(1, 220, 1)
	f.pool.ReleaseVoice(1)
	f.clock.Advance(100 * time.Millisecond)
	f.pool.AllocateVoice(2, 330, 1)
	f.clock.Advance(time.Second)
	v := f.pool.Voice(0)
	if v.Available() {
		t.Fatal("stale release callback freed a sounding voice")
	}
	if owner, _ := v.Owner(); owner != 2 {
		t.Fatalf("owner = %d, want 2", owner)
	}
}

func TestLegatoRetriggerPreservesLevel(t *testing.T) {
	f := newFixture(1)
	f.pool.SetLegato(true)
	f.pool.AllocateVoice(1, 220, 1)
	f.tick(40)
	v := f.pool.Voice(0)
	before := v.Level()
	ampBefore := v.LastOutput().Amplitude

	f.pool.AllocateVoice(2, 440, 1)
	if got := v.Level(); got != before {
		t.Fatalf("level jumped %v -> %v", before, got)
	}
	if got := v.Frequency(); math.Abs(got-220) > 1e-9 {
		t.Fatalf("frequency jumped to %v", got)
	}
	f.tick(1)
	if got := v.LastOutput().Amplitude; math.Abs(got-ampBefore) > 1e-9 {
		t.Fatalf("amplitude %v -> %v across retrigger", ampBefore, got)
	}
	if got := v.Frequency(); got <= 220 || got >= 440 {
		t.Fatalf("frequency %v should be gliding", got)
	}
	f.tick(20)
	if got := v.Frequency(); got != 440 {
		t.Fatalf("frequency after glide = %v, want 440", got)
	}
}

func TestMonoReturnsToPreviousKeyTouch(t *testing.T) {
	for _, legato := range []bool{false, true} {
		name := "retrigger"
		if legato {
			name = "legato"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(1)
			f.pool.SetLegato(legato)
			f.pool.AllocateVoice(1, 220, 0.3)
			f.pool.TouchMoved(1, 0.8)
			f.tick(5)
			f.pool.AllocateVoice(2, 330, 0.5)
			f.tick(5)
			f.pool.ReleaseVoice(2)

			owner, ok := f.pool.MonoOwner()
			if !ok || owner != 1 {
				t.Fatalf("mono owner = %d/%v, want 1", owner, ok)
			}
			s := f.pool.Voice(0).Snapshot()
			if s.CurrentTouch != 0.8 || s.InitialTouch != 0.8 {
				t.Fatalf("touch = %v/%v, want 0.8", s.InitialTouch, s.CurrentTouch)
			}
			if s.Base.Frequency != 220 {
				t.Fatalf("frequency = %v, want 220", s.Base.Frequency)
			}
			if !reflect.DeepEqual(f.pool.NoteStack(), []voice.Key{1}) {
				t.Fatalf("stack = %v", f.pool.NoteStack())
			}
			if !f.pool.Voice(0).Gate() {
				t.Fatal("gate closed while a key is still held")
			}
		})
	}
}

func TestMonoReleaseOfLastKeyFreesVoice(t *testing.T) {
	f := newFixture(1)
	f.pool.AllocateVoice(1, 220, 1)
	f.pool.AllocateVoice(2, 330, 1)
	f.pool.ReleaseVoice(1) // not the owner: only leaves the stack
	if owner, _ := f.pool.MonoOwner(); owner != 2 {
		t.Fatalf("owner = %d, want 2", owner)
	}
	f.pool.ReleaseVoice(2)
	if _, ok := f.pool.MonoOwner(); ok {
		t.Fatal("mono owner not cleared")
	}
	if f.pool.Voice(0).Gate() {
		t.Fatal("gate still open")
	}
	f.clock.Advance(time.Second)
	if !f.pool.Voice(0).Available() {
		t.Fatal("voice not available after release")
	}
}

func TestMonoAftertouchIsolation(t *testing.T) {
	a, b := newFixture(1), newFixture(1)
	for _, f := range []*fixture{a, b} {
		f.pool.AllocateVoice(1, 220, 0.5)
		f.pool.AllocateVoice(2, 330, 0.5)
		f.tick(10)
	}
	a.pool.TouchMoved(1, 1) // not the owner
	a.tick(1)
	b.tick(1)
	if a.pool.Voice(0).LastOutput() != b.pool.Voice(0).LastOutput() {
		t.Fatal("non-owning key changed the sounding voice")
	}
	a.pool.TouchMoved(2, 1)
	a.tick(1)
	b.tick(1)
	if a.pool.Voice(0).LastOutput().Cutoff == b.pool.Voice(0).LastOutput().Cutoff {
		t.Fatal("owning key did not move the filter")
	}
}

func TestPolyAftertouchOnlyReachesOwner(t *testing.T) {
	f := newFixture(4)
	i := f.pool.AllocateVoice(1, 220, 0.2)
	j := f.pool.AllocateVoice(2, 330, 0.2)
	f.pool.TouchMoved(1, 0.9)
	if got := f.pool.Voice(i).Snapshot().CurrentTouch; got != 0.9 {
		t.Fatalf("owner touch = %v, want 0.9", got)
	}
	if got := f.pool.Voice(j).Snapshot().CurrentTouch; got != 0.2 {
		t.Fatalf("other voice touch = %v, want 0.2", got)
	}
}

func TestSetPolyphonyReleasesHeldNotes(t *testing.T) {
	f := newFixture(4)
	f.pool.AllocateVoice(1, 220, 1)
	f.pool.AllocateVoice(2, 330, 1)
	f.pool.SetPolyphony(1)
	if got := f.pool.Polyphony(); got != 1 {
		t.Fatalf("polyphony = %d, want 1", got)
	}
	if len(f.pool.Allocated()) != 0 {
		t.Fatalf("allocated = %v, want empty", f.pool.Allocated())
	}
	for i := 0; i < f.pool.NumVoices(); i++ {
		if f.pool.Voice(i).Gate() {
			t.Fatalf("voice %d still gated", i)
		}
	}
	f.pool.SetPolyphony(0)
	if got := f.pool.Polyphony(); got != 1 {
		t.Fatalf("polyphony = %d, want clamp to 1", got)
	}
	f.pool.SetPolyphony(99)
	if got := f.pool.Polyphony(); got != 4 {
		t.Fatalf("polyphony = %d, want clamp to 4", got)
	}
}

func TestMonoUsesOnlyVoiceZero(t *testing.T) {
	f := newFixture(4)
	f.pool.SetPolyphony(1)
	for k := voice.Key(1); k <= 5; k++ {
		if got := f.pool.AllocateVoice(k, 200+float64(k), 1); got != 0 {
			t.Fatalf("mono allocation used voice %d", got)
		}
	}
	for i := 1; i < 4; i++ {
		if !f.pool.Voice(i).IsIdle() {
			t.Fatalf("voice %d sounding in mono mode", i)
		}
	}
}

func TestSilenceAndResetAllVoices(t *testing.T) {
	f := newFixture(3)
	f.pool.AllocateVoice(1, 220, 1)
	f.pool.AllocateVoice(2, 330, 1)
	f.tick(10)
	f.pool.SilenceAndResetAllVoices()
	for i, n := range f.nodes {
		v := f.pool.Voice(i)
		if !v.Available() || !v.IsIdle() {
			t.Fatalf("voice %d not reset", i)
		}
		if n.gainL != 0 || n.gainR != 0 || n.resets != 1 {
			t.Fatalf("node %d: gain %v/%v resets %d", i, n.gainL, n.gainR, n.resets)
		}
	}
	if len(f.pool.Allocated()) != 0 {
		t.Fatal("key map not cleared")
	}
	writes := f.nodes[0].writes
	f.tick(5)
	if f.nodes[0].writes != writes {
		t.Fatal("reset voice still receiving updates")
	}
	// pending release callbacks from before the reset stay harmless
	f.clock.Advance(time.Second)
	if got := f.pool.AllocateVoice(3, 440, 1); got != 0 {
		t.Fatalf("first voice after reset = %d, want 0", got)
	}
}

func TestTickEmitsIdleOnce(t *testing.T) {
	f := newFixture(2)
	i := f.pool.AllocateVoice(1, 220, 1)
	f.tick(10)
	f.pool.ReleaseVoice(1)
	f.tick(60)
	var idle []Event
	for _, ev := range f.events {
		if ev.Kind == EventVoiceIdle {
			idle = append(idle, ev)
		}
	}
	if len(idle) != 1 || idle[0].Voice != i {
		t.Fatalf("idle events = %+v", idle)
	}
	if n := f.nodes[i]; n.gainL != 0 || n.gainR != 0 {
		t.Fatalf("idle voice gain = %v/%v", n.gainL, n.gainR)
	}
}

func TestApplyMasterParametersDrivesDelayTime(t *testing.T) {
	f := newFixture(1)
	b := preset.Default()
	b.Master.GlobalLFO = preset.GlobalLFO{RateHz: 1, Waveform: lfo.WaveSine}
	b.Master.GlobalLFOToDelayTime = 0.1
	b.Master.Effects.DelayTime = 0.5
	f.pool.ApplyMasterParameters(b)
	if len(f.master.applied) != 1 || f.master.applied[0] != b.Master.Effects {
		t.Fatalf("applied = %+v", f.master.applied)
	}
	var lo, hi = math.Inf(1), math.Inf(-1)
	for i := 0; i < 100; i++ {
		f.pool.Tick(0.01)
		lo = math.Min(lo, f.master.delay)
		hi = math.Max(hi, f.master.delay)
	}
	if f.master.sets != 100 {
		t.Fatalf("delay writes = %d, want 100", f.master.sets)
	}
	if f.master.ramp != DefaultConfig().RampTime {
		t.Fatalf("ramp = %v", f.master.ramp)
	}
	if lo < 0.4-1e-9 || hi > 0.6+1e-9 || hi-lo < 0.15 {
		t.Fatalf("delay range %v..%v", lo, hi)
	}
}

func TestApplyVoiceParametersIsIdempotent(t *testing.T) {
	f := newFixture(2)
	b := preset.Default()
	b.Voice.FilterCutoff = 1200
	b.Voice.ModulationIndex = 3
	f.pool.ApplyVoiceParameters(b)
	f.pool.ApplyMasterParameters(b)
	first := make([]fakeNodes, len(f.nodes))
	states := make([]voice.ModulationState, len(f.nodes))
	for i, n := range f.nodes {
		first[i] = *n
		states[i] = f.pool.Voice(i).Snapshot()
	}
	f.pool.ApplyVoiceParameters(b)
	f.pool.ApplyMasterParameters(b)
	for i, n := range f.nodes {
		got := *n
		got.writes = first[i].writes
		if got != first[i] {
			t.Fatalf("node %d changed on second apply: %+v vs %+v", i, got, first[i])
		}
		if f.pool.Voice(i).Snapshot() != states[i] {
			t.Fatalf("voice %d state changed on second apply", i)
		}
		if f.pool.Voice(i).Template() != b.Voice {
			t.Fatalf("voice %d template not applied", i)
		}
	}
	if f.nodes[0].cutoff != 1200 || f.nodes[0].indexL != 3 {
		t.Fatalf("idle node not updated: %+v", *f.nodes[0])
	}
}

func TestSetDetuneReachesEveryVoice(t *testing.T) {
	f := newFixture(3)
	f.pool.SetDetune(modulation.DetuneConstant, 5)
	for i := 0; i < 3; i++ {
		if d := f.pool.Voice(i).Detune(); d.Mode != modulation.DetuneConstant || d.Param != 5 {
			t.Fatalf("voice %d detune = %+v", i, d)
		}
	}
	i := f.pool.AllocateVoice(1, 220, 1)
	if n := f.nodes[i]; n.freqL != 225 || n.freqR != 215 {
		t.Fatalf("detuned frequency = %v/%v", n.freqL, n.freqR)
	}
}

func TestLoopPauseGatesTicksNotCommands(t *testing.T) {
	f := newFixture(2)
	l := NewLoop(f.pool)
	ran := 0
	l.Pause()
	l.Do(func(p *Pool) { ran++ })
	l.Step()
	if ran != 1 {
		t.Fatalf("commands run = %d, want 1", ran)
	}
	if l.Ticks() != 0 {
		t.Fatalf("ticks = %d while paused", l.Ticks())
	}
	l.Resume()
	l.Step()
	if l.Ticks() != 1 {
		t.Fatalf("ticks = %d, want 1", l.Ticks())
	}
}

func TestLoopRunsCommandsInOrder(t *testing.T) {
	f := newFixture(2)
	l := NewLoop(f.pool)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		l.Do(func(p *Pool) {
			order = append(order, i)
			if i == 0 {
				p.AllocateVoice(1, 220, 1)
				l.Do(func(*Pool) { order = append(order, 99) })
			}
		})
	}
	l.Drain()
	if !reflect.DeepEqual(order, []int{0, 1, 2, 3, 4, 99}) {
		t.Fatalf("order = %v", order)
	}
	if _, ok := f.pool.VoiceForKey(1); !ok {
		t.Fatal("command did not reach the pool")
	}
}

func TestLoopRoutesAvailabilityThroughQueue(t *testing.T) {
	f := newFixture(2)
	l := NewLoop(f.pool)
	l.Do(func(p *Pool) {
		p.AllocateVoice(1, 220, 1)
		p.ReleaseVoice(1)
	})
	l.Step()
	f.clock.Advance(time.Second)
	if f.pool.Voice(0).Available() {
		t.Fatal("availability flipped outside the loop")
	}
	l.Step()
	if !f.pool.Voice(0).Available() {
		t.Fatal("availability not applied on the next step")
	}
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	f := newFixture(1)
	l := NewLoop(f.pool)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	got := make(chan struct{})
	l.Do(func(*Pool) { close(got) })
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("queued command never ran")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func BenchmarkPoolTick(b *testing.B) {
	f := newFixture(16)
	for k := voice.Key(0); k < 16; k++ {
		f.pool.AllocateVoice(k, 110*math.Pow(2, float64(k)/12), 0.8)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.pool.Tick(0.01)
	}
}
