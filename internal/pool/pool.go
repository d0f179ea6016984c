// Package pool allocates synthesis voices to keys and drives their
// modulation at control rate.
package pool

import (
	"time"

	"github.com/cbegin/touchfm-go/internal/effects"
	"github.com/cbegin/touchfm-go/internal/lfo"
	"github.com/cbegin/touchfm-go/internal/modulation"
	"github.com/cbegin/touchfm-go/internal/preset"
	"github.com/cbegin/touchfm-go/internal/schedule"
	"github.com/cbegin/touchfm-go/internal/voice"
)

type Config struct {
	ControlRate float64       // ticks per second
	RampTime    time.Duration // ramp applied to every control-rate parameter write
	Scheduler   schedule.Scheduler
}

func DefaultConfig() Config {
	return Config{
		ControlRate: 100,
		RampTime:    20 * time.Millisecond,
	}
}

// Master is the backend's shared output stage as seen by the pool.
type Master interface {
	SetDelayTime(sec float64, ramp time.Duration)
	DelayRange() (lo, hi float64)
	ApplyEffects(s effects.Settings)
}

type EventKind int

const (
	// EventVoiceIdle fires on the tick a released voice falls silent.
	EventVoiceIdle EventKind = iota
	// EventVoiceStolen fires when allocation takes a voice from another key.
	EventVoiceStolen
)

func (k EventKind) String() string {
	switch k {
	case EventVoiceIdle:
		return "voice-idle"
	case EventVoiceStolen:
		return "voice-stolen"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind  EventKind
	Voice int
	Key   voice.Key // previous owner for EventVoiceStolen
}

type heldNote struct {
	key   voice.Key
	freq  float64
	touch float64
}

// Pool owns every voice and all allocation bookkeeping. It is not safe for
// concurrent use: a Loop serialises every call onto one goroutine.
type Pool struct {
	cfg    Config
	voices []*voice.Voice
	master Master
	sched  schedule.Scheduler
	post   func(func(*Pool))

	keyToVoice map[voice.Key]int
	stack      []heldNote
	monoOwner  voice.Key
	monoOwned  bool

	polyphony int
	legato    bool
	detune    voice.Detune
	cursor    int
	seq       uint64

	global   lfo.LFO
	settings preset.Master
	onEvent  func(Event)
}

// New builds one voice per node set. master may be nil when no delay line
// is attached.
func New(cfg Config, nodes []voice.Nodes, master Master) *Pool {
	if cfg.ControlRate <= 0 {
		cfg.ControlRate = DefaultConfig().ControlRate
	}
	if cfg.RampTime < 0 {
		cfg.RampTime = 0
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.Real{}
	}
	def := preset.Default()
	p := &Pool{
		cfg:        cfg,
		voices:     make([]*voice.Voice, len(nodes)),
		master:     master,
		sched:      cfg.Scheduler,
		keyToVoice: make(map[voice.Key]int),
		polyphony:  len(nodes),
		detune:     voice.Detune{Mode: modulation.DetuneProportional, Param: 1},
		settings:   def.Master,
	}
	p.post = func(f func(*Pool)) { f(p) }
	for i, n := range nodes {
		p.voices[i] = voice.New(i, n, def.Voice)
	}
	p.global.Set(def.Master.GlobalLFO.RateHz, def.Master.GlobalLFO.Waveform)
	return p
}

// OnEvent installs the event hook. It is called on the pool's goroutine.
func (p *Pool) OnEvent(f func(Event)) { p.onEvent = f }

func (p *Pool) emit(ev Event) {
	if p.onEvent != nil {
		p.onEvent(ev)
	}
}

// AllocateVoice starts key at freq and returns the voice index used.
func (p *Pool) AllocateVoice(key voice.Key, freq, touch float64) int {
	if len(p.voices) == 0 {
		return -1
	}
	if p.polyphony == 1 {
		return p.allocateMono(key, freq, touch)
	}
	if i, ok := p.keyToVoice[key]; ok {
		if !p.voices[i].Available() {
			p.trigger(i, key, freq, touch)
			return i
		}
		delete(p.keyToVoice, key)
	}
	i := p.nextAvailable()
	if i < 0 {
		i = p.oldest()
		if prev, owned := p.voices[i].Owner(); owned {
			if j, ok := p.keyToVoice[prev]; ok && j == i {
				delete(p.keyToVoice, prev)
			}
			p.emit(Event{Kind: EventVoiceStolen, Voice: i, Key: prev})
		}
	}
	p.trigger(i, key, freq, touch)
	p.keyToVoice[key] = i
	return i
}

func (p *Pool) allocateMono(key voice.Key, freq, touch float64) int {
	p.removeHeld(key)
	p.stack = append(p.stack, heldNote{key: key, freq: freq, touch: touch})
	v := p.voices[0]
	if p.legato && p.monoOwned && v.Gate() {
		v.Retrigger(freq, touch, key)
	} else {
		p.trigger(0, key, freq, touch)
	}
	p.monoOwner = key
	p.monoOwned = true
	return 0
}

func (p *Pool) trigger(i int, key voice.Key, freq, touch float64) {
	p.seq++
	p.voices[i].Trigger(freq, touch, key, p.seq)
}

// nextAvailable scans round-robin from the cursor.
func (p *Pool) nextAvailable() int {
	for n := 0; n < p.polyphony; n++ {
		i := (p.cursor + n) % p.polyphony
		if p.voices[i].Available() {
			p.cursor = (i + 1) % p.polyphony
			return i
		}
	}
	return -1
}

// oldest returns the voice triggered longest ago.
func (p *Pool) oldest() int {
	best := 0
	for i := 1; i < p.polyphony; i++ {
		if p.voices[i].Seq() < p.voices[best].Seq() {
			best = i
		}
	}
	return best
}

// ReleaseVoice ends key. Unknown keys are ignored.
func (p *Pool) ReleaseVoice(key voice.Key) {
	if p.polyphony == 1 {
		p.releaseMono(key)
		return
	}
	i, ok := p.keyToVoice[key]
	if !ok {
		return
	}
	delete(p.keyToVoice, key)
	p.release(i, key)
}

func (p *Pool) releaseMono(key voice.Key) {
	if !p.removeHeld(key) {
		return
	}
	if !p.monoOwned || p.monoOwner != key {
		return
	}
	if n := len(p.stack); n > 0 {
		top := p.stack[n-1]
		if p.legato {
			p.voices[0].Retrigger(top.freq, top.touch, top.key)
		} else {
			p.trigger(0, top.key, top.freq, top.touch)
		}
		p.monoOwner = top.key
		return
	}
	p.release(0, key)
	p.monoOwned = false
	p.monoOwner = 0
}

func (p *Pool) release(i int, key voice.Key) {
	gen, delay, ok := p.voices[i].Release(key)
	if !ok {
		return
	}
	p.sched.AfterFunc(delay, func() {
		p.post(func(p *Pool) { p.voices[i].MarkAvailable(gen) })
	})
}

func (p *Pool) removeHeld(key voice.Key) bool {
	for i, n := range p.stack {
		if n.key == key {
			p.stack = append(p.stack[:i], p.stack[i+1:]...)
			return true
		}
	}
	return false
}

// TouchMoved forwards aftertouch to the voice key owns.
func (p *Pool) TouchMoved(key voice.Key, touch float64) {
	if p.polyphony == 1 {
		for i := range p.stack {
			if p.stack[i].key == key {
				p.stack[i].touch = touch
			}
		}
		if p.monoOwned && p.monoOwner == key {
			p.voices[0].SetTouch(touch)
		}
		return
	}
	i, ok := p.keyToVoice[key]
	if !ok {
		return
	}
	if owner, owned := p.voices[i].Owner(); owned && owner == key {
		p.voices[i].SetTouch(touch)
	}
}

// SilenceAndResetAllVoices hard-resets every voice and forgets all keys.
// The output must already be faded out.
func (p *Pool) SilenceAndResetAllVoices() {
	for _, v := range p.voices {
		v.SilenceAndReset()
	}
	p.forget()
}

func (p *Pool) forget() {
	clear(p.keyToVoice)
	p.stack = p.stack[:0]
	p.monoOwned = false
	p.monoOwner = 0
	p.cursor = 0
}

// SetPolyphony limits allocation to the first n voices; 1 selects mono.
// Held notes are released.
func (p *Pool) SetPolyphony(n int) {
	if n < 1 {
		n = 1
	}
	if n > len(p.voices) {
		n = len(p.voices)
	}
	if n == p.polyphony {
		return
	}
	for key, i := range p.keyToVoice {
		p.release(i, key)
	}
	if p.monoOwned {
		p.release(0, p.monoOwner)
	}
	p.forget()
	p.polyphony = n
}

func (p *Pool) SetLegato(on bool) { p.legato = on }

// SetDetune changes the stereo split on every voice.
func (p *Pool) SetDetune(mode modulation.DetuneMode, param float64) {
	p.detune = voice.Detune{Mode: mode, Param: param}
	for _, v := range p.voices {
		v.SetDetune(p.detune)
	}
}

// ApplyVoiceParameters installs the bundle's voice template on every voice.
func (p *Pool) ApplyVoiceParameters(b preset.Bundle) {
	for _, v := range p.voices {
		v.Apply(b.Voice)
	}
}

// ApplyMasterParameters installs the global LFO and master FX settings.
func (p *Pool) ApplyMasterParameters(b preset.Bundle) {
	p.settings = b.Master
	p.global.Set(b.Master.GlobalLFO.RateHz, b.Master.GlobalLFO.Waveform)
	if p.master != nil {
		p.master.ApplyEffects(b.Master.Effects)
	}
}

// Tick advances the global LFO once, every sounding voice in index order,
// then the master delay time.
func (p *Pool) Tick(dt float64) {
	g := p.global.Advance(dt)
	ctx := voice.TickContext{GlobalLFO: g, GlobalLFOPhase: p.global.Phase(), Ramp: p.cfg.RampTime}
	for i, v := range p.voices {
		if v.Update(dt, ctx) {
			p.emit(Event{Kind: EventVoiceIdle, Voice: i})
		}
	}
	if p.master != nil && p.settings.GlobalLFOToDelayTime != 0 {
		lo, hi := p.master.DelayRange()
		t := modulation.DelayTime(p.settings.Effects.DelayTime, lo, hi, g*p.settings.GlobalLFOToDelayTime)
		p.master.SetDelayTime(t, p.cfg.RampTime)
	}
}

func (p *Pool) Config() Config { return p.cfg }
func (p *Pool) NumVoices() int { return len(p.voices) }
func (p *Pool) Voice(i int) *voice.Voice { return p.voices[i] }
func (p *Pool) Polyphony() int { return p.polyphony }
func (p *Pool) Legato() bool { return p.legato }
func (p *Pool) Detune() voice.Detune { return p.detune }
func (p *Pool) GlobalLFO() float64 { return p.global.Current() }
func (p *Pool) Master() preset.Master { return p.settings }

// Allocated returns a copy of the key to voice map.
func (p *Pool) Allocated() map[voice.Key]int {
	m := make(map[voice.Key]int, len(p.keyToVoice))
	for k, i := range p.keyToVoice {
		m[k] = i
	}
	return m
}

// VoiceForKey returns the voice key currently drives.
func (p *Pool) VoiceForKey(key voice.Key) (int, bool) {
	if p.polyphony == 1 {
		return 0, p.monoOwned && p.monoOwner == key
	}
	i, ok := p.keyToVoice[key]
	return i, ok
}

func (p *Pool) MonoOwner() (voice.Key, bool) { return p.monoOwner, p.monoOwned }

// NoteStack returns the held mono keys, oldest first.
func (p *Pool) NoteStack() []voice.Key {
	keys := make([]voice.Key, len(p.stack))
	for i, n := range p.stack {
		keys[i] = n.key
	}
	return keys
}
