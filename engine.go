// Package touchfm is a real-time voice allocator and modulation router for a
// touch-keyboard FM synthesizer. An Engine turns key, touch and preset input
// into ramped parameter writes on an FM backend and plays the result.
package touchfm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	intaudio "github.com/cbegin/touchfm-go/internal/audio"
	intfm "github.com/cbegin/touchfm-go/internal/fm"
	"github.com/cbegin/touchfm-go/internal/modulation"
	"github.com/cbegin/touchfm-go/internal/pool"
	"github.com/cbegin/touchfm-go/internal/preset"
	"github.com/cbegin/touchfm-go/internal/schedule"
	"github.com/cbegin/touchfm-go/internal/transition"
	"github.com/cbegin/touchfm-go/internal/voice"
)

// Key identifies a physical key or touch point.
type Key = voice.Key

// Bundle is a complete preset: voice template plus master settings.
type Bundle = preset.Bundle

// DetuneMode selects how a voice's frequency is split across the stereo
// oscillator pair.
type DetuneMode = modulation.DetuneMode

const (
	DetuneProportional = modulation.DetuneProportional
	DetuneConstant     = modulation.DetuneConstant
)

// DefaultPreset returns the initial bundle every engine starts with.
func DefaultPreset() Bundle { return preset.Default() }

// LoadPresetFile reads and validates a JSON preset.
func LoadPresetFile(path string) (Bundle, error) { return preset.LoadJSON(path) }

type EventKind int

const (
	// EventVoiceIdle: a released voice finished its release and fell silent.
	EventVoiceIdle EventKind = iota
	// EventVoiceStolen: a new note took a sounding voice from Key.
	EventVoiceStolen
	// EventPresetApplied: a LoadPreset transition has faded back in.
	EventPresetApplied
)

func (k EventKind) String() string {
	switch k {
	case EventVoiceIdle:
		return "voice-idle"
	case EventVoiceStolen:
		return "voice-stolen"
	case EventPresetApplied:
		return "preset-applied"
	default:
		return "unknown"
	}
}

// Event is delivered on the Watch channel.
type Event struct {
	Kind   EventKind
	Voice  int
	Key    Key    // previous owner for EventVoiceStolen
	Preset string // bundle name for EventPresetApplied
}

type EngineOption func(*engineConfig)

type engineConfig struct {
	fm         intfm.Params
	pool       pool.Config
	transition transition.Config
	bufferSize time.Duration
	logger     *slog.Logger
	sampleTap  func([]float32)
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		fm:         intfm.DefaultParams(),
		pool:       pool.DefaultConfig(),
		transition: transition.DefaultConfig(),
	}
}

// WithVoices sets the size of the voice pool.
func WithVoices(n int) EngineOption {
	return func(cfg *engineConfig) {
		cfg.fm.Voices = n
	}
}

// WithControlRate sets how many times per second modulation is evaluated.
func WithControlRate(hz float64) EngineOption {
	return func(cfg *engineConfig) {
		cfg.pool.ControlRate = hz
	}
}

// WithRampTime sets the ramp applied to every control-rate parameter write.
func WithRampTime(d time.Duration) EngineOption {
	return func(cfg *engineConfig) {
		cfg.pool.RampTime = d
	}
}

// WithFadeTime sets the fade out and fade in used by LoadPreset.
func WithFadeTime(d time.Duration) EngineOption {
	return func(cfg *engineConfig) {
		cfg.transition.FadeTime = d
	}
}

// WithBufferSize sets the audio device buffer. Zero keeps the default.
func WithBufferSize(d time.Duration) EngineOption {
	return func(cfg *engineConfig) {
		cfg.bufferSize = d
	}
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(cfg *engineConfig) {
		cfg.logger = l
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) EngineOption {
	return func(cfg *engineConfig) {
		cfg.sampleTap = tap
	}
}

func withScheduler(s schedule.Scheduler) EngineOption {
	return func(cfg *engineConfig) {
		cfg.pool.Scheduler = s
		cfg.transition.Scheduler = s
	}
}

// Engine owns the voice pool, its control loop, the preset transition
// coordinator and the FM backend. Every method is safe for concurrent use
// and returns without waiting for the control loop.
type Engine struct {
	sampleRate int
	cfg        engineConfig
	log        *slog.Logger
	backend    *intfm.Engine
	loop       *pool.Loop
	coord      *transition.Coordinator

	mu     sync.Mutex
	volume float64
	output *intaudio.Output
	cancel context.CancelFunc
	done   chan struct{}

	eventCh   chan Event
	eventChMu sync.Mutex
}

func New(sampleRate int, opts ...EngineOption) (*Engine, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.fm.Voices <= 0 {
		return nil, errors.New("voice count must be positive")
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	backend := intfm.New(sampleRate, cfg.fm)
	nodes := make([]voice.Nodes, backend.NumNodes())
	for i := range nodes {
		nodes[i] = backend.Node(i)
	}
	p := pool.New(cfg.pool, nodes, backend)
	e := &Engine{
		sampleRate: sampleRate,
		cfg:        cfg,
		log:        cfg.logger,
		backend:    backend,
		loop:       pool.NewLoop(p),
		volume:     cfg.fm.MasterGain,
	}
	p.OnEvent(e.onPoolEvent)
	tcfg := cfg.transition
	tcfg.Logger = cfg.logger
	tcfg.OnApplied = e.onPresetApplied
	e.coord = transition.New(tcfg, e.loop, backend)
	return e, nil
}

func (e *Engine) SampleRate() int { return e.sampleRate }

// NoteOn starts key at freq with the given touch amount (0..1).
func (e *Engine) NoteOn(key Key, freq, touch float64) {
	e.loop.Do(func(p *pool.Pool) { p.AllocateVoice(key, freq, touch) })
}

// NoteOff releases key. Keys that are not sounding are ignored.
func (e *Engine) NoteOff(key Key) {
	e.loop.Do(func(p *pool.Pool) { p.ReleaseVoice(key) })
}

// TouchMoved updates aftertouch for key.
func (e *Engine) TouchMoved(key Key, touch float64) {
	e.loop.Do(func(p *pool.Pool) { p.TouchMoved(key, touch) })
}

// SetPolyphony limits the number of simultaneous voices. 1 selects mono.
func (e *Engine) SetPolyphony(n int) {
	e.loop.Do(func(p *pool.Pool) { p.SetPolyphony(n) })
}

// SetLegatoMode enables legato retriggering in mono mode.
func (e *Engine) SetLegatoMode(on bool) {
	e.loop.Do(func(p *pool.Pool) { p.SetLegato(on) })
}

// SetDetuneMode sets the stereo detune. param is a ratio (1..1.05) for
// DetuneProportional and Hz (0..20) for DetuneConstant.
func (e *Engine) SetDetuneMode(mode DetuneMode, param float64) {
	e.loop.Do(func(p *pool.Pool) { p.SetDetune(mode, param) })
}

// ApplyVoiceParameters installs b's voice template immediately, without a
// transition. Sounding notes keep playing with the new parameters.
func (e *Engine) ApplyVoiceParameters(b Bundle) {
	e.loop.Do(func(p *pool.Pool) { p.ApplyVoiceParameters(b) })
}

// ApplyMasterParameters installs b's global LFO and effect settings
// immediately, without a transition.
func (e *Engine) ApplyMasterParameters(b Bundle) {
	e.loop.Do(func(p *pool.Pool) { p.ApplyMasterParameters(b) })
}

// LoadPreset switches to b through a full fade out, reset and fade in.
// onComplete, if not nil, runs once b is audible. Loads issued while a
// transition runs are coalesced into one more transition to the latest b.
func (e *Engine) LoadPreset(b Bundle, onComplete func()) {
	e.coord.Load(b, onComplete)
}

// Transitioning reports whether a preset transition is running or queued.
func (e *Engine) Transitioning() bool { return e.coord.Busy() }

// SetMasterVolume sets the output gain (0..2). During a preset transition the
// new volume is where the fade in ends.
func (e *Engine) SetMasterVolume(volume float64) {
	volume = modulation.Clamp(volume, 0, 2)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = volume
	e.coord.SetGain(volume, e.cfg.pool.RampTime)
}

func (e *Engine) MasterVolume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// SetEQBand sets a master EQ band gain (0..2, 1 is flat). Band frequencies:
// 0=<200Hz, 1=200-800Hz, 2=800-2.5kHz, 3=2.5-8kHz, 4=>8kHz.
// This takes effect immediately on the audio thread (lock-free).
func (e *Engine) SetEQBand(band int, gain float64) {
	e.backend.SetEQBand(band, gain)
}

// EQBand returns the current gain for a master EQ band (0-4).
func (e *Engine) EQBand(band int) float64 { return e.backend.EQBand(band) }

// ActiveVoices returns how many backend nodes are producing sound.
func (e *Engine) ActiveVoices() int { return e.backend.ActiveVoiceCount() }

// Process renders interleaved stereo frames into dst. Use it only when the
// engine was not started on an audio device.
func (e *Engine) Process(dst []float32) { e.backend.Process(dst) }

// Start opens the default audio device and starts the control loop.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.output != nil {
		return errors.New("engine already started")
	}
	stream := intaudio.NewStream(e.backend, e.cfg.sampleTap)
	out, err := intaudio.Open(e.sampleRate, stream, e.cfg.bufferSize)
	if err != nil {
		return fmt.Errorf("open audio output: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.loop.Run(ctx)
	}()
	out.Play()
	e.output, e.cancel, e.done = out, cancel, done
	e.log.Info("engine started",
		"sample_rate", e.sampleRate,
		"voices", e.backend.NumNodes(),
		"control_interval", e.loop.Interval(),
	)
	return nil
}

// Stop halts the control loop and closes the audio device.
func (e *Engine) Stop() error {
	e.mu.Lock()
	out, cancel, done := e.output, e.cancel, e.done
	e.output, e.cancel, e.done = nil, nil, nil
	e.mu.Unlock()
	if out == nil {
		return nil
	}
	cancel()
	<-done
	err := out.Close()
	e.log.Info("engine stopped")
	return err
}

// Run starts the engine and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return e.Stop()
}

// Watch returns a channel that receives engine events. The channel is
// buffered (cap 32) and events are dropped when it is full; receive in a
// goroutine. Only the most recent Watch channel receives events.
func (e *Engine) Watch() <-chan Event {
	ch := make(chan Event, 32)
	e.eventChMu.Lock()
	e.eventCh = ch
	e.eventChMu.Unlock()
	return ch
}

func (e *Engine) sendEvent(ev Event) {
	e.eventChMu.Lock()
	ch := e.eventCh
	e.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full; drop event
		}
	}
}

func (e *Engine) onPoolEvent(ev pool.Event) {
	switch ev.Kind {
	case pool.EventVoiceIdle:
		e.sendEvent(Event{Kind: EventVoiceIdle, Voice: ev.Voice})
	case pool.EventVoiceStolen:
		e.log.Debug("voice stolen", "voice", ev.Voice, "key", ev.Key)
		e.sendEvent(Event{Kind: EventVoiceStolen, Voice: ev.Voice, Key: ev.Key})
	}
}

func (e *Engine) onPresetApplied(b preset.Bundle) {
	e.sendEvent(Event{Kind: EventPresetApplied, Preset: b.Name})
}
