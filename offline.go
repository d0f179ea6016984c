package touchfm

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"time"

	"github.com/cbegin/touchfm-go/internal/schedule"
	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"
)

type Action int

const (
	ActionNoteOn Action = iota
	ActionNoteOff
	ActionTouch
	ActionLoadPreset
	ActionPolyphony
	ActionLegato
	ActionDetune
	ActionVolume
)

// ScriptEvent is one timed input for RenderScript. Only the fields the
// action needs are read.
type ScriptEvent struct {
	At     time.Duration
	Action Action
	Key    Key
	Freq   float64
	Touch  float64
	Voices int        // ActionPolyphony
	On     bool       // ActionLegato
	Mode   DetuneMode // ActionDetune
	Param  float64    // ActionDetune parameter, ActionVolume gain
	Preset Bundle     // ActionLoadPreset
}

// NoteFrequency returns the equal-tempered frequency of a MIDI note number.
func NoteFrequency(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}

// RenderScript renders length of stereo audio from a fresh engine driven by
// script. Time is virtual: control ticks, voice releases and preset fades
// advance with the rendered frames, so equal inputs give equal output.
func RenderScript(sampleRate int, script []ScriptEvent, length time.Duration, opts ...EngineOption) ([]float32, error) {
	if length < 0 {
		return nil, errors.New("length must not be negative")
	}
	clock := schedule.NewManual()
	opts = append(opts[:len(opts):len(opts)], withScheduler(clock))
	e, err := New(sampleRate, opts...)
	if err != nil {
		return nil, err
	}
	return e.renderScript(clock, script, length), nil
}

// renderScript steps the control loop once per control interval, applying
// due script events first and firing scheduled callbacks after the
// interval's frames are rendered. e must have been built on clock.
func (e *Engine) renderScript(clock *schedule.Manual, script []ScriptEvent, length time.Duration) []float32 {
	events := slices.Clone(script)
	slices.SortStableFunc(events, func(a, b ScriptEvent) int { return cmp.Compare(a.At, b.At) })

	total := framesAt(length, e.sampleRate)
	out := make([]float32, total*2)
	interval := e.loop.Interval()
	var now time.Duration
	next, written := 0, 0
	for written < total {
		for next < len(events) && events[next].At <= now {
			e.apply(events[next])
			next++
		}
		e.loop.Step()
		now += interval
		end := min(framesAt(now, e.sampleRate), total)
		e.backend.Process(out[written*2 : end*2])
		written = end
		clock.Advance(interval)
	}
	return out
}

func (e *Engine) apply(ev ScriptEvent) {
	switch ev.Action {
	case ActionNoteOn:
		e.NoteOn(ev.Key, ev.Freq, ev.Touch)
	case ActionNoteOff:
		e.NoteOff(ev.Key)
	case ActionTouch:
		e.TouchMoved(ev.Key, ev.Touch)
	case ActionLoadPreset:
		e.LoadPreset(ev.Preset, nil)
	case ActionPolyphony:
		e.SetPolyphony(ev.Voices)
	case ActionLegato:
		e.SetLegatoMode(ev.On)
	case ActionDetune:
		e.SetDetuneMode(ev.Mode, ev.Param)
	case ActionVolume:
		e.SetMasterVolume(ev.Param)
	}
}

func framesAt(d time.Duration, sampleRate int) int {
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}

// WriteWAV encodes interleaved stereo samples as 16-bit PCM.
func WriteWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, 2, 1)
	buf := &audio.Float32Buffer{
		Format: &audio.Format{
			SampleRate:  sampleRate,
			NumChannels: 2,
		},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return enc.Close()
}

// SaveWAV writes samples to a new WAV file at path.
func SaveWAV(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, samples, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
