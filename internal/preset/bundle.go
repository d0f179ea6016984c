// Package preset defines the parameter bundle the engine receives from the
// preset layer. Bundles are already final: macro resolution and slot banks
// live elsewhere.
package preset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/cbegin/touchfm-go/internal/effects"
	"github.com/cbegin/touchfm-go/internal/lfo"
	"github.com/cbegin/touchfm-go/internal/voice"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid preset")

type GlobalLFO struct {
	RateHz   float64      `json:"rate_hz"`
	Waveform lfo.Waveform `json:"waveform"`
}

// Master holds the parameters shared by all voices.
type Master struct {
	GlobalLFO GlobalLFO `json:"global_lfo"`
	// GlobalLFOToDelayTime is the delay time modulation depth in seconds.
	GlobalLFOToDelayTime float64          `json:"global_lfo_to_delay_time"`
	Effects              effects.Settings `json:"effects"`
}

// Bundle is one complete preset.
type Bundle struct {
	Name   string         `json:"name"`
	Voice  voice.Template `json:"voice"`
	Master Master         `json:"master"`
}

func Default() Bundle {
	return Bundle{
		Name:  "init",
		Voice: voice.DefaultTemplate(),
		Master: Master{
			GlobalLFO: GlobalLFO{RateHz: 0.2, Waveform: lfo.WaveTriangle},
			Effects:   effects.DefaultSettings(),
		},
	}
}

// Validate reports the first out-of-range value. Values the engine would
// only clamp (fader gain, cutoff) are still rejected here so a bad file is
// noticed instead of silently altered.
func (b Bundle) Validate() error {
	v := b.Voice
	checks := []struct {
		name   string
		value  float64
		lo, hi float64
	}{
		{"voice.fader_gain", v.FaderGain, 0, 1},
		{"voice.modulator_multiplier", v.ModulatorMultiplier, 0, 100},
		{"voice.modulation_index", v.ModulationIndex, 0, 100},
		{"voice.filter_cutoff", v.FilterCutoff, 20, 20000},
		{"voice.voice_lfo.rate_hz", v.VoiceLFO.RateHz, 0, lfo.MaxRateHz},
		{"voice.voice_lfo.delay", v.VoiceLFO.Delay, 0, 60},
		{"voice.glide_time", v.GlideTime, 0, 10},
		{"voice.routes.key_track", v.Routes.KeyTrack, 0, 1},
		{"voice.routes.vibrato_follows_aux_env", v.Routes.VibratoFollowsAuxEnv, 0, 1},
		{"voice.routes.touch_to_amp", v.Routes.TouchToAmp, 0, 1},
		{"voice.routes.touch_to_mod_env", v.Routes.TouchToModEnv, 0, 1},
		{"voice.routes.touch_to_aux_env", v.Routes.TouchToAuxEnv, 0, 1},
		{"master.global_lfo.rate_hz", b.Master.GlobalLFO.RateHz, 0, lfo.MaxRateHz},
		{"master.global_lfo_to_delay_time", b.Master.GlobalLFOToDelayTime, 0, 2},
		{"master.effects.delay_time", b.Master.Effects.DelayTime, effects.MinDelaySeconds, 2},
		{"master.effects.delay_feedback", b.Master.Effects.DelayFeedback, 0, 0.95},
		{"master.effects.delay_cross", b.Master.Effects.DelayCross, 0, 1},
		{"master.effects.delay_mix", b.Master.Effects.DelayMix, 0, 1},
		{"master.effects.reverb_feedback", b.Master.Effects.ReverbFeedback, 0, 0.95},
		{"master.effects.reverb_mix", b.Master.Effects.ReverbMix, 0, 1},
		{"master.effects.chorus_rate_hz", b.Master.Effects.ChorusRateHz, 0, 10},
		{"master.effects.chorus_mix", b.Master.Effects.ChorusMix, 0, 1},
		{"master.effects.comp_threshold_db", b.Master.Effects.CompThreshold, -60, 0},
		{"master.effects.comp_ratio", b.Master.Effects.CompRatio, 1, 20},
	}
	for _, c := range checks {
		if math.IsNaN(c.value) || c.value < c.lo || c.value > c.hi {
			return fmt.Errorf("%w: %s must be in [%g,%g], got %g", ErrInvalid, c.name, c.lo, c.hi, c.value)
		}
	}
	for i, env := range v.Envelopes {
		for _, seg := range []struct {
			name  string
			value float64
		}{{"attack", env.Attack}, {"decay", env.Decay}, {"release", env.Release}} {
			if math.IsNaN(seg.value) || seg.value < 0 || seg.value > 60 {
				return fmt.Errorf("%w: voice.envelopes[%d].%s must be in [0,60], got %g", ErrInvalid, i, seg.name, seg.value)
			}
		}
		if math.IsNaN(env.Sustain) || env.Sustain < 0 || env.Sustain > 1 {
			return fmt.Errorf("%w: voice.envelopes[%d].sustain must be in [0,1], got %g", ErrInvalid, i, env.Sustain)
		}
	}
	return nil
}

// Decode reads a JSON bundle. Fields missing from the input keep their
// Default values.
func Decode(r io.Reader) (Bundle, error) {
	b := Default()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return Bundle{}, fmt.Errorf("decode preset: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

// LoadJSON decodes the bundle stored at path.
func LoadJSON(path string) (Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return Bundle{}, err
	}
	defer f.Close()
	b, err := Decode(f)
	if err != nil {
		return Bundle{}, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}
