package voice

import "github.com/cbegin/touchfm-go/internal/lfo"

// Envelope slots.
const (
	Loudness = iota
	Modulator
	Auxiliary
	NumEnvelopes
)

// LFOParams configure the per-voice LFO. Delay is the time, in seconds, over
// which its depth ramps in after each trigger.
type LFOParams struct {
	RateHz   float64      `json:"rate_hz"`
	Waveform lfo.Waveform `json:"waveform"`
	Delay    float64      `json:"delay"`
}

// Routes is the fixed modulation matrix. Pitch amounts are semitones, filter
// amounts octaves, index/multiplier amounts are linear units.
type Routes struct {
	ModEnvToModIndex      float64 `json:"mod_env_to_mod_index"`
	AuxEnvToPitch         float64 `json:"aux_env_to_pitch"`
	AuxEnvToFilter        float64 `json:"aux_env_to_filter"`
	AuxEnvToModMultiplier float64 `json:"aux_env_to_mod_multiplier"`

	VoiceLFOToPitch    float64 `json:"voice_lfo_to_pitch"`
	VoiceLFOToFilter   float64 `json:"voice_lfo_to_filter"`
	VoiceLFOToModIndex float64 `json:"voice_lfo_to_mod_index"`
	VoiceLFOToFader    float64 `json:"voice_lfo_to_fader"`
	// VibratoFollowsAuxEnv lets the auxiliary envelope level scale the voice
	// LFO pitch amount (0 = fixed depth, 1 = depth equals envelope level).
	VibratoFollowsAuxEnv float64 `json:"vibrato_follows_aux_env"`

	GlobalLFOToPitch    float64 `json:"global_lfo_to_pitch"`
	GlobalLFOToAmp      float64 `json:"global_lfo_to_amp"`
	GlobalLFOToFilter   float64 `json:"global_lfo_to_filter"`
	GlobalLFOToModIndex float64 `json:"global_lfo_to_mod_index"`

	// Touch sensitivities, latched at trigger.
	TouchToAmp    float64 `json:"touch_to_amp"`
	TouchToModEnv float64 `json:"touch_to_mod_env"`
	TouchToAuxEnv float64 `json:"touch_to_aux_env"`

	// Aftertouch amounts apply to the touch movement since trigger.
	AftertouchToFilter   float64 `json:"aftertouch_to_filter"`
	AftertouchToModIndex float64 `json:"aftertouch_to_mod_index"`

	KeyTrack float64 `json:"key_track"`
}

// Template is everything a preset decides about a voice. Values are final:
// macros and offsets have already been resolved by the preset layer.
type Template struct {
	FaderGain           float64                      `json:"fader_gain"`
	ModulatorMultiplier float64                      `json:"modulator_multiplier"`
	ModulationIndex     float64                      `json:"modulation_index"`
	FilterCutoff        float64                      `json:"filter_cutoff"`
	Envelopes           [NumEnvelopes]EnvelopeParams `json:"envelopes"`
	VoiceLFO            LFOParams                    `json:"voice_lfo"`
	Routes              Routes                       `json:"routes"`
	GlideTime           float64                      `json:"glide_time"`
}

func DefaultTemplate() Template {
	return Template{
		FaderGain:           0.5,
		ModulatorMultiplier: 2.0,
		ModulationIndex:     1.6,
		FilterCutoff:        4000,
		Envelopes: [NumEnvelopes]EnvelopeParams{
			Loudness:  {Attack: 0.005, Decay: 0.12, Sustain: 0.75, Release: 0.2},
			Modulator: {Attack: 0.002, Decay: 0.3, Sustain: 0.3, Release: 0.2},
			Auxiliary: {Attack: 0.4, Decay: 0.5, Sustain: 1.0, Release: 0.3},
		},
		VoiceLFO: LFOParams{RateHz: 5.5, Waveform: lfo.WaveSine, Delay: 0.25},
		Routes: Routes{
			ModEnvToModIndex:     1.2,
			VoiceLFOToPitch:      0.15,
			VibratoFollowsAuxEnv: 1,
			TouchToAmp:           0.6,
			TouchToModEnv:        0.5,
			AftertouchToFilter:   2,
			KeyTrack:             0.5,
		},
		GlideTime: 0.06,
	}
}
