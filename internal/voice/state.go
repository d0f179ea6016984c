package voice

// Base holds the unmodulated, source-of-truth values. Only explicit parameter
// sets (Trigger, Retrigger, Apply) write here; the control loop reads them
// and writes derived output only. Any state rebuild starts from Base.
type Base struct {
	Frequency           float64
	ModulatorMultiplier float64
	ModulationIndex     float64
	FilterCutoff        float64
	FaderGain           float64
}

// LFOState is the per-voice LFO position.
type LFOState struct {
	Phase        float64
	Hold         float64
	DelayElapsed float64
}

// Glide is the derived pitch transition started by a legato retrigger.
type Glide struct {
	From     float64
	Elapsed  float64
	Duration float64
}

// ModulationState is the full per-voice modulation record. Gate is open
// exactly while the loudness envelope is in attack, decay or sustain.
type ModulationState struct {
	Gate      bool
	Envelopes [NumEnvelopes]Envelope
	VoiceLFO  LFOState

	// Shared global LFO reference, copied in every tick.
	GlobalLFOPhase float64
	GlobalLFOValue float64

	KeyTrack     float64
	InitialTouch float64
	CurrentTouch float64

	Base Base

	// Latched from the initial touch at trigger and on every Apply.
	AmpScale     float64
	ModEnvAmount float64
	AuxEnvScale  float64
	// Moves the amplitude scale from a stolen note's value to AmpScale.
	AmpGlide Glide

	Glide Glide
}

// Output is the set of values the last control update wrote to the nodes.
type Output struct {
	FrequencyL, FrequencyR float64
	MultiplierL            float64
	MultiplierR            float64
	IndexL, IndexR         float64
	Cutoff                 float64
	Amplitude              float64
	GainL, GainR           float64
}
