package effects

import "math"

// Compressor is a stereo-linked output compressor. Both channels share one
// envelope so the image does not wander under gain reduction.
type Compressor struct {
	threshold atomicFloat // linear
	ratio     atomicFloat
	attack    float32 // coefficient
	release   float32 // coefficient
	makeup    float32
	env       float32
}

// NewCompressor creates a compressor effect.
// thresholdDB: threshold in dB (e.g., -20)
// ratio: compression ratio (e.g., 4 for 4:1)
// attackMs: attack time in ms
// releaseMs: release time in ms
// makeupDB: makeup gain in dB
func NewCompressor(sampleRate int, thresholdDB, ratio, attackMs, releaseMs, makeupDB float32) *Compressor {
	sr := float64(sampleRate)
	c := &Compressor{
		attack:  float32(1.0 - math.Exp(-1.0/(float64(attackMs)*sr/1000.0))),
		release: float32(1.0 - math.Exp(-1.0/(float64(releaseMs)*sr/1000.0))),
		makeup:  float32(math.Pow(10, float64(makeupDB)/20)),
	}
	c.SetThreshold(thresholdDB)
	c.SetRatio(ratio)
	return c
}

func (c *Compressor) SetThreshold(db float32) {
	c.threshold.Store(float32(math.Pow(10, float64(clamp(db, -60, 0))/20)))
}

func (c *Compressor) SetRatio(ratio float32) { c.ratio.Store(clamp(ratio, 1, 20)) }

func (c *Compressor) Process(l, r float32) (float32, float32) {
	peak := float32(math.Max(math.Abs(float64(l)), math.Abs(float64(r))))
	if peak > c.env {
		c.env += c.attack * (peak - c.env)
	} else {
		c.env += c.release * (peak - c.env)
	}
	g := c.gain(c.env) * c.makeup
	return l * g, r * g
}

func (c *Compressor) gain(env float32) float32 {
	th := c.threshold.Load()
	if env <= th || th <= 0 {
		return 1.0
	}
	over := env / th
	return float32(math.Pow(float64(over), float64(1.0/c.ratio.Load()-1)))
}

func (c *Compressor) Reset() {
	c.env = 0
}
