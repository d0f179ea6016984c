package effects

import "math"

// Chorus is a modulated delay. Left and right read heads run a quarter
// cycle apart.
type Chorus struct {
	sampleRate float64
	bufL, bufR []float32
	pos        int
	size       int
	depth      float32 // modulation depth in samples
	rate       atomicFloat
	phase      float64
	feedback   float32
	wet        atomicFloat
}

// NewChorus builds a chorus whose read heads sweep depthMs around delayMs.
// Rate and mix can change later; delay, depth and feedback (0..0.9) cannot.
func NewChorus(sampleRate int, delayMs, feedback, depthMs, rateHz, wet float32) *Chorus {
	baseSamples := int(float64(delayMs) * float64(sampleRate) / 1000.0)
	depthSamples := float64(depthMs) * float64(sampleRate) / 1000.0
	size := 2*(baseSamples+int(depthSamples)) + 4
	c := &Chorus{
		sampleRate: float64(sampleRate),
		bufL:       make([]float32, size),
		bufR:       make([]float32, size),
		size:       size,
		depth:      float32(depthSamples),
		feedback:   clamp(feedback, 0, 0.9),
	}
	c.SetRate(rateHz)
	c.SetMix(wet)
	return c
}

func (c *Chorus) SetRate(hz float32) { c.rate.Store(clamp(hz, 0, 10)) }
func (c *Chorus) SetMix(v float32)   { c.wet.Store(clamp(v, 0, 1)) }

func (c *Chorus) Process(l, r float32) (float32, float32) {
	wet := c.wet.Load()
	if wet == 0 {
		// keep the line filled so raising the mix later does not click
		c.bufL[c.pos] = l
		c.bufR[c.pos] = r
		c.advance()
		return l, r
	}
	modL := float32(math.Sin(c.phase)) * c.depth
	modR := float32(math.Cos(c.phase)) * c.depth
	c.bufL[c.pos] = l
	c.bufR[c.pos] = r
	delL := c.read(c.bufL, float32(c.size/2)+modL)
	delR := c.read(c.bufR, float32(c.size/2)+modR)
	c.bufL[c.pos] += delL * c.feedback
	c.bufR[c.pos] += delR * c.feedback
	c.advance()
	return l*(1-wet) + delL*wet, r*(1-wet) + delR*wet
}

func (c *Chorus) read(buf []float32, delay float32) float32 {
	readPos := float32(c.pos) - delay
	for readPos < 0 {
		readPos += float32(c.size)
	}
	idx := int(readPos)
	frac := readPos - float32(idx)
	idx2 := idx + 1
	if idx2 >= c.size {
		idx2 = 0
	}
	return buf[idx]*(1-frac) + buf[idx2]*frac
}

func (c *Chorus) advance() {
	c.phase += 2 * math.Pi * float64(c.rate.Load()) / c.sampleRate
	if c.phase > 2*math.Pi {
		c.phase -= 2 * math.Pi
	}
	c.pos++
	if c.pos >= c.size {
		c.pos = 0
	}
}

func (c *Chorus) Reset() {
	clear(c.bufL)
	clear(c.bufR)
	c.pos = 0
	c.phase = 0
}
