package effects

// Reverb is a Schroeder-style reverb: four parallel comb filters feeding two
// allpass stages. The difference between even and odd combs adds width.
type Reverb struct {
	combs    [4]combFilter
	allpass  [2]allpassFilter
	feedback atomicFloat
	wet      atomicFloat
}

type combFilter struct {
	buf []float32
	pos int
}

type allpassFilter struct {
	buf []float32
	pos int
	fb  float32
}

// NewReverb sizes the comb and allpass lines from roomSize (0..1). feedback
// (0..0.95) sets the decay and wet the mix; both can change later.
func NewReverb(sampleRate int, roomSize, feedback, wet float32) *Reverb {
	base := int(float32(sampleRate) * clamp(roomSize, 0, 1) * 0.05)
	if base < 10 {
		base = 10
	}
	r := &Reverb{}
	r.SetFeedback(feedback)
	r.SetMix(wet)
	// prime-ish ratios keep the comb resonances apart
	combLens := [4]int{base, base * 1117 / 1000, base * 1271 / 1000, base * 1437 / 1000}
	for i := range r.combs {
		r.combs[i].buf = make([]float32, combLens[i])
	}
	apLens := [2]int{base * 347 / 1000, base * 213 / 1000}
	for i := range r.allpass {
		r.allpass[i] = allpassFilter{buf: make([]float32, maxInt(apLens[i], 1)), fb: 0.5}
	}
	return r
}

func (r *Reverb) SetFeedback(v float32) { r.feedback.Store(clamp(v, 0, 0.95)) }
func (r *Reverb) SetMix(v float32)      { r.wet.Store(clamp(v, 0, 1)) }

func (r *Reverb) Process(l, r2 float32) (float32, float32) {
	wet := r.wet.Load()
	if wet == 0 {
		return l, r2
	}
	fb := r.feedback.Load()
	mono := (l + r2) * 0.5
	var even, odd float32
	for i := range r.combs {
		s := r.combs[i].process(mono, fb)
		if i%2 == 0 {
			even += s
		} else {
			odd += s
		}
	}
	out := (even + odd) * 0.25
	for i := range r.allpass {
		out = r.allpass[i].process(out)
	}
	side := (even - odd) * 0.125
	outL, outR := out+side, out-side
	return l*(1-wet) + outL*wet, r2*(1-wet) + outR*wet
}

func (r *Reverb) Reset() {
	for i := range r.combs {
		clear(r.combs[i].buf)
		r.combs[i].pos = 0
	}
	for i := range r.allpass {
		clear(r.allpass[i].buf)
		r.allpass[i].pos = 0
	}
}

func (c *combFilter) process(in, fb float32) float32 {
	out := c.buf[c.pos]
	c.buf[c.pos] = in + out*fb
	c.pos++
	if c.pos >= len(c.buf) {
		c.pos = 0
	}
	return out
}

func (a *allpassFilter) process(in float32) float32 {
	bufOut := a.buf[a.pos]
	out := -in + bufOut
	a.buf[a.pos] = in + bufOut*a.fb
	a.pos++
	if a.pos >= len(a.buf) {
		a.pos = 0
	}
	return out
}
