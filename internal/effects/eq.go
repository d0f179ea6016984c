package effects

import "math"

// NumEQBands is the number of master EQ bands. Crossovers sit at 200 Hz,
// 800 Hz, 2.5 kHz and 8 kHz.
const NumEQBands = 5

var eqCrossovers = [NumEQBands - 1]float64{200, 800, 2500, 8000}

// EQ peels the signal into bands with cascaded one-pole low-passes and
// rescales each band. Gains (0..2, 1 is flat) may be set from any goroutine.
type EQ struct {
	gains [NumEQBands]atomicFloat
	alpha [NumEQBands - 1]float32
	state [2][NumEQBands - 1]float32
}

func NewEQ(sampleRate int) *EQ {
	q := &EQ{}
	dt := 1 / float64(sampleRate)
	for i, hz := range eqCrossovers {
		rc := 1 / (2 * math.Pi * hz)
		q.alpha[i] = float32(dt / (rc + dt))
	}
	for i := range q.gains {
		q.gains[i].Store(1)
	}
	return q
}

// SetGain sets band's gain. Out-of-range bands are ignored.
func (q *EQ) SetGain(band int, gain float32) {
	if band < 0 || band >= NumEQBands {
		return
	}
	q.gains[band].Store(clamp(gain, 0, 2))
}

func (q *EQ) Gain(band int) float32 {
	if band < 0 || band >= NumEQBands {
		return 1
	}
	return q.gains[band].Load()
}

func (q *EQ) Process(l, r float32) (float32, float32) {
	return q.channel(0, l), q.channel(1, r)
}

func (q *EQ) channel(ch int, x float32) float32 {
	var out float32
	rest := x
	for i, a := range q.alpha {
		lp := &q.state[ch][i]
		*lp += a * (rest - *lp)
		out += *lp * q.gains[i].Load()
		rest -= *lp
	}
	return out + rest*q.gains[NumEQBands-1].Load()
}

func (q *EQ) Reset() {
	clear(q.state[0][:])
	clear(q.state[1][:])
}
