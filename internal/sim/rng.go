package sim

import "math"

// rng is a mulberry32 generator. Same seed, same sequence.
type rng struct {
	state uint32
}

func newRNG(seed uint32) *rng {
	return &rng{state: seed}
}

// next returns a uniform sample in [0, 1).
func (r *rng) next() float64 {
	r.state += 0x6D2B79F5
	t := r.state
	t = (t ^ t>>15) * (t | 1)
	t ^= t + (t^t>>7)*(t|61)
	return float64(t^t>>14) / 4294967296
}

// gaussian draws a standard normal sample with the Box-Muller transform.
func (r *rng) gaussian() float64 {
	u1 := r.next()
	u2 := r.next()
	if u1 == 0 {
		u1 = 1.0 / 4294967296
	}
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
