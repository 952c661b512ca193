package area

import "math"

// accumulator is a Neumaier-compensated running sum. Adding the same values
// in the same order always yields the same bits.
type accumulator struct {
	sum, comp float64
}

func (a *accumulator) add(v float64) {
	t := a.sum + v
	if math.Abs(a.sum) >= math.Abs(v) {
		a.comp += (a.sum - t) + v
	} else {
		a.comp += (v - t) + a.sum
	}
	a.sum = t
}

func (a *accumulator) value() float64 {
	return a.sum + a.comp
}
