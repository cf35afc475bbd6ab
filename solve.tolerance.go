package ribasim

import "math"

// rtolDecay holds the per-state effective relative tolerances. The
// state is cumulative, so abstol + reltol·|u| loosens without bound
// over a long run; at doubling intervals from the first hour the
// tolerance of every state grown past the average magnitude is
// tightened back in proportion.
type rtolDecay struct {
	base float64
	next float64 // next decay time [s]
	rtol []float64
}

func newRtolDecay(base float64, n int) *rtolDecay {
	d := &rtolDecay{base: base, next: decayT0, rtol: make([]float64, n)}
	for i := range d.rtol {
		d.rtol[i] = base
	}
	return d
}

func (d *rtolDecay) maybeDecay(t float64, u []float64) {
	if t < d.next {
		return
	}
	for t >= d.next {
		d.next *= 2.
	}
	mean := 0.
	for _, v := range u {
		mean += math.Abs(v)
	}
	mean /= float64(len(u))
	if mean <= 0. {
		return
	}
	for i, v := range u {
		av := math.Abs(v)
		if av <= mean {
			d.rtol[i] = d.base
			continue
		}
		d.rtol[i] = math.Max(d.base*mean/av, rtolFloor)
	}
}

// wrms is the weighted root-mean-square norm of est against the
// per-state error weights; 1.0 is the acceptance boundary.
func (d *rtolDecay) wrms(est, u []float64, abstol float64) float64 {
	if len(est) == 0 {
		return 0.
	}
	s := 0.
	for i, e := range est {
		w := abstol + d.rtol[i]*math.Abs(u[i])
		s += (e / w) * (e / w)
	}
	return math.Sqrt(s / float64(len(est)))
}
