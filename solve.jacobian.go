package ribasim

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// jacobian fills J with the finite-difference Jacobian of the water
// balance at (t, u), one evaluator sweep per color group: all columns of
// a group touch disjoint rows, so their perturbations superpose without
// interference. f0 must be the unperturbed evaluation. Cost scales with
// the color count, not the state dimension.
func (m *Model) jacobian(t float64, u, f0 []float64, J *mat.Dense) {
	sc := m.scr
	J.Zero()
	for _, grp := range m.pattern.groups {
		copy(sc.utmp, u)
		for _, j := range grp {
			sc.utmp[j] += fdStep(u[j])
		}
		m.waterBalance(t, sc.utmp, sc.f1)
		m.stats.RhsEvals++
		for _, j := range grp {
			d := fdStep(u[j])
			for _, i := range m.pattern.rows[j] {
				J.Set(i, j, (sc.f1[i]-f0[i])/d)
			}
		}
	}
	m.stats.JacEvals++
}

// fdStep is the forward-difference perturbation for a state value.
func fdStep(v float64) float64 {
	return math.Sqrt(epsMachine) * math.Max(math.Abs(v), 1.)
}

const epsMachine = 2.220446049250313e-16
