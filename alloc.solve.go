package ribasim

import "math"

// Per priority the quadratic shortfall objective d·(1−a/d)² is realized
// by progressive filling: maximize the common satisfied fraction t,
// freeze the demands pinned at t by a binding constraint, and repeat
// over the rest until every demand is frozen or fully served. A shared
// bottleneck therefore yields equal fractions, never equal volumes, and
// each solved priority's flows become lower bounds for the next.

const (
	tWeight = 1e6  // lexicographic weight of the common fraction
	arcEps  = 1e-6 // drain-free-cycle penalty on every arc
	fillTol = 1e-9
)

// solvePriorities runs every priority slot ascending.
func (am *AllocModel) solvePriorities(m *Model, t float64) error {
	for p := range m.priorities {
		if err := am.solvePriority(m, p); err != nil {
			return &AllocationError{Subnet: am.Subnet, Priority: m.priorities[p], T: t, Cause: err}
		}
	}
	return nil
}

func (am *AllocModel) solvePriority(m *Model, p int) error {
	// inlet capacity granted by the primary network opens up priority by
	// priority
	if len(am.inletBudget) > 0 {
		for _, k := range am.inlets {
			am.arcs[k].cap += am.inletBudget[p]
		}
	}
	var actives []int
	for di := range am.dem {
		if am.dem[di].d[p] > 0. {
			actives = append(actives, di)
		}
	}
	if len(actives) == 0 {
		return nil
	}

	frozen := map[int]float64{}
	var x []float64
	for round := 0; round <= len(actives); round++ {
		var tstar float64
		var err error
		x, tstar, err = am.lpRound(p, actives, frozen)
		if err != nil {
			return err
		}
		if tstar >= 1.-fillTol || len(frozen) == len(actives) {
			break
		}
		newly := false
		for _, di := range actives {
			if _, ok := frozen[di]; ok {
				continue
			}
			d := &am.dem[di]
			lb := am.arcs[d.arc].commit + tstar*d.d[p]
			if x[d.arc] <= lb+fillTol*math.Max(1., lb) {
				frozen[di] = x[d.arc]
				newly = true
			}
		}
		if !newly {
			break
		}
	}

	for _, di := range actives {
		d := &am.dem[di]
		a := x[d.arc] - am.arcs[d.arc].commit
		if a < 0. {
			a = 0.
		}
		if a > d.d[p] {
			a = d.d[p]
		}
		d.a[p] = a
	}
	for k := range am.arcs {
		am.arcs[k].flow = x[k]
		am.arcs[k].commit = x[k]
	}
	// allocated abstraction becomes reusable return flow for the next
	// priority
	for _, di := range actives {
		d := &am.dem[di]
		if d.user >= 0 {
			if rk, ok := am.userRet[d.user]; ok {
				am.arcs[rk].cap += m.Users.RetFactor[d.user] * d.a[p]
			}
		}
	}
	return nil
}

// lpRound solves one max-common-fraction program: flows per arc plus the
// fraction variable t, capacities and prior commitments as bounds,
// conservation at interior nodes, frozen demands pinned.
func (am *AllocModel) lpRound(p int, actives []int, frozen map[int]float64) ([]float64, float64, error) {
	b := newLP()
	xs := make([]int, len(am.arcs))
	for k := range am.arcs {
		xs[k] = b.addVar(arcEps)
	}
	tv := b.addVar(-tWeight)

	for k, a := range am.arcs {
		b.le(a.cap, []int{xs[k]}, []float64{1.})
		if a.commit > 0. {
			b.le(-a.commit, []int{xs[k]}, []float64{-1.})
		}
	}
	for di := range am.dem {
		d := &am.dem[di]
		if d.capped {
			b.le(am.arcs[d.arc].commit+d.d[p], []int{xs[d.arc]}, []float64{1.})
		}
	}
	for _, di := range actives {
		d := &am.dem[di]
		if fx, ok := frozen[di]; ok {
			b.eq(fx, []int{xs[d.arc]}, []float64{1.})
			continue
		}
		// x ≥ commit + t·d, and pull the fraction up beyond t where room
		// remains
		b.le(-am.arcs[d.arc].commit, []int{tv, xs[d.arc]}, []float64{d.d[p], -1.})
		b.c[xs[d.arc]] -= 1. / d.d[p]
	}
	b.le(1., []int{tv}, []float64{1.})

	for np, ni := range am.nodes {
		switch am.netType(ni) {
		case Basin:
			// a basin with arcs on one side only accumulates (or starves);
			// conservation binds through-flow only
			if len(am.in[np]) == 0 || len(am.out[np]) == 0 {
				continue
			}
		case TabulatedRatingCurve, LinearResistance, ManningResistance, Pump, Outlet, Junction:
		default:
			continue
		}
		var idx []int
		var coef []float64
		for _, k := range am.in[np] {
			idx = append(idx, xs[k])
			coef = append(coef, 1.)
		}
		for _, k := range am.out[np] {
			idx = append(idx, xs[k])
			coef = append(coef, -1.)
		}
		if len(idx) > 0 {
			b.eq(0., idx, coef)
		}
	}

	x, err := b.solve()
	if err != nil {
		return nil, 0., err
	}
	return x[:len(am.arcs)], x[tv], nil
}
