package ribasim

import "math"

// waterBalance is the right-hand side of the ODE system: for the
// cumulative state u at time t it writes every instantaneous flow (and
// PID error) into du. Pure in (u, t) aside from reading the mutable
// parameters that control and allocation rewrite between steps; the
// scratch buffers are fully overwritten each call.
func (m *Model) waterBalance(t float64, u, du []float64) {
	s, sc := m.smap, m.scr
	m.storages(u, sc.sto)
	for b, p := range m.Basins.Prof {
		sc.lvl[b] = p.LevelFromStorage(sc.sto[b])
		sc.area[b] = p.AreaFromLevel(sc.lvl[b])
	}

	// basin vertical fluxes. Precipitation lands on the max profile
	// area, a state-independent source that integrates exactly;
	// evaporation and infiltration shut down smoothly as the basin
	// dries.
	for b := range m.Basins.Idx {
		p := &m.Basins.Prof[b]
		du[s.bPrec[b]] = m.Basins.prec[b] * p.MaxArea()
		depth := sc.lvl[b] - p.Bottom()
		du[s.bEvap[b]] = m.Basins.pet[b] * sc.area[b] * reduction(depth, evapDepthP)
		du[s.bDrn[b]] = m.Basins.drn[b]
		du[s.bInf[b]] = m.Basins.inf[b] * reduction(sc.sto[b], pumpStorageP)
	}

	for k := range m.FlowBnd.Idx {
		du[s.qFlowBnd[k]] = m.FlowBnd.q[k]
	}

	// level lookup for any neighbor: basin level, boundary level, or
	// NaN when the neighbor carries no level (Terminal, FlowBoundary)
	lvlOf := func(i int) float64 {
		if i < 0 {
			return math.NaN()
		}
		if b := m.Basins.pos(i); b >= 0 {
			return sc.lvl[b]
		}
		if k, ok := m.LvlBnd.xr[i]; ok {
			return m.LvlBnd.level[k]
		}
		return math.NaN()
	}
	stoOf := func(i int) (float64, bool) {
		if i < 0 {
			return 0., false
		}
		if b := m.Basins.pos(i); b >= 0 {
			return sc.sto[b], true
		}
		return 0., false // boundaries supply without storage limit
	}

	// rating curves: flow from upstream level only
	for k, i := range m.Rating.Idx {
		h := lvlOf(m.Net.upstream(i))
		q := m.Rating.scale[k] * m.Rating.Q[k].At(h)
		if sv, ok := stoOf(m.Net.upstream(i)); ok {
			q *= reduction(sv, pumpStorageP)
		}
		du[s.qRating[k]] = q
	}

	// linear resistances: symmetric, clamped
	for k, i := range m.LinRes.Idx {
		ha, hb := lvlOf(m.Net.upstream(i)), lvlOf(m.Net.downstream(i))
		q := (ha - hb) / m.LinRes.R[k]
		mq := m.LinRes.MaxQ[k]
		if q > mq {
			q = mq
		} else if q < -mq {
			q = -mq
		}
		du[s.qLinRes[k]] = q
	}

	// manning resistances: trapezoidal-channel energy balance with a
	// smoothed sign so the sqrt head term stays differentiable at Δh=0
	for k, i := range m.ManRes.Idx {
		ha, hb := lvlOf(m.Net.upstream(i)), lvlOf(m.Net.downstream(i))
		du[s.qManRes[k]] = m.manningFlow(k, ha, hb)
	}

	// continuous control: listened variable through the relation into
	// the target's active rate, before pumps/outlets evaluate
	m.applyContinuous(du, sc)

	for k, i := range m.Pumps.Idx {
		if m.Pumps.Mode[k] == ControlPid {
			continue // closed-form PID flow, below
		}
		q := m.Pumps.rate[k]
		if sv, ok := stoOf(m.Net.upstream(i)); ok {
			q *= reduction(sv, pumpStorageP)
		}
		du[s.qPump[k]] = q
	}

	for k, i := range m.Outlets.Idx {
		if m.Outlets.Mode[k] == ControlPid {
			continue
		}
		du[s.qOutlet[k]] = m.outletFlow(k, i, sc, stoOf, lvlOf)
	}

	// user abstraction: allocated (or, without allocation, demanded)
	// rates cut off smoothly as the source dries or nears min level
	for k, i := range m.Users.Idx {
		up := m.Net.upstream(i)
		f := 1.
		if sv, ok := stoOf(up); ok {
			f = reduction(sv, userStorageP)
		}
		if h := lvlOf(up); !math.IsNaN(h) {
			f *= reduction(h-m.Users.MinLevel[k], userLevelP)
		}
		q := 0.
		for p := range m.priorities {
			d := m.Users.demand[k][p]
			a := d
			if m.allocActive() {
				a = m.Users.Alloc[k][p]
			}
			q += math.Min(a, d)
		}
		du[s.qUserIn[k]] = f * q
		du[s.qUserOut[k]] = m.Users.RetFactor[k] * f * q
	}

	// PID actuator states were skipped by the pump and outlet loops;
	// clear stale values before any junction sums its inflow
	for k := range m.Pid.Idx {
		du[m.pidFlowState(k)] = 0.
	}

	// junctions in upstream-first order: split the summed inflow
	splitJunctions := func() {
		for _, k := range s.jorder {
			qin := 0.
			for _, j := range m.Junc.inStates[k] {
				qin += du[j]
			}
			for o, j := range s.qJunction[k] {
				du[j] = m.Junc.frac[k][o] * qin
			}
		}
	}
	splitJunctions()

	// PID controllers: the controlled flow needs the listened basin's
	// derivative excluding its own contribution; the adjacency rule
	// keeps that contribution out of the junction sums above
	m.evaluatePid(t, u, du, sc)

	// carry the actuated flows through any downstream junctions
	if len(m.Pid.Idx) > 0 {
		splitJunctions()
	}
}

// outletFlow is the gravity-structure rate: configured rate reduced
// smoothly by source storage, head difference and upstream level above
// the crest. A neighbor without a level leaves its factor at 1.0 — a
// documented convention downstream tooling relies on.
func (m *Model) outletFlow(k, i int, sc *scratch, stoOf func(int) (float64, bool), lvlOf func(int) float64) float64 {
	q := m.Outlets.rate[k]
	up, dn := m.Net.upstream(i), m.Net.downstream(i)
	if sv, ok := stoOf(up); ok {
		q *= reduction(sv, pumpStorageP)
	}
	ha, hb := lvlOf(up), lvlOf(dn)
	if !math.IsNaN(ha) {
		if !math.IsNaN(hb) {
			q *= reduction(ha-hb, outletHeadP)
		}
		if crest := m.Outlets.MinCrest[k]; !math.IsNaN(crest) {
			q *= reduction(ha-crest, outletCrestP)
		}
	}
	return q
}

// manningFlow solves the trapezoidal-channel Manning relation between
// two levels over a reach.
func (m *Model) manningFlow(k int, ha, hb float64) float64 {
	if math.IsNaN(ha) || math.IsNaN(hb) {
		return 0.
	}
	zb, w, z, n, L := m.ManRes.Zb[k], m.ManRes.Width[k], m.ManRes.Slope[k], m.ManRes.N[k], m.ManRes.Length[k]
	sec := func(h float64) (a, r float64) {
		d := h - zb
		if d <= 0. {
			return 0., 0.
		}
		a = d * (w + z*d)
		p := w + 2.*d*math.Sqrt(1.+z*z)
		return a, a / p
	}
	aa, ra := sec(ha)
	ab, rb := sec(hb)
	a, r := (aa+ab)/2., (ra+rb)/2.
	if a <= 0. {
		return 0.
	}
	dh := ha - hb
	sg := smoothSign(dh)
	return a * math.Pow(r, 2./3.) / n * sg * math.Sqrt(sg*dh/L)
}

// allocActive reports whether allocation steers user rates this run.
func (m *Model) allocActive() bool { return len(m.alloc) > 0 && m.allocDt > 0. }
