package ribasim

import "sort"

// sparsity is the Jacobian structure of the water balance with a greedy
// column coloring: columns sharing no row are perturbed together, so one
// finite-difference sweep per color recovers the full Jacobian.
type sparsity struct {
	rows   [][]int // per column, the dependent rows, sorted
	groups [][]int // per color, the columns perturbed together
}

// buildSparsity derives the pattern from the incidence: a column j
// reaches a row i when j's flow moves a basin whose storage the flow at
// i reads. Control couplings are over-included rather than traced
// exactly; a spurious entry costs an extra perturbation, a missing one
// costs Newton convergence.
func (m *Model) buildSparsity() *sparsity {
	s := m.smap
	n := s.n
	nb := m.Basins.N()

	// dep[b]: states whose derivative reads basin b's storage or level
	dep := make([]map[int]bool, nb)
	for b := range dep {
		dep[b] = map[int]bool{s.bEvap[b]: true, s.bInf[b]: true}
	}
	at := func(node, j int) {
		if b := m.Basins.pos(node); b >= 0 {
			dep[b][j] = true
		}
	}
	for k, i := range m.Rating.Idx {
		at(m.Net.upstream(i), s.qRating[k])
	}
	for k, i := range m.LinRes.Idx {
		at(m.Net.upstream(i), s.qLinRes[k])
		at(m.Net.downstream(i), s.qLinRes[k])
	}
	for k, i := range m.ManRes.Idx {
		at(m.Net.upstream(i), s.qManRes[k])
		at(m.Net.downstream(i), s.qManRes[k])
	}
	for k, i := range m.Pumps.Idx {
		at(m.Net.upstream(i), s.qPump[k])
	}
	for k, i := range m.Outlets.Idx {
		at(m.Net.upstream(i), s.qOutlet[k])
		at(m.Net.downstream(i), s.qOutlet[k])
	}
	for k, i := range m.Users.Idx {
		at(m.Net.upstream(i), s.qUserIn[k])
		at(m.Net.upstream(i), s.qUserOut[k])
	}
	for k := range m.Pid.Idx {
		b := m.Basins.pos(m.Pid.BasinIdx[k])
		js := m.pidFlowState(k)
		dep[b][s.pid[k]] = true
		dep[b][js] = true
		at(m.Net.upstream(m.Pid.TargetIdx[k]), js)
	}
	for k := range m.Cont.Idx {
		js := s.qPump
		if m.Cont.isOutlet[k] {
			js = s.qOutlet
		}
		at(m.Cont.ListenIdx[k], js[m.Cont.tpos[k]])
	}

	// propagate derived couplings to a fixed point: junction out-flows
	// inherit their in-flow dependencies, a PID flow reads everything
	// feeding its listened basin, a flow-listening continuous control
	// follows the listened state
	inBasin := func(b, j int) bool {
		for _, tm := range s.inc[b] {
			if tm.j == j {
				return true
			}
		}
		return false
	}
	for changed := true; changed; {
		changed = false
		grow := func(b, j int) {
			if !dep[b][j] {
				dep[b][j] = true
				changed = true
			}
		}
		for b := range dep {
			for j := range dep[b] {
				for k := range m.Junc.Idx {
					for _, in := range m.Junc.inStates[k] {
						if in == j {
							for _, out := range s.qJunction[k] {
								grow(b, out)
							}
						}
					}
				}
				for k := range m.Pid.Idx {
					if m.Pid.Kd[k] != 0. && inBasin(m.Basins.pos(m.Pid.BasinIdx[k]), j) {
						grow(b, m.pidFlowState(k))
					}
				}
				for k := range m.Cont.Idx {
					if m.Cont.lstate[k] == j {
						out := s.qPump
						if m.Cont.isOutlet[k] {
							out = s.qOutlet
						}
						grow(b, out[m.Cont.tpos[k]])
					}
				}
			}
		}
	}

	// column j's rows: every dependent of every basin j moves, plus the
	// PID integral feeding its own controlled flow
	rowset := make([]map[int]bool, n)
	for j := range rowset {
		rowset[j] = map[int]bool{}
	}
	for b := range dep {
		for _, tm := range s.inc[b] {
			for i := range dep[b] {
				rowset[tm.j][i] = true
			}
		}
	}
	// the integral column moves the controlled flow and, through the
	// junction splits, everything it fans out into
	for k := range m.Pid.Idx {
		carry := map[int]bool{m.pidFlowState(k): true}
		for _, jk := range s.jorder {
			fed := false
			for _, in := range m.Junc.inStates[jk] {
				if carry[in] {
					fed = true
				}
			}
			if fed {
				for _, out := range s.qJunction[jk] {
					carry[out] = true
				}
			}
		}
		for i := range carry {
			rowset[s.pid[k]][i] = true
		}
	}

	sp := &sparsity{rows: make([][]int, n)}
	for j := range rowset {
		rs := make([]int, 0, len(rowset[j]))
		for i := range rowset[j] {
			rs = append(rs, i)
		}
		sort.Ints(rs)
		sp.rows[j] = rs
	}

	// greedy coloring
	var taken [][]bool // per color, occupied rows
	for j := 0; j < n; j++ {
		c := 0
		for ; c < len(taken); c++ {
			ok := true
			for _, i := range sp.rows[j] {
				if taken[c][i] {
					ok = false
					break
				}
			}
			if ok {
				break
			}
		}
		if c == len(taken) {
			taken = append(taken, make([]bool, n))
			sp.groups = append(sp.groups, nil)
		}
		for _, i := range sp.rows[j] {
			taken[c][i] = true
		}
		sp.groups[c] = append(sp.groups[c], j)
	}
	return sp
}
