package ribasim

import "fmt"

// buildState lays out the cumulative state vector and the basin
// incidence. All state values start at zero; storages and levels are
// derived, never integrated directly.
func (m *Model) buildState() error {
	net := m.Net
	s := &stateMap{}
	add := func(node int, label string) int {
		j := s.n
		s.n++
		s.node = append(s.node, node)
		s.label = append(s.label, label)
		return j
	}

	name := func(i int) string { return fmt.Sprintf("%v_%d", net.Type[i], net.ID[i]) }

	for _, i := range m.Rating.Idx {
		s.qRating = append(s.qRating, add(i, name(i)))
	}
	for _, i := range m.LinRes.Idx {
		s.qLinRes = append(s.qLinRes, add(i, name(i)))
	}
	for _, i := range m.ManRes.Idx {
		s.qManRes = append(s.qManRes, add(i, name(i)))
	}
	for _, i := range m.Pumps.Idx {
		s.qPump = append(s.qPump, add(i, name(i)))
	}
	for _, i := range m.Outlets.Idx {
		s.qOutlet = append(s.qOutlet, add(i, name(i)))
	}
	for _, i := range m.FlowBnd.Idx {
		s.qFlowBnd = append(s.qFlowBnd, add(i, name(i)))
	}
	for _, i := range m.Users.Idx {
		s.qUserIn = append(s.qUserIn, add(i, name(i)+"_abstraction"))
		s.qUserOut = append(s.qUserOut, add(i, name(i)+"_return"))
	}

	// junctions: one state per out-link
	ju := &Junctions{}
	for i, t := range net.Type {
		if t != Junction {
			continue
		}
		ju.Idx = append(ju.Idx, i)
		ju.inStates = append(ju.inStates, nil)

		// split by the link-table weights when given, equal otherwise
		no := len(net.out[i])
		fr := make([]float64, no)
		wsum := 0.
		for o, li := range net.outl[i] {
			fr[o] = net.lfrac[li]
			wsum += fr[o]
		}
		for o := range fr {
			if wsum > 0. {
				if fr[o] <= 0. {
					return &ValidationError{Node: net.ID[i], Rule: "junction out-link missing its split fraction"}
				}
				fr[o] /= wsum
			} else {
				fr[o] = 1. / float64(no)
			}
		}
		ju.frac = append(ju.frac, fr)

		outs := make([]int, no)
		for o := range net.out[i] {
			outs[o] = add(i, fmt.Sprintf("%s_out%d", name(i), o))
		}
		s.qJunction = append(s.qJunction, outs)
	}
	m.Junc = ju

	for _, i := range m.Basins.Idx {
		s.bPrec = append(s.bPrec, add(i, name(i)+"_precipitation"))
		s.bEvap = append(s.bEvap, add(i, name(i)+"_evaporation"))
		s.bDrn = append(s.bDrn, add(i, name(i)+"_drainage"))
		s.bInf = append(s.bInf, add(i, name(i)+"_infiltration"))
	}
	for _, i := range m.Pid.Idx {
		s.pid = append(s.pid, add(i, name(i)+"_integral"))
	}

	// signed incidence: which states feed which basin storages
	s.inc = make([][]incTerm, m.Basins.N())
	connect := func(j, node int) {
		// the state's through-flow runs from the node's upstream link
		// to its downstream link
		if up := net.upstream(node); up >= 0 {
			if b := m.Basins.pos(up); b >= 0 {
				s.inc[b] = append(s.inc[b], incTerm{j: j, sign: -1.})
			}
		}
		if dn := net.downstream(node); dn >= 0 {
			if b := m.Basins.pos(dn); b >= 0 {
				s.inc[b] = append(s.inc[b], incTerm{j: j, sign: +1.})
			}
		}
	}
	for k, i := range m.Rating.Idx {
		connect(s.qRating[k], i)
	}
	for k, i := range m.LinRes.Idx {
		connect(s.qLinRes[k], i)
	}
	for k, i := range m.ManRes.Idx {
		connect(s.qManRes[k], i)
	}
	for k, i := range m.Pumps.Idx {
		connect(s.qPump[k], i)
	}
	for k, i := range m.Outlets.Idx {
		connect(s.qOutlet[k], i)
	}
	for k, i := range m.FlowBnd.Idx {
		if dn := net.downstream(i); dn >= 0 {
			if b := m.Basins.pos(dn); b >= 0 {
				s.inc[b] = append(s.inc[b], incTerm{j: s.qFlowBnd[k], sign: +1.})
			}
		}
	}
	for k, i := range m.Users.Idx {
		if up := net.upstream(i); up >= 0 {
			if b := m.Basins.pos(up); b >= 0 {
				s.inc[b] = append(s.inc[b], incTerm{j: s.qUserIn[k], sign: -1.})
			}
		}
		if dn := net.downstream(i); dn >= 0 {
			if b := m.Basins.pos(dn); b >= 0 {
				s.inc[b] = append(s.inc[b], incTerm{j: s.qUserOut[k], sign: +1.})
			}
		}
	}
	for k, i := range ju.Idx {
		for o, dn := range net.out[i] {
			if b := m.Basins.pos(dn); b >= 0 {
				s.inc[b] = append(s.inc[b], incTerm{j: s.qJunction[k][o], sign: +1.})
			}
		}
	}
	for b := range m.Basins.Idx {
		s.inc[b] = append(s.inc[b],
			incTerm{j: s.bPrec[b], sign: +1.},
			incTerm{j: s.bEvap[b], sign: -1.},
			incTerm{j: s.bDrn[b], sign: +1.},
			incTerm{j: s.bInf[b], sign: -1.})
	}

	m.smap = s

	// junction in-link states and an upstream-first order for chains
	jpos := map[int]int{}
	for k, i := range ju.Idx {
		jpos[i] = k
	}
	stateOfNode := m.stateOfNodeMap()
	feeders := make([][]int, len(ju.Idx)) // upstream junction positions
	for k, i := range ju.Idx {
		for _, up := range net.in[i] {
			if uk, ok := jpos[up]; ok {
				// the upstream junction's out-state on the link into i
				for o, dn := range net.out[up] {
					if dn == i {
						ju.inStates[k] = append(ju.inStates[k], s.qJunction[uk][o])
					}
				}
				feeders[k] = append(feeders[k], uk)
				continue
			}
			j, ok := stateOfNode[up]
			if !ok {
				return &ValidationError{Node: net.ID[i], Rule: "junction inflow from a node without a flow state"}
			}
			ju.inStates[k] = append(ju.inStates[k], j)
		}
	}
	// Kahn over junction→junction feeds
	indeg := make([]int, len(ju.Idx))
	for k := range feeders {
		indeg[k] = len(feeders[k])
	}
	queue := []int{}
	for k, d := range indeg {
		if d == 0 {
			queue = append(queue, k)
		}
	}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		s.jorder = append(s.jorder, k)
		for k2 := range feeders {
			for _, f := range feeders[k2] {
				if f == k {
					indeg[k2]--
					if indeg[k2] == 0 {
						queue = append(queue, k2)
					}
				}
			}
		}
	}
	if len(s.jorder) != len(ju.Idx) {
		return &ValidationError{Node: -1, Rule: "junction cycle detected"}
	}

	m.u = make([]float64, s.n)
	m.scr = newScratch(m.Basins.N(), s.n)
	return nil
}

// stateOfNodeMap maps internal node index → its (single) through-flow
// state. Users map to their abstraction state; junctions are excluded.
func (m *Model) stateOfNodeMap() map[int]int {
	s := m.smap
	out := map[int]int{}
	fill := func(idx []int, q []int) {
		for k, i := range idx {
			out[i] = q[k]
		}
	}
	fill(m.Rating.Idx, s.qRating)
	fill(m.LinRes.Idx, s.qLinRes)
	fill(m.ManRes.Idx, s.qManRes)
	fill(m.Pumps.Idx, s.qPump)
	fill(m.Outlets.Idx, s.qOutlet)
	fill(m.FlowBnd.Idx, s.qFlowBnd)
	fill(m.Users.Idx, s.qUserIn)
	return out
}
