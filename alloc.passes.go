package ribasim

import (
	"math"
	"sync"
)

// allocate runs the multi-pass allocation protocol at time t: secondary
// subnetworks first collect their residual demands with inlets closed,
// the primary network allocates with those demands aggregated at the
// connection points, then every secondary network allocates against the
// inlet rate it was granted. Collection and the final secondary passes
// have no cross-dependency and run concurrently; the primary pass waits
// for all of them. An infeasible subnetwork keeps its previous
// interval's rates and is reported, never silently zeroed.
func (m *Model) allocate(t float64) {
	if len(m.alloc) == 0 || m.allocDt <= 0. {
		return
	}
	m.refreshForcing(t)

	// basin storages derived once; the concurrent passes below only read
	sto := make([]float64, m.Basins.N())
	m.storages(m.u, sto)
	defer m.snapshotAlloc()

	for _, am := range m.alloc {
		am.refreshCaps(m, m.allocDt, sto)
		am.failed = false
	}

	var primary *AllocModel
	var secondary []*AllocModel
	for _, am := range m.alloc {
		if am.Subnet == primarySubnet {
			primary = am
		} else {
			secondary = append(secondary, am)
		}
	}

	np := len(m.priorities)
	if primary != nil && len(secondary) > 0 {
		// pass 1: collect residual demands, inlets closed
		unmet := make([][]float64, len(secondary))
		var wg sync.WaitGroup
		for si, am := range secondary {
			wg.Add(1)
			go func(si int, am *AllocModel) {
				defer wg.Done()
				for _, k := range am.inlets {
					am.arcs[k].cap = 0.
				}
				am.inletBudget = nil
				u := make([]float64, np)
				if err := am.solvePriorities(m, t); err != nil {
					m.lg.Warn("secondary demand collection failed", "subnetwork", am.Subnet, "err", err)
					// unmet falls back to the gross demand
					for _, d := range am.dem {
						for p := range d.d {
							u[p] += d.d[p]
						}
					}
				} else {
					for _, d := range am.dem {
						for p := range d.d {
							u[p] += math.Max(0., d.d[p]-d.a[p])
						}
					}
				}
				unmet[si] = u
			}(si, am)
		}
		wg.Wait()

		// pass 2: the primary network sees each secondary as one demand
		// node per connection point
		bySec := map[int][]float64{}
		for si, am := range secondary {
			bySec[am.Subnet] = unmet[si]
		}
		for di := range primary.dem {
			d := &primary.dem[di]
			if d.sec > 0 {
				if u, ok := bySec[d.sec]; ok {
					copy(d.d, u)
				}
			}
		}
		if err := primary.solvePriorities(m, t); err != nil {
			m.lg.Error("allocation failed, holding previous rates", "subnetwork", primary.Subnet, "err", err)
			primary.failed = true
		} else {
			m.writeback(primary)
		}

		// pass 3: secondary networks against their granted inlet rates
		granted := map[int][]float64{}
		for di := range primary.dem {
			d := &primary.dem[di]
			if d.sec > 0 {
				g := granted[d.sec]
				if g == nil {
					g = make([]float64, np)
					granted[d.sec] = g
				}
				for p := range d.a {
					g[p] += d.a[p]
				}
			}
		}
		for si, am := range secondary {
			wg.Add(1)
			go func(si int, am *AllocModel) {
				defer wg.Done()
				am.refreshCaps(m, m.allocDt, sto)
				for _, k := range am.inlets {
					am.arcs[k].cap = 0.
				}
				am.inletBudget = granted[am.Subnet]
				if am.inletBudget == nil || primary.failed {
					am.inletBudget = make([]float64, np)
				}
				if err := am.solvePriorities(m, t); err != nil {
					m.lg.Error("allocation failed, holding previous rates", "subnetwork", am.Subnet, "err", err)
					am.failed = true
				}
			}(si, am)
		}
		wg.Wait()
		for _, am := range secondary {
			if !am.failed {
				m.writeback(am)
			}
		}
		return
	}

	// no primary/secondary split: every subnetwork allocates on its own
	for _, am := range m.alloc {
		am.inletBudget = nil
		if err := am.solvePriorities(m, t); err != nil {
			m.lg.Error("allocation failed, holding previous rates", "subnetwork", am.Subnet, "err", err)
			am.failed = true
			continue
		}
		m.writeback(am)
	}
}

// snapshotAlloc records the state at this allocation so the next one
// can average the vertical flux integrals over the elapsed interval.
func (m *Model) snapshotAlloc() {
	if m.uAlloc == nil {
		m.uAlloc = make([]float64, len(m.u))
	}
	copy(m.uAlloc, m.u)
}

// writeback publishes a subnetwork's solution into the physical layer:
// per-user per-priority allocated rates, allocation-mode structure
// rates, and flow-demand buffer volumes.
func (m *Model) writeback(am *AllocModel) {
	for di := range am.dem {
		d := &am.dem[di]
		if d.user >= 0 {
			copy(m.Users.Alloc[d.user], d.a)
		}
		if d.fd >= 0 {
			// surplus through the buffer carries to later intervals
			var din, dout float64
			for _, a := range am.arcs {
				if a.kind == arcBufIn && a.a == m.FlowDem.Idx[d.fd] {
					din = a.flow
				}
				if a.kind == arcBufOut && a.b == m.FlowDem.Idx[d.fd] {
					dout = a.flow
				}
			}
			v := m.FlowDem.buffer[d.fd] + (din-dout)*m.allocDt
			m.FlowDem.buffer[d.fd] = math.Min(math.Max(v, 0.), m.FlowDem.BufferCap[d.fd])
		}
	}
	for k := range am.arcs {
		a := &am.arcs[k]
		if a.kind != arcLink && a.kind != arcInlet && a.kind != arcOutlet {
			continue
		}
		for _, e := range []int{a.a, a.b} {
			if e < 0 {
				continue
			}
			switch m.Net.Type[e] {
			case Pump:
				for j, pi := range m.Pumps.Idx {
					if pi == e && m.Pumps.Mode[j] == ControlAllocation {
						m.Pumps.rate[j] = a.flow
					}
				}
			case Outlet:
				for j, oi := range m.Outlets.Idx {
					if oi == e && m.Outlets.Mode[j] == ControlAllocation {
						m.Outlets.rate[j] = a.flow
					}
				}
			}
		}
	}
}
