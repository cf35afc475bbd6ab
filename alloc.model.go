package ribasim

import "math"

// The allocation layer re-reads the physical layer every interval but
// optimizes over its own flow network: one non-negative flow variable
// per arc, conservation at every interior node, and demands satisfied
// priority by priority under goal programming. One AllocModel per
// subnetwork; the model structure is built once and its capacities,
// commitments and demands are rewritten in place each interval, so
// concurrent solves of the same model are forbidden while distinct
// subnetworks may solve side by side.

type arcKind uint8

const (
	arcLink   arcKind = iota // a physical flow link inside the subnetwork
	arcInlet                 // crosses in from another subnetwork
	arcOutlet                // crosses out to another subnetwork
	arcSupply                // level-demand basin releasing storage
	arcStore                 // level-demand basin retaining storage
	arcBufOut                // flow-demand buffer release
	arcBufIn                 // flow-demand buffer fill
)

type allocArc struct {
	kind     arcKind
	from, to int // local node positions; -1 is the external side
	a, b     int // internal node indices of the link endpoints (-1 for virtual arcs)

	cap    float64 // physical capacity this interval [m³/s]
	commit float64 // flow fixed by earlier priorities
	flow   float64 // last solution

	retOf int // Users position whose return flow this arc carries, -1
}

// allocDemand is one demand entry: a target arc wanting d[p] at each
// priority slot.
type allocDemand struct {
	arc  int
	d, a []float64 // demanded and allocated per priority slot

	user, lvl, fd int // positions into the model's groups, -1 each when n/a
	sec           int // secondary subnetwork id for aggregated demands, 0

	capped bool // the arc may not exceed its cumulative demand
}

type AllocModel struct {
	Subnet int
	net    *Network

	nodes []int       // internal node indices in this subnetwork
	pos   map[int]int // internal node index → local position

	arcs []allocArc
	in   [][]int // per local node, incoming arc positions
	out  [][]int // per local node, outgoing arc positions

	dem []allocDemand

	userIn  map[int]int // Users position → its inflow arc
	userRet map[int]int // Users position → its return arc, if in-subnetwork

	inlets  []int // arc positions crossing in (secondary models)
	outlets []int // arc positions crossing out to secondary subnetworks (primary model)

	inletBudget []float64 // per priority, primary-allocated inlet rate

	failed bool // last interval's solve was infeasible
}

// buildAllocation constructs one AllocModel per subnetwork id. Without
// explicit subnetworks every demand node joins an implicit primary
// subnetwork covering the whole graph.
func (m *Model) buildAllocation() error {
	if len(m.Users.Idx)+len(m.LvlDem.Idx)+len(m.FlowDem.Idx) == 0 {
		return nil
	}
	ids := map[int]bool{}
	for _, sid := range m.Net.Subnet {
		if sid > 0 {
			ids[sid] = true
		}
	}
	implicit := len(ids) == 0
	if implicit {
		ids[1] = true
	}
	for sid := range ids {
		am, err := m.buildAllocModel(sid, implicit)
		if err != nil {
			return err
		}
		m.alloc = append(m.alloc, am)
	}
	// primary first, then secondary by id, so the pass protocol can
	// index deterministically
	for i := 0; i < len(m.alloc); i++ {
		for j := i + 1; j < len(m.alloc); j++ {
			if m.alloc[j].Subnet < m.alloc[i].Subnet {
				m.alloc[i], m.alloc[j] = m.alloc[j], m.alloc[i]
			}
		}
	}
	return nil
}

func (m *Model) buildAllocModel(sid int, implicit bool) (*AllocModel, error) {
	am := &AllocModel{
		Subnet:  sid,
		net:     m.Net,
		pos:     map[int]int{},
		userIn:  map[int]int{},
		userRet: map[int]int{},
	}
	member := func(i int) bool { return implicit || m.Net.Subnet[i] == sid }
	for i := range m.Net.Type {
		if member(i) {
			am.pos[i] = len(am.nodes)
			am.nodes = append(am.nodes, i)
		}
	}
	am.in = make([][]int, len(am.nodes))
	am.out = make([][]int, len(am.nodes))

	addArc := func(a allocArc) int {
		k := len(am.arcs)
		a.retOf = -1
		am.arcs = append(am.arcs, a)
		if a.from >= 0 {
			am.out[a.from] = append(am.out[a.from], k)
		}
		if a.to >= 0 {
			am.in[a.to] = append(am.in[a.to], k)
		}
		return k
	}

	for _, l := range m.Net.Links {
		fin, tin := member(l.From), member(l.To)
		switch {
		case fin && tin:
			k := addArc(allocArc{kind: arcLink, from: am.pos[l.From], to: am.pos[l.To], a: l.From, b: l.To})
			if m.Net.Type[l.From] == UserDemand {
				for up, ui := range m.Users.Idx {
					if ui == l.From {
						am.arcs[k].retOf = up
						am.userRet[up] = k
					}
				}
			}
			if m.Net.Type[l.To] == UserDemand {
				for up, ui := range m.Users.Idx {
					if ui == l.To {
						am.userIn[up] = k
					}
				}
			}
		case !fin && tin:
			k := addArc(allocArc{kind: arcInlet, from: -1, to: am.pos[l.To], a: l.From, b: l.To})
			am.inlets = append(am.inlets, k)
		case fin && !tin:
			k := addArc(allocArc{kind: arcOutlet, from: am.pos[l.From], to: -1, a: l.From, b: l.To})
			if m.Net.Subnet[l.To] > 0 && m.Net.Subnet[l.To] != sid {
				am.outlets = append(am.outlets, k)
				if sid == primarySubnet {
					am.dem = append(am.dem, allocDemand{
						arc: k, user: -1, lvl: -1, fd: -1,
						sec:    m.Net.Subnet[l.To],
						capped: true,
						d:      make([]float64, len(m.priorities)),
						a:      make([]float64, len(m.priorities)),
					})
				}
			}
		}
	}

	np := len(m.priorities)
	newDem := func(arc, user, lvl, fd int, capped bool) {
		am.dem = append(am.dem, allocDemand{
			arc: arc, user: user, lvl: lvl, fd: fd, sec: 0, capped: capped,
			d: make([]float64, np), a: make([]float64, np),
		})
	}

	for up, ui := range m.Users.Idx {
		if !member(ui) {
			continue
		}
		k, ok := am.userIn[up]
		if !ok {
			return nil, &ValidationError{Node: m.Net.ID[ui], Rule: "user demand has no in-subnetwork supply link"}
		}
		newDem(k, up, -1, -1, true)
	}
	for lp, li := range m.LvlDem.Idx {
		bi := m.LvlDem.BasinIdx[lp]
		if !member(li) && !member(bi) {
			continue
		}
		bp, ok := am.pos[bi]
		if !ok {
			return nil, &ValidationError{Node: m.Net.ID[li], Rule: "level demand basin outside its subnetwork"}
		}
		addArc(allocArc{kind: arcSupply, from: -1, to: bp, a: -1, b: bi})
		sto := addArc(allocArc{kind: arcStore, from: bp, to: -1, a: bi, b: -1})
		newDem(sto, -1, lp, -1, true)
	}
	for fp, fi := range m.FlowDem.Idx {
		ti := m.FlowDem.TargetIdx[fp]
		if !member(fi) && !member(ti) {
			continue
		}
		tp, ok := am.pos[ti]
		if !ok {
			return nil, &ValidationError{Node: m.Net.ID[fi], Rule: "flow demand target outside its subnetwork"}
		}
		// the demand binds the target's through-flow: its outgoing arc
		var tarc = -1
		for _, k := range am.out[tp] {
			if am.arcs[k].kind == arcLink || am.arcs[k].kind == arcOutlet {
				tarc = k
				break
			}
		}
		if tarc < 0 {
			return nil, &ValidationError{Node: m.Net.ID[fi], Rule: "flow demand target has no outflow link"}
		}
		// an upstream buffer holds surplus for later intervals
		up := m.Net.upstream(ti)
		if bp, ok := am.pos[up]; ok {
			addArc(allocArc{kind: arcBufOut, from: -1, to: bp, a: -1, b: fi})
			addArc(allocArc{kind: arcBufIn, from: bp, to: -1, a: fi, b: -1})
		}
		newDem(tarc, -1, -1, fp, false)
	}
	return am, nil
}

const primarySubnet = 1

func (am *AllocModel) netType(i int) NodeType { return am.net.Type[i] }

// refreshCaps rewrites every arc's physical capacity and resets the
// interval bookkeeping from the current physical layer. dt is the
// allocation interval [s]; sto holds the basin storages derived once by
// the caller, so concurrent subnetwork passes share no scratch.
func (am *AllocModel) refreshCaps(m *Model, dt float64, sto []float64) {
	for k := range am.arcs {
		a := &am.arcs[k]
		a.commit, a.flow = 0., 0.
		switch a.kind {
		case arcLink, arcInlet, arcOutlet:
			cap := bigCap
			for _, e := range []int{a.a, a.b} {
				if e < 0 {
					continue
				}
				switch m.Net.Type[e] {
				case Pump:
					for j, pi := range m.Pumps.Idx {
						if pi == e {
							cap = math.Min(cap, m.Pumps.MaxQ[j])
						}
					}
				case Outlet:
					for j, oi := range m.Outlets.Idx {
						if oi == e {
							cap = math.Min(cap, m.Outlets.MaxQ[j])
						}
					}
				case LinearResistance:
					for j, li := range m.LinRes.Idx {
						if li == e {
							cap = math.Min(cap, m.LinRes.MaxQ[j])
						}
					}
				case FlowBoundary:
					if e == a.a {
						for j, fi := range m.FlowBnd.Idx {
							if fi == e {
								cap = math.Min(cap, m.FlowBnd.q[j])
							}
						}
					}
				}
			}
			if a.retOf >= 0 {
				cap = 0. // grows with allocated abstraction
			}
			a.cap = cap
		case arcSupply:
			a.cap = 0. // set from the level-demand headroom below
		case arcStore:
			a.cap = bigCap // bounded by its demand row
		case arcBufOut:
			for fp, fi := range m.FlowDem.Idx {
				if fi == a.b {
					a.cap = m.FlowDem.buffer[fp] / dt
				}
			}
		case arcBufIn:
			for fp, fi := range m.FlowDem.Idx {
				if fi == a.a {
					a.cap = (m.FlowDem.BufferCap[fp] - m.FlowDem.buffer[fp]) / dt
				}
			}
		}
	}
	am.refreshDemands(m, dt, sto)
}

// refreshDemands rewrites the per-priority demands from the current
// forcing and physical state.
func (am *AllocModel) refreshDemands(m *Model, dt float64, sto []float64) {
	for di := range am.dem {
		d := &am.dem[di]
		for p := range d.d {
			d.d[p], d.a[p] = 0., 0.
		}
		switch {
		case d.user >= 0:
			copy(d.d, m.Users.demand[d.user])
		case d.fd >= 0:
			p := m.prio[m.FlowDem.Priority[d.fd]]
			d.d[p] = m.FlowDem.demand[d.fd]
		case d.lvl >= 0:
			lp := d.lvl
			b := m.Basins.pos(m.LvlDem.BasinIdx[lp])
			prof := &m.Basins.Prof[b]
			sv := sto[b]
			vnet := m.verticalRate(b, dt, sv)
			smin := prof.StorageFromLevel(m.LvlDem.MinLevel[lp])
			smax := prof.StorageFromLevel(m.LvlDem.MaxLevel[lp])
			p := m.prio[m.LvlDem.Priority[lp]]
			d.d[p] = math.Max(0., (smin-sv)/dt-vnet)
			// headroom above max level becomes supply
			for _, k := range am.in[am.pos[m.LvlDem.BasinIdx[lp]]] {
				if am.arcs[k].kind == arcSupply {
					am.arcs[k].cap = math.Max(0., (sv-smax)/dt+vnet)
				}
			}
		}
	}
}

// verticalRate is a basin's net vertical flux for level-demand
// forecasts: the flux integrals averaged over the previous allocation
// interval, or the instantaneous rates before the first interval has
// elapsed.
func (m *Model) verticalRate(b int, dt, sv float64) float64 {
	s := m.smap
	if m.uAlloc != nil {
		d := func(j int) float64 { return (m.u[j] - m.uAlloc[j]) / dt }
		return d(s.bPrec[b]) + d(s.bDrn[b]) - d(s.bEvap[b]) - d(s.bInf[b])
	}
	prof := &m.Basins.Prof[b]
	lvl := prof.LevelFromStorage(sv)
	return m.Basins.prec[b]*prof.MaxArea() + m.Basins.drn[b] -
		m.Basins.pet[b]*prof.AreaFromLevel(lvl)*reduction(lvl-prof.Bottom(), evapDepthP) -
		m.Basins.inf[b]*reduction(sv, pumpStorageP)
}
