package ribasim

import (
	"os"
	"sort"

	"github.com/charmbracelet/log"
)

// Model is one independent simulation context: the immutable network,
// the typed parameter groups (mutable fields updated by control and
// allocation between steps), the state vector and its layout. Two
// models never share arrays, so independent contexts may coexist in one
// process.
type Model struct {
	Net *Network

	Basins  *Basins
	Rating  *RatingCurves
	LinRes  *LinearResistances
	ManRes  *ManningResistances
	Pumps   *Pumps
	Outlets *Outlets
	LvlBnd  *LevelBoundaries
	FlowBnd *FlowBoundaries
	Users   *UserDemands
	LvlDem  *LevelDemands
	FlowDem *FlowDemands
	Pid     *PidControls
	Disc    *DiscreteControls
	Cont    *ContinuousControls
	Junc    *Junctions

	smap *stateMap
	scr  *scratch

	u []float64 // the cumulative state
	t float64   // [s] since start

	priorities []int32       // ascending distinct demand priorities
	prio       map[int32]int // priority → slot

	pattern *sparsity
	alloc   []*AllocModel
	allocDt float64   // [s] allocation interval of the active run
	uAlloc  []float64 // state snapshot at the previous allocation

	lg    *log.Logger
	stats Stats
}

// Stats is the solver-statistics stream.
type Stats struct {
	Accepted, Rejected int
	NewtonIters        int
	JacEvals, RhsEvals int
	// convergence-bottleneck counts keyed by node id
	Bottleneck map[int]int
}

// NewModel builds a simulation context from the input tables. Fatal on
// any validation failure; no partial model is returned.
func NewModel(tb *Tables) (*Model, error) {
	m := &Model{
		lg:    log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, TimeFormat: "15:04:05.00"}),
		stats: Stats{Bottleneck: map[int]int{}},
	}

	// global demand-priority register, ascending: lower value optimizes
	// first and is protected by goal programming afterwards
	ps := map[int32]struct{}{}
	for _, r := range tb.Users {
		ps[r.Priority] = struct{}{}
	}
	for _, r := range tb.LevelDem {
		ps[r.Priority] = struct{}{}
	}
	for _, r := range tb.FlowDem {
		ps[r.Priority] = struct{}{}
	}
	m.priorities = make([]int32, 0, len(ps))
	for p := range ps {
		m.priorities = append(m.priorities, p)
	}
	sort.Slice(m.priorities, func(a, b int) bool { return m.priorities[a] < m.priorities[b] })
	m.prio = make(map[int32]int, len(m.priorities))
	for i, p := range m.priorities {
		m.prio[p] = i
	}

	net, err := buildNetwork(tb)
	if err != nil {
		return nil, err
	}
	m.Net = net
	if err := buildGroups(net, tb, m); err != nil {
		return nil, err
	}
	if err := m.buildState(); err != nil {
		return nil, err
	}
	if err := m.bindControls(); err != nil {
		return nil, err
	}
	m.pattern = m.buildSparsity()
	if err := m.buildAllocation(); err != nil {
		return nil, err
	}
	m.refreshForcing(0.)
	return m, nil
}

// SetLogger replaces the model's logger (the CLI passes its own).
func (m *Model) SetLogger(lg *log.Logger) { m.lg = lg }

// Time returns the current simulation time [s since start].
func (m *Model) Time() float64 { return m.t }

// State returns the live cumulative state vector.
func (m *Model) State() []float64 { return m.u }

// Stats returns the accumulated solver statistics.
func (m *Model) Stats() Stats { return m.stats }

// StorageOf returns the current storage of basin id.
func (m *Model) StorageOf(id int) (float64, bool) {
	b := m.basinPosOf(id)
	if b < 0 {
		return 0., false
	}
	m.storages(m.u, m.scr.sto)
	return m.scr.sto[b], true
}

// LevelOf returns the current level of basin id.
func (m *Model) LevelOf(id int) (float64, bool) {
	b := m.basinPosOf(id)
	if b < 0 {
		return 0., false
	}
	m.storages(m.u, m.scr.sto)
	return m.Basins.Prof[b].LevelFromStorage(m.scr.sto[b]), true
}

func (m *Model) basinPosOf(id int) int {
	i, ok := m.Net.Index(id)
	if !ok {
		return -1
	}
	return m.Basins.pos(i)
}

// refreshForcing forward-fills every cached forcing value at t.
func (m *Model) refreshForcing(t float64) {
	m.Basins.refreshForcing(t)
	for i := range m.LvlBnd.Idx {
		m.LvlBnd.level[i] = m.LvlBnd.Level[i].At(t)
	}
	for i := range m.FlowBnd.Idx {
		m.FlowBnd.q[i] = m.FlowBnd.Q[i].At(t)
	}
	for i, md := range m.Pumps.Mode {
		if md == ControlNone {
			m.Pumps.rate[i] = m.Pumps.Rate[i].At(t)
		}
	}
	for i, md := range m.Outlets.Mode {
		if md == ControlNone {
			m.Outlets.rate[i] = m.Outlets.Rate[i].At(t)
		}
	}
	m.Users.refreshForcing(t)
	m.FlowDem.refreshForcing(t)
	m.Pid.refreshForcing(t)
}
