package ribasim

import (
	"fmt"
	"math"
	"sort"

	"github.com/Deltares/Ribasim-sub006/forcing"
)

// Tables is the in-memory input contract: what the excluded file readers
// produce. All node references are external ids; long-format tables
// (profiles, rating curves) are keyed per row.
type Tables struct {
	Nodes []NodeRow
	Links []LinkRow

	Profiles    []ProfileRow
	BasinStates []BasinStateRow
	BasinForce  []BasinForcingRow

	Ratings []RatingRow
	LinRes  []LinResRow
	ManRes  []ManResRow
	Pumps   []PumpRow
	Outlets []OutletRow

	LevelBnd []LevelBndRow
	FlowBnd  []FlowBndRow

	Users     []UserRow
	LevelDem  []LevelDemRow
	FlowDem   []FlowDemRow
	Pid       []PidRow
	DiscCond  []DiscreteCondRow
	DiscLogic []DiscreteLogicRow
	DiscAct   []DiscreteActionRow
	Cont      []ContinuousRow
}

type NodeRow struct {
	ID     int
	Type   NodeType
	Subnet int
}

// LinkRow is one directed link. Frac weights the flow split on a link
// leaving a junction; zero means unspecified (equal split).
type LinkRow struct {
	From, To int
	Control  bool
	Frac     float64
}

type ProfileRow struct {
	Node        int
	Level, Area float64
}

// BasinStateRow seeds a basin with either a storage or a level.
type BasinStateRow struct {
	Node    int
	Storage float64
	Level   float64
	HasLvl  bool
}

type BasinForcingRow struct {
	Node                                    int
	Precip, PotEvap, Drainage, Infiltration forcing.Series
}

type RatingRow struct {
	Node             int
	Level, Discharge float64
}

type LinResRow struct {
	Node    int
	R, MaxQ float64
}

type ManResRow struct {
	Node                 int
	Length, Width, Slope float64
	N, Zb                float64
}

type PumpRow struct {
	Node       int
	Rate       forcing.Series
	MinQ, MaxQ float64
	Mode       ControlMode
}

type OutletRow struct {
	Node       int
	Rate       forcing.Series
	MinQ, MaxQ float64
	MinCrest   float64 // NaN when unset
	Mode       ControlMode
}

type LevelBndRow struct {
	Node  int
	Level forcing.Series
}

type FlowBndRow struct {
	Node int
	Q    forcing.Series
}

// UserRow is one (user, priority) demand; users repeat per priority.
type UserRow struct {
	Node      int
	Priority  int32
	Demand    forcing.Series
	RetFactor float64
	MinLevel  float64
}

type LevelDemRow struct {
	Node               int
	Basin              int // controlled basin id
	MinLevel, MaxLevel float64
	Priority           int32
}

type FlowDemRow struct {
	Node      int
	Target    int // target connector id
	Demand    forcing.Series
	Priority  int32
	BufferCap float64
}

type PidRow struct {
	Node       int
	Target     int // controlled pump/outlet id
	Listen     int // controlled basin id
	Setpoint   forcing.Series
	Kp, Ki, Kd float64
}

type DiscreteCondRow struct {
	Node      int
	Listen    int
	Var       ListenVar
	Threshold float64
}

type DiscreteLogicRow struct {
	Node         int
	Truth, State string
}

type DiscreteActionRow struct {
	Node   int
	State  string
	Target int
	Field  string
	Value  float64
}

type ContinuousRow struct {
	Node   int
	Listen int
	Var    ListenVar
	Target int
	X, Y   []float64
}

// degree bounds and allowed downstream neighbor types per node type.
// Resistances read a level on both sides, so the levelless junction may
// not sit downstream of one; a basin link carries no flow state, so a
// basin may not feed a junction directly.
type linkRule struct {
	inMin, inMax, outMin, outMax int
	down                         map[NodeType]bool
}

const many = math.MaxInt32

var linkRules = map[NodeType]linkRule{
	Basin:                {0, many, 0, many, set(TabulatedRatingCurve, LinearResistance, ManningResistance, Pump, Outlet, UserDemand)},
	TabulatedRatingCurve: {1, 1, 1, 1, set(Basin, Terminal, LevelBoundary, Junction)},
	LinearResistance:     {1, 1, 1, 1, set(Basin, LevelBoundary)},
	ManningResistance:    {1, 1, 1, 1, set(Basin)},
	Pump:                 {1, 1, 1, 1, set(Basin, Terminal, LevelBoundary, Junction)},
	Outlet:               {1, 1, 1, 1, set(Basin, Terminal, LevelBoundary, Junction)},
	LevelBoundary:        {0, many, 0, many, set(LinearResistance, Outlet, Pump, TabulatedRatingCurve)},
	FlowBoundary:         {0, 0, 1, 1, set(Basin, Terminal, Junction)},
	Terminal:             {1, many, 0, 0, nil},
	Junction:             {1, many, 1, many, set(Basin, Terminal, Junction)},
	UserDemand:           {1, 1, 1, 1, set(Basin, Terminal)},
	LevelDemand:          {0, 0, 0, 0, nil},
	FlowDemand:           {0, 0, 0, 0, nil},
	PidControl:           {0, 0, 0, 0, nil},
	DiscreteControl:      {0, 0, 0, 0, nil},
	ContinuousControl:    {0, 0, 0, 0, nil},
}

func set(ts ...NodeType) map[NodeType]bool {
	m := make(map[NodeType]bool, len(ts))
	for _, t := range ts {
		m[t] = true
	}
	return m
}

func isControlType(t NodeType) bool {
	switch t {
	case PidControl, DiscreteControl, ContinuousControl, LevelDemand, FlowDemand:
		return true
	}
	return false
}

// buildNetwork constructs the immutable graph and validates topology.
// One-time, non-reentrant; any failure is fatal.
func buildNetwork(tb *Tables) (*Network, error) {
	n := &Network{xr: make(map[int]int, len(tb.Nodes))}
	for _, r := range tb.Nodes {
		if _, ok := n.xr[r.ID]; ok {
			return nil, &ValidationError{Node: r.ID, Rule: "duplicate node id"}
		}
		if _, ok := linkRules[r.Type]; !ok {
			return nil, &ValidationError{Node: r.ID, Rule: "undefined node type"}
		}
		n.xr[r.ID] = len(n.ID)
		n.ID = append(n.ID, r.ID)
		n.Type = append(n.Type, r.Type)
		n.Subnet = append(n.Subnet, r.Subnet)
	}
	nn := n.Nn()
	n.out, n.in = make([][]int, nn), make([][]int, nn)
	n.outl, n.inl = make([][]int, nn), make([][]int, nn)

	for _, r := range tb.Links {
		fi, ok := n.xr[r.From]
		if !ok {
			return nil, &ValidationError{Node: r.From, Rule: "link references unknown node"}
		}
		ti, ok := n.xr[r.To]
		if !ok {
			return nil, &ValidationError{Node: r.To, Rule: "link references unknown node"}
		}
		if r.Control {
			if !isControlType(n.Type[fi]) {
				return nil, &ValidationError{Node: r.From, Rule: fmt.Sprintf("control link may not originate from %v", n.Type[fi])}
			}
			n.Ctrls = append(n.Ctrls, Link{From: fi, To: ti})
			continue
		}
		if isControlType(n.Type[fi]) || isControlType(n.Type[ti]) {
			return nil, &ValidationError{Node: r.From, Rule: "flow link may not touch a control node"}
		}
		if r.Frac < 0. {
			return nil, &ValidationError{Node: r.From, Rule: "negative link split fraction"}
		}
		li := len(n.Links)
		n.Links = append(n.Links, Link{From: fi, To: ti})
		n.lfrac = append(n.lfrac, r.Frac)
		n.out[fi] = append(n.out[fi], ti)
		n.outl[fi] = append(n.outl[fi], li)
		n.in[ti] = append(n.in[ti], fi)
		n.inl[ti] = append(n.inl[ti], li)
	}

	for i := 0; i < nn; i++ {
		rule := linkRules[n.Type[i]]
		if len(n.in[i]) < rule.inMin || len(n.in[i]) > rule.inMax {
			return nil, &ValidationError{Node: n.ID[i], Rule: fmt.Sprintf("%v has %d inflow links, needs %d..%d", n.Type[i], len(n.in[i]), rule.inMin, rule.inMax)}
		}
		if len(n.out[i]) < rule.outMin || len(n.out[i]) > rule.outMax {
			return nil, &ValidationError{Node: n.ID[i], Rule: fmt.Sprintf("%v has %d outflow links, needs %d..%d", n.Type[i], len(n.out[i]), rule.outMin, rule.outMax)}
		}
		for _, d := range n.out[i] {
			if rule.down != nil && !rule.down[n.Type[d]] {
				return nil, &ValidationError{Node: n.ID[i], Rule: fmt.Sprintf("%v may not discharge to %v (node %d)", n.Type[i], n.Type[d], n.ID[d])}
			}
		}
	}
	return n, nil
}

// buildGroups assembles the per-node-type parameter groups from the
// tables, checking that every typed node is parameterized exactly once.
func buildGroups(net *Network, tb *Tables, m *Model) error {
	// basins
	bs := &Basins{xr: map[int]int{}}
	prof := map[int][]ProfileRow{}
	for _, r := range tb.Profiles {
		prof[r.Node] = append(prof[r.Node], r)
	}
	frc := map[int]BasinForcingRow{}
	for _, r := range tb.BasinForce {
		frc[r.Node] = r
	}
	st := map[int]BasinStateRow{}
	for _, r := range tb.BasinStates {
		st[r.Node] = r
	}
	for i, t := range net.Type {
		if t != Basin {
			continue
		}
		id := net.ID[i]
		rows := prof[id]
		if rows == nil {
			return &ValidationError{Node: id, Rule: "basin has no profile"}
		}
		sort.Slice(rows, func(a, b int) bool { return rows[a].Level < rows[b].Level })
		lvl, area := make([]float64, len(rows)), make([]float64, len(rows))
		for j, r := range rows {
			lvl[j], area[j] = r.Level, r.Area
		}
		p, err := NewProfile(id, lvl, area)
		if err != nil {
			return err
		}
		s0 := 0.
		if r, ok := st[id]; ok {
			if r.HasLvl {
				s0 = p.StorageFromLevel(r.Level)
			} else {
				s0 = r.Storage
			}
			if s0 < 0. {
				return &ValidationError{Node: id, Rule: "negative initial storage"}
			}
		}
		f := frc[id]
		orZero := func(s forcing.Series) forcing.Series {
			if len(s.T) == 0 {
				return forcing.Constant(0.)
			}
			return s
		}
		bs.xr[i] = len(bs.Idx)
		bs.Idx = append(bs.Idx, i)
		bs.Prof = append(bs.Prof, p)
		bs.S0 = append(bs.S0, s0)
		bs.Precip = append(bs.Precip, orZero(f.Precip))
		bs.PotEvap = append(bs.PotEvap, orZero(f.PotEvap))
		bs.Drainage = append(bs.Drainage, orZero(f.Drainage))
		bs.Infiltration = append(bs.Infiltration, orZero(f.Infiltration))
	}
	nb := bs.N()
	bs.prec, bs.pet = make([]float64, nb), make([]float64, nb)
	bs.drn, bs.inf = make([]float64, nb), make([]float64, nb)
	m.Basins = bs

	idxOf := func(id int, want NodeType) (int, error) {
		i, ok := net.xr[id]
		if !ok {
			return -1, &ValidationError{Node: id, Rule: "parameter row references unknown node"}
		}
		if net.Type[i] != want {
			return -1, &ValidationError{Node: id, Rule: fmt.Sprintf("parameter row type mismatch: node is %v, row is %v", net.Type[i], want)}
		}
		return i, nil
	}

	// rating curves
	rc := &RatingCurves{}
	rrows := map[int][]RatingRow{}
	for _, r := range tb.Ratings {
		rrows[r.Node] = append(rrows[r.Node], r)
	}
	for i, t := range net.Type {
		if t != TabulatedRatingCurve {
			continue
		}
		id := net.ID[i]
		rows := rrows[id]
		if rows == nil {
			return &ValidationError{Node: id, Rule: "rating curve has no table"}
		}
		sort.Slice(rows, func(a, b int) bool { return rows[a].Level < rows[b].Level })
		x, y := make([]float64, len(rows)), make([]float64, len(rows))
		for j, r := range rows {
			x[j], y[j] = r.Level, r.Discharge
		}
		q, err := NewTable(id, x, y)
		if err != nil {
			return err
		}
		rc.Idx = append(rc.Idx, i)
		rc.Q = append(rc.Q, q)
		rc.scale = append(rc.scale, 1.)
	}
	m.Rating = rc

	// linear resistances
	lr := &LinearResistances{}
	if err := eachTyped(net, LinearResistance, tb.LinRes, func(r LinResRow) int { return r.Node },
		func(i int, r LinResRow) error {
			if r.R <= 0. {
				return &ValidationError{Node: r.Node, Rule: "resistance must be positive"}
			}
			mq := r.MaxQ
			if mq <= 0. {
				mq = math.Inf(1)
			}
			lr.Idx = append(lr.Idx, i)
			lr.R = append(lr.R, r.R)
			lr.MaxQ = append(lr.MaxQ, mq)
			return nil
		}); err != nil {
		return err
	}
	m.LinRes = lr

	// manning resistances
	mr := &ManningResistances{}
	if err := eachTyped(net, ManningResistance, tb.ManRes, func(r ManResRow) int { return r.Node },
		func(i int, r ManResRow) error {
			if r.Length <= 0. || r.Width <= 0. || r.N <= 0. {
				return &ValidationError{Node: r.Node, Rule: "manning length, width and roughness must be positive"}
			}
			mr.Idx = append(mr.Idx, i)
			mr.Length = append(mr.Length, r.Length)
			mr.Width = append(mr.Width, r.Width)
			mr.Slope = append(mr.Slope, r.Slope)
			mr.N = append(mr.N, r.N)
			mr.Zb = append(mr.Zb, r.Zb)
			return nil
		}); err != nil {
		return err
	}
	m.ManRes = mr

	// pumps
	pu := &Pumps{}
	if err := eachTyped(net, Pump, tb.Pumps, func(r PumpRow) int { return r.Node },
		func(i int, r PumpRow) error {
			mq := r.MaxQ
			if mq <= 0. {
				mq = math.Inf(1)
			}
			pu.Idx = append(pu.Idx, i)
			pu.Rate = append(pu.Rate, r.Rate)
			pu.MinQ = append(pu.MinQ, r.MinQ)
			pu.MaxQ = append(pu.MaxQ, mq)
			pu.Mode = append(pu.Mode, r.Mode)
			return nil
		}); err != nil {
		return err
	}
	pu.rate = make([]float64, len(pu.Idx))
	m.Pumps = pu

	// outlets
	ou := &Outlets{}
	if err := eachTyped(net, Outlet, tb.Outlets, func(r OutletRow) int { return r.Node },
		func(i int, r OutletRow) error {
			mq := r.MaxQ
			if mq <= 0. {
				mq = math.Inf(1)
			}
			ou.Idx = append(ou.Idx, i)
			ou.Rate = append(ou.Rate, r.Rate)
			ou.MinQ = append(ou.MinQ, r.MinQ)
			ou.MaxQ = append(ou.MaxQ, mq)
			ou.MinCrest = append(ou.MinCrest, r.MinCrest)
			ou.Mode = append(ou.Mode, r.Mode)
			return nil
		}); err != nil {
		return err
	}
	ou.rate = make([]float64, len(ou.Idx))
	m.Outlets = ou

	// boundaries
	lb := &LevelBoundaries{xr: map[int]int{}}
	if err := eachTyped(net, LevelBoundary, tb.LevelBnd, func(r LevelBndRow) int { return r.Node },
		func(i int, r LevelBndRow) error {
			lb.xr[i] = len(lb.Idx)
			lb.Idx = append(lb.Idx, i)
			lb.Level = append(lb.Level, r.Level)
			return nil
		}); err != nil {
		return err
	}
	lb.level = make([]float64, len(lb.Idx))
	m.LvlBnd = lb

	fb := &FlowBoundaries{}
	if err := eachTyped(net, FlowBoundary, tb.FlowBnd, func(r FlowBndRow) int { return r.Node },
		func(i int, r FlowBndRow) error {
			fb.Idx = append(fb.Idx, i)
			fb.Q = append(fb.Q, r.Q)
			return nil
		}); err != nil {
		return err
	}
	fb.q = make([]float64, len(fb.Idx))
	m.FlowBnd = fb

	// user demands: rows repeat per priority, grouped here
	ud := &UserDemands{}
	urows := map[int][]UserRow{}
	for _, r := range tb.Users {
		urows[r.Node] = append(urows[r.Node], r)
	}
	for i, t := range net.Type {
		if t != UserDemand {
			continue
		}
		id := net.ID[i]
		rows := urows[id]
		if rows == nil {
			return &ValidationError{Node: id, Rule: "user demand has no demand rows"}
		}
		if rows[0].RetFactor < 0. || rows[0].RetFactor > 1. {
			return &ValidationError{Node: id, Rule: "return factor outside [0,1]"}
		}
		dem := make([]forcing.Series, len(m.priorities))
		for p := range dem {
			dem[p] = forcing.Constant(0.)
		}
		for _, r := range rows {
			pi, ok := m.prio[r.Priority]
			if !ok {
				return &ValidationError{Node: id, Rule: "internal: unregistered demand priority"}
			}
			dem[pi] = r.Demand
		}
		ud.Idx = append(ud.Idx, i)
		ud.Demand = append(ud.Demand, dem)
		ud.RetFactor = append(ud.RetFactor, rows[0].RetFactor)
		ud.MinLevel = append(ud.MinLevel, rows[0].MinLevel)
	}
	np := len(m.priorities)
	ud.demand = make([][]float64, len(ud.Idx))
	ud.Alloc = make([][]float64, len(ud.Idx))
	for i := range ud.Idx {
		ud.demand[i] = make([]float64, np)
		ud.Alloc[i] = make([]float64, np)
	}
	m.Users = ud

	// level demands
	ld := &LevelDemands{}
	if err := eachTyped(net, LevelDemand, tb.LevelDem, func(r LevelDemRow) int { return r.Node },
		func(i int, r LevelDemRow) error {
			bi, err := idxOf(r.Basin, Basin)
			if err != nil {
				return err
			}
			if r.MaxLevel < r.MinLevel {
				return &ValidationError{Node: r.Node, Rule: "level demand max below min"}
			}
			ld.Idx = append(ld.Idx, i)
			ld.BasinIdx = append(ld.BasinIdx, bi)
			ld.MinLevel = append(ld.MinLevel, r.MinLevel)
			ld.MaxLevel = append(ld.MaxLevel, r.MaxLevel)
			ld.Priority = append(ld.Priority, r.Priority)
			return nil
		}); err != nil {
		return err
	}
	m.LvlDem = ld

	// flow demands
	fd := &FlowDemands{}
	if err := eachTyped(net, FlowDemand, tb.FlowDem, func(r FlowDemRow) int { return r.Node },
		func(i int, r FlowDemRow) error {
			ti, ok := net.xr[r.Target]
			if !ok {
				return &ValidationError{Node: r.Node, Rule: "flow demand targets unknown node"}
			}
			switch net.Type[ti] {
			case TabulatedRatingCurve, LinearResistance, ManningResistance, Pump, Outlet:
			default:
				return &ValidationError{Node: r.Node, Rule: "flow demand target must be a flow-moving connector"}
			}
			bc := r.BufferCap
			if bc < 0. {
				bc = 0.
			}
			fd.Idx = append(fd.Idx, i)
			fd.TargetIdx = append(fd.TargetIdx, ti)
			fd.Demand = append(fd.Demand, r.Demand)
			fd.Priority = append(fd.Priority, r.Priority)
			fd.BufferCap = append(fd.BufferCap, bc)
			return nil
		}); err != nil {
		return err
	}
	fd.demand = make([]float64, len(fd.Idx))
	fd.buffer = make([]float64, len(fd.Idx))
	m.FlowDem = fd

	return buildControls(net, tb, m, idxOf)
}

// eachTyped walks every node of type want in index order, pairing it
// with its single parameter row; missing or duplicate rows are fatal.
func eachTyped[T any](net *Network, want NodeType, rows []T, key func(T) int, f func(i int, r T) error) error {
	byNode := make(map[int]T, len(rows))
	for _, r := range rows {
		id := key(r)
		if _, dup := byNode[id]; dup {
			return &ValidationError{Node: id, Rule: fmt.Sprintf("duplicate %v parameter row", want)}
		}
		byNode[id] = r
	}
	for i, t := range net.Type {
		if t != want {
			continue
		}
		r, ok := byNode[net.ID[i]]
		if !ok {
			return &ValidationError{Node: net.ID[i], Rule: fmt.Sprintf("%v has no parameter row", want)}
		}
		if err := f(i, r); err != nil {
			return err
		}
	}
	return nil
}

// buildControls wires the PID, discrete and continuous controllers.
func buildControls(net *Network, tb *Tables, m *Model, idxOf func(int, NodeType) (int, error)) error {
	pc := &PidControls{}
	if err := eachTyped(net, PidControl, tb.Pid, func(r PidRow) int { return r.Node },
		func(i int, r PidRow) error {
			ti, ok := net.xr[r.Target]
			if !ok {
				return &ValidationError{Node: r.Node, Rule: "pid targets unknown node"}
			}
			isOut := false
			switch net.Type[ti] {
			case Pump:
			case Outlet:
				isOut = true
			default:
				return &ValidationError{Node: r.Node, Rule: "pid target must be a pump or outlet"}
			}
			bi, err := idxOf(r.Listen, Basin)
			if err != nil {
				return err
			}
			adj := false
			for _, v := range net.in[ti] {
				if v == bi {
					adj = true
				}
			}
			for _, v := range net.out[ti] {
				if v == bi {
					adj = true
				}
			}
			if !adj {
				return &ValidationError{Node: r.Node, Rule: "pid listen basin not adjacent to its target"}
			}
			pc.Idx = append(pc.Idx, i)
			pc.TargetIdx = append(pc.TargetIdx, ti)
			pc.BasinIdx = append(pc.BasinIdx, bi)
			pc.Setpoint = append(pc.Setpoint, r.Setpoint)
			pc.Kp = append(pc.Kp, r.Kp)
			pc.Ki = append(pc.Ki, r.Ki)
			pc.Kd = append(pc.Kd, r.Kd)
			pc.isOutlet = append(pc.isOutlet, isOut)
			return nil
		}); err != nil {
		return err
	}
	pc.setpoint = make([]float64, len(pc.Idx))
	pc.tpos = make([]int, len(pc.Idx))
	m.Pid = pc

	// mark PID-driven actuators and remember their group positions
	for k, ti := range pc.TargetIdx {
		if pc.isOutlet[k] {
			for j, oi := range m.Outlets.Idx {
				if oi == ti {
					m.Outlets.Mode[j] = ControlPid
					pc.tpos[k] = j
				}
			}
		} else {
			for j, pi := range m.Pumps.Idx {
				if pi == ti {
					m.Pumps.Mode[j] = ControlPid
					pc.tpos[k] = j
				}
			}
		}
	}

	dc := &DiscreteControls{}
	conds := map[int][]DiscreteCondRow{}
	for _, r := range tb.DiscCond {
		conds[r.Node] = append(conds[r.Node], r)
	}
	logic := map[int]map[string]string{}
	for _, r := range tb.DiscLogic {
		if logic[r.Node] == nil {
			logic[r.Node] = map[string]string{}
		}
		logic[r.Node][r.Truth] = r.State
	}
	acts := map[int]map[string][]ParamUpdate{}
	targets := map[int]int{}
	for _, r := range tb.DiscAct {
		if acts[r.Node] == nil {
			acts[r.Node] = map[string][]ParamUpdate{}
		}
		acts[r.Node][r.State] = append(acts[r.Node][r.State], ParamUpdate{Field: r.Field, Value: r.Value})
		ti, ok := net.xr[r.Target]
		if !ok {
			return &ValidationError{Node: r.Node, Rule: "discrete control targets unknown node"}
		}
		targets[r.Node] = ti
	}
	for i, t := range net.Type {
		if t != DiscreteControl {
			continue
		}
		id := net.ID[i]
		crows := conds[id]
		if len(crows) == 0 {
			return &ValidationError{Node: id, Rule: "discrete control has no conditions"}
		}
		cs := make([]Condition, len(crows))
		for j, r := range crows {
			li, ok := net.xr[r.Listen]
			if !ok {
				return &ValidationError{Node: id, Rule: "discrete control listens to unknown node"}
			}
			cs[j] = Condition{Var: r.Var, NodeIdx: li, Threshold: r.Threshold}
		}
		if logic[id] == nil || acts[id] == nil {
			return &ValidationError{Node: id, Rule: "discrete control missing logic or actions"}
		}
		dc.Idx = append(dc.Idx, i)
		dc.TargetIdx = append(dc.TargetIdx, targets[id])
		dc.Conds = append(dc.Conds, cs)
		dc.States = append(dc.States, logic[id])
		dc.Actions = append(dc.Actions, acts[id])
		dc.truth = append(dc.truth, make([]bool, len(cs)))
		dc.active = append(dc.active, "")
	}
	m.Disc = dc

	cc := &ContinuousControls{}
	if err := eachTyped(net, ContinuousControl, tb.Cont, func(r ContinuousRow) int { return r.Node },
		func(i int, r ContinuousRow) error {
			li, ok := net.xr[r.Listen]
			if !ok {
				return &ValidationError{Node: r.Node, Rule: "continuous control listens to unknown node"}
			}
			ti, ok := net.xr[r.Target]
			if !ok {
				return &ValidationError{Node: r.Node, Rule: "continuous control targets unknown node"}
			}
			switch net.Type[ti] {
			case Pump, Outlet:
			default:
				return &ValidationError{Node: r.Node, Rule: "continuous control target must be a pump or outlet"}
			}
			rel, err := NewTable(r.Node, r.X, r.Y)
			if err != nil {
				return err
			}
			cc.Idx = append(cc.Idx, i)
			cc.ListenIdx = append(cc.ListenIdx, li)
			cc.ListenVar = append(cc.ListenVar, r.Var)
			cc.TargetIdx = append(cc.TargetIdx, ti)
			cc.Relation = append(cc.Relation, rel)
			return nil
		}); err != nil {
		return err
	}
	m.Cont = cc
	return nil
}
