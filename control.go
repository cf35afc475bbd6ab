package ribasim

import (
	"fmt"
	"math"
)

// bindControls resolves the control references that need the state
// layout: listened flow states and actuator group positions.
func (m *Model) bindControls() error {
	sof := m.stateOfNodeMap()

	cc := m.Cont
	cc.isOutlet = make([]bool, len(cc.Idx))
	cc.tpos = make([]int, len(cc.Idx))
	cc.lstate = make([]int, len(cc.Idx))
	for k := range cc.Idx {
		cc.lstate[k] = -1
		if cc.ListenVar[k] == ListenFlow {
			j, ok := sof[cc.ListenIdx[k]]
			if !ok {
				return &ValidationError{Node: m.Net.ID[cc.Idx[k]], Rule: "continuous control listens to the flow of a node that moves none"}
			}
			// only flows the evaluator settles before the controlled
			// structures may steer a rate within the same evaluation
			switch m.Net.Type[cc.ListenIdx[k]] {
			case FlowBoundary, TabulatedRatingCurve, LinearResistance, ManningResistance:
			default:
				return &ValidationError{Node: m.Net.ID[cc.Idx[k]], Rule: "continuous control may listen only to boundary, rating curve, or resistance flows"}
			}
			cc.lstate[k] = j
		}
		ti := cc.TargetIdx[k]
		if m.Net.Type[ti] == Outlet {
			cc.isOutlet[k] = true
			for j, oi := range m.Outlets.Idx {
				if oi == ti {
					cc.tpos[k] = j
					m.Outlets.Mode[j] = ControlContinuous
				}
			}
		} else {
			for j, pi := range m.Pumps.Idx {
				if pi == ti {
					cc.tpos[k] = j
					m.Pumps.Mode[j] = ControlContinuous
				}
			}
		}
	}

	dc := m.Disc
	dc.lstate = make([][]int, len(dc.Idx))
	for k := range dc.Idx {
		dc.lstate[k] = make([]int, len(dc.Conds[k]))
		for c, cond := range dc.Conds[k] {
			dc.lstate[k][c] = -1
			if cond.Var == ListenFlow {
				j, ok := sof[cond.NodeIdx]
				if !ok {
					return &ValidationError{Node: m.Net.ID[dc.Idx[k]], Rule: "discrete control listens to the flow of a node that moves none"}
				}
				dc.lstate[k][c] = j
			}
		}
	}
	return nil
}

// listenValue reads an observed quantity from the current derived state.
func (m *Model) listenValue(v ListenVar, ni, js int, du []float64, sc *scratch) float64 {
	switch v {
	case ListenLevel:
		if b := m.Basins.pos(ni); b >= 0 {
			return sc.lvl[b]
		}
		if k, ok := m.LvlBnd.xr[ni]; ok {
			return m.LvlBnd.level[k]
		}
	case ListenStorage:
		if b := m.Basins.pos(ni); b >= 0 {
			return sc.sto[b]
		}
	case ListenFlow:
		if js >= 0 {
			return du[js]
		}
	}
	return math.NaN()
}

// applyContinuous pushes every listened variable through its relation
// into the target's active rate. Runs inside the evaluator, so the
// controlled rate varies continuously within a step.
func (m *Model) applyContinuous(du []float64, sc *scratch) {
	cc := m.Cont
	for k := range cc.Idx {
		v := m.listenValue(cc.ListenVar[k], cc.ListenIdx[k], cc.lstate[k], du, sc)
		if math.IsNaN(v) {
			continue
		}
		r := cc.Relation[k].At(v)
		if cc.isOutlet[k] {
			m.Outlets.rate[cc.tpos[k]] = r
		} else {
			m.Pumps.rate[cc.tpos[k]] = r
		}
	}
}

// evaluateDiscrete re-tests every condition against the state reached by
// an accepted step and swaps target parameters on a control-state flip.
// The derivative du must be the evaluation at the current state. Reports
// whether any parameter changed.
func (m *Model) evaluateDiscrete(t float64, du []float64, sc *scratch) bool {
	dc := m.Disc
	changed := false
	for k := range dc.Idx {
		tr := dc.truth[k]
		for c, cond := range dc.Conds[k] {
			v := m.listenValue(cond.Var, cond.NodeIdx, dc.lstate[k][c], du, sc)
			tr[c] = v > cond.Threshold
		}
		key := make([]byte, len(tr))
		for c, b := range tr {
			if b {
				key[c] = 'T'
			} else {
				key[c] = 'F'
			}
		}
		st, ok := dc.States[k][string(key)]
		if !ok {
			m.lg.Warn("truth state not mapped, keeping current control state", "node", m.Net.ID[dc.Idx[k]], "truth", string(key))
			continue
		}
		if st == dc.active[k] {
			continue
		}
		for _, pu := range dc.Actions[k][st] {
			if err := m.applyParamUpdate(dc.TargetIdx[k], pu); err != nil {
				m.lg.Warn("control action skipped", "node", m.Net.ID[dc.Idx[k]], "err", err)
				continue
			}
		}
		m.lg.Info("control state change", "node", m.Net.ID[dc.Idx[k]], "state", st, "t", t)
		dc.active[k] = st
		changed = true
	}
	return changed
}

// applyParamUpdate rewrites one mutable parameter of the target node.
func (m *Model) applyParamUpdate(ti int, pu ParamUpdate) error {
	switch m.Net.Type[ti] {
	case Pump:
		for j, pi := range m.Pumps.Idx {
			if pi != ti {
				continue
			}
			if pu.Field != "flow_rate" {
				break
			}
			m.Pumps.rate[j] = pu.Value
			if m.Pumps.Mode[j] == ControlNone {
				m.Pumps.Mode[j] = ControlDiscrete
			}
			return nil
		}
	case Outlet:
		for j, oi := range m.Outlets.Idx {
			if oi != ti {
				continue
			}
			switch pu.Field {
			case "flow_rate":
				m.Outlets.rate[j] = pu.Value
				if m.Outlets.Mode[j] == ControlNone {
					m.Outlets.Mode[j] = ControlDiscrete
				}
				return nil
			case "min_crest":
				m.Outlets.MinCrest[j] = pu.Value
				return nil
			}
			break
		}
	case LinearResistance:
		for j, li := range m.LinRes.Idx {
			if li != ti {
				continue
			}
			if pu.Field != "resistance" || pu.Value <= 0. {
				break
			}
			m.LinRes.R[j] = pu.Value
			return nil
		}
	case TabulatedRatingCurve:
		for j, ri := range m.Rating.Idx {
			if ri != ti {
				continue
			}
			if pu.Field != "scale" || pu.Value < 0. {
				break
			}
			m.Rating.scale[j] = pu.Value
			return nil
		}
	}
	return fmt.Errorf("node %d: no controllable field %q", m.Net.ID[ti], pu.Field)
}
