package ribasim

import "math"

// evaluatePid writes the PID error derivatives and the controlled pump
// and outlet flows. The caller zeroes the actuator states and resolves
// every other flow, junctions included, before this runs: the
// derivative gain needs the listened basin's net inflow excluding the
// controlled flow itself, so the controlled rate follows in closed form
// rather than through a nested implicit solve.
func (m *Model) evaluatePid(t float64, u, du []float64, sc *scratch) {
	if len(m.Pid.Idx) == 0 {
		return
	}
	s := m.smap

	for k := range m.Pid.Idx {
		b := m.Basins.pos(m.Pid.BasinIdx[k])
		e := m.Pid.setpoint[k] - sc.lvl[b]
		du[s.pid[k]] = e

		// net inflow of the listened basin excluding the controlled flow,
		// and the controlled flow's incidence sign on that basin
		js := m.pidFlowState(k)
		sgn, fhat := 0., 0.
		for _, tm := range s.inc[b] {
			if tm.j == js {
				sgn = tm.sign
				continue
			}
			fhat += tm.sign * du[tm.j]
		}

		// the actuator draws from its upstream basin; shut down smoothly
		// as that basin empties
		phi := 1.
		if ub := m.Basins.pos(m.Net.upstream(m.Pid.TargetIdx[k])); ub >= 0 {
			phi = reduction(sc.sto[ub], pumpStorageP)
		}

		area := sc.area[b]
		kp, ki, kd := m.Pid.Kp[k], m.Pid.Ki[k], m.Pid.Kd[k]
		num := kp*e + ki*u[s.pid[k]]
		den := 1.
		if kd != 0. {
			// setpoints are step series, so their time derivative is zero
			num += kd * (0. - fhat/area)
			den += phi * kd / area
		}

		// link-positive controlled flow: actuation sgn·q = φ·num/den
		// raises the level on positive error, then the structure's rate
		// bounds apply
		q := sgn * phi * num / den
		gp := m.Pid.tpos[k]
		var lo, hi float64
		if m.Pid.isOutlet[k] {
			lo, hi = m.Outlets.MinQ[gp], m.Outlets.MaxQ[gp]
		} else {
			lo, hi = m.Pumps.MinQ[gp], m.Pumps.MaxQ[gp]
		}
		du[js] = math.Min(math.Max(q, lo), hi)
	}
}

// pidFlowState returns the state index of controller k's actuated flow.
func (m *Model) pidFlowState(k int) int {
	if m.Pid.isOutlet[k] {
		return m.smap.qOutlet[m.Pid.tpos[k]]
	}
	return m.smap.qPump[m.Pid.tpos[k]]
}
