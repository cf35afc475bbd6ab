package ribasim

import "math"

// Results accumulates the output streams at every save time: per-basin
// storage and level, per-flow-element mean rates over the save interval,
// per-user demand and allocation, and the post-hoc balance diagnostics.
// Buffered in memory; the writers flush at run completion.
type Results struct {
	T []float64 // save times [s]

	BasinID        []int
	Storage, Level [][]float64 // per save, per basin

	FlowLabel []string
	Flow      [][]float64 // per save, per state: mean rate over the interval
	Cum       [][]float64 // per save, per state: cumulative volume

	UserID             []int
	Demand, Allocated  [][]float64 // per save, per user: summed over priorities
	Realized           [][]float64 // per save, per user: mean abstraction rate

	Balance []BalanceError

	prevU   []float64
	prevSto []float64
	prevT   float64
}

func (m *Model) newResults(opts SolverOpts) *Results {
	r := &Results{
		FlowLabel: append([]string(nil), m.smap.label...),
		prevU:     make([]float64, m.smap.n),
		prevSto:   make([]float64, m.Basins.N()),
	}
	for _, i := range m.Basins.Idx {
		r.BasinID = append(r.BasinID, m.Net.ID[i])
	}
	for _, i := range m.Users.Idx {
		r.UserID = append(r.UserID, m.Net.ID[i])
	}
	return r
}

// record snapshots the model at a save time and audits every basin's
// balance over the elapsed interval.
func (r *Results) record(m *Model, t float64) {
	nb := m.Basins.N()
	sto := make([]float64, nb)
	lvl := make([]float64, nb)
	m.storages(m.u, sto)
	for b, p := range m.Basins.Prof {
		lvl[b] = p.LevelFromStorage(sto[b])
	}

	first := len(r.T) == 0
	dt := t - r.prevT
	flow := make([]float64, m.smap.n)
	cum := append([]float64(nil), m.u...)
	if !first && dt > 0. {
		for j := range flow {
			flow[j] = (m.u[j] - r.prevU[j]) / dt
		}
	}

	dem := make([]float64, len(m.Users.Idx))
	alo := make([]float64, len(m.Users.Idx))
	rea := make([]float64, len(m.Users.Idx))
	for k := range m.Users.Idx {
		for p := range m.priorities {
			dem[k] += m.Users.demand[k][p]
			if m.allocActive() {
				alo[k] += m.Users.Alloc[k][p]
			} else {
				alo[k] += m.Users.demand[k][p]
			}
		}
		rea[k] = flow[m.smap.qUserIn[k]]
	}

	if !first {
		r.audit(m, t, sto)
	}

	r.T = append(r.T, t)
	r.Storage = append(r.Storage, sto)
	r.Level = append(r.Level, lvl)
	r.Flow = append(r.Flow, flow)
	r.Cum = append(r.Cum, cum)
	r.Demand = append(r.Demand, dem)
	r.Allocated = append(r.Allocated, alo)
	r.Realized = append(r.Realized, rea)

	copy(r.prevU, m.u)
	copy(r.prevSto, sto)
	r.prevT = t
}

// audit closes each basin's balance over the interval: the storage
// change must equal the signed sum of its recorded flow increments.
// Failures are diagnostics naming the basin, never fatal.
func (r *Results) audit(m *Model, t float64, sto []float64) {
	for b := range m.Basins.Idx {
		din := 0.
		gross := 0.
		for _, tm := range m.smap.inc[b] {
			d := m.u[tm.j] - r.prevU[tm.j]
			din += tm.sign * d
			gross += math.Abs(d)
		}
		abs := math.Abs((sto[b] - r.prevSto[b]) - din)
		rel := 0.
		if gross > 0. {
			rel = abs / gross
		}
		if abs > balanceAbstol && rel > balanceReltol {
			be := BalanceError{Node: m.Net.ID[m.Basins.Idx[b]], T: t, Absolute: abs, Relative: rel}
			r.Balance = append(r.Balance, be)
			m.lg.Warn("water balance", "node", be.Node, "t", t, "abs", abs, "rel", rel)
		}
	}
}

// Final returns the last saved storage and level per basin.
func (r *Results) Final() (sto, lvl []float64) {
	if len(r.T) == 0 {
		return nil, nil
	}
	return r.Storage[len(r.Storage)-1], r.Level[len(r.Level)-1]
}
