package ribasim

import (
	"context"
	"math"

	"github.com/gosuri/uiprogress"
	"gonum.org/v1/gonum/mat"
)

// SolverOpts configures a run. Zero values take the defaults noted.
type SolverOpts struct {
	Tend    float64 // [s] end of run, required
	Dt0     float64 // [s] first step, default 60
	Dtmin   float64 // [s] step-size floor, default 1e-6
	Dtmax   float64 // [s] step-size cap, default 86400
	Abstol  float64 // default 1e-6
	Reltol  float64 // default 1e-5
	Saveat  float64 // [s] output interval, default 86400
	AllocDt float64 // [s] allocation interval, 0 disables allocation
	MaxIter int     // Newton iterations per step, default 10

	Progress bool // terminal progress bar
}

func (o *SolverOpts) setDefaults() {
	if o.Dt0 <= 0. {
		o.Dt0 = 60.
	}
	if o.Dtmin <= 0. {
		o.Dtmin = 1e-6
	}
	if o.Dtmax <= 0. {
		o.Dtmax = 86400.
	}
	if o.Abstol <= 0. {
		o.Abstol = defaultAbstol
	}
	if o.Reltol <= 0. {
		o.Reltol = defaultReltol
	}
	if o.Saveat <= 0. {
		o.Saveat = 86400.
	}
	if o.MaxIter <= 0 {
		o.MaxIter = defaultMaxNewton
	}
}

// Run integrates the water balance from the model's current time to
// opts.Tend with an adaptive implicit Euler scheme: one modified-Newton
// solve per step against a colored finite-difference Jacobian, forward
// Euler as the embedded error reference, and rejection of any step
// that would drive a basin storage negative. Events (forcing breaks,
// allocation intervals, save times) are mandatory stops dispatched in
// order between steps. Cancellation applies between steps only.
func (m *Model) Run(ctx context.Context, opts SolverOpts) (*Results, error) {
	opts.setDefaults()
	if opts.Tend <= m.t {
		return nil, &ValidationError{Node: -1, Rule: "end time not after start time"}
	}

	n := m.smap.n
	sc := m.scr
	q := m.buildEvents(m.t, opts.Tend, opts.AllocDt, opts.Saveat)
	dec := newRtolDecay(opts.Reltol, n)

	J := mat.NewDense(n, n, nil)
	A := mat.NewDense(n, n, nil)
	var lu mat.LU
	g := mat.NewVecDense(n, nil)
	dx := mat.NewVecDense(n, nil)
	u1 := make([]float64, n)

	m.refreshForcing(m.t)
	m.allocDt = opts.AllocDt
	if opts.AllocDt > 0. && m.allocActive() {
		m.allocate(m.t)
	}
	res := m.newResults(opts)
	res.record(m, m.t)

	var bar *uiprogress.Bar
	if opts.Progress {
		uiprogress.Start()
		bar = uiprogress.AddBar(int(math.Ceil((opts.Tend - m.t) / opts.Saveat))).AppendCompleted().PrependElapsed()
		defer uiprogress.Stop()
	}

	h := opts.Dt0
	for !q.done() {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}
		tstop := q.nextTime()

		for m.t < tstop-nearzero {
			if h > opts.Dtmax {
				h = opts.Dtmax
			}
			if m.t+h > tstop {
				h = tstop - m.t
			}

			m.waterBalance(m.t, m.u, sc.f0)
			m.stats.RhsEvals++
			m.jacobian(m.t, m.u, sc.f0, J)

			// A = I - h·J, shared across the modified-Newton iterations
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					v := -h * J.At(i, j)
					if i == j {
						v += 1.
					}
					A.Set(i, j, v)
				}
			}
			lu.Factorize(A)

			// forward Euler predictor, then Newton on the implicit residual
			for i := range u1 {
				u1[i] = m.u[i] + h*sc.f0[i]
			}
			converged := false
			for it := 0; it < opts.MaxIter; it++ {
				m.waterBalance(m.t+h, u1, sc.f1)
				m.stats.RhsEvals++
				m.stats.NewtonIters++
				for i := 0; i < n; i++ {
					g.SetVec(i, u1[i]-m.u[i]-h*sc.f1[i])
				}
				if err := lu.SolveVecTo(dx, false, g); err != nil {
					break
				}
				for i := 0; i < n; i++ {
					u1[i] -= dx.AtVec(i)
				}
				if dec.wrms(dx.RawVector().Data, u1, opts.Abstol) <= newtonKappa {
					converged = true
					break
				}
			}

			reject := func(cause string) error {
				m.stats.Rejected++
				id := m.worstNode(g.RawVector().Data)
				m.stats.Bottleneck[id]++
				h /= 2.
				if h < opts.Dtmin {
					return &ConvergenceError{T: m.t, Node: id, Err: mat.Norm(g, math.Inf(1)), Cause: cause + " below the step-size floor"}
				}
				return nil
			}

			if !converged {
				if err := reject("newton iteration stalled"); err != nil {
					return res, err
				}
				continue
			}

			// domain rejection: no negative derived storage
			m.storages(u1, sc.sto)
			bad := false
			for b, sv := range sc.sto {
				if sv < -nearzero {
					bad = true
					m.stats.Bottleneck[m.Net.ID[m.Basins.Idx[b]]]++
				}
			}
			if bad {
				m.stats.Rejected++
				h /= 2.
				if h < opts.Dtmin {
					return res, &ConvergenceError{T: m.t, Node: m.worstStorageNode(sc.sto), Err: h, Cause: "negative storage persists below the step-size floor"}
				}
				continue
			}

			// error estimate: implicit step against its explicit predictor
			for i := range u1 {
				sc.est[i] = math.Abs(u1[i]-m.u[i]-h*sc.f0[i]) / 2.
			}
			errn := dec.wrms(sc.est, u1, opts.Abstol)
			if errn > 1. {
				if err := reject("error norm exceeded"); err != nil {
					return res, err
				}
				h *= math.Min(1., math.Max(0.2, 0.9*math.Pow(errn, -0.5)))
				continue
			}

			m.t += h
			copy(m.u, u1)
			m.stats.Accepted++
			dec.maybeDecay(m.t, m.u)

			// sc holds the evaluation at the accepted state
			if len(m.Disc.Idx) > 0 {
				m.evaluateDiscrete(m.t, sc.f1, sc)
			}

			if errn > nearzero {
				h *= math.Min(5., math.Max(0.2, 0.9*math.Pow(errn, -0.5)))
			} else {
				h *= 5.
			}
		}

		for _, e := range q.popDue(m.t) {
			switch e.kind {
			case evForcing:
				m.refreshForcing(m.t)
			case evAlloc:
				m.allocate(m.t)
			case evSave:
				res.record(m, m.t)
				if bar != nil {
					bar.Incr()
				}
			case evEnd:
			}
		}
	}

	m.lg.Info("run complete", "t", m.t, "accepted", m.stats.Accepted, "rejected", m.stats.Rejected)
	return res, nil
}

// worstNode returns the node id dominating a residual vector.
func (m *Model) worstNode(g []float64) int {
	wi, wv := 0, 0.
	for i, v := range g {
		if a := math.Abs(v); a > wv {
			wi, wv = i, a
		}
	}
	return m.Net.ID[m.smap.node[wi]]
}

func (m *Model) worstStorageNode(sto []float64) int {
	wb, wv := 0, 0.
	for b, sv := range sto {
		if sv < wv {
			wb, wv = b, sv
		}
	}
	return m.Net.ID[m.Basins.Idx[wb]]
}
