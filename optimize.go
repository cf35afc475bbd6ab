package ribasim

import (
	"context"
	"math/rand"
	"runtime"
	"time"

	"github.com/maseology/glbopt"
	"github.com/maseology/mmaths"
	"github.com/maseology/objfunc"
	mrg63k3a "github.com/maseology/goRNG/MRG63k3a"
)

// CalibPar names a tunable structure parameter of one node.
type CalibPar struct {
	Node     int    // external node id
	Field    string // "resistance", "manning_n", "rating_scale"
	Min, Max float64
	Log      bool
}

// CalibTarget is an observed basin level series to fit.
type CalibTarget struct {
	Node int       // basin id
	T    []float64 // [s]
	Obs  []float64 // [m]
}

// Calibrate fits the named parameters to observed basin levels with
// shuffled-complex evolution, maximizing Nash-Sutcliffe efficiency over
// all targets. The tables are rebuilt per evaluation so trial runs never
// share state. Returns the best parameter set and its score.
func Calibrate(tb *Tables, pars []CalibPar, targets []CalibTarget, opts SolverOpts) ([]float64, float64, error) {
	if _, err := NewModel(tb); err != nil {
		return nil, 0., err
	}

	rng := rand.New(mrg63k3a.New())
	rng.Seed(time.Now().UnixNano())

	gen := func(u []float64) float64 {
		vals := make([]float64, len(pars))
		for i, p := range pars {
			if p.Log {
				vals[i] = mmaths.LogLinearTransform(p.Min, p.Max, u[i])
			} else {
				vals[i] = mmaths.LinearTransform(p.Min, p.Max, u[i])
			}
		}
		nse, err := evalTrial(tb, pars, vals, targets, opts)
		if err != nil {
			return 1e8
		}
		return -nse // SCE minimizes
	}

	uFinal, of := glbopt.SCE(runtime.GOMAXPROCS(0), len(pars), rng, gen, true)

	vals := make([]float64, len(pars))
	for i, p := range pars {
		if p.Log {
			vals[i] = mmaths.LogLinearTransform(p.Min, p.Max, uFinal[i])
		} else {
			vals[i] = mmaths.LinearTransform(p.Min, p.Max, uFinal[i])
		}
	}
	return vals, -of, nil
}

func evalTrial(tb *Tables, pars []CalibPar, vals []float64, targets []CalibTarget, opts SolverOpts) (float64, error) {
	m, err := NewModel(tb)
	if err != nil {
		return 0., err
	}
	for i, p := range pars {
		ni, ok := m.Net.xr[p.Node]
		if !ok {
			return 0., &ValidationError{Node: p.Node, Rule: "calibration parameter targets unknown node"}
		}
		switch p.Field {
		case "resistance":
			for j, li := range m.LinRes.Idx {
				if li == ni {
					m.LinRes.R[j] = vals[i]
				}
			}
		case "manning_n":
			for j, mi := range m.ManRes.Idx {
				if mi == ni {
					m.ManRes.N[j] = vals[i]
				}
			}
		case "rating_scale":
			for j, ri := range m.Rating.Idx {
				if ri == ni {
					m.Rating.scale[j] = vals[i]
				}
			}
		default:
			return 0., &ValidationError{Node: p.Node, Rule: "unknown calibration field " + p.Field}
		}
	}

	res, err := m.Run(context.Background(), opts)
	if err != nil {
		return 0., err
	}

	// mean NSE over targets, simulated levels sampled at the save times
	sum := 0.
	for _, tg := range targets {
		bp := -1
		for j, id := range res.BasinID {
			if id == tg.Node {
				bp = j
			}
		}
		if bp < 0 {
			return 0., &ValidationError{Node: tg.Node, Rule: "calibration target is not a basin"}
		}
		obs := make([]float64, 0, len(tg.T))
		sim := make([]float64, 0, len(tg.T))
		si := 0
		for i, t := range tg.T {
			for si < len(res.T)-1 && res.T[si] < t {
				si++
			}
			obs = append(obs, tg.Obs[i])
			sim = append(sim, res.Level[si][bp])
		}
		sum += objfunc.NSE(obs, sim)
	}
	return sum / float64(len(targets)), nil
}
