package ribasim

// The simulation state is cumulative: every flow-generating element
// integrates its own flow from t0, and each active PID controller
// integrates its error. Basin storage is derived from the state through
// a constant signed incidence, which both conserves mass exactly and
// lets post-processing recover each individual flow.

type incTerm struct {
	j    int     // state index
	sign float64 // +1 into the basin, -1 out
}

// stateMap lays out the global state vector and the basin incidence.
type stateMap struct {
	n int

	// state index per group position (parallel to the group slices)
	qRating, qLinRes, qManRes []int
	qPump, qOutlet            []int
	qFlowBnd                  []int
	qUserIn, qUserOut         []int
	qJunction                 [][]int // per junction, per out-link
	bPrec, bEvap, bDrn, bInf  []int   // per basin
	pid                       []int   // per PID controller, the error integral

	inc [][]incTerm // per basin, the signed states feeding its storage

	node  []int    // state index → internal node index (diagnostics)
	label []string // state index → output column name

	jorder []int // junction positions in upstream-first order
}

// nState returns the state dimension.
func (s *stateMap) nState() int { return s.n }

// storages derives every basin storage from the cumulative state.
func (m *Model) storages(u, sto []float64) {
	for b := range m.Basins.Idx {
		s := m.Basins.S0[b]
		for _, tm := range m.smap.inc[b] {
			s += tm.sign * u[tm.j]
		}
		sto[b] = s
	}
}

// scratch buffers reused across evaluator calls; contents are derived
// from the arguments on every call so re-evaluation is idempotent.
type scratch struct {
	sto, lvl, area []float64 // per basin
	f0, f1, utmp   []float64 // solver work arrays, state-dimensioned
	est            []float64
}

func newScratch(nb, n int) *scratch {
	return &scratch{
		sto:  make([]float64, nb),
		lvl:  make([]float64, nb),
		area: make([]float64, nb),
		f0:   make([]float64, n),
		f1:   make([]float64, n),
		utmp: make([]float64, n),
		est:  make([]float64, n),
	}
}
