package ribasim

import (
	"sort"

	"github.com/Deltares/Ribasim-sub006/forcing"
)

// Table is a piecewise-linear x→y function with flat extrapolation,
// used for rating curves and continuous-control relations.
type Table struct{ X, Y []float64 }

// NewTable validates a strictly increasing abscissa.
func NewTable(node int, x, y []float64) (Table, error) {
	if len(x) < 2 || len(x) != len(y) {
		return Table{}, &ValidationError{Node: node, Rule: "table needs at least two (x, y) rows"}
	}
	for i := 1; i < len(x); i++ {
		if x[i] <= x[i-1] {
			return Table{}, &ValidationError{Node: node, Rule: "table abscissa must be strictly increasing"}
		}
	}
	return Table{X: x, Y: y}, nil
}

// At interpolates linearly, clamping outside the table domain.
func (tb Table) At(x float64) float64 {
	n := len(tb.X)
	if x <= tb.X[0] {
		return tb.Y[0]
	}
	if x >= tb.X[n-1] {
		return tb.Y[n-1]
	}
	i := sort.SearchFloat64s(tb.X, x)
	x0, x1 := tb.X[i-1], tb.X[i]
	return tb.Y[i-1] + (tb.Y[i]-tb.Y[i-1])*(x-x0)/(x1-x0)
}

// ControlMode selects what steers a pump/outlet rate between solver
// steps.
type ControlMode uint8

const (
	ControlNone       ControlMode = iota // configured rate series
	ControlAllocation                    // allocation writes the rate
	ControlDiscrete                      // discrete control swaps the rate
	ControlPid                           // a PID controller computes the flow
	ControlContinuous                    // continuous control overwrites the rate
)

// RatingCurves: flow is a piecewise-linear function of upstream level
// only.
type RatingCurves struct {
	Idx []int
	Q   []Table // upstream level → discharge
	// scale is a calibration multiplier on the tabulated discharge
	scale []float64
}

// LinearResistances: q = clamp((h_up−h_down)/R, −MaxQ, MaxQ), symmetric.
type LinearResistances struct {
	Idx     []int
	R, MaxQ []float64
}

// ManningResistances: trapezoidal-channel Manning/energy-balance flow.
type ManningResistances struct {
	Idx                  []int
	Length, Width, Slope []float64 // reach length [m], bottom width [m], side slope z [-]
	N                    []float64 // Manning roughness
	Zb                   []float64 // bed elevation [m]
}

// Pumps move water downstream at a configured (or controlled) rate,
// cut off smoothly as the source basin empties.
type Pumps struct {
	Idx        []int
	Rate       []forcing.Series
	MinQ, MaxQ []float64
	Mode       []ControlMode

	rate []float64 // active rate, mutated by forcing/control/allocation
}

// Outlets are gravity structures: like pumps but additionally cut off
// as the head difference or the upstream level above the crest vanish.
type Outlets struct {
	Idx        []int
	Rate       []forcing.Series
	MinQ, MaxQ []float64
	MinCrest   []float64 // NaN when unset
	Mode       []ControlMode

	rate []float64
}

// LevelBoundaries impose an external level; they store no water.
type LevelBoundaries struct {
	Idx   []int
	Level []forcing.Series
	level []float64
	xr    map[int]int // internal node index → position
}

// FlowBoundaries inject a prescribed flow into their downstream node.
type FlowBoundaries struct {
	Idx []int
	Q   []forcing.Series
	q   []float64
}

// UserDemands abstract water from their source basin per demand
// priority and return a fraction to their return node.
type UserDemands struct {
	Idx       []int
	Demand    [][]forcing.Series // [user][priority slot] demanded rate [m³/s]
	RetFactor []float64
	MinLevel  []float64

	demand [][]float64 // current demanded rates
	Alloc  [][]float64 // allocated rate per priority slot, written by allocation
}

// LevelDemands attach priority-ordered level targets to a basin: below
// MinLevel the basin demands water at Priority, above MaxLevel it may
// supply.
type LevelDemands struct {
	Idx                []int
	BasinIdx           []int // controlled basin internal node index
	MinLevel, MaxLevel []float64
	Priority           []int32
}

// FlowDemands require a minimum flow through a target connector node,
// buffered between allocation intervals.
type FlowDemands struct {
	Idx       []int
	TargetIdx []int // target connector internal node index
	Demand    []forcing.Series
	Priority  []int32
	BufferCap []float64 // maximum buffered volume [m³]

	demand []float64
	buffer []float64 // buffered volume [m³]
}

// Junctions fan flow out: each out-link carries its own cumulative
// state with a split fraction of the summed inflow. Fractions default to
// an equal split; continuous control may rewrite them.
type Junctions struct {
	Idx  []int
	frac [][]float64 // per junction, per out-link; sums to 1

	inStates [][]int // state indices of the in-link flows
}

func (u *UserDemands) refreshForcing(t float64) {
	for i := range u.Idx {
		for p, s := range u.Demand[i] {
			u.demand[i][p] = s.At(t)
		}
	}
}

func (f *FlowDemands) refreshForcing(t float64) {
	for i := range f.Idx {
		f.demand[i] = f.Demand[i].At(t)
	}
}
