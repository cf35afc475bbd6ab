package ribasim

import "github.com/Deltares/Ribasim-sub006/forcing"

// ListenVar identifies the quantity a control condition or relation
// observes.
type ListenVar uint8

const (
	ListenLevel   ListenVar = iota + 1 // basin level [m]
	ListenStorage                      // basin storage [m³]
	ListenFlow                         // a connector node's flow [m³/s]
)

// Condition is one boolean threshold test of a discrete controller:
// listened variable > Threshold.
type Condition struct {
	Var       ListenVar
	NodeIdx   int // listened internal node index
	Threshold float64
}

// ParamUpdate rewrites one mutable parameter of the controlled node when
// a control state activates.
type ParamUpdate struct {
	Field string // "flow_rate", "resistance", "min_crest"
	Value float64
}

// DiscreteControls evaluate their conditions after every accepted step;
// the truth values concatenate to a state string selecting among
// pre-registered parameter sets for the controlled node. A flip is an
// instantaneous parameter swap at the step boundary.
type DiscreteControls struct {
	Idx       []int
	TargetIdx []int
	Conds     [][]Condition
	States    []map[string]string        // truth string → control state name
	Actions   []map[string][]ParamUpdate // control state name → updates

	truth  [][]bool
	active []string // current control state name
	lstate [][]int  // per condition, listened flow state index or -1
}

// ContinuousControls push a listened variable through a piecewise-linear
// relation into a target node's controlled parameter, every evaluation,
// not just at event times.
type ContinuousControls struct {
	Idx       []int
	ListenIdx []int
	ListenVar []ListenVar
	TargetIdx []int
	Relation  []Table

	isOutlet []bool
	tpos     []int // target's position within its pump or outlet group
	lstate   []int // listened flow state index or -1
}

// PidControls regulate a basin's level with a pump or outlet. The error
// integral is part of the global state; the controlled flow follows in
// closed form so no nested implicit solve is needed.
type PidControls struct {
	Idx        []int
	TargetIdx  []int // controlled pump or outlet internal node index
	BasinIdx   []int // controlled basin internal node index
	Setpoint   []forcing.Series
	Kp, Ki, Kd []float64

	setpoint []float64
	isOutlet []bool
	tpos     []int // target's position within its pump or outlet group
}

func (p *PidControls) refreshForcing(t float64) {
	for i := range p.Idx {
		p.setpoint[i] = p.Setpoint[i].At(t)
	}
}
