package ribasim

// NodeType tags every node in the network. Dispatch in the evaluator and
// the allocation engine is by this enum, not a class hierarchy.
type NodeType uint8

const (
	Basin NodeType = iota + 1
	TabulatedRatingCurve
	LinearResistance
	ManningResistance
	Pump
	Outlet
	LevelBoundary
	FlowBoundary
	Terminal
	Junction
	UserDemand
	LevelDemand
	FlowDemand
	PidControl
	DiscreteControl
	ContinuousControl
)

var nodeTypeNames = map[NodeType]string{
	Basin:                "Basin",
	TabulatedRatingCurve: "TabulatedRatingCurve",
	LinearResistance:     "LinearResistance",
	ManningResistance:    "ManningResistance",
	Pump:                 "Pump",
	Outlet:               "Outlet",
	LevelBoundary:        "LevelBoundary",
	FlowBoundary:         "FlowBoundary",
	Terminal:             "Terminal",
	Junction:             "Junction",
	UserDemand:           "UserDemand",
	LevelDemand:          "LevelDemand",
	FlowDemand:           "FlowDemand",
	PidControl:           "PidControl",
	DiscreteControl:      "DiscreteControl",
	ContinuousControl:    "ContinuousControl",
}

func (nt NodeType) String() string {
	if s, ok := nodeTypeNames[nt]; ok {
		return s
	}
	return "Unknown"
}

// NodeTypeFromString resolves a table tag to its NodeType, false when
// undefined.
func NodeTypeFromString(s string) (NodeType, bool) {
	for nt, n := range nodeTypeNames {
		if n == s {
			return nt, true
		}
	}
	return 0, false
}

// Link is a directed edge between internal node indices. Direction fixes
// the sign convention: positive flow moves From→To.
type Link struct{ From, To int }

// Network is the immutable directed multigraph built once at load:
// node ids, types and subnetwork memberships in parallel slices indexed
// by internal node index, flow links with adjacency, and separate
// control links carrying no flow state.
type Network struct {
	ID     []int // external ids, index = internal node index
	Type   []NodeType
	Subnet []int // subnetwork id, 0 = unassigned

	Links []Link    // flow links
	lfrac []float64 // per flow link, split weight out of a junction (0 = unset)
	Ctrls []Link    // control links (condition→actuator, demand→target)

	xr map[int]int // external id → internal index

	// flow-link adjacency by internal node index
	out, in   [][]int // neighbor node indices
	outl, inl [][]int // link indices
}

// Index returns the internal index for an external node id.
func (n *Network) Index(id int) (int, bool) {
	i, ok := n.xr[id]
	return i, ok
}

// Nn returns the node count.
func (n *Network) Nn() int { return len(n.ID) }

// upstream returns the internal index of the (single) flow-link upstream
// neighbor of node i, -1 when none.
func (n *Network) upstream(i int) int {
	if len(n.in[i]) == 0 {
		return -1
	}
	return n.in[i][0]
}

// downstream returns the internal index of the (single) flow-link
// downstream neighbor of node i, -1 when none.
func (n *Network) downstream(i int) int {
	if len(n.out[i]) == 0 {
		return -1
	}
	return n.out[i][0]
}
