package ribasim

import (
	"math"
	"testing"

	"github.com/Deltares/Ribasim-sub006/forcing"
)

func TestWaterBalanceLinearResistance(t *testing.T) {
	m := mustModel(t, twoBasinTables())
	du := make([]float64, m.smap.n)
	m.waterBalance(0., m.u, du)

	// levels 1 and 0, R = 100
	if got := du[m.smap.qLinRes[0]]; math.Abs(got-0.01) > 1e-12 {
		t.Errorf("resistance flow = %v, want 0.01", got)
	}

	// re-evaluation at the same state is idempotent
	du2 := make([]float64, m.smap.n)
	m.waterBalance(0., m.u, du2)
	for j := range du {
		if du[j] != du2[j] {
			t.Fatalf("state %s not idempotent: %v then %v", m.smap.label[j], du[j], du2[j])
		}
	}
}

func TestWaterBalanceResistanceReverses(t *testing.T) {
	tb := twoBasinTables()
	tb.BasinStates = []BasinStateRow{{Node: 3, Storage: 2000.}}
	m := mustModel(t, tb)
	du := make([]float64, m.smap.n)
	m.waterBalance(0., m.u, du)
	if got := du[m.smap.qLinRes[0]]; math.Abs(got+0.02) > 1e-12 {
		t.Errorf("reversed resistance flow = %v, want -0.02", got)
	}
}

func TestWaterBalanceLinearResistanceClamp(t *testing.T) {
	tb := twoBasinTables()
	tb.LinRes[0].MaxQ = 0.005
	m := mustModel(t, tb)
	du := make([]float64, m.smap.n)
	m.waterBalance(0., m.u, du)
	if got := du[m.smap.qLinRes[0]]; got != 0.005 {
		t.Errorf("clamped flow = %v, want 0.005", got)
	}
}

func TestWaterBalancePumpReduction(t *testing.T) {
	// source storage 5 m³ sits inside the 10 m³ cutoff band
	m := mustModel(t, pumpTables(5., 0.01))
	du := make([]float64, m.smap.n)
	m.waterBalance(0., m.u, du)
	want := 0.01 * reduction(5., pumpStorageP)
	if got := du[m.smap.qPump[0]]; math.Abs(got-want) > 1e-12 {
		t.Errorf("pump flow = %v, want %v", got, want)
	}
	if want >= 0.01 || want <= 0. {
		t.Fatal("test premise wrong: cutoff band not active")
	}
}

func TestWaterBalanceRatingCurve(t *testing.T) {
	tb := &Tables{
		Nodes: []NodeRow{
			{ID: 1, Type: Basin},
			{ID: 2, Type: TabulatedRatingCurve},
			{ID: 3, Type: Terminal},
		},
		Links: []LinkRow{{From: 1, To: 2}, {From: 2, To: 3}},
		Ratings: []RatingRow{
			{Node: 2, Level: 0., Discharge: 0.},
			{Node: 2, Level: 1., Discharge: 1e-3},
		},
		BasinStates: []BasinStateRow{{Node: 1, Storage: 500.}},
	}
	tb.Profiles = flatProfile(1, 1000.)
	m := mustModel(t, tb)
	du := make([]float64, m.smap.n)
	m.waterBalance(0., m.u, du)
	if got, want := du[m.smap.qRating[0]], 0.5e-3; math.Abs(got-want) > 1e-12 {
		t.Errorf("rating flow = %v, want %v", got, want)
	}
}

func TestWaterBalanceOutletHeadCutoff(t *testing.T) {
	// downstream level above upstream: a gravity outlet moves nothing
	tb := &Tables{
		Nodes: []NodeRow{
			{ID: 1, Type: Basin},
			{ID: 2, Type: Outlet},
			{ID: 3, Type: Basin},
		},
		Links:       []LinkRow{{From: 1, To: 2}, {From: 2, To: 3}},
		Outlets:     []OutletRow{{Node: 2, Rate: forcing.Constant(0.5), MinCrest: math.NaN()}},
		BasinStates: []BasinStateRow{{Node: 1, Storage: 1000.}, {Node: 3, Storage: 3000.}},
	}
	tb.Profiles = append(flatProfile(1, 1000.), flatProfile(3, 1000.)...)
	m := mustModel(t, tb)
	du := make([]float64, m.smap.n)
	m.waterBalance(0., m.u, du)
	if got := du[m.smap.qOutlet[0]]; got != 0. {
		t.Errorf("outlet flow against the head = %v, want 0", got)
	}
}

func TestWaterBalanceUserAbstraction(t *testing.T) {
	tb := &Tables{
		Nodes: []NodeRow{
			{ID: 1, Type: Basin},
			{ID: 2, Type: UserDemand},
			{ID: 3, Type: Terminal},
		},
		Links:       []LinkRow{{From: 1, To: 2}, {From: 2, To: 3}},
		Users:       []UserRow{{Node: 2, Priority: 1, Demand: forcing.Constant(0.02), RetFactor: 0.25}},
		BasinStates: []BasinStateRow{{Node: 1, Storage: 1000.}},
	}
	tb.Profiles = flatProfile(1, 1000.)
	m := mustModel(t, tb)
	du := make([]float64, m.smap.n)
	m.waterBalance(0., m.u, du)

	// no allocation engine active in this run: demand is taken directly
	if got := du[m.smap.qUserIn[0]]; math.Abs(got-0.02) > 1e-12 {
		t.Errorf("abstraction = %v, want 0.02", got)
	}
	if got := du[m.smap.qUserOut[0]]; math.Abs(got-0.005) > 1e-12 {
		t.Errorf("return flow = %v, want 0.005", got)
	}
}

func TestContinuousControlRate(t *testing.T) {
	tb := pumpTables(500., 0.)
	tb.Nodes = append(tb.Nodes, NodeRow{ID: 4, Type: ContinuousControl})
	tb.Links = append(tb.Links, LinkRow{From: 4, To: 2, Control: true})
	tb.Cont = []ContinuousRow{{
		Node: 4, Listen: 1, Var: ListenLevel, Target: 2,
		X: []float64{0., 1.}, Y: []float64{0., 0.02},
	}}
	m := mustModel(t, tb)
	du := make([]float64, m.smap.n)
	m.waterBalance(0., m.u, du)
	// level 0.5 maps to a 0.01 pump rate
	if got := du[m.smap.qPump[0]]; math.Abs(got-0.01) > 1e-12 {
		t.Errorf("controlled pump flow = %v, want 0.01", got)
	}
}

func TestManningFlowSymmetry(t *testing.T) {
	tb := &Tables{
		Nodes: []NodeRow{
			{ID: 1, Type: Basin},
			{ID: 2, Type: ManningResistance},
			{ID: 3, Type: Basin},
		},
		Links:       []LinkRow{{From: 1, To: 2}, {From: 2, To: 3}},
		ManRes:      []ManResRow{{Node: 2, Length: 1000., Width: 5., Slope: 1., N: 0.03, Zb: 0.}},
		BasinStates: []BasinStateRow{{Node: 1, Storage: 2000.}, {Node: 3, Storage: 1000.}},
	}
	tb.Profiles = append(flatProfile(1, 1000.), flatProfile(3, 1000.)...)
	m := mustModel(t, tb)

	q := m.manningFlow(0, 2., 1.)
	if q <= 0. {
		t.Fatalf("downhill manning flow = %v, want > 0", q)
	}
	if qr := m.manningFlow(0, 1., 2.); math.Abs(q+qr) > 1e-12 {
		t.Errorf("manning flow not antisymmetric: %v vs %v", q, qr)
	}
	if q0 := m.manningFlow(0, 1.5, 1.5); q0 != 0. {
		t.Errorf("manning flow at zero head = %v, want 0", q0)
	}
}
