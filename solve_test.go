package ribasim

import (
	"context"
	"math"
	"testing"

	"github.com/Deltares/Ribasim-sub006/forcing"
)

func TestRunTwoBasinEquilibrium(t *testing.T) {
	m := mustModel(t, twoBasinTables())
	res, err := m.Run(context.Background(), SolverOpts{Tend: 1e6, Saveat: 1e5})
	if err != nil {
		t.Fatal(err)
	}

	sto, lvl := res.Final()
	// mass is conserved through the incidence, not approximately
	if total := sto[0] + sto[1]; math.Abs(total-1000.) > 1e-6 {
		t.Errorf("total storage = %v, want 1000", total)
	}
	// twenty time constants in: levels equalized at 0.5 m
	if math.Abs(lvl[0]-0.5) > 1e-3 || math.Abs(lvl[1]-0.5) > 1e-3 {
		t.Errorf("final levels = %v %v, want 0.5 each", lvl[0], lvl[1])
	}
	if lvl[0] < lvl[1]-1e-9 {
		t.Error("upstream level fell below downstream")
	}
	if m.Stats().Accepted == 0 {
		t.Error("no accepted steps")
	}
	if len(res.Balance) != 0 {
		t.Errorf("balance audit flagged %d intervals", len(res.Balance))
	}
}

func TestRunRatingCurveDepletion(t *testing.T) {
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
	res, err := m.Run(context.Background(), SolverOpts{Tend: 2e5, Saveat: 2e4})
	if err != nil {
		t.Fatal(err)
	}
	prev := math.Inf(1)
	for k := range res.T {
		s := res.Storage[k][0]
		if s < 0. {
			t.Fatalf("negative storage %v at t=%v", s, res.T[k])
		}
		if s > prev+1e-9 {
			t.Fatalf("storage grew from %v to %v at t=%v", prev, s, res.T[k])
		}
		prev = s
	}
	if final := res.Storage[len(res.T)-1][0]; final >= 500. {
		t.Errorf("no depletion: final storage %v", final)
	}
}

func TestRunPumpDryout(t *testing.T) {
	// a pump demanding more than the basin holds must taper out smoothly,
	// never driving storage negative
	m := mustModel(t, pumpTables(10., 0.01))
	res, err := m.Run(context.Background(), SolverOpts{Tend: 1e4, Saveat: 1e4})
	if err != nil {
		t.Fatal(err)
	}
	sto, _ := res.Final()
	if sto[0] < -nearzero {
		t.Errorf("storage went negative: %v", sto[0])
	}
	if sto[0] > 2. {
		t.Errorf("pump barely drained the basin: %v of 10 m³ left", sto[0])
	}
}

func TestRunForcingBreakIsExact(t *testing.T) {
	// precipitation switches off at t=5e4; the cumulative precipitation
	// state must integrate the square pulse exactly
	tb := &Tables{
		Nodes:    []NodeRow{{ID: 1, Type: Basin}},
		Profiles: flatProfile(1, 1000.),
		BasinForce: []BasinForcingRow{{
			Node:   1,
			Precip: forcing.Series{T: []float64{0., 5e4}, V: []float64{1e-6, 0.}},
		}},
	}
	m := mustModel(t, tb)
	res, err := m.Run(context.Background(), SolverOpts{Tend: 1e5, Saveat: 1e5})
	if err != nil {
		t.Fatal(err)
	}
	sto, _ := res.Final()
	// 1e-6 m/s on 1000 m² for 5e4 s
	if want := 50.; math.Abs(sto[0]-want) > 1e-6 {
		t.Errorf("storage after the pulse = %v, want %v", sto[0], want)
	}
}

func TestRunPidLevelControl(t *testing.T) {
	tb := pumpTables(6000., 0.)
	tb.Nodes = append(tb.Nodes, NodeRow{ID: 4, Type: PidControl})
	tb.Links = append(tb.Links, LinkRow{From: 4, To: 2, Control: true})
	tb.Pid = []PidRow{{
		Node: 4, Target: 2, Listen: 1,
		Setpoint: forcing.Constant(5.),
		Kp:       1e-3,
	}}
	m := mustModel(t, tb)
	res, err := m.Run(context.Background(), SolverOpts{Tend: 1e7, Saveat: 1e6})
	if err != nil {
		t.Fatal(err)
	}
	_, lvl := res.Final()
	if math.Abs(lvl[0]-5.)/5. > 0.01 {
		t.Errorf("controlled level = %v, want 5.0 within 1%%", lvl[0])
	}
	// the controller only drains: the level approaches from above
	for k := range res.T {
		if res.Level[k][0] < 5.-0.05 {
			t.Errorf("level undershot to %v at t=%v", res.Level[k][0], res.T[k])
		}
	}
}

func TestRunDiscreteControlCutoff(t *testing.T) {
	tb := pumpTables(1000., 0.01)
	tb.Nodes = append(tb.Nodes, NodeRow{ID: 4, Type: DiscreteControl})
	tb.Links = append(tb.Links, LinkRow{From: 4, To: 2, Control: true})
	tb.DiscCond = []DiscreteCondRow{{Node: 4, Listen: 1, Var: ListenLevel, Threshold: 0.5}}
	tb.DiscLogic = []DiscreteLogicRow{
		{Node: 4, Truth: "T", State: "on"},
		{Node: 4, Truth: "F", State: "off"},
	}
	tb.DiscAct = []DiscreteActionRow{
		{Node: 4, State: "on", Target: 2, Field: "flow_rate", Value: 0.01},
		{Node: 4, State: "off", Target: 2, Field: "flow_rate", Value: 0.},
	}
	m := mustModel(t, tb)
	res, err := m.Run(context.Background(), SolverOpts{Tend: 1e5, Dtmax: 1000., Saveat: 1e5})
	if err != nil {
		t.Fatal(err)
	}
	_, lvl := res.Final()
	// the pump switches off crossing 0.5 m, overshooting at most one step
	if lvl[0] < 0.45 || lvl[0] > 0.51 {
		t.Errorf("level after cutoff = %v, want ~0.5", lvl[0])
	}
}

func TestRunRejectsBadSpan(t *testing.T) {
	m := mustModel(t, twoBasinTables())
	if _, err := m.Run(context.Background(), SolverOpts{Tend: 0.}); err == nil {
		t.Error("zero-length run accepted")
	}
}

func TestRunContextCancel(t *testing.T) {
	m := mustModel(t, twoBasinTables())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Run(ctx, SolverOpts{Tend: 1e6}); err == nil {
		t.Error("cancelled run returned no error")
	}
}
