package ribasim

import (
	"testing"

	"github.com/Deltares/Ribasim-sub006/forcing"
)

// flatProfile is a prismatic basin: constant area over 0..10 m.
func flatProfile(node int, area float64) []ProfileRow {
	return []ProfileRow{
		{Node: node, Level: 0., Area: area},
		{Node: node, Level: 10., Area: area},
	}
}

// twoBasinTables: basin 1 drains into basin 3 through a linear
// resistance, starting 1 m out of equilibrium.
func twoBasinTables() *Tables {
	tb := &Tables{
		Nodes: []NodeRow{
			{ID: 1, Type: Basin},
			{ID: 2, Type: LinearResistance},
			{ID: 3, Type: Basin},
		},
		Links:       []LinkRow{{From: 1, To: 2}, {From: 2, To: 3}},
		LinRes:      []LinResRow{{Node: 2, R: 100.}},
		BasinStates: []BasinStateRow{{Node: 1, Storage: 1000.}},
	}
	tb.Profiles = append(flatProfile(1, 1000.), flatProfile(3, 1000.)...)
	return tb
}

// pumpTables: a pump draining basin 1 to a terminal at a constant rate.
func pumpTables(s0, rate float64) *Tables {
	tb := &Tables{
		Nodes: []NodeRow{
			{ID: 1, Type: Basin},
			{ID: 2, Type: Pump},
			{ID: 3, Type: Terminal},
		},
		Links:       []LinkRow{{From: 1, To: 2}, {From: 2, To: 3}},
		Pumps:       []PumpRow{{Node: 2, Rate: forcing.Constant(rate)}},
		BasinStates: []BasinStateRow{{Node: 1, Storage: s0}},
	}
	tb.Profiles = flatProfile(1, 1000.)
	return tb
}

func mustModel(t *testing.T, tb *Tables) *Model {
	t.Helper()
	m, err := NewModel(tb)
	if err != nil {
		t.Fatal(err)
	}
	return m
}
