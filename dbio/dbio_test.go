package dbio

import (
	"database/sql"
	"path/filepath"
	"testing"

	ribasim "github.com/Deltares/Ribasim-sub006"
)

func seedDB(t *testing.T) string {
	t.Helper()
	fp := filepath.Join(t.TempDir(), "model.db")
	db, err := sql.Open("sqlite", fp)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for _, q := range []string{
		`CREATE TABLE node (id INTEGER, type TEXT, subnetwork INTEGER)`,
		`CREATE TABLE link (from_id INTEGER, to_id INTEGER, control INTEGER, fraction REAL)`,
		`CREATE TABLE basin_profile (node INTEGER, level REAL, area REAL)`,
		`CREATE TABLE basin_state (node INTEGER, storage REAL, level REAL)`,
		`CREATE TABLE basin_forcing (node INTEGER, variable TEXT, t REAL, v REAL)`,
		`CREATE TABLE linear_resistance (node INTEGER, resistance REAL, max_flow_rate REAL)`,
		`CREATE TABLE flow_boundary (node INTEGER, t REAL, v REAL)`,

		`INSERT INTO node VALUES (1, 'FlowBoundary', 0)`,
		`INSERT INTO node VALUES (2, 'Basin', 0)`,
		`INSERT INTO node VALUES (3, 'LinearResistance', 0)`,
		`INSERT INTO node VALUES (4, 'Basin', 0)`,
		`INSERT INTO link VALUES (1, 2, 0, NULL)`,
		`INSERT INTO link VALUES (2, 3, 0, NULL)`,
		`INSERT INTO link VALUES (3, 4, 0, NULL)`,
		`INSERT INTO basin_profile VALUES (2, 0.0, 1000.0)`,
		`INSERT INTO basin_profile VALUES (2, 10.0, 1000.0)`,
		`INSERT INTO basin_profile VALUES (4, 0.0, 500.0)`,
		`INSERT INTO basin_profile VALUES (4, 10.0, 500.0)`,
		`INSERT INTO basin_state VALUES (2, 1000.0, NULL)`,
		`INSERT INTO basin_state VALUES (4, NULL, 2.0)`,
		`INSERT INTO basin_forcing VALUES (2, 'precipitation', 0.0, 1e-6)`,
		`INSERT INTO basin_forcing VALUES (2, 'precipitation', 86400.0, 0.0)`,
		`INSERT INTO linear_resistance VALUES (3, 100.0, 0.0)`,
		`INSERT INTO flow_boundary VALUES (1, 0.0, 0.5)`,
		`INSERT INTO flow_boundary VALUES (1, 3600.0, 0.25)`,
	} {
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
	}
	return fp
}

func TestRead(t *testing.T) {
	tb, err := Read(seedDB(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(tb.Nodes) != 4 || len(tb.Links) != 3 {
		t.Fatalf("%d nodes, %d links", len(tb.Nodes), len(tb.Links))
	}
	if tb.Nodes[0].Type != ribasim.FlowBoundary || tb.Nodes[1].Type != ribasim.Basin {
		t.Error("node types wrong")
	}
	if len(tb.Profiles) != 4 || len(tb.LinRes) != 1 {
		t.Fatal("parameter tables wrong")
	}
	if tb.LinRes[0].R != 100. {
		t.Errorf("resistance = %v", tb.LinRes[0].R)
	}

	// storage seed and level seed both round-trip
	var s2, s4 ribasim.BasinStateRow
	for _, r := range tb.BasinStates {
		switch r.Node {
		case 2:
			s2 = r
		case 4:
			s4 = r
		}
	}
	if s2.HasLvl || s2.Storage != 1000. {
		t.Errorf("basin 2 state = %+v", s2)
	}
	if !s4.HasLvl || s4.Level != 2. {
		t.Errorf("basin 4 state = %+v", s4)
	}

	// long-format series land forward-filled
	if len(tb.FlowBnd) != 1 {
		t.Fatal("flow boundary missing")
	}
	q := tb.FlowBnd[0].Q
	if q.At(0.) != 0.5 || q.At(7200.) != 0.25 {
		t.Errorf("flow boundary series = %+v", q)
	}
	if len(tb.BasinForce) != 1 || tb.BasinForce[0].Precip.At(0.) != 1e-6 {
		t.Error("basin forcing wrong")
	}
	// absent variables default to constant zero when built into a model
	if len(tb.BasinForce[0].PotEvap.T) != 0 {
		t.Error("unset forcing series not empty")
	}

	// missing tables read as empty, and the result builds
	if len(tb.Pumps) != 0 || len(tb.Users) != 0 {
		t.Error("absent tables not empty")
	}
	if _, err := ribasim.NewModel(tb); err != nil {
		t.Fatalf("tables do not build: %v", err)
	}
}

func TestReadUnknownType(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "bad.db")
	db, err := sql.Open("sqlite", fp)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for _, q := range []string{
		`CREATE TABLE node (id INTEGER, type TEXT, subnetwork INTEGER)`,
		`INSERT INTO node VALUES (1, 'Reservoir', 0)`,
	} {
		if _, err := db.Exec(q); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := Read(fp); err == nil {
		t.Error("unknown node type accepted")
	}
}
