// Package dbio reads a model's input tables from a SQLite database into
// the in-memory table structs the builder consumes. The schema mirrors
// the table contract: one table per node-type parameter set keyed by
// node id, time-varying columns in long format (node, t, v).
package dbio

import (
	"database/sql"
	"fmt"
	"math"
	"strings"

	_ "modernc.org/sqlite"

	ribasim "github.com/Deltares/Ribasim-sub006"
	"github.com/Deltares/Ribasim-sub006/forcing"
)

// Read loads every table present in the database at path. Missing
// tables are treated as empty; malformed rows fail loudly.
func Read(path string) (*ribasim.Tables, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbio: open %s: %w", path, err)
	}
	defer db.Close()
	return ReadDB(db)
}

// ReadDB loads the tables from an open database handle.
func ReadDB(db *sql.DB) (*ribasim.Tables, error) {
	tb := &ribasim.Tables{}
	r := reader{db: db}

	r.each("SELECT id, type, subnetwork FROM node", func(s scanner) error {
		var id, sub int
		var typ string
		if err := s.Scan(&id, &typ, &sub); err != nil {
			return err
		}
		nt, ok := ribasim.NodeTypeFromString(typ)
		if !ok {
			return fmt.Errorf("node %d: unknown type %q", id, typ)
		}
		tb.Nodes = append(tb.Nodes, ribasim.NodeRow{ID: id, Type: nt, Subnet: sub})
		return nil
	})
	r.each("SELECT from_id, to_id, control, fraction FROM link", func(s scanner) error {
		var f, t, c int
		var fr sql.NullFloat64
		if err := s.Scan(&f, &t, &c, &fr); err != nil {
			return err
		}
		tb.Links = append(tb.Links, ribasim.LinkRow{From: f, To: t, Control: c != 0, Frac: fr.Float64})
		return nil
	})
	r.each("SELECT node, level, area FROM basin_profile ORDER BY node, level", func(s scanner) error {
		var p ribasim.ProfileRow
		if err := s.Scan(&p.Node, &p.Level, &p.Area); err != nil {
			return err
		}
		tb.Profiles = append(tb.Profiles, p)
		return nil
	})
	r.each("SELECT node, storage, level FROM basin_state", func(s scanner) error {
		var node int
		var sto, lvl sql.NullFloat64
		if err := s.Scan(&node, &sto, &lvl); err != nil {
			return err
		}
		row := ribasim.BasinStateRow{Node: node}
		if lvl.Valid {
			row.Level, row.HasLvl = lvl.Float64, true
		} else {
			row.Storage = sto.Float64
		}
		tb.BasinStates = append(tb.BasinStates, row)
		return nil
	})

	bf := map[int]*ribasim.BasinForcingRow{}
	r.each("SELECT node, variable, t, v FROM basin_forcing ORDER BY node, variable, t", func(s scanner) error {
		var node int
		var v string
		var t, val float64
		if err := s.Scan(&node, &v, &t, &val); err != nil {
			return err
		}
		row := bf[node]
		if row == nil {
			row = &ribasim.BasinForcingRow{Node: node}
			bf[node] = row
		}
		var sp *forcing.Series
		switch v {
		case "precipitation":
			sp = &row.Precip
		case "potential_evaporation":
			sp = &row.PotEvap
		case "drainage":
			sp = &row.Drainage
		case "infiltration":
			sp = &row.Infiltration
		default:
			return fmt.Errorf("basin %d: unknown forcing variable %q", node, v)
		}
		sp.T = append(sp.T, t)
		sp.V = append(sp.V, val)
		return nil
	})
	for _, row := range bf {
		tb.BasinForce = append(tb.BasinForce, *row)
	}

	r.each("SELECT node, level, discharge FROM rating_curve ORDER BY node, level", func(s scanner) error {
		var row ribasim.RatingRow
		if err := s.Scan(&row.Node, &row.Level, &row.Discharge); err != nil {
			return err
		}
		tb.Ratings = append(tb.Ratings, row)
		return nil
	})
	r.each("SELECT node, resistance, max_flow_rate FROM linear_resistance", func(s scanner) error {
		var row ribasim.LinResRow
		var mq sql.NullFloat64
		if err := s.Scan(&row.Node, &row.R, &mq); err != nil {
			return err
		}
		row.MaxQ = mq.Float64
		tb.LinRes = append(tb.LinRes, row)
		return nil
	})
	r.each("SELECT node, length, width, slope, n, bottom FROM manning_resistance", func(s scanner) error {
		var row ribasim.ManResRow
		if err := s.Scan(&row.Node, &row.Length, &row.Width, &row.Slope, &row.N, &row.Zb); err != nil {
			return err
		}
		tb.ManRes = append(tb.ManRes, row)
		return nil
	})
	r.each("SELECT node, min_flow_rate, max_flow_rate, control_mode FROM pump", func(s scanner) error {
		var node int
		var minq, maxq sql.NullFloat64
		var mode string
		if err := s.Scan(&node, &minq, &maxq, &mode); err != nil {
			return err
		}
		tb.Pumps = append(tb.Pumps, ribasim.PumpRow{
			Node: node, MinQ: minq.Float64, MaxQ: maxq.Float64,
			Rate: r.series("pump_rate", node), Mode: controlMode(mode),
		})
		return nil
	})
	r.each("SELECT node, min_flow_rate, max_flow_rate, min_crest, control_mode FROM outlet", func(s scanner) error {
		var node int
		var minq, maxq, crest sql.NullFloat64
		var mode string
		if err := s.Scan(&node, &minq, &maxq, &crest, &mode); err != nil {
			return err
		}
		mc := math.NaN()
		if crest.Valid {
			mc = crest.Float64
		}
		tb.Outlets = append(tb.Outlets, ribasim.OutletRow{
			Node: node, MinQ: minq.Float64, MaxQ: maxq.Float64, MinCrest: mc,
			Rate: r.series("outlet_rate", node), Mode: controlMode(mode),
		})
		return nil
	})
	r.each("SELECT DISTINCT node FROM level_boundary", func(s scanner) error {
		var node int
		if err := s.Scan(&node); err != nil {
			return err
		}
		tb.LevelBnd = append(tb.LevelBnd, ribasim.LevelBndRow{Node: node, Level: r.series("level_boundary", node)})
		return nil
	})
	r.each("SELECT DISTINCT node FROM flow_boundary", func(s scanner) error {
		var node int
		if err := s.Scan(&node); err != nil {
			return err
		}
		tb.FlowBnd = append(tb.FlowBnd, ribasim.FlowBndRow{Node: node, Q: r.series("flow_boundary", node)})
		return nil
	})
	r.each("SELECT node, priority, return_factor, min_level FROM user_demand", func(s scanner) error {
		var row ribasim.UserRow
		if err := s.Scan(&row.Node, &row.Priority, &row.RetFactor, &row.MinLevel); err != nil {
			return err
		}
		row.Demand = r.prioritySeries("user_demand_rate", row.Node, row.Priority)
		tb.Users = append(tb.Users, row)
		return nil
	})
	r.each("SELECT node, basin, min_level, max_level, priority FROM level_demand", func(s scanner) error {
		var row ribasim.LevelDemRow
		if err := s.Scan(&row.Node, &row.Basin, &row.MinLevel, &row.MaxLevel, &row.Priority); err != nil {
			return err
		}
		tb.LevelDem = append(tb.LevelDem, row)
		return nil
	})
	r.each("SELECT node, target, priority, buffer_capacity FROM flow_demand", func(s scanner) error {
		var row ribasim.FlowDemRow
		if err := s.Scan(&row.Node, &row.Target, &row.Priority, &row.BufferCap); err != nil {
			return err
		}
		row.Demand = r.series("flow_demand_rate", row.Node)
		tb.FlowDem = append(tb.FlowDem, row)
		return nil
	})
	r.each("SELECT node, target, listen, kp, ki, kd FROM pid_control", func(s scanner) error {
		var row ribasim.PidRow
		if err := s.Scan(&row.Node, &row.Target, &row.Listen, &row.Kp, &row.Ki, &row.Kd); err != nil {
			return err
		}
		row.Setpoint = r.series("pid_setpoint", row.Node)
		tb.Pid = append(tb.Pid, row)
		return nil
	})
	r.each("SELECT node, listen, variable, threshold FROM discrete_condition ORDER BY node, rowid", func(s scanner) error {
		var row ribasim.DiscreteCondRow
		var v string
		if err := s.Scan(&row.Node, &row.Listen, &v, &row.Threshold); err != nil {
			return err
		}
		row.Var = listenVar(v)
		tb.DiscCond = append(tb.DiscCond, row)
		return nil
	})
	r.each("SELECT node, truth, state FROM discrete_logic", func(s scanner) error {
		var row ribasim.DiscreteLogicRow
		if err := s.Scan(&row.Node, &row.Truth, &row.State); err != nil {
			return err
		}
		tb.DiscLogic = append(tb.DiscLogic, row)
		return nil
	})
	r.each("SELECT node, state, target, field, value FROM discrete_action", func(s scanner) error {
		var row ribasim.DiscreteActionRow
		if err := s.Scan(&row.Node, &row.State, &row.Target, &row.Field, &row.Value); err != nil {
			return err
		}
		tb.DiscAct = append(tb.DiscAct, row)
		return nil
	})
	cx := map[int]*ribasim.ContinuousRow{}
	r.each("SELECT node, listen, variable, target, x, y FROM continuous_control ORDER BY node, x", func(s scanner) error {
		var node, listen, target int
		var v string
		var x, y float64
		if err := s.Scan(&node, &listen, &v, &target, &x, &y); err != nil {
			return err
		}
		row := cx[node]
		if row == nil {
			row = &ribasim.ContinuousRow{Node: node, Listen: listen, Target: target, Var: listenVar(v)}
			cx[node] = row
		}
		row.X = append(row.X, x)
		row.Y = append(row.Y, y)
		return nil
	})
	for _, row := range cx {
		tb.Cont = append(tb.Cont, *row)
	}

	if r.err != nil {
		return nil, fmt.Errorf("dbio: %w", r.err)
	}
	return tb, nil
}

type scanner interface{ Scan(dest ...any) error }

type reader struct {
	db  *sql.DB
	err error
}

// each runs the query and visits every row; a missing table is an empty
// result, any other failure is sticky.
func (r *reader) each(q string, f func(scanner) error) {
	if r.err != nil {
		return
	}
	rows, err := r.db.Query(q)
	if err != nil {
		if missingTable(err) {
			return
		}
		r.err = err
		return
	}
	defer rows.Close()
	for rows.Next() {
		if err := f(rows); err != nil {
			r.err = err
			return
		}
	}
	r.err = rows.Err()
}

// series reads a (node, t, v) long-format series from tbl.
func (r *reader) series(tbl string, node int) forcing.Series {
	var s forcing.Series
	r.each(fmt.Sprintf("SELECT t, v FROM %s WHERE node = %d ORDER BY t", tbl, node), func(sc scanner) error {
		var t, v float64
		if err := sc.Scan(&t, &v); err != nil {
			return err
		}
		s.T = append(s.T, t)
		s.V = append(s.V, v)
		return nil
	})
	if len(s.T) == 0 {
		return forcing.Constant(0.)
	}
	return s
}

func (r *reader) prioritySeries(tbl string, node int, prio int32) forcing.Series {
	var s forcing.Series
	r.each(fmt.Sprintf("SELECT t, v FROM %s WHERE node = %d AND priority = %d ORDER BY t", tbl, node, prio), func(sc scanner) error {
		var t, v float64
		if err := sc.Scan(&t, &v); err != nil {
			return err
		}
		s.T = append(s.T, t)
		s.V = append(s.V, v)
		return nil
	})
	if len(s.T) == 0 {
		return forcing.Constant(0.)
	}
	return s
}

func missingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

func controlMode(s string) ribasim.ControlMode {
	switch s {
	case "allocation":
		return ribasim.ControlAllocation
	default:
		return ribasim.ControlNone
	}
}

func listenVar(s string) ribasim.ListenVar {
	switch s {
	case "storage":
		return ribasim.ListenStorage
	case "flow":
		return ribasim.ListenFlow
	default:
		return ribasim.ListenLevel
	}
}
