package ribasim

import (
	"encoding/gob"
	"fmt"
	"os"
)

// Checkpoint is the resumable portion of a run: simulation time, the
// cumulative state, and the allocation carryover. The model structure
// itself is rebuilt from the input tables.
type Checkpoint struct {
	T       float64
	U       []float64
	Alloc   [][]float64 // per user, per priority
	Buffers []float64   // per flow demand
	Active  []string    // per discrete controller
}

func (m *Model) SaveCheckpoint(fp string) error {
	cp := Checkpoint{
		T:       m.t,
		U:       append([]float64(nil), m.u...),
		Buffers: append([]float64(nil), m.FlowDem.buffer...),
		Active:  append([]string(nil), m.Disc.active...),
	}
	for _, a := range m.Users.Alloc {
		cp.Alloc = append(cp.Alloc, append([]float64(nil), a...))
	}
	f, err := os.Create(fp)
	if err != nil {
		return fmt.Errorf(" model.SaveCheckpoint %v", err)
	}
	if err := gob.NewEncoder(f).Encode(cp); err != nil {
		return fmt.Errorf(" model.SaveCheckpoint %v", err)
	}
	f.Close()
	return nil
}

func (m *Model) LoadCheckpoint(fp string) error {
	var cp Checkpoint
	f, err := os.Open(fp)
	if err != nil {
		return err
	}
	if err := gob.NewDecoder(f).Decode(&cp); err != nil {
		return fmt.Errorf(" model.LoadCheckpoint %v", err)
	}
	f.Close()
	if len(cp.U) != m.smap.n || len(cp.Alloc) != len(m.Users.Idx) ||
		len(cp.Buffers) != len(m.FlowDem.Idx) || len(cp.Active) != len(m.Disc.Idx) {
		return &ValidationError{Node: -1, Rule: "checkpoint does not match the model layout"}
	}
	m.t = cp.T
	copy(m.u, cp.U)
	for k := range m.Users.Alloc {
		copy(m.Users.Alloc[k], cp.Alloc[k])
	}
	copy(m.FlowDem.buffer, cp.Buffers)
	copy(m.Disc.active, cp.Active)
	m.refreshForcing(m.t)
	return nil
}
