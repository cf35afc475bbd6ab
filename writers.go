package ribasim

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maseology/mmio"
)

func writeFloats(fp string, f []float64) error {
	f32 := func() []float32 {
		o := make([]float32, len(f))
		for i, v := range f {
			o[i] = float32(v)
		}
		return o
	}()
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, f32); err != nil {
		return fmt.Errorf("writeFloats failed: %v", err)
	}
	if err := os.WriteFile(fp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writeFloats failed: %v", err)
	}
	return nil
}

// Write flushes every accumulated stream under dir: dated CSVs for
// storage, level, flow, demand and allocation, raw float32 series per
// flow element, and the balance diagnostics. start anchors simulation
// seconds to calendar timestamps.
func (r *Results) Write(dir string, start time.Time) error {
	mmio.MakeDir(dir)
	dts := make([]time.Time, len(r.T))
	for i, t := range r.T {
		dts[i] = start.Add(time.Duration(t * float64(time.Second)))
	}

	col := func(rows [][]float64, j int) []float64 {
		o := make([]float64, len(rows))
		for i := range rows {
			o[i] = rows[i][j]
		}
		return o
	}
	csv := func(name, prefix string, ids []int, rows [][]float64) {
		if len(ids) == 0 || len(rows) == 0 {
			return
		}
		hdr := "date"
		ss := make([][]float64, len(ids))
		for j, id := range ids {
			hdr += fmt.Sprintf(",%s%d", prefix, id)
			ss[j] = col(rows, j)
		}
		mmio.WriteCsvDateFloats(filepath.Join(dir, name), hdr, dts, ss...)
	}

	csv("storage.csv", "basin_", r.BasinID, r.Storage)
	csv("level.csv", "basin_", r.BasinID, r.Level)
	csv("demand.csv", "user_", r.UserID, r.Demand)
	csv("allocated.csv", "user_", r.UserID, r.Allocated)
	csv("realized.csv", "user_", r.UserID, r.Realized)

	if len(r.FlowLabel) > 0 && len(r.Flow) > 0 {
		hdr := "date," + strings.Join(r.FlowLabel, ",")
		ss := make([][]float64, len(r.FlowLabel))
		for j := range r.FlowLabel {
			ss[j] = col(r.Flow, j)
		}
		mmio.WriteCsvDateFloats(filepath.Join(dir, "flow.csv"), hdr, dts, ss...)
		for j, lb := range r.FlowLabel {
			if err := writeFloats(filepath.Join(dir, lb+".f32"), col(r.Cum, j)); err != nil {
				return err
			}
		}
	}

	if len(r.Balance) > 0 {
		tw, err := mmio.NewTXTwriter(filepath.Join(dir, "balance.txt"))
		if err != nil {
			return fmt.Errorf("results.Write %v", err)
		}
		defer tw.Close()
		for _, be := range r.Balance {
			tw.WriteLine(be.Error())
		}
	}
	return nil
}
