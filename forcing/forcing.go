// Package forcing holds the time-varying inputs driving a simulation:
// piecewise-constant (forward-filled) series for boundary flows and
// levels, basin vertical fluxes, demand rates and control setpoints.
// Series breakpoints are mandatory solver stops, so a step never
// interpolates across a forcing change.
package forcing

import "sort"

// Series is a forward-filled time series: V[i] applies from T[i]
// (inclusive) until T[i+1]. T is strictly increasing, in seconds since
// simulation start. A single-entry series with T[0] <= 0 is a constant.
type Series struct {
	T []float64
	V []float64
}

// Constant returns a series holding v for all time.
func Constant(v float64) Series { return Series{T: []float64{0.}, V: []float64{v}} }

// At returns the forward-filled value at time t. Before the first
// breakpoint the first value applies.
func (s Series) At(t float64) float64 {
	if len(s.T) == 0 {
		return 0.
	}
	// sort.SearchFloat64s: first index with T[i] > t, minus one
	i := sort.SearchFloat64s(s.T, t)
	if i < len(s.T) && s.T[i] == t {
		return s.V[i]
	}
	if i == 0 {
		return s.V[0]
	}
	return s.V[i-1]
}

// IsConstant reports whether the series can never change value.
func (s Series) IsConstant() bool { return len(s.T) <= 1 }

// Breaks returns the interior breakpoints (all but the first), the times
// at which the forward-filled value changes.
func (s Series) Breaks() []float64 {
	if len(s.T) <= 1 {
		return nil
	}
	return s.T[1:]
}

// MergeBreaks collects the distinct breakpoints of all series within
// (t0, tend), sorted ascending.
func MergeBreaks(t0, tend float64, ss ...Series) []float64 {
	seen := map[float64]struct{}{}
	for _, s := range ss {
		for _, t := range s.Breaks() {
			if t > t0 && t < tend {
				seen[t] = struct{}{}
			}
		}
	}
	out := make([]float64, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Float64s(out)
	return out
}
