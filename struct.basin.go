package ribasim

import (
	"math"
	"sort"

	"github.com/Deltares/Ribasim-sub006/forcing"
)

// Profile is a basin's piecewise-linear level↔area relation with the
// storage column integrated from it (trapezoidal). Level and Storage are
// strictly increasing, Area non-decreasing and strictly positive: dL/dS
// divides by area.
type Profile struct {
	Level, Area, Storage []float64
}

// NewProfile validates and completes a level-area table.
func NewProfile(node int, level, area []float64) (Profile, error) {
	if len(level) < 2 || len(level) != len(area) {
		return Profile{}, &ValidationError{Node: node, Rule: "basin profile needs at least two (level, area) rows"}
	}
	for i := range level {
		if area[i] <= 0. {
			return Profile{}, &ValidationError{Node: node, Rule: "basin profile area must be strictly positive"}
		}
		if i > 0 {
			if level[i] <= level[i-1] {
				return Profile{}, &ValidationError{Node: node, Rule: "basin profile level must be strictly increasing"}
			}
			if area[i] < area[i-1] {
				return Profile{}, &ValidationError{Node: node, Rule: "basin profile area must be non-decreasing"}
			}
		}
	}
	sto := make([]float64, len(level))
	for i := 1; i < len(level); i++ {
		sto[i] = sto[i-1] + (level[i]-level[i-1])*(area[i]+area[i-1])/2.
	}
	return Profile{Level: level, Area: area, Storage: sto}, nil
}

// Bottom returns the profile's lowest level.
func (p Profile) Bottom() float64 { return p.Level[0] }

// MaxArea returns the profile's largest area, the exposure used for
// precipitation.
func (p Profile) MaxArea() float64 { return p.Area[len(p.Area)-1] }

// StorageFromLevel integrates area over level. Below the bottom the
// bottom area extends; above the top the top area extends.
func (p Profile) StorageFromLevel(l float64) float64 {
	n := len(p.Level)
	if l <= p.Level[0] {
		return (l - p.Level[0]) * p.Area[0]
	}
	if l >= p.Level[n-1] {
		return p.Storage[n-1] + (l-p.Level[n-1])*p.Area[n-1]
	}
	i := sort.SearchFloat64s(p.Level, l) // first level >= l, i >= 1 here
	l0, l1 := p.Level[i-1], p.Level[i]
	a0, a1 := p.Area[i-1], p.Area[i]
	d := l - l0
	al := a0 + (a1-a0)*d/(l1-l0) // area varies linearly within a segment
	return p.Storage[i-1] + d*(a0+al)/2.
}

// LevelFromStorage inverts StorageFromLevel. Within a segment storage is
// quadratic in level; the root is solved in closed form.
func (p Profile) LevelFromStorage(s float64) float64 {
	n := len(p.Storage)
	if s <= 0. {
		return p.Level[0] + s/p.Area[0]
	}
	if s >= p.Storage[n-1] {
		return p.Level[n-1] + (s-p.Storage[n-1])/p.Area[n-1]
	}
	i := sort.SearchFloat64s(p.Storage, s)
	l0, l1 := p.Level[i-1], p.Level[i]
	a0, a1 := p.Area[i-1], p.Area[i]
	ds := s - p.Storage[i-1]
	if a1 == a0 {
		return l0 + ds/a0
	}
	// ds = a0·x + (a1-a0)/(2Δl)·x²
	k := (a1 - a0) / (l1 - l0)
	x := (-a0 + math.Sqrt(a0*a0+2.*k*ds)) / k
	return l0 + x
}

// AreaFromStorage returns the wetted area at the level holding storage s.
func (p Profile) AreaFromStorage(s float64) float64 {
	return p.AreaFromLevel(p.LevelFromStorage(s))
}

// AreaFromLevel interpolates the wetted area at level l.
func (p Profile) AreaFromLevel(l float64) float64 {
	n := len(p.Level)
	if l <= p.Level[0] {
		return p.Area[0]
	}
	if l >= p.Level[n-1] {
		return p.Area[n-1]
	}
	i := sort.SearchFloat64s(p.Level, l)
	l0, l1 := p.Level[i-1], p.Level[i]
	a0, a1 := p.Area[i-1], p.Area[i]
	return a0 + (a1-a0)*(l-l0)/(l1-l0)
}

// Basins groups every Basin node's parameters in parallel slices indexed
// by basin position; Idx maps position → internal node index.
type Basins struct {
	Idx  []int
	Prof []Profile
	S0   []float64 // initial storage [m³]

	// vertical-flux forcing series [m/s] for precipitation and potential
	// evaporation, [m³/s] for drainage and infiltration
	Precip, PotEvap, Drainage, Infiltration []forcing.Series

	// forward-filled current rates, refreshed at forcing events
	prec, pet, drn, inf []float64

	xr map[int]int // internal node index → basin position
}

// N returns the basin count.
func (b *Basins) N() int { return len(b.Idx) }

// pos returns the basin position of internal node index i, -1 when i is
// not a basin.
func (b *Basins) pos(i int) int {
	if j, ok := b.xr[i]; ok {
		return j
	}
	return -1
}

// refreshForcing forward-fills the cached vertical-flux rates at t.
func (b *Basins) refreshForcing(t float64) {
	for i := range b.Idx {
		b.prec[i] = b.Precip[i].At(t)
		b.pet[i] = b.PotEvap[i].At(t)
		b.drn[i] = b.Drainage[i].At(t)
		b.inf[i] = b.Infiltration[i].At(t)
	}
}
