package ribasim

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// lpBuilder assembles a linear program incrementally and hands it to the
// simplex solver in standard form, adding one slack column per
// inequality row.
type lpRow struct {
	coef map[int]float64
	rhs  float64
	eq   bool
}

type lpBuilder struct {
	n    int
	c    []float64
	rows []lpRow
}

func newLP() *lpBuilder { return &lpBuilder{} }

// addVar appends a non-negative variable with objective cost (the
// program minimizes) and returns its column.
func (b *lpBuilder) addVar(cost float64) int {
	b.c = append(b.c, cost)
	b.n++
	return b.n - 1
}

func (b *lpBuilder) row(eq bool, rhs float64, idx []int, coef []float64) {
	r := lpRow{coef: make(map[int]float64, len(idx)), rhs: rhs, eq: eq}
	for i, j := range idx {
		r.coef[j] += coef[i]
	}
	b.rows = append(b.rows, r)
}

// eq adds Σ coefᵢ·xᵢ = rhs.
func (b *lpBuilder) eq(rhs float64, idx []int, coef []float64) { b.row(true, rhs, idx, coef) }

// le adds Σ coefᵢ·xᵢ ≤ rhs.
func (b *lpBuilder) le(rhs float64, idx []int, coef []float64) { b.row(false, rhs, idx, coef) }

// solve runs the simplex and returns the decision variables (slacks
// stripped).
func (b *lpBuilder) solve() ([]float64, error) {
	nslack := 0
	for _, r := range b.rows {
		if !r.eq {
			nslack++
		}
	}
	ncol := b.n + nslack
	A := mat.NewDense(len(b.rows), ncol, nil)
	rhs := make([]float64, len(b.rows))
	c := make([]float64, ncol)
	copy(c, b.c)
	s := b.n
	for ri, r := range b.rows {
		for j, v := range r.coef {
			A.Set(ri, j, v)
		}
		if !r.eq {
			A.Set(ri, s, 1.)
			s++
		}
		rhs[ri] = r.rhs
	}
	_, x, err := lp.Simplex(c, A, rhs, 0, nil)
	if err != nil {
		return nil, err
	}
	return x[:b.n], nil
}
