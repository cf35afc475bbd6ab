package ribasim

import (
	"math"
	"testing"
)

func TestNewProfileValidation(t *testing.T) {
	for _, c := range []struct {
		name        string
		level, area []float64
	}{
		{"single row", []float64{0.}, []float64{100.}},
		{"level not increasing", []float64{0., 0.}, []float64{100., 100.}},
		{"area decreasing", []float64{0., 1.}, []float64{100., 50.}},
		{"area zero", []float64{0., 1.}, []float64{0., 100.}},
	} {
		if _, err := NewProfile(1, c.level, c.area); err == nil {
			t.Errorf("%s: no error", c.name)
		}
	}
}

func TestProfileStorageLevelRoundTrip(t *testing.T) {
	p, err := NewProfile(1, []float64{0., 2., 5.}, []float64{100., 300., 300.})
	if err != nil {
		t.Fatal(err)
	}
	// trapezoidal integral: 2·(100+300)/2 = 400, + 3·300 = 1300
	if got := p.Storage[1]; got != 400. {
		t.Errorf("Storage[1] = %v, want 400", got)
	}
	if got := p.Storage[2]; got != 1300. {
		t.Errorf("Storage[2] = %v, want 1300", got)
	}

	for _, l := range []float64{-1., 0., 0.5, 1.7, 2., 3.4, 5., 8.} {
		s := p.StorageFromLevel(l)
		if got := p.LevelFromStorage(s); math.Abs(got-l) > 1e-9 {
			t.Errorf("round trip at level %v: got %v", l, got)
		}
	}

	// extrapolation extends the end areas
	if got := p.StorageFromLevel(6.); got != 1300.+300. {
		t.Errorf("storage above top = %v, want 1600", got)
	}
	if got := p.LevelFromStorage(-50.); got != -0.5 {
		t.Errorf("level below bottom = %v, want -0.5", got)
	}
	if p.MaxArea() != 300. || p.Bottom() != 0. {
		t.Error("MaxArea/Bottom wrong")
	}
}

func TestProfileAreaFromLevel(t *testing.T) {
	p, err := NewProfile(1, []float64{0., 10.}, []float64{100., 200.})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.AreaFromLevel(5.); got != 150. {
		t.Errorf("AreaFromLevel(5) = %v, want 150", got)
	}
	if got := p.AreaFromLevel(-3.); got != 100. {
		t.Errorf("AreaFromLevel(-3) = %v, want 100", got)
	}
	if got := p.AreaFromLevel(30.); got != 200. {
		t.Errorf("AreaFromLevel(30) = %v, want 200", got)
	}
}

func TestTableAt(t *testing.T) {
	tb, err := NewTable(1, []float64{0., 1., 2.}, []float64{0., 10., 40.})
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []struct{ x, want float64 }{
		{-1., 0.}, {0., 0.}, {0.5, 5.}, {1.5, 25.}, {2., 40.}, {9., 40.},
	} {
		if got := tb.At(c.x); got != c.want {
			t.Errorf("At(%v) = %v, want %v", c.x, got, c.want)
		}
	}
	if _, err := NewTable(1, []float64{0., 0.}, []float64{1., 2.}); err == nil {
		t.Error("non-increasing abscissa accepted")
	}
}
