package ribasim

import (
	"context"
	"testing"
)

func TestEvalTrialRecoversTruth(t *testing.T) {
	opts := SolverOpts{Tend: 5e5, Saveat: 5e4}
	m := mustModel(t, twoBasinTables())
	res, err := m.Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	obs := make([]float64, len(res.T))
	for i := range res.T {
		obs[i] = res.Level[i][0]
	}
	pars := []CalibPar{{Node: 2, Field: "resistance", Min: 10., Max: 1000.}}
	targets := []CalibTarget{{Node: 1, T: res.T, Obs: obs}}

	// the generating parameter scores a perfect fit
	nse, err := evalTrial(twoBasinTables(), pars, []float64{100.}, targets, opts)
	if err != nil {
		t.Fatal(err)
	}
	if nse < 0.9999 {
		t.Errorf("NSE at the true resistance = %v, want ~1", nse)
	}

	// a resistance off by 5x scores visibly worse
	bad, err := evalTrial(twoBasinTables(), pars, []float64{500.}, targets, opts)
	if err != nil {
		t.Fatal(err)
	}
	if bad >= nse {
		t.Errorf("NSE %v at resistance 500 not below %v at 100", bad, nse)
	}

	if _, err := evalTrial(twoBasinTables(), []CalibPar{{Node: 2, Field: "conductance"}},
		[]float64{1.}, targets, opts); err == nil {
		t.Error("unknown calibration field accepted")
	}
}
