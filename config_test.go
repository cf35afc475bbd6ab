package ribasim

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	fp := filepath.Join(t.TempDir(), "run.toml")
	if err := os.WriteFile(fp, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return fp
}

func TestLoadConfig(t *testing.T) {
	fp := writeConfig(t, `
[run]
input = "model.db"
output = "out"
start = "2020-01-01"
end = "2020-01-11"

[solver]
abstol = 1e-7
saveat = 3600.0

[allocation]
dt = 86400.0
`)
	c, err := LoadConfig(fp)
	if err != nil {
		t.Fatal(err)
	}
	_, tend, err := c.Span()
	if err != nil {
		t.Fatal(err)
	}
	if want := 10. * 86400.; tend != want {
		t.Errorf("tend = %v, want %v", tend, want)
	}

	opts := c.SolverOpts()
	if opts.Tend != tend || opts.Abstol != 1e-7 || opts.Saveat != 3600. || opts.AllocDt != 86400. {
		t.Errorf("opts = %+v", opts)
	}
	// unset fields fall to the solver defaults
	opts.setDefaults()
	if opts.Reltol != defaultReltol || opts.MaxIter != defaultMaxNewton {
		t.Errorf("defaults not applied: %+v", opts)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	for _, c := range []struct{ name, body string }{
		{"missing input", `
[run]
start = "2020-01-01"
end = "2020-01-02"
`},
		{"end before start", `
[run]
input = "model.db"
start = "2020-01-02"
end = "2020-01-01"
`},
		{"unparseable date", `
[run]
input = "model.db"
start = "01/01/2020"
end = "2020-01-02"
`},
	} {
		if _, err := LoadConfig(writeConfig(t, c.body)); err == nil {
			t.Errorf("%s: no error", c.name)
		}
	}
}

func TestSpanRFC3339(t *testing.T) {
	var c Config
	c.Run.Start = "2020-06-01T12:00:00Z"
	c.Run.End = "2020-06-01T18:00:00Z"
	_, tend, err := c.Span()
	if err != nil {
		t.Fatal(err)
	}
	if tend != 6.*3600. {
		t.Errorf("tend = %v, want 21600", tend)
	}
}
