package ribasim

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the TOML run configuration consumed by the CLI.
type Config struct {
	Run struct {
		Input  string `toml:"input"`  // sqlite input database
		Output string `toml:"output"` // results directory
		Start  string `toml:"start"`  // RFC3339 or 2006-01-02
		End    string `toml:"end"`
	} `toml:"run"`
	Solver struct {
		Abstol  float64 `toml:"abstol"`
		Reltol  float64 `toml:"reltol"`
		Dt0     float64 `toml:"dt0"`
		Dtmin   float64 `toml:"dtmin"`
		Dtmax   float64 `toml:"dtmax"`
		Saveat  float64 `toml:"saveat"`
		MaxIter int     `toml:"max_newton"`
	} `toml:"solver"`
	Allocation struct {
		Dt float64 `toml:"dt"` // [s], 0 disables allocation
	} `toml:"allocation"`
}

// LoadConfig reads and validates a TOML configuration file.
func LoadConfig(fp string) (*Config, error) {
	data, err := os.ReadFile(fp)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config %s: %w", fp, err)
	}
	if c.Run.Input == "" {
		return nil, fmt.Errorf("config %s: run.input is required", fp)
	}
	if _, _, err := c.Span(); err != nil {
		return nil, fmt.Errorf("config %s: %w", fp, err)
	}
	return &c, nil
}

// Span parses the run period. The start instant anchors output
// timestamps; simulation time is seconds since start.
func (c *Config) Span() (start time.Time, tend float64, err error) {
	parse := func(s string) (time.Time, error) {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		return time.Parse("2006-01-02", s)
	}
	start, err = parse(c.Run.Start)
	if err != nil {
		return time.Time{}, 0., fmt.Errorf("run.start: %w", err)
	}
	end, err := parse(c.Run.End)
	if err != nil {
		return time.Time{}, 0., fmt.Errorf("run.end: %w", err)
	}
	tend = end.Sub(start).Seconds()
	if tend <= 0. {
		return time.Time{}, 0., fmt.Errorf("run.end not after run.start")
	}
	return start, tend, nil
}

// SolverOpts maps the configuration onto run options.
func (c *Config) SolverOpts() SolverOpts {
	_, tend, _ := c.Span()
	return SolverOpts{
		Tend:    tend,
		Dt0:     c.Solver.Dt0,
		Dtmin:   c.Solver.Dtmin,
		Dtmax:   c.Solver.Dtmax,
		Abstol:  c.Solver.Abstol,
		Reltol:  c.Solver.Reltol,
		Saveat:  c.Solver.Saveat,
		AllocDt: c.Allocation.Dt,
		MaxIter: c.Solver.MaxIter,
	}
}
