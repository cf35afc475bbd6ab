package ribasim

import "fmt"

// ValidationError reports malformed or topologically illegal input. Fatal
// at load; no partial model is usable.
type ValidationError struct {
	Node int    // offending node id (-1 when not node-specific)
	Rule string // the violated rule
}

func (e *ValidationError) Error() string {
	if e.Node < 0 {
		return fmt.Sprintf("validation: %s", e.Rule)
	}
	return fmt.Sprintf("validation: node %d: %s", e.Node, e.Rule)
}

// ConvergenceError reports a Newton iteration or step-size-floor failure.
// The run terminates Unstable with the worst-converging node attached.
type ConvergenceError struct {
	T     float64 // simulation time at failure [s]
	Node  int     // node id dominating the error norm
	Err   float64 // its scaled error magnitude
	Cause string
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("solver unstable at t=%.6g s: %s (node %d, err %.3g)", e.T, e.Cause, e.Node, e.Err)
}

// AllocationError reports optimizer infeasibility for one subnetwork and
// interval. Recovered by holding the previous interval's allocation; never
// silently swallowed.
type AllocationError struct {
	Subnet   int
	Priority int32
	T        float64
	Cause    error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocation infeasible: subnetwork %d priority %d at t=%.6g s: %v", e.Subnet, e.Priority, e.T, e.Cause)
}

func (e *AllocationError) Unwrap() error { return e.Cause }

// BalanceError is a post-hoc diagnostic: a basin's water balance over a
// save interval exceeded tolerance. Non-fatal.
type BalanceError struct {
	Node     int
	T        float64
	Absolute float64 // [m³]
	Relative float64
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("water balance: basin %d at t=%.6g s: abs %.3g m³ rel %.3g", e.Node, e.T, e.Absolute, e.Relative)
}
