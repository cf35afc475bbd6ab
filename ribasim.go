// Package ribasim is a physically-based surface-water network simulator:
// interconnected storage basins exchange flow through structures (rating
// curves, resistances, pumps, outlets, boundaries) under control rules,
// while a priority-based allocation engine divides scarce water among
// competing demands per subnetwork. The solver state is formulated as
// cumulative flows so that every individual flux can be recovered exactly
// in post-processing and mass is conserved to machine precision.
package ribasim

const (
	nearzero = 1e-12

	// reduction factor thresholds
	pumpStorageP  = 10.  // pump/outlet source-storage cutoff [m³]
	outletHeadP   = 0.1  // outlet head-difference cutoff [m]
	outletCrestP  = 0.1  // outlet upstream-level-above-crest cutoff [m]
	evapDepthP    = 0.1  // evaporation depth cutoff [m]
	userStorageP  = 10.  // user abstraction source-storage cutoff [m³]
	userLevelP    = 0.1  // user abstraction min-level cutoff [m]
	manningSmooth = 1000. // atan steepness of the smoothed sign function

	// solver defaults
	defaultAbstol    = 1e-6
	defaultReltol    = 1e-5
	defaultMaxNewton = 10
	newtonKappa      = 0.33  // Newton wrms acceptance
	rtolFloor        = 1e-14 // tolerance-decay floor
	decayT0          = 3600. // first tolerance-decay event [s]

	// allocation
	bigCap = 1e10 // stand-in for an unbounded allocation capacity [m³/s]

	// water-balance audit defaults
	balanceAbstol = 1e-3 // [m³]
	balanceReltol = 1e-2
)
