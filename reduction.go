package ribasim

import "math"

// reduction is the C¹ smoothstep φ(x;p): 0 below 0, 1 above p, cubic
// in between. Used wherever a flow cutoff would otherwise have an
// undefined derivative; a hard max(x,0) clamp collapses the implicit
// solver's step size near the transition.
func reduction(x, p float64) float64 {
	if x <= 0. {
		return 0.
	}
	if x >= p {
		return 1.
	}
	r := x / p
	return r * r * (3. - 2.*r)
}

// smoothSign approximates sign(x) with a bounded derivative near zero:
// (2/π)·atan(k·x). Keeps the Manning head-loss term differentiable at
// Δh = 0 where sqrt(|Δh|) has infinite slope.
func smoothSign(x float64) float64 {
	return 2. / math.Pi * math.Atan(manningSmooth*x)
}
