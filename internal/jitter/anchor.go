package jitter

// Anchor supplies an optional ground constraint: for a triangulated point it
// returns the position the point should be pulled toward (typically the
// intersection of the point's rays with a reference elevation surface), or
// ok=false when the surface has no valid data there. Points without a target
// get no anchor residual, which lets a surface with holes constrain only
// where it has real data.
//
// The pixel residuals alone determine the solution when no Anchor is
// configured; anchoring is an extension, not required for correctness.
type Anchor interface {
	Anchor(xyz [3]float64) (target [3]float64, ok bool)
}
