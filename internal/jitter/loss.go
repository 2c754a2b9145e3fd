// Package jitter is the optimization core: it refines the time-sampled pose
// sequences of a set of linescan cameras, plus the triangulated ground
// points observing them, by minimizing robust reprojection error. Pose
// samples and points are mutated in place; the caller persists them.
package jitter

import "math"

// cauchyLoss is the robust loss applied to every residual block:
// rho(s) = c^2 * log(1 + s/c^2) for squared residual norm s. Large residuals
// are down-weighted so stray matches cannot drag the solution.
type cauchyLoss struct {
	c2 float64 // squared transition scale
}

func newCauchyLoss(scale float64) cauchyLoss {
	return cauchyLoss{c2: scale * scale}
}

// rho evaluates the loss at squared residual norm s.
func (l cauchyLoss) rho(s float64) float64 {
	return l.c2 * math.Log1p(s/l.c2)
}

// weight returns the IRLS weight rho'(s) used when folding the block into
// the normal equations. At s=0 the weight is 1, so small residuals behave
// as plain least squares.
func (l cauchyLoss) weight(s float64) float64 {
	return 1.0 / (1.0 + s/l.c2)
}
