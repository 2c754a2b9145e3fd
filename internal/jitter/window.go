package jitter

import (
	"errors"
	"fmt"

	"github.com/banshee-data/jitter.report/internal/linescan"
)

// lineExtraPad widens the along-track margin beyond the outlier threshold.
// During optimization the 3D point, and therefore its projected pixel, moves
// a little; the pad keeps the resolved window valid anyway.
const lineExtraPad = 5.0

// ErrBookKeeping marks a window that collapsed entirely outside the valid
// sample grid after clamping. Well-formed input never produces this; it
// signals a data or configuration error upstream and aborts the run.
var ErrBookKeeping = errors.New("jitter: book-keeping error")

// Window is the pair of half-open sample index ranges that can influence
// one observation's projection. Derived on demand, never stored.
type Window struct {
	BegQuat, EndQuat int
	BegPos, EndPos   int
}

// resolveRange maps the two extremal acquisition times onto a sample index
// range, padded by half the interpolation support on each side so that a
// perturbed window still covers everything the interpolator reads.
func resolveRange(s *linescan.SampleSequence, t1, t2 float64, support int) (beg, end int) {
	i1 := s.Index(t1)
	i2 := s.Index(t2)
	if i2 < i1 {
		i1, i2 = i2, i1
	}
	beg = i1 - support/2 + 1
	end = i2 + support/2 + 1
	if beg < 0 {
		beg = 0
	}
	if n := s.Count(); end > n {
		end = n
	}
	return beg, end
}

// ResolveWindow computes the minimal-but-safe window for one observation:
// the pixel expanded by lineMargin in both along-track directions, converted
// to acquisition times, mapped onto each sample grid, then padded by the
// interpolation support. Fails with ErrBookKeeping when a clamped range is
// empty.
func ResolveWindow(cam *linescan.Camera, px linescan.Pixel, lineMargin float64) (Window, error) {
	t1 := cam.PixelTime(linescan.Pixel{Samp: px.Samp, Line: px.Line - lineMargin})
	t2 := cam.PixelTime(linescan.Pixel{Samp: px.Samp, Line: px.Line + lineMargin})
	support := cam.Support()

	var w Window
	w.BegQuat, w.EndQuat = resolveRange(&cam.Quat, t1, t2, support)
	if w.BegQuat >= w.EndQuat {
		return Window{}, fmt.Errorf("%w: empty quaternion window for pixel (%g, %g)",
			ErrBookKeeping, px.Samp, px.Line)
	}
	w.BegPos, w.EndPos = resolveRange(&cam.Pos, t1, t2, support)
	if w.BegPos >= w.EndPos {
		return Window{}, fmt.Errorf("%w: empty position window for pixel (%g, %g)",
			ErrBookKeeping, px.Samp, px.Line)
	}
	return w, nil
}
