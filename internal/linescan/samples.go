package linescan

import (
	"fmt"
	"math"
)

// Parameter block widths shared across the module. Orientation samples are
// quaternions (x, y, z, w), position samples are ECEF-style 3-vectors.
const (
	QuatParams = 4
	PosParams  = 3
)

// SampleSequence is a uniformly time-sampled pose component. Data is packed
// row-major with Stride scalars per sample, so sample k occupies
// Data[k*Stride : (k+1)*Stride] and was taken at time T0 + float64(k)*Dt.
type SampleSequence struct {
	T0     float64
	Dt     float64
	Stride int
	Data   []float64
}

// Count returns the number of samples in the sequence.
func (s *SampleSequence) Count() int {
	if s.Stride == 0 {
		return 0
	}
	return len(s.Data) / s.Stride
}

// Sample returns a view of sample k. The returned slice aliases Data.
func (s *SampleSequence) Sample(k int) []float64 {
	return s.Data[k*s.Stride : (k+1)*s.Stride]
}

// Index maps an acquisition time to the sample index at or before it,
// following the floor((t-t0)/dt) convention of the interpolator. The result
// is not clamped; callers that need a valid index must clamp it themselves.
func (s *SampleSequence) Index(t float64) int {
	return int(math.Floor((t - s.T0) / s.Dt))
}

// Time returns the acquisition time of sample k.
func (s *SampleSequence) Time(k int) float64 {
	return s.T0 + float64(k)*s.Dt
}

// Clone returns a deep copy of the sequence. Residual evaluation clones the
// two sample sequences of a camera before substituting a window, so the
// shared arrays stay read-only during an iteration.
func (s *SampleSequence) Clone() SampleSequence {
	out := *s
	out.Data = make([]float64, len(s.Data))
	copy(out.Data, s.Data)
	return out
}

// CheckUniform verifies that the given sample times form a strictly uniform
// grid. It returns the grid origin and spacing when every consecutive gap
// matches the first one within tol, and an error naming the first irregular
// gap otherwise. Sequences in this package carry (t0, dt) directly; this is
// the conformance check for timestamps that arrive as an explicit list.
func CheckUniform(times []float64, tol float64) (t0, dt float64, err error) {
	if len(times) < 2 {
		return 0, 0, fmt.Errorf("need at least 2 sample times to fit a grid, got %d", len(times))
	}
	if tol < 0 {
		return 0, 0, fmt.Errorf("negative spacing tolerance %g", tol)
	}
	t0 = times[0]
	dt = times[1] - times[0]
	if dt <= 0 {
		return 0, 0, fmt.Errorf("sample times must be strictly increasing, got gap %g at index 1", dt)
	}
	for i := 2; i < len(times); i++ {
		gap := times[i] - times[i-1]
		if math.Abs(gap-dt) > tol {
			return 0, 0, fmt.Errorf("irregular sample spacing at index %d: gap %g vs expected %g (tol %g)",
				i, gap, dt, tol)
		}
	}
	return t0, dt, nil
}
