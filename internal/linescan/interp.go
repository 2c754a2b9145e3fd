package linescan

import "math"

// DefaultSupportSamples is the width of the sliding Lagrange support: the
// number of consecutive samples consulted when interpolating a pose at one
// acquisition time. Window resolution must pad index ranges by half of this
// so a perturbed window fully covers what the interpolator reads.
const DefaultSupportSamples = 8

// lagrangeWindow returns the [beg, end) index range of the interpolation
// support centred on time t. Near the ends the support truncates rather
// than slides, so a substituted range [i-support/2+1, i+support/2+1)
// always covers every sample the interpolator reads. Window resolution
// relies on that containment.
func lagrangeWindow(s *SampleSequence, t float64, support int) (beg, end int) {
	n := s.Count()
	i := s.Index(t)
	// Clamp times outside the grid onto the terminal supports.
	if i < 0 {
		i = 0
	}
	if i > n-1 {
		i = n - 1
	}
	beg = i - support/2 + 1
	end = i + support/2 + 1
	if beg < 0 {
		beg = 0
	}
	if end > n {
		end = n
	}
	return beg, end
}

// interpolate evaluates the Lagrange polynomial through the support window
// at time t, writing Stride scalars into out. With a uniform grid the basis
// weights depend only on the normalized offset within the window.
func interpolate(s *SampleSequence, t float64, support int, out []float64) {
	beg, end := lagrangeWindow(s, t, support)
	x := (t - s.Time(beg)) / s.Dt // in units of samples from beg

	for c := 0; c < s.Stride; c++ {
		out[c] = 0
	}
	for j := beg; j < end; j++ {
		// Lagrange basis weight for node j over nodes beg..end-1.
		w := 1.0
		xj := float64(j - beg)
		for k := beg; k < end; k++ {
			if k == j {
				continue
			}
			xk := float64(k - beg)
			w *= (x - xk) / (xj - xk)
		}
		sample := s.Sample(j)
		for c := 0; c < s.Stride; c++ {
			out[c] += w * sample[c]
		}
	}
}

// normalizeQuat scales a quaternion to unit length in place. Interpolated
// quaternions drift off the unit sphere, and the optimizer treats them as
// plain 4-vectors, so every consumer renormalizes before rotating.
func normalizeQuat(q []float64) {
	n := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	if n == 0 {
		return
	}
	for i := range q {
		q[i] /= n
	}
}
