package linescan

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Pixel is an image coordinate: Samp across-track, Line along-track. Lines
// are acquired sequentially, so Line determines the acquisition time.
type Pixel struct {
	Samp float64
	Line float64
}

// Sub returns p - q componentwise.
func (p Pixel) Sub(q Pixel) Pixel { return Pixel{p.Samp - q.Samp, p.Line - q.Line} }

// Norm returns the Euclidean length of the pixel treated as a vector.
func (p Pixel) Norm() float64 { return math.Hypot(p.Samp, p.Line) }

// ErrProjection is wrapped by all ground-to-image failures: rays that never
// cross the focal plane, or iteration that fails to settle on a line.
var ErrProjection = errors.New("linescan: projection failed")

const (
	// projectPrecision is the along-track convergence target, in pixels.
	projectPrecision = 1e-12
	maxProjectIter   = 100
)

// Camera models one linescan image: two independently gridded pose sample
// sequences plus enough imaging geometry to project. Quaternions are stored
// x, y, z, w and map camera frame to world frame; the camera frame has +x
// across-track along the detector, +y along-track, +z down the boresight.
type Camera struct {
	Quat SampleSequence // stride 4
	Pos  SampleSequence // stride 3

	LineT0     float64 // acquisition time of line 0
	LineDt     float64 // line period (seconds per line)
	Focal      float64 // focal length in pixels
	CenterSamp float64 // principal point, across-track

	// SupportSamples is the Lagrange interpolation width; zero means
	// DefaultSupportSamples.
	SupportSamples int

	// SingleThreaded marks a camera whose implementation is not safe for
	// concurrent projection. One such camera forces the whole solve onto
	// a single evaluation worker.
	SingleThreaded bool
}

// Support returns the effective interpolation width.
func (c *Camera) Support() int {
	if c.SupportSamples > 0 {
		return c.SupportSamples
	}
	return DefaultSupportSamples
}

// Validate checks the camera for internally consistent geometry and sample
// metadata. It is a configuration-error check: it runs before any solve.
func (c *Camera) Validate() error {
	if c.Quat.Stride != QuatParams {
		return fmt.Errorf("quaternion stride must be %d, got %d", QuatParams, c.Quat.Stride)
	}
	if c.Pos.Stride != PosParams {
		return fmt.Errorf("position stride must be %d, got %d", PosParams, c.Pos.Stride)
	}
	if c.Quat.Count() < c.Support() || c.Pos.Count() < c.Support() {
		return fmt.Errorf("need at least %d samples per sequence, got %d quat / %d pos",
			c.Support(), c.Quat.Count(), c.Pos.Count())
	}
	if c.Quat.Dt <= 0 || c.Pos.Dt <= 0 {
		return fmt.Errorf("sample spacing must be positive, got dt_q=%g dt_p=%g", c.Quat.Dt, c.Pos.Dt)
	}
	if c.LineDt <= 0 {
		return fmt.Errorf("line period must be positive, got %g", c.LineDt)
	}
	if c.Focal <= 0 {
		return fmt.Errorf("focal length must be positive, got %g", c.Focal)
	}
	return nil
}

// PixelTime returns the acquisition time of a pixel. Only the line matters.
func (c *Camera) PixelTime(px Pixel) float64 {
	return c.LineT0 + px.Line*c.LineDt
}

// TimeLine is the inverse of PixelTime for the line coordinate.
func (c *Camera) TimeLine(t float64) float64 {
	return (t - c.LineT0) / c.LineDt
}

// CloneSamples returns a copy of the camera with private copies of both
// sample sequences. The imaging geometry is shared by value.
func (c *Camera) CloneSamples() *Camera {
	out := *c
	out.Quat = c.Quat.Clone()
	out.Pos = c.Pos.Clone()
	return &out
}

// PoseAt interpolates the orientation and position at time t. q is a unit
// quaternion (x, y, z, w), p a 3-vector.
func (c *Camera) PoseAt(t float64) (q [4]float64, p [3]float64) {
	interpolate(&c.Quat, t, c.Support(), q[:])
	normalizeQuat(q[:])
	interpolate(&c.Pos, t, c.Support(), p[:])
	return q, p
}

// rotate applies the camera-to-world rotation of unit quaternion q to v.
func rotate(q [4]float64, v [3]float64) [3]float64 {
	qq := quat.Number{Real: q[3], Imag: q[0], Jmag: q[1], Kmag: q[2]}
	vv := quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}
	r := quat.Mul(quat.Mul(qq, vv), quat.Conj(qq))
	return [3]float64{r.Imag, r.Jmag, r.Kmag}
}

// rotateInv applies the world-to-camera rotation (the transpose).
func rotateInv(q [4]float64, v [3]float64) [3]float64 {
	qq := quat.Number{Real: q[3], Imag: q[0], Jmag: q[1], Kmag: q[2]}
	vv := quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}
	r := quat.Mul(quat.Mul(quat.Conj(qq), vv), qq)
	return [3]float64{r.Imag, r.Jmag, r.Kmag}
}

// alongTrack returns the along-track pixel offset of ground point p at
// camera time t. The point is imaged at the time where this crosses zero.
func (c *Camera) alongTrack(t float64, pt [3]float64) (float64, error) {
	q, pos := c.PoseAt(t)
	v := rotateInv(q, [3]float64{pt[0] - pos[0], pt[1] - pos[1], pt[2] - pos[2]})
	if v[2] <= 0 {
		return 0, fmt.Errorf("%w: point behind focal plane at t=%g", ErrProjection, t)
	}
	return c.Focal * v[1] / v[2], nil
}

// Project computes the image pixel of a ground point by solving for the
// acquisition time at which the point crosses the detector line, then
// reading off the across-track coordinate. Secant iteration on the
// along-track offset; returns ErrProjection-wrapped errors when the
// iteration stalls or the geometry is degenerate.
func (c *Camera) Project(pt [3]float64) (Pixel, error) {
	// Start from the middle of the image's time span.
	nLines := float64(c.Quat.Count()) * c.Quat.Dt / c.LineDt
	t0 := c.LineT0 + 0.5*nLines*c.LineDt
	t1 := t0 + c.LineDt

	g0, err := c.alongTrack(t0, pt)
	if err != nil {
		return Pixel{}, err
	}
	g1, err := c.alongTrack(t1, pt)
	if err != nil {
		return Pixel{}, err
	}

	t := t1
	g := g1
	for i := 0; i < maxProjectIter; i++ {
		if math.Abs(g) < projectPrecision {
			return c.pixelAt(t, pt)
		}
		if g1 == g0 {
			return Pixel{}, fmt.Errorf("%w: stalled secant at t=%g", ErrProjection, t)
		}
		t = t1 - g1*(t1-t0)/(g1-g0)
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Pixel{}, fmt.Errorf("%w: non-finite time update", ErrProjection)
		}
		g, err = c.alongTrack(t, pt)
		if err != nil {
			return Pixel{}, err
		}
		t0, g0 = t1, g1
		t1, g1 = t, g
	}
	if math.Abs(g) < projectPrecision {
		return c.pixelAt(t, pt)
	}
	return Pixel{}, fmt.Errorf("%w: no convergence after %d iterations (residual %g px)",
		ErrProjection, maxProjectIter, g)
}

// pixelAt assembles the final pixel once the imaging time is known.
func (c *Camera) pixelAt(t float64, pt [3]float64) (Pixel, error) {
	q, pos := c.PoseAt(t)
	v := rotateInv(q, [3]float64{pt[0] - pos[0], pt[1] - pos[1], pt[2] - pos[2]})
	if v[2] <= 0 {
		return Pixel{}, fmt.Errorf("%w: point behind focal plane at t=%g", ErrProjection, t)
	}
	return Pixel{
		Samp: c.Focal*v[0]/v[2] + c.CenterSamp,
		Line: c.TimeLine(t),
	}, nil
}

// BackProject returns the ground point at range dist along the ray of the
// given pixel: the geometric inverse of Project at a known range. The
// projection tests use it to construct ground points with known pixels.
func (c *Camera) BackProject(px Pixel, dist float64) [3]float64 {
	t := c.PixelTime(px)
	q, pos := c.PoseAt(t)
	d := [3]float64{(px.Samp - c.CenterSamp) / c.Focal, 0, 1}
	n := math.Sqrt(d[0]*d[0] + d[2]*d[2])
	d[0] /= n
	d[2] /= n
	w := rotate(q, d)
	return [3]float64{pos[0] + dist*w[0], pos[1] + dist*w[1], pos[2] + dist*w[2]}
}
