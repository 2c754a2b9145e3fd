package linescan

import (
	"errors"
	"math"
	"testing"
)

// testCamera builds a nadir-looking camera flying +y at constant speed over
// a flat scene, with 20 samples per grid at dt=1.
func testCamera() *Camera {
	cam := &Camera{
		Quat:       SampleSequence{T0: 0, Dt: 1, Stride: QuatParams},
		Pos:        SampleSequence{T0: 0, Dt: 1, Stride: PosParams},
		LineT0:     0,
		LineDt:     0.001,
		Focal:      1000,
		CenterSamp: 500,
	}
	for k := 0; k < 20; k++ {
		cam.Quat.Data = append(cam.Quat.Data, 1, 0, 0, 0) // 180 deg about x
		cam.Pos.Data = append(cam.Pos.Data, 0, 100*float64(k), 1000)
	}
	return cam
}

func TestCamera_Validate(t *testing.T) {
	cam := testCamera()
	if err := cam.Validate(); err != nil {
		t.Fatalf("valid camera rejected: %v", err)
	}

	bad := testCamera()
	bad.Focal = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected zero focal length to be rejected")
	}

	bad = testCamera()
	bad.Quat.Data = bad.Quat.Data[:4*4] // fewer samples than the support
	if err := bad.Validate(); err == nil {
		t.Error("expected short sequence to be rejected")
	}
}

func TestCamera_PixelTime(t *testing.T) {
	cam := testCamera()
	if got := cam.PixelTime(Pixel{Samp: 123, Line: 5000}); got != 5.0 {
		t.Fatalf("PixelTime = %g, want 5.0", got)
	}
	if got := cam.TimeLine(5.0); got != 5000 {
		t.Fatalf("TimeLine = %g, want 5000", got)
	}
}

func TestCamera_ProjectBackProjectRoundTrip(t *testing.T) {
	cam := testCamera()
	for _, px := range []Pixel{
		{Samp: 500, Line: 8000},
		{Samp: 200, Line: 10000},
		{Samp: 760, Line: 12345},
	} {
		// Drop a point on the pixel's ray down to the ground plane, then
		// project it back.
		pt := cam.BackProject(px, groundRange(cam, px))
		got, err := cam.Project(pt)
		if err != nil {
			t.Fatalf("Project(%v): %v", px, err)
		}
		if math.Abs(got.Samp-px.Samp) > 1e-6 || math.Abs(got.Line-px.Line) > 1e-6 {
			t.Errorf("round trip %v -> %v", px, got)
		}
	}
}

// groundRange returns the slant range from the pixel's ray origin to the
// z=0 plane for the nadir test camera.
func groundRange(cam *Camera, px Pixel) float64 {
	dx := (px.Samp - cam.CenterSamp) / cam.Focal
	return 1000.0 * math.Sqrt(1+dx*dx)
}

func TestCamera_ProjectBehindFocalPlane(t *testing.T) {
	cam := testCamera()
	// A point far above the camera is behind the focal plane.
	_, err := cam.Project([3]float64{0, 1000, 5000})
	if err == nil {
		t.Fatal("expected projection failure")
	}
	if !errors.Is(err, ErrProjection) {
		t.Fatalf("error should wrap ErrProjection, got %v", err)
	}
}

func TestCamera_CloneSamplesIsPrivate(t *testing.T) {
	cam := testCamera()
	cp := cam.CloneSamples()
	cp.Quat.Data[0] = 42
	cp.Pos.Data[0] = 42
	if cam.Quat.Data[0] == 42 || cam.Pos.Data[0] == 42 {
		t.Fatal("CloneSamples must not alias the original sample arrays")
	}
}

func TestCamera_PoseAtRecoversSamples(t *testing.T) {
	cam := testCamera()
	q, p := cam.PoseAt(7.0)
	if math.Abs(q[0]-1) > 1e-12 || math.Abs(q[3]) > 1e-12 {
		t.Errorf("quaternion at sample time = %v, want (1,0,0,0)", q)
	}
	if math.Abs(p[1]-700) > 1e-9 || math.Abs(p[2]-1000) > 1e-9 {
		t.Errorf("position at sample time = %v, want (0,700,1000)", p)
	}
}
