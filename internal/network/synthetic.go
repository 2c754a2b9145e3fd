package network

import (
	"fmt"
	"math/rand"

	"github.com/banshee-data/jitter.report/internal/linescan"
)

// SceneParams configures a synthetic pushbroom scene: a small fleet of
// nadir-looking cameras flying parallel straight tracks over a flat ground
// plane at z=0, observing a shared set of ground points with exact
// projections. Used by gen-scene and the end-to-end solver tests.
type SceneParams struct {
	NumCameras  int
	QuatSamples int
	PosSamples  int
	NumPoints   int

	SampleDt float64 // pose sample spacing, both grids
	LineDt   float64 // line period
	Focal    float64 // pixels
	Center   float64 // principal point, across-track
	Altitude float64 // camera height above ground
	Speed    float64 // along-track speed
	Baseline float64 // across-track spacing between camera tracks
	Seed     int64
}

// DefaultSceneParams returns the scene used by the golden scenarios: 3
// cameras, 20 samples per grid at dt=1.0, 10 ground points.
func DefaultSceneParams() SceneParams {
	return SceneParams{
		NumCameras:  3,
		QuatSamples: 20,
		PosSamples:  20,
		NumPoints:   10,
		SampleDt:    1.0,
		LineDt:      0.001,
		Focal:       1000,
		Center:      500,
		Altitude:    1000,
		Speed:       100,
		Baseline:    200,
		Seed:        1,
	}
}

// nadirQuat is a 180 degree rotation about the camera x axis, which points
// the boresight (+z camera) straight down for a camera flying level.
var nadirQuat = [4]float64{1, 0, 0, 0} // x, y, z, w

// BuildScene constructs the synthetic network. Every observation is an
// exact projection of the true ground point through the true camera, so the
// scene solves to zero cost. Inject jitter afterwards with PerturbPosition
// or PerturbQuaternion.
func BuildScene(p SceneParams) (*Network, error) {
	if p.NumCameras < 2 {
		return nil, fmt.Errorf("need at least 2 cameras, got %d", p.NumCameras)
	}
	rng := rand.New(rand.NewSource(p.Seed))

	span := float64(p.PosSamples-1) * p.SampleDt
	net := &Network{}

	for i := 0; i < p.NumCameras; i++ {
		x := (float64(i) - float64(p.NumCameras-1)/2) * p.Baseline
		cam := &linescan.Camera{
			Quat:       linescan.SampleSequence{T0: 0, Dt: p.SampleDt, Stride: linescan.QuatParams},
			Pos:        linescan.SampleSequence{T0: 0, Dt: p.SampleDt, Stride: linescan.PosParams},
			LineT0:     0,
			LineDt:     p.LineDt,
			Focal:      p.Focal,
			CenterSamp: p.Center,
		}
		for k := 0; k < p.QuatSamples; k++ {
			cam.Quat.Data = append(cam.Quat.Data, nadirQuat[:]...)
		}
		for k := 0; k < p.PosSamples; k++ {
			t := cam.Pos.T0 + float64(k)*p.SampleDt
			cam.Pos.Data = append(cam.Pos.Data, x, p.Speed*t, p.Altitude)
		}
		net.Cameras = append(net.Cameras, cam)
	}

	// Ground points scattered over the middle of the common swath, away
	// from the grid ends so every interpolation support stays interior.
	for j := 0; j < p.NumPoints; j++ {
		y := p.Speed * span * (0.3 + 0.4*float64(j)/float64(max(p.NumPoints-1, 1)))
		x := (rng.Float64() - 0.5) * p.Baseline
		net.Points = append(net.Points, Point{XYZ: [3]float64{x, y, 0}})
	}

	for ic, cam := range net.Cameras {
		for ip, pt := range net.Points {
			px, err := cam.Project(pt.XYZ)
			if err != nil {
				return nil, fmt.Errorf("synthetic scene: camera %d point %d: %w", ic, ip, err)
			}
			net.Obs = append(net.Obs, Observation{Cam: ic, Point: ip, Pixel: px})
		}
	}

	if err := net.Validate(); err != nil {
		return nil, err
	}
	return net, nil
}

// PerturbPosition adds delta to one coordinate of one position sample of
// camera cam, simulating a jittered trajectory estimate.
func (n *Network) PerturbPosition(cam, sample, coord int, delta float64) {
	n.Cameras[cam].Pos.Sample(sample)[coord] += delta
}

// PerturbQuaternion adds delta to one component of one orientation sample.
func (n *Network) PerturbQuaternion(cam, sample, coord int, delta float64) {
	n.Cameras[cam].Quat.Sample(sample)[coord] += delta
}
