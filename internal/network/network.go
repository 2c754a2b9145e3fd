// Package network holds the control network consumed by the jitter solver:
// triangulated ground points and their per-image pixel observations. The
// matching and triangulation that produce it live upstream; this package
// only validates and carries the result.
package network

import (
	"fmt"

	"github.com/banshee-data/jitter.report/internal/linescan"
)

// Point is a triangulated ground position. It is a free variable of the
// optimization; Outlier marks points excluded by the pre-solve gate.
type Point struct {
	XYZ     [3]float64
	Outlier bool
}

// Observation ties a camera to a point through an observed pixel. Immutable
// once loaded.
type Observation struct {
	Cam   int
	Point int
	Pixel linescan.Pixel
}

// Network is the full correspondence set across all images.
type Network struct {
	Cameras []*linescan.Camera
	Points  []Point
	Obs     []Observation
}

// Validate performs the fail-fast configuration checks: enough cameras,
// a non-empty point set, every index in range, and every camera internally
// consistent. It runs before any optimization work begins.
func (n *Network) Validate() error {
	if len(n.Cameras) < 2 {
		return fmt.Errorf("expecting at least two cameras, got %d", len(n.Cameras))
	}
	if len(n.Points) == 0 {
		return fmt.Errorf("no triangulated ground points")
	}
	for i, cam := range n.Cameras {
		if err := cam.Validate(); err != nil {
			return fmt.Errorf("camera %d: %w", i, err)
		}
	}
	for i, ob := range n.Obs {
		if ob.Cam < 0 || ob.Cam >= len(n.Cameras) {
			return fmt.Errorf("observation %d: camera index %d out of bounds", i, ob.Cam)
		}
		if ob.Point < 0 || ob.Point >= len(n.Points) {
			return fmt.Errorf("observation %d: point index %d out of bounds", i, ob.Point)
		}
	}
	return nil
}

// ObsByCamera groups observation indices by camera, preserving input order
// within each camera. Problem assembly iterates cameras in order so residual
// block layout is deterministic.
func (n *Network) ObsByCamera() [][]int {
	out := make([][]int, len(n.Cameras))
	for i, ob := range n.Obs {
		out[ob.Cam] = append(out[ob.Cam], i)
	}
	return out
}

// SingleThreaded reports whether any camera in the network must not be
// projected concurrently. The solver propagates this into its worker count.
func (n *Network) SingleThreaded() bool {
	for _, cam := range n.Cameras {
		if cam.SingleThreaded {
			return true
		}
	}
	return false
}
