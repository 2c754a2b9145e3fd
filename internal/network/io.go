package network

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/banshee-data/jitter.report/internal/linescan"
)

// JSON scene format shared by gen-scene and the solver command. This is a
// convenience interchange for synthetic experiments, not the production
// camera-loading path, which supplies camera models directly.

type sequenceJSON struct {
	T0   float64   `json:"t0"`
	Dt   float64   `json:"dt"`
	Data []float64 `json:"data"`
}

type cameraJSON struct {
	Quat           sequenceJSON `json:"quaternions"`
	Pos            sequenceJSON `json:"positions"`
	LineT0         float64      `json:"line_t0"`
	LineDt         float64      `json:"line_dt"`
	Focal          float64      `json:"focal"`
	CenterSamp     float64      `json:"center_samp"`
	SupportSamples int          `json:"support_samples,omitempty"`
	SingleThreaded bool         `json:"single_threaded,omitempty"`
}

type observationJSON struct {
	Cam   int     `json:"cam"`
	Point int     `json:"point"`
	Samp  float64 `json:"samp"`
	Line  float64 `json:"line"`
}

type sceneJSON struct {
	Cameras []cameraJSON      `json:"cameras"`
	Points  [][3]float64      `json:"points"`
	Obs     []observationJSON `json:"observations"`
}

// SaveScene writes the network to path as JSON.
func SaveScene(path string, n *Network) error {
	var sc sceneJSON
	for _, cam := range n.Cameras {
		sc.Cameras = append(sc.Cameras, cameraJSON{
			Quat:           sequenceJSON{T0: cam.Quat.T0, Dt: cam.Quat.Dt, Data: cam.Quat.Data},
			Pos:            sequenceJSON{T0: cam.Pos.T0, Dt: cam.Pos.Dt, Data: cam.Pos.Data},
			LineT0:         cam.LineT0,
			LineDt:         cam.LineDt,
			Focal:          cam.Focal,
			CenterSamp:     cam.CenterSamp,
			SupportSamples: cam.SupportSamples,
			SingleThreaded: cam.SingleThreaded,
		})
	}
	for _, pt := range n.Points {
		sc.Points = append(sc.Points, pt.XYZ)
	}
	for _, ob := range n.Obs {
		sc.Obs = append(sc.Obs, observationJSON{
			Cam: ob.Cam, Point: ob.Point, Samp: ob.Pixel.Samp, Line: ob.Pixel.Line,
		})
	}
	data, err := json.MarshalIndent(&sc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode scene: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write scene: %w", err)
	}
	return nil
}

// LoadScene reads a JSON scene file and validates the resulting network.
func LoadScene(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene: %w", err)
	}
	var sc sceneJSON
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scene: %w", err)
	}

	n := &Network{}
	for _, cj := range sc.Cameras {
		n.Cameras = append(n.Cameras, &linescan.Camera{
			Quat:           linescan.SampleSequence{T0: cj.Quat.T0, Dt: cj.Quat.Dt, Stride: linescan.QuatParams, Data: cj.Quat.Data},
			Pos:            linescan.SampleSequence{T0: cj.Pos.T0, Dt: cj.Pos.Dt, Stride: linescan.PosParams, Data: cj.Pos.Data},
			LineT0:         cj.LineT0,
			LineDt:         cj.LineDt,
			Focal:          cj.Focal,
			CenterSamp:     cj.CenterSamp,
			SupportSamples: cj.SupportSamples,
			SingleThreaded: cj.SingleThreaded,
		})
	}
	for _, p := range sc.Points {
		n.Points = append(n.Points, Point{XYZ: p})
	}
	for _, ob := range sc.Obs {
		n.Obs = append(n.Obs, Observation{
			Cam: ob.Cam, Point: ob.Point,
			Pixel: linescan.Pixel{Samp: ob.Samp, Line: ob.Line},
		})
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}
