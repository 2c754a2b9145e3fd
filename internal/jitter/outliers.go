package jitter

import (
	"math"

	"github.com/banshee-data/jitter.report/internal/monitoring"
	"github.com/banshee-data/jitter.report/internal/network"
)

// GateOutliers projects every point through the unadjusted camera of each of
// its observations and marks the whole point an outlier when any projection
// misses the observed pixel by more than maxReprojError, fails, or produces
// a non-finite pixel. Single pass over the initial triangulation, run once
// before assembly; re-running it on its own output marks nothing new.
// Returns the number of points newly marked.
func GateOutliers(net *network.Network, maxReprojError float64) int {
	marked := 0
	for _, ob := range net.Obs {
		pt := &net.Points[ob.Point]
		if pt.Outlier {
			continue
		}
		px, err := net.Cameras[ob.Cam].Project(pt.XYZ)
		if err != nil {
			monitoring.Logf("outlier gate: point %d camera %d: %v", ob.Point, ob.Cam, err)
			pt.Outlier = true
			marked++
			continue
		}
		d := px.Sub(ob.Pixel).Norm()
		// The norm comparison rejects NaN pixels too.
		if !(d <= maxReprojError) || math.IsInf(d, 0) {
			pt.Outlier = true
			marked++
		}
	}
	return marked
}
