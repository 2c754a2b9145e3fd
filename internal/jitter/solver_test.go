package jitter

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/jitter.report/internal/network"
)

func TestSolve_ZeroJitterConvergesImmediately(t *testing.T) {
	net := buildTestScene(t)
	snapshot := snapshotCameras(net)

	p, err := Assemble(net, defaultOptions())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	opt := DefaultSolverOptions()
	opt.MaxIterations = 50
	rep, err := Solve(p, opt)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	if rep.Status != StatusConverged {
		t.Fatalf("Status = %s (%s), want converged", rep.Status, rep.TerminationReason)
	}
	if rep.Iterations > 5 {
		t.Errorf("Iterations = %d, want <= 5 on an exact scene", rep.Iterations)
	}
	if rep.FinalCost > 1e-12 {
		t.Errorf("FinalCost = %g, want ~0", rep.FinalCost)
	}
	assertCamerasUnchanged(t, net, snapshot, 1e-9)
}

func TestSolve_RecoversPositionJitter(t *testing.T) {
	net := buildTestScene(t)
	truth := net.Cameras[0].Pos.Sample(9)[0]
	net.PerturbPosition(0, 9, 0, 0.01)

	p, err := Assemble(net, defaultOptions())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	opt := DefaultSolverOptions()
	opt.MaxIterations = 200
	rep, err := Solve(p, opt)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	if rep.Status == StatusFailed {
		t.Fatalf("Status = failed: %s", rep.TerminationReason)
	}
	if rep.FinalCost > 1e-8 {
		t.Errorf("FinalCost = %g, want < 1e-8", rep.FinalCost)
	}
	if rep.InitialCost < 1e4*rep.FinalCost {
		t.Errorf("cost only fell from %g to %g", rep.InitialCost, rep.FinalCost)
	}
	if rep.FinalResidual.Max > 1e-3 {
		t.Errorf("final max residual = %g px, want < 1e-3", rep.FinalResidual.Max)
	}

	// The jittered sample moves most of the way back to the truth.
	after := net.Cameras[0].Pos.Sample(9)[0]
	if d := math.Abs(after - truth); d > 0.008 {
		t.Errorf("perturbed sample recovered to %g from truth %g (|d| = %g)", after, truth, d)
	}

	// Samples outside every observation window are never part of the
	// problem and must come through untouched.
	for _, k := range []int{0, 19} {
		if got := net.Cameras[0].Pos.Sample(k)[0]; got != truth {
			t.Errorf("out-of-window sample %d moved: %g, want %g", k, got, truth)
		}
	}
}

func TestSolve_AllSentinelTerminates(t *testing.T) {
	net := buildTestScene(t)
	for i := range net.Points {
		net.Points[i].XYZ[2] = 5000
	}

	p, err := Assemble(net, defaultOptions())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	opt := DefaultSolverOptions()
	opt.MaxIterations = 20
	rep, err := Solve(p, opt)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	// Sentinel residuals are constant, so the gradient vanishes and the
	// solver stops on the first iteration instead of thrashing.
	if rep.Status != StatusConverged {
		t.Errorf("Status = %s (%s), want converged", rep.Status, rep.TerminationReason)
	}
	if rep.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", rep.Iterations)
	}
	if math.IsNaN(rep.FinalCost) || math.IsInf(rep.FinalCost, 0) {
		t.Errorf("FinalCost = %g, want finite", rep.FinalCost)
	}
}

func TestSolveStep_ZeroDiagonal(t *testing.T) {
	// Windows padded by the interpolation support include pose samples
	// whose basis weight is zero at the projection time, so the normal
	// matrix mixes exactly-zero diagonals with very large ones. The step
	// must still factorize at every damping level.
	a := mat.NewSymDense(3, nil)
	a.SetSym(0, 0, 4e8)
	a.SetSym(1, 1, 0)
	a.SetSym(2, 2, 2.5)
	g := []float64{2e3, 0, -1}

	for _, lambda := range []float64{1e-4, 1, 1e4, 1e8} {
		dx, ok := solveStep(a, g, lambda)
		if !ok {
			t.Fatalf("lambda=%g: factorization failed on a zero diagonal", lambda)
		}
		for i, v := range dx {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("lambda=%g: dx[%d] = %g", lambda, i, v)
			}
		}
		if dx[1] != 0 {
			t.Errorf("lambda=%g: zero-gradient parameter moved by %g", lambda, dx[1])
		}
	}
}

func TestSolve_SingleThreadedCameraForcesOneWorker(t *testing.T) {
	net := buildTestScene(t)
	net.Cameras[2].SingleThreaded = true

	p, err := Assemble(net, defaultOptions())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	// The caller does not set the option; the network flag alone must
	// collapse the pool.
	opt := DefaultSolverOptions()
	opt.MaxIterations = 5
	opt.Threads = 8
	rep, err := Solve(p, opt)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if rep.Threads != 1 {
		t.Errorf("Threads = %d, want 1 for a network with a single-threaded camera", rep.Threads)
	}
}

func TestSolve_SingleThreaded(t *testing.T) {
	net := buildTestScene(t)
	p, err := Assemble(net, defaultOptions())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	opt := DefaultSolverOptions()
	opt.MaxIterations = 5
	opt.Threads = 8
	opt.SingleThreaded = true
	rep, err := Solve(p, opt)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if rep.Threads != 1 {
		t.Errorf("Threads = %d, want 1 when forced single-threaded", rep.Threads)
	}
}

func TestSolve_InvalidOptions(t *testing.T) {
	net := buildTestScene(t)
	p, err := Assemble(net, defaultOptions())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	opt := DefaultSolverOptions()
	opt.MaxIterations = 0
	if _, err := Solve(p, opt); err == nil {
		t.Error("expected error for zero iteration cap")
	}

	opt = DefaultSolverOptions()
	opt.ParameterTolerance = 0
	if _, err := Solve(p, opt); err == nil {
		t.Error("expected error for zero parameter tolerance")
	}
}

func TestResidualStats(t *testing.T) {
	s := residualStats([]float64{1, 2, 3, 4})
	if s.Mean != 2.5 {
		t.Errorf("Mean = %g, want 2.5", s.Mean)
	}
	if s.Max != 4 {
		t.Errorf("Max = %g, want 4", s.Max)
	}
	if want := math.Sqrt(30.0 / 4.0); math.Abs(s.RMS-want) > 1e-15 {
		t.Errorf("RMS = %g, want %g", s.RMS, want)
	}
	if s.Median < 2 || s.Median > 3 {
		t.Errorf("Median = %g, want within [2, 3]", s.Median)
	}

	if z := residualStats(nil); z != (ResidualStats{}) {
		t.Errorf("residualStats(nil) = %+v, want zero", z)
	}
}

// snapshotCameras deep-copies every camera's sample data.
func snapshotCameras(net *network.Network) [][]float64 {
	var out [][]float64
	for _, cam := range net.Cameras {
		out = append(out, append([]float64(nil), cam.Quat.Data...))
		out = append(out, append([]float64(nil), cam.Pos.Data...))
	}
	return out
}

func assertCamerasUnchanged(t *testing.T, net *network.Network, snap [][]float64, tol float64) {
	t.Helper()
	i := 0
	for ic, cam := range net.Cameras {
		for k, v := range cam.Quat.Data {
			if math.Abs(v-snap[i][k]) > tol {
				t.Fatalf("camera %d quat scalar %d moved by %g", ic, k, math.Abs(v-snap[i][k]))
			}
		}
		i++
		for k, v := range cam.Pos.Data {
			if math.Abs(v-snap[i][k]) > tol {
				t.Fatalf("camera %d pos scalar %d moved by %g", ic, k, math.Abs(v-snap[i][k]))
			}
		}
		i++
	}
}
