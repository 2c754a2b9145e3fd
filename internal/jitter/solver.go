package jitter

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/jitter.report/internal/monitoring"
)

// Status is the terminal state of a solve. NoConvergence is reported, not
// treated as a failure: the best-found parameters are still written back.
type Status string

const (
	StatusConverged     Status = "converged"
	StatusNoConvergence Status = "no_convergence"
	StatusFailed        Status = "failed"
)

// SolverOptions configures the iterative robust nonlinear least-squares
// solve. The tolerances default very tight because the input deviations are
// expected to be sub-pixel.
type SolverOptions struct {
	MaxIterations      int
	GradientTolerance  float64
	FunctionTolerance  float64
	ParameterTolerance float64

	// Threads bounds the residual/Jacobian evaluation worker pool. It is
	// forced to 1 when SingleThreaded is set or when any camera in the
	// network is single-threaded, and is always capped by the host's
	// hardware concurrency.
	Threads        int
	SingleThreaded bool
}

// DefaultSolverOptions returns the production defaults.
func DefaultSolverOptions() SolverOptions {
	return SolverOptions{
		MaxIterations:      500,
		GradientTolerance:  1e-16,
		FunctionTolerance:  1e-16,
		ParameterTolerance: 1e-12,
		Threads:            runtime.NumCPU(),
	}
}

// ResidualStats summarizes unweighted reprojection-error norms in pixels.
type ResidualStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
	RMS    float64 `json:"rms"`
}

// Report is the outcome of one solve run.
type Report struct {
	RunID             string        `json:"run_id"`
	StartedUnixNanos  int64         `json:"started_unix_nanos"`
	FinishedUnixNanos int64         `json:"finished_unix_nanos"`
	NumCameras        int           `json:"num_cameras"`
	NumPoints         int           `json:"num_points"`
	NumOutliers       int           `json:"num_outliers"`
	NumResidualBlocks int           `json:"num_residual_blocks"`
	NumParameters     int           `json:"num_parameters"`
	Threads           int           `json:"threads"`
	Iterations        int           `json:"iterations"`
	InitialCost       float64       `json:"initial_cost"`
	FinalCost         float64       `json:"final_cost"`
	Status            Status        `json:"status"`
	TerminationReason string        `json:"termination_reason"`
	CostTrace         []float64     `json:"cost_trace"`
	InitialResidual   ResidualStats `json:"initial_residual"`
	FinalResidual     ResidualStats `json:"final_residual"`
}

// blockEval holds one residual block's evaluation at the current parameters:
// the residual, its numerical Jacobian over the block's local parameters,
// the robust IRLS weight, and the block's contribution to the total cost.
type blockEval struct {
	r    []float64
	jac  *mat.Dense
	w    float64
	cost float64
}

type lmState struct {
	p       *Problem
	opt     SolverOptions
	workers int

	// gidx[i] holds the global arena index of every local parameter of
	// residual block i, in packing order.
	gidx [][]int
}

func newLMState(p *Problem, opt SolverOptions) *lmState {
	s := &lmState{p: p, opt: opt}

	s.workers = opt.Threads
	if s.workers > runtime.NumCPU() {
		s.workers = runtime.NumCPU()
	}
	if s.workers < 1 || opt.SingleThreaded || p.net.SingleThreaded() {
		s.workers = 1
	}

	s.gidx = make([][]int, len(p.resBlocks))
	for i := range p.resBlocks {
		rb := &p.resBlocks[i]
		idx := make([]int, 0, rb.localLen(p))
		for _, bi := range rb.params {
			b := &p.blocks[bi]
			for k := 0; k < b.size; k++ {
				idx = append(idx, b.off+k)
			}
		}
		s.gidx[i] = idx
	}
	return s
}

// evaluateAll computes every residual block's value, Jacobian, weight and
// cost at x, fanned out over the worker pool. Each evaluation clones its own
// camera samples, so the shared arrays are read-only here; no locking.
func (s *lmState) evaluateAll(x []float64) ([]blockEval, float64) {
	evals := make([]blockEval, len(s.p.resBlocks))

	var wg sync.WaitGroup
	work := make(chan int)
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				rb := &s.p.resBlocks[i]
				nl := rb.localLen(s.p)
				local := make([]float64, nl)
				s.p.gather(rb, x, local)

				r := make([]float64, rb.nRes)
				s.p.evalResidual(rb, local, r)

				jac := mat.NewDense(rb.nRes, nl, nil)
				fd.Jacobian(jac, func(y, xl []float64) {
					s.p.evalResidual(rb, xl, y)
				}, local, &fd.JacobianSettings{
					Formula:     fd.Forward,
					OriginValue: r,
				})

				sq := floats.Dot(r, r)
				evals[i] = blockEval{
					r:    r,
					jac:  jac,
					w:    rb.loss.weight(sq),
					cost: 0.5 * rb.loss.rho(sq),
				}
			}
		}()
	}
	for i := range s.p.resBlocks {
		work <- i
	}
	close(work)
	wg.Wait()

	total := 0.0
	for i := range evals {
		total += evals[i].cost
	}
	return evals, total
}

// normalEquations folds the weighted block evaluations into the Gauss-Newton
// normal equations: A = sum w J^T J, g = sum w J^T r, scattered through the
// stable global indices.
func (s *lmState) normalEquations(evals []blockEval) (*mat.SymDense, []float64) {
	n := len(s.p.x)
	a := mat.NewSymDense(n, nil)
	g := make([]float64, n)

	for i := range evals {
		ev := &evals[i]
		idx := s.gidx[i]
		rows, cols := ev.jac.Dims()
		for ja := 0; ja < cols; ja++ {
			ga := idx[ja]
			jr := 0.0
			for row := 0; row < rows; row++ {
				jr += ev.jac.At(row, ja) * ev.r[row]
			}
			g[ga] += ev.w * jr

			for jb := ja; jb < cols; jb++ {
				gb := idx[jb]
				jj := 0.0
				for row := 0; row < rows; row++ {
					jj += ev.jac.At(row, ja) * ev.jac.At(row, jb)
				}
				lo, hi := ga, gb
				if lo > hi {
					lo, hi = hi, lo
				}
				a.SetSym(lo, hi, a.At(lo, hi)+ev.w*jj)
			}
		}
	}
	return a, g
}

// solveStep solves the damped system (A + lambda*D) dx = -g, with D the
// diagonal of A floored relative to its largest entry. The window padding
// admits pose samples whose interpolation weight is exactly zero at the
// current projection times, so A carries exactly-zero diagonals alongside
// very large ones; the relative floor keeps those rows positive definite
// at the problem's own scale. A failed factorization returns ok=false; the
// caller raises lambda.
func solveStep(a *mat.SymDense, g []float64, lambda float64) (dx []float64, ok bool) {
	n := len(g)
	maxDiag := 0.0
	for i := 0; i < n; i++ {
		if d := a.At(i, i); d > maxDiag {
			maxDiag = d
		}
	}
	floor := 1e-12 * maxDiag
	if floor == 0 {
		floor = 1e-12
	}
	b := mat.NewSymDense(n, nil)
	b.CopySym(a)
	for i := 0; i < n; i++ {
		d := a.At(i, i)
		if d < floor {
			d = floor
		}
		b.SetSym(i, i, a.At(i, i)+lambda*d)
	}

	var chol mat.Cholesky
	if !chol.Factorize(b) {
		return nil, false
	}
	neg := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		neg.SetVec(i, -g[i])
	}
	var d mat.VecDense
	if err := chol.SolveVecTo(&d, neg); err != nil {
		return nil, false
	}
	return d.RawVector().Data, true
}

func residualStats(norms []float64) ResidualStats {
	if len(norms) == 0 {
		return ResidualStats{}
	}
	sorted := append([]float64(nil), norms...)
	sort.Float64s(sorted)
	ss := 0.0
	for _, v := range norms {
		ss += v * v
	}
	return ResidualStats{
		Mean:   stat.Mean(norms, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Max:    sorted[len(sorted)-1],
		RMS:    math.Sqrt(ss / float64(len(norms))),
	}
}

// Solve runs the Levenberg-Marquardt iteration to completion and writes the
// best-found parameters back into the camera pose-sample sequences and the
// point array. Non-convergence is surfaced in the report, not as an error.
func Solve(p *Problem, opt SolverOptions) (*Report, error) {
	if opt.MaxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be positive, got %d", opt.MaxIterations)
	}
	if opt.ParameterTolerance <= 0 {
		return nil, fmt.Errorf("parameter tolerance must be positive, got %g", opt.ParameterTolerance)
	}

	s := newLMState(p, opt)
	maxInvalid := opt.MaxIterations / 5
	if maxInvalid < 5 {
		maxInvalid = 5
	}

	rep := &Report{
		RunID:             uuid.New().String(),
		StartedUnixNanos:  time.Now().UnixNano(),
		NumCameras:        len(p.net.Cameras),
		NumPoints:         len(p.net.Points),
		NumOutliers:       p.numOutliers,
		NumResidualBlocks: len(p.resBlocks),
		NumParameters:     len(p.x),
		Threads:           s.workers,
	}
	rep.InitialResidual = residualStats(p.EvaluateResiduals())

	x := append([]float64(nil), p.x...)
	evals, cost := s.evaluateAll(x)
	rep.InitialCost = cost
	rep.CostTrace = append(rep.CostTrace, cost)
	monitoring.Logf("solve %s: %d residual blocks, %d parameters, %d threads, initial cost %.6g",
		rep.RunID, len(p.resBlocks), len(p.x), s.workers, cost)

	lambda := 1e-4
	invalid := 0
	status := StatusNoConvergence
	reason := "iteration limit reached"

	for iter := 1; iter <= opt.MaxIterations; iter++ {
		rep.Iterations = iter

		a, g := s.normalEquations(evals)
		if floats.Norm(g, math.Inf(1)) < opt.GradientTolerance {
			status = StatusConverged
			reason = "gradient tolerance reached"
			break
		}

		dx, ok := solveStep(a, g, lambda)
		if !ok {
			lambda *= 10
			invalid++
			if invalid > maxInvalid {
				status = StatusFailed
				reason = fmt.Sprintf("normal equations not factorizable after %d attempts", invalid)
				break
			}
			continue
		}

		// A vanishing step means the minimizer cannot move regardless of
		// whether this particular step improves the cost.
		stepNorm := floats.Norm(dx, 2)
		xNorm := floats.Norm(x, 2)
		if stepNorm <= opt.ParameterTolerance*(xNorm+opt.ParameterTolerance) {
			status = StatusConverged
			reason = "parameter tolerance reached"
			break
		}

		xNew := append([]float64(nil), x...)
		floats.Add(xNew, dx)
		evalsNew, costNew := s.evaluateAll(xNew)

		if costNew < cost {
			delta := cost - costNew
			x, evals, cost = xNew, evalsNew, costNew
			rep.CostTrace = append(rep.CostTrace, cost)
			lambda /= 10
			if lambda < 1e-12 {
				lambda = 1e-12
			}
			invalid = 0
			if delta <= opt.FunctionTolerance*cost {
				status = StatusConverged
				reason = "function tolerance reached"
				break
			}
		} else {
			lambda *= 10
			invalid++
			if invalid > maxInvalid {
				reason = fmt.Sprintf("%d consecutive non-productive steps", invalid)
				break
			}
		}
	}

	copy(p.x, x)
	p.writeBack(x)

	rep.FinalCost = cost
	rep.Status = status
	rep.TerminationReason = reason
	rep.FinalResidual = residualStats(p.EvaluateResiduals())
	rep.FinishedUnixNanos = time.Now().UnixNano()

	switch status {
	case StatusConverged:
		monitoring.Logf("solve %s: converged in %d iterations, final cost %.6g (%s)",
			rep.RunID, rep.Iterations, cost, reason)
	default:
		monitoring.Logf("solve %s: found a valid solution but did not reach the minimum: %s (final cost %.6g)",
			rep.RunID, reason, cost)
	}
	return rep, nil
}
