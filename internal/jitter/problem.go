package jitter

import (
	"fmt"
	"math"

	"github.com/banshee-data/jitter.report/internal/linescan"
	"github.com/banshee-data/jitter.report/internal/monitoring"
	"github.com/banshee-data/jitter.report/internal/network"
)

// bigPixelValue is the sentinel written into both residual components when
// projection fails inside an evaluation. It keeps numerical differentiation
// well-defined while strongly penalizing the offending configuration. Don't
// make it too big.
const bigPixelValue = 1000.0

// Parameter block kinds. A block is one orientation sample (4 scalars), one
// position sample (3 scalars), or one triangulated point (3 scalars).
const (
	blockQuat = iota
	blockPos
	blockPoint
)

type blockKey struct {
	kind int
	cam  int // -1 for points
	idx  int // sample index or point index
}

// paramBlock is one shared optimization variable, resolved through stable
// indices into the packed parameter arena rather than raw addresses.
type paramBlock struct {
	key  blockKey
	off  int // offset into Problem.x
	size int
}

// Residual block kinds.
const (
	residPixel = iota
	residAnchor
)

// residualBlock describes one residual: which camera and observation it
// belongs to, the pose-sample windows it substitutes, and the ordered list
// of parameter blocks it reads (quat window, then pos window, then point,
// matching the packing of its local parameter vector).
type residualBlock struct {
	kind   int
	cam    int
	obs    linescan.Pixel
	win    Window
	params []int // indices into Problem.blocks
	nRes   int
	loss   cauchyLoss

	// anchor residuals only
	weight float64
	target [3]float64
}

// localLen returns the length of the block's packed local parameter vector.
func (rb *residualBlock) localLen(p *Problem) int {
	n := 0
	for _, bi := range rb.params {
		n += p.blocks[bi].size
	}
	return n
}

// Options configures assembly of the least-squares problem.
type Options struct {
	// RobustThreshold is the Cauchy transition scale for pixel residuals.
	RobustThreshold float64
	// MaxInitReprojError is the outlier gating threshold; it also drives
	// the along-track window margin.
	MaxInitReprojError float64

	// Optional ground anchoring. Nil Anchor or zero AnchorWeight disables.
	Anchor             Anchor
	AnchorWeight       float64
	AnchorRobustThresh float64
}

// Problem is the assembled least-squares problem: deduplicated shared
// parameter blocks in a packed arena, plus one residual block per retained
// observation. The arena and the underlying camera/point arrays are owned
// here for the problem's lifetime; only the solver mutates them.
type Problem struct {
	net *network.Network

	blocks   []paramBlock
	blockIdx map[blockKey]int
	x        []float64 // packed parameter arena

	resBlocks []residualBlock

	numOutliers int
}

// NumParameters returns the total number of packed scalars being optimized.
func (p *Problem) NumParameters() int { return len(p.x) }

// NumResidualBlocks returns the number of residual blocks.
func (p *Problem) NumResidualBlocks() int { return len(p.resBlocks) }

// NumOutliers returns the count of points excluded by the gate.
func (p *Problem) NumOutliers() int { return p.numOutliers }

// block interns a parameter block and seeds its arena slot from the current
// camera or point state.
func (p *Problem) block(key blockKey, src []float64) int {
	if i, ok := p.blockIdx[key]; ok {
		return i
	}
	i := len(p.blocks)
	p.blocks = append(p.blocks, paramBlock{key: key, off: len(p.x), size: len(src)})
	p.x = append(p.x, src...)
	p.blockIdx[key] = i
	return i
}

// Assemble builds the problem: outliers are assumed already gated (see
// GateOutliers); every surviving observation gets a pixel residual block
// with a Cauchy loss, sharing pose-sample and point blocks with every other
// observation whose window overlaps. Fails fast on degenerate networks and
// collapsed windows.
func Assemble(net *network.Network, opt Options) (*Problem, error) {
	if err := net.Validate(); err != nil {
		return nil, err
	}
	if opt.RobustThreshold <= 0 {
		return nil, fmt.Errorf("robust threshold must be positive, got %g", opt.RobustThreshold)
	}
	if opt.MaxInitReprojError <= 0 {
		return nil, fmt.Errorf("max initial reprojection error must be positive, got %g",
			opt.MaxInitReprojError)
	}

	p := &Problem{net: net, blockIdx: make(map[blockKey]int)}
	for _, pt := range net.Points {
		if pt.Outlier {
			p.numOutliers++
		}
	}

	lineMargin := opt.MaxInitReprojError + lineExtraPad
	loss := newCauchyLoss(opt.RobustThreshold)

	for cam, obsIdx := range net.ObsByCamera() {
		c := net.Cameras[cam]
		for _, oi := range obsIdx {
			ob := net.Obs[oi]
			if net.Points[ob.Point].Outlier {
				continue
			}

			win, err := ResolveWindow(c, ob.Pixel, lineMargin)
			if err != nil {
				return nil, err
			}

			rb := residualBlock{
				kind: residPixel,
				cam:  cam,
				obs:  ob.Pixel,
				win:  win,
				nRes: 2,
				loss: loss,
			}
			for k := win.BegQuat; k < win.EndQuat; k++ {
				rb.params = append(rb.params,
					p.block(blockKey{blockQuat, cam, k}, c.Quat.Sample(k)))
			}
			for k := win.BegPos; k < win.EndPos; k++ {
				rb.params = append(rb.params,
					p.block(blockKey{blockPos, cam, k}, c.Pos.Sample(k)))
			}
			rb.params = append(rb.params,
				p.block(blockKey{blockPoint, -1, ob.Point}, net.Points[ob.Point].XYZ[:]))
			p.resBlocks = append(p.resBlocks, rb)
		}
	}

	if len(p.resBlocks) == 0 {
		return nil, fmt.Errorf("no residual blocks: every point was gated as an outlier")
	}

	if opt.Anchor != nil && opt.AnchorWeight > 0 {
		p.addAnchors(opt)
	}
	return p, nil
}

// addAnchors adds one 3-component residual per retained point for which the
// anchor reports a valid target, pulling the point toward the surface with
// its own weight and robust loss.
func (p *Problem) addAnchors(opt Options) {
	scale := opt.AnchorRobustThresh
	if scale <= 0 {
		scale = opt.RobustThreshold
	}
	anchored := 0
	for ip := range p.net.Points {
		pt := &p.net.Points[ip]
		if pt.Outlier {
			continue
		}
		key := blockKey{blockPoint, -1, ip}
		bi, ok := p.blockIdx[key]
		if !ok {
			continue // point lost every observation
		}
		target, ok := opt.Anchor.Anchor(pt.XYZ)
		if !ok {
			continue
		}
		p.resBlocks = append(p.resBlocks, residualBlock{
			kind:   residAnchor,
			params: []int{bi},
			nRes:   3,
			loss:   newCauchyLoss(scale),
			weight: opt.AnchorWeight,
			target: target,
		})
		anchored++
	}
	monitoring.Logf("anchored %d of %d points to the reference surface", anchored, len(p.net.Points))
}

// gather copies a residual block's parameter values out of the arena into a
// packed local vector.
func (p *Problem) gather(rb *residualBlock, x []float64, local []float64) {
	n := 0
	for _, bi := range rb.params {
		b := &p.blocks[bi]
		copy(local[n:n+b.size], x[b.off:b.off+b.size])
		n += b.size
	}
}

// evalResidual evaluates one residual block at the given local parameter
// vector. Pixel blocks reconstruct a private camera copy, substitute the
// windowed samples and the point, and project at high precision; any
// projection failure is swallowed and both components are set to the
// sentinel instead. Anchor blocks are plain weighted differences.
func (p *Problem) evalResidual(rb *residualBlock, local []float64, out []float64) {
	if rb.kind == residAnchor {
		for c := 0; c < 3; c++ {
			out[c] = rb.weight * (local[c] - rb.target[c])
		}
		return
	}

	cam := p.net.Cameras[rb.cam].CloneSamples()
	n := 0
	for k := rb.win.BegQuat; k < rb.win.EndQuat; k++ {
		copy(cam.Quat.Sample(k), local[n:n+linescan.QuatParams])
		n += linescan.QuatParams
	}
	for k := rb.win.BegPos; k < rb.win.EndPos; k++ {
		copy(cam.Pos.Sample(k), local[n:n+linescan.PosParams])
		n += linescan.PosParams
	}
	var pt [3]float64
	copy(pt[:], local[n:n+linescan.PosParams])

	px, err := cam.Project(pt)
	if err != nil || math.IsNaN(px.Samp) || math.IsNaN(px.Line) ||
		math.IsInf(px.Samp, 0) || math.IsInf(px.Line, 0) {
		// Accepted but penalized: the solver keeps going, the step that
		// caused this just looks terrible.
		out[0] = bigPixelValue
		out[1] = bigPixelValue
		return
	}
	out[0] = px.Samp - rb.obs.Samp
	out[1] = px.Line - rb.obs.Line
}

// EvaluateResiduals computes the unweighted residual norm of every residual
// block at the current arena values, without applying the loss. Used for
// before/after reporting.
func (p *Problem) EvaluateResiduals() []float64 {
	norms := make([]float64, len(p.resBlocks))
	local := make([]float64, 0, 64)
	out := make([]float64, 3)
	for i := range p.resBlocks {
		rb := &p.resBlocks[i]
		nl := rb.localLen(p)
		if cap(local) < nl {
			local = make([]float64, nl)
		}
		local = local[:nl]
		p.gather(rb, p.x, local)
		p.evalResidual(rb, local, out[:rb.nRes])
		s := 0.0
		for _, r := range out[:rb.nRes] {
			s += r * r
		}
		norms[i] = math.Sqrt(s)
	}
	return norms
}

// writeBack copies the packed arena values into the live camera sample
// arrays and point coordinates. Runs once, after the solve settles.
func (p *Problem) writeBack(x []float64) {
	for _, b := range p.blocks {
		switch b.key.kind {
		case blockQuat:
			copy(p.net.Cameras[b.key.cam].Quat.Sample(b.key.idx), x[b.off:b.off+b.size])
		case blockPos:
			copy(p.net.Cameras[b.key.cam].Pos.Sample(b.key.idx), x[b.off:b.off+b.size])
		case blockPoint:
			copy(p.net.Points[b.key.idx].XYZ[:], x[b.off:b.off+b.size])
		}
	}
}
