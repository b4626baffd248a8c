package piecewisejerk

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/speedplan/internal/qp"
	"github.com/banshee-data/speedplan/internal/timeutil"
)

// State is the lifecycle position of a Problem.
type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateSolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateSolved:
		return "solved"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stats describes how a solve went.
type Stats struct {
	Status         qp.Status
	Iterations     int
	Objective      float64
	PrimalResidual float64
	DualResidual   float64
	Polished       bool
	SolveTime      time.Duration
}

// Profile is a solved profile. All three sequences have one entry per knot.
type Profile struct {
	X   []float64
	DX  []float64
	DDX []float64

	Stats Stats
}

// Problem holds the knot grid, bounds and solver configuration shared by all
// profile types and turns a CostModel into a solved Profile.
type Problem struct {
	n     int
	delta float64
	init  [3]float64

	xBounds   []Bound
	dxBounds  []Bound
	ddxBounds []Bound
	dddxBound Bound

	weightDDX  float64
	weightDDDX float64

	endTarget  [3]float64
	endWeights [3]float64

	solver   qp.Solver
	settings qp.Settings
	clock    timeutil.Clock

	state State
}

// NewProblem returns a problem over n knots spaced delta apart, with knot 0
// pinned to init. All bounds start open and the jerk weight starts at 1.
func NewProblem(n int, delta float64, init [3]float64) (*Problem, error) {
	if n < 2 {
		return nil, invalidf("knot count %d, need at least 2", n)
	}
	if !(delta > 0) || math.IsInf(delta, 0) {
		return nil, invalidf("knot spacing %g must be positive and finite", delta)
	}
	if !allFinite(init[:]) {
		return nil, invalidf("initial state %v is not finite", init)
	}
	return &Problem{
		n:          n,
		delta:      delta,
		init:       init,
		xBounds:    uniformBounds(n, Unbounded()),
		dxBounds:   uniformBounds(n, Unbounded()),
		ddxBounds:  uniformBounds(n, Unbounded()),
		dddxBound:  Unbounded(),
		weightDDDX: 1.0,
		solver:     qp.NewADMM(),
		settings:   qp.DefaultSettings(),
		clock:      timeutil.RealClock{},
	}, nil
}

// N returns the knot count.
func (p *Problem) N() int { return p.n }

// Delta returns the knot spacing.
func (p *Problem) Delta() float64 { return p.delta }

// Init returns the initial state.
func (p *Problem) Init() [3]float64 { return p.init }

// State returns the outcome of the latest configuration or solve.
func (p *Problem) State() State { return p.state }

func (p *Problem) touch() { p.state = StateConfigured }

// SetXBounds sets per-knot position bounds.
func (p *Problem) SetXBounds(lower, upper []float64) error {
	b, err := boundsFromSlices("x", p.n, lower, upper)
	if err != nil {
		return err
	}
	p.xBounds = b
	p.touch()
	return nil
}

// SetDXBounds sets per-knot velocity bounds.
func (p *Problem) SetDXBounds(lower, upper []float64) error {
	b, err := boundsFromSlices("dx", p.n, lower, upper)
	if err != nil {
		return err
	}
	p.dxBounds = b
	p.touch()
	return nil
}

// SetDDXBounds sets per-knot acceleration bounds.
func (p *Problem) SetDDXBounds(lower, upper []float64) error {
	b, err := boundsFromSlices("ddx", p.n, lower, upper)
	if err != nil {
		return err
	}
	p.ddxBounds = b
	p.touch()
	return nil
}

// SetXBound applies one position range to every knot.
func (p *Problem) SetXBound(lo, hi float64) error {
	return p.setUniform("x", &p.xBounds, Bound{lo, hi})
}

// SetDXBound applies one velocity range to every knot.
func (p *Problem) SetDXBound(lo, hi float64) error {
	return p.setUniform("dx", &p.dxBounds, Bound{lo, hi})
}

// SetDDXBound applies one acceleration range to every knot.
func (p *Problem) SetDDXBound(lo, hi float64) error {
	return p.setUniform("ddx", &p.ddxBounds, Bound{lo, hi})
}

func (p *Problem) setUniform(what string, dst *[]Bound, b Bound) error {
	if err := b.validate(); err != nil {
		return invalidf("%s bound: %v", what, err)
	}
	*dst = uniformBounds(p.n, b)
	p.touch()
	return nil
}

// SetKnotBounds overrides the bounds of a single knot.
func (p *Problem) SetKnotBounds(k int, x, dx, ddx Bound) error {
	if k < 0 || k >= p.n {
		return invalidf("knot %d outside [0, %d)", k, p.n)
	}
	for _, c := range []struct {
		what string
		b    Bound
	}{{"x", x}, {"dx", dx}, {"ddx", ddx}} {
		if err := c.b.validate(); err != nil {
			return invalidf("%s bound at knot %d: %v", c.what, k, err)
		}
	}
	p.xBounds[k], p.dxBounds[k], p.ddxBounds[k] = x, dx, ddx
	p.touch()
	return nil
}

// SetDDDXBound limits the jerk between every pair of adjacent knots.
func (p *Problem) SetDDDXBound(lo, hi float64) error {
	b := Bound{lo, hi}
	if err := b.validate(); err != nil {
		return invalidf("dddx bound: %v", err)
	}
	p.dddxBound = b
	p.touch()
	return nil
}

// Bounds returns copies of the per-knot bounds.
func (p *Problem) Bounds() (x, dx, ddx []Bound) {
	return append([]Bound(nil), p.xBounds...),
		append([]Bound(nil), p.dxBounds...),
		append([]Bound(nil), p.ddxBounds...)
}

// SetWeightDDX sets the weight on squared acceleration.
func (p *Problem) SetWeightDDX(w float64) error {
	if err := checkWeight("ddx", w); err != nil {
		return err
	}
	p.weightDDX = w
	p.touch()
	return nil
}

// SetWeightDDDX sets the weight on squared jerk.
func (p *Problem) SetWeightDDDX(w float64) error {
	if err := checkWeight("dddx", w); err != nil {
		return err
	}
	p.weightDDDX = w
	p.touch()
	return nil
}

// SetEndState sets the soft terminal target and its per-component weights.
// A zero weight disables that component.
func (p *Problem) SetEndState(target, weights [3]float64) error {
	if !allFinite(target[:]) {
		return invalidf("end state %v is not finite", target)
	}
	for i, name := range []string{"end x", "end dx", "end ddx"} {
		if err := checkWeight(name, weights[i]); err != nil {
			return err
		}
	}
	p.endTarget, p.endWeights = target, weights
	p.touch()
	return nil
}

func (p *Problem) setEndWeight(i int, name string, w float64) error {
	if err := checkWeight(name, w); err != nil {
		return err
	}
	p.endWeights[i] = w
	p.touch()
	return nil
}

// SetSolver replaces the QP backend.
func (p *Problem) SetSolver(s qp.Solver) {
	if s == nil {
		s = qp.NewADMM()
	}
	p.solver = s
}

// SetSettings replaces the solver settings. Unset fields take defaults.
func (p *Problem) SetSettings(s qp.Settings) {
	p.settings = s.Normalize()
}

// Settings returns the solver settings in use.
func (p *Problem) Settings() qp.Settings { return p.settings }

// SetClock replaces the clock used to time solves.
func (p *Problem) SetClock(c timeutil.Clock) {
	if c == nil {
		c = timeutil.RealClock{}
	}
	p.clock = c
}

// Grid returns the configuration handed to cost models.
func (p *Problem) Grid() Grid {
	return Grid{
		N:          p.n,
		Delta:      p.delta,
		Init:       p.init,
		EndTarget:  p.endTarget,
		EndWeights: p.endWeights,
		WeightDDX:  p.weightDDX,
		WeightDDDX: p.weightDDDX,
	}
}

// Validate checks everything Solve needs before the solver is called.
func (p *Problem) Validate() error {
	for _, set := range []struct {
		what   string
		bounds []Bound
	}{{"x", p.xBounds}, {"dx", p.dxBounds}, {"ddx", p.ddxBounds}} {
		if len(set.bounds) != p.n {
			return invalidf("%s bounds cover %d knots, want %d", set.what, len(set.bounds), p.n)
		}
		for k, b := range set.bounds {
			if err := b.validate(); err != nil {
				return invalidf("%s bound at knot %d: %v", set.what, k, err)
			}
		}
	}
	if err := p.dddxBound.validate(); err != nil {
		return invalidf("dddx bound: %v", err)
	}
	for i, w := range []float64{p.weightDDX, p.weightDDDX, p.endWeights[0], p.endWeights[1], p.endWeights[2]} {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return invalidf("weight %d is %g", i, w)
		}
	}
	return nil
}

// Solve assembles the QP for cost, runs the solver and decodes the result.
// Every input is validated before the solver is called. On failure no
// profile is returned.
func (p *Problem) Solve(cost CostModel) (*Profile, error) {
	if cost == nil {
		p.state = StateFailed
		return nil, invalidf("nil cost model")
	}
	sl := newSolveLog(p.n)
	if err := p.Validate(); err != nil {
		p.state = StateFailed
		sl.printf(StreamOps, "rejected: %v", err)
		return nil, err
	}
	prob, err := p.assemble(cost)
	if err != nil {
		p.state = StateFailed
		sl.printf(StreamOps, "rejected: %v", err)
		return nil, err
	}
	p.warnInitOutsideBounds(sl)
	sl.printf(StreamTrace, "assembled vars=%d rows=%d P.nnz=%d A.nnz=%d",
		prob.NumVariables(), prob.NumConstraints(), prob.P.NNZ(), prob.A.NNZ())

	start := p.clock.Now()
	res, err := p.solver.Solve(prob, p.settings)
	elapsed := p.clock.Since(start)
	if err != nil {
		p.state = StateFailed
		sl.printf(StreamOps, "solver error: %v", err)
		return nil, &OptimizationError{Status: qp.StatusError, Err: err}
	}
	if res == nil {
		p.state = StateFailed
		return nil, &OptimizationError{Status: qp.StatusError, Err: errors.New("solver returned no result")}
	}
	if res.Status != qp.StatusSolved {
		p.state = StateFailed
		sl.printf(StreamOps, "failed status=%s iterations=%d elapsed=%s", res.Status, res.Iterations, elapsed)
		return nil, &OptimizationError{Status: res.Status, Iterations: res.Iterations}
	}
	if len(res.X) != 3*p.n {
		p.state = StateFailed
		return nil, &OptimizationError{
			Status: qp.StatusError,
			Err:    fmt.Errorf("solution has %d entries, want %d", len(res.X), 3*p.n),
		}
	}

	profile := p.decode(res.X)
	profile.Stats = Stats{
		Status:         res.Status,
		Iterations:     res.Iterations,
		Objective:      res.Objective,
		PrimalResidual: res.PrimalResidual,
		DualResidual:   res.DualResidual,
		Polished:       res.Polished,
		SolveTime:      elapsed,
	}
	p.state = StateSolved
	sl.printf(StreamDiag, "solved iterations=%d objective=%.6g polished=%t elapsed=%s",
		res.Iterations, res.Objective, res.Polished, elapsed)
	return profile, nil
}

// assemble builds the full QP. Nothing is reused from earlier solves.
func (p *Problem) assemble(cost CostModel) (*qp.Problem, error) {
	g := p.Grid()
	nv := g.NumVariables()

	kernel, err := cost.BuildKernel(g)
	if err != nil {
		return nil, fmt.Errorf("build kernel: %w", err)
	}
	if kernel == nil || kernel.Rows != nv || kernel.Cols != nv {
		return nil, invalidf("kernel must be %dx%d", nv, nv)
	}
	if err := kernel.Validate(); err != nil {
		return nil, invalidf("kernel: %v", err)
	}
	if !kernel.IsUpperTriangular() {
		return nil, invalidf("kernel must be upper triangular")
	}
	offset, err := cost.BuildOffset(g)
	if err != nil {
		return nil, fmt.Errorf("build offset: %w", err)
	}
	if len(offset) != nv {
		return nil, invalidf("offset has length %d, want %d", len(offset), nv)
	}
	if !allFinite(offset) {
		return nil, invalidf("offset is not finite")
	}

	a, l, u := p.constraints()
	return &qp.Problem{P: kernel, Q: offset, A: a, L: l, U: u}, nil
}

// constraints returns the constraint matrix and its row bounds. Rows are:
// 3N variable bounds, N−1 jerk limits, N−1 velocity continuity, N−1
// position continuity and 3 initial-state equalities.
func (p *Problem) constraints() (*qp.CSC, []float64, []float64) {
	n, ds := p.n, p.delta
	rows := 3*n + 3*(n-1) + 3
	tr := qp.NewTriplets(rows, 3*n)
	l := make([]float64, rows)
	u := make([]float64, rows)

	row := 0
	for k := 0; k < n; k++ {
		for _, c := range []struct {
			idx int
			b   Bound
		}{{XIndex(k), p.xBounds[k]}, {DXIndex(k), p.dxBounds[k]}, {DDXIndex(k), p.ddxBounds[k]}} {
			tr.Add(row, c.idx, 1)
			l[row], u[row] = c.b.clamped()
			row++
		}
	}

	// ddx(k+1) − ddx(k) = Δs·jerk(k)
	jlo, jhi := p.dddxBound.clamped()
	for k := 0; k+1 < n; k++ {
		tr.Add(row, DDXIndex(k), -1)
		tr.Add(row, DDXIndex(k+1), 1)
		l[row], u[row] = scaleBound(jlo, ds), scaleBound(jhi, ds)
		row++
	}

	// dx(k+1) = dx(k) + Δs/2·(ddx(k) + ddx(k+1))
	for k := 0; k+1 < n; k++ {
		tr.Add(row, DXIndex(k+1), 1)
		tr.Add(row, DXIndex(k), -1)
		tr.Add(row, DDXIndex(k), -ds/2)
		tr.Add(row, DDXIndex(k+1), -ds/2)
		row++
	}

	// x(k+1) = x(k) + Δs·dx(k) + Δs²/3·ddx(k) + Δs²/6·ddx(k+1)
	for k := 0; k+1 < n; k++ {
		tr.Add(row, XIndex(k+1), 1)
		tr.Add(row, XIndex(k), -1)
		tr.Add(row, DXIndex(k), -ds)
		tr.Add(row, DDXIndex(k), -ds*ds/3)
		tr.Add(row, DDXIndex(k+1), -ds*ds/6)
		row++
	}

	for c, idx := range [3]int{XIndex(0), DXIndex(0), DDXIndex(0)} {
		tr.Add(row, idx, 1)
		l[row], u[row] = p.init[c], p.init[c]
		row++
	}
	return tr.CSC(), l, u
}

// scaleBound multiplies a jerk bound by Δs, keeping the infinity sentinel.
func scaleBound(v, ds float64) float64 {
	if math.Abs(v) >= qp.Infinity {
		return v
	}
	return v * ds
}

func (p *Problem) decode(x []float64) *Profile {
	out := &Profile{
		X:   make([]float64, p.n),
		DX:  make([]float64, p.n),
		DDX: make([]float64, p.n),
	}
	for k := 0; k < p.n; k++ {
		out.X[k] = x[XIndex(k)]
		out.DX[k] = x[DXIndex(k)]
		out.DDX[k] = x[DDXIndex(k)]
	}
	return out
}

func (p *Problem) warnInitOutsideBounds(sl solveLog) {
	for c, b := range []Bound{p.xBounds[0], p.dxBounds[0], p.ddxBounds[0]} {
		if !b.contains(p.init[c]) {
			sl.printf(StreamOps, "initial state component %d = %g lies outside knot 0 bound [%g, %g]", c, p.init[c], b.Lower, b.Upper)
		}
	}
}

func checkWeight(name string, w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return invalidf("%s weight %g must be finite and non-negative", name, w)
	}
	return nil
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
