// Package qp defines the boundary between problem builders and sparse
// quadratic program solvers, and ships an ADMM backend.
//
// A Problem has the form
//
//	minimize    ½ xᵀPx + qᵀx
//	subject to  l ≤ Ax ≤ u
//
// where P is symmetric positive semi-definite and stored as its upper
// triangle in compressed sparse column form. Variable bounds are expressed as
// identity rows of A.
package qp

import (
	"fmt"
	"math"
)

// Infinity is the magnitude at or above which a bound is treated as absent.
const Infinity = 1e30

// Status is the outcome reported by a solver.
type Status int

const (
	StatusSolved Status = iota + 1
	StatusMaxIterations
	StatusInfeasible
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSolved:
		return "solved"
	case StatusMaxIterations:
		return "max_iterations"
	case StatusInfeasible:
		return "infeasible"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Problem is a QP in solver-agnostic form.
type Problem struct {
	P *CSC      // n×n, upper triangle only
	Q []float64 // n
	A *CSC      // m×n
	L []float64 // m, values ≤ -Infinity mean unbounded below
	U []float64 // m, values ≥ Infinity mean unbounded above
}

// NumVariables returns n.
func (p *Problem) NumVariables() int { return p.P.Cols }

// NumConstraints returns m.
func (p *Problem) NumConstraints() int { return p.A.Rows }

// Validate checks dimensions, encodings and bound ordering.
func (p *Problem) Validate() error {
	if p.P == nil || p.A == nil {
		return fmt.Errorf("qp: problem requires both P and A")
	}
	if err := p.P.Validate(); err != nil {
		return fmt.Errorf("kernel: %w", err)
	}
	if err := p.A.Validate(); err != nil {
		return fmt.Errorf("constraints: %w", err)
	}
	n := p.P.Cols
	if p.P.Rows != n {
		return fmt.Errorf("qp: kernel must be square, got %dx%d", p.P.Rows, p.P.Cols)
	}
	if !p.P.IsUpperTriangular() {
		return fmt.Errorf("qp: kernel must be stored as an upper triangle")
	}
	if p.A.Cols != n {
		return fmt.Errorf("qp: constraint matrix has %d columns, want %d", p.A.Cols, n)
	}
	if len(p.Q) != n {
		return fmt.Errorf("qp: offset has length %d, want %d", len(p.Q), n)
	}
	m := p.A.Rows
	if len(p.L) != m || len(p.U) != m {
		return fmt.Errorf("qp: bounds have lengths %d/%d, want %d", len(p.L), len(p.U), m)
	}
	for i := 0; i < m; i++ {
		if math.IsNaN(p.L[i]) || math.IsNaN(p.U[i]) {
			return fmt.Errorf("qp: row %d has NaN bound", i)
		}
		if p.L[i] > p.U[i] {
			return fmt.Errorf("qp: row %d has lower bound %g above upper bound %g", i, p.L[i], p.U[i])
		}
	}
	for j, v := range p.Q {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("qp: offset entry %d is not finite", j)
		}
	}
	return nil
}

// Objective evaluates ½ xᵀPx + qᵀx.
func (p *Problem) Objective(x []float64) float64 {
	px := make([]float64, len(x))
	p.P.SymMulVec(px, x)
	var obj float64
	for i := range x {
		obj += 0.5*x[i]*px[i] + p.Q[i]*x[i]
	}
	return obj
}

// Settings configures a solve. Zero values are replaced by DefaultSettings
// when passed through Normalize.
type Settings struct {
	MaxIter             int
	EpsAbs              float64
	EpsRel              float64
	EpsPrimInf          float64
	Rho                 float64
	Sigma               float64
	Alpha               float64
	AdaptiveRho         bool
	AdaptiveRhoInterval int
	Polish              bool
	CheckTermination    int
}

// DefaultSettings returns the settings used by the planner when no tuning
// file overrides them.
func DefaultSettings() Settings {
	return Settings{
		MaxIter:             4000,
		EpsAbs:              1e-5,
		EpsRel:              1e-5,
		EpsPrimInf:          1e-6,
		Rho:                 0.1,
		Sigma:               1e-6,
		Alpha:               1.6,
		AdaptiveRho:         true,
		AdaptiveRhoInterval: 25,
		Polish:              true,
		CheckTermination:    5,
	}
}

// Normalize fills unset fields from DefaultSettings.
func (s Settings) Normalize() Settings {
	d := DefaultSettings()
	if s.MaxIter <= 0 {
		s.MaxIter = d.MaxIter
	}
	if s.EpsAbs <= 0 {
		s.EpsAbs = d.EpsAbs
	}
	if s.EpsRel <= 0 {
		s.EpsRel = d.EpsRel
	}
	if s.EpsPrimInf <= 0 {
		s.EpsPrimInf = d.EpsPrimInf
	}
	if s.Rho <= 0 {
		s.Rho = d.Rho
	}
	if s.Sigma <= 0 {
		s.Sigma = d.Sigma
	}
	if s.Alpha <= 0 || s.Alpha >= 2 {
		s.Alpha = d.Alpha
	}
	if s.AdaptiveRhoInterval <= 0 {
		s.AdaptiveRhoInterval = d.AdaptiveRhoInterval
	}
	if s.CheckTermination <= 0 {
		s.CheckTermination = d.CheckTermination
	}
	return s
}

// Result is what a solver hands back. X is only meaningful when Status is
// StatusSolved.
type Result struct {
	Status         Status
	X              []float64
	Y              []float64
	Iterations     int
	Objective      float64
	PrimalResidual float64
	DualResidual   float64
	Polished       bool
}

// Solver solves a QP. Implementations must not retain p after returning.
// The error return is reserved for malformed input; numerical failure is
// reported through Result.Status.
type Solver interface {
	Solve(p *Problem, s Settings) (*Result, error)
}

// SolverFunc adapts a function to the Solver interface.
type SolverFunc func(p *Problem, s Settings) (*Result, error)

// Solve calls f.
func (f SolverFunc) Solve(p *Problem, s Settings) (*Result, error) {
	return f(p, s)
}
