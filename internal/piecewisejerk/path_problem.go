package piecewisejerk

import (
	"fmt"

	"github.com/banshee-data/speedplan/internal/qp"
)

// PathProblem plans a lateral offset profile over station: x is the offset
// from the reference line, dx its heading-like first derivative and ddx its
// curvature-like second derivative.
//
// The cost keeps the profile close to the reference line (weights on x, dx
// and ddx magnitudes) and optionally pulls it toward a per-knot target
// offset with per-knot weights.
type PathProblem struct {
	*Problem

	weightX  float64
	weightDX float64

	xRef        []float64
	xRefWeights []float64
}

var _ CostModel = (*PathProblem)(nil)

// NewPathProblem returns a path problem with end as the terminal target.
func NewPathProblem(n int, delta float64, init, end [3]float64) (*PathProblem, error) {
	base, err := NewProblem(n, delta, init)
	if err != nil {
		return nil, err
	}
	if err := base.SetEndState(end, [3]float64{}); err != nil {
		return nil, err
	}
	base.state = StateUnconfigured
	return &PathProblem{Problem: base}, nil
}

// SetWeightX sets the weight on squared offset.
func (p *PathProblem) SetWeightX(w float64) error {
	if err := checkWeight("x", w); err != nil {
		return err
	}
	p.weightX = w
	p.touch()
	return nil
}

// SetWeightDX sets the weight on the squared first derivative.
func (p *PathProblem) SetWeightDX(w float64) error {
	if err := checkWeight("dx", w); err != nil {
		return err
	}
	p.weightDX = w
	p.touch()
	return nil
}

// SetXReference pulls knot k toward ref[k] with weights[k]. Both slices
// need one entry per knot.
func (p *PathProblem) SetXReference(weights, ref []float64) error {
	if len(ref) != p.n || len(weights) != p.n {
		return invalidf("x reference has %d values and %d weights, want %d", len(ref), len(weights), p.n)
	}
	if !allFinite(ref) {
		return invalidf("x reference is not finite")
	}
	for k, w := range weights {
		if err := checkWeight(fmt.Sprintf("knot %d x reference", k), w); err != nil {
			return err
		}
	}
	p.xRef = append([]float64(nil), ref...)
	p.xRefWeights = append([]float64(nil), weights...)
	p.touch()
	return nil
}

// SetWeightXEnd sets the terminal offset weight.
func (p *PathProblem) SetWeightXEnd(w float64) error { return p.setEndWeight(0, "end x", w) }

// SetWeightDXEnd sets the terminal first derivative weight.
func (p *PathProblem) SetWeightDXEnd(w float64) error { return p.setEndWeight(1, "end dx", w) }

// SetWeightDDXEnd sets the terminal second derivative weight.
func (p *PathProblem) SetWeightDDXEnd(w float64) error { return p.setEndWeight(2, "end ddx", w) }

// Solve solves the problem with p as its own cost model.
func (p *PathProblem) Solve() (*Profile, error) {
	return p.Problem.Solve(p)
}

// BuildKernel implements CostModel.
func (p *PathProblem) BuildKernel(g Grid) (*qp.CSC, error) {
	if g.N != p.n {
		return nil, invalidf("grid has %d knots, path problem has %d", g.N, p.n)
	}
	nv := g.NumVariables()
	tr := qp.NewTriplets(nv, nv)
	addSmoothnessKernel(tr, g)
	for k := 0; k < g.N; k++ {
		w := p.weightX
		if p.xRefWeights != nil {
			w += p.xRefWeights[k]
		}
		if w > 0 {
			tr.Add(XIndex(k), XIndex(k), 2*w)
		}
		if p.weightDX > 0 {
			tr.Add(DXIndex(k), DXIndex(k), 2*p.weightDX)
		}
	}
	return tr.CSC(), nil
}

// BuildOffset implements CostModel.
func (p *PathProblem) BuildOffset(g Grid) ([]float64, error) {
	if g.N != p.n {
		return nil, invalidf("grid has %d knots, path problem has %d", g.N, p.n)
	}
	q := make([]float64, g.NumVariables())
	if p.xRef != nil {
		for k := 0; k < g.N; k++ {
			q[XIndex(k)] += -2 * p.xRefWeights[k] * p.xRef[k]
		}
	}
	addEndStateOffset(q, g)
	return q, nil
}
