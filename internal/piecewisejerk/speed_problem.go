package piecewisejerk

import (
	"fmt"

	"github.com/banshee-data/speedplan/internal/qp"
)

type xReference struct {
	weight float64
	values []float64
}

type dxReference struct {
	weight float64
	value  float64
}

// SpeedProblem plans a longitudinal speed profile: x is distance travelled,
// dx speed and ddx acceleration over a uniform time grid.
//
// On top of the shared jerk, acceleration and end-state terms it supports an
// optional per-knot position reference and an optional cruise speed
// reference whose weight can be modulated per knot.
type SpeedProblem struct {
	*Problem

	xRef      *xReference
	dxRef     *dxReference
	penaltyDX []float64 // nil means a multiplier of 1 at every knot
}

var _ CostModel = (*SpeedProblem)(nil)

// NewSpeedProblem returns a speed problem with end as the terminal target.
// End-state weights start at zero, so end only matters once a weight is set.
func NewSpeedProblem(n int, delta float64, init, end [3]float64) (*SpeedProblem, error) {
	base, err := NewProblem(n, delta, init)
	if err != nil {
		return nil, err
	}
	if err := base.SetEndState(end, [3]float64{}); err != nil {
		return nil, err
	}
	base.state = StateUnconfigured
	return &SpeedProblem{Problem: base}, nil
}

// SetXReference tracks ref with the given weight. ref must have one entry
// per knot. On error nothing is changed.
func (s *SpeedProblem) SetXReference(weight float64, ref []float64) error {
	if err := checkWeight("x reference", weight); err != nil {
		return err
	}
	if len(ref) != s.n {
		return invalidf("x reference has %d entries, want %d", len(ref), s.n)
	}
	if !allFinite(ref) {
		return invalidf("x reference is not finite")
	}
	s.xRef = &xReference{weight: weight, values: append([]float64(nil), ref...)}
	s.touch()
	return nil
}

// ClearXReference removes the position reference term.
func (s *SpeedProblem) ClearXReference() {
	s.xRef = nil
	s.touch()
}

// SetDXReference tracks a constant speed with the given weight.
func (s *SpeedProblem) SetDXReference(weight, value float64) error {
	if err := checkWeight("dx reference", weight); err != nil {
		return err
	}
	if !allFinite([]float64{value}) {
		return invalidf("dx reference %g is not finite", value)
	}
	s.dxRef = &dxReference{weight: weight, value: value}
	s.touch()
	return nil
}

// ClearDXReference removes the speed reference term.
func (s *SpeedProblem) ClearDXReference() {
	s.dxRef = nil
	s.touch()
}

// SetFirstOrderPenalty scales the speed reference weight per knot. A
// non-empty perKnot must hold exactly one non-negative multiplier per knot.
// A nil or empty slice is not a length error: it resets every knot to the
// uniform multiplier of 1, which is also the value before any call.
func (s *SpeedProblem) SetFirstOrderPenalty(perKnot []float64) error {
	if len(perKnot) == 0 {
		s.penaltyDX = nil
		s.touch()
		return nil
	}
	if len(perKnot) != s.n {
		return invalidf("first order penalty has %d entries, want %d", len(perKnot), s.n)
	}
	for k, w := range perKnot {
		if err := checkWeight(fmt.Sprintf("knot %d first order penalty", k), w); err != nil {
			return err
		}
	}
	s.penaltyDX = append([]float64(nil), perKnot...)
	s.touch()
	return nil
}

// SetWeightXEnd sets the terminal position weight.
func (s *SpeedProblem) SetWeightXEnd(w float64) error { return s.setEndWeight(0, "end x", w) }

// SetWeightDXEnd sets the terminal speed weight.
func (s *SpeedProblem) SetWeightDXEnd(w float64) error { return s.setEndWeight(1, "end dx", w) }

// SetWeightDDXEnd sets the terminal acceleration weight.
func (s *SpeedProblem) SetWeightDDXEnd(w float64) error { return s.setEndWeight(2, "end ddx", w) }

// Solve solves the problem with s as its own cost model.
func (s *SpeedProblem) Solve() (*Profile, error) {
	return s.Problem.Solve(s)
}

func (s *SpeedProblem) penalty(k int) float64 {
	if s.penaltyDX == nil {
		return 1.0
	}
	return s.penaltyDX[k]
}

// BuildKernel implements CostModel.
func (s *SpeedProblem) BuildKernel(g Grid) (*qp.CSC, error) {
	if err := s.checkGrid(g); err != nil {
		return nil, err
	}
	nv := g.NumVariables()
	tr := qp.NewTriplets(nv, nv)
	addSmoothnessKernel(tr, g)

	if r := s.xRef; r != nil && r.weight > 0 {
		for k := 0; k < g.N; k++ {
			tr.Add(XIndex(k), XIndex(k), 2*r.weight)
		}
	}
	if r := s.dxRef; r != nil && r.weight > 0 {
		for k := 0; k < g.N; k++ {
			if w := r.weight * s.penalty(k); w > 0 {
				tr.Add(DXIndex(k), DXIndex(k), 2*w)
			}
		}
	}
	return tr.CSC(), nil
}

// BuildOffset implements CostModel.
func (s *SpeedProblem) BuildOffset(g Grid) ([]float64, error) {
	if err := s.checkGrid(g); err != nil {
		return nil, err
	}
	q := make([]float64, g.NumVariables())
	if r := s.xRef; r != nil && r.weight > 0 {
		for k := 0; k < g.N; k++ {
			q[XIndex(k)] += -2 * r.weight * r.values[k]
		}
	}
	if r := s.dxRef; r != nil && r.weight > 0 {
		for k := 0; k < g.N; k++ {
			q[DXIndex(k)] += -2 * r.weight * s.penalty(k) * r.value
		}
	}
	addEndStateOffset(q, g)
	return q, nil
}

func (s *SpeedProblem) checkGrid(g Grid) error {
	if g.N != s.n {
		return invalidf("grid has %d knots, speed problem has %d", g.N, s.n)
	}
	return nil
}
