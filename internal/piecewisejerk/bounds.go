package piecewisejerk

import (
	"fmt"
	"math"

	"github.com/banshee-data/speedplan/internal/qp"
)

// Bound is a closed admissible range. Use math.Inf for an open side.
type Bound struct {
	Lower float64
	Upper float64
}

// Unbounded returns (−∞, +∞).
func Unbounded() Bound {
	return Bound{Lower: math.Inf(-1), Upper: math.Inf(1)}
}

func (b Bound) validate() error {
	if math.IsNaN(b.Lower) || math.IsNaN(b.Upper) {
		return fmt.Errorf("bound [%g, %g] contains NaN", b.Lower, b.Upper)
	}
	if b.Lower > b.Upper {
		return fmt.Errorf("lower bound %g exceeds upper bound %g", b.Lower, b.Upper)
	}
	return nil
}

// contains reports whether v lies inside b.
func (b Bound) contains(v float64) bool {
	return v >= b.Lower && v <= b.Upper
}

// clamped maps infinite sides onto the solver's ±qp.Infinity sentinel.
func (b Bound) clamped() (lo, hi float64) {
	return math.Max(b.Lower, -qp.Infinity), math.Min(b.Upper, qp.Infinity)
}

func uniformBounds(n int, b Bound) []Bound {
	out := make([]Bound, n)
	for i := range out {
		out[i] = b
	}
	return out
}

// boundsFromSlices pairs lower and upper into per-knot bounds.
func boundsFromSlices(what string, n int, lower, upper []float64) ([]Bound, error) {
	if len(lower) != n || len(upper) != n {
		return nil, invalidf("%s bounds have lengths %d/%d, want %d", what, len(lower), len(upper), n)
	}
	out := make([]Bound, n)
	for k := 0; k < n; k++ {
		b := Bound{Lower: lower[k], Upper: upper[k]}
		if err := b.validate(); err != nil {
			return nil, invalidf("%s bound at knot %d: %v", what, k, err)
		}
		out[k] = b
	}
	return out, nil
}
