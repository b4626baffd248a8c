package piecewisejerk

import (
	"github.com/banshee-data/speedplan/internal/qp"
)

// XIndex returns the variable index of x at knot k.
func XIndex(k int) int { return 3 * k }

// DXIndex returns the variable index of dx at knot k.
func DXIndex(k int) int { return 3*k + 1 }

// DDXIndex returns the variable index of ddx at knot k.
func DDXIndex(k int) int { return 3*k + 2 }

// Grid is the part of a Problem's configuration a CostModel may read: the
// knot layout plus the smoothness and end-state terms every profile shares.
type Grid struct {
	N     int
	Delta float64

	Init       [3]float64
	EndTarget  [3]float64
	EndWeights [3]float64

	WeightDDX  float64
	WeightDDDX float64
}

// NumVariables returns 3N.
func (g Grid) NumVariables() int { return 3 * g.N }

// CostModel supplies the quadratic cost ½ xᵀPx + qᵀx of a profile.
//
// BuildKernel returns P as an upper-triangular 3N×3N CSC matrix and must be
// positive semi-definite. BuildOffset returns q with length 3N.
type CostModel interface {
	BuildKernel(g Grid) (*qp.CSC, error)
	BuildOffset(g Grid) ([]float64, error)
}

// addSmoothnessKernel adds the jerk, acceleration magnitude and end-state
// terms shared by every profile. A weighted square w·(v − r)² contributes 2w
// to the kernel.
func addSmoothnessKernel(tr *qp.Triplets, g Grid) {
	if g.WeightDDDX > 0 {
		c := 2 * g.WeightDDDX / (g.Delta * g.Delta)
		for k := 0; k+1 < g.N; k++ {
			a, b := DDXIndex(k), DDXIndex(k+1)
			tr.Add(a, a, c)
			tr.Add(b, b, c)
			tr.Add(a, b, -c)
		}
	}
	if g.WeightDDX > 0 {
		for k := 0; k < g.N; k++ {
			i := DDXIndex(k)
			tr.Add(i, i, 2*g.WeightDDX)
		}
	}
	last := g.N - 1
	for c, idx := range [3]int{XIndex(last), DXIndex(last), DDXIndex(last)} {
		if w := g.EndWeights[c]; w > 0 {
			tr.Add(idx, idx, 2*w)
		}
	}
}

// addEndStateOffset adds −2·w·target for each weighted end-state component.
func addEndStateOffset(q []float64, g Grid) {
	last := g.N - 1
	for c, idx := range [3]int{XIndex(last), DXIndex(last), DDXIndex(last)} {
		if w := g.EndWeights[c]; w > 0 {
			q[idx] += -2 * w * g.EndTarget[c]
		}
	}
}
