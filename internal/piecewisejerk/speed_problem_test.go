package piecewisejerk

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedplan/internal/qp"
)

// scenarioProblem is the five-knot cruise used by several tests: start at
// 5 m/s with x∈[0,100], dx∈[0,20] and ddx∈[-4,2] at every knot.
func scenarioProblem(t *testing.T) *SpeedProblem {
	t.Helper()
	sp, err := NewSpeedProblem(5, 0.5, [3]float64{0, 5, 0}, [3]float64{})
	require.NoError(t, err)
	require.NoError(t, sp.SetXBound(0, 100))
	require.NoError(t, sp.SetDXBound(0, 20))
	require.NoError(t, sp.SetDDXBound(-4, 2))
	sp.SetSettings(tightSettings())
	return sp
}

func TestSpeedProblem_Scenario(t *testing.T) {
	t.Parallel()

	sp := scenarioProblem(t)
	prof, err := sp.Solve()
	require.NoError(t, err)
	assertContinuity(t, prof, 0.5)

	for k := range prof.DX {
		assert.LessOrEqual(t, prof.DDX[k], 2+1e-6, "ddx at knot %d", k)
		assert.GreaterOrEqual(t, prof.DDX[k], -4-1e-6, "ddx at knot %d", k)
		assert.InDelta(t, 5.0, prof.DX[k], 1e-4, "nothing pulls the speed away from 5 m/s")
	}
	for k := 0; k+1 < len(prof.DX); k++ {
		// Forward integration of ddx ≤ 2 caps the speed gain per knot.
		assert.LessOrEqual(t, prof.DX[k+1]-prof.DX[k], 2*0.5+1e-6)
		assert.GreaterOrEqual(t, prof.DX[k+1], prof.DX[k]-1e-4)
	}
}

func TestSpeedProblem_TightenedKnot(t *testing.T) {
	t.Parallel()

	sp := scenarioProblem(t)
	require.NoError(t, sp.SetKnotBounds(2, Bound{0, 100}, Bound{0, 3}, Bound{-4, 2}))
	require.NoError(t, sp.SetXReference(1, []float64{0, 2.5, 5, 7.5, 10}))

	prof, err := sp.Solve()
	require.NoError(t, err)
	assertContinuity(t, prof, 0.5)
	assert.LessOrEqual(t, prof.DX[2], 3+1e-6)
	assert.InDelta(t, 5.0, prof.DX[0], 1e-6)
	for k := range prof.DDX {
		assert.GreaterOrEqual(t, prof.DDX[k], -4-1e-6, "ddx at knot %d", k)
		assert.LessOrEqual(t, prof.DDX[k], 2+1e-6, "ddx at knot %d", k)
	}
	// Braking for knot 2 must start right away.
	assert.Less(t, prof.DX[1], 5.0)
}

func TestSpeedProblem_EndWeightMonotonic(t *testing.T) {
	t.Parallel()

	const n, ds, target = 20, 0.5, 60.0
	var prev = math.Inf(1)
	for _, w := range []float64{0.01, 0.1, 1, 10} {
		sp, err := NewSpeedProblem(n, ds, [3]float64{0, 5, 0}, [3]float64{target, 0, 0})
		require.NoError(t, err)
		require.NoError(t, sp.SetDXBound(0, 20))
		require.NoError(t, sp.SetDDXBound(-4, 2))
		require.NoError(t, sp.SetWeightXEnd(w))
		sp.SetSettings(tightSettings())

		prof, err := sp.Solve()
		require.NoError(t, err, "weight %g", w)
		dev := math.Abs(prof.X[n-1] - target)
		assert.Less(t, dev, prev, "weight %g should reduce the terminal deviation", w)
		prev = dev
	}
}

func TestSpeedProblem_ZeroEndWeightIgnoresTarget(t *testing.T) {
	t.Parallel()

	solve := func(end [3]float64) *Profile {
		sp, err := NewSpeedProblem(8, 0.5, [3]float64{0, 5, 0}, end)
		require.NoError(t, err)
		require.NoError(t, sp.SetDXReference(1, 8))
		require.NoError(t, sp.SetWeightXEnd(0))
		sp.SetSettings(tightSettings())
		prof, err := sp.Solve()
		require.NoError(t, err)
		return prof
	}
	a := solve([3]float64{10, 1, 0})
	b := solve([3]float64{500, -3, 2})

	opt := cmpopts.EquateApprox(0, 1e-12)
	if diff := cmp.Diff(a.X, b.X, opt); diff != "" {
		t.Errorf("x differs (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff(a.DX, b.DX, opt); diff != "" {
		t.Errorf("dx differs (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff(a.DDX, b.DDX, opt); diff != "" {
		t.Errorf("ddx differs (-a +b):\n%s", diff)
	}
}

func TestSpeedProblem_XReferenceLengthMismatch(t *testing.T) {
	t.Parallel()

	sp, err := NewSpeedProblem(5, 0.5, [3]float64{}, [3]float64{})
	require.NoError(t, err)
	before, err := sp.BuildKernel(sp.Grid())
	require.NoError(t, err)

	for _, ref := range [][]float64{{1, 2, 3, 4}, {1, 2, 3, 4, 5, 6}, nil} {
		err := sp.SetXReference(1, ref)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
	assert.ErrorIs(t, sp.SetXReference(-1, make([]float64, 5)), ErrInvalidArgument)
	assert.ErrorIs(t, sp.SetXReference(1, []float64{0, 0, math.Inf(1), 0, 0}), ErrInvalidArgument)
	assert.Nil(t, sp.xRef)
	assert.Equal(t, StateUnconfigured, sp.State())

	after, err := sp.BuildKernel(sp.Grid())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSpeedProblem_FirstOrderPenaltyValidation(t *testing.T) {
	t.Parallel()

	sp, err := NewSpeedProblem(3, 0.5, [3]float64{}, [3]float64{})
	require.NoError(t, err)
	assert.ErrorIs(t, sp.SetFirstOrderPenalty([]float64{1, 1}), ErrInvalidArgument)
	assert.ErrorIs(t, sp.SetFirstOrderPenalty([]float64{1, -1, 1}), ErrInvalidArgument)
	assert.ErrorIs(t, sp.SetDXReference(-2, 1), ErrInvalidArgument)
	assert.ErrorIs(t, sp.SetDXReference(1, math.NaN()), ErrInvalidArgument)
	assert.ErrorIs(t, sp.SetWeightXEnd(-1), ErrInvalidArgument)
	assert.ErrorIs(t, sp.SetWeightDXEnd(math.NaN()), ErrInvalidArgument)
	assert.ErrorIs(t, sp.SetWeightDDXEnd(-0.5), ErrInvalidArgument)
}

func TestSpeedProblem_KernelEntries(t *testing.T) {
	t.Parallel()

	const ds = 0.5
	sp, err := NewSpeedProblem(3, ds, [3]float64{}, [3]float64{30, 6, 0.5})
	require.NoError(t, err)
	require.NoError(t, sp.SetXReference(2, []float64{1, 2, 3}))
	require.NoError(t, sp.SetDXReference(3, 10))
	require.NoError(t, sp.SetFirstOrderPenalty([]float64{0, 1, 2}))
	require.NoError(t, sp.SetWeightDDX(0.5))
	require.NoError(t, sp.SetWeightXEnd(4))
	require.NoError(t, sp.SetWeightDXEnd(5))
	require.NoError(t, sp.SetWeightDDXEnd(6))

	g := sp.Grid()
	p, err := sp.BuildKernel(g)
	require.NoError(t, err)
	require.True(t, p.IsUpperTriangular())

	jerk := 2 * 1.0 / (ds * ds)
	assert.InDelta(t, jerk+1, p.At(DDXIndex(0), DDXIndex(0)), 1e-12)
	assert.InDelta(t, 2*jerk+1, p.At(DDXIndex(1), DDXIndex(1)), 1e-12)
	assert.InDelta(t, jerk+1+12, p.At(DDXIndex(2), DDXIndex(2)), 1e-12)
	assert.InDelta(t, -jerk, p.At(DDXIndex(0), DDXIndex(1)), 1e-12)
	assert.InDelta(t, -jerk, p.At(DDXIndex(1), DDXIndex(2)), 1e-12)
	assert.Equal(t, 0.0, p.At(DDXIndex(0), DDXIndex(2)))

	assert.Equal(t, 4.0, p.At(XIndex(0), XIndex(0)))
	assert.Equal(t, 4.0+8, p.At(XIndex(2), XIndex(2)))
	assert.Equal(t, 0.0, p.At(DXIndex(0), DXIndex(0)), "zero penalty removes the dx term")
	assert.Equal(t, 6.0, p.At(DXIndex(1), DXIndex(1)))
	assert.Equal(t, 12.0+10, p.At(DXIndex(2), DXIndex(2)))

	q, err := sp.BuildOffset(g)
	require.NoError(t, err)
	assert.Equal(t, -4.0, q[XIndex(0)])
	assert.Equal(t, -8.0, q[XIndex(1)])
	assert.Equal(t, -12.0-2*4*30, q[XIndex(2)])
	assert.Equal(t, 0.0, q[DXIndex(0)])
	assert.Equal(t, -60.0, q[DXIndex(1)])
	assert.Equal(t, -120.0-2*5*6, q[DXIndex(2)])
	assert.Equal(t, -2*6*0.5, q[DDXIndex(2)])
	assert.Equal(t, 0.0, q[DDXIndex(0)])
}

func TestSpeedProblem_EmptyPenaltyMeansUniformOne(t *testing.T) {
	t.Parallel()

	build := func(penalty []float64) (*qp.CSC, []float64) {
		sp, err := NewSpeedProblem(4, 0.5, [3]float64{}, [3]float64{})
		require.NoError(t, err)
		require.NoError(t, sp.SetDXReference(3, 10))
		require.NoError(t, sp.SetFirstOrderPenalty(penalty))
		p, err := sp.BuildKernel(sp.Grid())
		require.NoError(t, err)
		q, err := sp.BuildOffset(sp.Grid())
		require.NoError(t, err)
		return p, q
	}

	pEmpty, qEmpty := build(nil)
	pOnes, qOnes := build([]float64{1, 1, 1, 1})
	assert.Equal(t, pOnes, pEmpty)
	assert.Equal(t, qOnes, qEmpty)
	for k := 0; k < 4; k++ {
		assert.Equal(t, 6.0, pEmpty.At(DXIndex(k), DXIndex(k)))
		assert.Equal(t, -60.0, qEmpty[DXIndex(k)])
	}

	// Clearing a previously set penalty restores the default.
	sp, err := NewSpeedProblem(4, 0.5, [3]float64{}, [3]float64{})
	require.NoError(t, err)
	require.NoError(t, sp.SetDXReference(3, 10))
	require.NoError(t, sp.SetFirstOrderPenalty([]float64{0, 0, 0, 0}))
	require.NoError(t, sp.SetFirstOrderPenalty([]float64{}))
	q, err := sp.BuildOffset(sp.Grid())
	require.NoError(t, err)
	assert.Equal(t, qEmpty, q)
}

func TestSpeedProblem_KernelIsPSD(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                        string
		ddx, dddx, xref, dxref, end float64
	}{
		{"jerk only", 0, 1, 0, 0, 0},
		{"all zero", 0, 0, 0, 0, 0},
		{"everything", 0.3, 2, 1.5, 4, 10},
		{"heavy jerk", 0, 1000, 0.01, 0.01, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sp, err := NewSpeedProblem(12, 0.2, [3]float64{}, [3]float64{50, 10, 0})
			require.NoError(t, err)
			require.NoError(t, sp.SetWeightDDX(tt.ddx))
			require.NoError(t, sp.SetWeightDDDX(tt.dddx))
			ref := make([]float64, 12)
			for k := range ref {
				ref[k] = float64(k)
			}
			require.NoError(t, sp.SetXReference(tt.xref, ref))
			require.NoError(t, sp.SetDXReference(tt.dxref, 10))
			require.NoError(t, sp.SetFirstOrderPenalty([]float64{0, 1, 2, 3, 1, 1, 1, 1, 1, 1, 0.5, 0}))
			require.NoError(t, sp.SetWeightXEnd(tt.end))
			require.NoError(t, sp.SetWeightDXEnd(tt.end))
			require.NoError(t, sp.SetWeightDDXEnd(tt.end))

			p, err := sp.BuildKernel(sp.Grid())
			require.NoError(t, err)
			psd, err := qp.IsPositiveSemidefinite(p, 1e-9)
			require.NoError(t, err)
			assert.True(t, psd)
		})
	}
}

func TestSpeedProblem_TracksSpeedReference(t *testing.T) {
	t.Parallel()

	const n = 30
	sp, err := NewSpeedProblem(n, 0.2, [3]float64{0, 5, 0}, [3]float64{})
	require.NoError(t, err)
	require.NoError(t, sp.SetDXReference(10, 8))
	require.NoError(t, sp.SetDDXBound(-4, 2))
	sp.SetSettings(tightSettings())

	prof, err := sp.Solve()
	require.NoError(t, err)
	assertContinuity(t, prof, 0.2)
	assert.Greater(t, prof.DX[n-1], 6.0)
	assert.LessOrEqual(t, prof.DX[n-1], 9.0)
}
