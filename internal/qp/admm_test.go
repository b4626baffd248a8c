package qp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// demoProblem is the two-variable QP
//
//	minimize  2x² + xy + y² + x + y
//	s.t.      x + y = 1, 0 ≤ x ≤ 0.7, 0 ≤ y ≤ 0.7
//
// whose optimum is (0.3, 0.7) with objective 1.88.
func demoProblem() *Problem {
	p := NewTriplets(2, 2)
	p.Add(0, 0, 4)
	p.Add(0, 1, 1)
	p.Add(1, 1, 2)

	a := NewTriplets(3, 2)
	a.Add(0, 0, 1)
	a.Add(0, 1, 1)
	a.Add(1, 0, 1)
	a.Add(2, 1, 1)

	return &Problem{
		P: p.CSC(),
		Q: []float64{1, 1},
		A: a.CSC(),
		L: []float64{1, 0, 0},
		U: []float64{1, 0.7, 0.7},
	}
}

func TestADMM_SolvesDemoProblem(t *testing.T) {
	t.Parallel()

	for _, polish := range []bool{false, true} {
		s := DefaultSettings()
		s.Polish = polish
		res, err := NewADMM().Solve(demoProblem(), s)
		require.NoError(t, err)
		require.Equal(t, StatusSolved, res.Status, "polish=%v", polish)

		assert.InDelta(t, 0.3, res.X[0], 1e-3)
		assert.InDelta(t, 0.7, res.X[1], 1e-3)
		assert.InDelta(t, 1.88, res.Objective, 1e-3)
		assert.Positive(t, res.Iterations)
		assert.Len(t, res.Y, 3)
	}
}

func TestADMM_PolishTightensSolution(t *testing.T) {
	t.Parallel()

	res, err := NewADMM().Solve(demoProblem(), DefaultSettings())
	require.NoError(t, err)
	require.Equal(t, StatusSolved, res.Status)
	if res.Polished {
		assert.InDelta(t, 0.3, res.X[0], 1e-8)
		assert.InDelta(t, 0.7, res.X[1], 1e-8)
	}
}

func TestADMM_UnboundedRows(t *testing.T) {
	t.Parallel()

	p := NewTriplets(2, 2)
	p.Add(0, 0, 2)
	p.Add(1, 1, 2)
	a := NewTriplets(2, 2)
	a.Add(0, 0, 1)
	a.Add(1, 1, 1)

	prob := &Problem{
		P: p.CSC(),
		Q: []float64{-2, -4},
		A: a.CSC(),
		L: []float64{-Infinity, -Infinity},
		U: []float64{Infinity, Infinity},
	}
	res, err := NewADMM().Solve(prob, DefaultSettings())
	require.NoError(t, err)
	require.Equal(t, StatusSolved, res.Status)
	assert.InDelta(t, 1.0, res.X[0], 1e-4)
	assert.InDelta(t, 2.0, res.X[1], 1e-4)
}

func TestADMM_DetectsPrimalInfeasibility(t *testing.T) {
	t.Parallel()

	p := NewTriplets(1, 1)
	p.Add(0, 0, 1)
	a := NewTriplets(2, 1)
	a.Add(0, 0, 1)
	a.Add(1, 0, 1)

	prob := &Problem{
		P: p.CSC(),
		Q: []float64{0},
		A: a.CSC(),
		L: []float64{0, 2},
		U: []float64{1, 3},
	}
	res, err := NewADMM().Solve(prob, DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, StatusInfeasible, res.Status)
	assert.False(t, res.Polished)
}

func TestADMM_IterationLimit(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	s.MaxIter = 1
	s.Polish = false
	res, err := NewADMM().Solve(demoProblem(), s)
	require.NoError(t, err)
	assert.Equal(t, StatusMaxIterations, res.Status)
	assert.Equal(t, 1, res.Iterations)
}

func TestADMM_RejectsMalformedProblem(t *testing.T) {
	t.Parallel()

	prob := demoProblem()
	lower := NewTriplets(2, 2)
	lower.Add(1, 0, 1)
	prob.P = lower.CSC()

	_, err := NewADMM().Solve(prob, DefaultSettings())
	assert.Error(t, err)

	prob = demoProblem()
	prob.L[1] = 2
	_, err = NewADMM().Solve(prob, DefaultSettings())
	assert.Error(t, err)
}

func TestSettings_Normalize(t *testing.T) {
	t.Parallel()

	got := Settings{MaxIter: 10, Alpha: 3}.Normalize()
	want := DefaultSettings()
	assert.Equal(t, 10, got.MaxIter)
	assert.Equal(t, want.Alpha, got.Alpha)
	assert.Equal(t, want.EpsAbs, got.EpsAbs)
	assert.Equal(t, want.CheckTermination, got.CheckTermination)
}

func TestStatus_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "solved", StatusSolved.String())
	assert.Equal(t, "max_iterations", StatusMaxIterations.String())
	assert.Equal(t, "infeasible", StatusInfeasible.String())
	assert.Equal(t, "error", StatusError.String())
	assert.Equal(t, "status(42)", Status(42).String())
}

func TestSolverFunc(t *testing.T) {
	t.Parallel()

	calls := 0
	var s Solver = SolverFunc(func(p *Problem, _ Settings) (*Result, error) {
		calls++
		return &Result{Status: StatusError}, nil
	})
	res, err := s.Solve(demoProblem(), DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, 1, calls)
}
