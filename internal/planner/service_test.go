package planner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/speedplan/internal/config"
	pj "github.com/banshee-data/speedplan/internal/piecewisejerk"
	"github.com/banshee-data/speedplan/internal/qp"
	"github.com/banshee-data/speedplan/internal/timeutil"
)

func f64(v float64) *float64 { return &v }

// scenarioRequest is the five-knot cruise from the planner docs.
func scenarioRequest() *Request {
	return &Request{
		Knots: 5,
		Delta: 0.5,
		Init:  [3]float64{0, 5, 0},
		Bounds: Bounds{
			X:   &BoundSpec{Uniform: &[2]float64{0, 100}},
			DX:  &BoundSpec{Uniform: &[2]float64{0, 20}},
			DDX: &BoundSpec{Uniform: &[2]float64{-4, 2}},
		},
	}
}

func testConfig() *config.PlannerConfig {
	cfg := config.DefaultPlannerConfig()
	cfg.EpsAbs = f64(1e-8)
	cfg.EpsRel = f64(1e-8)
	cfg.TimeBudget = func() *string { s := "10s"; return &s }()
	return cfg
}

func TestBuild_AppliesConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := config.EmptyPlannerConfig()
	cfg.WeightEndX = f64(3)
	req := scenarioRequest()
	req.Weights.DDX = f64(0.25)

	sp, err := Build(req, cfg)
	require.NoError(t, err)
	g := sp.Grid()
	assert.Equal(t, 1.0, g.WeightDDDX, "config default")
	assert.Equal(t, 0.25, g.WeightDDX, "request override")
	assert.Equal(t, 3.0, g.EndWeights[0])
	assert.Equal(t, 4000, sp.Settings().MaxIter)

	x, dx, ddx := sp.Bounds()
	assert.Equal(t, pj.Bound{Lower: 0, Upper: 100}, x[3])
	assert.Equal(t, pj.Bound{Lower: 0, Upper: 20}, dx[0])
	assert.Equal(t, pj.Bound{Lower: -4, Upper: 2}, ddx[4])
}

func TestBuild_NilConfigUsesDefaults(t *testing.T) {
	t.Parallel()

	sp, err := Build(scenarioRequest(), nil)
	require.NoError(t, err)
	g := sp.Grid()
	def := config.EmptyPlannerConfig()
	assert.Equal(t, def.GetWeightDDDX(), g.WeightDDDX)
	assert.Equal(t, def.GetWeightDDX(), g.WeightDDX)
	assert.Equal(t, def.GetMaxIter(), sp.Settings().MaxIter)
	assert.Equal(t, SettingsFromConfig(def), SettingsFromConfig(nil))

	prof, err := sp.Solve()
	require.NoError(t, err)
	assert.Len(t, prof.X, 5)
}

func TestBuild_PerKnotBoundsWin(t *testing.T) {
	t.Parallel()

	req := scenarioRequest()
	req.Bounds.DX = &BoundSpec{
		Uniform: &[2]float64{0, 20},
		PerKnot: [][2]float64{{0, 20}, {0, 20}, {0, 3}, {0, 20}, {0, 20}},
	}
	sp, err := Build(req, nil)
	require.NoError(t, err)
	_, dx, _ := sp.Bounds()
	assert.Equal(t, 3.0, dx[2].Upper)
}

func TestBuild_InvalidRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(r *Request)
	}{
		{"too few knots", func(r *Request) { r.Knots = 1 }},
		{"zero delta", func(r *Request) { r.Delta = 0 }},
		{"short x reference", func(r *Request) { r.XReference = []float64{1, 2, 3} }},
		{"long penalty", func(r *Request) { r.PenaltyDX = make([]float64, 6) }},
		{"negative weight", func(r *Request) { r.Weights.EndX = f64(-1) }},
		{"crossed uniform bound", func(r *Request) { r.Bounds.X.Uniform = &[2]float64{5, 1} }},
		{"crossed knot bound", func(r *Request) {
			r.Bounds.DDX = &BoundSpec{PerKnot: [][2]float64{{-4, 2}, {-4, 2}, {3, 2}, {-4, 2}, {-4, 2}}}
		}},
		{"short per-knot bounds", func(r *Request) { r.Bounds.DX = &BoundSpec{PerKnot: [][2]float64{{0, 1}}} }},
		{"crossed jerk bound", func(r *Request) { r.DDDXBound = &[2]float64{1, -1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := scenarioRequest()
			tt.mutate(req)
			_, err := Build(req, nil)
			assert.ErrorIs(t, err, pj.ErrInvalidArgument)
		})
	}

	_, err := Build(nil, nil)
	assert.ErrorIs(t, err, pj.ErrInvalidArgument)
}

func TestService_SolveScenario(t *testing.T) {
	t.Parallel()

	svc := NewService(testConfig())
	resp, err := svc.Solve(context.Background(), scenarioRequest())
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 0.5, 1, 1.5, 2}, resp.T)
	require.Len(t, resp.DX, 5)
	assert.Equal(t, "solved", resp.Stats.Status)
	assert.Positive(t, resp.Stats.Iterations)
	for k := range resp.DX {
		assert.InDelta(t, 5.0, resp.DX[k], 1e-4)
	}
	assert.InDelta(t, 10.0, resp.Summary.FinalX, 1e-4)
	assert.InDelta(t, 0.0, resp.Summary.MaxAbsJerk, 1e-3)
}

func TestService_InvalidRequestNeverReachesSolver(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	solver := qp.SolverFunc(func(p *qp.Problem, s qp.Settings) (*qp.Result, error) {
		calls.Add(1)
		return qp.NewADMM().Solve(p, s)
	})
	svc := NewService(testConfig(), WithSolver(solver))

	req := scenarioRequest()
	req.Bounds.X = &BoundSpec{PerKnot: [][2]float64{{0, 1}, {0, 1}, {2, 1}, {0, 1}, {0, 1}}}
	_, err := svc.Solve(context.Background(), req)
	assert.ErrorIs(t, err, pj.ErrInvalidArgument)
	assert.Equal(t, int32(0), calls.Load())
}

func TestService_OptimizationFailure(t *testing.T) {
	t.Parallel()

	solver := qp.SolverFunc(func(*qp.Problem, qp.Settings) (*qp.Result, error) {
		return &qp.Result{Status: qp.StatusInfeasible, Iterations: 40}, nil
	})
	svc := NewService(testConfig(), WithSolver(solver))
	_, err := svc.Solve(context.Background(), scenarioRequest())
	require.ErrorIs(t, err, pj.ErrOptimizationFailed)

	var oe *pj.OptimizationError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, qp.StatusInfeasible, oe.Status)
}

func TestService_BudgetExceeded(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	solver := qp.SolverFunc(func(*qp.Problem, qp.Settings) (*qp.Result, error) {
		<-release
		return &qp.Result{Status: qp.StatusError}, nil
	})
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	cfg := testConfig()
	cfg.TimeBudget = func() *string { s := "30ms"; return &s }()
	svc := NewService(cfg, WithSolver(solver), WithClock(clock))

	errc := make(chan error, 1)
	go func() {
		_, err := svc.Solve(context.Background(), scenarioRequest())
		errc <- err
	}()

	<-clock.TimerCreated()
	clock.Advance(svc.Budget())
	err := <-errc
	close(release)

	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Contains(t, err.Error(), "30ms")
}

func TestService_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewService(testConfig())
	_, err := svc.Solve(ctx, scenarioRequest())
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_ContextCancelledMidSolve(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	solver := qp.SolverFunc(func(*qp.Problem, qp.Settings) (*qp.Result, error) {
		close(started)
		<-release
		return &qp.Result{Status: qp.StatusError}, nil
	})
	svc := NewService(testConfig(), WithSolver(solver))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := svc.Solve(ctx, scenarioRequest())
		errc <- err
	}()
	<-started
	cancel()
	err := <-errc
	close(release)

	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_SolveAll(t *testing.T) {
	t.Parallel()

	good := scenarioRequest()
	bad := scenarioRequest()
	bad.XReference = []float64{1}
	fast := scenarioRequest()
	fast.DXReference = f64(6)

	svc := NewService(testConfig())
	results := svc.SolveAll(context.Background(), []*Request{good, bad, fast})
	require.Len(t, results, 3)

	require.NoError(t, results[0].Err)
	assert.Len(t, results[0].Response.X, 5)
	assert.ErrorIs(t, results[1].Err, pj.ErrInvalidArgument)
	assert.Nil(t, results[1].Response)
	require.NoError(t, results[2].Err)
	assert.Greater(t, results[2].Response.DX[4], results[0].Response.DX[4])
}

func TestDecodeRequest(t *testing.T) {
	t.Parallel()

	body := `{
  "knots": 5, "delta": 0.5, "init": [0, 5, 0], "end": [20, 5, 0],
  "weights": {"end_x": 2, "dddx": 1.5},
  "dx_reference": 6,
  "penalty_dx": [1, 1, 1, 1, 0],
  "bounds": {"dx": {"uniform": [0, 20]}, "ddx": {"per_knot": [[-4,2],[-4,2],[-4,2],[-4,2],[-4,2]]}},
  "dddx_bound": [-3, 3]
}`
	req, err := DecodeRequest(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 5, req.Knots)
	assert.Equal(t, [3]float64{20, 5, 0}, req.End)
	require.NotNil(t, req.Weights.EndX)
	assert.Equal(t, 2.0, *req.Weights.EndX)
	require.NotNil(t, req.DXReference)
	assert.Equal(t, 6.0, *req.DXReference)
	assert.Len(t, req.Bounds.DDX.PerKnot, 5)
	assert.Equal(t, [2]float64{-3, 3}, *req.DDDXBound)

	_, err = DecodeRequest(strings.NewReader(`{"knots": 5, "colour": "red"}`))
	assert.ErrorIs(t, err, pj.ErrInvalidArgument)
	_, err = DecodeRequest(strings.NewReader(`not json`))
	assert.ErrorIs(t, err, pj.ErrInvalidArgument)
}

func TestRequest_CloneIsDeep(t *testing.T) {
	t.Parallel()

	req := scenarioRequest()
	req.XReference = []float64{0, 1, 2, 3, 4}
	req.Weights.EndX = f64(1)
	cp := req.Clone()

	cp.XReference[0] = 99
	*cp.Weights.EndX = 7
	cp.Bounds.X.Uniform[1] = 1
	assert.Equal(t, 0.0, req.XReference[0])
	assert.Equal(t, 1.0, *req.Weights.EndX)
	assert.Equal(t, 100.0, req.Bounds.X.Uniform[1])
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	prof := &pj.Profile{
		X:   []float64{0, 1, 3},
		DX:  []float64{2, 3, 1},
		DDX: []float64{0, 1, -2},
	}
	s := Summarize(prof, 0.5, [3]float64{4, 2, 0})
	assert.Equal(t, 6.0, s.MaxAbsJerk)
	assert.Equal(t, 2.0, s.MaxAbsDDX)
	assert.Equal(t, 1.0, s.MinDX)
	assert.Equal(t, 3.0, s.MaxDX)
	assert.Equal(t, 1.0, s.TerminalDeviationX)
	assert.Equal(t, 1.0, s.TerminalDeviationDX)

	assert.Equal(t, Summary{}, Summarize(&pj.Profile{}, 1, [3]float64{}))
}

func TestSettingsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.EmptyPlannerConfig()
	cfg.MaxIter = func() *int { v := 123; return &v }()
	cfg.Polish = func() *bool { v := false; return &v }()
	s := SettingsFromConfig(cfg)
	assert.Equal(t, 123, s.MaxIter)
	assert.False(t, s.Polish)
	assert.Equal(t, 1.6, s.Alpha)
	assert.Equal(t, qp.DefaultSettings().CheckTermination, s.CheckTermination)
}

func TestStats_SolveTime(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1500*time.Microsecond, Stats{SolveMillis: 1.5}.SolveTime())
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp *Response
		err  error
		want string
	}{
		{"solved", &Response{Stats: Stats{Status: "solved"}}, nil, "solved"},
		{"infeasible", nil, &pj.OptimizationError{Status: qp.StatusInfeasible}, "infeasible"},
		{"invalid", nil, fmt.Errorf("%w: knots", pj.ErrInvalidArgument), OutcomeInvalid},
		{"budget", nil, fmt.Errorf("%w: 50ms", ErrBudgetExceeded), OutcomeBudgetExceeded},
		{"other", nil, io.ErrUnexpectedEOF, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(tt.resp, tt.err))
		})
	}
}
