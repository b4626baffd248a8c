// Package planner turns speed profile requests into solved responses under
// a per-solve time budget.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/speedplan/internal/config"
	"github.com/banshee-data/speedplan/internal/monitoring"
	pj "github.com/banshee-data/speedplan/internal/piecewisejerk"
	"github.com/banshee-data/speedplan/internal/qp"
	"github.com/banshee-data/speedplan/internal/timeutil"
)

// ErrBudgetExceeded reports that no result arrived within the time budget
// or before the caller's context ended. The abandoned solve keeps running
// to completion and its result is dropped.
var ErrBudgetExceeded = errors.New("planner: solve budget exceeded")

// Service plans speed profiles. It is safe for concurrent use: every call
// builds its own problem instance.
type Service struct {
	cfg    *config.PlannerConfig
	solver qp.Solver
	clock  timeutil.Clock
}

// Option configures a Service.
type Option func(*Service)

// WithSolver overrides the QP backend.
func WithSolver(s qp.Solver) Option {
	return func(svc *Service) { svc.solver = s }
}

// WithClock overrides the clock used for budgets and solve timing.
func WithClock(c timeutil.Clock) Option {
	return func(svc *Service) { svc.clock = c }
}

// NewService returns a Service using cfg for default weights, solver
// settings and the time budget. A nil cfg means all defaults.
func NewService(cfg *config.PlannerConfig, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.EmptyPlannerConfig()
	}
	svc := &Service{cfg: cfg, solver: qp.NewADMM(), clock: timeutil.RealClock{}}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Config returns the planner config in use.
func (s *Service) Config() *config.PlannerConfig { return s.cfg }

type outcome struct {
	prof *pj.Profile
	err  error
}

// Solve validates req, then solves it within the configured time budget.
//
// Errors wrap piecewisejerk.ErrInvalidArgument for bad requests,
// piecewisejerk.ErrOptimizationFailed when the solver gives up, and
// ErrBudgetExceeded on timeout or cancellation.
func (s *Service) Solve(ctx context.Context, req *Request) (*Response, error) {
	sp, err := Build(req, s.cfg)
	if err != nil {
		return nil, err
	}
	sp.SetSolver(s.solver)
	sp.SetClock(s.clock)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBudgetExceeded, err)
	}

	budget := s.cfg.GetTimeBudget()
	timer := s.clock.NewTimer(budget)
	defer timer.Stop()

	done := make(chan outcome, 1)
	go func() {
		prof, err := sp.Solve()
		done <- outcome{prof: prof, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		return NewResponse(req, o.prof), nil
	case <-timer.C():
		monitoring.Logf("planner: abandoning %d-knot solve after %s budget", req.Knots, budget)
		return nil, fmt.Errorf("%w: no result after %s", ErrBudgetExceeded, budget)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrBudgetExceeded, ctx.Err())
	}
}

// Result pairs a response with the error that replaced it.
type Result struct {
	Response *Response
	Err      error
}

// SolveAll solves independent requests concurrently, at most
// max_concurrent_solves at a time. Results are in request order; one
// failing request does not affect the others.
func (s *Service) SolveAll(ctx context.Context, reqs []*Request) []Result {
	results := make([]Result, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.cfg.GetMaxConcurrentSolves())
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := s.Solve(ctx, req)
			results[i] = Result{Response: resp, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Budget returns the per-solve time budget.
func (s *Service) Budget() time.Duration {
	return s.cfg.GetTimeBudget()
}

// Outcome labels for failed solves, used alongside the qp.Status names.
const (
	OutcomeInvalid        = "invalid_argument"
	OutcomeBudgetExceeded = "budget_exceeded"
)

// Outcome names how a solve ended: the solver status name on success or
// optimisation failure, otherwise one of the Outcome labels.
func Outcome(resp *Response, err error) string {
	var oe *pj.OptimizationError
	switch {
	case err == nil && resp != nil:
		return resp.Stats.Status
	case errors.As(err, &oe):
		return oe.Status.String()
	case errors.Is(err, pj.ErrInvalidArgument):
		return OutcomeInvalid
	case errors.Is(err, ErrBudgetExceeded):
		return OutcomeBudgetExceeded
	default:
		return qp.StatusError.String()
	}
}
