package sweep

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/speedplan/internal/planner"
)

// Param names a request field a sweep varies.
type Param string

const (
	ParamEndX        Param = "end_x"
	ParamEndDX       Param = "end_dx"
	ParamEndDDX      Param = "end_ddx"
	ParamDDX         Param = "ddx"
	ParamDDDX        Param = "dddx"
	ParamDXReference Param = "dx_reference"
)

// Params lists the sweepable parameters.
var Params = []Param{ParamEndX, ParamEndDX, ParamEndDDX, ParamDDX, ParamDDDX, ParamDXReference}

// Apply sets the weight named by p on req.
func (p Param) Apply(req *planner.Request, v float64) error {
	w := &req.Weights
	switch p {
	case ParamEndX:
		w.EndX = &v
	case ParamEndDX:
		w.EndDX = &v
	case ParamEndDDX:
		w.EndDDX = &v
	case ParamDDX:
		w.DDX = &v
	case ParamDDDX:
		w.DDDX = &v
	case ParamDXReference:
		w.DXReference = &v
	default:
		return fmt.Errorf("unknown sweep parameter %q", p)
	}
	return nil
}

// Point is the outcome of one sweep value.
type Point struct {
	Value    float64
	Status   string
	Err      error
	Response *planner.Response
}

// Sweep solves base once per value with p set to that value, at most
// workers solves at a time. Points come back in value order. A failed
// solve is recorded on its point and does not stop the sweep; ctx
// cancellation does.
func Sweep(ctx context.Context, svc *planner.Service, base *planner.Request, p Param, values []float64, workers int) ([]Point, error) {
	if workers < 1 {
		workers = 1
	}
	reqs := make([]*planner.Request, len(values))
	for i, v := range values {
		req := base.Clone()
		if err := p.Apply(req, v); err != nil {
			return nil, err
		}
		reqs[i] = req
	}

	points := make([]Point, len(values))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, req := range reqs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			resp, err := svc.Solve(gctx, req)
			points[i] = Point{Value: values[i], Status: planner.Outcome(resp, err), Err: err, Response: resp}
			if err != nil {
				log.Printf("[sweep] %s=%g: %v", p, values[i], err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(points, func(a, b int) bool { return points[a].Value < points[b].Value })
	return points, nil
}

// EndWeightSweep sweeps the terminal position weight.
func EndWeightSweep(ctx context.Context, svc *planner.Service, base *planner.Request, weights []float64, workers int) ([]Point, error) {
	return Sweep(ctx, svc, base, ParamEndX, weights, workers)
}

// TerminalDeviations returns the terminal position deviation of each
// solved point, skipping failures.
func TerminalDeviations(points []Point) (values, deviations []float64) {
	for _, pt := range points {
		if pt.Response == nil {
			continue
		}
		values = append(values, pt.Value)
		deviations = append(deviations, pt.Response.Summary.TerminalDeviationX)
	}
	return values, deviations
}

// NonIncreasing reports whether xs never rises by more than tol.
func NonIncreasing(xs []float64, tol float64) bool {
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[i-1]+tol {
			return false
		}
	}
	return true
}

// WriteCSV writes one summary row per point.
func WriteCSV(w io.Writer, p Param, points []Point) error {
	cw := csv.NewWriter(w)
	header := []string{string(p), "status", "iterations", "objective", "solve_ms",
		"max_abs_jerk", "max_abs_ddx", "final_x", "final_dx", "terminal_deviation_x", "terminal_deviation_dx"}
	if err := cw.Write(header); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', 8, 64) }
	for _, pt := range points {
		row := []string{f(pt.Value), pt.Status}
		if r := pt.Response; r != nil {
			s := r.Summary
			row = append(row, strconv.Itoa(r.Stats.Iterations), f(r.Stats.Objective), f(r.Stats.SolveMillis),
				f(s.MaxAbsJerk), f(s.MaxAbsDDX), f(s.FinalX), f(s.FinalDX), f(s.TerminalDeviationX), f(s.TerminalDeviationDX))
		} else {
			row = append(row, make([]string, len(header)-2)...)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
