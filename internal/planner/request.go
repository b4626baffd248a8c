package planner

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/banshee-data/speedplan/internal/config"
	pj "github.com/banshee-data/speedplan/internal/piecewisejerk"
)

// Request describes one speed profile to plan. Weights left out fall back
// to the planner config. Values at or beyond ±1e30 in a bound mean that side
// is open.
type Request struct {
	Knots int        `json:"knots"`
	Delta float64    `json:"delta"`
	Init  [3]float64 `json:"init"`
	End   [3]float64 `json:"end"`

	Weights Weights `json:"weights"`

	XReference  []float64 `json:"x_reference,omitempty"`
	DXReference *float64  `json:"dx_reference,omitempty"`
	PenaltyDX   []float64 `json:"penalty_dx,omitempty"`

	Bounds    Bounds      `json:"bounds"`
	DDDXBound *[2]float64 `json:"dddx_bound,omitempty"`
}

// Weights overrides the configured cost weights for one request.
type Weights struct {
	DDX         *float64 `json:"ddx,omitempty"`
	DDDX        *float64 `json:"dddx,omitempty"`
	XReference  *float64 `json:"x_reference,omitempty"`
	DXReference *float64 `json:"dx_reference,omitempty"`
	EndX        *float64 `json:"end_x,omitempty"`
	EndDX       *float64 `json:"end_dx,omitempty"`
	EndDDX      *float64 `json:"end_ddx,omitempty"`
}

// Bounds holds the admissible range of each state component.
type Bounds struct {
	X   *BoundSpec `json:"x,omitempty"`
	DX  *BoundSpec `json:"dx,omitempty"`
	DDX *BoundSpec `json:"ddx,omitempty"`
}

// BoundSpec is either one range for every knot or one range per knot.
// PerKnot wins when both are set.
type BoundSpec struct {
	Uniform *[2]float64  `json:"uniform,omitempty"`
	PerKnot [][2]float64 `json:"per_knot,omitempty"`
}

// DecodeRequest reads one JSON request, rejecting unknown fields.
func DecodeRequest(r io.Reader) (*Request, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var req Request
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: decode request: %v", pj.ErrInvalidArgument, err)
	}
	return &req, nil
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	out := *r
	out.Weights = Weights{
		DDX:         clonePtr(r.Weights.DDX),
		DDDX:        clonePtr(r.Weights.DDDX),
		XReference:  clonePtr(r.Weights.XReference),
		DXReference: clonePtr(r.Weights.DXReference),
		EndX:        clonePtr(r.Weights.EndX),
		EndDX:       clonePtr(r.Weights.EndDX),
		EndDDX:      clonePtr(r.Weights.EndDDX),
	}
	out.XReference = cloneSlice(r.XReference)
	out.DXReference = clonePtr(r.DXReference)
	out.PenaltyDX = cloneSlice(r.PenaltyDX)
	out.Bounds = Bounds{X: r.Bounds.X.clone(), DX: r.Bounds.DX.clone(), DDX: r.Bounds.DDX.clone()}
	out.DDDXBound = clonePtr(r.DDDXBound)
	return &out
}

func (b *BoundSpec) clone() *BoundSpec {
	if b == nil {
		return nil
	}
	return &BoundSpec{Uniform: clonePtr(b.Uniform), PerKnot: cloneSlice(b.PerKnot)}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append([]T(nil), s...)
}

func pick(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// Build turns a request into a configured speed problem. A nil cfg uses the
// built-in defaults. Every error wraps piecewisejerk.ErrInvalidArgument.
func Build(req *Request, cfg *config.PlannerConfig) (*pj.SpeedProblem, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", pj.ErrInvalidArgument)
	}
	if cfg == nil {
		cfg = config.EmptyPlannerConfig()
	}
	sp, err := pj.NewSpeedProblem(req.Knots, req.Delta, req.Init, req.End)
	if err != nil {
		return nil, err
	}

	w := req.Weights
	steps := []func() error{
		func() error { return sp.SetWeightDDX(pick(w.DDX, cfg.GetWeightDDX())) },
		func() error { return sp.SetWeightDDDX(pick(w.DDDX, cfg.GetWeightDDDX())) },
		func() error { return sp.SetWeightXEnd(pick(w.EndX, cfg.GetWeightEndX())) },
		func() error { return sp.SetWeightDXEnd(pick(w.EndDX, cfg.GetWeightEndDX())) },
		func() error { return sp.SetWeightDDXEnd(pick(w.EndDDX, cfg.GetWeightEndDDX())) },
		func() error {
			if len(req.XReference) == 0 {
				return nil
			}
			return sp.SetXReference(pick(w.XReference, cfg.GetWeightXReference()), req.XReference)
		},
		func() error {
			if req.DXReference == nil {
				return nil
			}
			return sp.SetDXReference(pick(w.DXReference, cfg.GetWeightDXReference()), *req.DXReference)
		},
		func() error { return sp.SetFirstOrderPenalty(req.PenaltyDX) },
		func() error { return applyBounds(req.Bounds.X, sp.SetXBound, sp.SetXBounds) },
		func() error { return applyBounds(req.Bounds.DX, sp.SetDXBound, sp.SetDXBounds) },
		func() error { return applyBounds(req.Bounds.DDX, sp.SetDDXBound, sp.SetDDXBounds) },
		func() error {
			if req.DDDXBound == nil {
				return nil
			}
			return sp.SetDDDXBound(req.DDDXBound[0], req.DDDXBound[1])
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	sp.SetSettings(SettingsFromConfig(cfg))
	return sp, nil
}

func applyBounds(spec *BoundSpec, uniform func(lo, hi float64) error, perKnot func(lower, upper []float64) error) error {
	if spec == nil {
		return nil
	}
	if spec.PerKnot != nil {
		lower := make([]float64, len(spec.PerKnot))
		upper := make([]float64, len(spec.PerKnot))
		for k, b := range spec.PerKnot {
			lower[k], upper[k] = b[0], b[1]
		}
		return perKnot(lower, upper)
	}
	if spec.Uniform != nil {
		return uniform(spec.Uniform[0], spec.Uniform[1])
	}
	return nil
}
