package planner

import (
	"math"
	"time"

	pj "github.com/banshee-data/speedplan/internal/piecewisejerk"
)

// Response is a solved speed profile in SI units. T holds the knot times.
type Response struct {
	RunID string `json:"run_id,omitempty"`

	T   []float64 `json:"t"`
	X   []float64 `json:"x"`
	DX  []float64 `json:"dx"`
	DDX []float64 `json:"ddx"`

	Stats   Stats   `json:"stats"`
	Summary Summary `json:"summary"`
}

// Stats reports how the solve went.
type Stats struct {
	Status         string  `json:"status"`
	Iterations     int     `json:"iterations"`
	Objective      float64 `json:"objective"`
	PrimalResidual float64 `json:"primal_residual"`
	DualResidual   float64 `json:"dual_residual"`
	Polished       bool    `json:"polished"`
	SolveMillis    float64 `json:"solve_ms"`
}

// Summary condenses a profile for logs, sweeps and run listings.
type Summary struct {
	MaxAbsJerk          float64 `json:"max_abs_jerk"`
	MaxAbsDDX           float64 `json:"max_abs_ddx"`
	MinDX               float64 `json:"min_dx"`
	MaxDX               float64 `json:"max_dx"`
	FinalX              float64 `json:"final_x"`
	FinalDX             float64 `json:"final_dx"`
	TerminalDeviationX  float64 `json:"terminal_deviation_x"`
	TerminalDeviationDX float64 `json:"terminal_deviation_dx"`
}

// SolveTime returns the solver wall time.
func (s Stats) SolveTime() time.Duration {
	return time.Duration(s.SolveMillis * float64(time.Millisecond))
}

// NewResponse packages a solved profile for the request that produced it.
func NewResponse(req *Request, prof *pj.Profile) *Response {
	n := len(prof.X)
	t := make([]float64, n)
	for k := range t {
		t[k] = float64(k) * req.Delta
	}
	return &Response{
		T:   t,
		X:   append([]float64(nil), prof.X...),
		DX:  append([]float64(nil), prof.DX...),
		DDX: append([]float64(nil), prof.DDX...),
		Stats: Stats{
			Status:         prof.Stats.Status.String(),
			Iterations:     prof.Stats.Iterations,
			Objective:      prof.Stats.Objective,
			PrimalResidual: prof.Stats.PrimalResidual,
			DualResidual:   prof.Stats.DualResidual,
			Polished:       prof.Stats.Polished,
			SolveMillis:    float64(prof.Stats.SolveTime) / float64(time.Millisecond),
		},
		Summary: Summarize(prof, req.Delta, req.End),
	}
}

// Summarize computes the profile summary. Jerk is the ddx difference
// quotient between adjacent knots.
func Summarize(prof *pj.Profile, delta float64, end [3]float64) Summary {
	n := len(prof.X)
	if n == 0 {
		return Summary{}
	}
	s := Summary{
		MinDX:   math.Inf(1),
		MaxDX:   math.Inf(-1),
		FinalX:  prof.X[n-1],
		FinalDX: prof.DX[n-1],
	}
	for k := 0; k < n; k++ {
		s.MinDX = math.Min(s.MinDX, prof.DX[k])
		s.MaxDX = math.Max(s.MaxDX, prof.DX[k])
		s.MaxAbsDDX = math.Max(s.MaxAbsDDX, math.Abs(prof.DDX[k]))
		if k+1 < n {
			s.MaxAbsJerk = math.Max(s.MaxAbsJerk, math.Abs(prof.DDX[k+1]-prof.DDX[k])/delta)
		}
	}
	s.TerminalDeviationX = math.Abs(s.FinalX - end[0])
	s.TerminalDeviationDX = math.Abs(s.FinalDX - end[1])
	return s
}
