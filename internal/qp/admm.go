package qp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Numerical constants of the ADMM backend that are not exposed as settings.
const (
	rhoMin         = 1e-6
	rhoMax         = 1e6
	rhoEqScale     = 1e3
	rhoTol         = 1e-4
	rhoAdaptFactor = 5.0
	divisionTol    = 1e-30
	polishDelta    = 1e-6
	polishRefine   = 3
	residualFloor  = 1e-10
)

// ADMM solves QPs with the operator splitting scheme popularised by OSQP.
// Each iteration solves the reduced KKT system
//
//	(P + σI + AᵀRA) x̃ = σx − q + Aᵀ(Rz − y)
//
// with a dense Cholesky factorisation that is only recomputed when the
// penalty ρ changes. Problems in this repository have a few hundred
// variables at most, so dense factors stay well inside a planning cycle.
type ADMM struct{}

// NewADMM returns the ADMM backend.
func NewADMM() *ADMM {
	return &ADMM{}
}

var _ Solver = (*ADMM)(nil)

// admmWork holds the per-solve state. Nothing survives between solves.
type admmWork struct {
	p    *Problem
	set  Settings
	n, m int

	l, u   []float64
	rho    []float64
	rhoBar float64
	eq     []bool

	rows [][]rowEntry
	chol mat.Cholesky

	x, z, y    []float64
	xt, zt     []float64
	yPrev      []float64
	rhs        []float64
	work       []float64
	ax, px, ay []float64
}

type rowEntry struct {
	col int
	val float64
}

// Solve runs ADMM on p.
func (s *ADMM) Solve(p *Problem, set Settings) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	set = set.Normalize()

	w := newADMMWork(p, set)
	if err := w.factorize(); err != nil {
		return &Result{Status: StatusError}, nil
	}

	res := &Result{Status: StatusMaxIterations}
	for iter := 1; iter <= set.MaxIter; iter++ {
		copy(w.yPrev, w.y)
		if err := w.step(); err != nil {
			res.Status = StatusError
			res.Iterations = iter
			return res, nil
		}
		res.Iterations = iter

		if iter%set.CheckTermination != 0 && iter != set.MaxIter {
			continue
		}

		prim, dual, epsPrim, epsDual := w.residuals()
		res.PrimalResidual, res.DualResidual = prim, dual
		if prim <= epsPrim && dual <= epsDual {
			res.Status = StatusSolved
			break
		}
		if w.primalInfeasible() {
			res.Status = StatusInfeasible
			break
		}
		if set.AdaptiveRho && iter%set.AdaptiveRhoInterval == 0 {
			if err := w.adaptRho(); err != nil {
				res.Status = StatusError
				return res, nil
			}
		}
	}

	res.X = append([]float64(nil), w.x...)
	res.Y = append([]float64(nil), w.y...)

	if res.Status == StatusSolved && set.Polish {
		if x, y, prim, dual, ok := w.polish(); ok && polishImproved(prim, dual, res.PrimalResidual, res.DualResidual) {
			res.X, res.Y = x, y
			res.PrimalResidual, res.DualResidual = prim, dual
			res.Polished = true
		}
	}
	res.Objective = p.Objective(res.X)
	return res, nil
}

func newADMMWork(p *Problem, set Settings) *admmWork {
	n, m := p.NumVariables(), p.NumConstraints()
	w := &admmWork{
		p: p, set: set, n: n, m: m,
		l: make([]float64, m), u: make([]float64, m),
		rho: make([]float64, m), eq: make([]bool, m),
		x: make([]float64, n), xt: make([]float64, n),
		z: make([]float64, m), zt: make([]float64, m),
		y: make([]float64, m), yPrev: make([]float64, m),
		rhs: make([]float64, n), work: make([]float64, m),
		ax: make([]float64, m), px: make([]float64, n), ay: make([]float64, n),
		rhoBar: set.Rho,
	}
	for i := 0; i < m; i++ {
		w.l[i] = math.Max(p.L[i], -Infinity)
		w.u[i] = math.Min(p.U[i], Infinity)
		w.eq[i] = w.u[i]-w.l[i] < rhoTol
	}
	w.setRho(set.Rho)

	w.rows = make([][]rowEntry, m)
	for j := 0; j < p.A.Cols; j++ {
		for k := p.A.Indptr[j]; k < p.A.Indptr[j+1]; k++ {
			i := p.A.Indices[k]
			w.rows[i] = append(w.rows[i], rowEntry{col: j, val: p.A.Data[k]})
		}
	}
	for i := range w.z {
		w.z[i] = clamp(0, w.l[i], w.u[i])
	}
	return w
}

func (w *admmWork) setRho(rho float64) {
	w.rhoBar = math.Min(math.Max(rho, rhoMin), rhoMax)
	for i := 0; i < w.m; i++ {
		switch {
		case w.l[i] <= -Infinity && w.u[i] >= Infinity:
			w.rho[i] = rhoMin
		case w.eq[i]:
			w.rho[i] = rhoEqScale * w.rhoBar
		default:
			w.rho[i] = w.rhoBar
		}
	}
}

// factorize builds and factors P + σI + AᵀRA.
func (w *admmWork) factorize() error {
	k := w.p.P.SymDense()
	for j := 0; j < w.n; j++ {
		k.SetSym(j, j, k.At(j, j)+w.set.Sigma)
	}
	for i, row := range w.rows {
		r := w.rho[i]
		for a := 0; a < len(row); a++ {
			for b := a; b < len(row); b++ {
				ca, cb := row[a].col, row[b].col
				v := r * row[a].val * row[b].val
				if ca == cb {
					k.SetSym(ca, ca, k.At(ca, ca)+v)
					continue
				}
				k.SetSym(ca, cb, k.At(ca, cb)+v)
			}
		}
	}
	if ok := w.chol.Factorize(k); !ok {
		return fmt.Errorf("qp: reduced KKT matrix is not positive definite")
	}
	return nil
}

func (w *admmWork) step() error {
	set := w.set
	// rhs = σx − q + Aᵀ(ρ∘z − y)
	for i := 0; i < w.m; i++ {
		w.work[i] = w.rho[i]*w.z[i] - w.y[i]
	}
	w.p.A.MulTransVec(w.rhs, w.work)
	for j := 0; j < w.n; j++ {
		w.rhs[j] += set.Sigma*w.x[j] - w.p.Q[j]
	}

	dst := mat.NewVecDense(w.n, w.xt)
	if err := w.chol.SolveVecTo(dst, mat.NewVecDense(w.n, w.rhs)); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return err
		}
	}
	w.p.A.MulVec(w.zt, w.xt)

	alpha := set.Alpha
	for j := 0; j < w.n; j++ {
		w.x[j] = alpha*w.xt[j] + (1-alpha)*w.x[j]
	}
	for i := 0; i < w.m; i++ {
		relaxed := alpha*w.zt[i] + (1-alpha)*w.z[i]
		zNew := clamp(relaxed+w.y[i]/w.rho[i], w.l[i], w.u[i])
		w.y[i] += w.rho[i] * (relaxed - zNew)
		w.z[i] = zNew
	}
	return nil
}

// residuals returns the primal and dual residuals with their tolerances.
func (w *admmWork) residuals() (prim, dual, epsPrim, epsDual float64) {
	w.p.A.MulVec(w.ax, w.x)
	w.p.P.SymMulVec(w.px, w.x)
	w.p.A.MulTransVec(w.ay, w.y)

	for i := 0; i < w.m; i++ {
		prim = math.Max(prim, math.Abs(w.ax[i]-w.z[i]))
	}
	for j := 0; j < w.n; j++ {
		dual = math.Max(dual, math.Abs(w.px[j]+w.p.Q[j]+w.ay[j]))
	}
	epsPrim = w.set.EpsAbs + w.set.EpsRel*math.Max(normInf(w.ax), normInf(w.z))
	epsDual = w.set.EpsAbs + w.set.EpsRel*math.Max(normInf(w.px), math.Max(normInf(w.ay), normInf(w.p.Q)))
	return prim, dual, epsPrim, epsDual
}

// primalInfeasible checks whether the last change in y certifies that no x
// satisfies l ≤ Ax ≤ u.
func (w *admmWork) primalInfeasible() bool {
	dy := w.work
	for i := 0; i < w.m; i++ {
		d := w.y[i] - w.yPrev[i]
		if w.u[i] >= Infinity {
			d = math.Min(d, 0)
		}
		if w.l[i] <= -Infinity {
			d = math.Max(d, 0)
		}
		dy[i] = d
	}
	norm := normInf(dy)
	if norm < divisionTol {
		return false
	}

	var support float64
	for i := 0; i < w.m; i++ {
		d := dy[i] / norm
		if d > 0 && w.u[i] < Infinity {
			support += w.u[i] * d
		}
		if d < 0 && w.l[i] > -Infinity {
			support += w.l[i] * d
		}
		dy[i] = d
	}
	if support >= -w.set.EpsPrimInf {
		return false
	}
	atdy := make([]float64, w.n)
	w.p.A.MulTransVec(atdy, dy)
	return normInf(atdy) < w.set.EpsPrimInf
}

func (w *admmWork) adaptRho() error {
	prim, dual, _, _ := w.residuals()
	primScale := math.Max(normInf(w.ax), normInf(w.z))
	dualScale := math.Max(normInf(w.px), math.Max(normInf(w.ay), normInf(w.p.Q)))
	primRatio := prim / math.Max(primScale, divisionTol)
	dualRatio := dual / math.Max(dualScale, divisionTol)
	if dualRatio < divisionTol {
		return nil
	}
	next := w.rhoBar * math.Sqrt(primRatio/dualRatio)
	next = math.Min(math.Max(next, rhoMin), rhoMax)
	if next < w.rhoBar*rhoAdaptFactor && next > w.rhoBar/rhoAdaptFactor {
		return nil
	}
	w.setRho(next)
	return w.factorize()
}

// polish guesses the active set from the ADMM iterate and solves the
// equality-constrained QP on it exactly.
func (w *admmWork) polish() (x, y []float64, prim, dual float64, ok bool) {
	var active []int
	var target []float64
	for i := 0; i < w.m; i++ {
		switch {
		case w.eq[i]:
			active = append(active, i)
			target = append(target, w.l[i])
		case w.l[i] > -Infinity && w.z[i]-w.l[i] < -w.y[i]:
			active = append(active, i)
			target = append(target, w.l[i])
		case w.u[i] < Infinity && w.u[i]-w.z[i] < w.y[i]:
			active = append(active, i)
			target = append(target, w.u[i])
		}
	}

	n, ma := w.n, len(active)
	size := n + ma
	kkt := mat.NewDense(size, size, nil)
	exact := mat.NewDense(size, size, nil)
	pd := w.p.P.SymDense()
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			v := pd.At(r, c)
			kkt.Set(r, c, v)
			exact.Set(r, c, v)
		}
		kkt.Set(r, r, kkt.At(r, r)+polishDelta)
	}
	for k, i := range active {
		for _, e := range w.rows[i] {
			kkt.Set(n+k, e.col, e.val)
			kkt.Set(e.col, n+k, e.val)
			exact.Set(n+k, e.col, e.val)
			exact.Set(e.col, n+k, e.val)
		}
		kkt.Set(n+k, n+k, -polishDelta)
	}

	rhs := make([]float64, size)
	for j := 0; j < n; j++ {
		rhs[j] = -w.p.Q[j]
	}
	copy(rhs[n:], target)

	var lu mat.LU
	lu.Factorize(kkt)
	sol := mat.NewVecDense(size, nil)
	if err := solveLU(&lu, sol, mat.NewVecDense(size, rhs)); err != nil {
		return nil, nil, 0, 0, false
	}
	resid := mat.NewVecDense(size, nil)
	corr := mat.NewVecDense(size, nil)
	for it := 0; it < polishRefine; it++ {
		resid.MulVec(exact, sol)
		resid.SubVec(mat.NewVecDense(size, rhs), resid)
		if err := solveLU(&lu, corr, resid); err != nil {
			return nil, nil, 0, 0, false
		}
		sol.AddVec(sol, corr)
	}

	raw := sol.RawVector().Data
	x = append([]float64(nil), raw[:n]...)
	y = make([]float64, w.m)
	for k, i := range active {
		y[i] = raw[n+k]
	}
	for _, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, 0, 0, false
		}
	}

	ax := make([]float64, w.m)
	w.p.A.MulVec(ax, x)
	for i := 0; i < w.m; i++ {
		prim = math.Max(prim, math.Abs(ax[i]-clamp(ax[i], w.l[i], w.u[i])))
	}
	px := make([]float64, n)
	ay := make([]float64, n)
	w.p.P.SymMulVec(px, x)
	w.p.A.MulTransVec(ay, y)
	for j := 0; j < n; j++ {
		dual = math.Max(dual, math.Abs(px[j]+w.p.Q[j]+ay[j]))
	}
	return x, y, prim, dual, true
}

func solveLU(lu *mat.LU, dst *mat.VecDense, b mat.Vector) error {
	err := lu.SolveVecTo(dst, false, b)
	if err == nil {
		return nil
	}
	var cond mat.Condition
	if errors.As(err, &cond) {
		return nil
	}
	return err
}

func polishImproved(prim, dual, admmPrim, admmDual float64) bool {
	switch {
	case prim < admmPrim && dual < admmDual:
		return true
	case prim < admmPrim && admmDual < residualFloor:
		return true
	case dual < admmDual && admmPrim < residualFloor:
		return true
	default:
		return prim < residualFloor && dual < residualFloor
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func normInf(v []float64) float64 {
	var n float64
	for _, x := range v {
		n = math.Max(n, math.Abs(x))
	}
	return n
}
