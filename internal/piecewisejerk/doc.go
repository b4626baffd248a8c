// Package piecewisejerk formulates smooth one-dimensional profiles over a
// uniform knot grid as quadratic programs.
//
// Each knot k carries position x, first derivative dx and second derivative
// ddx. The third derivative (jerk) between knots k and k+1 is not a decision
// variable; it is eliminated as
//
//	jerk(k) = (ddx(k+1) - ddx(k)) / Δs
//
// which makes the kinematic continuity relations exact linear equalities in
// the 3N variables. Variables are grouped by knot:
//
//	[x0, dx0, ddx0, x1, dx1, ddx1, ...]
//
// Problem owns the grid, bounds, continuity rows and solver plumbing. The
// quadratic cost is supplied by a CostModel: SpeedProblem for longitudinal
// speed profiles, PathProblem for lateral offset profiles.
//
// Instances are not safe for concurrent use. Distinct instances share no
// mutable state apart from the log stream configuration.
package piecewisejerk
