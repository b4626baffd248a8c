package piecewisejerk

import (
	"errors"
	"fmt"

	"github.com/banshee-data/speedplan/internal/qp"
)

var (
	// ErrInvalidArgument reports malformed construction parameters, sequence
	// length mismatches, negative weights, non-finite input or crossed bounds.
	// It is always returned before the solver is called.
	ErrInvalidArgument = errors.New("piecewisejerk: invalid argument")

	// ErrOptimizationFailed reports that the solver did not return a solution.
	// Use errors.As with *OptimizationError to read the raw solver status.
	ErrOptimizationFailed = errors.New("piecewisejerk: optimization failed")
)

// OptimizationError carries the solver outcome of a failed solve.
type OptimizationError struct {
	Status     qp.Status
	Iterations int
	// Err is set when the solver rejected the problem outright.
	Err error
}

func (e *OptimizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: solver status %s: %v", ErrOptimizationFailed, e.Status, e.Err)
	}
	return fmt.Sprintf("%v: solver status %s after %d iterations", ErrOptimizationFailed, e.Status, e.Iterations)
}

// Unwrap exposes ErrOptimizationFailed and, when present, the solver error.
func (e *OptimizationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrOptimizationFailed, e.Err}
	}
	return []error{ErrOptimizationFailed}
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
