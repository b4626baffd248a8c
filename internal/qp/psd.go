package qp

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// MinEigenvalue returns the smallest eigenvalue of the symmetric matrix whose
// upper triangle is stored in m.
func MinEigenvalue(m *CSC) (float64, error) {
	if m.Rows != m.Cols {
		return 0, fmt.Errorf("qp: eigenvalues of non-square %dx%d matrix", m.Rows, m.Cols)
	}
	if m.Cols == 0 {
		return 0, nil
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(m.SymDense(), false); !ok {
		return 0, fmt.Errorf("qp: eigendecomposition did not converge")
	}
	// Values are returned in ascending order.
	return eig.Values(nil)[0], nil
}

// IsPositiveSemidefinite reports whether every eigenvalue of m is at least
// -tol.
func IsPositiveSemidefinite(m *CSC, tol float64) (bool, error) {
	v, err := MinEigenvalue(m)
	if err != nil {
		return false, err
	}
	return v >= -tol, nil
}
