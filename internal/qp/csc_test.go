package qp

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriplets_CSC(t *testing.T) {
	t.Parallel()

	tr := NewTriplets(3, 3)
	tr.Add(2, 1, 4)
	tr.Add(0, 0, 1)
	tr.Add(1, 1, 2)
	tr.Add(0, 1, 3)
	tr.Add(1, 1, 0.5) // summed with the earlier (1,1)
	tr.Add(2, 2, 0)   // zero entries keep their slot

	m := tr.CSC()
	require.NoError(t, m.Validate())
	assert.Equal(t, 5, tr.Len())
	assert.Equal(t, 5, m.NNZ())

	if diff := cmp.Diff([]int{0, 1, 4, 5}, m.Indptr); diff != "" {
		t.Errorf("indptr mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 0, 1, 2, 2}, m.Indices); diff != "" {
		t.Errorf("indices mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{1, 3, 2.5, 4, 0}, m.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 2.5, m.At(1, 1))
	assert.Equal(t, 0.0, m.At(1, 0))
	assert.Panics(t, func() { m.At(3, 0) })
}

func TestTriplets_AddOutOfRange(t *testing.T) {
	t.Parallel()
	tr := NewTriplets(2, 2)
	assert.Panics(t, func() { tr.Add(2, 0, 1) })
	assert.Panics(t, func() { tr.Add(0, -1, 1) })
}

func TestCSC_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		m    *CSC
	}{
		{"nil", nil},
		{"short indptr", &CSC{Rows: 2, Cols: 2, Indptr: []int{0, 0}}},
		{"data/indices mismatch", &CSC{Rows: 2, Cols: 1, Data: []float64{1}, Indptr: []int{0, 1}}},
		{"row out of range", &CSC{Rows: 1, Cols: 1, Data: []float64{1}, Indices: []int{3}, Indptr: []int{0, 1}}},
		{"unsorted rows", &CSC{Rows: 2, Cols: 1, Data: []float64{1, 1}, Indices: []int{1, 0}, Indptr: []int{0, 2}}},
		{"indptr not spanning data", &CSC{Rows: 2, Cols: 1, Data: []float64{1}, Indices: []int{0}, Indptr: []int{0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.m.Validate())
		})
	}
}

func TestCSC_Products(t *testing.T) {
	t.Parallel()

	// A = [1 0 2; 0 3 0]
	tr := NewTriplets(2, 3)
	tr.Add(0, 0, 1)
	tr.Add(0, 2, 2)
	tr.Add(1, 1, 3)
	a := tr.CSC()

	ax := make([]float64, 2)
	a.MulVec(ax, []float64{1, 2, 3})
	assert.Equal(t, []float64{7, 6}, ax)

	aty := make([]float64, 3)
	a.MulTransVec(aty, []float64{1, 2})
	assert.Equal(t, []float64{1, 6, 2}, aty)

	d := a.Dense()
	assert.Equal(t, 2.0, d.At(0, 2))
	assert.Equal(t, 0.0, d.At(1, 0))
}

func TestCSC_SymMulVec(t *testing.T) {
	t.Parallel()

	// Upper triangle of [[4 1] [1 2]].
	tr := NewTriplets(2, 2)
	tr.Add(0, 0, 4)
	tr.Add(0, 1, 1)
	tr.Add(1, 1, 2)
	p := tr.CSC()
	require.True(t, p.IsUpperTriangular())

	dst := make([]float64, 2)
	p.SymMulVec(dst, []float64{1, 1})
	assert.Equal(t, []float64{5, 3}, dst)

	s := p.SymDense()
	assert.Equal(t, 1.0, s.At(1, 0))
	assert.Equal(t, 1.0, s.At(0, 1))

	lower := NewTriplets(2, 2)
	lower.Add(1, 0, 1)
	assert.False(t, lower.CSC().IsUpperTriangular())
}
