package qp

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// CSC is a sparse matrix in compressed sparse column form.
//
// Column j owns the half-open range Indptr[j]:Indptr[j+1] of Data and
// Indices; Indices holds the row of each stored value. Row indices are
// strictly increasing within a column.
type CSC struct {
	Rows, Cols int
	Data       []float64
	Indices    []int
	Indptr     []int
}

// NNZ returns the number of stored entries.
func (m *CSC) NNZ() int {
	if m == nil {
		return 0
	}
	return len(m.Data)
}

// At returns the value stored at (row, col), or 0 when nothing is stored there.
func (m *CSC) At(row, col int) float64 {
	if row < 0 || row >= m.Rows || col < 0 || col >= m.Cols {
		panic(fmt.Sprintf("qp: index (%d,%d) out of range for %dx%d matrix", row, col, m.Rows, m.Cols))
	}
	start, end := m.Indptr[col], m.Indptr[col+1]
	pos := sort.SearchInts(m.Indices[start:end], row) + start
	if pos < end && m.Indices[pos] == row {
		return m.Data[pos]
	}
	return 0
}

// Validate checks the structural invariants of the encoding.
func (m *CSC) Validate() error {
	if m == nil {
		return fmt.Errorf("qp: nil matrix")
	}
	if m.Rows < 0 || m.Cols < 0 {
		return fmt.Errorf("qp: negative dimensions %dx%d", m.Rows, m.Cols)
	}
	if len(m.Indptr) != m.Cols+1 {
		return fmt.Errorf("qp: indptr has length %d, want %d", len(m.Indptr), m.Cols+1)
	}
	if len(m.Data) != len(m.Indices) {
		return fmt.Errorf("qp: data has length %d but indices has %d", len(m.Data), len(m.Indices))
	}
	if m.Indptr[0] != 0 || m.Indptr[m.Cols] != len(m.Data) {
		return fmt.Errorf("qp: indptr must span [0,%d]", len(m.Data))
	}
	for j := 0; j < m.Cols; j++ {
		start, end := m.Indptr[j], m.Indptr[j+1]
		if end < start {
			return fmt.Errorf("qp: column %d has decreasing indptr", j)
		}
		for p := start; p < end; p++ {
			r := m.Indices[p]
			if r < 0 || r >= m.Rows {
				return fmt.Errorf("qp: column %d references row %d outside [0,%d)", j, r, m.Rows)
			}
			if p > start && m.Indices[p-1] >= r {
				return fmt.Errorf("qp: column %d rows not strictly increasing", j)
			}
		}
	}
	return nil
}

// IsUpperTriangular reports whether no entry lies below the diagonal.
func (m *CSC) IsUpperTriangular() bool {
	for j := 0; j < m.Cols; j++ {
		for p := m.Indptr[j]; p < m.Indptr[j+1]; p++ {
			if m.Indices[p] > j {
				return false
			}
		}
	}
	return true
}

// MulVec computes dst = m·x. dst must have length Rows.
func (m *CSC) MulVec(dst, x []float64) {
	for i := range dst {
		dst[i] = 0
	}
	for j := 0; j < m.Cols; j++ {
		xj := x[j]
		if xj == 0 {
			continue
		}
		for p := m.Indptr[j]; p < m.Indptr[j+1]; p++ {
			dst[m.Indices[p]] += m.Data[p] * xj
		}
	}
}

// MulTransVec computes dst = mᵀ·y. dst must have length Cols.
func (m *CSC) MulTransVec(dst, y []float64) {
	for j := 0; j < m.Cols; j++ {
		var sum float64
		for p := m.Indptr[j]; p < m.Indptr[j+1]; p++ {
			sum += m.Data[p] * y[m.Indices[p]]
		}
		dst[j] = sum
	}
}

// SymMulVec computes dst = S·x where S is the symmetric matrix whose upper
// triangle is stored in m. Entries below the diagonal are ignored.
func (m *CSC) SymMulVec(dst, x []float64) {
	for i := range dst {
		dst[i] = 0
	}
	for j := 0; j < m.Cols; j++ {
		for p := m.Indptr[j]; p < m.Indptr[j+1]; p++ {
			i := m.Indices[p]
			v := m.Data[p]
			switch {
			case i == j:
				dst[i] += v * x[j]
			case i < j:
				dst[i] += v * x[j]
				dst[j] += v * x[i]
			}
		}
	}
}

// Dense expands the matrix into a gonum dense matrix.
func (m *CSC) Dense() *mat.Dense {
	d := mat.NewDense(max(m.Rows, 1), max(m.Cols, 1), nil)
	for j := 0; j < m.Cols; j++ {
		for p := m.Indptr[j]; p < m.Indptr[j+1]; p++ {
			d.Set(m.Indices[p], j, d.At(m.Indices[p], j)+m.Data[p])
		}
	}
	return d
}

// SymDense expands an upper-triangular square matrix into a gonum symmetric
// matrix. Entries below the diagonal are ignored.
func (m *CSC) SymDense() *mat.SymDense {
	if m.Rows != m.Cols {
		panic(fmt.Sprintf("qp: SymDense of non-square %dx%d matrix", m.Rows, m.Cols))
	}
	s := mat.NewSymDense(max(m.Cols, 1), nil)
	for j := 0; j < m.Cols; j++ {
		for p := m.Indptr[j]; p < m.Indptr[j+1]; p++ {
			if i := m.Indices[p]; i <= j {
				s.SetSym(i, j, s.At(i, j)+m.Data[p])
			}
		}
	}
	return s
}

// Triplets accumulates (row, col, value) entries and compresses them into
// CSC form. Entries added at the same position are summed.
type Triplets struct {
	rows, cols int
	entries    map[[2]int]float64
}

// NewTriplets returns an empty rows×cols accumulator.
func NewTriplets(rows, cols int) *Triplets {
	return &Triplets{rows: rows, cols: cols, entries: make(map[[2]int]float64)}
}

// Add increments the entry at (row, col) by v.
func (t *Triplets) Add(row, col int, v float64) {
	if row < 0 || row >= t.rows || col < 0 || col >= t.cols {
		panic(fmt.Sprintf("qp: triplet (%d,%d) out of range for %dx%d matrix", row, col, t.rows, t.cols))
	}
	t.entries[[2]int{row, col}] += v
}

// Len returns the number of distinct positions touched so far.
func (t *Triplets) Len() int {
	return len(t.entries)
}

// CSC compresses the accumulated entries. Positions that were touched keep
// their slot even when the summed value is zero, so the sparsity pattern only
// depends on which terms were added.
func (t *Triplets) CSC() *CSC {
	keys := make([][2]int, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a][1] != keys[b][1] {
			return keys[a][1] < keys[b][1]
		}
		return keys[a][0] < keys[b][0]
	})

	out := &CSC{
		Rows:    t.rows,
		Cols:    t.cols,
		Data:    make([]float64, len(keys)),
		Indices: make([]int, len(keys)),
		Indptr:  make([]int, t.cols+1),
	}
	for p, k := range keys {
		out.Indices[p] = k[0]
		out.Data[p] = t.entries[k]
		out.Indptr[k[1]+1]++
	}
	for j := 0; j < t.cols; j++ {
		out.Indptr[j+1] += out.Indptr[j]
	}
	return out
}
