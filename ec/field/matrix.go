package field

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSingular is returned by Invert when the matrix has no inverse.
var ErrSingular = errors.New("field: matrix is singular")

// Matrix operations over GF(2^8)

// Matrix is a row-major matrix of GF(2^8) elements.
type Matrix [][]byte

// NewMatrix returns a zero matrix with the given dimensions.
func NewMatrix(rows, cols int) Matrix {
	// One backing array keeps rows contiguous.
	data := make([]byte, rows*cols)
	m := make(Matrix, rows)
	for i := range m {
		m[i] = data[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return m
}

// Identity returns the n×n identity matrix.
func Identity(n int) Matrix {
	m := NewMatrix(n, n)
	for i := 0; i < n; i++ {
		m[i][i] = 1
	}
	return m
}

// Rows returns the number of rows.
func (m Matrix) Rows() int {
	return len(m)
}

// Cols returns the number of columns.
func (m Matrix) Cols() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// Clone returns a deep copy of m.
func (m Matrix) Clone() Matrix {
	c := NewMatrix(m.Rows(), m.Cols())
	for i := range m {
		copy(c[i], m[i])
	}
	return c
}

// Equal reports whether m and other have the same shape and elements.
func (m Matrix) Equal(other Matrix) bool {
	if len(m) != len(other) {
		return false
	}
	for i := range m {
		if len(m[i]) != len(other[i]) {
			return false
		}
		for j := range m[i] {
			if m[i][j] != other[i][j] {
				return false
			}
		}
	}
	return true
}

// IsIdentity reports whether m is a square identity matrix.
func (m Matrix) IsIdentity() bool {
	for i := range m {
		if len(m[i]) != len(m) {
			return false
		}
		for j, v := range m[i] {
			if (i == j && v != 1) || (i != j && v != 0) {
				return false
			}
		}
	}
	return true
}

// SubMatrix returns a new matrix made of the given rows of m, in order.
func (m Matrix) SubMatrix(rows []int) Matrix {
	s := NewMatrix(len(rows), m.Cols())
	for i, r := range rows {
		copy(s[i], m[r])
	}
	return s
}

// Multiply computes m × other. m is r×n, other is n×c, the result is r×c.
func (m Matrix) Multiply(other Matrix) (Matrix, error) {
	if m.Cols() != other.Rows() {
		return nil, fmt.Errorf("field: matrix dimensions mismatch: %d×%d times %d×%d",
			m.Rows(), m.Cols(), other.Rows(), other.Cols())
	}
	result := NewMatrix(m.Rows(), other.Cols())
	for i := range m {
		for k, a := range m[i] {
			MulAddSlice(a, other[k], result[i])
		}
	}
	return result, nil
}

// Invert computes the inverse of a square matrix using Gauss-Jordan
// elimination. Pivots are searched only among nonzero entries at or below the
// diagonal; a column without one means the matrix is singular.
func (m Matrix) Invert() (Matrix, error) {
	n := m.Rows()
	if n != m.Cols() {
		return nil, fmt.Errorf("field: cannot invert a non-square %d×%d matrix", n, m.Cols())
	}

	work := m.Clone()
	inv := Identity(n)

	for i := 0; i < n; i++ {
		pivot := -1
		for r := i; r < n; r++ {
			if work[r][i] != 0 {
				pivot = r
				break
			}
		}
		if pivot == -1 {
			return nil, ErrSingular
		}

		if pivot != i {
			work[i], work[pivot] = work[pivot], work[i]
			inv[i], inv[pivot] = inv[pivot], inv[i]
		}

		// Normalize the pivot row
		if p := work[i][i]; p != 1 {
			scale := Inv(p)
			MulSlice(scale, work[i], work[i])
			MulSlice(scale, inv[i], inv[i])
		}

		// Eliminate other rows
		for r := 0; r < n; r++ {
			if r == i {
				continue
			}
			factor := work[r][i]
			if factor == 0 {
				continue
			}
			MulAddSlice(factor, work[i], work[r])
			MulAddSlice(factor, inv[i], inv[r])
		}
	}
	return inv, nil
}

// Rank returns the rank of m using forward elimination.
func (m Matrix) Rank() int {
	rows, cols := m.Rows(), m.Cols()
	a := m.Clone()

	rank := 0
	for col := 0; col < cols && rank < rows; col++ {
		pivot := -1
		for i := rank; i < rows; i++ {
			if a[i][col] != 0 {
				pivot = i
				break
			}
		}
		if pivot == -1 {
			continue
		}
		a[rank], a[pivot] = a[pivot], a[rank]

		inv := Inv(a[rank][col])
		for i := rank + 1; i < rows; i++ {
			if a[i][col] == 0 {
				continue
			}
			MulAddSlice(Mul(a[i][col], inv), a[rank], a[i])
		}
		rank++
	}
	return rank
}

// IsLinearlyIndependent reports whether the rows of m are linearly
// independent.
func (m Matrix) IsLinearlyIndependent() bool {
	if m.Rows() == 0 {
		return true
	}
	if m.Rows() > m.Cols() {
		return false
	}
	return m.Rank() == m.Rows()
}

// String formats m one row per line in hex.
func (m Matrix) String() string {
	var sb strings.Builder
	for i, row := range m {
		if i > 0 {
			sb.WriteByte('\n')
		}
		for j, v := range row {
			if j > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%02x", v)
		}
	}
	return sb.String()
}
