package rs

import (
	"fmt"
	"math/rand"
	"slices"

	"github.com/ppopth/ecstore/ec/field"
)

const (
	// Generator matrices with at most this many k-row subsets are checked
	// exhaustively at construction.
	exhaustiveCheckLimit = 1024
	// Number of pseudo-random k-row subsets checked when the exhaustive
	// check is too expensive.
	sampledSubsetChecks = 256
)

// buildGeneratorMatrix creates the n×k systematic generator matrix.
//
// The construction starts from a Cauchy matrix C with C[i][j] = 1/(x_i + y_j),
// where the column points are y_j = j and the row points are x_i = k + i. The
// two sets are disjoint, so every denominator is nonzero, and every square
// submatrix of a Cauchy matrix is invertible. Multiplying C on the right by
// the inverse of its top k×k block A gives G = C·A⁻¹, whose first k rows are
// the identity (data shards are stored unmodified). Any k rows of G are the
// same rows of C times A⁻¹, so they stay invertible.
func buildGeneratorMatrix(dataShards, totalShards int) (field.Matrix, error) {
	rowPoints := make([]byte, totalShards)
	for i := range rowPoints {
		rowPoints[i] = byte(dataShards + i)
	}
	colPoints := make([]byte, dataShards)
	for j := range colPoints {
		colPoints[j] = byte(j)
	}
	if err := checkCauchyPoints(rowPoints, colPoints); err != nil {
		return nil, err
	}

	cauchy := field.NewMatrix(totalShards, dataShards)
	for i, x := range rowPoints {
		for j, y := range colPoints {
			cauchy[i][j] = field.Inv(x ^ y)
		}
	}

	top := cauchy.SubMatrix(seq(0, dataShards))
	topInv, err := top.Invert()
	if err != nil {
		return nil, fmt.Errorf("%w: top block of the Cauchy matrix: %v", ErrInternalConsistency, err)
	}
	generator, err := cauchy.Multiply(topInv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalConsistency, err)
	}
	if !generator.SubMatrix(seq(0, dataShards)).IsIdentity() {
		return nil, fmt.Errorf("%w: generator matrix is not systematic", ErrInternalConsistency)
	}
	return generator, nil
}

// checkCauchyPoints verifies that the row and column points are distinct
// within each set and disjoint across sets.
func checkCauchyPoints(rowPoints, colPoints []byte) error {
	var seen [256]bool
	for _, points := range [][]byte{rowPoints, colPoints} {
		for _, p := range points {
			if seen[p] {
				return fmt.Errorf("%w: Cauchy point %#x is used twice", ErrInternalConsistency, p)
			}
			seen[p] = true
		}
	}
	for _, x := range rowPoints {
		if x == 0 {
			return fmt.Errorf("%w: zero row point", ErrInternalConsistency)
		}
	}
	return nil
}

// verifyGenerator asserts that k-row submatrices of the generator matrix are
// invertible. Small codes are checked exhaustively. Larger ones are checked on
// every cyclic window of m erased rows plus a deterministic sample of
// subsets.
func verifyGenerator(generator field.Matrix, dataShards int) error {
	totalShards := generator.Rows()
	parityShards := totalShards - dataShards

	check := func(rows []int) error {
		if _, err := generator.SubMatrix(rows).Invert(); err != nil {
			return fmt.Errorf("%w: rows %v of the generator matrix are not invertible", ErrInternalConsistency, rows)
		}
		return nil
	}

	if binomialAtMost(totalShards, dataShards, exhaustiveCheckLimit) {
		var err error
		forEachCombination(totalShards, dataShards, func(rows []int) bool {
			err = check(rows)
			return err == nil
		})
		return err
	}

	for start := 0; start < totalShards; start++ {
		erased := make(map[int]bool, parityShards)
		for i := 0; i < parityShards; i++ {
			erased[(start+i)%totalShards] = true
		}
		rows := make([]int, 0, dataShards)
		for i := 0; i < totalShards; i++ {
			if !erased[i] {
				rows = append(rows, i)
			}
		}
		if err := check(rows); err != nil {
			return err
		}
	}

	rng := rand.New(rand.NewSource(int64(dataShards)<<8 | int64(parityShards)))
	for i := 0; i < sampledSubsetChecks; i++ {
		rows := rng.Perm(totalShards)[:dataShards]
		slices.Sort(rows)
		if err := check(rows); err != nil {
			return err
		}
	}
	return nil
}

// binomialAtMost reports whether C(n, k) <= limit without overflowing.
func binomialAtMost(n, k, limit int) bool {
	if k > n-k {
		k = n - k
	}
	c := 1
	for i := 1; i <= k; i++ {
		c = c * (n - k + i) / i
		if c > limit {
			return false
		}
	}
	return true
}

// forEachCombination calls fn with every k-subset of 0..n-1 in lexicographic
// order until fn returns false. The slice passed to fn is reused.
func forEachCombination(n, k int, fn func([]int) bool) {
	rows := seq(0, k)
	for {
		if !fn(rows) {
			return
		}
		i := k - 1
		for i >= 0 && rows[i] == n-k+i {
			i--
		}
		if i < 0 {
			return
		}
		rows[i]++
		for j := i + 1; j < k; j++ {
			rows[j] = rows[j-1] + 1
		}
	}
}

// seq returns the integers from start up to but not including end.
func seq(start, end int) []int {
	s := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		s = append(s, i)
	}
	return s
}
