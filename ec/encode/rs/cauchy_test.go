package rs

import (
	"errors"
	"math/rand"
	"slices"
	"testing"
)

// validPairs lists every (k, m) accepted by New.
func validPairs() [][2]int {
	var pairs [][2]int
	for k := MinDataShards; k <= MaxDataShards; k++ {
		for m := MinParityShards; m <= MaxParityShards && m <= k && k+m <= MaxTotalShards; m++ {
			pairs = append(pairs, [2]int{k, m})
		}
	}
	return pairs
}

func TestEveryKRowSubmatrixIsInvertible(t *testing.T) {
	pairs := validPairs()
	if testing.Short() {
		rng := rand.New(rand.NewSource(7))
		rng.Shuffle(len(pairs), func(i, j int) { pairs[i], pairs[j] = pairs[j], pairs[i] })
		pairs = pairs[:20]
	}

	rng := rand.New(rand.NewSource(8))
	for _, km := range pairs {
		k, m := km[0], km[1]
		n := k + m
		g, err := buildGeneratorMatrix(k, n)
		if err != nil {
			t.Fatalf("k=%d m=%d: %v", k, m, err)
		}
		if err := verifyGenerator(g, k); err != nil {
			t.Fatalf("k=%d m=%d: %v", k, m, err)
		}

		if binomialAtMost(n, k, 5000) {
			forEachCombination(n, k, func(rows []int) bool {
				if _, err := g.SubMatrix(rows).Invert(); err != nil {
					t.Errorf("k=%d m=%d: rows %v are singular", k, m, rows)
					return false
				}
				return true
			})
			continue
		}
		for i := 0; i < 50; i++ {
			rows := rng.Perm(n)[:k]
			slices.Sort(rows)
			if _, err := g.SubMatrix(rows).Invert(); err != nil {
				t.Errorf("k=%d m=%d: rows %v are singular", k, m, rows)
			}
		}
	}
}

func TestVerifyGeneratorRejectsSingularRows(t *testing.T) {
	g, err := buildGeneratorMatrix(3, 5)
	if err != nil {
		t.Fatal(err)
	}
	// Make parity row 3 a copy of data row 0, so rows {0, 3, x} are singular.
	copy(g[3], g[0])
	if err := verifyGenerator(g, 3); !errors.Is(err, ErrInternalConsistency) {
		t.Errorf("expected ErrInternalConsistency, got %v", err)
	}
}

func TestCheckCauchyPoints(t *testing.T) {
	tests := []struct {
		name     string
		rows     []byte
		cols     []byte
		hasError bool
	}{
		{"disjoint", []byte{3, 4, 5}, []byte{0, 1, 2}, false},
		{"overlap", []byte{2, 3}, []byte{0, 1, 2}, true},
		{"repeated row", []byte{3, 3}, []byte{0, 1}, true},
		{"zero row", []byte{0, 3}, []byte{1, 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkCauchyPoints(tt.rows, tt.cols)
			if (err != nil) != tt.hasError {
				t.Errorf("expected error %v, got %v", tt.hasError, err)
			}
		})
	}
}

func TestForEachCombination(t *testing.T) {
	var got [][]int
	forEachCombination(4, 2, func(rows []int) bool {
		got = append(got, slices.Clone(rows))
		return true
	})
	want := [][]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}
	if len(got) != len(want) {
		t.Fatalf("expected %d combinations, got %d", len(want), len(got))
	}
	for i := range want {
		if !slices.Equal(got[i], want[i]) {
			t.Errorf("combination %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	count := 0
	forEachCombination(10, 3, func([]int) bool {
		count++
		return count < 5
	})
	if count != 5 {
		t.Errorf("expected early stop after 5 calls, got %d", count)
	}
}

func TestBinomialAtMost(t *testing.T) {
	if !binomialAtMost(10, 5, 252) {
		t.Errorf("C(10,5) = 252 should be within 252")
	}
	if binomialAtMost(10, 5, 251) {
		t.Errorf("C(10,5) = 252 should exceed 251")
	}
	if binomialAtMost(48, 32, 1024) {
		t.Errorf("C(48,32) should exceed 1024")
	}
}

func TestParityRowsHaveNoZeros(t *testing.T) {
	// A zero at G[p][j] would make parity row p plus every data row but j
	// singular.
	for _, km := range [][2]int{{2, 1}, {6, 3}, {16, 8}} {
		g, err := buildGeneratorMatrix(km[0], km[0]+km[1])
		if err != nil {
			t.Fatal(err)
		}
		for _, row := range g[km[0]:] {
			for j, v := range row {
				if v == 0 {
					t.Errorf("k=%d m=%d: zero coefficient in column %d", km[0], km[1], j)
				}
			}
		}
	}
}
