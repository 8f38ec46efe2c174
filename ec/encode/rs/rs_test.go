package rs

import (
	"bytes"
	"errors"
	"math/rand"
	"sync"
	"testing"
)

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}

func mustNew(t testing.TB, k, m int, opts ...Option) *Coder {
	t.Helper()
	c, err := New(k, m, opts...)
	if err != nil {
		t.Fatalf("New(%d, %d) failed: %v", k, m, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewBounds(t *testing.T) {
	tests := []struct {
		name  string
		k, m  int
		valid bool
	}{
		{"smallest", 2, 1, true},
		{"typical", 6, 3, true},
		{"m equals k", 16, 16, true},
		{"largest total", 32, 16, true},
		{"k too small", 1, 1, false},
		{"k too large", 33, 1, false},
		{"m zero", 4, 0, false},
		{"m too large", 32, 17, false},
		{"m exceeds k", 4, 5, false},
		{"negative", -1, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.k, tt.m)
			if tt.valid {
				if err != nil {
					t.Fatalf("New(%d, %d) failed: %v", tt.k, tt.m, err)
				}
				c.Close()
				return
			}
			if !errors.Is(err, ErrInvalidConfiguration) {
				t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
			}
			if c != nil {
				t.Errorf("expected nil coder on error")
			}
		})
	}
}

func TestNewOptions(t *testing.T) {
	c := mustNew(t, 4, 2, WithMaxInputSize(100), WithParallelism(3), WithMaxConcurrentCalls(2))
	if c.MaxInputSize() != 100 {
		t.Errorf("expected max input size 100, got %d", c.MaxInputSize())
	}
	if c.parallelism != 3 {
		t.Errorf("expected parallelism 3, got %d", c.parallelism)
	}

	for _, opt := range []Option{WithMaxInputSize(0), WithParallelism(-1), WithMaxConcurrentCalls(0)} {
		if _, err := New(4, 2, opt); !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("expected ErrInvalidConfiguration, got %v", err)
		}
	}

	c, err := NewFromConfig(Config{DataShards: 4, ParityShards: 2, MaxInputSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.MaxInputSize() != 10 {
		t.Errorf("expected max input size 10, got %d", c.MaxInputSize())
	}
}

func TestGeneratorIsSystematic(t *testing.T) {
	c := mustNew(t, 5, 3)
	g, err := c.GeneratorMatrix()
	if err != nil {
		t.Fatal(err)
	}
	if g.Rows() != 8 || g.Cols() != 5 {
		t.Fatalf("expected 8x5 generator matrix, got %dx%d", g.Rows(), g.Cols())
	}
	if !g.SubMatrix(seq(0, 5)).IsIdentity() {
		t.Errorf("top block is not the identity:\n%s", g)
	}
	// The returned matrix is a copy.
	g[0][0] = 9
	again, _ := c.GeneratorMatrix()
	if again[0][0] != 1 {
		t.Errorf("GeneratorMatrix exposed internal state")
	}
}

func TestEncodeReconstructRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, km := range [][2]int{{2, 1}, {4, 2}, {6, 3}, {10, 4}, {16, 16}, {32, 16}} {
		c := mustNew(t, km[0], km[1])
		for _, size := range []int{1, 2, km[0] - 1, km[0], km[0] + 1, 1000, 4096 + 7} {
			if size <= 0 {
				continue
			}
			data := randomBytes(rng, size)
			set, err := c.Encode(data)
			if err != nil {
				t.Fatalf("k=%d m=%d size=%d: encode failed: %v", km[0], km[1], size, err)
			}
			if set.PresentCount() != c.TotalShards() {
				t.Fatalf("expected %d shards, got %d", c.TotalShards(), set.PresentCount())
			}
			if set.ShardSize() != c.ShardSize(size) {
				t.Fatalf("expected shard size %d, got %d", c.ShardSize(size), set.ShardSize())
			}
			got, err := c.Reconstruct(set, size)
			if err != nil {
				t.Fatalf("k=%d m=%d size=%d: reconstruct failed: %v", km[0], km[1], size, err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("k=%d m=%d size=%d: round trip mismatch", km[0], km[1], size)
			}
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	c := mustNew(t, 6, 3)
	data := randomBytes(rand.New(rand.NewSource(2)), 500)
	a, err := c.Encode(data)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encode(data)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < c.TotalShards(); i++ {
		x, _ := a.Get(i)
		y, _ := b.Get(i)
		if !bytes.Equal(x, y) {
			t.Errorf("shard %d differs between encodes", i)
		}
	}
}

func TestEncodeInvalidInput(t *testing.T) {
	c := mustNew(t, 4, 2, WithMaxInputSize(16))
	for _, data := range [][]byte{nil, {}, make([]byte, 17)} {
		set, err := c.Encode(data)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("len %d: expected ErrInvalidInput, got %v", len(data), err)
		}
		if set != nil {
			t.Errorf("len %d: expected no shards on error", len(data))
		}
	}
	if _, err := c.Encode(make([]byte, 16)); err != nil {
		t.Errorf("input at the limit rejected: %v", err)
	}
}

func TestPadding(t *testing.T) {
	c := mustNew(t, 6, 3)
	data := []byte("hello, world!")
	if len(data) != 13 {
		t.Fatal("test input must be 13 bytes")
	}
	set, err := c.Encode(data)
	if err != nil {
		t.Fatal(err)
	}
	if set.ShardSize() != 3 {
		t.Fatalf("expected shard size 3, got %d", set.ShardSize())
	}

	padded := append(append([]byte(nil), data...), make([]byte, 18-13)...)
	for i := 0; i < 6; i++ {
		shard, _ := set.Get(i)
		if !bytes.Equal(shard, padded[i*3:(i+1)*3]) {
			t.Errorf("data shard %d = %v, expected %v", i, shard, padded[i*3:(i+1)*3])
		}
	}
	last, _ := set.Get(5)
	if !bytes.Equal(last, []byte{0, 0, 0}) {
		t.Errorf("expected an all-padding last data shard, got %v", last)
	}

	got, err := c.Reconstruct(set, 13)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("expected %q, got %q", data, got)
	}
}

func TestAnySubsetRecovers(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, km := range [][2]int{{2, 1}, {3, 3}, {4, 3}, {5, 2}} {
		k, m := km[0], km[1]
		n := k + m
		c := mustNew(t, k, m)
		data := randomBytes(rng, 97)
		full, err := c.Encode(data)
		if err != nil {
			t.Fatal(err)
		}

		for mask := 0; mask < 1<<n; mask++ {
			var indices []int
			for i := 0; i < n; i++ {
				if mask&(1<<i) != 0 {
					indices = append(indices, i)
				}
			}
			partial := full.Subset(indices)
			got, err := c.Reconstruct(partial, len(data))
			if len(indices) < k {
				var insufficient *InsufficientShardsError
				if !errors.As(err, &insufficient) {
					t.Fatalf("k=%d m=%d subset %v: expected InsufficientShardsError, got %v", k, m, indices, err)
				}
				if insufficient.Required != k || insufficient.Available != len(indices) {
					t.Errorf("subset %v: got %+v", indices, insufficient)
				}
				if !errors.Is(err, ErrInsufficientShards) {
					t.Errorf("InsufficientShardsError does not match ErrInsufficientShards")
				}
				continue
			}
			if err != nil {
				t.Fatalf("k=%d m=%d subset %v: reconstruct failed: %v", k, m, indices, err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("k=%d m=%d subset %v: wrong bytes", k, m, indices)
			}
		}
	}
}

func TestReconstructDoesNotModifySet(t *testing.T) {
	c := mustNew(t, 4, 2)
	full, err := c.Encode([]byte("some bytes to spread"))
	if err != nil {
		t.Fatal(err)
	}
	partial := full.Subset([]int{1, 3, 4, 5})
	if _, err := c.Reconstruct(partial, 20); err != nil {
		t.Fatal(err)
	}
	if got := partial.Present(); len(got) != 4 {
		t.Errorf("expected 4 present shards after reconstruct, got %v", got)
	}
}

func TestReconstructInvalidInput(t *testing.T) {
	c := mustNew(t, 4, 2)
	full, err := c.Encode(make([]byte, 40))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("nil set", func(t *testing.T) {
		if _, err := c.Reconstruct(nil, 40); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
	t.Run("wrong slot count", func(t *testing.T) {
		if _, err := c.Reconstruct(NewShardSet(5), 40); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
	t.Run("mixed sizes", func(t *testing.T) {
		set := full.Clone()
		set.Set(2, make([]byte, 3))
		if _, err := c.Reconstruct(set, 40); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
	t.Run("original size too large", func(t *testing.T) {
		if _, err := c.Reconstruct(full, 41); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
	t.Run("original size zero", func(t *testing.T) {
		if _, err := c.Reconstruct(full, 0); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
	t.Run("empty set", func(t *testing.T) {
		_, err := c.Reconstruct(NewShardSet(6), 40)
		if !errors.Is(err, ErrInsufficientShards) {
			t.Errorf("expected ErrInsufficientShards, got %v", err)
		}
	})
}

func TestConcreteScenario(t *testing.T) {
	c := mustNew(t, 6, 3)
	data := randomBytes(rand.New(rand.NewSource(4)), 1000)
	full, err := c.Encode(data)
	if err != nil {
		t.Fatal(err)
	}
	if full.Len() != 9 || full.ShardSize() != 167 {
		t.Fatalf("expected 9 shards of 167 bytes, got %d of %d", full.Len(), full.ShardSize())
	}

	partial := full.Clone()
	for _, i := range []int{2, 5, 7} {
		partial.Remove(i)
	}
	if partial.PresentCount() != 6 {
		t.Fatalf("expected 6 present shards, got %d", partial.PresentCount())
	}
	got, err := c.Reconstruct(partial, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("reconstructed bytes differ from the input")
	}

	if err := c.ReconstructShards(partial, nil); err != nil {
		t.Fatal(err)
	}
	for _, i := range []int{2, 5, 7} {
		want, _ := full.Get(i)
		have, ok := partial.Get(i)
		if !ok || !bytes.Equal(have, want) {
			t.Errorf("shard %d was not rebuilt correctly", i)
		}
	}
}

func TestReconstructShards(t *testing.T) {
	c := mustNew(t, 5, 3)
	full, err := c.Encode(randomBytes(rand.New(rand.NewSource(5)), 333))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("selected indices only", func(t *testing.T) {
		set := full.Subset([]int{0, 2, 3, 6, 7})
		if err := c.ReconstructShards(set, []int{1, 5, 2}); err != nil {
			t.Fatal(err)
		}
		for _, i := range []int{0, 1, 2, 3, 5, 6, 7} {
			want, _ := full.Get(i)
			if have, ok := set.Get(i); !ok || !bytes.Equal(have, want) {
				t.Errorf("shard %d wrong after reconstruct", i)
			}
		}
		if set.Has(4) {
			t.Errorf("shard 4 was not requested but is present")
		}
	})

	t.Run("out of range", func(t *testing.T) {
		set := full.Subset([]int{0, 1, 2, 3, 4})
		if err := c.ReconstructShards(set, []int{8}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("nothing missing", func(t *testing.T) {
		set := full.Clone()
		if err := c.ReconstructShards(set, nil); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("too few", func(t *testing.T) {
		set := full.Subset([]int{0, 1, 7})
		if err := c.ReconstructShards(set, nil); !errors.Is(err, ErrInsufficientShards) {
			t.Errorf("expected ErrInsufficientShards, got %v", err)
		}
		if set.PresentCount() != 3 {
			t.Errorf("set was modified on failure")
		}
	})
}

func TestVerify(t *testing.T) {
	c := mustNew(t, 4, 2)
	set, err := c.Encode([]byte("verify me please"))
	if err != nil {
		t.Fatal(err)
	}
	ok, err := c.Verify(set)
	if err != nil || !ok {
		t.Fatalf("expected a fresh encoding to verify, got %v, %v", ok, err)
	}

	parity, _ := set.Get(5)
	parity[0] ^= 0xff
	if ok, _ := c.Verify(set); ok {
		t.Errorf("corrupted parity verified")
	}

	set.Remove(0)
	if _, err := c.Verify(set); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for a partial set, got %v", err)
	}
}

func TestParallelMatchesSerial(t *testing.T) {
	data := randomBytes(rand.New(rand.NewSource(6)), 3*parallelChunkSize+123)
	serial := mustNew(t, 4, 3, WithParallelism(1))
	parallel := mustNew(t, 4, 3, WithParallelism(4))

	a, err := serial.Encode(data)
	if err != nil {
		t.Fatal(err)
	}
	b, err := parallel.Encode(data)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 7; i++ {
		x, _ := a.Get(i)
		y, _ := b.Get(i)
		if !bytes.Equal(x, y) {
			t.Fatalf("shard %d differs between serial and parallel encode", i)
		}
	}

	partial := b.Subset([]int{3, 4, 5, 6})
	got, err := parallel.Reconstruct(partial, len(data))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("parallel reconstruct mismatch")
	}
}

func TestClose(t *testing.T) {
	c, err := New(4, 2)
	if err != nil {
		t.Fatal(err)
	}
	set, err := c.Encode([]byte("before close"))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	if _, err := c.Encode([]byte("after close")); !errors.Is(err, ErrClosed) {
		t.Errorf("Encode: expected ErrClosed, got %v", err)
	}
	if _, err := c.Reconstruct(set, 12); !errors.Is(err, ErrClosed) {
		t.Errorf("Reconstruct: expected ErrClosed, got %v", err)
	}
	if err := c.ReconstructShards(set, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("ReconstructShards: expected ErrClosed, got %v", err)
	}
	if _, err := c.Verify(set); !errors.Is(err, ErrClosed) {
		t.Errorf("Verify: expected ErrClosed, got %v", err)
	}
	if _, err := c.GeneratorMatrix(); !errors.Is(err, ErrClosed) {
		t.Errorf("GeneratorMatrix: expected ErrClosed, got %v", err)
	}
}

func TestConcurrentUse(t *testing.T) {
	c := mustNew(t, 6, 3, WithMaxConcurrentCalls(3))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 20; i++ {
				data := randomBytes(rng, 1+rng.Intn(2000))
				set, err := c.Encode(data)
				if err != nil {
					errs <- err
					return
				}
				perm := rng.Perm(9)
				for _, idx := range perm[:3] {
					set.Remove(idx)
				}
				got, err := c.Reconstruct(set, len(data))
				if err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(got, data) {
					errs <- errors.New("round trip mismatch")
					return
				}
			}
		}(int64(g))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCloseWhileInUse(t *testing.T) {
	c, err := New(4, 2)
	if err != nil {
		t.Fatal(err)
	}
	data := make([]byte, 4096)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				set, err := c.Encode(data)
				if errors.Is(err, ErrClosed) {
					return
				}
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if set.PresentCount() != 6 {
					t.Errorf("incomplete shard set from an admitted call")
					return
				}
			}
		}()
	}
	c.Close()
	wg.Wait()
	if _, err := c.Encode(data); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
