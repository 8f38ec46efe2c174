package heal

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/ppopth/ecstore/checksum"
	"github.com/ppopth/ecstore/ec/encode"
	"github.com/ppopth/ecstore/ec/encode/rs"
	"github.com/ppopth/ecstore/meta"
	"github.com/ppopth/ecstore/shard/memory"
)

func newTestHealer(t *testing.T, k, m int) (*Healer, *rs.Coder) {
	t.Helper()
	coder, err := rs.New(k, m)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { coder.Close() })
	return New(coder), coder
}

func TestClassify(t *testing.T) {
	tests := []struct {
		available int
		expected  Classification
	}{
		{9, Healthy},
		{8, Degraded},
		{6, Degraded},
		{5, Critical},
		{0, Critical},
	}
	for _, tt := range tests {
		if got := Classify(tt.available, 9, 6); got != tt.expected {
			t.Errorf("Classify(%d, 9, 6) = %s, expected %s", tt.available, got, tt.expected)
		}
	}
}

func TestStatus(t *testing.T) {
	h, _ := newTestHealer(t, 6, 3)

	status := h.Status([]int{0, 1, 3, 4, 6, 8})
	if status.Classification != Degraded || !status.CanDecode() {
		t.Errorf("expected degraded and decodable, got %s", status)
	}
	if !slices.Equal(status.Missing, []int{2, 5, 7}) {
		t.Errorf("expected missing [2 5 7], got %v", status.Missing)
	}

	status = h.Status([]int{0, 1, 2, 3, 4, 5, 6, 7, 8})
	if status.Classification != Healthy || len(status.Missing) != 0 {
		t.Errorf("expected healthy, got %s", status)
	}

	status = h.Status([]int{0, 0, 1, 2, 3, 42})
	if status.Classification != Critical || status.CanDecode() || status.Available != 4 {
		t.Errorf("expected critical with 4 available, got %s", status)
	}
}

func TestHealConcreteScenario(t *testing.T) {
	h, coder := newTestHealer(t, 6, 3)
	data := make([]byte, 1000)
	rand.New(rand.NewSource(1)).Read(data)
	full, err := coder.Encode(data)
	if err != nil {
		t.Fatal(err)
	}

	set := full.Clone()
	for _, i := range []int{2, 5, 7} {
		set.Remove(i)
	}

	result, err := h.Heal(set, len(data))
	if err != nil {
		t.Fatal(err)
	}
	if result.Status.Classification != Degraded || !result.Status.CanDecode() {
		t.Errorf("expected a degraded status, got %s", result.Status)
	}
	if !slices.Equal(result.Indices(), []int{2, 5, 7}) {
		t.Fatalf("expected shards [2 5 7], got %v", result.Indices())
	}
	for _, s := range result.Shards {
		want, _ := full.Get(s.Index)
		if !bytes.Equal(s.Data, want) {
			t.Errorf("shard %d differs from the original", s.Index)
		}
	}
	if set.PresentCount() != 6 {
		t.Errorf("Heal modified the input set")
	}

	again, err := h.Heal(set, len(data))
	if err != nil {
		t.Fatal(err)
	}
	for i := range result.Shards {
		if !bytes.Equal(result.Shards[i].Data, again.Shards[i].Data) {
			t.Errorf("second heal produced different bytes for shard %d", result.Shards[i].Index)
		}
	}
}

func TestHealHealthyIsNoop(t *testing.T) {
	h, coder := newTestHealer(t, 4, 2)
	full, err := coder.Encode([]byte("all shards present"))
	if err != nil {
		t.Fatal(err)
	}
	result, err := h.Heal(full, 18)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status.Classification != Healthy || len(result.Shards) != 0 {
		t.Errorf("expected a no-op, got %d shards", len(result.Shards))
	}
}

func TestHealCritical(t *testing.T) {
	h, coder := newTestHealer(t, 4, 2)
	full, err := coder.Encode([]byte("too few shards survive"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.Heal(full.Subset([]int{0, 5, 3}), 22)
	var insufficient *rs.InsufficientShardsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientShardsError, got %v", err)
	}
	if insufficient.Required != 4 || insufficient.Available != 3 {
		t.Errorf("unexpected error fields %+v", insufficient)
	}
}

// storeObject encodes data into store the way the object layer does and
// returns its metadata.
func storeObject(t *testing.T, coder *rs.Coder, store *memory.Store, id string, data []byte) *meta.Object {
	t.Helper()
	ctx := context.Background()
	set, err := coder.Encode(data)
	if err != nil {
		t.Fatal(err)
	}
	obj := &meta.Object{
		ID:                id,
		OriginalSize:      len(data),
		ShardSize:         set.ShardSize(),
		DataShards:        coder.DataShards(),
		ParityShards:      coder.ParityShards(),
		ChecksumAlgorithm: string(checksum.BLAKE3),
		ShardChecksums:    make([]string, coder.TotalShards()),
		CreatedAt:         time.Now(),
	}
	for _, s := range set.Shards() {
		sum, err := checksum.BLAKE3.Sum(s.Data)
		if err != nil {
			t.Fatal(err)
		}
		obj.ShardChecksums[s.Index] = sum
		if err := store.Put(ctx, id, s.Index, s.Data); err != nil {
			t.Fatal(err)
		}
	}
	return obj
}

func TestHealObject(t *testing.T) {
	h, coder := newTestHealer(t, 6, 3)
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	data := make([]byte, 1000)
	rand.New(rand.NewSource(2)).Read(data)
	obj := storeObject(t, coder, store, "obj", data)
	original := make(map[int][]byte)
	for i := 0; i < 9; i++ {
		original[i], _ = store.Get(ctx, "obj", i)
	}

	store.Delete(ctx, "obj", 2)
	store.Delete(ctx, "obj", 7)
	store.Corrupt("obj", 5)

	report, err := h.HealObject(ctx, store, obj)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(report.Corrupt, []int{5}) {
		t.Errorf("expected corrupt [5], got %v", report.Corrupt)
	}
	if !slices.Equal(report.Rewritten, []int{2, 5, 7}) {
		t.Errorf("expected rewritten [2 5 7], got %v", report.Rewritten)
	}
	if report.Status.Classification != Degraded {
		t.Errorf("expected degraded, got %s", report.Status)
	}
	for i := 0; i < 9; i++ {
		got, err := store.Get(ctx, "obj", i)
		if err != nil {
			t.Fatalf("shard %d: %v", i, err)
		}
		if !bytes.Equal(got, original[i]) {
			t.Errorf("shard %d differs after heal", i)
		}
	}

	report, err = h.HealObject(ctx, store, obj)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status.Classification != Healthy || len(report.Rewritten) != 0 {
		t.Errorf("expected a healthy no-op, got %+v", report)
	}
}

func TestHealObjectCriticalWritesNothing(t *testing.T) {
	h, coder := newTestHealer(t, 4, 2)
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	obj := storeObject(t, coder, store, "obj", []byte("a small object with four data shards"))
	for _, i := range []int{0, 1, 2} {
		store.Delete(ctx, "obj", i)
	}

	_, err := h.HealObject(ctx, store, obj)
	if !errors.Is(err, rs.ErrInsufficientShards) {
		t.Fatalf("expected ErrInsufficientShards, got %v", err)
	}
	present, _ := store.ListPresence(ctx, "obj")
	if !slices.Equal(present, []int{3, 4, 5}) {
		t.Errorf("expected no write-back, present shards are %v", present)
	}
}

func TestHealObjectWriteChecksumIsFatal(t *testing.T) {
	h, coder := newTestHealer(t, 4, 2)
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	obj := storeObject(t, coder, store, "obj", []byte("the recorded checksum is wrong"))
	store.Delete(ctx, "obj", 1)
	store.Delete(ctx, "obj", 4)
	obj.ShardChecksums[4] = "0000"

	_, err := h.HealObject(ctx, store, obj)
	if !errors.Is(err, ErrWriteChecksum) {
		t.Fatalf("expected ErrWriteChecksum, got %v", err)
	}
	present, _ := store.ListPresence(ctx, "obj")
	if !slices.Equal(present, []int{0, 2, 3, 5}) {
		t.Errorf("expected no write-back, present shards are %v", present)
	}
}

func TestHealObjectCodeMismatch(t *testing.T) {
	_, small := newTestHealer(t, 4, 2)
	h, _ := newTestHealer(t, 6, 3)
	store := memory.New()
	defer store.Close()

	obj := storeObject(t, small, store, "obj", []byte("encoded with four plus two"))
	if _, err := h.HealObject(context.Background(), store, obj); !errors.Is(err, ErrCodeMismatch) {
		t.Errorf("expected ErrCodeMismatch, got %v", err)
	}
}

func TestHealObjectWithCoderFunc(t *testing.T) {
	_, small := newTestHealer(t, 4, 2)
	_, large := newTestHealer(t, 6, 3)
	var asked [][2]int
	h := New(large, WithCoderFunc(func(k, m int) (encode.Coder, error) {
		asked = append(asked, [2]int{k, m})
		return small, nil
	}))
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	data := make([]byte, 500)
	rand.New(rand.NewSource(11)).Read(data)
	obj := storeObject(t, small, store, "obj", data)
	for _, i := range []int{1, 4} {
		if err := store.Delete(ctx, "obj", i); err != nil {
			t.Fatal(err)
		}
	}
	report, err := h.HealObject(ctx, store, obj)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(report.Rewritten, []int{1, 4}) {
		t.Errorf("expected shards [1 4] rewritten, got %v", report.Rewritten)
	}
	if report.Status.Total != 6 || report.Status.MinimumRequired != 4 {
		t.Errorf("expected the object's own 4+2 counts, got %s", report.Status)
	}
	if len(asked) != 1 || asked[0] != [2]int{4, 2} {
		t.Errorf("expected one lookup for 4+2, got %v", asked)
	}
}

func TestMalformedRecordIsRejected(t *testing.T) {
	h, coder := newTestHealer(t, 4, 2)
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	obj := storeObject(t, coder, store, "obj", []byte("a record missing checksums"))
	obj.ShardChecksums = obj.ShardChecksums[:3]
	if err := store.Delete(ctx, "obj", 5); err != nil {
		t.Fatal(err)
	}

	if _, err := h.HealObject(ctx, store, obj); err == nil {
		t.Errorf("expected HealObject to reject the record")
	}
	if _, _, err := h.Inspect(ctx, store, obj); err == nil {
		t.Errorf("expected Inspect to reject the record")
	}
	if _, err := VerifyShard(obj, checksum.BLAKE3, 5, make([]byte, obj.ShardSize)); err == nil {
		t.Errorf("expected VerifyShard to reject an index without a checksum")
	}
}

func TestInspect(t *testing.T) {
	h, coder := newTestHealer(t, 4, 2)
	store := memory.New()
	defer store.Close()
	ctx := context.Background()

	obj := storeObject(t, coder, store, "obj", []byte("inspect reads every shard"))
	store.Delete(ctx, "obj", 0)
	store.Corrupt("obj", 3)

	status, corrupt, err := h.Inspect(ctx, store, obj)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(corrupt, []int{3}) {
		t.Errorf("expected corrupt [3], got %v", corrupt)
	}
	if status.Available != 4 || !slices.Equal(status.Missing, []int{0, 3}) {
		t.Errorf("unexpected status %s, missing %v", status, status.Missing)
	}
	if present, _ := store.ListPresence(ctx, "obj"); len(present) != 5 {
		t.Errorf("Inspect must not modify the store")
	}
}
