package rs

import "fmt"

// Kind tells data shards from parity shards.
type Kind int

const (
	// KindData marks one of the first k shards, an unmodified block of input.
	KindData Kind = iota
	// KindParity marks one of the last m shards.
	KindParity
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindParity:
		return "parity"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Shard is one of the n equal-size pieces of an encoded object.
type Shard struct {
	Index int    // Position in the shard set, 0 to n-1
	Data  []byte // Shard bytes, always ShardSize long
}

// Kind returns whether the shard carries data or parity for a code with
// dataShards data shards.
func (s Shard) Kind(dataShards int) Kind {
	if s.Index < dataShards {
		return KindData
	}
	return KindParity
}

// ShardSet holds the n shard slots of one object. An absent shard is a nil
// slot. Sets are transient: built per encode or decode call and never
// retained by the coder.
type ShardSet struct {
	shards [][]byte
}

// NewShardSet returns a set of n absent shards.
func NewShardSet(n int) *ShardSet {
	return &ShardSet{shards: make([][]byte, n)}
}

// Len returns n, the number of slots.
func (s *ShardSet) Len() int {
	return len(s.shards)
}

// Set stores data at index. A nil data marks the shard absent.
func (s *ShardSet) Set(index int, data []byte) {
	s.shards[index] = data
}

// Remove marks the shard at index absent.
func (s *ShardSet) Remove(index int) {
	s.shards[index] = nil
}

// Get returns the shard bytes at index and whether it is present.
func (s *ShardSet) Get(index int) ([]byte, bool) {
	if index < 0 || index >= len(s.shards) {
		return nil, false
	}
	data := s.shards[index]
	return data, data != nil
}

// Has reports whether the shard at index is present.
func (s *ShardSet) Has(index int) bool {
	_, ok := s.Get(index)
	return ok
}

// Shard returns the shard at index; the bool is false when it is absent.
func (s *ShardSet) Shard(index int) (Shard, bool) {
	data, ok := s.Get(index)
	return Shard{Index: index, Data: data}, ok
}

// Present returns the present shard indices in ascending order.
func (s *ShardSet) Present() []int {
	present := make([]int, 0, len(s.shards))
	for i, data := range s.shards {
		if data != nil {
			present = append(present, i)
		}
	}
	return present
}

// Missing returns the absent shard indices in ascending order.
func (s *ShardSet) Missing() []int {
	var missing []int
	for i, data := range s.shards {
		if data == nil {
			missing = append(missing, i)
		}
	}
	return missing
}

// PresentCount returns the number of present shards.
func (s *ShardSet) PresentCount() int {
	count := 0
	for _, data := range s.shards {
		if data != nil {
			count++
		}
	}
	return count
}

// ShardSize returns the size of the present shards, or 0 if none is present.
func (s *ShardSet) ShardSize() int {
	for _, data := range s.shards {
		if data != nil {
			return len(data)
		}
	}
	return 0
}

// Shards returns the present shards in index order.
func (s *ShardSet) Shards() []Shard {
	shards := make([]Shard, 0, len(s.shards))
	for i, data := range s.shards {
		if data != nil {
			shards = append(shards, Shard{Index: i, Data: data})
		}
	}
	return shards
}

// Subset returns a new set sharing the bytes of the listed indices only.
func (s *ShardSet) Subset(indices []int) *ShardSet {
	sub := NewShardSet(len(s.shards))
	for _, i := range indices {
		sub.shards[i] = s.shards[i]
	}
	return sub
}

// Clone returns a deep copy of the set.
func (s *ShardSet) Clone() *ShardSet {
	c := NewShardSet(len(s.shards))
	for i, data := range s.shards {
		if data != nil {
			c.shards[i] = append([]byte(nil), data...)
		}
	}
	return c
}

// validate checks that the set has n slots and that all present shards share
// one nonzero size, which it returns.
func (s *ShardSet) validate(n int) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("%w: nil shard set", ErrInvalidInput)
	}
	if len(s.shards) != n {
		return 0, fmt.Errorf("%w: shard set has %d slots, expected %d", ErrInvalidInput, len(s.shards), n)
	}
	size := -1
	for i, data := range s.shards {
		if data == nil {
			continue
		}
		if size == -1 {
			size = len(data)
		}
		if len(data) != size {
			return 0, fmt.Errorf("%w: shard %d has size %d, expected %d", ErrInvalidInput, i, len(data), size)
		}
	}
	switch size {
	case -1:
		return 0, nil
	case 0:
		return 0, fmt.Errorf("%w: shards are empty", ErrInvalidInput)
	}
	return size, nil
}
