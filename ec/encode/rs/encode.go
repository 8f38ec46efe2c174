package rs

import (
	"bytes"
	"fmt"

	"github.com/ppopth/ecstore/ec/field"

	"golang.org/x/sync/errgroup"
)

// Rows are split into byte ranges of this size when a call is large enough
// to run in parallel.
const parallelChunkSize = 64 << 10

// Encode splits data into k data shards of ceil(len(data)/k) bytes, the last
// one zero-padded, and computes m parity shards. All n shards of the returned
// set are present. The caller must keep len(data) to strip the padding on
// Reconstruct.
func (c *Coder) Encode(data []byte) (*ShardSet, error) {
	release, err := c.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidInput)
	}
	if len(data) > c.maxInputSize {
		return nil, fmt.Errorf("%w: input of %d bytes exceeds the maximum of %d", ErrInvalidInput, len(data), c.maxInputSize)
	}
	shardSize := c.ShardSize(len(data))
	if shardSize == 0 {
		return nil, fmt.Errorf("%w: shard size is zero", ErrInvalidInput)
	}

	set := c.split(data, shardSize)
	c.applyRows(c.parity, set.shards[:c.dataShards], set.shards[c.dataShards:])
	return set, nil
}

// split copies data into n contiguous shards of shardSize bytes. The parity
// shards are left zeroed.
func (c *Coder) split(data []byte, shardSize int) *ShardSet {
	buf := make([]byte, c.totalShards*shardSize)
	copy(buf, data)

	set := NewShardSet(c.totalShards)
	for i := range set.shards {
		set.shards[i] = buf[i*shardSize : (i+1)*shardSize : (i+1)*shardSize]
	}
	return set
}

// Verify recomputes the parity of a complete shard set and reports whether it
// matches the stored parity shards.
func (c *Coder) Verify(set *ShardSet) (bool, error) {
	release, err := c.acquire()
	if err != nil {
		return false, err
	}
	defer release()

	size, err := set.validate(c.totalShards)
	if err != nil {
		return false, err
	}
	if n := set.PresentCount(); n != c.totalShards {
		return false, fmt.Errorf("%w: verify needs all %d shards, have %d", ErrInvalidInput, c.totalShards, n)
	}

	parity := make([][]byte, c.parityShards)
	for i := range parity {
		parity[i] = make([]byte, size)
	}
	c.applyRows(c.parity, set.shards[:c.dataShards], parity)
	for i, p := range parity {
		if !bytes.Equal(p, set.shards[c.dataShards+i]) {
			return false, nil
		}
	}
	return true, nil
}

// applyRows computes outputs[r][b] = XOR over j of coeffs[r][j] * inputs[j][b].
// The outputs must be zeroed and as long as the inputs. Large calls are split
// across rows and byte ranges.
func (c *Coder) applyRows(coeffs field.Matrix, inputs, outputs [][]byte) {
	if len(outputs) == 0 {
		return
	}
	size := len(inputs[0])
	if c.parallelism <= 1 || size*len(outputs) < 2*parallelChunkSize {
		for r := range outputs {
			codeRange(coeffs[r], inputs, outputs[r], 0, size)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(c.parallelism)
	for r := range outputs {
		for start := 0; start < size; start += parallelChunkSize {
			end := min(start+parallelChunkSize, size)
			g.Go(func() error {
				codeRange(coeffs[r], inputs, outputs[r], start, end)
				return nil
			})
		}
	}
	// Tasks never fail.
	_ = g.Wait()
}

// codeRange applies one coefficient row to bytes [start, end) of the inputs.
func codeRange(coeff []byte, inputs [][]byte, out []byte, start, end int) {
	dst := out[start:end]
	for j, cj := range coeff {
		field.MulAddSlice(cj, inputs[j][start:end], dst)
	}
}
