package rs

import (
	"fmt"
	"slices"
)

// Reconstruct recovers the original bytes from a partial shard set. Any k
// present shards suffice. When all data shards are present no algebra is
// needed and the data shards are joined directly. The set is not modified.
func (c *Coder) Reconstruct(set *ShardSet, originalSize int) ([]byte, error) {
	release, err := c.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	size, err := c.checkDecodable(set)
	if err != nil {
		return nil, err
	}
	if originalSize <= 0 || originalSize > size*c.dataShards {
		return nil, fmt.Errorf("%w: original size %d does not fit %d shards of %d bytes",
			ErrInvalidInput, originalSize, c.dataShards, size)
	}

	data := make([][]byte, c.dataShards)
	copy(data, set.shards[:c.dataShards])

	var missing []int
	for i := 0; i < c.dataShards; i++ {
		if data[i] == nil {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		recovered, err := c.solve(set, size, missing)
		if err != nil {
			return nil, err
		}
		for i, idx := range missing {
			data[idx] = recovered[i]
		}
	}
	return join(data, originalSize), nil
}

// ReconstructShards recomputes the listed absent shards and stores them in the
// set. Indices that are already present are left alone. A nil indices slice
// means every absent shard.
func (c *Coder) ReconstructShards(set *ShardSet, indices []int) error {
	release, err := c.acquire()
	if err != nil {
		return err
	}
	defer release()

	size, err := c.checkDecodable(set)
	if err != nil {
		return err
	}
	if indices == nil {
		indices = set.Missing()
	}

	var targets []int
	for _, idx := range indices {
		if idx < 0 || idx >= c.totalShards {
			return fmt.Errorf("%w: shard index %d out of range [0, %d)", ErrInvalidInput, idx, c.totalShards)
		}
		if !set.Has(idx) && !slices.Contains(targets, idx) {
			targets = append(targets, idx)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	slices.Sort(targets)

	recovered, err := c.solve(set, size, targets)
	if err != nil {
		return err
	}
	for i, idx := range targets {
		set.Set(idx, recovered[i])
	}
	return nil
}

// checkDecodable validates the set and makes sure at least k shards are
// present. It returns the shard size.
func (c *Coder) checkDecodable(set *ShardSet) (int, error) {
	size, err := set.validate(c.totalShards)
	if err != nil {
		return 0, err
	}
	if present := set.PresentCount(); present < c.dataShards {
		return 0, &InsufficientShardsError{Required: c.dataShards, Available: present}
	}
	return size, nil
}

// solve recomputes the shards at targets from the k lowest-index present
// shards.
//
// The chosen rows of the generator matrix form a k×k matrix A with A·D = R,
// where D are the data shards and R the chosen present shards. Inverting A
// gives D = A⁻¹·R, so the shard at row t of the generator is G[t]·A⁻¹·R. The
// product G[targets]·A⁻¹ gives one coefficient row per target, applied to R
// exactly as parity rows are applied to data on encode.
func (c *Coder) solve(set *ShardSet, size int, targets []int) ([][]byte, error) {
	chosen := make([]int, 0, c.dataShards)
	for i := 0; i < c.totalShards && len(chosen) < c.dataShards; i++ {
		if set.Has(i) {
			chosen = append(chosen, i)
		}
	}

	decodeMatrix, err := c.generator.SubMatrix(chosen).Invert()
	if err != nil {
		// Every k rows of a verified generator matrix are invertible.
		log.Errorf("generator rows %v failed to invert: %v", chosen, err)
		return nil, fmt.Errorf("%w: rows %v: %v", ErrInternalConsistency, chosen, err)
	}
	coeffs, err := c.generator.SubMatrix(targets).Multiply(decodeMatrix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalConsistency, err)
	}

	inputs := make([][]byte, len(chosen))
	for i, idx := range chosen {
		inputs[i] = set.shards[idx]
	}
	outputs := make([][]byte, len(targets))
	for i := range outputs {
		outputs[i] = make([]byte, size)
	}
	c.applyRows(coeffs, inputs, outputs)
	return outputs, nil
}

// join concatenates the data shards and truncates to originalSize.
func join(data [][]byte, originalSize int) []byte {
	out := make([]byte, 0, originalSize)
	for _, shard := range data {
		if len(out)+len(shard) >= originalSize {
			return append(out, shard[:originalSize-len(out)]...)
		}
		out = append(out, shard...)
	}
	return out
}
