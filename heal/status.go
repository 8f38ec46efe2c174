// Package heal classifies object health from shard presence and rebuilds
// lost shards.
package heal

import (
	"fmt"
	"slices"
)

// Classification is the health state of one object.
type Classification int

const (
	// Healthy means all n shards are available.
	Healthy Classification = iota
	// Degraded means at least k but fewer than n shards are available. The
	// object can be read and healed.
	Degraded
	// Critical means fewer than k shards are available. The object cannot
	// be reconstructed.
	Critical
)

func (c Classification) String() string {
	switch c {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// MarshalText lets the classification print by name in JSON output.
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Classify maps an available shard count onto a classification.
func Classify(available, total, minimum int) Classification {
	switch {
	case available >= total:
		return Healthy
	case available >= minimum:
		return Degraded
	default:
		return Critical
	}
}

// HealthStatus describes the shard availability of one object.
type HealthStatus struct {
	Available       int            `json:"available"`
	Total           int            `json:"total"`
	MinimumRequired int            `json:"minimumRequired"`
	Classification  Classification `json:"classification"`
	Missing         []int          `json:"missing"`
}

// CanDecode reports whether enough shards are available to reconstruct.
func (s HealthStatus) CanDecode() bool {
	return s.Available >= s.MinimumRequired
}

func (s HealthStatus) String() string {
	return fmt.Sprintf("%s (%d/%d available, %d required)", s.Classification, s.Available, s.Total, s.MinimumRequired)
}

// NewHealthStatus builds the status for a code with total shards of which
// minimum are needed, given the present indices. Duplicate and out of range
// indices are ignored.
func NewHealthStatus(present []int, total, minimum int) HealthStatus {
	have := make([]bool, total)
	available := 0
	for _, i := range present {
		if i >= 0 && i < total && !have[i] {
			have[i] = true
			available++
		}
	}
	missing := make([]int, 0, total-available)
	for i, ok := range have {
		if !ok {
			missing = append(missing, i)
		}
	}
	return HealthStatus{
		Available:       available,
		Total:           total,
		MinimumRequired: minimum,
		Classification:  Classify(available, total, minimum),
		Missing:         slices.Clip(missing),
	}
}
