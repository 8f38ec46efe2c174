// Package checksum computes the hex digests recorded for shards and objects.
package checksum

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/minio/sha256-simd"
	"github.com/zeebo/blake3"
)

// Algorithm names a digest function. The values are stored in object
// metadata, so they must not change.
type Algorithm string

const (
	// BLAKE3 is the default algorithm.
	BLAKE3 Algorithm = "blake3"
	// SHA256 uses a SIMD accelerated SHA-256.
	SHA256 Algorithm = "sha256"

	Default = BLAKE3
)

// Parse returns the algorithm with the given name. An empty name selects
// Default.
func Parse(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case "":
		return Default, nil
	case BLAKE3, SHA256:
		return Algorithm(name), nil
	default:
		return "", fmt.Errorf("unknown checksum algorithm: %q", name)
	}
}

func (a Algorithm) String() string {
	return string(a)
}

// New returns a fresh hasher for the algorithm.
func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case BLAKE3:
		return blake3.New(), nil
	case SHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unknown checksum algorithm: %q", string(a))
	}
}

// Sum returns the hex encoded digest of data.
func (a Algorithm) Sum(data []byte) (string, error) {
	switch a {
	case BLAKE3:
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	case SHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("unknown checksum algorithm: %q", string(a))
	}
}

// Verify reports whether data hashes to the expected hex digest.
func (a Algorithm) Verify(data []byte, expected string) (bool, error) {
	sum, err := a.Sum(data)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(sum), []byte(expected)) == 1, nil
}
