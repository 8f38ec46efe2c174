package main

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ppopth/ecstore/ec/encode/rs"

	"github.com/spf13/pflag"
)

// BenchmarkResult stores timing data for one (k, m, size) point
type BenchmarkResult struct {
	DataShards   int           `json:"data_shards"`
	ParityShards int           `json:"parity_shards"`
	ObjectSize   int           `json:"object_size"`
	ShardSize    int           `json:"shard_size"`
	Parallelism  int           `json:"parallelism"`
	Iterations   int           `json:"iterations"`
	Encode       time.Duration `json:"encode_ns"`      // Average time for Encode
	Reconstruct  time.Duration `json:"reconstruct_ns"` // Average time for Reconstruct with m data shards lost
	EncodeMBps   float64       `json:"encode_mbps"`
	DecodeMBps   float64       `json:"reconstruct_mbps"`
}

func main() {
	dataShards := pflag.IntP("data-shards", "k", 6, "Number of data shards")
	parityShards := pflag.IntP("parity-shards", "m", 3, "Number of parity shards")
	sizes := pflag.IntSlice("size", []int{4 << 10, 1 << 20, 16 << 20}, "Object sizes in bytes")
	iterations := pflag.Int("iterations", 20, "Number of iterations per benchmark")
	parallelism := pflag.Int("parallelism", 0, "Goroutines per call (0 means GOMAXPROCS)")
	outputFile := pflag.StringP("output", "o", "rs_benchmark.json", "Output file for benchmark results")
	pflag.Parse()

	var opts []rs.Option
	if *parallelism > 0 {
		opts = append(opts, rs.WithParallelism(*parallelism))
	}
	coder, err := rs.New(*dataShards, *parityShards, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create coder: %v\n", err)
		os.Exit(1)
	}
	defer coder.Close()

	fmt.Printf("Benchmarking Reed-Solomon %d+%d with %d iterations\n\n", *dataShards, *parityShards, *iterations)

	var results []BenchmarkResult
	for _, size := range *sizes {
		result, err := benchmark(coder, size, *iterations)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Benchmark of %d bytes failed: %v\n", size, err)
			os.Exit(1)
		}
		result.Parallelism = *parallelism
		fmt.Printf("  %10d bytes: encode %v (%.1f MB/s), reconstruct %v (%.1f MB/s)\n",
			size, result.Encode, result.EncodeMBps, result.Reconstruct, result.DecodeMBps)
		results = append(results, result)
	}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal results: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outputFile, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write results to file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nBenchmark results written to: %s\n", *outputFile)
}

func benchmark(coder *rs.Coder, size, iterations int) (BenchmarkResult, error) {
	result := BenchmarkResult{
		DataShards:   coder.DataShards(),
		ParityShards: coder.ParityShards(),
		ObjectSize:   size,
		ShardSize:    coder.ShardSize(size),
		Iterations:   iterations,
	}

	data := make([]byte, size)
	rand.Read(data)

	start := time.Now()
	var set *rs.ShardSet
	for i := 0; i < iterations; i++ {
		var err error
		if set, err = coder.Encode(data); err != nil {
			return result, err
		}
	}
	result.Encode = time.Since(start) / time.Duration(iterations)

	// Losing the first m data shards forces the full decode path.
	for i := 0; i < coder.ParityShards(); i++ {
		set.Remove(i)
	}
	start = time.Now()
	for i := 0; i < iterations; i++ {
		if _, err := coder.Reconstruct(set, size); err != nil {
			return result, err
		}
	}
	result.Reconstruct = time.Since(start) / time.Duration(iterations)

	result.EncodeMBps = throughput(size, result.Encode)
	result.DecodeMBps = throughput(size, result.Reconstruct)
	return result, nil
}

func throughput(size int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(size) / d.Seconds() / 1e6
}
