// Package results turns the output of the compiler's benchmark modes and of
// git log into store records.
package results

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethpandaops/arewefast/pkg/store"
)

// ErrMalformedOutput is returned when tool output is not the expected JSON.
var ErrMalformedOutput = errors.New("malformed tool output")

// throughputOutput mirrors --Xbenchmark-throughput --json.
type throughputOutput struct {
	Lines      int64 `json:"lines"`
	Threads    int64 `json:"threads"`
	Iterations int64 `json:"iterations"`
	Throughput struct {
		Min    float64 `json:"min"`
		Max    float64 `json:"max"`
		Avg    float64 `json:"avg"`
		Median float64 `json:"median"`
	} `json:"throughput"`
}

// phasesOutput mirrors --Xbenchmark-phases and --Xbenchmark-incremental.
type phasesOutput struct {
	Lines      int64 `json:"lines"`
	Threads    int64 `json:"threads"`
	Iterations int64 `json:"iterations"`
	Phases     []struct {
		Phase string  `json:"phase"`
		Time  float64 `json:"time"`
	} `json:"phases"`
}

// codeSizeOutput mirrors --Xbenchmark-code-size --json.
type codeSizeOutput struct {
	Lines    int64 `json:"lines"`
	CodeSize int64 `json:"codeSize"`
}

// benchmarksOutput mirrors --benchmark --json.
type benchmarksOutput struct {
	Threads    int64 `json:"threads"`
	Benchmarks []struct {
		Name string  `json:"name"`
		Time float64 `json:"time"`
	} `json:"benchmarks"`
}

// ParseThroughput parses the throughput benchmark output.
func ParseThroughput(data []byte) (*store.ThroughputRecord, error) {
	var out throughputOutput
	if err := decode(data, &out); err != nil {
		return nil, err
	}

	return &store.ThroughputRecord{
		Lines:      out.Lines,
		Threads:    out.Threads,
		Iterations: out.Iterations,
		Min:        out.Throughput.Min,
		Max:        out.Throughput.Max,
		Avg:        out.Throughput.Avg,
		Median:     out.Throughput.Median,
	}, nil
}

// ParsePhases parses full or incremental phase timings into one record per
// phase, each carrying the run's lines, threads and iterations.
func ParsePhases(data []byte) ([]*store.PhaseRecord, error) {
	var out phasesOutput
	if err := decode(data, &out); err != nil {
		return nil, err
	}

	records := make([]*store.PhaseRecord, 0, len(out.Phases))
	for _, p := range out.Phases {
		records = append(records, &store.PhaseRecord{
			Phase:      p.Phase,
			Lines:      out.Lines,
			Threads:    out.Threads,
			Iterations: out.Iterations,
			Seconds:    p.Time,
		})
	}

	return records, nil
}

// ParseCodeSize parses the code size benchmark output.
func ParseCodeSize(data []byte) (*store.CodeSizeRecord, error) {
	var out codeSizeOutput
	if err := decode(data, &out); err != nil {
		return nil, err
	}

	return &store.CodeSizeRecord{
		Lines: out.Lines,
		Bytes: out.CodeSize,
	}, nil
}

// ParseBenchmarks parses the benchmark suite output into one record per
// benchmark, each carrying the run's thread count.
func ParseBenchmarks(data []byte) ([]*store.BenchmarkRecord, error) {
	var out benchmarksOutput
	if err := decode(data, &out); err != nil {
		return nil, err
	}

	records := make([]*store.BenchmarkRecord, 0, len(out.Benchmarks))
	for _, b := range out.Benchmarks {
		records = append(records, &store.BenchmarkRecord{
			Threads: out.Threads,
			Name:    b.Name,
			Seconds: b.Time,
		})
	}

	return records, nil
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}

	return nil
}
