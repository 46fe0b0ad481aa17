package workflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethpandaops/arewefast/pkg/results"
	"github.com/ethpandaops/arewefast/pkg/store"
	"github.com/ethpandaops/arewefast/pkg/toolrunner"
	"github.com/ethpandaops/arewefast/pkg/upload"
	"github.com/sirupsen/logrus"
)

// Compiler flags selecting a benchmark mode.
const (
	flagThroughput  = "--Xbenchmark-throughput"
	flagPhases      = "--Xbenchmark-phases"
	flagIncremental = "--Xbenchmark-incremental"
	flagCodeSize    = "--Xbenchmark-code-size"
	flagBenchmark   = "--benchmark"
	flagJSON        = "--json"
)

func (d *dispatcher) runThroughput(ctx context.Context) error {
	out, err := d.benchmark(ctx, CommandThroughput, flagThroughput, flagJSON)
	if err != nil {
		return err
	}

	rec, err := results.ParseThroughput(out)
	if err != nil {
		return err
	}

	return d.withStore(ctx, func(st store.Store) error {
		return st.InsertThroughput(ctx, rec)
	})
}

func (d *dispatcher) phasesWorkflow(kind store.PhaseKind) func(context.Context) error {
	command, flag := CommandPhases, flagPhases
	if kind == store.PhaseKindIncremental {
		command, flag = CommandIncremental, flagIncremental
	}

	return func(ctx context.Context) error {
		out, err := d.benchmark(ctx, command, flag, flagJSON)
		if err != nil {
			return err
		}

		recs, err := results.ParsePhases(out)
		if err != nil {
			return err
		}

		return d.withStore(ctx, func(st store.Store) error {
			if err := st.InsertPhases(ctx, kind, recs); err != nil {
				return err
			}

			d.log.WithFields(logrus.Fields{
				"table": kind.Table(),
				"rows":  len(recs),
			}).Info("Phase timings recorded")

			return nil
		})
	}
}

func (d *dispatcher) runCodeSize(ctx context.Context) error {
	out, err := d.benchmark(ctx, CommandCodeSize, flagCodeSize, flagJSON)
	if err != nil {
		return err
	}

	rec, err := results.ParseCodeSize(out)
	if err != nil {
		return err
	}

	return d.withStore(ctx, func(st store.Store) error {
		return st.InsertCodeSize(ctx, rec)
	})
}

func (d *dispatcher) runBenchmarks(ctx context.Context) error {
	out, err := d.benchmark(ctx, CommandBenchmarks,
		flagBenchmark, flagJSON, d.cfg.BenchmarkListPath())
	if err != nil {
		return err
	}

	recs, err := results.ParseBenchmarks(out)
	if err != nil {
		return err
	}

	return d.withStore(ctx, func(st store.Store) error {
		if err := st.InsertBenchmarks(ctx, recs); err != nil {
			return err
		}

		d.log.WithField("rows", len(recs)).Info("Benchmark timings recorded")

		return nil
	})
}

// benchmark runs the compiler jar with args and returns its stdout. The raw
// output is archived when an archive is configured.
func (d *dispatcher) benchmark(ctx context.Context, command string, args ...string) ([]byte, error) {
	info := d.hostInfo(ctx, d.log)

	res, err := d.runner.Run(ctx, toolrunner.Command{
		Name: d.cfg.Toolchain.Java,
		Args: append([]string{"-jar", d.cfg.JarPath()}, args...),
	})
	if err != nil {
		return nil, fmt.Errorf("running benchmark: %w", err)
	}

	out := []byte(res.Stdout)

	if d.archive != nil {
		obj := &upload.Object{
			Command: command,
			Time:    time.Now(),
			Host:    info.Hostname,
			Body:    out,
			Metadata: map[string]string{
				"os":        info.OS,
				"arch":      info.Arch,
				"cpu-model": info.CPUModel,
				"cpu-cores": strconv.Itoa(info.CPUCores),
				"elapsed":   res.Elapsed.String(),
			},
		}

		// Archiving is best effort; the metrics are still recorded.
		if _, err := d.archive.Upload(ctx, obj); err != nil {
			d.log.WithError(err).Warn("Failed to archive raw benchmark output")
		}
	}

	return out, nil
}
