// Package workflow maps command names to the work they perform.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/arewefast/pkg/annotation"
	"github.com/ethpandaops/arewefast/pkg/config"
	"github.com/ethpandaops/arewefast/pkg/hostinfo"
	"github.com/ethpandaops/arewefast/pkg/results"
	"github.com/ethpandaops/arewefast/pkg/source"
	"github.com/ethpandaops/arewefast/pkg/store"
	"github.com/ethpandaops/arewefast/pkg/toolrunner"
	"github.com/ethpandaops/arewefast/pkg/upload"
	"github.com/sirupsen/logrus"
)

// Command names.
const (
	CommandBuild       = "build"
	CommandTest        = "test"
	CommandThroughput  = "throughput"
	CommandPhases      = "phases"
	CommandIncremental = "incremental"
	CommandCodeSize    = "codesize"
	CommandBenchmarks  = "benchmarks"
	CommandCommits     = "commits"
	CommandAnnotations = "annotations"
)

var (
	// ErrUnknownCommand is returned for a command name that maps to no
	// workflow. Nothing has been run when it is returned.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrMissingToken is returned when annotations are requested without a
	// dashboard token.
	ErrMissingToken = errors.New("annotations require a dashboard token")
)

// Commands returns every supported command name.
func Commands() []string {
	return []string{
		CommandBuild,
		CommandTest,
		CommandThroughput,
		CommandPhases,
		CommandIncremental,
		CommandCodeSize,
		CommandBenchmarks,
		CommandCommits,
		CommandAnnotations,
	}
}

// Dispatcher runs one command.
type Dispatcher interface {
	// Dispatch synchronizes the source checkout and then runs the workflow
	// named by command.
	Dispatch(ctx context.Context, command string) error
}

// Compile-time interface check.
var _ Dispatcher = (*dispatcher)(nil)

type dispatcher struct {
	log       logrus.FieldLogger
	cfg       *config.Config
	runner    toolrunner.Runner
	source    source.Synchronizer
	store     store.Store
	publisher annotation.Publisher
	// archive is nil when raw output archiving is disabled.
	archive  upload.Uploader
	hostInfo func(context.Context, logrus.FieldLogger) *hostinfo.SystemInfo

	workflows map[string]func(context.Context) error
}

// NewDispatcher creates a Dispatcher. archive may be nil.
func NewDispatcher(
	log logrus.FieldLogger,
	cfg *config.Config,
	runner toolrunner.Runner,
	src source.Synchronizer,
	st store.Store,
	publisher annotation.Publisher,
	archive upload.Uploader,
) Dispatcher {
	d := &dispatcher{
		log:       log.WithField("component", "dispatcher"),
		cfg:       cfg,
		runner:    runner,
		source:    src,
		store:     st,
		publisher: publisher,
		archive:   archive,
		hostInfo:  hostinfo.Log,
	}

	d.workflows = map[string]func(context.Context) error{
		CommandBuild:       d.runBuild,
		CommandTest:        d.runTest,
		CommandThroughput:  d.runThroughput,
		CommandPhases:      d.phasesWorkflow(store.PhaseKindFull),
		CommandIncremental: d.phasesWorkflow(store.PhaseKindIncremental),
		CommandCodeSize:    d.runCodeSize,
		CommandBenchmarks:  d.runBenchmarks,
		CommandCommits:     d.runCommits,
		CommandAnnotations: d.runAnnotations,
	}

	return d
}

func (d *dispatcher) Dispatch(ctx context.Context, command string) error {
	workflow, ok := d.workflows[command]
	if !ok {
		return fmt.Errorf("%w: %q (expected one of %v)", ErrUnknownCommand, command, Commands())
	}

	if command == CommandAnnotations && d.cfg.Annotations.Token == "" {
		return ErrMissingToken
	}

	log := d.log.WithField("command", command)

	log.WithField("path", d.source.Path()).Info("Synchronizing source")

	if err := d.source.Sync(ctx); err != nil {
		return fmt.Errorf("synchronizing source: %w", err)
	}

	start := time.Now()

	if err := workflow(ctx); err != nil {
		return fmt.Errorf("running %s: %w", command, err)
	}

	log.WithField("duration", time.Since(start).Round(time.Millisecond)).
		Info("Command completed")

	return nil
}

// withStore runs fn with the store open, closing it afterwards.
func (d *dispatcher) withStore(ctx context.Context, fn func(store.Store) error) error {
	return store.With(ctx, d.store, fn)
}

func (d *dispatcher) runCommits(ctx context.Context) error {
	res, err := d.runner.Run(ctx, toolrunner.Command{
		Name: "git",
		Args: []string{
			"-C", d.source.Path(),
			"log",
			"--pretty=" + results.CommitLogFormat,
			"--since=" + d.cfg.Toolchain.CommitWindow,
		},
	})
	if err != nil {
		return fmt.Errorf("reading commit log: %w", err)
	}

	commits, err := results.ParseCommitLog(res.Stdout)
	if err != nil {
		return err
	}

	return d.withStore(ctx, func(st store.Store) error {
		inserted, err := st.InsertCommits(ctx, commits, d.cfg.Ingest.SkipExistingCommits)
		if err != nil {
			return err
		}

		d.log.WithFields(logrus.Fields{
			"parsed":   len(commits),
			"inserted": inserted,
		}).Info("Commits recorded")

		return nil
	})
}

func (d *dispatcher) runAnnotations(ctx context.Context) error {
	return d.withStore(ctx, func(store.Store) error {
		_, err := d.publisher.Publish(ctx)

		return err
	})
}
