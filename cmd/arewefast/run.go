package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/arewefast/pkg/annotation"
	"github.com/ethpandaops/arewefast/pkg/config"
	"github.com/ethpandaops/arewefast/pkg/source"
	"github.com/ethpandaops/arewefast/pkg/store"
	"github.com/ethpandaops/arewefast/pkg/toolrunner"
	"github.com/ethpandaops/arewefast/pkg/upload"
	"github.com/ethpandaops/arewefast/pkg/workflow"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// parseArgs maps the positional arguments onto config.Args.
func parseArgs(args []string) config.Args {
	a := config.Args{
		Host:     args[0],
		User:     args[1],
		Password: args[2],
		Command:  args[3],
	}

	if len(args) > 4 {
		a.Token = args[4]
	}

	return a
}

func runCommand(cmd *cobra.Command, args []string) error {
	cliArgs := parseArgs(args)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg.ApplyArgs(cliArgs)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if log.IsLevelEnabled(logrus.DebugLevel) {
		if rendered, err := cfg.Redacted(); err == nil {
			log.Debugf("Effective configuration:\n%s", rendered)
		}
	}

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	runner := toolrunner.NewRunner(log, cfg.Retry.Process)
	st := store.NewStore(log, &cfg.Database, cfg.Retry.Database)

	client := annotation.NewClient(
		log,
		cfg.Annotations.Endpoint(),
		cfg.Annotations.Token,
		&http.Client{Timeout: cfg.Annotations.Timeout},
		cfg.Retry.HTTP,
	)

	var archive upload.Uploader

	if cfg.Archive.S3.Enabled {
		archive = upload.NewS3Uploader(log, &cfg.Archive.S3)

		log.WithField("bucket", cfg.Archive.S3.Bucket).Info("Checking raw output archive")

		if err := archive.Preflight(ctx); err != nil {
			return fmt.Errorf("archive preflight: %w", err)
		}
	}

	dispatcher := workflow.NewDispatcher(
		log,
		cfg,
		runner,
		source.NewSynchronizer(log, &cfg.Source, runner),
		st,
		annotation.NewPublisher(log, &cfg.Annotations, st, client),
		archive,
	)

	return dispatcher.Dispatch(ctx, cliArgs.Command)
}
