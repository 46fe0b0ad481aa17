package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethpandaops/arewefast/pkg/config"
	"github.com/ethpandaops/arewefast/pkg/toolrunner"
	"github.com/sirupsen/logrus"
)

// Synchronizer keeps a local checkout of the upstream repository current.
type Synchronizer interface {
	// Sync clones the repository when the local path does not exist and
	// pulls the current branch otherwise.
	Sync(ctx context.Context) error
	// Path returns the local checkout path.
	Path() string
}

// Compile-time interface check.
var _ Synchronizer = (*gitSynchronizer)(nil)

type gitSynchronizer struct {
	log    logrus.FieldLogger
	cfg    *config.SourceConfig
	runner toolrunner.Runner
}

// NewSynchronizer creates a git backed Synchronizer.
func NewSynchronizer(
	log logrus.FieldLogger,
	cfg *config.SourceConfig,
	runner toolrunner.Runner,
) Synchronizer {
	return &gitSynchronizer{
		log:    log.WithField("component", "source"),
		cfg:    cfg,
		runner: runner,
	}
}

func (s *gitSynchronizer) Path() string {
	return s.cfg.Path
}

func (s *gitSynchronizer) Sync(ctx context.Context) error {
	log := s.log.WithFields(logrus.Fields{
		"repo": s.cfg.Repo,
		"path": s.cfg.Path,
	})

	if _, err := os.Stat(s.cfg.Path); os.IsNotExist(err) {
		log.Info("Cloning repository")

		if parent := filepath.Dir(s.cfg.Path); parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return fmt.Errorf("creating parent directory: %w", err)
			}
		}

		if _, err := s.runner.Run(ctx, toolrunner.Command{
			Name: "git",
			Args: []string{"clone", s.cfg.Repo, s.cfg.Path},
		}); err != nil {
			return fmt.Errorf("cloning repository: %w", err)
		}

		return nil
	} else if err != nil {
		return fmt.Errorf("checking %s: %w", s.cfg.Path, err)
	}

	log.Info("Pulling repository")

	if _, err := s.runner.Run(ctx, toolrunner.Command{
		Name: "git",
		Args: []string{"-C", s.cfg.Path, "pull"},
	}); err != nil {
		return fmt.Errorf("pulling repository: %w", err)
	}

	return nil
}
