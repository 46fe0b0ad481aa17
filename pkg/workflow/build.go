package workflow

import (
	"context"
	"fmt"

	"github.com/ethpandaops/arewefast/pkg/store"
	"github.com/ethpandaops/arewefast/pkg/toolrunner"
	"github.com/sirupsen/logrus"
)

// runBuild cleans the checkout and times a fresh jar build. The clean step
// is not part of the recorded duration.
func (d *dispatcher) runBuild(ctx context.Context) error {
	if _, err := d.gradle(ctx, "clean"); err != nil {
		return fmt.Errorf("cleaning build: %w", err)
	}

	res, err := d.gradle(ctx, "jar")
	if err != nil {
		return fmt.Errorf("building jar: %w", err)
	}

	return d.recordBuild(ctx, store.BuildKindBuild, res)
}

func (d *dispatcher) runTest(ctx context.Context) error {
	res, err := d.gradle(ctx, "test")
	if err != nil {
		return fmt.Errorf("running tests: %w", err)
	}

	return d.recordBuild(ctx, store.BuildKindTest, res)
}

func (d *dispatcher) gradle(ctx context.Context, task string) (*toolrunner.Result, error) {
	return d.runner.Run(ctx, toolrunner.Command{
		Name: d.cfg.Toolchain.Gradle,
		Args: []string{task},
		Dir:  d.source.Path(),
	})
}

func (d *dispatcher) recordBuild(ctx context.Context, kind string, res *toolrunner.Result) error {
	rec := &store.BuildRecord{
		Kind:    kind,
		Elapsed: res.Elapsed.Seconds(),
	}

	d.log.WithFields(logrus.Fields{
		"kind":    kind,
		"elapsed": res.Elapsed,
	}).Info("Recording build duration")

	return d.withStore(ctx, func(st store.Store) error {
		return st.InsertBuild(ctx, rec)
	})
}
