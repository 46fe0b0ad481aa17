package annotation

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethpandaops/arewefast/pkg/config"
	"github.com/ethpandaops/arewefast/pkg/store"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Summary reports the outcome of one publishing pass.
type Summary struct {
	Pending   int
	Annotated int
	Failed    int
}

// Publisher posts unannotated commits to the dashboard and records the
// returned annotation ids.
type Publisher interface {
	// Publish annotates every pending commit. It waits for all requests to
	// finish and returns the failures aggregated into one error.
	Publish(ctx context.Context) (*Summary, error)
}

// Compile-time interface check.
var _ Publisher = (*publisher)(nil)

type publisher struct {
	log     logrus.FieldLogger
	cfg     *config.AnnotationsConfig
	store   store.Store
	client  Client
	limiter *rate.Limiter
}

// NewPublisher creates a Publisher reading and updating commits in st.
func NewPublisher(
	log logrus.FieldLogger,
	cfg *config.AnnotationsConfig,
	st store.Store,
	client Client,
) Publisher {
	p := &publisher{
		log:    log.WithField("component", "annotations"),
		cfg:    cfg,
		store:  st,
		client: client,
	}

	if cfg.RequestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(
			rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1,
		)
	}

	return p
}

func (p *publisher) Publish(ctx context.Context) (*Summary, error) {
	commits, err := p.store.ListUnannotatedCommits(ctx)
	if err != nil {
		return nil, err
	}

	pending := uniqueBySHA(commits)
	summary := &Summary{Pending: len(pending)}

	if dupes := len(commits) - len(pending); dupes > 0 {
		p.log.WithField("duplicates", dupes).
			Info("Ignoring duplicate commit rows, one annotation per sha")
	}

	if len(pending) == 0 {
		p.log.Info("No commits awaiting annotation")

		return summary, nil
	}

	p.log.WithField("commits", len(pending)).Info("Publishing annotations")

	var (
		mu     sync.Mutex
		result *multierror.Error
		g      errgroup.Group
	)

	concurrency := p.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	g.SetLimit(concurrency)

	for _, commit := range pending {
		g.Go(func() error {
			err := p.annotate(ctx, commit)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				summary.Failed++
				result = multierror.Append(result, err)

				p.log.WithError(err).
					WithField("sha", commit.SHA).
					Warn("Failed to annotate commit")

				return nil
			}

			summary.Annotated++

			return nil
		})
	}

	_ = g.Wait()

	p.log.WithFields(logrus.Fields{
		"annotated": summary.Annotated,
		"failed":    summary.Failed,
	}).Info("Annotation publishing complete")

	if err := result.ErrorOrNil(); err != nil {
		return summary, fmt.Errorf("publishing annotations: %w", err)
	}

	return summary, nil
}

// annotate posts one commit and writes the returned id back.
func (p *publisher) annotate(ctx context.Context, commit store.CommitRecord) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("commit %s: waiting for rate limiter: %w", commit.SHA, err)
		}
	}

	id, err := p.client.Create(ctx, NewAnnotation(p.cfg, commit))
	if err != nil {
		return fmt.Errorf("commit %s: %w", commit.SHA, err)
	}

	if err := p.store.SetCommitAnnotation(ctx, commit.SHA, id); err != nil {
		return fmt.Errorf("commit %s: annotation %d created but not recorded: %w",
			commit.SHA, id, err)
	}

	p.log.WithFields(logrus.Fields{
		"sha": commit.SHA,
		"id":  id,
	}).Debug("Annotated commit")

	return nil
}

// NewAnnotation builds the point annotation marking commit on the dashboard.
func NewAnnotation(cfg *config.AnnotationsConfig, commit store.CommitRecord) *Annotation {
	ms := commit.Time.UnixMilli()

	return &Annotation{
		DashboardUID: cfg.DashboardUID,
		PanelID:      cfg.PanelID,
		Time:         ms,
		TimeEnd:      ms,
		Text:         commit.Message,
		Tags:         []string{},
	}
}

// uniqueBySHA keeps the first row of every sha, preserving order.
func uniqueBySHA(commits []store.CommitRecord) []store.CommitRecord {
	seen := make(map[string]struct{}, len(commits))
	out := make([]store.CommitRecord, 0, len(commits))

	for _, c := range commits {
		if _, ok := seen[c.SHA]; ok {
			continue
		}

		seen[c.SHA] = struct{}{}
		out = append(out, c)
	}

	return out
}
