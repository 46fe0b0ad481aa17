package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/arewefast/pkg/config"
	"github.com/ethpandaops/arewefast/pkg/retry"
	"github.com/ethpandaops/arewefast/pkg/store"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver:      "sqlite",
		AutoMigrate: true,
		SQLite:      config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "flix.db")},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg, retry.None())
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func int64Ptr(v int64) *int64 { return &v }

func TestStore_InsertBuild(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)

	rec := &store.BuildRecord{Kind: store.BuildKindBuild, Elapsed: 93.5}
	require.NoError(t, s.InsertBuild(ctx, rec))

	assert.False(t, rec.Time.Before(before), "time is set to the write time")
	assert.False(t, rec.Time.After(time.Now().Add(time.Second)))
}

func TestStore_InsertPhasesSelectsTable(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	full := []*store.PhaseRecord{
		{Phase: "Parser", Lines: 100, Threads: 4, Iterations: 3, Seconds: 0.1},
		{Phase: "Typer", Lines: 100, Threads: 4, Iterations: 3, Seconds: 0.5},
	}
	incremental := []*store.PhaseRecord{
		{Phase: "Parser", Lines: 100, Threads: 4, Iterations: 3, Seconds: 0.01},
	}

	require.NoError(t, s.InsertPhases(ctx, store.PhaseKindFull, full))
	require.NoError(t, s.InsertPhases(ctx, store.PhaseKindIncremental, incremental))

	for _, rec := range append(full, incremental...) {
		assert.False(t, rec.Time.IsZero())
	}
}

func TestStore_InsertCommitsDuplicates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	newLog := func() []*store.CommitRecord {
		return []*store.CommitRecord{
			{SHA: "abc123", Time: time.Unix(1700000000, 0).UTC(), Message: "Fix parser bug"},
			{SHA: "def456", Time: time.Unix(1700000100, 0).UTC(), Message: "Add typer test"},
		}
	}

	n, err := s.InsertCommits(ctx, newLog(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-ingesting an unchanged log inserts every commit again.
	n, err = s.InsertCommits(ctx, newLog(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	commits, err := s.ListUnannotatedCommits(ctx)
	require.NoError(t, err)
	require.Len(t, commits, 4, "plain ingestion does not deduplicate by sha")

	shas := make([]string, 0, len(commits))
	for _, c := range commits {
		shas = append(shas, c.SHA)
	}

	assert.ElementsMatch(t, []string{"abc123", "abc123", "def456", "def456"}, shas)
}

func TestStore_InsertCommitsSkipExisting(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := []*store.CommitRecord{
		{SHA: "abc123", Time: time.Unix(1700000000, 0).UTC(), Message: "Fix parser bug"},
	}
	n, err := s.InsertCommits(ctx, first, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	second := []*store.CommitRecord{
		{SHA: "abc123", Time: time.Unix(1700000000, 0).UTC(), Message: "Fix parser bug"},
		{SHA: "fff000", Time: time.Unix(1700000500, 0).UTC(), Message: "New commit"},
	}
	n, err = s.InsertCommits(ctx, second, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	commits, err := s.ListUnannotatedCommits(ctx)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "abc123", commits[0].SHA)
	assert.Equal(t, "fff000", commits[1].SHA)
}

func TestStore_CommitRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.InsertCommits(ctx, []*store.CommitRecord{
		{SHA: "abc123", Time: time.Unix(1700000000, 0).UTC(), Message: "Fix parser bug"},
	}, false)
	require.NoError(t, err)

	commits, err := s.ListUnannotatedCommits(ctx)
	require.NoError(t, err)
	require.Len(t, commits, 1)

	assert.Equal(t, "abc123", commits[0].SHA)
	assert.Equal(t, "Fix parser bug", commits[0].Message)
	assert.True(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC).Equal(commits[0].Time))
	assert.Nil(t, commits[0].AnnotationID)
}

func TestStore_SetCommitAnnotation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.InsertCommits(ctx, []*store.CommitRecord{
		{SHA: "aaa", Time: time.Unix(1700000000, 0).UTC(), Message: "one"},
		{SHA: "bbb", Time: time.Unix(1700000100, 0).UTC(), Message: "two"},
		{SHA: "ccc", Time: time.Unix(1700000200, 0).UTC(), Message: "three", AnnotationID: int64Ptr(7)},
	}, false)
	require.NoError(t, err)

	unannotated, err := s.ListUnannotatedCommits(ctx)
	require.NoError(t, err)
	require.Len(t, unannotated, 2)

	require.NoError(t, s.SetCommitAnnotation(ctx, "aaa", 42))

	unannotated, err = s.ListUnannotatedCommits(ctx)
	require.NoError(t, err)
	require.Len(t, unannotated, 1)
	assert.Equal(t, "bbb", unannotated[0].SHA)

	all, err := s.ListCommits(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.NotNil(t, all[0].AnnotationID)
	assert.Equal(t, int64(42), *all[0].AnnotationID)
	assert.Nil(t, all[1].AnnotationID)
	require.NotNil(t, all[2].AnnotationID)
	assert.Equal(t, int64(7), *all[2].AnnotationID)
}

func TestStore_SetCommitAnnotationNeverOverwrites(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.InsertCommits(ctx, []*store.CommitRecord{
		{SHA: "aaa", Time: time.Unix(1700000000, 0).UTC(), Message: "one"},
	}, false)
	require.NoError(t, err)

	require.NoError(t, s.SetCommitAnnotation(ctx, "aaa", 42))

	err = s.SetCommitAnnotation(ctx, "aaa", 99)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrNoUnannotatedCommit))

	err = s.SetCommitAnnotation(ctx, "missing", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNoUnannotatedCommit)

	all, err := s.ListCommits(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].AnnotationID)
	assert.Equal(t, int64(42), *all[0].AnnotationID)
}

func TestStore_InsertOtherFamilies(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertThroughput(ctx, &store.ThroughputRecord{
		Lines: 1, Threads: 2, Iterations: 3, Min: 4, Max: 5, Avg: 6, Median: 7,
	}))
	require.NoError(t, s.InsertCodeSize(ctx, &store.CodeSizeRecord{Lines: 10, Bytes: 2048}))
	require.NoError(t, s.InsertBenchmarks(ctx, []*store.BenchmarkRecord{
		{Threads: 4, Name: "sort", Seconds: 1.2},
		{Threads: 4, Name: "parse", Seconds: 0.8},
	}))
	require.NoError(t, s.InsertBenchmarks(ctx, nil))
}

func TestStore_UnsupportedDriver(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, &config.DatabaseConfig{Driver: "oracle"}, retry.None())

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")

	assert.NoError(t, s.Stop())
}

func TestWith_StopsOnError(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver:      "sqlite",
		AutoMigrate: true,
		SQLite:      config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "flix.db")},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg, retry.None())
	boom := errors.New("boom")

	err := store.With(context.Background(), s, func(st store.Store) error {
		require.NoError(t, st.InsertBuild(context.Background(), &store.BuildRecord{
			Kind: store.BuildKindTest, Elapsed: 1,
		}))

		return boom
	})
	assert.ErrorIs(t, err, boom)

	// The connection was released, so the store can be reopened and still
	// serves reads.
	err = store.With(context.Background(), s, func(st store.Store) error {
		_, err := st.ListUnannotatedCommits(context.Background())

		return err
	})
	assert.NoError(t, err)
}

func TestPhaseKind_Table(t *testing.T) {
	assert.Equal(t, "phase_ext", store.PhaseKindFull.Table())
	assert.Equal(t, "phase_incremental", store.PhaseKindIncremental.Table())
}
