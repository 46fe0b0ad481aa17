package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/arewefast/pkg/config"
	"github.com/ethpandaops/arewefast/pkg/retry"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNoUnannotatedCommit is returned when an annotation id is written for a
// sha that has no commit row still waiting for one.
var ErrNoUnannotatedCommit = errors.New("no unannotated commit with that sha")

// Store persists benchmark metrics and commit history.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	InsertBuild(ctx context.Context, rec *BuildRecord) error
	InsertThroughput(ctx context.Context, rec *ThroughputRecord) error
	InsertPhases(ctx context.Context, kind PhaseKind, recs []*PhaseRecord) error
	InsertCodeSize(ctx context.Context, rec *CodeSizeRecord) error
	InsertBenchmarks(ctx context.Context, recs []*BenchmarkRecord) error

	// InsertCommits stores commits and returns how many rows were written.
	// With skipExisting, commits whose sha is already stored are skipped;
	// otherwise every commit is inserted, duplicates included.
	InsertCommits(ctx context.Context, recs []*CommitRecord, skipExisting bool) (int, error)
	ListCommits(ctx context.Context) ([]CommitRecord, error)
	ListUnannotatedCommits(ctx context.Context) ([]CommitRecord, error)
	SetCommitAnnotation(ctx context.Context, sha string, annotationID int64) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log    logrus.FieldLogger
	cfg    *config.DatabaseConfig
	policy retry.Policy
	db     *gorm.DB
	now    func() time.Time
}

// NewStore creates a new Store backed by the configured database driver.
// Every database call is attempted according to policy.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
	policy retry.Policy,
) Store {
	return &store{
		log:    log.WithField("component", "store"),
		cfg:    cfg,
		policy: policy,
		now:    time.Now,
	}
}

// With starts s, runs fn and stops s on every exit path.
func With(ctx context.Context, s Store, fn func(Store) error) (err error) {
	if err := s.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if stopErr := s.Stop(); stopErr != nil && err == nil {
			err = fmt.Errorf("closing database: %w", stopErr)
		}
	}()

	return fn(s)
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	dialector, err := s.dialector()
	if err != nil {
		return err
	}

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	err = s.policy.Do(ctx, func() error {
		db, err := gorm.Open(dialector, gormCfg)
		if err != nil {
			return err
		}

		s.db = db

		return nil
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if s.cfg.Driver == "sqlite" {
		sqlDB, err := s.db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		// A single connection keeps every statement on the same database,
		// which matters for in-memory databases.
		sqlDB.SetMaxOpenConns(1)
	}

	if s.cfg.AutoMigrate {
		if err := s.migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"driver":   s.cfg.Driver,
		"database": s.databaseName(),
	}).Debug("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	s.db = nil

	return sqlDB.Close()
}

func (s *store) dialector() (gorm.Dialector, error) {
	switch s.cfg.Driver {
	case "sqlite":
		return sqlite.Open(s.cfg.SQLite.Path), nil
	case "mysql":
		port := s.cfg.Port
		if port == 0 {
			port = 3306
		}

		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			s.cfg.User,
			s.cfg.Password,
			s.cfg.Host,
			port,
			s.cfg.Name,
		)

		return mysql.Open(dsn), nil
	case "postgres":
		port := s.cfg.Port
		if port == 0 {
			port = 5432
		}

		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Host,
			port,
			s.cfg.User,
			s.cfg.Password,
			s.cfg.Name,
			s.cfg.SSLMode,
		)

		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}
}

func (s *store) databaseName() string {
	if s.cfg.Driver == "sqlite" {
		return s.cfg.SQLite.Path
	}

	return s.cfg.Name
}

func (s *store) migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)

	if err := db.AutoMigrate(
		&BuildRecord{},
		&ThroughputRecord{},
		&CodeSizeRecord{},
		&BenchmarkRecord{},
		&CommitRecord{},
	); err != nil {
		return err
	}

	for _, kind := range []PhaseKind{PhaseKindFull, PhaseKindIncremental} {
		if err := s.db.WithContext(ctx).
			Table(kind.Table()).
			AutoMigrate(&PhaseRecord{}); err != nil {
			return fmt.Errorf("migrating %s: %w", kind.Table(), err)
		}
	}

	return nil
}

// create inserts a single row. Table may be empty to use the model's table.
func (s *store) create(ctx context.Context, table string, value any) error {
	return s.policy.Do(ctx, func() error {
		db := s.db.WithContext(ctx)
		if table != "" {
			db = db.Table(table)
		}

		return db.Create(value).Error
	})
}

func (s *store) InsertBuild(ctx context.Context, rec *BuildRecord) error {
	rec.Time = s.now().UTC()

	if err := s.create(ctx, "", rec); err != nil {
		return fmt.Errorf("inserting build record: %w", err)
	}

	return nil
}

func (s *store) InsertThroughput(ctx context.Context, rec *ThroughputRecord) error {
	rec.Time = s.now().UTC()

	if err := s.create(ctx, "", rec); err != nil {
		return fmt.Errorf("inserting throughput record: %w", err)
	}

	return nil
}

// InsertPhases writes one row per phase. Rows are not batched, so a failure
// leaves the rows before it in place.
func (s *store) InsertPhases(
	ctx context.Context, kind PhaseKind, recs []*PhaseRecord,
) error {
	for i, rec := range recs {
		rec.Time = s.now().UTC()

		if err := s.create(ctx, kind.Table(), rec); err != nil {
			return fmt.Errorf("inserting phase %d (%s) into %s: %w",
				i, rec.Phase, kind.Table(), err)
		}
	}

	return nil
}

func (s *store) InsertCodeSize(ctx context.Context, rec *CodeSizeRecord) error {
	rec.Time = s.now().UTC()

	if err := s.create(ctx, "", rec); err != nil {
		return fmt.Errorf("inserting code size record: %w", err)
	}

	return nil
}

// InsertBenchmarks writes one row per benchmark. Rows are not batched.
func (s *store) InsertBenchmarks(
	ctx context.Context, recs []*BenchmarkRecord,
) error {
	for i, rec := range recs {
		rec.Time = s.now().UTC()

		if err := s.create(ctx, "", rec); err != nil {
			return fmt.Errorf("inserting benchmark %d (%s): %w", i, rec.Name, err)
		}
	}

	return nil
}

func (s *store) InsertCommits(
	ctx context.Context, recs []*CommitRecord, skipExisting bool,
) (int, error) {
	inserted := 0

	for _, rec := range recs {
		if skipExisting {
			exists, err := s.commitExists(ctx, rec.SHA)
			if err != nil {
				return inserted, err
			}

			if exists {
				continue
			}
		}

		if err := s.create(ctx, "", rec); err != nil {
			return inserted, fmt.Errorf("inserting commit %s: %w", rec.SHA, err)
		}

		inserted++
	}

	if skipped := len(recs) - inserted; skipped > 0 {
		s.log.WithField("skipped", skipped).Debug("Skipped already stored commits")
	}

	return inserted, nil
}

func (s *store) commitExists(ctx context.Context, sha string) (bool, error) {
	var count int64

	err := s.policy.Do(ctx, func() error {
		return s.db.WithContext(ctx).
			Model(&CommitRecord{}).
			Where("sha = ?", sha).
			Count(&count).Error
	})
	if err != nil {
		return false, fmt.Errorf("checking commit %s: %w", sha, err)
	}

	return count > 0, nil
}

// ListCommits returns every stored commit, oldest first.
func (s *store) ListCommits(ctx context.Context) ([]CommitRecord, error) {
	var commits []CommitRecord

	err := s.policy.Do(ctx, func() error {
		commits = nil

		return s.db.WithContext(ctx).
			Order("time ASC").
			Find(&commits).Error
	})
	if err != nil {
		return nil, fmt.Errorf("listing commits: %w", err)
	}

	return commits, nil
}

// ListUnannotatedCommits returns every commit without an annotation id,
// oldest first.
func (s *store) ListUnannotatedCommits(ctx context.Context) ([]CommitRecord, error) {
	var commits []CommitRecord

	err := s.policy.Do(ctx, func() error {
		commits = nil

		return s.db.WithContext(ctx).
			Where("annotation_id IS NULL").
			Order("time ASC").
			Find(&commits).Error
	})
	if err != nil {
		return nil, fmt.Errorf("listing unannotated commits: %w", err)
	}

	return commits, nil
}

// SetCommitAnnotation records the annotation id of a commit. Only rows
// without an annotation id are updated, so an id is never overwritten.
func (s *store) SetCommitAnnotation(
	ctx context.Context, sha string, annotationID int64,
) error {
	var affected int64

	err := s.policy.Do(ctx, func() error {
		result := s.db.WithContext(ctx).
			Model(&CommitRecord{}).
			Where("sha = ? AND annotation_id IS NULL", sha).
			Update("annotation_id", annotationID)
		affected = result.RowsAffected

		return result.Error
	})
	if err != nil {
		return fmt.Errorf("setting annotation for commit %s: %w", sha, err)
	}

	if affected == 0 {
		return fmt.Errorf("commit %s: %w", sha, ErrNoUnannotatedCommit)
	}

	return nil
}
