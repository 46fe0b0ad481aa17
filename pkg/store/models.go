package store

import (
	"time"
)

// Build kinds.
const (
	BuildKindBuild = "build"
	BuildKindTest  = "test"
)

// PhaseKind selects the destination table for phase timings.
type PhaseKind string

const (
	// PhaseKindFull holds timings of a full compilation.
	PhaseKindFull PhaseKind = "full"
	// PhaseKindIncremental holds timings of an incremental re-compilation.
	PhaseKindIncremental PhaseKind = "incremental"
)

// Table returns the table a phase kind is stored in.
func (k PhaseKind) Table() string {
	if k == PhaseKindIncremental {
		return "phase_incremental"
	}

	return "phase_ext"
}

// MaxCommitMessageLength is the longest commit message stored, in characters.
const MaxCommitMessageLength = 255

// BuildRecord is the duration of one build or test run.
type BuildRecord struct {
	Kind    string    `gorm:"column:kind;size:16;not null" json:"kind"`
	Time    time.Time `gorm:"column:time;not null" json:"time"`
	Elapsed float64   `gorm:"column:elapsed;not null" json:"elapsed"`
}

// TableName implements gorm's tabler.
func (BuildRecord) TableName() string { return "build" }

// ThroughputRecord is the compiler throughput of one benchmark run.
type ThroughputRecord struct {
	Time       time.Time `gorm:"column:time;not null" json:"time"`
	Lines      int64     `gorm:"column:lines" json:"lines"`
	Threads    int64     `gorm:"column:threads" json:"threads"`
	Iterations int64     `gorm:"column:iterations" json:"iterations"`
	Min        float64   `gorm:"column:min" json:"min"`
	Max        float64   `gorm:"column:max" json:"max"`
	Avg        float64   `gorm:"column:avg" json:"avg"`
	Median     float64   `gorm:"column:median" json:"median"`
}

// TableName implements gorm's tabler.
func (ThroughputRecord) TableName() string { return "throughput_ext" }

// PhaseRecord is the duration of one compiler phase. Run-level fields are
// repeated on every phase of the run.
type PhaseRecord struct {
	Time       time.Time `gorm:"column:time;not null" json:"time"`
	Phase      string    `gorm:"column:phase;size:255" json:"phase"`
	Lines      int64     `gorm:"column:lines" json:"lines"`
	Threads    int64     `gorm:"column:threads" json:"threads"`
	Iterations int64     `gorm:"column:iterations" json:"iterations"`
	Seconds    float64   `gorm:"column:seconds" json:"seconds"`
}

// CodeSizeRecord is the size of the compiled output.
type CodeSizeRecord struct {
	Time  time.Time `gorm:"column:time;not null" json:"time"`
	Lines int64     `gorm:"column:lines" json:"lines"`
	Bytes int64     `gorm:"column:bytes" json:"bytes"`
}

// TableName implements gorm's tabler.
func (CodeSizeRecord) TableName() string { return "codesize" }

// BenchmarkRecord is the duration of one named benchmark.
type BenchmarkRecord struct {
	Time    time.Time `gorm:"column:time;not null" json:"time"`
	Threads int64     `gorm:"column:threads" json:"threads"`
	Name    string    `gorm:"column:name;size:255" json:"name"`
	Seconds float64   `gorm:"column:seconds" json:"seconds"`
}

// TableName implements gorm's tabler.
func (BenchmarkRecord) TableName() string { return "benchmark_ext" }

// CommitRecord is one upstream commit. AnnotationID is set once the commit
// has been posted to the dashboard.
type CommitRecord struct {
	SHA          string    `gorm:"column:sha;size:64;index;not null" json:"sha"`
	Time         time.Time `gorm:"column:time;not null" json:"time"`
	Message      string    `gorm:"column:message;size:255" json:"message"`
	AnnotationID *int64    `gorm:"column:annotation_id" json:"annotation_id"`
}

// TableName implements gorm's tabler.
func (CommitRecord) TableName() string { return "commits" }
