// Package upload archives raw benchmark output to remote storage.
package upload

import (
	"context"
	"time"
)

// Object is one raw output document produced by a benchmark run.
type Object struct {
	// Command is the workflow that produced the output.
	Command string
	// Time is when the run finished.
	Time time.Time
	// Host names the machine the run was made on. Optional.
	Host string
	Body []byte
	// Metadata is stored alongside the object.
	Metadata map[string]string
}

// Uploader uploads raw benchmark output to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Upload stores obj and returns the key it was written to.
	Upload(ctx context.Context, obj *Object) (string, error)
}
