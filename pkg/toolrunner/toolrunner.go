package toolrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ethpandaops/arewefast/pkg/retry"
	"github.com/sirupsen/logrus"
)

// maxErrorStderr bounds how much stderr an ExitError carries.
const maxErrorStderr = 4096

// Command describes a single external program invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
}

// String renders the command line for logging.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the captured output of a completed command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
}

// ExitError is returned when a command exits with a non-zero status.
type ExitError struct {
	Command  Command
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}

	return msg
}

// Runner invokes external programs synchronously.
type Runner interface {
	// Run blocks until the command has exited. A non-zero exit status is
	// returned as an *ExitError.
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Compile-time interface check.
var _ Runner = (*runner)(nil)

type runner struct {
	log    logrus.FieldLogger
	policy retry.Policy
}

// NewRunner creates a Runner backed by os/exec. Each invocation is
// attempted according to policy.
func NewRunner(log logrus.FieldLogger, policy retry.Policy) Runner {
	return &runner{
		log:    log.WithField("component", "toolrunner"),
		policy: policy,
	}
}

// Run executes cmd, retrying according to the configured policy.
func (r *runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	var (
		result  *Result
		attempt int
	)

	err := r.policy.Do(ctx, func() error {
		attempt++

		res, err := r.runOnce(ctx, cmd)
		if err != nil {
			if attempt < r.policy.Attempts() {
				r.log.WithError(err).WithFields(logrus.Fields{
					"command": cmd.String(),
					"attempt": attempt,
				}).Warn("Command failed, retrying")
			}

			return err
		}

		result = res

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *runner) runOnce(ctx context.Context, cmd Command) (*Result, error) {
	log := r.log.WithFields(logrus.Fields{
		"command": cmd.String(),
		"dir":     cmd.Dir,
	})

	var stdout, stderr bytes.Buffer

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = &stdout
	c.Stderr = &stderr

	log.Debug("Running command")

	start := time.Now()
	err := c.Run()
	elapsed := time.Since(start)

	result := &Result{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: elapsed,
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()

			return nil, &ExitError{
				Command:  cmd,
				ExitCode: result.ExitCode,
				Stderr:   tail(strings.TrimSpace(result.Stderr), maxErrorStderr),
			}
		}

		// The program could not be started at all.
		return nil, retry.Permanent(fmt.Errorf("running %s: %w", cmd, err))
	}

	log.WithFields(logrus.Fields{
		"elapsed": elapsed,
		"stderr":  strings.TrimSpace(result.Stderr),
	}).Debug("Command completed")

	return result, nil
}

// tail returns at most n trailing bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return "..." + s[len(s)-n:]
}
