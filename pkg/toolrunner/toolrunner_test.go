package toolrunner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/arewefast/pkg/retry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(policy retry.Policy) Runner {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return NewRunner(log, policy)
}

func TestRunner_CapturesStdout(t *testing.T) {
	r := newTestRunner(retry.None())

	res, err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo hello; echo oops >&2"},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
	assert.Greater(t, res.Elapsed, time.Duration(0))
}

func TestRunner_UsesWorkingDirectory(t *testing.T) {
	r := newTestRunner(retry.None())
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0o644))

	res, err := r.Run(context.Background(), Command{
		Name: "ls",
		Dir:  dir,
	})
	require.NoError(t, err)
	assert.Equal(t, "marker", strings.TrimSpace(res.Stdout))
}

func TestRunner_NonZeroExit(t *testing.T) {
	r := newTestRunner(retry.None())

	_, err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo broken >&2; exit 3"},
	})
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Equal(t, "broken", exitErr.Stderr)
	assert.Contains(t, err.Error(), "exited with status 3")
}

func TestRunner_MissingBinaryIsNotRetried(t *testing.T) {
	r := newTestRunner(retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	})

	_, err := r.Run(context.Background(), Command{Name: "arewefast-no-such-binary"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arewefast-no-such-binary")
}

func TestRunner_RetriesNonZeroExit(t *testing.T) {
	r := newTestRunner(retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	})

	counter := filepath.Join(t.TempDir(), "attempts")

	// Fails on the first two attempts, succeeds on the third.
	script := `echo x >> "$1"; [ $(wc -l < "$1") -ge 3 ] && echo done`

	res, err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", script, "sh", counter},
	})
	require.NoError(t, err)
	assert.Equal(t, "done\n", res.Stdout)

	data, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "x"))
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "git -C ./flix pull", Command{Name: "git", Args: []string{"-C", "./flix", "pull"}}.String())
	assert.Equal(t, "./gradlew", Command{Name: "./gradlew"}.String())
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", tail("abc", 5))
	assert.Equal(t, "...de", tail("abcde", 2))
}
