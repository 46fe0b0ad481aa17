package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultInitialInterval is the first wait between attempts.
	DefaultInitialInterval = 500 * time.Millisecond

	// DefaultMaxInterval caps the wait between attempts.
	DefaultMaxInterval = 10 * time.Second
)

// Policy describes how an operation against one class of external
// dependency is retried. The zero value performs a single attempt.
type Policy struct {
	MaxAttempts     int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" mapstructure:"max_interval"`
}

// None returns a policy that never retries.
func None() Policy {
	return Policy{MaxAttempts: 1}
}

// Attempts returns the effective number of attempts.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}

	return p.MaxAttempts
}

// Do runs op until it succeeds, returns a permanent error, the context is
// cancelled, or the attempts are exhausted. The last error is returned.
func (p Policy) Do(ctx context.Context, op func() error) error {
	if p.Attempts() == 1 {
		err := op()

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}

		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0

	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultInitialInterval
	}

	if b.MaxInterval <= 0 {
		b.MaxInterval = DefaultMaxInterval
	}

	return backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(p.Attempts()-1)), ctx,
	))
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return backoff.Permanent(err)
}
