package service

import (
	"context"
	"errors"
	"time"
)

// maxRetryDelay caps the wait between two attempts
const maxRetryDelay = 5 * time.Minute

// RetryPolicy bounds retries of one item's browser actions.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the wait before the given attempt (1-based). The first
// attempt never waits; later ones double the base delay each time.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.BaseDelay <= 0 {
		return 0
	}
	return p.BaseDelay << (attempt - 2)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry runs action until it succeeds, returns a Permanent error, or the
// policy's attempts are used up. It returns the number of attempts made and
// the last error, with any Permanent marker removed.
func Retry(ctx context.Context, sleeper Sleeper, policy RetryPolicy, action func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := max(policy.MaxAttempts, 1)

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if serr := sleeper.Sleep(ctx, policy.Delay(attempt)); serr != nil {
				return attempt - 1, serr
			}
		}

		err = action(ctx, attempt)
		if err == nil {
			return attempt, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return attempt, perm.err
		}
		if ctx.Err() != nil {
			return attempt, err
		}
	}
	return maxAttempts, err
}
