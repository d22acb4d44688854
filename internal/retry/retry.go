// Package retry runs operations until they succeed or fail permanently.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fho/imap-attachments/internal/log"
)

// Runner calls Fn until it succeeds, returns an error for which IsRetryable
// is false or returned the same error MaxRetriesSameError times in a row.
type Runner struct {
	Fn                  func() error
	IsRetryable         func(error) bool
	MaxRetriesSameError int
	// RetryIntervals are the pauses between retries, the last one is
	// repeated.
	RetryIntervals []time.Duration
	Logger         *slog.Logger

	lastError error
	failures  int
}

// Run runs Fn, pauses between retries are aborted when ctx is canceled.
func (r *Runner) Run(ctx context.Context) error {
	logger := log.EnsureLoggerInstance(r.Logger)

	for {
		err := r.Fn()
		if err == nil {
			return nil
		}

		r.failures++

		if !r.IsRetryable(err) {
			return fmt.Errorf("non-retryable error: %w", err)
		}

		if errors.Is(err, r.lastError) {
			if r.failures >= r.MaxRetriesSameError {
				return fmt.Errorf("max. number of retries (%d) exceeded: %w", r.failures, err)
			}
		} else {
			r.failures = 1
		}

		r.lastError = errors.Unwrap(err)

		sleepTime := r.sleepTime()

		logger.Warn(
			"retryable error occurred, retrying after pause",
			"event", "retry.scheduled",
			"error", err,
			"failures", r.failures,
			"max_retries", r.MaxRetriesSameError,
			"pause", sleepTime,
		)

		t := time.NewTimer(sleepTime)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(context.Cause(ctx), err)
		case <-t.C:
		}
	}
}

func (r *Runner) sleepTime() time.Duration {
	if len(r.RetryIntervals) == 0 {
		return 0
	}

	if r.failures-1 < len(r.RetryIntervals) {
		return r.RetryIntervals[r.failures-1]
	}

	return r.RetryIntervals[len(r.RetryIntervals)-1]
}
