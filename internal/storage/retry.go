package storage

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Retry policy shared by every remote-backed Provider: bounded exponential
// backoff on Category Transient only, everything else propagates
// immediately.
const (
	maxRetryAttempts = 5
	baseRetryBackoff = 200 * time.Millisecond
	retryFactor      = 2.0
	retryJitter      = 0.20
)

// sleepFunc is overridden in tests to avoid real delays.
type sleepFunc func(ctx context.Context, d time.Duration) error

// TransientStreakTracker persists a provider's consecutive-transient-failure
// count across process restarts, so a chronically failing remote gets wider
// backoff from its very first retry rather than relearning the pattern each
// run. Implemented by *state.Store; storage never imports that package
// directly to avoid coupling the two, so a Provider takes this narrower
// interface instead.
type TransientStreakTracker interface {
	RecordTransientFailure(ctx context.Context, providerKey string) error
	ResetTransientStreak(ctx context.Context, providerKey string) error
	TransientStreak(ctx context.Context, providerKey string) (int, error)
}

// streakBackoffPadding widens the backoff floor by one base unit per
// recorded consecutive failure, capped so a long-dead remote doesn't push
// the wait past a few minutes.
func streakBackoffPadding(streak int) time.Duration {
	const maxPaddingUnits = 5

	if streak <= 0 {
		return 0
	}

	if streak > maxPaddingUnits {
		streak = maxPaddingUnits
	}

	return time.Duration(streak) * baseRetryBackoff
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryBackoff computes exponential backoff with ±20% jitter for the given
// zero-based attempt number.
func retryBackoff(attempt int) time.Duration {
	backoff := float64(baseRetryBackoff) * math.Pow(retryFactor, float64(attempt))
	jitter := backoff * retryJitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter, not security sensitive

	return time.Duration(backoff + jitter)
}

// withRetry runs op up to maxRetryAttempts times in total, retrying as long
// as op returns a *Error with Category Transient. Any other error (or nil)
// returns immediately.
func withRetry(ctx context.Context, sleep sleepFunc, op func() error) error {
	if sleep == nil {
		sleep = defaultSleep
	}

	var err error

	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		var storageErr *Error
		if !errors.As(err, &storageErr) || storageErr.Category != CategoryTransient {
			return err
		}

		if attempt == maxRetryAttempts-1 {
			break
		}

		if sleepErr := sleep(ctx, retryBackoff(attempt)); sleepErr != nil {
			return sleepErr
		}
	}

	return err
}
