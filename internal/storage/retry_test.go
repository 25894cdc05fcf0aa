package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetryRetriesOnlyTransient(t *testing.T) {
	attempts := 0

	err := withRetry(context.Background(), noopSleep, func() error {
		attempts++
		if attempts < 3 {
			return &Error{Category: CategoryTransient, Op: "test", Key: "k", Err: errors.New("boom")}
		}

		return nil
	})

	if err != nil {
		t.Fatalf("withRetry returned error: %v", err)
	}

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetryDoesNotRetryNonTransient(t *testing.T) {
	attempts := 0

	err := withRetry(context.Background(), noopSleep, func() error {
		attempts++

		return &Error{Category: CategoryAuthFailed, Op: "test", Key: "k", Err: errors.New("bad creds")}
	})

	if err == nil {
		t.Fatal("expected error")
	}

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry for non-transient)", attempts)
	}
}

func TestWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0

	err := withRetry(context.Background(), noopSleep, func() error {
		attempts++

		return &Error{Category: CategoryTransient, Op: "test", Key: "k", Err: errors.New("still down")}
	})

	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	if attempts != maxRetryAttempts {
		t.Errorf("attempts = %d, want %d", attempts, maxRetryAttempts)
	}
}

func noopSleep(ctx context.Context, d time.Duration) error { return nil }
