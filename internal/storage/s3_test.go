package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestS3ClassifyMapsKnownErrorCodes(t *testing.T) {
	s := &S3{logger: slog.Default()}

	cases := []struct {
		code string
		want Category
	}{
		{"NoSuchKey", CategoryNotFound},
		{"NoSuchBucket", CategoryNotFound},
		{"AccessDenied", CategoryPermissionDenied},
		{"InvalidAccessKeyId", CategoryAuthFailed},
	}

	for _, tc := range cases {
		err := minio.ErrorResponse{Code: tc.code}
		got := s.classify("op", "key", err).(*Error)

		if got.Category != tc.want {
			t.Errorf("classify(%q) category = %v, want %v", tc.code, got.Category, tc.want)
		}
	}
}

func TestS3ClassifyTreatsUnparsedTransportErrorsAsTransient(t *testing.T) {
	s := &S3{logger: slog.Default()}

	got := s.classify("getBlob", "key", fakeTransportError{}).(*Error)
	if got.Category != CategoryTransient {
		t.Errorf("category = %v, want Transient", got.Category)
	}
}

// fakeTransportError is a minimal error stand-in: it carries no S3
// ErrorResponse fields, exercising the "couldn't parse, assume transient"
// branch of classify without importing net or context machinery the test
// doesn't otherwise need.
type fakeTransportError struct{}

func (fakeTransportError) Error() string { return "deadline exceeded" }

// fakeStreakTracker is an in-memory TransientStreakTracker stand-in,
// exercising S3.withStreakTracking without a real state.Store.
type fakeStreakTracker struct {
	mu       sync.Mutex
	streak   int
	resets   int
	failures int
}

func (f *fakeStreakTracker) TransientStreak(ctx context.Context, providerKey string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.streak, nil
}

func (f *fakeStreakTracker) RecordTransientFailure(ctx context.Context, providerKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failures++
	f.streak++

	return nil
}

func (f *fakeStreakTracker) ResetTransientStreak(ctx context.Context, providerKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resets++
	f.streak = 0

	return nil
}

func TestS3WithStreakTrackingRecordsFailureAndResetsOnSuccess(t *testing.T) {
	tracker := &fakeStreakTracker{streak: 2}
	s := &S3{logger: slog.Default(), streaks: tracker, providerKey: "s3:test-bucket", sleep: noopSleep}

	attempts := 0

	err := s.withStreakTracking(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return &Error{Category: CategoryTransient, Op: "test", Key: "k", Err: errors.New("boom")}
		}

		return nil
	})
	if err != nil {
		t.Fatalf("withStreakTracking: %v", err)
	}

	tracker.mu.Lock()
	resets, streak := tracker.resets, tracker.streak
	tracker.mu.Unlock()

	if resets != 1 {
		t.Errorf("resets = %d, want 1 after eventual success", resets)
	}

	if streak != 0 {
		t.Errorf("streak = %d, want 0 after reset", streak)
	}
}

func TestS3WithStreakTrackingRecordsPersistentFailure(t *testing.T) {
	tracker := &fakeStreakTracker{}
	s := &S3{logger: slog.Default(), streaks: tracker, providerKey: "s3:test-bucket", sleep: noopSleep}

	err := s.withStreakTracking(context.Background(), func() error {
		return &Error{Category: CategoryTransient, Op: "test", Key: "k", Err: errors.New("still down")}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	tracker.mu.Lock()
	failures := tracker.failures
	tracker.mu.Unlock()

	if failures != 1 {
		t.Errorf("failures = %d, want 1", failures)
	}
}
