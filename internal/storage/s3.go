package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3 is the remote Provider backend, talking to any S3-compatible object
// store (AWS S3 proper, MinIO, Backblaze B2, etc.) via minio-go.
type S3 struct {
	client *minio.Client
	bucket string
	logger *slog.Logger

	sleep sleepFunc // overridden in tests

	streaks     TransientStreakTracker // optional; nil means no cross-restart tracking
	providerKey string
}

// S3Config carries everything needed to open an S3 Provider. Endpoint is
// optional; when empty the client talks to AWS S3 proper in Region.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// NewS3 dials the object store and returns a ready Provider. It does not
// verify the bucket exists — the first real call surfaces that as
// CategoryNotFound or CategoryAuthFailed.
func NewS3(cfg S3Config, logger *slog.Logger) (*S3, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "s3." + cfg.Region + ".amazonaws.com"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: opening s3 client: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &S3{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// SetStreakTracker wires tracker (normally the process's state.Store) so
// repeated transient failures widen backoff across process restarts instead
// of resetting to the base policy every time the engine starts. providerKey
// identifies this Provider instance's bucket/endpoint in the tracker's
// storage.
func (s *S3) SetStreakTracker(tracker TransientStreakTracker, providerKey string) {
	s.streaks = tracker
	s.providerKey = providerKey
}

// withStreakTracking runs op under the shared retry policy, padding the
// backoff floor by the provider's recorded consecutive-failure streak and
// updating that streak once op settles.
func (s *S3) withStreakTracking(ctx context.Context, op func() error) error {
	sleep := s.sleep
	if sleep == nil {
		sleep = defaultSleep
	}

	if s.streaks != nil {
		streak, err := s.streaks.TransientStreak(ctx, s.providerKey)
		if err != nil {
			s.logger.Warn("reading transient failure streak failed", "error", err)
		} else if padding := streakBackoffPadding(streak); padding > 0 {
			base := sleep
			sleep = func(ctx context.Context, d time.Duration) error {
				return base(ctx, d+padding)
			}
		}
	}

	err := withRetry(ctx, sleep, op)

	if s.streaks == nil {
		return err
	}

	var storageErr *Error
	if errors.As(err, &storageErr) && storageErr.Category == CategoryTransient {
		if recErr := s.streaks.RecordTransientFailure(ctx, s.providerKey); recErr != nil {
			s.logger.Warn("recording transient failure streak failed", "error", recErr)
		}

		return err
	}

	if resetErr := s.streaks.ResetTransientStreak(ctx, s.providerKey); resetErr != nil {
		s.logger.Warn("resetting transient failure streak failed", "error", resetErr)
	}

	return err
}

// PutBlob uploads data, retrying transient transport failures per the
// shared backoff policy.
func (s *S3) PutBlob(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	return s.withStreakTracking(ctx, func() error {
		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{UserMetadata: metadata, ContentType: "application/octet-stream"})
		if err != nil {
			return s.classify("putBlob", key, err)
		}

		return nil
	})
}

// GetBlob downloads the object at key, retrying transient failures.
func (s *S3) GetBlob(ctx context.Context, key string) ([]byte, error) {
	var data []byte

	err := s.withStreakTracking(ctx, func() error {
		obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return s.classify("getBlob", key, err)
		}
		defer obj.Close()

		buf, readErr := io.ReadAll(obj)
		if readErr != nil {
			return s.classify("getBlob", key, readErr)
		}

		data = buf

		return nil
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}

// DeleteBlob removes the object at key. S3's RemoveObject does not error on
// an absent key, so the absence is verified up front to keep DeleteBlob's
// ErrNotFound contract consistent with LocalFS.
func (s *S3) DeleteBlob(ctx context.Context, key string) error {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}

	if !exists {
		return ErrNotFound
	}

	return s.withStreakTracking(ctx, func() error {
		if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return s.classify("deleteBlob", key, err)
		}

		return nil
	})
}

// Exists reports whether key is present via a HEAD-equivalent StatObject.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	var found bool

	err := s.withStreakTracking(ctx, func() error {
		_, statErr := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
		if statErr == nil {
			found = true

			return nil
		}

		classified := s.classify("exists", key, statErr).(*Error)
		if classified.Category == CategoryNotFound {
			found = false

			return nil
		}

		return classified
	})

	return found, err
}

// ListByPrefix lists every object key under prefix.
func (s *S3) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, s.classify("listByPrefix", prefix, obj.Err)
		}

		keys = append(keys, obj.Key)
	}

	return keys, nil
}

// classify maps a minio error response onto a storage Category. Anything
// minio itself couldn't parse into an ErrorResponse (network-level
// failures, context deadline, connection reset) is treated as Transient —
// the conservative choice that keeps bounded retry from giving up on a
// blip it could have ridden out.
func (s *S3) classify(op, key string, err error) error {
	resp := minio.ToErrorResponse(err)

	category := CategoryOther

	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		category = CategoryNotFound
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		category = CategoryAuthFailed
	case "AccessDenied":
		category = CategoryPermissionDenied
	case "SlowDown", "RequestTimeout", "InternalError":
		category = CategoryTransient
	default:
		switch resp.StatusCode {
		case http.StatusForbidden:
			category = CategoryPermissionDenied
		case http.StatusNotFound:
			category = CategoryNotFound
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
			category = CategoryTransient
		case 0:
			// minio couldn't parse an S3 ErrorResponse at all — a raw
			// transport error (timeout, connection reset, DNS failure).
			category = CategoryTransient
		}
	}

	return &Error{Category: category, Op: op, Key: key, Err: err}
}
