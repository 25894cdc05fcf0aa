// Package storage implements the StorageProvider abstraction: a blob+JSON
// object store with two backends, LocalFS and S3. All version blobs and
// manifests flow through a Provider; the sync engine never touches a
// backend directly.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned by GetBlob/DeleteBlob/GetJSON when the key does
// not exist. Non-fatal for cleanup/delete callers.
var ErrNotFound = errors.New("storage: not found")

// Category classifies a storage error for retry/propagation decisions.
type Category int

const (
	// CategoryNone indicates success or a non-error condition.
	CategoryNone Category = iota
	// CategoryTransient indicates a retryable failure: timeouts, 5xx,
	// connection reset.
	CategoryTransient
	// CategoryAuthFailed indicates the backend rejected credentials.
	CategoryAuthFailed
	// CategoryNotFound indicates the key is absent.
	CategoryNotFound
	// CategoryPermissionDenied indicates a key-level 403 or filesystem
	// EACCES.
	CategoryPermissionDenied
	// CategoryOther indicates any other failure.
	CategoryOther
)

func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryAuthFailed:
		return "auth_failed"
	case CategoryNotFound:
		return "not_found"
	case CategoryPermissionDenied:
		return "permission_denied"
	case CategoryOther:
		return "other"
	default:
		return "none"
	}
}

// Error wraps an underlying transport error with its retry/propagation
// Category. Use errors.As to recover it from a Provider call's error.
type Error struct {
	Category Category
	Op       string // e.g. "putBlob", "getBlob"
	Key      string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s %s: %s: %v", e.Op, e.Key, e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Provider is the abstract blob+JSON object store every backend
// implements. All methods are cancellation-aware via ctx.
type Provider interface {
	// PutBlob idempotently writes (overwrites) bytes at key with the given
	// opaque metadata hints.
	PutBlob(ctx context.Context, key string, data []byte, metadata map[string]string) error
	// GetBlob reads the bytes stored at key. Returns ErrNotFound if absent.
	GetBlob(ctx context.Context, key string) ([]byte, error)
	// DeleteBlob removes the blob at key. Returns ErrNotFound if it was
	// already absent — callers performing cleanup treat this as success.
	DeleteBlob(ctx context.Context, key string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// ListByPrefix returns every key beginning with prefix.
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)
}

// PutJSON marshals value and stores it at key via p.PutBlob.
func PutJSON(ctx context.Context, p Provider, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: marshaling %s: %w", key, err)
	}

	return p.PutBlob(ctx, key, data, map[string]string{"content-type": "application/json"})
}

// GetJSON reads the blob at key and unmarshals it into dest (a pointer).
func GetJSON(ctx context.Context, p Provider, key string, dest any) error {
	data, err := p.GetBlob(ctx, key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("storage: unmarshaling %s: %w", key, err)
	}

	return nil
}
