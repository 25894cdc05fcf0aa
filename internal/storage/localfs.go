package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// blobFilePerms restricts stored blobs (save-file content) to owner-only
// read/write — a game save may contain account-identifying data.
const blobFilePerms = 0o600

// blobDirPerms is used when creating any directory under the storage root.
const blobDirPerms = 0o700

// LocalFS is the filesystem-backed Provider. Keys map directly onto
// relative paths under root; metadata passed to PutBlob is persisted in a
// "<name>.meta.json" sidecar next to the blob.
type LocalFS struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalFS constructs a LocalFS rooted at root, creating it if absent.
// root is expected to already be tilde-expanded and absolute — the
// engine's resolveProvider expands a leading tilde before calling.
func NewLocalFS(root string) (*LocalFS, error) {
	if err := os.MkdirAll(root, blobDirPerms); err != nil {
		return nil, fmt.Errorf("storage: creating local root %s: %w", root, err)
	}

	return &LocalFS{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// keyLock returns the per-key mutex for key, creating it on first use.
// Keys are independent save-file versions in the overwhelming common case,
// so striping on the full key (rather than a fixed-size shard count) keeps
// unrelated writes from ever blocking each other.
func (l *LocalFS) keyLock(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}

	return m
}

func (l *LocalFS) blobPath(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *LocalFS) metaPath(key string) string {
	return l.blobPath(key) + ".meta.json"
}

// PutBlob writes data atomically (temp file in the same directory, fsync,
// rename) and, if metadata is non-empty, writes a matching sidecar the
// same way. The two writes are not a single transaction — a crash between
// them can leave metadata stale relative to content — but each write
// individually can never be observed half-done.
func (l *LocalFS) PutBlob(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := l.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	path := l.blobPath(key)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, blobDirPerms); err != nil {
		return &Error{Category: categorizeOSError(err), Op: "putBlob", Key: key, Err: err}
	}

	if err := atomicWrite(dir, path, data, blobFilePerms); err != nil {
		return &Error{Category: categorizeOSError(err), Op: "putBlob", Key: key, Err: err}
	}

	if len(metadata) == 0 {
		return nil
	}

	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("storage: marshaling metadata for %s: %w", key, err)
	}

	if err := atomicWrite(dir, l.metaPath(key), metaBytes, blobFilePerms); err != nil {
		return &Error{Category: categorizeOSError(err), Op: "putBlob", Key: key, Err: err}
	}

	return nil
}

// GetBlob reads the blob at key. Returns ErrNotFound if absent.
func (l *LocalFS) GetBlob(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(l.blobPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, &Error{Category: categorizeOSError(err), Op: "getBlob", Key: key, Err: err}
	}

	return data, nil
}

// DeleteBlob removes the blob at key and its metadata sidecar if present.
// A missing blob is reported as ErrNotFound; a missing sidecar is silently
// ignored, since not every blob has one.
func (l *LocalFS) DeleteBlob(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := l.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(l.blobPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}

	if err != nil {
		return &Error{Category: categorizeOSError(err), Op: "deleteBlob", Key: key, Err: err}
	}

	if metaErr := os.Remove(l.metaPath(key)); metaErr != nil && !errors.Is(metaErr, fs.ErrNotExist) {
		return &Error{Category: categorizeOSError(metaErr), Op: "deleteBlob", Key: key, Err: metaErr}
	}

	return nil
}

// Exists reports whether key is present.
func (l *LocalFS) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(l.blobPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, &Error{Category: categorizeOSError(err), Op: "exists", Key: key, Err: err}
	}

	return true, nil
}

// ListByPrefix walks the subtree under prefix and returns every blob key
// found (sidecar metadata files are skipped), sorted lexicographically —
// which, for version keys, is also chronological order.
func (l *LocalFS) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	walkRoot := filepath.Join(l.root, filepath.FromSlash(prefix))

	var keys []string

	err := filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		if strings.HasSuffix(path, ".meta.json") {
			return nil
		}

		rel, relErr := filepath.Rel(l.root, path)
		if relErr != nil {
			return relErr
		}

		keys = append(keys, filepath.ToSlash(rel))

		return nil
	})
	if err != nil {
		return nil, &Error{Category: categorizeOSError(err), Op: "listByPrefix", Key: prefix, Err: err}
	}

	sort.Strings(keys)

	return keys, nil
}

// atomicWrite writes data to path via a temp file created in dir, fsync,
// chmod, then rename — the same idiom used by the configuration and token
// persistence layers, applied here to save-file blobs.
func atomicWrite(dir, path string, data []byte, perm fs.FileMode) error {
	f, err := os.CreateTemp(dir, ".blob-*.tmp")
	if err != nil {
		return fmt.Errorf("storage: creating temp file: %w", err)
	}

	tmpPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("storage: writing temp file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("storage: syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("storage: closing temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("storage: setting permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("storage: renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}

// categorizeOSError classifies a local filesystem error into a storage
// Category for the caller's retry/propagation decision.
func categorizeOSError(err error) Category {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return CategoryNotFound
	case errors.Is(err, fs.ErrPermission):
		return CategoryPermissionDenied
	default:
		return CategoryOther
	}
}
