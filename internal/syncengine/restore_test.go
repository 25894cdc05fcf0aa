package syncengine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xavifortes/gamesave-sync/internal/storage"
	"github.com/xavifortes/gamesave-sync/internal/version"
)

func TestRestoreVersionWritesContentAndBacksUpExisting(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	localBase := t.TempDir()
	localPath := filepath.Join(dir, "save.dat")

	if err := os.WriteFile(localPath, []byte("current content"), 0o600); err != nil {
		t.Fatalf("seeding local file: %v", err)
	}

	provider := newMemProvider()

	mgr := version.NewManager(version.NewManifest("demo", "save.dat", time.Now()))
	fv, _ := mgr.CreateVersion([]byte("restored content"), "")

	if err := storage.PutJSON(ctx, provider, storage.ManifestKey("demo", "save.dat"), mgr.Manifest()); err != nil {
		t.Fatalf("PutJSON manifest: %v", err)
	}

	if err := provider.PutBlob(ctx, storage.VersionKey("demo", "save.dat", fv.VersionID), []byte("restored content"), nil); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}

	if err := RestoreVersion(ctx, provider, localBase, "demo", "save.dat", fv.VersionID, localPath); err != nil {
		t.Fatalf("RestoreVersion: %v", err)
	}

	got, err := os.ReadFile(localPath)
	if err != nil {
		t.Fatalf("reading restored file: %v", err)
	}

	if string(got) != "restored content" {
		t.Errorf("restored content = %q, want %q", got, "restored content")
	}

	backupDir := filepath.Join(localBase, "restore-backup", "demo", "save.dat")

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		t.Fatalf("reading backup dir %s: %v", backupDir, err)
	}

	if len(entries) != 1 {
		t.Fatalf("got %d backup files, want 1", len(entries))
	}

	backedUp, err := os.ReadFile(filepath.Join(backupDir, entries[0].Name()))
	if err != nil {
		t.Fatalf("reading backup file: %v", err)
	}

	if string(backedUp) != "current content" {
		t.Errorf("backup content = %q, want %q", backedUp, "current content")
	}
}

func TestRestoreVersionDecompressesGzipBlob(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	localPath := filepath.Join(dir, "save.dat")

	provider := newMemProvider()

	mgr := version.NewManager(version.NewManifest("demo", "save.dat", time.Now()))
	fv, _ := mgr.CreateVersion([]byte("restored content"), "")

	if err := mgr.SetVersionMetadata(fv.VersionID, map[string]string{"content-encoding": "gzip"}); err != nil {
		t.Fatalf("SetVersionMetadata: %v", err)
	}

	if err := storage.PutJSON(ctx, provider, storage.ManifestKey("demo", "save.dat"), mgr.Manifest()); err != nil {
		t.Fatalf("PutJSON manifest: %v", err)
	}

	compressed, err := gzipCompress([]byte("restored content"))
	if err != nil {
		t.Fatalf("gzipCompress: %v", err)
	}

	if err := provider.PutBlob(ctx, storage.VersionKey("demo", "save.dat", fv.VersionID), compressed, nil); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}

	if err := RestoreVersion(ctx, provider, t.TempDir(), "demo", "save.dat", fv.VersionID, localPath); err != nil {
		t.Fatalf("RestoreVersion: %v", err)
	}

	got, err := os.ReadFile(localPath)
	if err != nil {
		t.Fatalf("reading restored file: %v", err)
	}

	if string(got) != "restored content" {
		t.Errorf("restored content = %q, want %q", got, "restored content")
	}
}

func TestRestoreVersionDetectsTamperedBlob(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	localPath := filepath.Join(dir, "save.dat")

	provider := newMemProvider()

	mgr := version.NewManager(version.NewManifest("demo", "save.dat", time.Now()))
	fv, _ := mgr.CreateVersion([]byte("original"), "")

	if err := storage.PutJSON(ctx, provider, storage.ManifestKey("demo", "save.dat"), mgr.Manifest()); err != nil {
		t.Fatalf("PutJSON manifest: %v", err)
	}

	if err := provider.PutBlob(ctx, storage.VersionKey("demo", "save.dat", fv.VersionID), []byte("tampered"), nil); err != nil {
		t.Fatalf("PutBlob: %v", err)
	}

	err := RestoreVersion(ctx, provider, t.TempDir(), "demo", "save.dat", fv.VersionID, localPath)

	var se *Error
	if !errors.As(err, &se) || se.Kind != KindIntegrityViolation {
		t.Fatalf("error = %v, want KindIntegrityViolation", err)
	}

	if _, statErr := os.Stat(localPath); !os.IsNotExist(statErr) {
		t.Error("local file should not have been written on integrity failure")
	}
}

func TestRestoreVersionUnknownIDReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	provider := newMemProvider()

	manifest := version.NewManifest("demo", "save.dat", time.Now())
	if err := storage.PutJSON(ctx, provider, storage.ManifestKey("demo", "save.dat"), manifest); err != nil {
		t.Fatalf("PutJSON manifest: %v", err)
	}

	err := RestoreVersion(ctx, provider, t.TempDir(), "demo", "save.dat", "does-not-exist", filepath.Join(dir, "save.dat"))

	var se *Error
	if !errors.As(err, &se) || se.Kind != KindNotFound {
		t.Fatalf("error = %v, want KindNotFound", err)
	}
}
