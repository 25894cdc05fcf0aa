package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/xavifortes/gamesave-sync/internal/storage"
	"github.com/xavifortes/gamesave-sync/internal/version"
)

func TestManifestChangedFalseWhenUnmodified(t *testing.T) {
	ctx := context.Background()
	provider := newMemProvider()

	mgr := version.NewManager(version.NewManifest("demo", "save.dat", time.Now()))
	mgr.CreateVersion([]byte("content"), "")

	if err := storage.PutJSON(ctx, provider, storage.ManifestKey("demo", "save.dat"), mgr.Manifest()); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}

	changed, fresh, err := manifestChanged(ctx, provider, "demo", "save.dat", mgr.Manifest())
	if err != nil {
		t.Fatalf("manifestChanged: %v", err)
	}

	if changed {
		t.Error("expected manifestChanged = false for unmodified remote manifest")
	}

	if fresh == nil {
		t.Fatal("expected a non-nil fresh manifest")
	}
}

func TestManifestChangedTrueWhenRemoteMutated(t *testing.T) {
	ctx := context.Background()
	provider := newMemProvider()

	mgr := version.NewManager(version.NewManifest("demo", "save.dat", time.Now()))
	mgr.CreateVersion([]byte("content v1"), "")

	baseline := *mgr.Manifest()
	baselineCopy := baseline
	baselineCopy.Versions = append([]version.FileVersion{}, baseline.Versions...)

	if err := storage.PutJSON(ctx, provider, storage.ManifestKey("demo", "save.dat"), mgr.Manifest()); err != nil {
		t.Fatalf("PutJSON: %v", err)
	}

	// Simulate a concurrent writer advancing the remote manifest past our
	// baseline snapshot.
	mgr.CreateVersion([]byte("content v2"), "")

	if err := storage.PutJSON(ctx, provider, storage.ManifestKey("demo", "save.dat"), mgr.Manifest()); err != nil {
		t.Fatalf("PutJSON (second write): %v", err)
	}

	changed, fresh, err := manifestChanged(ctx, provider, "demo", "save.dat", &baselineCopy)
	if err != nil {
		t.Fatalf("manifestChanged: %v", err)
	}

	if !changed {
		t.Error("expected manifestChanged = true when remote manifest advanced")
	}

	if fresh == nil || len(fresh.Versions) != 2 {
		t.Fatalf("fresh manifest = %+v, want 2 versions", fresh)
	}
}

func TestManifestChangedFalseWhenBothBaselineAndRemoteAreEmpty(t *testing.T) {
	ctx := context.Background()
	provider := newMemProvider()

	baseline := version.NewManifest("demo", "save.dat", time.Now())

	changed, _, err := manifestChanged(ctx, provider, "demo", "save.dat", baseline)
	if err != nil {
		t.Fatalf("manifestChanged: %v", err)
	}

	if changed {
		t.Error("expected manifestChanged = false when no remote manifest exists and baseline was already empty")
	}
}

func TestManifestChangedTrueWhenRemoteManifestDisappeared(t *testing.T) {
	ctx := context.Background()
	provider := newMemProvider()

	mgr := version.NewManager(version.NewManifest("demo", "save.dat", time.Now()))
	mgr.CreateVersion([]byte("content"), "")

	changed, _, err := manifestChanged(ctx, provider, "demo", "save.dat", mgr.Manifest())
	if err != nil {
		t.Fatalf("manifestChanged: %v", err)
	}

	if !changed {
		t.Error("expected manifestChanged = true when baseline was non-empty but remote manifest is now missing")
	}
}
