package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xavifortes/gamesave-sync/internal/config"
	"github.com/xavifortes/gamesave-sync/internal/crypto"
	"github.com/xavifortes/gamesave-sync/internal/state"
	"github.com/xavifortes/gamesave-sync/internal/storage"
)

func newTestFacade(t *testing.T, cfg *config.Config) *Facade {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	holder := config.NewHolder(cfg, filepath.Join(t.TempDir(), "config.toml"), crypto.New())

	store, err := state.Open(":memory:", logger)
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}

	t.Cleanup(func() { store.Close() })

	dataDir := t.TempDir()

	f, err := New(holder, store, dataDir, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return f
}

func localConfig(t *testing.T, saveDir string) *config.Config {
	t.Helper()

	return &config.Config{
		UseLocalStorage: true,
		LocalBasePath:   filepath.Join(t.TempDir(), "blobs"),
		Games: map[string]config.GameConfig{
			"demo": {Name: "demo", SavePaths: []string{saveDir}, SyncEnabled: true},
		},
	}
}

func writeSave(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing save file: %v", err)
	}

	return path
}

func TestFacadeSyncGameUploadsAndListsHistory(t *testing.T) {
	ctx := context.Background()
	saveDir := t.TempDir()

	writeSave(t, saveDir, "save.dat", strings.Repeat("A", 256))

	f := newTestFacade(t, localConfig(t, saveDir))

	result, err := f.SyncGame(ctx, "demo")
	if err != nil {
		t.Fatalf("SyncGame: %v", err)
	}

	if result.Uploaded != 1 {
		t.Fatalf("Uploaded = %d, want 1", result.Uploaded)
	}

	manifest, err := f.ListVersionHistory(ctx, "demo", "save.dat")
	if err != nil {
		t.Fatalf("ListVersionHistory: %v", err)
	}

	if len(manifest.Versions) != 1 {
		t.Fatalf("manifest has %d versions, want 1", len(manifest.Versions))
	}
}

func TestFacadeSyncGameUnknownGameErrors(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t, localConfig(t, t.TempDir()))

	if _, err := f.SyncGame(ctx, "does-not-exist"); err == nil {
		t.Fatal("expected an error for an unconfigured game")
	}
}

func TestFacadeSecondCallAfterCoalesceWindowReturnsBusy(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t, localConfig(t, t.TempDir()))

	base := time.Now()
	tick := base

	var mu sync.Mutex

	f.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()

		return tick
	}

	f.mu.Lock()
	f.inFlight["demo"] = &runState{startedAt: base, done: make(chan struct{})}
	f.mu.Unlock()

	mu.Lock()
	tick = base.Add(singleFlightCoalesceWindow + time.Millisecond)
	mu.Unlock()

	_, err := f.syncGame(ctx, "demo")
	if err == nil {
		t.Fatal("expected ErrBusy")
	}

	if !strings.Contains(err.Error(), "already in progress") {
		t.Errorf("error = %v, want ErrBusy-wrapped", err)
	}
}

func TestFacadeSecondCallWithinCoalesceWindowSharesResult(t *testing.T) {
	ctx := context.Background()
	f := newTestFacade(t, localConfig(t, t.TempDir()))

	rs := &runState{startedAt: time.Now(), done: make(chan struct{})}

	f.mu.Lock()
	f.inFlight["demo"] = rs
	f.mu.Unlock()

	go func() {
		time.Sleep(20 * time.Millisecond)

		f.mu.Lock()
		delete(f.inFlight, "demo")
		f.mu.Unlock()

		rs.err = ErrBusy
		close(rs.done)
	}()

	_, err := f.syncGame(ctx, "demo")
	if err != rs.err {
		t.Errorf("coalesced caller got err = %v, want the in-flight run's err", err)
	}
}

func TestFacadeSyncAllRunsOnlySyncEnabledGames(t *testing.T) {
	ctx := context.Background()

	dirA := t.TempDir()
	dirB := t.TempDir()

	writeSave(t, dirA, "a.sav", "content a")
	writeSave(t, dirB, "b.sav", "content b")

	cfg := &config.Config{
		UseLocalStorage: true,
		LocalBasePath:   filepath.Join(t.TempDir(), "blobs"),
		Games: map[string]config.GameConfig{
			"game-a": {Name: "game-a", SavePaths: []string{dirA}, SyncEnabled: true},
			"game-b": {Name: "game-b", SavePaths: []string{dirB}, SyncEnabled: false},
		},
	}

	f := newTestFacade(t, cfg)

	results := f.SyncAll(ctx)

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (only sync-enabled games)", len(results))
	}

	if results[0].GameID != "game-a" {
		t.Errorf("synced game = %q, want game-a", results[0].GameID)
	}

	if results[0].Err != nil {
		t.Errorf("SyncAll result error = %v", results[0].Err)
	}
}

func TestFacadeRestoreVersionRoundTrip(t *testing.T) {
	ctx := context.Background()
	saveDir := t.TempDir()

	path := writeSave(t, saveDir, "save.dat", "original content")

	f := newTestFacade(t, localConfig(t, saveDir))

	result, err := f.SyncGame(ctx, "demo")
	if err != nil {
		t.Fatalf("SyncGame: %v", err)
	}

	manifest, err := f.ListVersionHistory(ctx, "demo", "save.dat")
	if err != nil {
		t.Fatalf("ListVersionHistory: %v", err)
	}

	if len(manifest.Versions) != 1 {
		t.Fatalf("manifest has %d versions, want 1", len(manifest.Versions))
	}

	firstVersionID := manifest.Versions[0].VersionID

	if err := os.WriteFile(path, []byte("overwritten content"), 0o600); err != nil {
		t.Fatalf("rewriting save file: %v", err)
	}

	if _, err := f.SyncGame(ctx, "demo"); err != nil {
		t.Fatalf("second SyncGame: %v", err)
	}

	_ = result

	if err := f.RestoreVersion(ctx, "demo", "save.dat", firstVersionID); err != nil {
		t.Fatalf("RestoreVersion: %v", err)
	}

	restored, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading restored file: %v", err)
	}

	if string(restored) != "original content" {
		t.Errorf("restored content = %q, want %q", restored, "original content")
	}
}

func TestFacadePinAndCleanupOldVersions(t *testing.T) {
	ctx := context.Background()
	saveDir := t.TempDir()

	path := writeSave(t, saveDir, "save.dat", "version one")

	f := newTestFacade(t, localConfig(t, saveDir))

	if _, err := f.SyncGame(ctx, "demo"); err != nil {
		t.Fatalf("SyncGame: %v", err)
	}

	manifest, err := f.ListVersionHistory(ctx, "demo", "save.dat")
	if err != nil {
		t.Fatalf("ListVersionHistory: %v", err)
	}

	firstID := manifest.Versions[0].VersionID

	if err := f.PinVersion(ctx, "demo", "save.dat", firstID, true); err != nil {
		t.Fatalf("PinVersion: %v", err)
	}

	for i := 0; i < 12; i++ {
		if err := os.WriteFile(path, []byte("version "+string(rune('a'+i))), 0o600); err != nil {
			t.Fatalf("rewriting save file: %v", err)
		}

		if _, err := f.SyncGame(ctx, "demo"); err != nil {
			t.Fatalf("SyncGame iteration %d: %v", i, err)
		}
	}

	results, err := f.CleanupOldVersions(ctx, "demo")
	if err != nil {
		t.Fatalf("CleanupOldVersions: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("got %d cleanup results, want 1", len(results))
	}

	manifest, err = f.ListVersionHistory(ctx, "demo", "save.dat")
	if err != nil {
		t.Fatalf("ListVersionHistory after cleanup: %v", err)
	}

	found := false

	for _, v := range manifest.Versions {
		if v.VersionID == firstID {
			found = true

			if !v.IsPinned {
				t.Error("expected the pinned version to remain pinned after cleanup")
			}
		}
	}

	if !found {
		t.Error("expected the pinned first version to survive cleanup")
	}
}

func TestFacadeCollectOrphanedBlobsDeletesUnreferencedVersion(t *testing.T) {
	ctx := context.Background()
	saveDir := t.TempDir()

	writeSave(t, saveDir, "save.dat", "version one")

	f := newTestFacade(t, localConfig(t, saveDir))

	if _, err := f.SyncGame(ctx, "demo"); err != nil {
		t.Fatalf("SyncGame: %v", err)
	}

	f.mu.Lock()
	provider := f.provider
	f.mu.Unlock()

	orphanKey := storage.VersionKey("demo", "save.dat", "orphan-version-id")
	if err := provider.PutBlob(ctx, orphanKey, []byte("nobody references me"), nil); err != nil {
		t.Fatalf("seeding orphan blob: %v", err)
	}

	result, err := f.CollectOrphanedBlobs(ctx, "demo")
	if err != nil {
		t.Fatalf("CollectOrphanedBlobs: %v", err)
	}

	if result.Deleted != 1 {
		t.Fatalf("Deleted = %d, want 1", result.Deleted)
	}

	exists, err := provider.Exists(ctx, orphanKey)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}

	if exists {
		t.Error("expected the orphaned blob to be deleted")
	}

	manifest, err := f.ListVersionHistory(ctx, "demo", "save.dat")
	if err != nil {
		t.Fatalf("ListVersionHistory: %v", err)
	}

	realKey := storage.VersionKey("demo", "save.dat", manifest.Versions[0].VersionID)

	exists, err = provider.Exists(ctx, realKey)
	if err != nil {
		t.Fatalf("Exists (real version): %v", err)
	}

	if !exists {
		t.Error("expected the manifest-referenced version blob to survive gc")
	}
}

func TestFacadeUpdateConfigSwitchesProvider(t *testing.T) {
	f := newTestFacade(t, localConfig(t, t.TempDir()))

	newBase := filepath.Join(t.TempDir(), "new-blobs")
	newCfg := &config.Config{
		UseLocalStorage: true,
		LocalBasePath:   newBase,
		Games:           map[string]config.GameConfig{},
	}

	if err := f.UpdateConfig(newCfg); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	if f.holder.Config().LocalBasePath != newBase {
		t.Errorf("holder config not updated, LocalBasePath = %q, want %q", f.holder.Config().LocalBasePath, newBase)
	}

	if err := f.TestRemoteConnection(context.Background()); err != nil {
		t.Errorf("TestRemoteConnection after UpdateConfig: %v", err)
	}
}

func TestNewReestablishesPersistedWatches(t *testing.T) {
	saveDir := t.TempDir()
	writeSave(t, saveDir, "save.dat", "content")

	cfg := localConfig(t, saveDir)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	holder := config.NewHolder(cfg, filepath.Join(t.TempDir(), "config.toml"), crypto.New())

	dbPath := filepath.Join(t.TempDir(), "state.db")

	store, err := state.Open(dbPath, logger)
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}

	if err := store.RegisterWatch(context.Background(), "demo", saveDir); err != nil {
		t.Fatalf("RegisterWatch: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("closing store before reopen: %v", err)
	}

	reopened, err := state.Open(dbPath, logger)
	if err != nil {
		t.Fatalf("reopening state.Open: %v", err)
	}

	t.Cleanup(func() { reopened.Close() })

	f, err := New(holder, reopened, t.TempDir(), logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	f.mu.Lock()
	_, watching := f.watches["demo"]
	f.mu.Unlock()

	if !watching {
		t.Error("expected New to re-establish the persisted watch for demo")
	}

	f.StopWatching("demo")
}

func TestFacadeWatchGameIsIdempotentAndStoppable(t *testing.T) {
	saveDir := t.TempDir()
	writeSave(t, saveDir, "save.dat", "content")

	f := newTestFacade(t, localConfig(t, saveDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.WatchGame(ctx, "demo"); err != nil {
		t.Fatalf("WatchGame: %v", err)
	}

	if err := f.WatchGame(ctx, "demo"); err != nil {
		t.Fatalf("second WatchGame call: %v", err)
	}

	f.mu.Lock()
	n := len(f.watches)
	f.mu.Unlock()

	if n != 1 {
		t.Errorf("watches map has %d entries, want 1 (idempotent)", n)
	}

	f.StopWatching("demo")

	f.mu.Lock()
	n = len(f.watches)
	f.mu.Unlock()

	if n != 0 {
		t.Errorf("watches map has %d entries after StopWatching, want 0", n)
	}

	// Stopping an already-stopped watch is a no-op, not an error.
	f.StopWatching("demo")
}
