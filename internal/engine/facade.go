// Package engine implements EngineFacade, the single entry point external
// callers use to drive synchronization: it owns the active config, the
// resolved StorageProvider, the set of active filesystem watches, and
// enforces the single-flight-per-game concurrency policy.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/xavifortes/gamesave-sync/internal/config"
	"github.com/xavifortes/gamesave-sync/internal/state"
	"github.com/xavifortes/gamesave-sync/internal/storage"
	"github.com/xavifortes/gamesave-sync/internal/syncengine"
	"github.com/xavifortes/gamesave-sync/internal/version"
	"github.com/xavifortes/gamesave-sync/internal/watch"
)

// singleFlightCoalesceWindow is how long a second caller for the same game
// waits on an in-flight run's result before being told Busy instead.
const singleFlightCoalesceWindow = 250 * time.Millisecond

// syncAllConcurrency bounds how many games syncAll runs at once.
const syncAllConcurrency = 4

// ErrBusy is returned by syncGame when a run for the same game is already
// in flight and the caller arrived more than singleFlightCoalesceWindow
// after it started.
var ErrBusy = errors.New("engine: sync already in progress for this game")

// runState tracks one in-flight (or just-finished) run, shared by the
// goroutine performing it and any caller that coalesces onto it.
type runState struct {
	startedAt time.Time
	done      chan struct{}
	result    syncengine.RunResult
	err       error
}

// gameWatch holds the live Registrations and fan-in goroutine backing one
// game's watchGame call.
type gameWatch struct {
	regs   []*watch.Registration
	cancel context.CancelFunc
}

// Facade is the EngineFacade: it exclusively owns Config, the active
// StorageProvider, the VersionManager-driving sync engine, and the set of
// WatchRegistrations, grounded on the teacher's Orchestrator (per-unit
// runners with panic isolation) narrowed from per-drive to per-game.
type Facade struct {
	holder  *config.Holder
	logger  *slog.Logger
	state   *state.Store
	watcher *watch.Watcher
	dataDir string

	mu       sync.Mutex
	provider storage.Provider
	inFlight map[string]*runState
	watches  map[string]*gameWatch

	now func() time.Time
}

// New constructs a Facade, resolving the active StorageProvider from
// holder's current config.
func New(holder *config.Holder, store *state.Store, dataDir string, logger *slog.Logger) (*Facade, error) {
	if logger == nil {
		logger = slog.Default()
	}

	provider, err := resolveProvider(holder, store, dataDir, logger)
	if err != nil {
		return nil, err
	}

	f := &Facade{
		holder:   holder,
		logger:   logger,
		state:    store,
		watcher:  watch.New(logger),
		dataDir:  dataDir,
		provider: provider,
		inFlight: make(map[string]*runState),
		watches:  make(map[string]*gameWatch),
		now:      time.Now,
	}

	f.resumeFromState()

	return f, nil
}

// resumeFromState re-establishes the persisted bookkeeping a fresh process
// inherits from a prior one: it warns about any game whose last run never
// reached a terminal status (a crash mid-sync), then re-registers a
// filesystem watch for every game the previous process was watching when it
// stopped. A no-op when the facade was constructed without a state.Store.
func (f *Facade) resumeFromState() {
	if f.state == nil {
		return
	}

	ctx := context.Background()
	cfg := f.holder.Config()

	for id := range cfg.Games {
		interrupted, err := f.state.WasInterrupted(ctx, id)
		if err != nil {
			f.logger.Warn("checking prior run status failed", "game", id, "error", err)
			continue
		}

		if interrupted {
			f.logger.Warn("previous run for game did not finish cleanly; cached restore data may be stale", "game", id)
		}
	}

	regs, err := f.state.ListWatchRegistrations(ctx)
	if err != nil {
		f.logger.Warn("listing persisted watch registrations failed", "error", err)
		return
	}

	for _, reg := range regs {
		gameCfg, ok := cfg.Games[reg.GameID]
		if !ok || !gameCfg.SyncEnabled {
			continue
		}

		if err := f.WatchGame(ctx, reg.GameID); err != nil {
			f.logger.Warn("re-establishing watch after restart failed", "game", reg.GameID, "root", reg.RootPath, "error", err)
		}
	}
}

// Config returns the currently held config snapshot.
func (f *Facade) Config() *config.Config {
	return f.holder.Config()
}

func (f *Facade) gameConfig(gameID string) (config.GameConfig, error) {
	cfg := f.holder.Config()

	gc, ok := cfg.Games[gameID]
	if !ok {
		return config.GameConfig{}, fmt.Errorf("engine: unknown game %q", gameID)
	}

	return gc, nil
}

func (f *Facade) deps(gameCfg config.GameConfig) syncengine.Dependencies {
	f.mu.Lock()
	provider := f.provider
	f.mu.Unlock()

	return syncengine.Dependencies{
		Provider:          provider,
		CacheRoot:         filepath.Join(f.dataDir, "cache"),
		RetentionPolicy:   version.DefaultRetentionPolicy(),
		PinStrategy:       version.PinStrategy(gameCfg.PinStrategy),
		EnableCompression: f.holder.Config().EnableCompression,
	}
}

// syncGame runs one synchronization pass for gameID. At most one run per
// gameID executes at a time: a concurrent call within 250ms of the
// in-flight run's start receives that run's result; a later concurrent
// call receives ErrBusy immediately.
func (f *Facade) syncGame(ctx context.Context, gameID string) (syncengine.RunResult, error) {
	f.mu.Lock()

	if rs, ok := f.inFlight[gameID]; ok {
		elapsed := f.now().Sub(rs.startedAt)
		f.mu.Unlock()

		if elapsed < singleFlightCoalesceWindow {
			<-rs.done

			return rs.result, rs.err
		}

		return syncengine.RunResult{}, fmt.Errorf("%w: %s", ErrBusy, gameID)
	}

	rs := &runState{startedAt: f.now(), done: make(chan struct{})}
	f.inFlight[gameID] = rs
	f.mu.Unlock()

	result, err := f.runSyncGame(ctx, gameID)

	f.mu.Lock()
	delete(f.inFlight, gameID)
	f.mu.Unlock()

	rs.result, rs.err = result, err
	close(rs.done)

	return result, err
}

// SyncGame is the exported entry point for syncGame(gameId).
func (f *Facade) SyncGame(ctx context.Context, gameID string) (syncengine.RunResult, error) {
	return f.syncGame(ctx, gameID)
}

func (f *Facade) runSyncGame(ctx context.Context, gameID string) (result syncengine.RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: panic syncing game %s: %v", gameID, r)
		}
	}()

	gameCfg, err := f.gameConfig(gameID)
	if err != nil {
		return syncengine.RunResult{}, err
	}

	if f.state != nil {
		if stateErr := f.state.StartRun(ctx, gameID); stateErr != nil {
			f.logger.Warn("recording run start failed", "game", gameID, "error", stateErr)
		}
	}

	result, err = syncengine.Run(ctx, gameID, gameCfg, f.deps(gameCfg), nil)

	if f.state != nil {
		status := state.RunStatusComplete
		if err != nil {
			status = state.RunStatusFailed
		}

		if stateErr := f.state.FinishRun(ctx, gameID, status); stateErr != nil {
			f.logger.Warn("recording run finish failed", "game", gameID, "error", stateErr)
		}
	}

	return result, err
}

// SyncAllResult pairs a game with its sync outcome.
type SyncAllResult struct {
	GameID string
	Result syncengine.RunResult
	Err    error
}

// SyncAll runs syncGame for every SyncEnabled game, bounded to
// syncAllConcurrency concurrent runs. A single game's failure (including
// ErrBusy) does not stop the others.
func (f *Facade) SyncAll(ctx context.Context) []SyncAllResult {
	cfg := f.holder.Config()

	var gameIDs []string

	for id, gc := range cfg.Games {
		if gc.SyncEnabled {
			gameIDs = append(gameIDs, id)
		}
	}

	results := make([]SyncAllResult, len(gameIDs))

	sem := make(chan struct{}, syncAllConcurrency)

	var wg sync.WaitGroup

	for i, id := range gameIDs {
		wg.Add(1)

		sem <- struct{}{}

		go func(idx int, gameID string) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := f.syncGame(ctx, gameID)
			results[idx] = SyncAllResult{GameID: gameID, Result: result, Err: err}
		}(i, id)
	}

	wg.Wait()

	return results
}

// RestoreVersion overwrites gameID's local file at relPath with versionID's
// stored content.
func (f *Facade) RestoreVersion(ctx context.Context, gameID, relPath, versionID string) error {
	gameCfg, err := f.gameConfig(gameID)
	if err != nil {
		return err
	}

	localPath, err := resolveLocalPath(gameCfg, relPath)
	if err != nil {
		return err
	}

	f.mu.Lock()
	provider := f.provider
	f.mu.Unlock()

	return syncengine.RestoreVersion(ctx, provider, f.dataDir, gameID, relPath, versionID, localPath)
}

// ListVersionHistory returns the full version manifest for one file.
func (f *Facade) ListVersionHistory(ctx context.Context, gameID, relPath string) (*version.Manifest, error) {
	f.mu.Lock()
	provider := f.provider
	f.mu.Unlock()

	var manifest version.Manifest

	err := storage.GetJSON(ctx, provider, storage.ManifestKey(gameID, relPath), &manifest)
	if err != nil {
		return nil, fmt.Errorf("engine: listing version history for %s/%s: %w", gameID, relPath, err)
	}

	return &manifest, nil
}

// PinVersion sets or clears the pinned flag on one stored version.
func (f *Facade) PinVersion(ctx context.Context, gameID, relPath, versionID string, pin bool) error {
	f.mu.Lock()
	provider := f.provider
	f.mu.Unlock()

	key := storage.ManifestKey(gameID, relPath)

	var manifest version.Manifest
	if err := storage.GetJSON(ctx, provider, key, &manifest); err != nil {
		return fmt.Errorf("engine: fetching manifest for pin: %w", err)
	}

	mgr := version.NewManager(&manifest)

	var pinErr error
	if pin {
		pinErr = mgr.Pin(versionID)
	} else {
		pinErr = mgr.Unpin(versionID)
	}

	if pinErr != nil {
		return fmt.Errorf("engine: %w", pinErr)
	}

	if err := storage.PutJSON(ctx, provider, key, mgr.Manifest()); err != nil {
		return fmt.Errorf("engine: writing manifest after pin: %w", err)
	}

	return nil
}

// CleanupResult reports how many versions were trimmed for one file.
type CleanupResult struct {
	RelPath string
	Removed int
}

// CleanupOldVersions re-applies retention policy to every manifest belonging
// to gameID, independent of a sync run — useful when local files were
// deleted but remote history should still be trimmed.
func (f *Facade) CleanupOldVersions(ctx context.Context, gameID string) ([]CleanupResult, error) {
	f.mu.Lock()
	provider := f.provider
	f.mu.Unlock()

	keys, err := provider.ListByPrefix(ctx, storage.ManifestPrefix(gameID))
	if err != nil {
		return nil, fmt.Errorf("engine: listing manifests for %s: %w", gameID, err)
	}

	policy := version.DefaultRetentionPolicy()

	var results []CleanupResult

	for _, key := range keys {
		_, relPath, err := storage.ParseManifestKey(key)
		if err != nil {
			f.logger.Warn("skipping malformed manifest key during cleanup", "key", key, "error", err)
			continue
		}

		var manifest version.Manifest
		if err := storage.GetJSON(ctx, provider, key, &manifest); err != nil {
			return results, fmt.Errorf("engine: fetching manifest %s: %w", key, err)
		}

		mgr := version.NewManager(&manifest)
		removed := mgr.Cleanup(policy, time.Now())

		if err := storage.PutJSON(ctx, provider, key, mgr.Manifest()); err != nil {
			return results, fmt.Errorf("engine: writing manifest %s after cleanup: %w", key, err)
		}

		for _, versionID := range removed {
			blobKey := storage.VersionKey(gameID, relPath, versionID)
			if err := provider.DeleteBlob(ctx, blobKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
				f.logger.Warn("failed to delete orphaned version blob", "key", blobKey, "error", err)
			}
		}

		results = append(results, CleanupResult{RelPath: relPath, Removed: len(removed)})
	}

	return results, nil
}

// GCResult reports one orphaned-blob sweep's outcome for a game.
type GCResult struct {
	Scanned     int
	Deleted     int
	DeletedKeys []string
}

// CollectOrphanedBlobs is an explicit, opt-in maintenance operation (never
// invoked by SyncGame or SyncAll): it lists every version blob stored for
// gameID, diffs that against every version actually referenced by gameID's
// manifests, and deletes whatever blob no manifest points at. This is the
// backstop for a version blob uploaded by tryCommit just before the process
// was killed, before the matching manifest write-back landed.
func (f *Facade) CollectOrphanedBlobs(ctx context.Context, gameID string) (GCResult, error) {
	f.mu.Lock()
	provider := f.provider
	f.mu.Unlock()

	manifestKeys, err := provider.ListByPrefix(ctx, storage.ManifestPrefix(gameID))
	if err != nil {
		return GCResult{}, fmt.Errorf("engine: listing manifests for %s: %w", gameID, err)
	}

	referenced := make(map[string]bool)

	for _, key := range manifestKeys {
		_, relPath, err := storage.ParseManifestKey(key)
		if err != nil {
			f.logger.Warn("skipping malformed manifest key during gc", "key", key, "error", err)
			continue
		}

		var manifest version.Manifest
		if err := storage.GetJSON(ctx, provider, key, &manifest); err != nil {
			return GCResult{}, fmt.Errorf("engine: fetching manifest %s: %w", key, err)
		}

		for _, v := range manifest.Versions {
			referenced[storage.VersionKey(gameID, relPath, v.VersionID)] = true
		}
	}

	blobKeys, err := provider.ListByPrefix(ctx, storage.VersionsGamePrefix(gameID))
	if err != nil {
		return GCResult{}, fmt.Errorf("engine: listing version blobs for %s: %w", gameID, err)
	}

	result := GCResult{Scanned: len(blobKeys)}

	for _, key := range blobKeys {
		if referenced[key] {
			continue
		}

		if err := provider.DeleteBlob(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return result, fmt.Errorf("engine: deleting orphaned blob %s: %w", key, err)
		}

		result.Deleted++
		result.DeletedKeys = append(result.DeletedKeys, key)
	}

	return result, nil
}

// UpdateConfig replaces the held config and re-resolves the active
// StorageProvider from it.
func (f *Facade) UpdateConfig(cfg *config.Config) error {
	f.holder.Update(cfg)

	provider, err := resolveProvider(f.holder, f.state, f.dataDir, f.logger)
	if err != nil {
		return fmt.Errorf("engine: re-resolving storage provider after config update: %w", err)
	}

	f.mu.Lock()
	f.provider = provider
	f.mu.Unlock()

	return nil
}

// TestRemoteConnection verifies the currently configured StorageProvider is
// reachable by probing a sentinel key.
func (f *Facade) TestRemoteConnection(ctx context.Context) error {
	f.mu.Lock()
	provider := f.provider
	f.mu.Unlock()

	const probeKey = "connection-test/.probe"

	if _, err := provider.Exists(ctx, probeKey); err != nil {
		return fmt.Errorf("engine: storage connection test failed: %w", err)
	}

	return nil
}

// Close tears down every active watch and the state store.
func (f *Facade) Close() error {
	f.mu.Lock()
	gameIDs := make([]string, 0, len(f.watches))
	for id := range f.watches {
		gameIDs = append(gameIDs, id)
	}
	f.mu.Unlock()

	for _, id := range gameIDs {
		f.StopWatching(id)
	}

	if f.state != nil {
		return f.state.Close()
	}

	return nil
}
