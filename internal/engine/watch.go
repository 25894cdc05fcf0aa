package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xavifortes/gamesave-sync/internal/config"
	"github.com/xavifortes/gamesave-sync/internal/watch"
)

// watchRoots resolves a game's configured save paths to the directories a
// filesystem watcher can register on (fsnotify watches directories; a
// file save path is watched via its parent).
func watchRoots(gameCfg config.GameConfig) ([]string, error) {
	seen := make(map[string]bool)

	var roots []string

	for _, sp := range gameCfg.SavePaths {
		expanded, err := config.ExpandTilde(sp)
		if err != nil {
			return nil, fmt.Errorf("engine: expanding save path %s: %w", sp, err)
		}

		root := expanded

		if info, statErr := os.Stat(expanded); statErr == nil && !info.IsDir() {
			root = filepath.Dir(expanded)
		}

		if !seen[root] {
			seen[root] = true
			roots = append(roots, root)
		}
	}

	return roots, nil
}

// WatchGame starts a debounced filesystem watch over gameID's save paths;
// any surviving batch of changes triggers a background syncGame call. Safe
// to call again for an already-watched game (idempotent no-op).
func (f *Facade) WatchGame(ctx context.Context, gameID string) error {
	f.mu.Lock()
	if _, ok := f.watches[gameID]; ok {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	gameCfg, err := f.gameConfig(gameID)
	if err != nil {
		return err
	}

	roots, err := watchRoots(gameCfg)
	if err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)

	var regs []*watch.Registration

	for _, root := range roots {
		reg, regErr := f.watcher.Register(watchCtx, root)
		if regErr != nil {
			cancel()

			for _, r := range regs {
				r.Stop()
			}

			return fmt.Errorf("engine: watching %s for %s: %w", root, gameID, regErr)
		}

		regs = append(regs, reg)
	}

	gw := &gameWatch{regs: regs, cancel: cancel}

	f.mu.Lock()
	f.watches[gameID] = gw
	f.mu.Unlock()

	for _, reg := range regs {
		go f.pumpWatchBatches(watchCtx, gameID, reg)
	}

	if f.state != nil {
		root := ""
		if len(roots) > 0 {
			root = roots[0]
		}

		if err := f.state.RegisterWatch(ctx, gameID, root); err != nil {
			f.logger.Warn("persisting watch registration failed", "game", gameID, "error", err)
		}
	}

	return nil
}

// pumpWatchBatches triggers a background sync for gameID whenever reg
// emits a batch of surviving filesystem events, until watchCtx is canceled.
func (f *Facade) pumpWatchBatches(watchCtx context.Context, gameID string, reg *watch.Registration) {
	for {
		select {
		case <-watchCtx.Done():
			return

		case _, ok := <-reg.Batches:
			if !ok {
				return
			}

			if _, err := f.syncGame(watchCtx, gameID); err != nil {
				f.logger.Warn("watch-triggered sync failed", "game", gameID, "error", err)
			}
		}
	}
}

// StopWatching cancels gameID's filesystem watch, if any. Idempotent.
func (f *Facade) StopWatching(gameID string) {
	f.mu.Lock()
	gw, ok := f.watches[gameID]
	if ok {
		delete(f.watches, gameID)
	}
	f.mu.Unlock()

	if !ok {
		return
	}

	gw.cancel()

	for _, reg := range gw.regs {
		reg.Stop()
	}

	if f.state != nil {
		if err := f.state.UnregisterWatch(context.Background(), gameID); err != nil {
			f.logger.Warn("clearing watch registration failed", "game", gameID, "error", err)
		}
	}
}
