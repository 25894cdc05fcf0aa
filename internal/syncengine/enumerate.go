package syncengine

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/xavifortes/gamesave-sync/internal/config"
)

// localFile is one enumerated local save file: its absolute path on disk
// and its relative path within the game's logical namespace (used to build
// storage keys).
type localFile struct {
	AbsPath string
	RelPath string
}

// enumerateSavePath expands a single GameConfig.SavePaths entry (file or
// directory) into its constituent local files, skipping hidden/temp
// entries per shouldSkip.
func enumerateSavePath(savePath string) ([]localFile, error) {
	expanded, err := config.ExpandTilde(savePath)
	if err != nil {
		return nil, fmt.Errorf("syncengine: expanding save path %s: %w", savePath, err)
	}

	info, err := os.Stat(expanded)
	if err != nil {
		return nil, fmt.Errorf("syncengine: stat %s: %w", expanded, err)
	}

	if !info.IsDir() {
		name := filepath.Base(expanded)
		if shouldSkip(name) {
			return nil, nil
		}

		return []localFile{{AbsPath: expanded, RelPath: name}}, nil
	}

	var files []localFile

	err = filepath.WalkDir(expanded, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if d.IsDir() {
			return nil
		}

		if shouldSkip(d.Name()) {
			return nil
		}

		rel, relErr := filepath.Rel(expanded, path)
		if relErr != nil {
			return relErr
		}

		files = append(files, localFile{AbsPath: path, RelPath: rel})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("syncengine: walking %s: %w", expanded, err)
	}

	return files, nil
}

// enumerateGame expands every configured save path for a game into its
// local files. Save paths are processed in configuration order; a file
// under two overlapping save paths is enumerated twice (caller's save
// path list is expected not to overlap).
func enumerateGame(cfg config.GameConfig) ([]localFile, error) {
	var all []localFile

	for _, sp := range cfg.SavePaths {
		files, err := enumerateSavePath(sp)
		if err != nil {
			return nil, err
		}

		all = append(all, files...)
	}

	return all, nil
}
