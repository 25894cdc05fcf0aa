package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xavifortes/gamesave-sync/internal/config"
)

// resolveLocalPath maps a manifest relPath back to the local filesystem
// path it should be restored to, by matching it against gameCfg's
// configured save paths: a file save path matches if relPath equals its
// base name; a directory save path matches by joining relPath onto it.
// The first matching save path wins.
func resolveLocalPath(gameCfg config.GameConfig, relPath string) (string, error) {
	for _, sp := range gameCfg.SavePaths {
		expanded, err := config.ExpandTilde(sp)
		if err != nil {
			return "", fmt.Errorf("engine: expanding save path %s: %w", sp, err)
		}

		info, statErr := os.Stat(expanded)
		if statErr == nil && !info.IsDir() {
			if filepath.Base(expanded) == relPath {
				return expanded, nil
			}

			continue
		}

		return filepath.Join(expanded, filepath.FromSlash(relPath)), nil
	}

	return "", fmt.Errorf("engine: no save path configured for %s matches %q", gameCfg.Name, relPath)
}
