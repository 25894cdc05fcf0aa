package syncengine

import (
	"context"
	"errors"

	"github.com/xavifortes/gamesave-sync/internal/storage"
	"github.com/xavifortes/gamesave-sync/internal/version"
)

// manifestChanged reports whether the manifest currently stored at
// (game, relPath) differs from baseline — either its UpdatedAt advanced or
// its current (tail) version differs. A NotFound remote manifest is only
// "changed" relative to a non-empty baseline (baseline existed, then
// vanished — treated conservatively as a change).
func manifestChanged(ctx context.Context, provider storage.Provider, game, relPath string, baseline *version.Manifest) (bool, *version.Manifest, error) {
	var fresh version.Manifest

	err := storage.GetJSON(ctx, provider, storage.ManifestKey(game, relPath), &fresh)
	if errors.Is(err, storage.ErrNotFound) {
		if len(baseline.Versions) == 0 {
			return false, version.NewManifest(game, relPath, baseline.UpdatedAt), nil
		}

		return true, version.NewManifest(game, relPath, baseline.UpdatedAt), nil
	}

	if err != nil {
		return false, nil, err
	}

	if !fresh.UpdatedAt.Equal(baseline.UpdatedAt) {
		return true, &fresh, nil
	}

	baselineCurrent, baselineOK := baseline.Current()
	freshCurrent, freshOK := fresh.Current()

	if baselineOK != freshOK {
		return true, &fresh, nil
	}

	if baselineOK && baselineCurrent.VersionID != freshCurrent.VersionID {
		return true, &fresh, nil
	}

	return false, &fresh, nil
}
