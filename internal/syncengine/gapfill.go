package syncengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/xavifortes/gamesave-sync/internal/storage"
	"github.com/xavifortes/gamesave-sync/internal/version"
)

// maxGapFillConcurrency bounds how many version blobs are downloaded at
// once for a single file's gap-fill pass.
const maxGapFillConcurrency = 4

// downloadGapFill ensures every version referenced by manifest has its
// blob present under cacheDir, downloading any that are missing. Cache
// layout: cacheDir/<versionId>. Each download is re-hashed against the
// manifest entry; a mismatch returns KindIntegrityViolation immediately
// (via errgroup's first-error-wins cancellation) without touching any
// local save file — only the cache is written.
func downloadGapFill(ctx context.Context, provider storage.Provider, game, relPath, cacheDir string, manifest *version.Manifest) error {
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return newError(KindInternal, fmt.Sprintf("creating cache dir %s", cacheDir), err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxGapFillConcurrency)

	for _, v := range manifest.Versions {
		v := v

		cachePath := filepath.Join(cacheDir, v.VersionID)

		if _, err := os.Stat(cachePath); err == nil {
			continue
		}

		g.Go(func() error {
			return downloadOneVersion(gctx, provider, game, relPath, cachePath, v)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return nil
}

func downloadOneVersion(ctx context.Context, provider storage.Provider, game, relPath, cachePath string, v version.FileVersion) error {
	data, err := provider.GetBlob(ctx, storage.VersionKey(game, relPath, v.VersionID))
	if err != nil {
		return newError(KindStorageTransient, fmt.Sprintf("downloading version %s", v.VersionID), err)
	}

	data, err = decodeBlob(data, v)
	if err != nil {
		return newError(KindIntegrityViolation, fmt.Sprintf("decoding version %s payload after download", v.VersionID), err)
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != v.Hash {
		return newError(KindIntegrityViolation,
			fmt.Sprintf("version %s failed hash verification after download", v.VersionID), nil)
	}

	tmp := cachePath + ".download"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return newError(KindInternal, fmt.Sprintf("writing cache file for %s", v.VersionID), err)
	}

	if err := os.Rename(tmp, cachePath); err != nil {
		return newError(KindInternal, fmt.Sprintf("finalizing cache file for %s", v.VersionID), err)
	}

	return nil
}
