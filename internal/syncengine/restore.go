package syncengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xavifortes/gamesave-sync/internal/storage"
	"github.com/xavifortes/gamesave-sync/internal/version"
)

// RestoreVersion overwrites the local file at localPath with the content of
// versionID from (game, relPath)'s manifest. The existing local file, if
// any, is copied aside to
// "<localBase>/restore-backup/<game>/<relPath>/<timestamp>" before the
// overwrite — restoring never silently discards what was there.
func RestoreVersion(ctx context.Context, provider storage.Provider, localBase, game, relPath, versionID, localPath string) error {
	var manifest version.Manifest

	err := storage.GetJSON(ctx, provider, storage.ManifestKey(game, relPath), &manifest)
	if errors.Is(err, storage.ErrNotFound) {
		return newError(KindNotFound, fmt.Sprintf("no manifest for %s/%s", game, relPath), err)
	}

	if err != nil {
		return newError(KindStorageTransient, "fetching manifest", err)
	}

	target, ok := manifest.Find(versionID)
	if !ok {
		return newError(KindNotFound, fmt.Sprintf("version %s not in manifest", versionID), nil)
	}

	data, err := provider.GetBlob(ctx, storage.VersionKey(game, relPath, versionID))
	if err != nil {
		return newError(KindStorageTransient, "downloading version blob", err)
	}

	data, err = decodeBlob(data, target)
	if err != nil {
		return newError(KindIntegrityViolation, fmt.Sprintf("decoding version %s payload", versionID), err)
	}

	if !verifyHash(data, target.Hash) {
		return newError(KindIntegrityViolation, fmt.Sprintf("version %s failed hash verification", versionID), nil)
	}

	if err := backupIfExists(localBase, game, relPath, localPath); err != nil {
		return newError(KindInternal, "backing up existing local file", err)
	}

	if err := writeLocalAtomic(localPath, data); err != nil {
		return newError(KindInternal, "writing restored file", err)
	}

	return nil
}

// backupIfExists copies localPath's current content aside under
// "<localBase>/restore-backup/<game>/<relPath>/<timestamp>" before a
// restore overwrites it. A no-op when localPath doesn't exist yet.
func backupIfExists(localBase, game, relPath, localPath string) error {
	if _, err := os.Stat(localPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	existing, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	backupDir := filepath.Join(localBase, "restore-backup", game, filepath.FromSlash(relPath))
	if err := os.MkdirAll(backupDir, 0o700); err != nil {
		return err
	}

	stamp := strings.ReplaceAll(time.Now().UTC().Format(time.RFC3339Nano), ":", "-")
	backupPath := filepath.Join(backupDir, stamp)

	return os.WriteFile(backupPath, existing, 0o600)
}

func writeLocalAtomic(localPath string, data []byte) error {
	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".restore-*.tmp")
	if err != nil {
		return err
	}

	tmpPath := tmp.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()

		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, localPath); err != nil {
		return err
	}

	succeeded = true

	return nil
}
