package engine

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/xavifortes/gamesave-sync/internal/config"
	"github.com/xavifortes/gamesave-sync/internal/state"
	"github.com/xavifortes/gamesave-sync/internal/storage"
)

// resolveProvider constructs the active StorageProvider from the current
// config snapshot: a LocalFS rooted at the tilde-expanded LocalBasePath
// (or "blobs" under the data directory when LocalBasePath is empty) when
// UseLocalStorage is set, otherwise an S3 provider built from the unsealed
// credentials held by holder. When store is non-nil and the resolved
// Provider is an *storage.S3, store is wired in as its
// TransientStreakTracker so backoff widens across process restarts.
func resolveProvider(holder *config.Holder, store *state.Store, dataDir string, logger *slog.Logger) (storage.Provider, error) {
	cfg := holder.Config()

	if cfg.UseLocalStorage {
		root := cfg.LocalBasePath
		if root == "" {
			root = filepath.Join(dataDir, "blobs")
		}

		expanded, err := config.ExpandTilde(root)
		if err != nil {
			return nil, fmt.Errorf("engine: expanding local_base_path: %w", err)
		}

		provider, err := storage.NewLocalFS(expanded)
		if err != nil {
			return nil, fmt.Errorf("engine: constructing local storage provider: %w", err)
		}

		return provider, nil
	}

	creds, err := holder.PlaintextCredentials()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	s3cfg := storage.S3Config{
		Region:          cfg.S3Region,
		Bucket:          cfg.S3Bucket,
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		UseSSL:          true,
	}

	provider, err := storage.NewS3(s3cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: constructing S3 storage provider: %w", err)
	}

	if store != nil {
		provider.SetStreakTracker(store, "s3:"+cfg.S3Bucket)
	}

	return provider, nil
}
