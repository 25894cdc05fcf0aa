package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xavifortes/gamesave-sync/internal/crypto"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(filepath.Join(dir, "config.toml"), testLogger())
	require.NoError(t, err)
	assert.True(t, cfg.UseLocalStorage)
	assert.Equal(t, uint(DefaultSyncIntervalMinutes), cfg.SyncIntervalMinutes)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := DefaultConfig()
	cfg.LocalBasePath = filepath.Join(dir, "storage")
	cfg.Games["stardew"] = GameConfig{
		Name:        "Stardew Valley",
		SavePaths:   []string{"~/.config/StardewValley/Saves"},
		SyncEnabled: true,
	}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path, testLogger())
	require.NoError(t, err)

	assert.Equal(t, cfg.LocalBasePath, loaded.LocalBasePath)
	require.Contains(t, loaded.Games, "stardew")
	assert.Equal(t, cfg.Games["stardew"].SavePaths, loaded.Games["stardew"].SavePaths)
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, Save(path, DefaultConfig()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".config-", "no leftover temp file after a successful save")
	}
}

func TestValidateRequiresLocalBasePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseLocalStorage = true
	cfg.LocalBasePath = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local_base_path")
}

func TestValidateRequiresRemoteFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseLocalStorage = false

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3_bucket")
	assert.Contains(t, err.Error(), "aws_access_key_id")
	assert.Contains(t, err.Error(), "aws_secret_access_key")
}

func TestValidateRejectsEmptySavePaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalBasePath = "/tmp/x"
	cfg.Games["g"] = GameConfig{Name: "G", SyncEnabled: true}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save_paths")
}

func TestHolderPlaintextCredentialsRoundTrip(t *testing.T) {
	sealer := crypto.NewForIdentity("host", "user")

	accessKeyID, secretKey, err := SealCredentials(sealer, Credentials{
		AccessKeyID:     "AKIA_TEST",
		SecretAccessKey: "shhh",
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.UseLocalStorage = false
	cfg.S3Bucket = "bucket"
	cfg.AWSAccessKeyID = accessKeyID
	cfg.AWSSecretAccessKey = secretKey

	h := NewHolder(cfg, "/dev/null", sealer)

	creds, err := h.PlaintextCredentials()
	require.NoError(t, err)
	assert.Equal(t, "AKIA_TEST", creds.AccessKeyID)
	assert.Equal(t, "shhh", creds.SecretAccessKey)
}

func TestHolderPlaintextCredentialsUnavailableOnWrongMachine(t *testing.T) {
	sealer := crypto.NewForIdentity("host-a", "user")

	accessKeyID, secretKey, err := SealCredentials(sealer, Credentials{
		AccessKeyID:     "AKIA_TEST",
		SecretAccessKey: "shhh",
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.AWSAccessKeyID = accessKeyID
	cfg.AWSSecretAccessKey = secretKey

	otherSealer := crypto.NewForIdentity("host-b", "user")
	h := NewHolder(cfg, "/dev/null", otherSealer)

	_, err = h.PlaintextCredentials()
	require.ErrorIs(t, err, ErrCredentialsUnavailable)
}

func TestHolderUpdateIsVisibleToReaders(t *testing.T) {
	h := NewHolder(DefaultConfig(), "/dev/null", crypto.New())

	assert.True(t, h.Config().AutoSync)

	updated := DefaultConfig()
	updated.AutoSync = false
	h.Update(updated)

	assert.False(t, h.Config().AutoSync)
}
