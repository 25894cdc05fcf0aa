package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// configFilePermissions is the standard permission mode for the config
// file. Owner read/write, group and others read-only — it may contain
// sealed (not plaintext) credentials, so it does not need 0600, but it is
// not intended for arbitrary world-write either.
const configFilePermissions = 0o644

// configDirPermissions is the permission mode for the config directory.
const configDirPermissions = 0o755

// Save serializes cfg as TOML and writes it atomically to path: a temp
// file in the same directory, fsync, then rename over the target.
// Concurrent readers never observe a partially-written file.
func Save(path string, cfg *Config) error {
	var buf bytes.Buffer

	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}

	return atomicWriteFile(path, buf.Bytes())
}

// atomicWriteFile writes data to path via a temp file in the same
// directory, fsync, chmod, then rename. Same directory guarantees same
// filesystem for rename(2), making the rename atomic.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("config: creating directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("config: writing temp file: %w", err)
	}

	// Flush to stable storage before rename: without fsync, a crash
	// between rename and the next fsync of the directory entry could
	// leave an empty file at the final path (rename is metadata-only on
	// POSIX).
	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("config: syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("config: closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("config: setting permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("config: renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
