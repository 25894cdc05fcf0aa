package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/xavifortes/gamesave-sync/internal/crypto"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Secret fields are left sealed — callers read them
// through Holder.PlaintextCredentials on demand.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if cfg.Games == nil {
		cfg.Games = make(map[string]GameConfig)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	logger.Debug("config file parsed", "path", path, "game_count", len(cfg.Games))

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with defaults. Supports a zero-config first run.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// LoadHolder loads (or defaults) the config at path and wraps it in a
// Holder bound to the current machine/user's Sealer.
func LoadHolder(path string, logger *slog.Logger) (*Holder, error) {
	cfg, err := LoadOrDefault(path, logger)
	if err != nil {
		return nil, err
	}

	return NewHolder(cfg, path, crypto.New()), nil
}
