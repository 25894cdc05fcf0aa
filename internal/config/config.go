// Package config implements TOML configuration loading, validation,
// platform-specific path resolution, and transparent secret sealing for
// gamesave-sync.
package config

// Config is the top-level, process-wide configuration structure.
type Config struct {
	UseLocalStorage bool   `toml:"use_local_storage"`
	LocalBasePath   string `toml:"local_base_path"`

	S3Bucket string `toml:"s3_bucket"`
	S3Region string `toml:"s3_region"`

	// Sealed on disk; AWSAccessKeyID/AWSSecretAccessKey hold the sealed
	// (opaque, base64) form as read from the TOML file. Unsealing happens
	// lazily through Holder.PlaintextCredentials.
	AWSAccessKeyID     string `toml:"aws_access_key_id"`
	AWSSecretAccessKey string `toml:"aws_secret_access_key"`

	SyncIntervalMinutes uint `toml:"sync_interval_minutes"`
	AutoSync            bool `toml:"auto_sync"`
	EnableCompression   bool `toml:"enable_compression"`

	Games map[string]GameConfig `toml:"games"`
}

// GameConfig describes one game's save locations and sync policy.
type GameConfig struct {
	Name        string   `toml:"name"`
	SavePaths   []string `toml:"save_paths"`
	SyncEnabled bool     `toml:"sync_enabled"`

	// PinStrategy selects the auto-pin bucket granularity
	// ("daily"|"weekly"|"monthly"|"yearly"). Empty means the default
	// ("daily").
	PinStrategy string `toml:"pin_strategy"`
}

// Credentials holds the unsealed (plaintext) remote-storage credentials,
// returned by Holder.PlaintextCredentials. Never logged, never
// re-serialized — it exists only as a short-lived value passed to a
// storage provider constructor.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}
