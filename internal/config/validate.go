package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/xavifortes/gamesave-sync/internal/crypto"
)

// Validate checks all configuration values and returns every error found
// (via errors.Join) rather than stopping at the first, so a caller editing
// a broken config file sees every problem in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateStorageMode(cfg)...)
	errs = append(errs, validateGames(cfg)...)

	return errors.Join(errs...)
}

func validateStorageMode(cfg *Config) []error {
	var errs []error

	if cfg.UseLocalStorage {
		if cfg.LocalBasePath == "" {
			errs = append(errs, errors.New("local_base_path: required when use_local_storage is true"))
		}

		return errs
	}

	if cfg.S3Bucket == "" {
		errs = append(errs, errors.New("s3_bucket: required when use_local_storage is false"))
	}

	if cfg.AWSAccessKeyID == "" {
		errs = append(errs, errors.New("aws_access_key_id: required when use_local_storage is false"))
	}

	if cfg.AWSSecretAccessKey == "" {
		errs = append(errs, errors.New("aws_secret_access_key: required when use_local_storage is false"))
	}

	return errs
}

func validateGames(cfg *Config) []error {
	var errs []error

	for id, game := range cfg.Games {
		if id == "" {
			errs = append(errs, errors.New("games: empty game id"))
			continue
		}

		if len(game.SavePaths) == 0 {
			errs = append(errs, fmt.Errorf("games.%s: save_paths must not be empty", id))
		}

		if game.PinStrategy != "" && !validPinStrategies[game.PinStrategy] {
			errs = append(errs, fmt.Errorf("games.%s: pin_strategy %q is not one of daily, weekly, monthly, yearly", id, game.PinStrategy))
		}
	}

	return errs
}

var validPinStrategies = map[string]bool{
	"daily": true, "weekly": true, "monthly": true, "yearly": true,
}

// ValidateLocalBasePath checks that the local base path either already
// exists as a directory, or can be created. Separated from Validate
// because it performs filesystem I/O and is only relevant once a
// StorageProvider is actually about to be constructed.
func ValidateLocalBasePath(path string) error {
	expanded, err := ExpandTilde(path)
	if err != nil {
		return fmt.Errorf("config: expanding local_base_path: %w", err)
	}

	info, err := os.Stat(expanded)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("config: local_base_path %s exists and is not a directory", expanded)
		}

		return nil
	}

	if !os.IsNotExist(err) {
		return fmt.Errorf("config: stat local_base_path %s: %w", expanded, err)
	}

	if err := os.MkdirAll(expanded, 0o700); err != nil {
		return fmt.Errorf("config: creating local_base_path %s: %w", expanded, err)
	}

	return nil
}

// ValidateRemoteCredentials verifies bucket and decrypted credentials are
// present and non-empty, per spec.md §3's remote-mode invariant. Unlike
// validateStorageMode (checked at load time against raw sealed fields),
// this unseals the credentials to confirm they are actually usable on
// this machine.
func ValidateRemoteCredentials(cfg *Config, sealer *crypto.Sealer) error {
	if cfg.S3Bucket == "" {
		return errors.New("config: s3_bucket is empty")
	}

	if cfg.AWSAccessKeyID == "" || cfg.AWSSecretAccessKey == "" {
		return errors.New("config: aws credentials not configured")
	}

	id, err := sealer.Unseal(cfg.AWSAccessKeyID)
	if err != nil {
		return fmt.Errorf("%w: access key: %w", ErrCredentialsUnavailable, err)
	}

	secret, err := sealer.Unseal(cfg.AWSSecretAccessKey)
	if err != nil {
		return fmt.Errorf("%w: secret key: %w", ErrCredentialsUnavailable, err)
	}

	if id == "" || secret == "" {
		return errors.New("config: aws credentials unseal to empty values")
	}

	return nil
}
