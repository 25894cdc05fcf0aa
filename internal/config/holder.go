package config

import (
	"fmt"
	"sync"

	"github.com/xavifortes/gamesave-sync/internal/crypto"
)

// Holder provides thread-safe access to a mutable *Config, an immutable
// config file path, and lazy unsealing of credential fields. EngineFacade
// and every sync run read through a shared Holder so a future config
// reload (e.g. SIGHUP, or a programmatic UpdateConfig call) updates
// config in exactly one place.
type Holder struct {
	mu     sync.RWMutex
	cfg    *Config
	path   string // immutable after construction
	sealer *crypto.Sealer
}

// NewHolder creates a Holder wrapping the given config, its file path, and
// the Sealer used to unseal its credential fields.
func NewHolder(cfg *Config, path string, sealer *crypto.Sealer) *Holder {
	return &Holder{cfg: cfg, path: path, sealer: sealer}
}

// Config returns the current config snapshot. Thread-safe (read lock).
// The returned pointer must be treated as read-only by callers; mutate
// through Update instead.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path. Thread-safe without locking because
// the path is immutable after construction.
func (h *Holder) Path() string {
	return h.path
}

// Update replaces the config. Thread-safe (write lock).
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}

// ErrCredentialsUnavailable is returned by PlaintextCredentials when the
// sealed fields cannot be unsealed on this machine — not a fatal
// condition, callers should surface it as "credentials unavailable" and
// let the caller decide whether to retry after reconfiguring.
var ErrCredentialsUnavailable = fmt.Errorf("config: credentials unavailable")

// PlaintextCredentials unseals AWSAccessKeyID and AWSSecretAccessKey from
// the current config snapshot. Returns ErrCredentialsUnavailable (wrapping
// the underlying crypto error) if either field is non-empty but fails to
// unseal — this is not fatal to the caller's larger operation, only to
// this one credential read.
func (h *Holder) PlaintextCredentials() (Credentials, error) {
	cfg := h.Config()

	if cfg.AWSAccessKeyID == "" || cfg.AWSSecretAccessKey == "" {
		return Credentials{}, fmt.Errorf("%w: not configured", ErrCredentialsUnavailable)
	}

	id, err := h.sealer.Unseal(cfg.AWSAccessKeyID)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: access key: %w", ErrCredentialsUnavailable, err)
	}

	secret, err := h.sealer.Unseal(cfg.AWSSecretAccessKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: secret key: %w", ErrCredentialsUnavailable, err)
	}

	return Credentials{AccessKeyID: id, SecretAccessKey: secret}, nil
}

// SealCredentials seals plaintext access-key/secret values for storage in
// Config. Called by the CLI/config-editing layer before persisting new
// credentials; never called on every load (sealing happens once, at
// write time).
func SealCredentials(sealer *crypto.Sealer, plain Credentials) (accessKeyID, secretAccessKey string, err error) {
	accessKeyID, err = sealer.Seal(plain.AccessKeyID)
	if err != nil {
		return "", "", fmt.Errorf("config: sealing access key: %w", err)
	}

	secretAccessKey, err = sealer.Seal(plain.SecretAccessKey)
	if err != nil {
		return "", "", fmt.Errorf("config: sealing secret key: %w", err)
	}

	return accessKeyID, secretAccessKey, nil
}
