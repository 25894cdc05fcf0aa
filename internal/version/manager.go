package version

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned by Pin/Unpin when versionID is absent from the
// manifest.
var ErrNotFound = errors.New("version: not found")

// PinStrategy is the bucketing granularity used by AutoPin.
type PinStrategy string

const (
	Daily   PinStrategy = "daily"
	Weekly  PinStrategy = "weekly"
	Monthly PinStrategy = "monthly"
	Yearly  PinStrategy = "yearly"
)

// RetentionPolicy bounds how many unpinned versions a manifest keeps.
type RetentionPolicy struct {
	MaxUnpinnedVersions int
	MaxAgeDays          int
}

// DefaultRetentionPolicy matches the values a fresh configuration ships
// with: keep the 10 most recent unpinned versions, and none older than 30
// days, whichever is stricter.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{MaxUnpinnedVersions: 10, MaxAgeDays: 30}
}

// Manager mutates a single Manifest under its own lock. Each (game,
// relPath) pair should have exactly one Manager instance alive at a time —
// the caller (VersionedSync) enforces that by scoping one Manager to the
// lifetime of a single file's reconciliation.
type Manager struct {
	mu       sync.Mutex
	manifest *Manifest
	nowFunc  func() time.Time
}

// NewManager wraps manifest for mutation. A nil manifest is treated as
// freshly created and empty.
func NewManager(manifest *Manifest) *Manager {
	return &Manager{manifest: manifest, nowFunc: time.Now}
}

// Manifest returns the (possibly mutated) manifest. Safe to call after any
// other Manager method returns.
func (m *Manager) Manifest() *Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.manifest
}

// CreateVersion computes the SHA-256 of localBytes and either returns the
// manifest's existing current version unchanged (same content, nothing to
// upload) or appends a new one. The returned bool reports whether a new
// version was appended — callers use it to decide whether the blob still
// needs to be uploaded.
func (m *Manager) CreateVersion(localBytes []byte, description string) (FileVersion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := sha256.Sum256(localBytes)
	hash := hex.EncodeToString(sum[:])

	if current, ok := m.manifest.Current(); ok && current.Hash == hash {
		return current, false
	}

	now := m.nowFunc().UTC()

	fv := FileVersion{
		VersionID:   buildVersionID(now, hash),
		Timestamp:   now,
		SizeBytes:   uint64(len(localBytes)),
		Hash:        hash,
		Description: description,
	}

	m.manifest.Versions = append(m.manifest.Versions, fv)
	m.manifest.UpdatedAt = now

	return fv, true
}

// SetVersionMetadata merges hints into versionID's StorageMetadata (e.g.
// a provider recording "content-encoding": "gzip" once it has compressed
// and uploaded that version's blob). Returns ErrNotFound if versionID is
// absent.
func (m *Manager) SetVersionMetadata(versionID string, hints map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.manifest.Versions {
		if m.manifest.Versions[i].VersionID != versionID {
			continue
		}

		if m.manifest.Versions[i].StorageMetadata == nil {
			m.manifest.Versions[i].StorageMetadata = make(map[string]string, len(hints))
		}

		for k, v := range hints {
			m.manifest.Versions[i].StorageMetadata[k] = v
		}

		return nil
	}

	return ErrNotFound
}

// buildVersionID produces "<RFC3339-UTC with ':' -> '-'>_<hash[0:12]>",
// which sorts lexicographically in timestamp order to the second — two
// versions minted in the same second tie-break deterministically by their
// hash prefix, not by creation order.
func buildVersionID(t time.Time, hash string) string {
	stamp := strings.ReplaceAll(t.Format(time.RFC3339), ":", "-")

	prefixLen := 12
	if len(hash) < prefixLen {
		prefixLen = len(hash)
	}

	return stamp + "_" + hash[:prefixLen]
}

// AutoPin marks the manifest's newest version pinned if its bucket (per
// strategy, taken from that version's own Timestamp) has no pinned version
// yet; now is not used to pick the bucket. Existing pins are never removed.
func (m *Manager) AutoPin(now time.Time, strategy PinStrategy) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.manifest.Versions) == 0 {
		return
	}

	latest := len(m.manifest.Versions) - 1
	bucket := bucketKey(m.manifest.Versions[latest].Timestamp, strategy)

	for i := range m.manifest.Versions {
		if !m.manifest.Versions[i].IsPinned {
			continue
		}

		if bucketKey(m.manifest.Versions[i].Timestamp, strategy) == bucket {
			return
		}
	}

	m.manifest.Versions[latest].IsPinned = true
}

func bucketKey(t time.Time, strategy PinStrategy) string {
	t = t.UTC()

	switch strategy {
	case Daily:
		return t.Format("2006-01-02")
	case Weekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case Monthly:
		return t.Format("2006-01")
	case Yearly:
		return t.Format("2006")
	default:
		return t.Format("2006-01-02")
	}
}

// Pin marks versionID pinned. Returns ErrNotFound if absent.
func (m *Manager) Pin(versionID string) error {
	return m.setPinned(versionID, true)
}

// Unpin clears versionID's pinned flag. Returns ErrNotFound if absent.
func (m *Manager) Unpin(versionID string) error {
	return m.setPinned(versionID, false)
}

func (m *Manager) setPinned(versionID string, pinned bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.manifest.Versions {
		if m.manifest.Versions[i].VersionID == versionID {
			m.manifest.Versions[i].IsPinned = pinned

			return nil
		}
	}

	return ErrNotFound
}

// Cleanup enforces policy and returns the versionIDs removed from the
// manifest. Pinned versions are always preserved. Idempotent: calling it
// again with nothing eligible returns an empty slice.
//
// Callers are responsible for deleting the corresponding blobs after the
// manifest update returned by Cleanup is persisted — Cleanup only mutates
// the in-memory manifest.
func (m *Manager) Cleanup(policy RetentionPolicy, now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rank every version (pinned and unpinned alike) by recency (0 =
	// newest) to apply maxUnpinnedVersions; ties broken by versionID,
	// matching the manifest's own ordering rule. Ranking over the full
	// set, not just the unpinned subset, means a pinned version still
	// occupies a recency slot: pinning #3 out of 12 doesn't let #1 and #2
	// "inherit" its place among the 10 most recent.
	type ranked struct {
		idx int
		v   FileVersion
	}

	all := make([]ranked, len(m.manifest.Versions))
	for i, v := range m.manifest.Versions {
		all[i] = ranked{idx: i, v: v}
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].v.Timestamp.Equal(all[j].v.Timestamp) {
			return all[i].v.Timestamp.After(all[j].v.Timestamp)
		}

		return all[i].v.VersionID > all[j].v.VersionID
	})

	maxAge := time.Duration(policy.MaxAgeDays) * 24 * time.Hour

	toRemove := make(map[int]bool)

	for rank, r := range all {
		if r.v.IsPinned {
			continue
		}

		if rank >= policy.MaxUnpinnedVersions {
			toRemove[r.idx] = true
			continue
		}

		if policy.MaxAgeDays > 0 && now.Sub(r.v.Timestamp) > maxAge {
			toRemove[r.idx] = true
		}
	}

	if len(toRemove) == 0 {
		return nil
	}

	var removedIDs []string

	kept := m.manifest.Versions[:0]

	for i, v := range m.manifest.Versions {
		if toRemove[i] {
			removedIDs = append(removedIDs, v.VersionID)
			continue
		}

		kept = append(kept, v)
	}

	m.manifest.Versions = kept
	m.manifest.UpdatedAt = now.UTC()

	return removedIDs
}
