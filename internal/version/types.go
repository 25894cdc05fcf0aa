// Package version implements the per-file version manifest: creating new
// versions, pinning, and retention cleanup. A manifest never touches a
// StorageProvider directly — callers persist it via storage.PutJSON/GetJSON
// and upload/delete the corresponding blobs themselves.
package version

import "time"

// FileVersion is an immutable snapshot of one file's bytes at one moment.
type FileVersion struct {
	VersionID       string            `json:"versionId"`
	Timestamp       time.Time         `json:"timestamp"`
	SizeBytes       uint64            `json:"sizeBytes"`
	Hash            string            `json:"hash"`
	StorageMetadata map[string]string `json:"storageMetadata,omitempty"`
	Description     string            `json:"description,omitempty"`
	IsPinned        bool              `json:"isPinned"`
}

// Manifest is the ordered version history for one (game, relativeFilePath)
// pair. Versions are ordered by Timestamp ascending, with VersionID
// lexicographic order as the tie-break when two share a timestamp — which,
// thanks to the versionId layout (RFC3339 UTC, ':' replaced with '-',
// followed by a hash prefix), is also byte-sortable order.
type Manifest struct {
	Game             string        `json:"game"`
	RelativeFilePath string        `json:"relativeFilePath"`
	Versions         []FileVersion `json:"versions"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// NewManifest returns an empty manifest for (game, relPath).
func NewManifest(game, relPath string, now time.Time) *Manifest {
	return &Manifest{
		Game:             game,
		RelativeFilePath: relPath,
		Versions:         nil,
		UpdatedAt:        now,
	}
}

// Current returns the most recent version (the last entry), or false if
// the manifest has none.
func (m *Manifest) Current() (FileVersion, bool) {
	if len(m.Versions) == 0 {
		return FileVersion{}, false
	}

	return m.Versions[len(m.Versions)-1], true
}

// Find returns the version with the given id, or false if absent.
func (m *Manifest) Find(versionID string) (FileVersion, bool) {
	for _, v := range m.Versions {
		if v.VersionID == versionID {
			return v, true
		}
	}

	return FileVersion{}, false
}
