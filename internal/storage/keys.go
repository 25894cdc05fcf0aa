package storage

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Key layout:
//
//	versions/<gameId>/<relPath>/<versionId>
//	manifests/<gameId>/<relPath>.json
//
// relPath is always forward-slash separated, NFC-normalized, and has each
// segment percent-encoded wherever it would otherwise fall outside the key
// grammar (segments may not themselves contain "/"). This keeps keys safe
// to use unmodified as S3 object names and as LocalFS relative paths on
// every target OS, including ones where "\" or ":" are not valid in a
// file name.
const (
	versionsPrefix  = "versions"
	manifestsPrefix = "manifests"
)

// NormalizeRelPath converts an OS-specific relative path (as produced by
// filepath.Rel against a game's save root) into the slash-separated,
// NFC-normalized form used throughout the key grammar. Two paths that
// differ only by Unicode normalization form must resolve to the same key,
// otherwise the same save file could silently fork into two version
// histories depending on which OS wrote it last.
func NormalizeRelPath(osRelPath string) string {
	slashed := toSlash(osRelPath)

	return norm.NFC.String(slashed)
}

// toSlash mirrors filepath.ToSlash without importing path/filepath here,
// keeping this file free of OS-specific path semantics: callers are
// expected to have already produced an OS-relative path via filepath.Rel.
func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// encodeSegment percent-encodes a single path segment so that it is safe
// to embed as one component of a storage key: every byte outside
// [A-Za-z0-9._-] becomes %XX, "/" included, so segments are encoded one at
// a time and rejoined with "/".
func encodeSegment(segment string) string {
	var b strings.Builder

	for i := 0; i < len(segment); i++ {
		c := segment[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '.' || c == '_' || c == '-' {
			b.WriteByte(c)
			continue
		}

		fmt.Fprintf(&b, "%%%02X", c)
	}

	return b.String()
}

func decodeSegment(segment string) (string, error) {
	decoded, err := url.PathUnescape(segment)
	if err != nil {
		return "", fmt.Errorf("storage: decoding key segment %q: %w", segment, err)
	}

	return decoded, nil
}

// encodeRelPath percent-encodes every segment of an already-normalized
// relative path, preserving its "/" separators.
func encodeRelPath(relPath string) string {
	segments := strings.Split(relPath, "/")
	for i, s := range segments {
		segments[i] = encodeSegment(s)
	}

	return strings.Join(segments, "/")
}

// decodeRelPath reverses encodeRelPath.
func decodeRelPath(encoded string) (string, error) {
	segments := strings.Split(encoded, "/")
	for i, s := range segments {
		decoded, err := decodeSegment(s)
		if err != nil {
			return "", err
		}

		segments[i] = decoded
	}

	return strings.Join(segments, "/"), nil
}

// VersionKey returns the blob key for one version of one file.
func VersionKey(gameID, relPath, versionID string) string {
	return path.Join(versionsPrefix, encodeSegment(gameID), encodeRelPath(NormalizeRelPath(relPath)), versionID)
}

// ManifestKey returns the JSON object key for a file's version manifest.
func ManifestKey(gameID, relPath string) string {
	return path.Join(manifestsPrefix, encodeSegment(gameID), encodeRelPath(NormalizeRelPath(relPath))) + ".json"
}

// ManifestPrefix returns the key prefix under which every manifest for a
// game lives, for use with Provider.ListByPrefix during full-game scans.
func ManifestPrefix(gameID string) string {
	return path.Join(manifestsPrefix, encodeSegment(gameID)) + "/"
}

// VersionPrefix returns the key prefix under which every stored version of
// one file lives.
func VersionPrefix(gameID, relPath string) string {
	return path.Join(versionsPrefix, encodeSegment(gameID), encodeRelPath(NormalizeRelPath(relPath))) + "/"
}

// VersionsGamePrefix returns the key prefix under which every stored
// version of every file for one game lives, for use with
// Provider.ListByPrefix during an orphaned-blob sweep.
func VersionsGamePrefix(gameID string) string {
	return path.Join(versionsPrefix, encodeSegment(gameID)) + "/"
}

// ParseVersionKey recovers (gameID, relPath, versionID) from a key
// previously produced by VersionKey, as returned by ListByPrefix during a
// scan.
func ParseVersionKey(key string) (gameID, relPath, versionID string, err error) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 || parts[0] != versionsPrefix {
		return "", "", "", fmt.Errorf("storage: malformed version key %q", key)
	}

	gameID, err = decodeSegment(parts[1])
	if err != nil {
		return "", "", "", err
	}

	tail := parts[2]

	idx := strings.LastIndex(tail, "/")
	if idx < 0 {
		return "", "", "", fmt.Errorf("storage: malformed version key %q", key)
	}

	relPath, err = decodeRelPath(tail[:idx])
	if err != nil {
		return "", "", "", err
	}

	versionID = tail[idx+1:]

	return gameID, relPath, versionID, nil
}

// ParseManifestKey recovers (gameID, relPath) from a key previously
// produced by ManifestKey, as returned by ListByPrefix during a scan.
func ParseManifestKey(key string) (gameID, relPath string, err error) {
	trimmed := strings.TrimSuffix(key, ".json")

	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) != 3 || parts[0] != manifestsPrefix {
		return "", "", fmt.Errorf("storage: malformed manifest key %q", key)
	}

	gameID, err = decodeSegment(parts[1])
	if err != nil {
		return "", "", err
	}

	relPath, err = decodeRelPath(parts[2])
	if err != nil {
		return "", "", err
	}

	return gameID, relPath, nil
}
