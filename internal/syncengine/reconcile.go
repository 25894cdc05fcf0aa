package syncengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xavifortes/gamesave-sync/internal/config"
	"github.com/xavifortes/gamesave-sync/internal/storage"
	"github.com/xavifortes/gamesave-sync/internal/version"
)

// Dependencies are the collaborators VersionedSync needs for one run.
// CacheRoot is the local-base cache directory (<local-base>/cache); each
// file's gap-fill downloads land under CacheRoot/<game>/<relPath>/.
type Dependencies struct {
	Provider          storage.Provider
	CacheRoot         string
	RetentionPolicy   version.RetentionPolicy
	PinStrategy       version.PinStrategy
	EnableCompression bool
	Now               func() time.Time
}

func (d Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}

	return time.Now()
}

func (d Dependencies) pinStrategy() version.PinStrategy {
	if d.PinStrategy == "" {
		return version.Daily
	}

	return d.PinStrategy
}

// FileAction describes the outcome of reconciling one local file.
type FileAction string

const (
	ActionSkipped  FileAction = "skipped"
	ActionUploaded FileAction = "uploaded"
	ActionError    FileAction = "error"
)

// FileResult is one file's reconciliation outcome, collected into a
// RunResult rather than aborting the whole run.
type FileResult struct {
	RelPath string
	Action  FileAction
	Err     error
}

// RunResult summarizes one VersionedSync pass for a game.
type RunResult struct {
	Game       string
	Uploaded   int
	Downloaded int
	Conflicts  int
	Files      []FileResult
}

// Run executes one synchronization pass for gameID, per spec.md §4.6's
// per-save-path algorithm: enumerate → fetch manifest → reconcile →
// download gap-fill → write manifest → cleanup → emit. A per-file failure
// is recorded in the result and does not abort the run; only a pre-file
// step failing (enumeration) fails the run as a whole.
func Run(ctx context.Context, gameID string, gameCfg config.GameConfig, deps Dependencies, sink Sink) (RunResult, error) {
	if sink == nil {
		sink = noopSink
	}

	sink(Event{Kind: EventStarted, Game: gameID})

	files, err := enumerateGame(gameCfg)
	if err != nil {
		evt := Event{Kind: EventError, Game: gameID, Err: err}
		sink(evt)

		return RunResult{Game: gameID}, newError(KindInternal, "enumerating save paths", err)
	}

	result := RunResult{Game: gameID}

	for _, f := range files {
		fr := reconcileFile(ctx, gameID, f, deps)
		result.Files = append(result.Files, fr)

		switch fr.Action {
		case ActionUploaded:
			result.Uploaded++
		case ActionError:
			if isConcurrentUpdate(fr.Err) {
				result.Conflicts++
			}
		}

		sink(Event{Kind: EventProgress, Game: gameID, File: f.RelPath, Message: string(fr.Action)})
	}

	sink(Event{Kind: EventCompleted, Game: gameID, Message: fmt.Sprintf("uploaded=%d conflicts=%d", result.Uploaded, result.Conflicts)})

	return result, nil
}

func isConcurrentUpdate(err error) bool {
	var se *Error

	return errors.As(err, &se) && se.Kind == KindConcurrentUpdate
}

// reconcileFile runs the full per-file algorithm: fetch manifest, reconcile
// local bytes against it (with one conflict retry), gap-fill the restore
// cache, write the manifest back, and run retention cleanup.
func reconcileFile(ctx context.Context, gameID string, f localFile, deps Dependencies) FileResult {
	localBytes, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return FileResult{RelPath: f.RelPath, Action: ActionError, Err: newError(KindInternal, "reading local file", err)}
	}

	manifestKey := storage.ManifestKey(gameID, f.RelPath)

	manifest, err := fetchManifest(ctx, deps.Provider, gameID, f.RelPath, manifestKey)
	if err != nil {
		return FileResult{RelPath: f.RelPath, Action: ActionError, Err: err}
	}

	uploaded, err := applyAndCommit(ctx, gameID, f, localBytes, manifest, deps)
	if err != nil {
		return FileResult{RelPath: f.RelPath, Action: ActionError, Err: err}
	}

	cacheDir := filepath.Join(deps.CacheRoot, gameID, filepath.FromSlash(f.RelPath))
	if err := downloadGapFill(ctx, deps.Provider, gameID, f.RelPath, cacheDir, manifest); err != nil {
		return FileResult{RelPath: f.RelPath, Action: ActionError, Err: err}
	}

	if uploaded {
		return FileResult{RelPath: f.RelPath, Action: ActionUploaded}
	}

	return FileResult{RelPath: f.RelPath, Action: ActionSkipped}
}

func fetchManifest(ctx context.Context, provider storage.Provider, gameID, relPath, key string) (*version.Manifest, error) {
	var manifest version.Manifest

	err := storage.GetJSON(ctx, provider, key, &manifest)
	if errors.Is(err, storage.ErrNotFound) {
		return version.NewManifest(gameID, relPath, time.Time{}), nil
	}

	if err != nil {
		return nil, newError(KindStorageTransient, "fetching manifest", err)
	}

	return &manifest, nil
}

// applyAndCommit creates a new version if localBytes differ from the
// manifest's current content, uploads the blob before the manifest (the
// manifest-write-last invariant), and retries once if a concurrent writer
// changed the remote manifest between fetch and write.
func applyAndCommit(ctx context.Context, gameID string, f localFile, localBytes []byte, manifest *version.Manifest, deps Dependencies) (bool, error) {
	uploaded, err := tryCommit(ctx, gameID, f.RelPath, localBytes, manifest, deps)
	if err == nil {
		return uploaded, nil
	}

	if !errors.Is(err, errConcurrentWrite) {
		return false, err
	}

	changed, fresh, refetchErr := manifestChanged(ctx, deps.Provider, gameID, f.RelPath, manifest)
	if refetchErr != nil {
		return false, newError(KindStorageTransient, "re-fetching manifest after conflict", refetchErr)
	}

	if !changed {
		return false, newError(KindConcurrentUpdate, "manifest conflict persisted with no observable change", nil)
	}

	uploaded, err = tryCommit(ctx, gameID, f.RelPath, localBytes, fresh, deps)
	if err != nil {
		if errors.Is(err, errConcurrentWrite) {
			return false, newError(KindConcurrentUpdate, "manifest shifted twice", nil)
		}

		return false, err
	}

	return uploaded, nil
}

var errConcurrentWrite = errors.New("syncengine: manifest changed remotely before write-back")

// tryCommit computes the new version (if any), uploads its blob, re-checks
// the remote manifest hasn't moved, then writes the manifest back and runs
// retention cleanup. Returns errConcurrentWrite (wrapped) if the manifest
// moved between the initial fetch and this write.
func tryCommit(ctx context.Context, gameID, relPath string, localBytes []byte, manifest *version.Manifest, deps Dependencies) (bool, error) {
	// Snapshot the manifest's identity before mutating it, so the
	// post-upload conflict check compares against what was actually on
	// the remote when this attempt started — not against our own
	// in-progress edit.
	baselineUpdatedAt := manifest.UpdatedAt
	baselineTail, baselineHadTail := manifest.Current()

	mgr := version.NewManager(manifest)

	fv, created := mgr.CreateVersion(localBytes, "")

	if created {
		versionKey := storage.VersionKey(gameID, relPath, fv.VersionID)

		payload := localBytes
		blobMeta := map[string]string{"hash": fv.Hash}

		if deps.EnableCompression {
			compressed, compErr := gzipCompress(localBytes)
			if compErr != nil {
				return false, newError(KindInternal, "compressing version payload", compErr)
			}

			payload = compressed
			blobMeta[contentEncodingHintKey] = contentEncodingGzip
		}

		if err := deps.Provider.PutBlob(ctx, versionKey, payload, blobMeta); err != nil {
			return false, newError(KindStorageTransient, "uploading version blob", err)
		}

		if deps.EnableCompression {
			if err := mgr.SetVersionMetadata(fv.VersionID, map[string]string{contentEncodingHintKey: contentEncodingGzip}); err != nil {
				return false, newError(KindInternal, "recording storage metadata", err)
			}
		}

		mgr.AutoPin(deps.now(), deps.pinStrategy())
	}

	baselineSnapshot := version.NewManifest(gameID, relPath, baselineUpdatedAt)
	if baselineHadTail {
		baselineSnapshot.Versions = []version.FileVersion{baselineTail}
	}

	changed, _, err := manifestChanged(ctx, deps.Provider, gameID, relPath, baselineSnapshot)
	if err != nil {
		return false, newError(KindStorageTransient, "checking manifest before write-back", err)
	}

	if changed {
		return false, fmt.Errorf("%w", errConcurrentWrite)
	}

	removed := mgr.Cleanup(deps.RetentionPolicy, deps.now())

	manifestKey := storage.ManifestKey(gameID, relPath)
	if err := storage.PutJSON(ctx, deps.Provider, manifestKey, mgr.Manifest()); err != nil {
		return false, newError(KindStorageTransient, "writing manifest", err)
	}

	for _, removedID := range removed {
		err := deps.Provider.DeleteBlob(ctx, storage.VersionKey(gameID, relPath, removedID))
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return created, newError(KindStorageTransient, fmt.Sprintf("deleting orphaned version %s", removedID), err)
		}
	}

	return created, nil
}

// verifyHash is a small helper shared by callers that need to confirm
// content integrity outside the gap-fill path (e.g. RestoreVersion).
func verifyHash(data []byte, want string) bool {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:]) == want
}
