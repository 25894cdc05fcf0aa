package watch

import (
	"context"
	"time"
)

// lockProbeBackoff and lockProbeMaxAttempts implement the spec's
// lock-aware emission policy: before emitting a path as sync-ready, probe
// it for an exclusive lock; if held, requeue with this backoff, up to this
// many attempts. After attempts are exhausted the event is emitted anyway
// with PossiblyInUse set.
const (
	lockProbeBackoff     = 5 * time.Second
	lockProbeMaxAttempts = 6
)

// LockProber reports whether path is currently held open/locked by another
// process, using the most specific mechanism the platform offers.
// Implemented per-GOOS in lock_unix.go / lock_other.go.
type LockProber interface {
	IsLocked(path string) (bool, error)
}

// applyLockAwareness sits between the debounce buffer and the consumer: it
// reads debounced batches, probes every Deleted-excluded path for a lock,
// and either passes the batch through immediately (nothing locked) or
// retries the locked subset with backoff before emitting it regardless.
func (w *Watcher) applyLockAwareness(ctx context.Context, in <-chan Batch, out chan<- Batch, done chan<- struct{}) {
	defer close(out)
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return

		case batch, ok := <-in:
			if !ok {
				return
			}

			resolved := w.resolveLocks(ctx, batch)

			if resolved == nil {
				continue
			}

			select {
			case out <- resolved:
			case <-ctx.Done():
				return
			}
		}
	}
}

// resolveLocks probes every event's path and, for any still locked after
// lockProbeMaxAttempts (5s backoff between attempts), emits it anyway with
// PossiblyInUse set. Deleted events are never probed — there is nothing to
// hold a lock on anymore.
func (w *Watcher) resolveLocks(ctx context.Context, batch Batch) Batch {
	result := make(Batch, len(batch))
	copy(result, batch)

	for i := range result {
		if result[i].Kind == Deleted {
			continue
		}

		for attempt := 0; attempt < lockProbeMaxAttempts; attempt++ {
			locked, err := w.locker.IsLocked(result[i].Path)
			if err != nil {
				w.logger.Debug("watch: lock probe failed, treating as unlocked", "path", result[i].Path, "error", err)

				break
			}

			if !locked {
				break
			}

			if attempt == lockProbeMaxAttempts-1 {
				result[i].PossiblyInUse = true

				w.logger.Warn("watch: emitting possibly-in-use file after exhausting lock probes",
					"path", result[i].Path, "attempts", lockProbeMaxAttempts)

				break
			}

			select {
			case <-time.After(lockProbeBackoff):
			case <-ctx.Done():
				return result
			}
		}
	}

	return result
}
