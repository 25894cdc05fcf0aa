package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// excludedSuffixes and excludedNames mirror the spec's hidden/temp-file
// skip patterns: "*.tmp", "*~", ".DS_Store".
var excludedSuffixes = []string{".tmp", "~"}

const excludedDSStore = ".DS_Store"

func isExcluded(name string) bool {
	if name == excludedDSStore {
		return true
	}

	for _, suffix := range excludedSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}

	return false
}

// watchErrInitBackoff/watchErrMaxBackoff/watchErrBackoffMult bound the
// retry delay applied when the underlying watcher itself reports an error
// (not a locked file — see lock.go for that), e.g. a kernel inotify queue
// overflow.
const (
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// Registration watches one root directory recursively and emits debounced,
// lock-aware batches of events to Batches.
type Registration struct {
	Root    string
	Batches <-chan Batch
	cancel  context.CancelFunc
	done    chan struct{}
}

// Watcher creates Registrations. One Watcher may drive many concurrent
// Registrations, each with its own fsnotify handle and debounce buffer — a
// registration runs three goroutines (event pump, debounce loop, lock
// stage), no dedicated OS thread per game, matching the spec's scheduling
// model.
type Watcher struct {
	logger         *slog.Logger
	watcherFactory func() (FsWatcher, error)
	debounce       time.Duration
	locker         LockProber
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounceWindow overrides DefaultDebounceWindow.
func WithDebounceWindow(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLockProber overrides the platform-default LockProber, for tests.
func WithLockProber(p LockProber) Option {
	return func(w *Watcher) { w.locker = p }
}

// New creates a Watcher backed by real fsnotify watches.
func New(logger *slog.Logger, opts ...Option) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		logger:         logger,
		watcherFactory: newFsnotifyWatcher,
		debounce:       DefaultDebounceWindow,
		locker:         defaultLockProber{},
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Register starts watching root recursively and returns a Registration
// whose Batches channel emits debounced, lock-aware event batches.
// Cancelling ctx stops the registration's goroutines at their next
// suspension point; the OS watch handles are closed only by the returned
// Registration's Stop.
func (w *Watcher) Register(ctx context.Context, root string) (*Registration, error) {
	fsw, err := w.watcherFactory()
	if err != nil {
		return nil, fmt.Errorf("watch: creating watcher for %s: %w", root, err)
	}

	if err := addRecursive(fsw, root); err != nil {
		fsw.Close()

		return nil, fmt.Errorf("watch: registering %s: %w", root, err)
	}

	regCtx, cancel := context.WithCancel(ctx)

	buffer := NewBuffer(w.logger)
	debounced := buffer.FlushDebounced(regCtx, w.debounce)

	lockAware := make(chan Batch, 1)
	done := make(chan struct{})

	go w.pump(regCtx, fsw, root, buffer)
	go w.applyLockAwareness(regCtx, debounced, lockAware, done)

	return &Registration{
		Root:    root,
		Batches: lockAware,
		cancel: func() {
			cancel()
			fsw.Close()
		},
		done: done,
	}, nil
}

// Stop cancels the registration and blocks until its goroutines exit.
func (r *Registration) Stop() {
	r.cancel()
	<-r.done
}

func addRecursive(fsw FsWatcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return fsw.Add(path)
		}

		return nil
	})
}

// pump reads raw fsnotify events, classifies and filters them, and feeds
// the surviving Events into buffer for debouncing.
func (w *Watcher) pump(ctx context.Context, fsw FsWatcher, root string, buffer *Buffer) {
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events():
			if !ok {
				return
			}

			w.handle(fsw, ev, buffer)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-fsw.Errors():
			if !ok {
				return
			}

			w.logger.Warn("watch: filesystem watcher error", "error", watchErr, "backoff", errBackoff)

			select {
			case <-time.After(errBackoff):
			case <-ctx.Done():
				return
			}

			if !rootExists(root) {
				w.logger.Error("watch: root deleted, stopping", "root", root)

				return
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}
		}
	}
}

func (w *Watcher) handle(fsw FsWatcher, ev fsnotify.Event, buffer *Buffer) {
	// Chmod-only events (mode changes with no content change) are not
	// synced.
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	name := filepath.Base(ev.Name)
	if isExcluded(name) {
		return
	}

	now := time.Now()

	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addRecursive(fsw, ev.Name); err != nil {
				w.logger.Warn("watch: failed to watch new directory", "path", ev.Name, "error", err)
			}

			return
		}

		buffer.Add(Event{Path: ev.Name, Kind: Created, Instant: now})

	case ev.Has(fsnotify.Write):
		buffer.Add(Event{Path: ev.Name, Kind: Modified, Instant: now})

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		buffer.Add(Event{Path: ev.Name, Kind: Deleted, Instant: now})
	}
}

func rootExists(root string) bool {
	_, err := os.Stat(root)

	return !errors.Is(err, fs.ErrNotExist)
}
