package watch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultDebounceWindow is the sliding window within which events arriving
// for the same path are coalesced into one.
const DefaultDebounceWindow = 2 * time.Second

// Buffer collects Events and coalesces them by path: the latest event kind
// wins, except Deleted is sticky — it overrides any later Modified until a
// Created or RenamedTo arrives and clears it. Safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	pending map[string]Event
	notify  chan struct{} // signaled on Add when FlushDebounced is active; nil otherwise
	logger  *slog.Logger
}

// NewBuffer creates an empty Buffer.
func NewBuffer(logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Buffer{
		pending: make(map[string]Event),
		logger:  logger,
	}
}

// Add coalesces ev into the buffer under its path.
func (b *Buffer) Add(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.addLocked(ev)
}

func (b *Buffer) addLocked(ev Event) {
	existing, ok := b.pending[ev.Path]

	if ok && existing.Kind == Deleted && ev.Kind == Modified {
		// Deleted is sticky: a modify after a delete (e.g. a racing write
		// that lands after the unlink is observed) must not resurrect the
		// path until a Created/RenamedTo is seen.
		b.logger.Debug("watch: delete is sticky, ignoring modify", "path", ev.Path)

		return
	}

	b.pending[ev.Path] = ev
	b.signalNew()
}

// FlushImmediate returns every buffered event, sorted by path for
// deterministic consumption, and clears the buffer. Returns nil if empty.
func (b *Buffer) FlushImmediate() Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return nil
	}

	result := make(Batch, 0, len(b.pending))
	for _, ev := range b.pending {
		result = append(result, ev)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })

	b.pending = make(map[string]Event)

	return result
}

// Len returns the number of distinct paths currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.pending)
}

// FlushDebounced returns a channel that emits one Batch after window
// elapses with no further Add calls for any path — a single shared timer
// per Buffer, matching the spec's one-sliding-window-per-registration
// model. The debounce timer resets on every Add. The channel closes when
// ctx is canceled, after offering any remaining events as a final batch;
// that batch is dropped (with a warning) if the channel still holds an
// unread one.
func (b *Buffer) FlushDebounced(ctx context.Context, window time.Duration) <-chan Batch {
	out := make(chan Batch, 1)

	b.mu.Lock()
	b.notify = make(chan struct{}, 1)
	b.mu.Unlock()

	go b.debounceLoop(ctx, window, out)

	return out
}

func (b *Buffer) debounceLoop(ctx context.Context, window time.Duration, out chan<- Batch) {
	defer close(out)

	timer := time.NewTimer(window)
	timer.Stop()

	defer timer.Stop()

	timerActive := false

	for {
		select {
		case <-ctx.Done():
			if batch := b.FlushImmediate(); batch != nil {
				select {
				case out <- batch:
				default:
					b.logger.Warn("watch: final drain discarded, output channel full", "paths", len(batch))
				}
			}

			return

		case _, ok := <-b.notify:
			if !ok {
				return
			}

			if !timer.Stop() && timerActive {
				<-timer.C
			}

			timer.Reset(window)
			timerActive = true

		case <-timer.C:
			timerActive = false

			if batch := b.FlushImmediate(); batch != nil {
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (b *Buffer) signalNew() {
	if b.notify == nil {
		return
	}

	select {
	case b.notify <- struct{}{}:
	default:
	}
}
