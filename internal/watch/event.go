package watch

import "time"

// Kind classifies a normalized filesystem change.
type Kind int

const (
	Created Kind = iota
	Modified
	Deleted
	RenamedFrom
	RenamedTo
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case RenamedFrom:
		return "renamed-from"
	case RenamedTo:
		return "renamed-to"
	default:
		return "unknown"
	}
}

// Event is one normalized filesystem change, keyed by absolute path.
type Event struct {
	Path    string
	Kind    Kind
	Instant time.Time

	// PossiblyInUse is set by the lock-aware emission stage when every
	// lock probe attempt found the file still held and the event was
	// emitted anyway rather than dropped.
	PossiblyInUse bool
}

// Batch is one debounced window's worth of coalesced events, one per
// distinct path.
type Batch []Event
