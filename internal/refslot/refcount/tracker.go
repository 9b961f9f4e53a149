package refcount

import (
	"sync"
	"sync/atomic"
)

// Tracker keeps per-handle ownership history for debug builds and audits.
//
// It maps a handle identity (uintptr) to its History, created lazily on the
// first tracked Retain or Release.
//
// Implementation:
//   - sync.Map for lock-free reads of existing entries
//   - Entries are never evicted; a Tracker lives as long as the test or
//     stress run that owns it
//
// Thread Safety: All methods are safe for concurrent calls except Reset.
type Tracker struct {
	entries sync.Map // uintptr → *History
}

// History is the ownership record of one handle.
type History struct {
	retains  atomic.Int64
	releases atomic.Int64
	freedAt  atomic.Uint64 // stackdepot hash of the freeing release
}

// Retains returns how many successful Retain calls were made.
func (h *History) Retains() int64 { return h.retains.Load() }

// Releases returns how many non-violating Release calls were made.
func (h *History) Releases() int64 { return h.releases.Load() }

// FreedAt returns the stackdepot hash of the release that freed the handle,
// or 0 if it has not been freed.
func (h *History) FreedAt() uint64 { return h.freedAt.Load() }

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// GetOrCreate returns the History for id, creating it if needed.
//
// Multiple goroutines may race to create the entry; LoadOrStore guarantees
// they all end up with the same *History.
func (t *Tracker) GetOrCreate(id uintptr) *History {
	if val, ok := t.entries.Load(id); ok {
		return val.(*History)
	}

	val, _ := t.entries.LoadOrStore(id, &History{})
	return val.(*History)
}

// Lookup returns the History for id, or nil if it was never tracked.
func (t *Tracker) Lookup(id uintptr) *History {
	if val, ok := t.entries.Load(id); ok {
		return val.(*History)
	}
	return nil
}

// Len returns the number of tracked handles. O(N).
func (t *Tracker) Len() int {
	n := 0
	t.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Reset forgets every entry.
//
// Thread Safety: NOT safe for concurrent use with other methods.
func (t *Tracker) Reset() {
	t.entries = sync.Map{}
}
