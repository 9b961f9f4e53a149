package violation

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// Handler receives violation reports.
//
// A handler that returns lets the failing operation continue; the operation
// then leaves the count where it was (it never resurrects a freed value).
type Handler func(r *Report)

var (
	globalHandler atomic.Pointer[Handler]

	// stderr is where Fatal prints; swapped in tests.
	stderr io.Writer = os.Stderr
)

// Fatal prints r to stderr and panics with *InvariantViolation.
//
// This is the default handler: once ownership is broken, continuing risks
// handing out values that were already finalized.
func Fatal(r *Report) {
	r.Format(stderr)
	panic(&InvariantViolation{Report: r})
}

// SetHandler installs h as the process-wide handler and returns a function
// restoring the previous one. A nil h restores Fatal.
//
// Handlers attached to an individual handle or slot take precedence.
func SetHandler(h Handler) (restore func()) {
	var next *Handler
	if h != nil {
		next = &h
	}
	prev := globalHandler.Swap(next)
	return func() { globalHandler.Store(prev) }
}

// Raise delivers r to local if non-nil, else to the process-wide handler.
func Raise(local Handler, r *Report) {
	if local != nil {
		local(r)
		return
	}
	if h := globalHandler.Load(); h != nil {
		(*h)(r)
		return
	}
	Fatal(r)
}

// Recorder is a Handler that collects reports instead of panicking.
//
// Reports are deduplicated by DeduplicationKey; Total still counts every
// occurrence so audits can tell "one double release" from "one hundred".
//
// Thread Safety: All methods are safe for concurrent calls.
type Recorder struct {
	mu      sync.Mutex
	reports []*Report
	seen    map[string]int
	total   int
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{seen: make(map[string]int)}
}

// Handle records r. Use rec.Handle as a Handler.
func (rec *Recorder) Handle(r *Report) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.total++
	if rec.seen[r.DeduplicationKey]++; rec.seen[r.DeduplicationKey] == 1 {
		rec.reports = append(rec.reports, r)
	}
}

// Reports returns the unique reports in arrival order.
func (rec *Recorder) Reports() []*Report {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	out := make([]*Report, len(rec.reports))
	copy(out, rec.reports)
	return out
}

// Total returns the number of reports received, duplicates included.
func (rec *Recorder) Total() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.total
}

// Count returns how many reports of kind were received, duplicates included.
func (rec *Recorder) Count(kind Kind) int {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	n := 0
	for _, r := range rec.reports {
		if r.Kind == kind {
			n += rec.seen[r.DeduplicationKey]
		}
	}
	return n
}

// Reset forgets every report.
func (rec *Recorder) Reset() {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.reports = nil
	rec.seen = make(map[string]int)
	rec.total = 0
}
