// Package violation reports broken reference-counting invariants.
//
// A double release, a retain after the count reached zero, a read through a
// freed handle, or an operation on a closed slot all mean ownership has
// already gone wrong. None of them is a recoverable error: the default
// handler prints a report and panics. Tests and the stress tool install a
// Recorder instead so the run can be audited.
package violation

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/kolkov/refslot/internal/refslot/stackdepot"
)

// Kind classifies a violation.
type Kind int

const (
	// DoubleRelease is a Release on a handle whose count was already zero.
	DoubleRelease Kind = iota + 1
	// RetainAfterFree is a Retain on a handle whose count already reached zero.
	RetainAfterFree
	// UseAfterFree is a read of a freed handle's value.
	UseAfterFree
	// SlotClosed is any operation on a slot after Close.
	SlotClosed
)

// String returns the lower-case name used in deduplication keys and logs.
func (k Kind) String() string {
	switch k {
	case DoubleRelease:
		return "double-release"
	case RetainAfterFree:
		return "retain-after-free"
	case UseAfterFree:
		return "use-after-free"
	case SlotClosed:
		return "slot-closed"
	default:
		return "unknown"
	}
}

// title is the banner text printed in Format.
func (k Kind) title() string {
	return strings.ToUpper(strings.ReplaceAll(k.String(), "-", " "))
}

const maxStackDepth = 32

// Report describes one violation.
type Report struct {
	// Kind is the violated invariant.
	Kind Kind

	// Object is the identity (address) of the handle or slot involved.
	Object uintptr

	// Count is the reference count observed by the failing operation, after
	// its own adjustment. A double release observes -1.
	Count int32

	// Current holds program counters of the failing operation.
	Current []uintptr

	// Previous holds the stack of the release that freed the handle, when
	// debug tracking recorded one.
	Previous []uintptr

	// DeduplicationKey identifies the violation site: "{kind}:{object}".
	DeduplicationKey string
}

// New builds a report and captures the caller's stack.
//
// skip counts frames above New's caller to drop, so that the Current stack
// starts at the user-visible operation rather than inside refcount.
// previous is a stackdepot hash of the earlier release (0 if unknown).
func New(kind Kind, object uintptr, count int32, previous uint64, skip int) *Report {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+2, pcs)

	return &Report{
		Kind:             kind,
		Object:           object,
		Count:            count,
		Current:          pcs[:n],
		Previous:         stackdepot.Get(previous).Frames(),
		DeduplicationKey: fmt.Sprintf("%s:0x%x", kind, object),
	}
}

// Format writes the report in the style of a race report:
//
//	==================
//	WARNING: DOUBLE RELEASE
//	Release of 0x000000c000012340 (count -1):
//	  main.worker()
//	      /path/to/main.go:42
//
//	Previous release:
//	  main.other()
//	      /path/to/main.go:30
//	==================
//
//nolint:errcheck // Error handling omitted for stderr output formatting
func (r *Report) Format(w io.Writer) {
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "WARNING: %s\n", r.Kind.title())
	fmt.Fprintf(w, "%s of 0x%016x (count %d):\n", r.operation(), r.Object, r.Count)
	fmt.Fprint(w, stackdepot.FormatFrames(r.Current))

	if r.Kind != SlotClosed {
		fmt.Fprintf(w, "\nPrevious release:\n")
		if len(r.Previous) > 0 {
			fmt.Fprint(w, stackdepot.FormatFrames(r.Previous))
		} else {
			fmt.Fprintf(w, "  (not recorded; enable debug tracking)\n")
		}
	}

	fmt.Fprintf(w, "==================\n")
}

func (r *Report) operation() string {
	switch r.Kind {
	case DoubleRelease:
		return "Release"
	case RetainAfterFree:
		return "Retain"
	case UseAfterFree:
		return "Read"
	case SlotClosed:
		return "Operation on closed slot"
	default:
		return "Access"
	}
}

// String returns the formatted report.
func (r *Report) String() string {
	var buf strings.Builder
	r.Format(&buf)
	return buf.String()
}

// InvariantViolation is the panic value raised by the default handler.
type InvariantViolation struct {
	Report *Report
}

// Error implements the error interface.
func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("refslot: invariant violation: %s of object 0x%x", e.Report.Kind, e.Report.Object)
}
