package atomicslot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kolkov/refslot/internal/refslot/observe"
	"github.com/kolkov/refslot/internal/refslot/refcount"
	"github.com/kolkov/refslot/internal/refslot/violation"
)

// Value is the constraint on slot contents: comparable (for the no-op
// equality check) and reference counted. The zero value of T is "empty" and
// is never retained or released.
type Value interface {
	comparable
	refcount.Managed
}

// Copier is implemented by values that can produce an independent copy of
// themselves. The copy must carry one reference owned by the caller.
type Copier[T any] interface {
	Copy() T
}

// Policy selects how a slot synchronizes writers.
type Policy int

const (
	// PolicyGuarded serializes operations through the slot's stripe lock.
	// It is the zero value so that an unset option is never the unsafe one.
	PolicyGuarded Policy = iota

	// PolicyFast takes no lock. Only safe with a single writer.
	PolicyFast
)

// ErrUnknownPolicy is returned by ParsePolicy for unrecognized names.
var ErrUnknownPolicy = errors.New("atomicslot: unknown policy")

// ErrNoCopier is the panic value of StoreCopy on a slot with no copy
// function whose values do not implement Copier.
var ErrNoCopier = errors.New("atomicslot: StoreCopy requires Options.Copy or a Copier value")

// String returns "guarded" or "fast".
func (p Policy) String() string {
	switch p {
	case PolicyGuarded:
		return "guarded"
	case PolicyFast:
		return "fast"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy converts "guarded" or "fast" (case-insensitive) to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "guarded", "":
		return PolicyGuarded, nil
	case "fast":
		return PolicyFast, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Point names a step inside a slot operation where Options.Probe is called.
type Point int

const (
	// PointLoaded: the previous value has been read (under the lock when
	// guarded), nothing has been written yet.
	PointLoaded Point = iota + 1

	// PointInstalled: the new value is in the slot (still under the lock
	// when guarded).
	PointInstalled

	// PointReleasing: the lock is dropped and the previous value is about
	// to be released.
	PointReleasing
)

// String returns the point name.
func (p Point) String() string {
	switch p {
	case PointLoaded:
		return "loaded"
	case PointInstalled:
		return "installed"
	case PointReleasing:
		return "releasing"
	default:
		return "unknown"
	}
}

// Options configures a Slot. The zero value is a guarded slot with no copy
// function, no observer and the process-wide violation handler.
type Options[T Value] struct {
	// Policy selects guarded or fast writes.
	Policy Policy

	// Copy produces an independent copy for StoreCopy. When nil, StoreCopy
	// falls back to the value's own Copier implementation.
	Copy func(T) T

	// Observer receives slot.store, slot.release and slot.close events.
	Observer observe.Observer

	// OnViolation receives closed-slot reports for this slot. Violations
	// raised by the values themselves go to their own handlers.
	OnViolation violation.Handler

	// Probe, when set, is called at each Point. Used to force interleavings
	// in tests; leave nil in production.
	Probe func(Point)
}
