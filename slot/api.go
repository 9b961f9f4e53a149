package slot

import (
	"log/slog"

	"github.com/kolkov/refslot/internal/refslot/atomicslot"
	"github.com/kolkov/refslot/internal/refslot/observe"
	"github.com/kolkov/refslot/internal/refslot/refcount"
	"github.com/kolkov/refslot/internal/refslot/stripe"
	"github.com/kolkov/refslot/internal/refslot/violation"
)

// Table is a striped lock table shared by many slots.
type Table = stripe.LockTable

// Identity is an address-derived identity selecting a stripe.
type Identity = stripe.Identity

// Value is the constraint on slot contents: comparable, with Retain and
// Release. The zero value means "empty".
type Value = atomicslot.Value

// Managed is the Retain/Release capability set.
type Managed = refcount.Managed

// Copier is implemented by values that can copy themselves for StoreCopy.
type Copier[T any] = atomicslot.Copier[T]

// Slot holds one owning reference to a value of type T.
type Slot[T Value] = atomicslot.Slot[T]

// Options configures a Slot. The zero value is a guarded slot.
type Options[T Value] = atomicslot.Options[T]

// Policy selects how a slot synchronizes writers.
type Policy = atomicslot.Policy

// Point names a step inside a slot operation, for Options.Probe.
type Point = atomicslot.Point

// Stats are cumulative counters for one slot.
type Stats = atomicslot.Stats

// Ref is a counted handle around a value of type V.
type Ref[V any] = refcount.Ref[V]

// RefOption configures a Ref at construction.
type RefOption[V any] = refcount.Option[V]

// Tracker records per-handle retain/release history for debugging.
type Tracker = refcount.Tracker

// Report describes one invariant violation.
type Report = violation.Report

// Handler receives violation reports.
type Handler = violation.Handler

// ConfigurationError is returned by NewTable for an invalid size.
type ConfigurationError = stripe.ConfigurationError

// Observer receives slot events; see Options.Observer.
type Observer = observe.Observer

// Event is one slot event.
type Event = observe.Event

// InvariantViolation is the panic value of the default violation handler.
type InvariantViolation = violation.InvariantViolation

const (
	// PolicyGuarded serializes operations through the slot's stripe lock.
	PolicyGuarded = atomicslot.PolicyGuarded

	// PolicyFast takes no lock and is only safe with a single writer.
	PolicyFast = atomicslot.PolicyFast

	// DefaultTableSize is the stripe count of DefaultTable.
	DefaultTableSize = stripe.DefaultSize

	// MaxTableSize is the largest accepted stripe count.
	MaxTableSize = stripe.MaxSize
)

// Probe points, see Options.Probe.
const (
	PointLoaded    = atomicslot.PointLoaded
	PointInstalled = atomicslot.PointInstalled
	PointReleasing = atomicslot.PointReleasing
)

// Violation kinds.
const (
	DoubleRelease   = violation.DoubleRelease
	RetainAfterFree = violation.RetainAfterFree
	UseAfterFree    = violation.UseAfterFree
	SlotClosed      = violation.SlotClosed
)

var (
	// ErrConfiguration matches any ConfigurationError with errors.Is.
	ErrConfiguration = stripe.ErrConfiguration

	// ErrNoCopier is the panic value of StoreCopy without a copy function.
	ErrNoCopier = atomicslot.ErrNoCopier

	// ErrUnknownPolicy is returned by ParsePolicy.
	ErrUnknownPolicy = atomicslot.ErrUnknownPolicy
)

// NewTable returns a lock table with size stripes.
//
// size must be a power of two between 1 and MaxTableSize; otherwise a
// *ConfigurationError is returned.
func NewTable(size int) (*Table, error) {
	return stripe.New(size)
}

// DefaultTable returns the process-wide table of DefaultTableSize stripes.
func DefaultTable() *Table {
	return stripe.Default()
}

// New returns an empty slot using table (DefaultTable when nil).
func New[T Value](table *Table, opts Options[T]) *Slot[T] {
	return atomicslot.New(table, opts)
}

// NewWith returns a slot holding initial, which the slot retains.
func NewWith[T Value](table *Table, initial T, opts Options[T]) *Slot[T] {
	return atomicslot.NewWith(table, initial, opts)
}

// ParsePolicy converts "guarded" or "fast" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	return atomicslot.ParsePolicy(s)
}

// NewRef returns a handle owning v with a count of 1.
func NewRef[V any](v V, opts ...RefOption[V]) *Ref[V] {
	return refcount.New(v, opts...)
}

// WithFinalizer runs fn once when the handle's count reaches zero.
func WithFinalizer[V any](fn func(V)) RefOption[V] {
	return refcount.WithFinalizer(fn)
}

// WithHandler routes the handle's violations to h.
func WithHandler[V any](h Handler) RefOption[V] {
	return refcount.WithHandler[V](h)
}

// WithDebug records the handle's history in t, so violation reports can
// show where the handle was freed.
func WithDebug[V any](t *Tracker) RefOption[V] {
	return refcount.WithDebug[V](t)
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return refcount.NewTracker()
}

// Cloner adapts copyValue into an Options.Copy function for Ref slots.
func Cloner[V any](copyValue func(V) V) func(*Ref[V]) *Ref[V] {
	return refcount.Cloner(copyValue)
}

// SetViolationHandler installs h as the process-wide violation handler and
// returns a function restoring the previous one. A nil h restores the
// default, which prints the report and panics.
func SetViolationHandler(h Handler) (restore func()) {
	return violation.SetHandler(h)
}

// NewSlogObserver returns an Observer logging every event to logger. The
// event type becomes the message; slot events are logged at debug level.
func NewSlogObserver(logger *slog.Logger) Observer {
	return observe.NewSlogObserver(logger)
}
