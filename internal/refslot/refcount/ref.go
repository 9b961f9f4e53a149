// Package refcount provides an explicitly ownership-counted handle.
//
// Go frees memory with a tracing collector, so "release" here does not free
// memory. It ends ownership: when the last owner releases a Ref its finalizer
// runs (closing a file, returning a buffer to a pool, decrementing a
// resource budget) and the handle is marked freed. Every later Retain,
// Release or Value on it is an ownership bug and is reported through the
// violation package.
//
// Ownership rules:
//   - New returns a Ref with count 1, owned by the caller.
//   - Retain adds an owner; each owner calls Release exactly once.
//   - A Ref must only be retained by someone who already owns it.
package refcount

import (
	"sync/atomic"

	"github.com/kolkov/refslot/internal/refslot/stackdepot"
	"github.com/kolkov/refslot/internal/refslot/stripe"
	"github.com/kolkov/refslot/internal/refslot/violation"
)

// Managed is the capability set a slot needs from a stored value.
//
// Retain must be safe to call concurrently with other Retain and Release
// calls. Release at count zero ends the value's life; the value must not be
// touched afterwards.
type Managed interface {
	Retain()
	Release()
}

// Ref is a counted handle around a value of type V.
//
// The zero Ref is not usable; construct with New.
//
// Thread Safety: Retain, Release, Count, Freed and Value are safe for
// concurrent calls.
type Ref[V any] struct {
	value V
	count atomic.Int32
	freed atomic.Bool

	finalize func(V)
	handler  violation.Handler
	tracker  *Tracker
}

// Option configures a Ref at construction.
type Option[V any] func(*Ref[V])

// WithFinalizer runs fn exactly once, when the count reaches zero.
func WithFinalizer[V any](fn func(V)) Option[V] {
	return func(r *Ref[V]) { r.finalize = fn }
}

// WithHandler routes this handle's violations to h instead of the
// process-wide handler.
func WithHandler[V any](h violation.Handler) Option[V] {
	return func(r *Ref[V]) { r.handler = h }
}

// WithDebug records retain/release counts and the freeing release site in t.
//
// Costs one stack capture per freeing release; intended for tests and the
// stress tool.
func WithDebug[V any](t *Tracker) Option[V] {
	return func(r *Ref[V]) { r.tracker = t }
}

// New returns a handle owning v with a count of 1.
func New[V any](v V, opts ...Option[V]) *Ref[V] {
	r := &Ref[V]{value: v}
	for _, opt := range opts {
		opt(r)
	}
	r.count.Store(1)
	return r
}

// Identity returns the handle's address-derived identity.
func (r *Ref[V]) Identity() uintptr {
	return uintptr(stripe.IdentityOf(r))
}

// Retain adds an owner.
//
// Retaining a handle whose count already reached zero is reported as
// violation.RetainAfterFree and the count is left at zero.
func (r *Ref[V]) Retain() {
	n := r.count.Add(1)
	if n <= 1 {
		r.count.Add(-1)
		r.raise(violation.RetainAfterFree, n-1)
		return
	}
	if r.tracker != nil {
		r.tracker.GetOrCreate(r.Identity()).retains.Add(1)
	}
}

// Release drops an owner. The last Release runs the finalizer.
//
// Releasing a handle whose count already reached zero is reported as
// violation.DoubleRelease; the count is restored so repeated misuse keeps
// reporting instead of drifting further negative.
func (r *Ref[V]) Release() {
	n := r.count.Add(-1)
	if n < 0 {
		r.count.Add(1)
		r.raise(violation.DoubleRelease, n)
		return
	}

	if r.tracker != nil {
		h := r.tracker.GetOrCreate(r.Identity())
		h.releases.Add(1)
		if n == 0 {
			// Skip Release itself so the site is the caller.
			h.freedAt.Store(stackdepot.Capture(1))
		}
	}

	if n == 0 {
		r.freed.Store(true)
		if r.finalize != nil {
			r.finalize(r.value)
		}
	}
}

// Value returns the wrapped value.
//
// Reading a freed handle is reported as violation.UseAfterFree; the value
// is still returned when the handler lets execution continue.
func (r *Ref[V]) Value() V {
	if r.freed.Load() {
		r.raise(violation.UseAfterFree, r.count.Load())
	}
	return r.value
}

// Count returns the current number of owners.
func (r *Ref[V]) Count() int32 {
	return r.count.Load()
}

// Freed reports whether the count has reached zero.
func (r *Ref[V]) Freed() bool {
	return r.freed.Load()
}

// Clone returns a new handle (count 1) whose value is copyValue(r.Value()).
//
// The clone inherits the finalizer, handler and tracker. A nil copyValue
// copies V by assignment, which is only a deep copy for value types.
func (r *Ref[V]) Clone(copyValue func(V) V) *Ref[V] {
	v := r.Value()
	if copyValue != nil {
		v = copyValue(v)
	}

	c := &Ref[V]{
		value:    v,
		finalize: r.finalize,
		handler:  r.handler,
		tracker:  r.tracker,
	}
	c.count.Store(1)
	return c
}

// raise builds a report whose Current stack starts at the caller of the
// failing Retain/Release/Value.
func (r *Ref[V]) raise(kind violation.Kind, count int32) {
	var previous uint64
	if r.tracker != nil {
		if h := r.tracker.Lookup(r.Identity()); h != nil {
			previous = h.FreedAt()
		}
	}
	// Skip raise and the Ref method that called it.
	violation.Raise(r.handler, violation.New(kind, r.Identity(), count, previous, 2))
}

// Cloner adapts copyValue into a copy function for handles, suitable for a
// slot's copy option: each call returns r.Clone(copyValue).
func Cloner[V any](copyValue func(V) V) func(*Ref[V]) *Ref[V] {
	return func(r *Ref[V]) *Ref[V] {
		return r.Clone(copyValue)
	}
}
