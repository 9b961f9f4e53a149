package atomicslot

import (
	"fmt"
	"sync/atomic"

	"github.com/kolkov/refslot/internal/refslot/observe"
	"github.com/kolkov/refslot/internal/refslot/stripe"
	"github.com/kolkov/refslot/internal/refslot/violation"
)

// holder boxes the current value so the fast path can publish it with a
// single pointer store. A nil holder is the empty slot.
type holder[T any] struct {
	v T
}

// Stats are cumulative operation counters for one slot.
type Stats struct {
	Stores     uint64 // Store/StoreCopy/Swap/CompareAndSwap calls that wrote
	NoOpStores uint64 // Store calls skipped because the value was already held
	Loads      uint64
	Releases   uint64 // previous values released by the slot
}

// Slot holds one owning reference to a value of type T.
//
// A Slot must not be copied after first use; construct with New or NewWith.
//
// Thread Safety: Under PolicyGuarded all methods except Close are safe for
// concurrent calls. Under PolicyFast only Load is; writers must be
// serialized by the caller.
type Slot[T Value] struct {
	cur atomic.Pointer[holder[T]]

	table *stripe.LockTable
	id    stripe.Identity

	policy      Policy
	copyFn      func(T) T
	observer    observe.Observer
	onViolation violation.Handler
	probe       func(Point)

	closed atomic.Bool

	stores   atomic.Uint64
	noOps    atomic.Uint64
	loads    atomic.Uint64
	releases atomic.Uint64
}

// New returns an empty slot whose stripe is chosen from table.
//
// A nil table selects stripe.Default().
func New[T Value](table *stripe.LockTable, opts Options[T]) *Slot[T] {
	if table == nil {
		table = stripe.Default()
	}
	s := &Slot[T]{
		table:       table,
		policy:      opts.Policy,
		copyFn:      opts.Copy,
		observer:    opts.Observer,
		onViolation: opts.OnViolation,
		probe:       opts.Probe,
	}
	s.id = stripe.IdentityOf(s)
	return s
}

// NewWith returns a slot holding initial. The slot retains initial; the
// caller keeps its own reference.
func NewWith[T Value](table *stripe.LockTable, initial T, opts Options[T]) *Slot[T] {
	s := New(table, opts)
	if !isZero(initial) {
		initial.Retain()
		s.cur.Store(&holder[T]{v: initial})
	}
	return s
}

// Identity returns the slot's identity, which selects its stripe.
func (s *Slot[T]) Identity() stripe.Identity {
	return s.id
}

// Policy returns the policy fixed at construction.
func (s *Slot[T]) Policy() Policy {
	return s.policy
}

// Closed reports whether Close has been called.
func (s *Slot[T]) Closed() bool {
	return s.closed.Load()
}

// Stats returns a snapshot of the slot's counters.
func (s *Slot[T]) Stats() Stats {
	return Stats{
		Stores:     s.stores.Load(),
		NoOpStores: s.noOps.Load(),
		Loads:      s.loads.Load(),
		Releases:   s.releases.Load(),
	}
}

// String implements fmt.Stringer.
func (s *Slot[T]) String() string {
	return fmt.Sprintf("Slot(0x%x, %s)", uintptr(s.id), s.policy)
}

// Store makes v the held value.
//
// The slot retains v (the caller keeps its own reference) and releases the
// value it held before. Storing the value already held does nothing: no
// retain, no release. Storing the zero value empties the slot.
func (s *Slot[T]) Store(v T) {
	if !s.checkOpen() {
		return
	}

	if s.policy == PolicyFast {
		prev := s.current()
		s.at(PointLoaded)
		if prev == v {
			s.noOps.Add(1)
			return
		}
		retain(v)
		s.install(v)
		s.at(PointInstalled)
		s.finishStore(prev)
		return
	}

	mu := s.table.LockFor(s.id)
	mu.Lock()
	prev := s.current()
	s.at(PointLoaded)
	if prev == v {
		mu.Unlock()
		s.noOps.Add(1)
		return
	}
	retain(v)
	s.install(v)
	s.at(PointInstalled)
	mu.Unlock()

	s.finishStore(prev)
}

// StoreCopy stores an independent copy of v so later mutation of v by the
// caller cannot be observed through the slot.
//
// The copy comes from Options.Copy, or from v's Copy method when T
// implements Copier. With neither, StoreCopy panics with ErrNoCopier. The
// copy's single reference is adopted by the slot. Copying a zero value
// empties the slot.
func (s *Slot[T]) StoreCopy(v T) {
	if !s.checkOpen() {
		return
	}

	cp := v
	if !isZero(v) {
		cp = s.copyOf(v)
	}

	if s.policy == PolicyFast {
		prev := s.current()
		s.at(PointLoaded)
		if prev == cp {
			s.noOps.Add(1)
			release(cp) // the copier handed back the held value with an extra reference
			return
		}
		s.install(cp)
		s.at(PointInstalled)
		s.finishStore(prev)
		return
	}

	mu := s.table.LockFor(s.id)
	mu.Lock()
	prev := s.current()
	s.at(PointLoaded)
	if prev == cp {
		mu.Unlock()
		s.noOps.Add(1)
		release(cp)
		return
	}
	s.install(cp)
	s.at(PointInstalled)
	mu.Unlock()

	s.finishStore(prev)
}

// Load returns the held value with a reference owned by the caller, who must
// Release it. An empty or closed slot returns the zero value.
//
// Under PolicyFast a concurrent writer may release the value between the
// read and the retain; the value's own checks report that as a retain after
// free.
func (s *Slot[T]) Load() T {
	if !s.checkOpen() {
		var zero T
		return zero
	}
	s.loads.Add(1)

	if s.policy == PolicyFast {
		v := s.current()
		retain(v)
		return v
	}

	mu := s.table.LockFor(s.id)
	mu.Lock()
	v := s.current()
	retain(v)
	mu.Unlock()
	return v
}

// Swap stores v and returns the previous value. The slot's reference to the
// previous value passes to the caller, who must Release it.
func (s *Slot[T]) Swap(v T) (old T) {
	if !s.checkOpen() {
		return old
	}

	if s.policy == PolicyFast {
		old = s.current()
		s.at(PointLoaded)
		retain(v)
		s.install(v)
		s.at(PointInstalled)
		s.stores.Add(1)
		return old
	}

	mu := s.table.LockFor(s.id)
	mu.Lock()
	old = s.current()
	s.at(PointLoaded)
	retain(v)
	s.install(v)
	s.at(PointInstalled)
	mu.Unlock()

	s.stores.Add(1)
	return old
}

// CompareAndSwap stores v if the slot currently holds old and reports
// whether it did. On success the slot releases old; the caller's own
// references are untouched.
func (s *Slot[T]) CompareAndSwap(old, v T) (swapped bool) {
	if !s.checkOpen() {
		return false
	}

	if s.policy == PolicyFast {
		if s.current() != old {
			return false
		}
		s.at(PointLoaded)
		if old == v {
			return true
		}
		retain(v)
		s.install(v)
		s.at(PointInstalled)
		s.finishStore(old)
		return true
	}

	mu := s.table.LockFor(s.id)
	mu.Lock()
	if s.current() != old {
		mu.Unlock()
		return false
	}
	s.at(PointLoaded)
	if old == v {
		mu.Unlock()
		return true
	}
	retain(v)
	s.install(v)
	s.at(PointInstalled)
	mu.Unlock()

	s.finishStore(old)
	return true
}

// Close releases the held value, if any, and marks the slot closed.
//
// Close must not race with other operations on the slot. Closing twice is
// reported as violation.SlotClosed.
func (s *Slot[T]) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		s.raise(1)
		return
	}

	var prev T
	if h := s.cur.Swap(nil); h != nil {
		prev = h.v
	}
	if !isZero(prev) {
		release(prev)
		s.releases.Add(1)
	}

	if s.observer != nil {
		observe.Emit(s.observer, observe.EventSlotClose, observe.LevelVerbose, "atomicslot", map[string]any{
			"slot":     fmt.Sprintf("0x%x", uintptr(s.id)),
			"released": !isZero(prev),
		})
	}
}

// finishStore runs after the new value is installed and any lock dropped.
func (s *Slot[T]) finishStore(prev T) {
	s.stores.Add(1)
	s.at(PointReleasing)

	if isZero(prev) {
		s.emitStore(false)
		return
	}
	release(prev)
	s.releases.Add(1)
	s.emitStore(true)
}

func (s *Slot[T]) emitStore(released bool) {
	if s.observer == nil {
		return
	}
	slot := fmt.Sprintf("0x%x", uintptr(s.id))
	observe.Emit(s.observer, observe.EventSlotStore, observe.LevelVerbose, "atomicslot", map[string]any{
		"slot":   slot,
		"policy": s.policy.String(),
	})
	if released {
		observe.Emit(s.observer, observe.EventSlotRelease, observe.LevelVerbose, "atomicslot", map[string]any{
			"slot": slot,
		})
	}
}

func (s *Slot[T]) current() T {
	if h := s.cur.Load(); h != nil {
		return h.v
	}
	var zero T
	return zero
}

func (s *Slot[T]) install(v T) {
	if isZero(v) {
		s.cur.Store(nil)
		return
	}
	s.cur.Store(&holder[T]{v: v})
}

func (s *Slot[T]) at(p Point) {
	if s.probe != nil {
		s.probe(p)
	}
}

func (s *Slot[T]) copyOf(v T) T {
	if s.copyFn != nil {
		return s.copyFn(v)
	}
	if c, ok := any(v).(Copier[T]); ok {
		return c.Copy()
	}
	panic(ErrNoCopier)
}

func (s *Slot[T]) checkOpen() bool {
	if s.closed.Load() {
		s.raise(2)
		return false
	}
	return true
}

// raise reports a closed-slot operation. skip counts frames above raise
// that belong to the slot.
func (s *Slot[T]) raise(skip int) {
	if s.observer != nil {
		observe.Emit(s.observer, observe.EventViolation, observe.LevelError, "atomicslot", map[string]any{
			"kind": violation.SlotClosed.String(),
			"slot": fmt.Sprintf("0x%x", uintptr(s.id)),
		})
	}
	violation.Raise(s.onViolation, violation.New(violation.SlotClosed, uintptr(s.id), 0, 0, skip+1))
}

func isZero[T comparable](v T) bool {
	var zero T
	return v == zero
}

func retain[T Value](v T) {
	if !isZero(v) {
		v.Retain()
	}
}

func release[T Value](v T) {
	if !isZero(v) {
		v.Release()
	}
}
