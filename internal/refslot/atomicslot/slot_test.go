package atomicslot

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/refslot/internal/refslot/interleave"
	"github.com/kolkov/refslot/internal/refslot/observe"
	"github.com/kolkov/refslot/internal/refslot/refcount"
	"github.com/kolkov/refslot/internal/refslot/stripe"
	"github.com/kolkov/refslot/internal/refslot/violation"
)

type handle = *refcount.Ref[string]

// fixture builds handles that report into one recorder and count finalizers.
type fixture struct {
	rec     *violation.Recorder
	tracker *refcount.Tracker
	freed   atomic.Int64
}

func newFixture() *fixture {
	return &fixture{rec: violation.NewRecorder(), tracker: refcount.NewTracker()}
}

func (f *fixture) ref(name string) handle {
	return refcount.New(name,
		refcount.WithHandler[string](f.rec.Handle),
		refcount.WithDebug[string](f.tracker),
		refcount.WithFinalizer(func(string) { f.freed.Add(1) }),
	)
}

func newTable(t *testing.T, size int) *stripe.LockTable {
	t.Helper()
	table, err := stripe.New(size)
	require.NoError(t, err)
	return table
}

// ========================================
// Ownership Tests
// ========================================

// TestStore_TransfersOwnership verifies retain on store and release on
// replacement.
func TestStore_TransfersOwnership(t *testing.T) {
	for _, policy := range []Policy{PolicyGuarded, PolicyFast} {
		t.Run(policy.String(), func(t *testing.T) {
			f := newFixture()
			s := New(newTable(t, 8), Options[handle]{Policy: policy})

			a := f.ref("a")
			s.Store(a)
			assert.Equal(t, int32(2), a.Count(), "slot should retain stored value")

			a.Release() // slot is now the only owner
			assert.False(t, a.Freed())

			b := f.ref("b")
			s.Store(b)
			b.Release()
			assert.True(t, a.Freed(), "replaced value should be released")
			assert.False(t, b.Freed())

			s.Close()
			assert.True(t, b.Freed(), "close should release held value")
			assert.Equal(t, int64(2), f.freed.Load())
			assert.Zero(t, f.rec.Total())
		})
	}
}

// TestStore_SameValueIsNoOp verifies storing the held value neither retains
// nor releases it.
func TestStore_SameValueIsNoOp(t *testing.T) {
	f := newFixture()
	s := New(newTable(t, 8), Options[handle]{})

	a := f.ref("a")
	s.Store(a)
	before := f.tracker.Lookup(a.Identity())
	require.NotNil(t, before)
	retains, releases := before.Retains(), before.Releases()

	s.Store(a)
	s.Store(a)

	h := f.tracker.Lookup(a.Identity())
	assert.Equal(t, retains, h.Retains())
	assert.Equal(t, releases, h.Releases())
	assert.Equal(t, int32(2), a.Count())
	assert.Equal(t, uint64(2), s.Stats().NoOpStores)
	assert.Equal(t, uint64(1), s.Stats().Stores)

	s.Close()
	a.Release()
	assert.True(t, a.Freed())
}

// TestStore_ZeroEmpties verifies the zero value clears the slot.
func TestStore_ZeroEmpties(t *testing.T) {
	f := newFixture()
	s := New(newTable(t, 8), Options[handle]{})

	a := f.ref("a")
	s.Store(a)
	a.Release()

	s.Store(nil)
	assert.True(t, a.Freed())
	assert.Nil(t, s.Load())

	s.Store(nil) // empty to empty
	assert.Equal(t, uint64(1), s.Stats().NoOpStores)
	s.Close()
	assert.Zero(t, f.rec.Total())
}

// TestNewWith_RetainsInitial verifies the initial value gains the slot's
// reference.
func TestNewWith_RetainsInitial(t *testing.T) {
	f := newFixture()
	a := f.ref("a")
	s := NewWith(newTable(t, 8), a, Options[handle]{})

	assert.Equal(t, int32(2), a.Count())
	a.Release()
	s.Close()
	assert.True(t, a.Freed())
}

// TestNew_NilTableUsesDefault verifies the process-wide table fallback.
func TestNew_NilTableUsesDefault(t *testing.T) {
	f := newFixture()
	s := New(nil, Options[handle]{})

	a := f.ref("a")
	s.Store(a)
	a.Release()
	s.Close()
	assert.True(t, a.Freed())
}

// ========================================
// Concurrency Tests
// ========================================

// TestStore_GuardedConcurrent verifies no double release and exactly-once
// finalization under contention.
func TestStore_GuardedConcurrent(t *testing.T) {
	const (
		writers = 8
		stores  = 200
	)

	f := newFixture()
	s := New(newTable(t, 4), Options[handle]{})

	var (
		mu     sync.Mutex
		stored = make(map[handle]bool, writers*stores)
		wg     sync.WaitGroup
	)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < stores; i++ {
				v := f.ref(fmt.Sprintf("w%d-%d", w, i))
				mu.Lock()
				stored[v] = true
				mu.Unlock()

				s.Store(v)
				v.Release()

				if i%10 == 0 {
					l := s.Load()
					if l != nil {
						_ = l.Value()
						l.Release()
					}
				}
			}
		}(w)
	}
	wg.Wait()

	final := s.Load()
	require.NotNil(t, final)
	assert.True(t, stored[final], "final value must be one of the stored values")
	final.Release()

	s.Close()

	assert.Zero(t, f.rec.Total(), "violations: %v", f.rec.Reports())
	assert.Equal(t, int64(writers*stores), f.freed.Load(), "every value finalized exactly once")
	for v := range stored {
		h := f.tracker.Lookup(v.Identity())
		require.NotNil(t, h)
		assert.Equal(t, h.Retains()+1, h.Releases(), "retain/release imbalance for %s", v.Value())
	}
}

// TestStore_FastRacingWritersDoubleRelease drives two fast-path writers
// through the same previous value and expects it to be released twice.
func TestStore_FastRacingWritersDoubleRelease(t *testing.T) {
	f := newFixture()
	sched := interleave.New[Point]()
	defer sched.ResumeAll()

	s := New(newTable(t, 8), Options[handle]{Policy: PolicyFast, Probe: sched.Probe})

	p := f.ref("p")
	s.Store(p)
	p.Release()

	x, y := f.ref("x"), f.ref("y")
	sched.Arm(PointLoaded)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.Store(x) }()
	a, ok := sched.Await(time.Second)
	require.True(t, ok, "first writer should reach the load point")

	go func() { defer wg.Done(); s.Store(y) }()
	b, ok := sched.Await(time.Second)
	require.True(t, ok, "fast path takes no lock, second writer must arrive too")

	a.Resume()
	b.Resume()
	wg.Wait()

	assert.Equal(t, 1, f.rec.Count(violation.DoubleRelease))
	reports := f.rec.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, p.Identity(), reports[0].Object)
}

// TestStore_GuardedSerializesWriters runs the same schedule under the
// guarded policy: the second writer cannot read until the first is done.
func TestStore_GuardedSerializesWriters(t *testing.T) {
	f := newFixture()
	sched := interleave.New[Point]()
	defer sched.ResumeAll()

	s := New(newTable(t, 8), Options[handle]{Probe: sched.Probe})

	p := f.ref("p")
	s.Store(p)
	p.Release()

	x, y := f.ref("x"), f.ref("y")
	sched.Arm(PointLoaded)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.Store(x) }()
	a, ok := sched.Await(time.Second)
	require.True(t, ok)

	go func() { defer wg.Done(); s.Store(y) }()
	_, ok = sched.Await(50 * time.Millisecond)
	require.False(t, ok, "second writer must be blocked on the stripe lock")

	a.Resume()
	b, ok := sched.Await(time.Second)
	require.True(t, ok, "second writer proceeds once the first unlocks")
	b.Resume()
	wg.Wait()

	assert.Zero(t, f.rec.Total())
	assert.True(t, p.Freed())
	assert.Equal(t, int32(1), x.Count(), "x was released by the second writer")

	got := s.Load()
	assert.Same(t, y, got)
	got.Release()
}

// TestStore_ReleaseOutsideLock verifies a finalizer may store into a slot
// sharing the same stripe without deadlocking.
func TestStore_ReleaseOutsideLock(t *testing.T) {
	f := newFixture()
	table := newTable(t, 1) // every slot shares one stripe

	other := New(table, Options[handle]{})
	s := New(table, Options[handle]{})
	require.Same(t, table.LockFor(s.Identity()), table.LockFor(other.Identity()))

	c := f.ref("c")
	a := refcount.New("a", refcount.WithFinalizer(func(string) {
		other.Store(c)
	}))
	s.Store(a)
	a.Release()

	done := make(chan struct{})
	go func() {
		s.Store(f.ref("b"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("store deadlocked releasing previous value")
	}

	got := other.Load()
	assert.Same(t, c, got)
	got.Release()
}

// ========================================
// Copy Tests
// ========================================

type buffer struct {
	data []byte
}

func copyBuffer(b *buffer) *buffer {
	return &buffer{data: append([]byte(nil), b.data...)}
}

// TestStoreCopy_Isolation verifies caller mutation is not visible through
// the slot.
func TestStoreCopy_Isolation(t *testing.T) {
	type buf = *refcount.Ref[*buffer]

	s := New(newTable(t, 8), Options[buf]{Copy: refcount.Cloner(copyBuffer)})

	orig := refcount.New(&buffer{data: []byte("hello")})
	s.StoreCopy(orig)
	orig.Value().data = append(orig.Value().data, " world"...)

	got := s.Load()
	require.NotNil(t, got)
	assert.Equal(t, "hello", string(got.Value().data))
	assert.Equal(t, "hello world", string(orig.Value().data))
	assert.Equal(t, int32(1), orig.Count(), "StoreCopy must not retain the original")
	got.Release()

	s.Close()
	assert.True(t, got.Freed(), "slot owned the copy's only reference")
	orig.Release()
}

// note implements Copier itself.
type note struct {
	refs atomic.Int32
	text string
}

func newNote(text string) *note {
	n := &note{text: text}
	n.refs.Store(1)
	return n
}

func (n *note) Retain()     { n.refs.Add(1) }
func (n *note) Release()    { n.refs.Add(-1) }
func (n *note) Copy() *note { return newNote(n.text) }

// TestStoreCopy_CopierMethod verifies the value's own Copy method is used.
func TestStoreCopy_CopierMethod(t *testing.T) {
	s := New(newTable(t, 8), Options[*note]{})

	orig := newNote("hello")
	s.StoreCopy(orig)
	orig.text = "hello world"

	got := s.Load()
	assert.NotSame(t, orig, got)
	assert.Equal(t, "hello", got.text)
	got.Release()

	s.Close()
	assert.Zero(t, got.refs.Load())
}

// TestStoreCopy_NoCopierPanics verifies the missing copier is a programming
// error.
func TestStoreCopy_NoCopierPanics(t *testing.T) {
	f := newFixture()
	s := New(newTable(t, 8), Options[handle]{})

	a := f.ref("a")
	assert.PanicsWithError(t, ErrNoCopier.Error(), func() { s.StoreCopy(a) })
	assert.Equal(t, int32(1), a.Count())
}

// ========================================
// Load / Swap / CompareAndSwap Tests
// ========================================

// TestLoad_RetainsForCaller verifies the caller gets its own reference.
func TestLoad_RetainsForCaller(t *testing.T) {
	f := newFixture()
	s := New(newTable(t, 8), Options[handle]{})
	assert.Nil(t, s.Load(), "empty slot loads zero")

	a := f.ref("a")
	s.Store(a)
	a.Release()

	got := s.Load()
	assert.Same(t, a, got)
	assert.Equal(t, int32(2), a.Count())

	s.Close()
	assert.False(t, a.Freed(), "loaded reference keeps value alive")
	got.Release()
	assert.True(t, a.Freed())
	assert.Equal(t, uint64(2), s.Stats().Loads)
}

// TestSwap_TransfersPrevious verifies the old reference moves to the caller.
func TestSwap_TransfersPrevious(t *testing.T) {
	f := newFixture()
	s := New(newTable(t, 8), Options[handle]{})

	a, b := f.ref("a"), f.ref("b")
	s.Store(a)
	a.Release()

	old := s.Swap(b)
	b.Release()
	assert.Same(t, a, old)
	assert.False(t, a.Freed(), "swap must not release the returned value")

	old.Release()
	assert.True(t, a.Freed())

	same := s.Swap(b)
	assert.Same(t, b, same)
	same.Release()
	assert.False(t, b.Freed(), "slot still holds b")

	s.Close()
	assert.True(t, b.Freed())
	assert.Zero(t, f.rec.Total())
}

// TestCompareAndSwap verifies conditional replacement.
func TestCompareAndSwap(t *testing.T) {
	f := newFixture()
	s := New(newTable(t, 8), Options[handle]{})

	a, b, c := f.ref("a"), f.ref("b"), f.ref("c")
	s.Store(a)
	a.Release()

	assert.False(t, s.CompareAndSwap(b, c), "mismatch must not swap")
	assert.Equal(t, int32(1), c.Count())

	assert.True(t, s.CompareAndSwap(a, b))
	assert.True(t, a.Freed())
	assert.Equal(t, int32(2), b.Count())

	assert.True(t, s.CompareAndSwap(b, b), "swapping for itself succeeds without effect")
	assert.Equal(t, int32(2), b.Count())

	b.Release()
	c.Release()
	s.Close()
	assert.True(t, b.Freed())
	assert.Zero(t, f.rec.Total())
}

// ========================================
// Close Tests
// ========================================

// TestClose_ReportsLaterUse verifies closed slots refuse every operation.
func TestClose_ReportsLaterUse(t *testing.T) {
	f := newFixture()
	rec := violation.NewRecorder()
	s := New(newTable(t, 8), Options[handle]{OnViolation: rec.Handle})

	a := f.ref("a")
	s.Store(a)
	s.Close()
	assert.True(t, s.Closed())
	assert.Equal(t, int32(1), a.Count())

	s.Store(a)
	assert.Nil(t, s.Load())
	s.Close()

	assert.Equal(t, 3, rec.Count(violation.SlotClosed))
	require.Len(t, rec.Reports(), 1)
	assert.Equal(t, uintptr(s.Identity()), rec.Reports()[0].Object)
	assert.Equal(t, int32(1), a.Count(), "closed slot must not touch values")
	a.Release()
}

// TestClose_DefaultHandlerPanics verifies fail-fast on double close.
func TestClose_DefaultHandlerPanics(t *testing.T) {
	restore := violation.SetHandler(func(r *violation.Report) {
		panic(&violation.InvariantViolation{Report: r})
	})
	defer restore()

	s := New(newTable(t, 8), Options[handle]{})
	s.Close()

	defer func() {
		r := recover()
		err, ok := r.(error)
		require.True(t, ok, "expected error panic, got %v", r)
		var iv *violation.InvariantViolation
		require.True(t, errors.As(err, &iv))
		assert.Equal(t, violation.SlotClosed, iv.Report.Kind)
	}()
	s.Close()
}

// ========================================
// Observer and Policy Tests
// ========================================

// TestObserver_ReceivesEvents verifies store, release and close events.
func TestObserver_ReceivesEvents(t *testing.T) {
	f := newFixture()
	capture := &observe.CaptureObserver{}
	s := New(newTable(t, 8), Options[handle]{Observer: capture})

	a, b := f.ref("a"), f.ref("b")
	s.Store(a)
	s.Store(b)
	s.Store(b)
	s.Close()

	assert.Equal(t, 2, capture.Count(observe.EventSlotStore))
	assert.Equal(t, 1, capture.Count(observe.EventSlotRelease))
	assert.Equal(t, 1, capture.Count(observe.EventSlotClose))

	events := capture.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, "guarded", events[0].Data["policy"])
	assert.Equal(t, "atomicslot", events[0].Source)

	a.Release()
	b.Release()
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"guarded", PolicyGuarded, false},
		{"FAST", PolicyFast, false},
		{" fast ", PolicyFast, false},
		{"", PolicyGuarded, false},
		{"racy", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownPolicy)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPolicy_ZeroIsGuarded(t *testing.T) {
	var opts Options[handle]
	assert.Equal(t, PolicyGuarded, opts.Policy)
	assert.Equal(t, "Policy(7)", Policy(7).String())
	assert.Equal(t, "releasing", PointReleasing.String())
}
