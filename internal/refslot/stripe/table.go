package stripe

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/cpu"
)

const (
	// DefaultSize is the number of stripes in the table returned by Default.
	DefaultSize = 64

	// MaxSize bounds a single table to 65536 stripes.
	MaxSize = 1 << 16
)

// Identity is an opaque, stable integer naming a protected object.
//
// It is derived from the object's address and is only ever hashed, never
// converted back into a pointer.
type Identity uintptr

// IdentityOf returns the identity of the object p points to.
//
// Go's heap does not move objects, so the identity is stable for as long as
// p is reachable.
//
//nolint:gosec // G103: address used as an opaque hash key only
func IdentityOf[T any](p *T) Identity {
	return Identity(uintptr(unsafe.Pointer(p)))
}

// lockStripe is one mutex padded out to its own cache line.
type lockStripe struct {
	mu sync.Mutex
	_  cpu.CacheLinePad
}

// LockTable is a fixed array of mutexes indexed by a hash of an Identity.
//
// Thread Safety: immutable after construction; all methods are safe for
// concurrent calls.
type LockTable struct {
	stripes []lockStripe
	mask    uint64
}

// New creates a lock table with size stripes.
//
// Returns a *ConfigurationError if size is zero, negative, not a power of
// two, or larger than MaxSize.
//
// Example:
//
//	table, err := stripe.New(64)
//	if err != nil {
//	    return err
//	}
//	mu := table.LockFor(stripe.IdentityOf(&obj))
func New(size int) (*LockTable, error) {
	if err := validateSize(size); err != nil {
		return nil, err
	}

	return &LockTable{
		stripes: make([]lockStripe, size),
		mask:    uint64(size - 1), //nolint:gosec // G115: size validated positive
	}, nil
}

func validateSize(size int) error {
	switch {
	case size <= 0:
		return &ConfigurationError{Size: size, Reason: "size must be positive"}
	case size&(size-1) != 0:
		return &ConfigurationError{Size: size, Reason: "size must be a power of two"}
	case size > MaxSize:
		return &ConfigurationError{Size: size, Reason: "size exceeds maximum"}
	}
	return nil
}

var (
	defaultOnce  sync.Once
	defaultTable *LockTable
)

// Default returns the process-wide table of DefaultSize stripes.
//
// The table is built on first call and never changes afterwards.
func Default() *LockTable {
	defaultOnce.Do(func() {
		t, err := New(DefaultSize)
		if err != nil {
			panic(err) // DefaultSize is a valid constant
		}
		defaultTable = t
	})
	return defaultTable
}

// mix spreads an address across all 64 bits.
//
// Addresses are 8- or 16-byte aligned, so their low bits carry no entropy.
// Multiplying by the golden ratio constant pushes entropy upward; folding the
// high half back down makes the low bits (the ones the mask keeps) depend on
// the whole address.
func mix(id Identity) uint64 {
	const goldenRatio = 0x9E3779B97F4A7C15

	h := uint64(id) * goldenRatio
	return h ^ (h >> 32)
}

// Index returns the stripe index id maps to.
func (t *LockTable) Index(id Identity) int {
	return int(mix(id) & t.mask) //nolint:gosec // G115: masked below MaxSize
}

// LockFor returns the mutex guarding id.
//
// The same id always yields the same *sync.Mutex for the lifetime of the
// table.
func (t *LockTable) LockFor(id Identity) *sync.Mutex {
	return &t.stripes[mix(id)&t.mask].mu
}

// Size returns the number of stripes.
func (t *LockTable) Size() int {
	return len(t.stripes)
}

// Spread returns how many of ids fall on each stripe.
//
// This is for diagnostics only (collision analysis in stress runs), not for
// the hot path.
func (t *LockTable) Spread(ids []Identity) []int {
	counts := make([]int, len(t.stripes))
	for _, id := range ids {
		counts[t.Index(id)]++
	}
	return counts
}
