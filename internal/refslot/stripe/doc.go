// Package stripe implements a fixed-size striped lock table.
//
// A LockTable is an array of independent mutexes. Callers hand it an opaque
// Identity (normally the address of the object being protected) and get back
// the one mutex that identity maps to. Unrelated identities usually land on
// different stripes and do not contend; the same identity always lands on the
// same stripe, so every writer of one object serializes.
//
// # Mapping
//
// The identity is mixed with a multiplicative (golden ratio) hash and masked
// with size-1:
//
//	index = mix(id) & (size - 1)
//
// The table size must therefore be a power of two. Collisions between
// different identities are allowed; they only cost extra serialization.
//
// # Lifecycle
//
// A table is immutable after New returns. There is no resize: changing the
// size would remap identities while slots are live, which would let two
// writers of the same slot hold different locks.
//
// Default returns a process-wide table created on first use. Code that owns
// its slots should construct a table with New and pass it explicitly.
//
// # Memory Layout
//
// Each stripe is padded to a cache line so that neighbouring stripes touched
// by different cores do not share a line:
//
//	DefaultSize (64) stripes x 64-128 bytes = 4-8KB per table
//
// # Thread Safety
//
// LockFor, Index and Spread are safe for concurrent use.
package stripe
