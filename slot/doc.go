// Package slot provides a shared slot holding one owning reference to a
// reference-counted value.
//
// Many goroutines may store into and load from one slot. The slot retains
// whatever it holds and releases what it replaces, so each stored value is
// released exactly once no matter how stores interleave. Writers are
// serialized through a striped lock table: a fixed array of mutexes indexed
// by a hash of the slot's address, so unrelated slots rarely contend and no
// slot carries a mutex of its own.
//
// # Quick Start
//
//	table, err := slot.NewTable(64)
//	if err != nil {
//		return err
//	}
//
//	s := slot.New(table, slot.Options[*slot.Ref[[]byte]]{})
//	defer s.Close()
//
//	buf := slot.NewRef([]byte("hello"), slot.WithFinalizer(func(b []byte) {
//		pool.Put(b)
//	}))
//	s.Store(buf)   // slot retains buf
//	buf.Release()  // drop our reference; the slot still owns one
//
//	cur := s.Load() // our own reference again
//	defer cur.Release()
//
// # API Overview
//
// The package provides:
//   - Lock tables: [NewTable], [DefaultTable]
//   - Slots: [New], [NewWith] and the [Slot] methods Store, StoreCopy, Load,
//     Swap, CompareAndSwap and Close
//   - Counted handles: [NewRef], [WithFinalizer], [WithHandler], [WithDebug],
//     [Cloner]
//   - Violation handling: [SetViolationHandler], [InvariantViolation]
//   - Version information: [GetInfo], [Version], [Compatible]
//
// Any type that is comparable and has Retain and Release methods can live in
// a slot; [Ref] is the ready-made one.
//
// # Policies
//
// [PolicyGuarded], the zero value of [Options].Policy, takes the slot's
// stripe lock around the read of the previous value and the write of the new
// one. The previous value is released after the lock is dropped, so a
// finalizer may itself store into another slot.
//
// [PolicyFast] takes no lock. It is only correct with a single writer. With
// two concurrent writers both may release the same previous value:
//
//	==================
//	WARNING: DOUBLE RELEASE
//	Release of 0x000000c000012340 (count -1):
//	  main.writer()
//	      /path/to/main.go:42
//
//	Previous release:
//	  main.writer()
//	      /path/to/main.go:42
//	==================
//
// # Invariant Violations
//
// Double releases, retains after free, reads after free and use of a closed
// slot are programming errors. By default they print a report like the one
// above and panic with [*InvariantViolation]. Tests and tools can route them
// elsewhere with [SetViolationHandler], [WithHandler] or Options.OnViolation.
// Recording the earlier release site requires [WithDebug].
//
// # Examples
//
// See package-level examples in the documentation:
//   - [Example] - Store, Load and Close
//   - [Example_storeCopy] - Copy isolation
//   - [Example_violation] - Catching a double release
package slot
