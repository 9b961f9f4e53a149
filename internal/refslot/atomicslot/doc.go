// Package atomicslot implements a shared slot holding one owning reference.
//
// Many goroutines may Store into and Load from one Slot. The slot owns one
// reference to whatever it holds: Store retains the incoming value and
// releases the outgoing one, Load hands the caller a reference of its own,
// and Close releases the last held value exactly once.
//
// # Policies
//
// The policy is fixed at construction.
//
// PolicyGuarded (the zero value) serializes every operation on a slot
// through the slot's stripe in a stripe.LockTable:
//
//	lock(stripe(slot))
//	prev := current
//	if prev == v { unlock; return }
//	retain(v); current = v
//	unlock(stripe(slot))
//	release(prev)          // outside the lock
//
// PolicyFast performs the same steps with no lock. It is cheaper, and it is
// only correct when a single goroutine writes the slot (or the caller
// serializes writers itself). Two concurrent fast Stores can both observe the
// same prev and both release it:
//
//	A: prev := current (p)
//	B: prev := current (p)
//	A: current = x; release(p)   // p freed
//	B: current = y; release(p)   // double release; x leaked
//
// # Release Outside the Lock
//
// Releasing the previous value may run arbitrary finalizer code, including
// code that stores into another slot. That slot may share a stripe with this
// one, so the guarded path always drops its stripe before releasing. Only the
// snapshot of prev and the pointer swap happen under the lock.
//
// # Linearizability
//
// Under PolicyGuarded, Store, StoreCopy, Load, Swap and CompareAndSwap on
// one slot are linearizable: after a burst of concurrent Stores the slot
// holds exactly one of the stored values. PolicyFast gives no such promise.
//
// # Preconditions
//
// Close must not run concurrently with any other operation on the same
// slot. Operations after Close are reported as violation.SlotClosed.
package atomicslot
