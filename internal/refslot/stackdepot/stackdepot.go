// Package stackdepot stores deduplicated stack traces for release-site tracking.
//
// Debug-mode reference counting remembers where each handle was last
// released. Keeping a full []uintptr per release would be expensive, so the
// stack is stored once in a global depot and the handle keeps only its 64-bit
// hash.
//
// Design:
//   - Fixed-size stack traces (16 frames, 128 bytes per stack)
//   - Hash-based deduplication (FNV-1a over program counters)
//   - Global sync.Map storage (thread-safe)
//
// Usage:
//
//	// At the release site
//	hash := stackdepot.Capture(1)
//
//	// Later, while reporting a double release
//	if st := stackdepot.Get(hash); st != nil {
//	    fmt.Print(st.Format())
//	}
package stackdepot

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"
)

// MaxFrames is the maximum number of frames kept per stack.
//
// Release sites are usually a few frames below the slot operation that
// triggered them, so 16 frames reach back to user code.
const MaxFrames = 16

// Stack is a captured stack trace of fixed size.
type Stack struct {
	PC [MaxFrames]uintptr
	n  int
}

// Frames returns the captured program counters.
func (st *Stack) Frames() []uintptr {
	if st == nil {
		return nil
	}
	return st.PC[:st.n]
}

// depot maps uint64 hash → *Stack.
var depot sync.Map

// Capture records the caller's stack and returns its hash.
//
// skip counts frames above Capture's caller to drop: Capture(0) starts at
// the function that called Capture.
//
// Returns 0 if no stack could be captured.
//
// Thread Safety: Safe for concurrent calls.
func Capture(skip int) uint64 {
	var pcs [MaxFrames]uintptr
	// +2 skips runtime.Callers and Capture itself.
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return 0
	}

	hash := hashStack(pcs[:n])
	if _, exists := depot.Load(hash); exists {
		return hash
	}

	depot.Store(hash, &Stack{PC: pcs, n: n})
	return hash
}

// Get returns the stack stored under hash, or nil.
func Get(hash uint64) *Stack {
	if hash == 0 {
		return nil
	}

	val, ok := depot.Load(hash)
	if !ok {
		return nil
	}
	return val.(*Stack)
}

// hashStack computes an FNV-1a hash of the program counters.
func hashStack(pcs []uintptr) uint64 {
	h := fnv.New64a()

	var buf [8]byte
	for _, pc := range pcs {
		binary.LittleEndian.PutUint64(buf[:], uint64(pc))
		_, _ = h.Write(buf[:]) // hash.Hash never returns an error
	}

	// Zero is reserved for "no stack".
	if sum := h.Sum64(); sum != 0 {
		return sum
	}
	return 1
}

// Format renders the stack for a violation report:
//
//	github.com/kolkov/refslot/internal/refslot/atomicslot.(*Slot[...]).Store()
//	    /path/to/slot.go:120
//
// Runtime frames are skipped.
func (st *Stack) Format() string {
	return FormatFrames(st.Frames())
}

// FormatFrames renders raw program counters the same way Format does.
func FormatFrames(pcs []uintptr) string {
	if len(pcs) == 0 {
		return "  <unknown>\n"
	}

	frames := runtime.CallersFrames(pcs)

	var buf strings.Builder
	for {
		frame, more := frames.Next()
		if frame.PC == 0 {
			break
		}

		if !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&buf, "  %s()\n", frame.Function)
			fmt.Fprintf(&buf, "      %s:%d\n", frame.File, frame.Line)
		}

		if !more {
			break
		}
	}

	if buf.Len() == 0 {
		return "  <runtime internal>\n"
	}
	return buf.String()
}

// Reset clears the depot.
//
// Thread Safety: NOT safe for concurrent calls. Test setup only.
func Reset() {
	depot.Range(func(key, _ any) bool {
		depot.Delete(key)
		return true
	})
}

// Stats returns the number of unique stacks and their approximate memory.
//
// O(N); diagnostics only.
func Stats() (uniqueStacks int, totalMemory int64) {
	depot.Range(func(_, _ any) bool {
		uniqueStacks++
		return true
	})

	// 16 frames × 8 bytes + length, plus ~32 bytes of sync.Map overhead.
	const bytesPerStack = MaxFrames*8 + 8 + 32
	return uniqueStacks, int64(uniqueStacks) * bytesPerStack
}
