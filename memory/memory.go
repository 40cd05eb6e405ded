// Package memory is the public entry point: a single process-wide tracked
// allocator reached through package-level functions, behind a small state
// machine (uninitialized, ready, shut down) with a safety-net fallback for
// calls made outside the ready state.
package memory

import (
	"fmt"
	"log"
	"runtime"
	"sync"
	"unsafe"

	orizonerrors "github.com/orizon-lang/memcore/internal/errors"
	"github.com/orizon-lang/memcore/internal/memcore"
)

// Tag re-exports memcore.Tag so callers never need to import the internal
// package directly.
type Tag = memcore.Tag

const (
	TagUnknown          = memcore.TagUnknown
	TagArray            = memcore.TagArray
	TagString           = memcore.TagString
	TagHashtable        = memcore.TagHashtable
	TagQueue            = memcore.TagQueue
	TagLinearAllocator  = memcore.TagLinearAllocator
	TagDynamicAllocator = memcore.TagDynamicAllocator
	TagThread           = memcore.TagThread
	TagMutex            = memcore.TagMutex
	TagSemaphore        = memcore.TagSemaphore
	TagFreelist         = memcore.TagFreelist
	TagApplication      = memcore.TagApplication
	TagAll              = memcore.TagAll
)

// state is the lifecycle of the package-level singleton.
type state int

const (
	stateUninit state = iota
	stateReady
	stateShutdown
)

func (s state) String() string {
	switch s {
	case stateUninit:
		return "UNINIT"
	case stateReady:
		return "READY"
	case stateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

var (
	mu  sync.Mutex
	st  state
	hub *memcore.GlobalAllocator
)

// Startup brings the singleton from UNINIT to READY, reserving capacity
// bytes up front. It succeeds only from UNINIT: a second call fails, also
// after Shutdown, since SHUTDOWN does not lead back to READY; capacity is fixed for the singleton's lifetime (spec: "capacity is
// not grown or shrunk after startup").
func Startup(capacity uint64) bool {
	mu.Lock()
	defer mu.Unlock()

	if st != stateUninit {
		log.Print(orizonerrors.InvariantViolation(
			fmt.Sprintf("memory.Startup called while in state %s", st),
		).Error())

		return false
	}

	g, ok := memcore.NewGlobalAllocator(capacity)
	if !ok {
		return false
	}

	hub = g
	st = stateReady

	return true
}

// Shutdown releases the singleton's backing memory and moves to SHUTDOWN.
// It is a no-op if called before Startup or more than once.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()

	if st != stateReady {
		return
	}

	hub.Shutdown()
	hub = nil
	st = stateShutdown
}

// current returns the ready singleton, or nil if the package is not in the
// READY state.
func current() *memcore.GlobalAllocator {
	mu.Lock()
	defer mu.Unlock()

	if st != stateReady {
		return nil
	}

	return hub
}

// Allocate reserves size zero-initialized bytes tagged for accounting.
// Outside the READY state it falls back to an untracked Go-heap allocation
// rather than refusing outright.
func Allocate(size uint64, tag Tag) (unsafe.Pointer, bool) {
	if g := current(); g != nil {
		return g.Allocate(size, tag)
	}

	return systemAllocAligned(size, 1)
}

// AllocateAligned is Allocate with a caller-specified power-of-two
// alignment.
func AllocateAligned(size uint64, align uint16, tag Tag) (unsafe.Pointer, bool) {
	if g := current(); g != nil {
		return g.AllocateAligned(size, align, tag)
	}

	return systemAllocAligned(size, align)
}

// Free releases ptr, which must have come from Allocate/AllocateAligned
// while the package was READY. Outside READY, Free is a no-op: the
// fallback path's allocations are reclaimed by the Go garbage collector,
// not by an explicit free.
func Free(ptr unsafe.Pointer, size uint64, tag Tag) bool {
	if g := current(); g != nil {
		return g.Free(ptr, size, tag)
	}

	return systemFree()
}

// FreeAligned is an alias for Free.
func FreeAligned(ptr unsafe.Pointer, size uint64, tag Tag) bool {
	return Free(ptr, size, tag)
}

// Clear, Set, Copy, Move, and Equal are raw byte-level helpers available
// regardless of lifecycle state; they never touch accounting.

func Clear(dst unsafe.Pointer, n uint64) {
	memcore.HostMemclear(dst, n)
}

func Set(dst unsafe.Pointer, v byte, n uint64) {
	memcore.HostMemset(dst, v, n)
}

func Copy(dst, src unsafe.Pointer, n uint64) {
	memcore.HostMemcpy(dst, src, n)
}

func Move(dst, src unsafe.Pointer, n uint64) {
	memcore.HostMemmove(dst, src, n)
}

func Equal(a, b unsafe.Pointer, n uint64) bool {
	return memcore.HostMemcmp(a, b, n)
}

// Stat renders the current per-tag usage snapshot. Outside READY it
// reports the lifecycle state rather than panicking on a nil singleton.
func Stat() string {
	if g := current(); g != nil {
		return g.Stat()
	}

	mu.Lock()
	s := st
	mu.Unlock()

	return fmt.Sprintf("System memory usage:\n          (uninitialized: %s)\n", s)
}

// AllocationCount returns the number of successful Allocate/AllocateAligned
// calls since Startup. It does not count fallback allocations made outside
// READY.
func AllocationCount() uint64 {
	if g := current(); g != nil {
		return g.AllocationCount()
	}

	return 0
}

// FreeCount returns the number of successful Free/FreeAligned calls since
// Startup. It does not count fallback frees made outside READY.
func FreeCount() uint64 {
	if g := current(); g != nil {
		return g.FreeCount()
	}

	return 0
}

// systemAllocAligned is the fallback used before Startup or after Shutdown:
// a plain Go-heap allocation, aligned by over-allocating and indexing
// forward, and kept alive by the returned pointer itself (an unsafe.Pointer
// into the slice's backing array is an ordinary GC root, unlike a uintptr).
func systemAllocAligned(size uint64, align uint16) (unsafe.Pointer, bool) {
	if size == 0 {
		log.Print(orizonerrors.InvalidSize(size, "memory.Allocate (fallback)").Error())

		return nil, false
	}

	if align == 0 {
		align = 1
	}

	log.Print(orizonerrors.StatisticalWarning(
		"allocate called outside READY state, falling back to an untracked Go-heap allocation",
	).Error())

	buf := make([]byte, size+uint64(align))
	base := uintptr(unsafe.Pointer(&buf[0]))
	offset := (uintptr(align) - base%uintptr(align)) % uintptr(align)
	ptr := unsafe.Pointer(&buf[offset])

	runtime.KeepAlive(buf)

	return ptr, true
}

// systemFree warns that the fallback path has no explicit free; the
// backing slice is reclaimed by the garbage collector once unreferenced.
func systemFree() bool {
	log.Print(orizonerrors.StatisticalWarning(
		"free called outside READY state; fallback allocations are reclaimed by the garbage collector, not freed explicitly",
	).Error())

	return true
}
