package memcore

import (
	"fmt"
	"log"
	"sync"
	"unsafe"

	"golang.org/x/sync/singleflight"

	orizonerrors "github.com/orizon-lang/memcore/internal/errors"
)

// GlobalAllocator owns one DynamicAllocator over a single host-obtained
// slab, tags every allocation with a Tag for accounting, and serializes
// every mutation behind one mutex. It is an explicit handle rather than a
// package-level global: callers that want a single process-wide instance
// get one via the memory package, which wraps a GlobalAllocator behind a
// mutex-guarded singleton. GlobalAllocator itself carries no global state
// so it stays testable in isolation.
type GlobalAllocator struct {
	mu          sync.Mutex
	dynamic     *DynamicAllocator
	backing     []byte
	capacity    uint64
	byTag       [tagCount]uint64
	outstanding uint64
	allocCount  uint64
	freeCount   uint64

	statGroup singleflight.Group
}

// NewGlobalAllocator makes the single host allocation backing its embedded
// dynamic allocator (freelist node pool plus data region), then initializes
// the dynamic allocator over it. The GlobalAllocator struct itself lives on
// the Go heap, not in that allocation.
func NewGlobalAllocator(capacity uint64) (*GlobalAllocator, bool) {
	required, ok := DynamicAllocatorMemoryRequirement(capacity)
	if !ok {
		log.Print(orizonerrors.InvalidSize(capacity, "NewGlobalAllocator").Error())

		return nil, false
	}

	backing, ok := HostAllocate(required)
	if !ok {
		log.Print(orizonerrors.PlatformFailure("NewGlobalAllocator").Error())

		return nil, false
	}

	dynamic, ok := NewDynamicAllocator(capacity, backing)
	if !ok {
		HostFree(backing)

		return nil, false
	}

	return &GlobalAllocator{dynamic: dynamic, backing: backing, capacity: capacity}, true
}

// Shutdown releases the underlying host allocation. It warns, but does not
// refuse, if outstanding allocations remain.
func (g *GlobalAllocator) Shutdown() {
	g.mu.Lock()

	if g.allocCount != g.freeCount {
		log.Print(orizonerrors.StatisticalWarning(
			fmt.Sprintf("allocation_count(%d) != free_count(%d) at shutdown", g.allocCount, g.freeCount),
		).Error())
	}

	backing := g.backing
	g.backing = nil

	g.mu.Unlock()

	HostFree(backing)
}

// validateTag clamps TagAll and any out-of-range value to TagUnknown: TagAll
// is an accumulator, never a real category, and passing it (or garbage) to
// an accounting call is itself a statistical-warning-worthy mistake. A
// caller-supplied TagUnknown is left as-is but warned about separately: it
// is a valid category, just one accounting rules require flagging on every
// use so callers notice their allocations are going untagged.
func validateTag(tag Tag) Tag {
	if tag < TagUnknown || tag > TagApplication {
		log.Print(orizonerrors.StatisticalWarning("allocation tagged with a non-category tag, treating as UNKNOWN").Error())

		return TagUnknown
	}

	if tag == TagUnknown {
		log.Print(orizonerrors.StatisticalWarning("allocation tagged UNKNOWN").Error())
	}

	return tag
}

// Allocate reserves size zero-initialized bytes at the default alignment,
// tagged for accounting.
func (g *GlobalAllocator) Allocate(size uint64, tag Tag) (unsafe.Pointer, bool) {
	return g.AllocateAligned(size, defaultAlignment, tag)
}

// AllocateAligned reserves size zero-initialized bytes aligned to align,
// tagged for accounting.
func (g *GlobalAllocator) AllocateAligned(size uint64, align uint16, tag Tag) (unsafe.Pointer, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ptr, ok := g.dynamic.AllocateAligned(size, align)
	if !ok {
		return nil, false
	}

	HostMemclear(ptr, size)
	g.recordAllocate(tag, size)

	return ptr, true
}

func (g *GlobalAllocator) recordAllocate(tag Tag, size uint64) {
	tag = validateTag(tag)
	g.allocCount++
	g.outstanding += size
	g.byTag[tag] += size
}

// Free releases ptr, debiting size bytes from tag's running total. The
// caller supplies size and tag; Free does not re-derive them from the
// block.
func (g *GlobalAllocator) Free(ptr unsafe.Pointer, size uint64, tag Tag) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.dynamic.Free(ptr) {
		return false
	}

	g.recordFree(tag, size)

	return true
}

// FreeAligned is an alias for Free; see DynamicAllocator.FreeAligned.
func (g *GlobalAllocator) FreeAligned(ptr unsafe.Pointer, size uint64, tag Tag) bool {
	return g.Free(ptr, size, tag)
}

func (g *GlobalAllocator) recordFree(tag Tag, size uint64) {
	tag = validateTag(tag)
	g.freeCount++
	g.outstanding -= size
	g.byTag[tag] -= size
}

// QueryFree returns the bytes free in the underlying dynamic allocator.
func (g *GlobalAllocator) QueryFree() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.dynamic.QueryFree()
}

// AllocationCount returns the number of successful allocations so far.
func (g *GlobalAllocator) AllocationCount() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.allocCount
}

// FreeCount returns the number of successful frees so far.
func (g *GlobalAllocator) FreeCount() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.freeCount
}

// Clear zeroes n bytes starting at dst. It does not touch accounting; it is
// a raw byte-level helper over memory the caller already owns.
func (g *GlobalAllocator) Clear(dst unsafe.Pointer, n uint64) {
	HostMemclear(dst, n)
}

// Set fills n bytes starting at dst with v.
func (g *GlobalAllocator) Set(dst unsafe.Pointer, v byte, n uint64) {
	HostMemset(dst, v, n)
}

// Copy copies n non-overlapping bytes from src to dst.
func (g *GlobalAllocator) Copy(dst, src unsafe.Pointer, n uint64) {
	HostMemcpy(dst, src, n)
}

// Move copies n possibly-overlapping bytes from src to dst.
func (g *GlobalAllocator) Move(dst, src unsafe.Pointer, n uint64) {
	HostMemmove(dst, src, n)
}

// Equal reports whether the n bytes starting at a and b are identical.
func (g *GlobalAllocator) Equal(a, b unsafe.Pointer, n uint64) bool {
	return HostMemcmp(a, b, n)
}

// Stat renders a snapshot of per-tag bytes outstanding, the running total,
// and the reserved capacity. Concurrent callers collapse onto a single
// render pass via singleflight rather than each taking the mutex in turn.
func (g *GlobalAllocator) Stat() string {
	v, _, _ := g.statGroup.Do("stat", func() (interface{}, error) {
		g.mu.Lock()
		defer g.mu.Unlock()

		return renderStat(g.byTag, g.outstanding, g.capacity), nil
	})

	return v.(string)
}
