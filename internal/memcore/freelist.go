package memcore

import (
	"log"
	"math"
	"math/bits"
	"unsafe"

	orizonerrors "github.com/orizon-lang/memcore/internal/errors"
)

// flNode is one slot of the freelist's node pool. A slot denotes an active
// free interval when it is reachable from the chain; size == 0 and
// offset == sentinelOffset denotes an available (recyclable) slot. Nodes
// are addressed by index into the pool rather than by pointer, avoiding
// any ownership cycle in the chain.
type flNode struct {
	offset uint64
	size   uint64
	next   int32
}

const (
	noIndex        int32  = -1
	sentinelOffset uint64 = math.MaxUint64

	// minNodeEntries is the floor below which the pool density formula is
	// overridden; a tiny capacity would otherwise round down to zero usable
	// nodes.
	minNodeEntries uint64 = 8
)

// Freelist tracks free byte intervals within a fixed address range
// [0, capacity). It is a first-fit allocator over ascending, non-overlapping
// free gaps; adjacent gaps are coalesced on free so the chain never holds
// two touching free intervals.
//
// Freelist is not internally synchronized; its single concurrent caller
// (the dynamic allocator, itself called only under the global allocator's
// mutex) is responsible for serializing access.
type Freelist struct {
	nodes      []flNode
	totalSize  uint64
	maxEntries uint64
	head       int32
}

// nodeSize is the size in bytes of one freelist node pool slot.
var nodeSize = uint64(unsafe.Sizeof(flNode{}))

// nodePoolDensity picks the node-pool-entries-per-byte ratio: roughly one
// node per log2(capacity) x 8 bytes of managed capacity.
func nodePoolDensity(capacity uint64) uint64 {
	lb := bits.Len64(capacity)
	if lb < 1 {
		lb = 1
	}

	return uint64(lb) * 8
}

// FreelistMemoryRequirement returns the number of bytes a Freelist managing
// capacity bytes needs for its node pool. It does not include the capacity
// itself, which the freelist tracks only as offsets, not real storage.
func FreelistMemoryRequirement(capacity uint64) (uint64, bool) {
	if capacity == 0 {
		return 0, false
	}

	entries := capacity / nodePoolDensity(capacity)
	if entries < minNodeEntries {
		log.Printf("freelist: capacity %d forces an atypically small node pool (%d entries)", capacity, minNodeEntries)

		entries = minNodeEntries
	}

	return entries * nodeSize, true
}

// NewFreelist initializes a Freelist managing capacity bytes using buffer
// for its node pool storage. buffer must be at least
// FreelistMemoryRequirement(capacity) bytes.
func NewFreelist(capacity uint64, buffer []byte) (*Freelist, bool) {
	if capacity == 0 {
		log.Print(orizonerrors.InvalidSize(capacity, "NewFreelist").Error())

		return nil, false
	}

	if buffer == nil {
		log.Print(orizonerrors.NullPointer("NewFreelist").Error())

		return nil, false
	}

	required, _ := FreelistMemoryRequirement(capacity)
	if uint64(len(buffer)) < required {
		log.Print(orizonerrors.InvalidSize(uint64(len(buffer)), "NewFreelist: buffer too small").Error())

		return nil, false
	}

	entries := required / nodeSize
	nodes := unsafe.Slice((*flNode)(unsafe.Pointer(&buffer[0])), entries)

	fl := &Freelist{
		nodes:      nodes,
		totalSize:  capacity,
		maxEntries: entries,
	}
	fl.Clear()

	return fl, true
}

// resetNodes marks every pool slot as available.
func (f *Freelist) resetNodes() {
	for i := range f.nodes {
		f.nodes[i] = flNode{offset: sentinelOffset, size: 0, next: noIndex}
	}
}

// acquireNode returns the index of a free pool slot, or noIndex if the pool
// is exhausted.
func (f *Freelist) acquireNode() int32 {
	for i := range f.nodes {
		if f.nodes[i].size == 0 && f.nodes[i].offset == sentinelOffset {
			return int32(i)
		}
	}

	return noIndex
}

func (f *Freelist) releaseNode(idx int32) {
	f.nodes[idx] = flNode{offset: sentinelOffset, size: 0, next: noIndex}
}

// Clear resets the freelist to a single free interval spanning the whole
// managed capacity.
func (f *Freelist) Clear() {
	f.resetNodes()

	idx := f.acquireNode()
	if idx == noIndex {
		// maxEntries is always >= minNodeEntries >= 1, so this cannot happen.
		log.Print(orizonerrors.InvariantViolation("freelist.Clear: empty node pool").Error())

		return
	}

	f.nodes[idx] = flNode{offset: 0, size: f.totalSize, next: noIndex}
	f.head = idx
}

// QueryFree returns the sum of all free bytes currently tracked. O(n) in
// the number of live free intervals; intended for diagnostics, not the hot
// path.
func (f *Freelist) QueryFree() uint64 {
	var total uint64

	for idx := f.head; idx != noIndex; idx = f.nodes[idx].next {
		total += f.nodes[idx].size
	}

	return total
}

// Allocate reserves the first size-byte interval found by a first-fit walk
// of the free chain and returns its offset. It returns ok=false, leaving
// state unchanged, if no single free gap is large enough.
func (f *Freelist) Allocate(size uint64) (offset uint64, ok bool) {
	if size == 0 {
		log.Print(orizonerrors.InvalidSize(size, "Freelist.Allocate").Error())

		return 0, false
	}

	var prev int32 = noIndex

	for idx := f.head; idx != noIndex; idx = f.nodes[idx].next {
		node := &f.nodes[idx]

		if node.size < size {
			prev = idx

			continue
		}

		offset = node.offset

		switch {
		case node.size == size:
			next := node.next

			f.releaseNode(idx)

			if prev == noIndex {
				f.head = next
			} else {
				f.nodes[prev].next = next
			}
		default:
			node.offset += size
			node.size -= size
		}

		return offset, true
	}

	log.Print(orizonerrors.Exhausted(size, "Freelist.Allocate").Error())

	return 0, false
}

// Free returns the [offset, offset+size) interval to the free chain,
// coalescing with any contiguous neighboring free intervals. It fails,
// without mutating state, if the interval lies outside the managed
// capacity or overlaps an interval that is already free (a double free or
// a caller/offset mismatch).
func (f *Freelist) Free(size, offset uint64) bool {
	if size == 0 {
		log.Print(orizonerrors.InvalidSize(size, "Freelist.Free").Error())

		return false
	}

	if offset >= f.totalSize || size > f.totalSize-offset {
		log.Print(orizonerrors.DoubleFree("Freelist.Free: offset out of range").Error())

		return false
	}

	var prev int32 = noIndex

	next := f.head

	for next != noIndex && f.nodes[next].offset < offset {
		prev = next
		next = f.nodes[next].next
	}

	if prev != noIndex && f.nodes[prev].offset+f.nodes[prev].size > offset {
		log.Print(orizonerrors.DoubleFree("Freelist.Free: overlaps a free interval").Error())

		return false
	}

	if next != noIndex && offset+size > f.nodes[next].offset {
		log.Print(orizonerrors.DoubleFree("Freelist.Free: overlaps a free interval").Error())

		return false
	}

	mergeLeft := prev != noIndex && f.nodes[prev].offset+f.nodes[prev].size == offset
	mergeRight := next != noIndex && offset+size == f.nodes[next].offset

	switch {
	case mergeLeft && mergeRight:
		f.nodes[prev].size += size + f.nodes[next].size
		f.nodes[prev].next = f.nodes[next].next
		f.releaseNode(next)
	case mergeLeft:
		f.nodes[prev].size += size
	case mergeRight:
		f.nodes[next].offset = offset
		f.nodes[next].size += size
	default:
		idx := f.acquireNode()
		if idx == noIndex {
			log.Print(orizonerrors.Exhausted(size, "Freelist.Free: node pool exhausted").Error())

			return false
		}

		f.nodes[idx] = flNode{offset: offset, size: size, next: next}
		if prev == noIndex {
			f.head = idx
		} else {
			f.nodes[prev].next = idx
		}
	}

	return true
}

// Capacity returns the total address space this freelist manages.
func (f *Freelist) Capacity() uint64 {
	return f.totalSize
}

// NodeCapacity returns the size of the node pool, for tests and sizing.
func (f *Freelist) NodeCapacity() uint64 {
	return f.maxEntries
}
