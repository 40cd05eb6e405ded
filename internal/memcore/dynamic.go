package memcore

import (
	"encoding/binary"
	"log"
	"unsafe"

	orizonerrors "github.com/orizon-lang/memcore/internal/errors"
)

// headerSize is the on-disk size of a block header: an 8-byte total size
// and a 2-byte alignment, written with a fixed little-endian encoding
// rather than an unsafe struct cast, since a header's address is not
// generally word-aligned (it sits directly before a user pointer that is
// aligned to the caller's request, not Go's).
const headerSize = 10

// maxBlockAlignment is the largest alignment this allocator supports. The
// single byte stored immediately before every header records the leading
// padding length, which is at most maxBlockAlignment; values beyond this
// would not fit in that byte.
const maxBlockAlignment = 128

// defaultAlignment is used by Allocate, which has no caller-specified
// alignment.
const defaultAlignment = 8

// DynamicAllocator layers per-block headers and alignment handling over a
// Freelist, turning freelist offsets into user-facing pointers. A block on
// disk is laid out as [leading padding][1-byte padding length][header]
// [user payload]; free(ptr) walks backwards from ptr to recover the
// freelist offset and size without any side table.
//
// DynamicAllocator is not internally synchronized; see Freelist.
type DynamicAllocator struct {
	freelist *Freelist
	data     []byte
}

// DynamicAllocatorMemoryRequirement returns the number of bytes a
// DynamicAllocator managing capacity user-visible bytes needs in total:
// freelist bookkeeping overhead plus the capacity itself.
func DynamicAllocatorMemoryRequirement(capacity uint64) (uint64, bool) {
	if capacity == 0 {
		return 0, false
	}

	flOverhead, ok := FreelistMemoryRequirement(capacity)
	if !ok {
		return 0, false
	}

	return flOverhead + capacity, true
}

// NewDynamicAllocator initializes a DynamicAllocator managing capacity
// bytes using buffer for both freelist bookkeeping and the backing data
// region.
func NewDynamicAllocator(capacity uint64, buffer []byte) (*DynamicAllocator, bool) {
	if capacity == 0 {
		log.Print(orizonerrors.InvalidSize(capacity, "NewDynamicAllocator").Error())

		return nil, false
	}

	if buffer == nil {
		log.Print(orizonerrors.NullPointer("NewDynamicAllocator").Error())

		return nil, false
	}

	required, _ := DynamicAllocatorMemoryRequirement(capacity)
	if uint64(len(buffer)) < required {
		log.Print(orizonerrors.InvalidSize(uint64(len(buffer)), "NewDynamicAllocator: buffer too small").Error())

		return nil, false
	}

	flOverhead, _ := FreelistMemoryRequirement(capacity)

	fl, ok := NewFreelist(capacity, buffer[:flOverhead])
	if !ok {
		return nil, false
	}

	return &DynamicAllocator{
		freelist: fl,
		data:     buffer[flOverhead : flOverhead+capacity],
	}, true
}

func isPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

// HeaderSize returns the constant on-disk header size, for tests and
// sizing.
func HeaderSize() uint64 {
	return headerSize
}

// Allocate reserves size zero-able bytes at the default alignment. The
// caller is responsible for zeroing the returned region; this layer only
// arranges the block, matching the tracked global allocator's contract of
// zeroing on the caller's behalf.
func (d *DynamicAllocator) Allocate(size uint64) (unsafe.Pointer, bool) {
	return d.AllocateAligned(size, defaultAlignment)
}

// AllocateAligned reserves size bytes aligned to align, which must be a
// power of two no larger than maxBlockAlignment.
func (d *DynamicAllocator) AllocateAligned(size uint64, align uint16) (unsafe.Pointer, bool) {
	if size == 0 {
		log.Print(orizonerrors.InvalidSize(size, "DynamicAllocator.AllocateAligned").Error())

		return nil, false
	}

	if align == 0 || uint64(align) > maxBlockAlignment || !isPowerOfTwo(uint64(align)) {
		log.Print(orizonerrors.InvalidAlignment(align, "DynamicAllocator.AllocateAligned").Error())

		return nil, false
	}

	total := size + headerSize + uint64(align)

	blockOffset, ok := d.freelist.Allocate(total)
	if !ok {
		log.Print(orizonerrors.Exhausted(total, "DynamicAllocator.AllocateAligned").Error())

		return nil, false
	}

	// Align the real pointer address, not the relative freelist offset: the
	// data region's absolute base is not generally aligned to align (it
	// sits flOverhead bytes into the backing slab, and flOverhead is not a
	// multiple of every supported alignment), so aligning blockOffset alone
	// would leave the returned pointer off by the base's residue mod align.
	base := uintptr(unsafe.Pointer(&d.data[0]))
	reservedAddr := uint64(base) + blockOffset + 1 + headerSize
	alignedHeaderEnd := alignUp(reservedAddr, uint64(align))
	headerPos := alignedHeaderEnd - uint64(base) - headerSize
	padding := headerPos - blockOffset

	if padding == 0 || padding > 255 {
		// Unreachable given align <= maxBlockAlignment, kept as a hard
		// invariant check rather than silently corrupting the block.
		log.Print(orizonerrors.InvariantViolation("DynamicAllocator.AllocateAligned: padding does not fit a byte").Error())
		d.freelist.Free(total, blockOffset)

		return nil, false
	}

	d.data[headerPos-1] = byte(padding)
	writeHeader(d.data[headerPos:headerPos+headerSize], total, align)

	userPos := headerPos + headerSize

	return unsafe.Pointer(&d.data[userPos]), true
}

// Free releases the block whose user pointer is ptr. It fails, without
// touching the freelist, if ptr is nil or outside the data region, if the
// header before it does not decode to a plausible block size, or if the
// recovered interval overlaps free space (as on a double free). Other
// pointers into the data region that this allocator did not return are not
// detected.
func (d *DynamicAllocator) Free(ptr unsafe.Pointer) bool {
	return d.FreeAligned(ptr)
}

// FreeAligned is an alias for Free; the dynamic allocator recovers
// alignment from the header, so aligned and unaligned frees are identical.
func (d *DynamicAllocator) FreeAligned(ptr unsafe.Pointer) bool {
	headerPos, total, _, ok := d.locate(ptr)
	if !ok {
		log.Print(orizonerrors.DoubleFree("DynamicAllocator.FreeAligned").Error())

		return false
	}

	padding := uint64(d.data[headerPos-1])
	blockOffset := headerPos - padding

	return d.freelist.Free(total, blockOffset)
}

// SizeAlignment recovers the original requested size and alignment for a
// pointer previously returned by AllocateAligned.
func (d *DynamicAllocator) SizeAlignment(ptr unsafe.Pointer) (size uint64, alignment uint16, ok bool) {
	_, total, align, ok := d.locate(ptr)
	if !ok {
		log.Print(orizonerrors.NullPointer("DynamicAllocator.SizeAlignment").Error())

		return 0, 0, false
	}

	return total - headerSize - uint64(align), align, true
}

// locate validates that ptr lies within this allocator's data region and
// returns its header position plus the decoded header fields.
func (d *DynamicAllocator) locate(ptr unsafe.Pointer) (headerPos, total uint64, align uint16, ok bool) {
	if ptr == nil || len(d.data) == 0 {
		return 0, 0, 0, false
	}

	base := uintptr(unsafe.Pointer(&d.data[0]))
	end := base + uintptr(len(d.data))
	p := uintptr(ptr)

	if p < base+headerSize+1 || p > end {
		return 0, 0, 0, false
	}

	userPos := uint64(p - base)
	headerPos = userPos - headerSize

	total, align = readHeader(d.data[headerPos : headerPos+headerSize])
	if total == 0 || total > d.freelist.Capacity() {
		return 0, 0, 0, false
	}

	return headerPos, total, align, true
}

// QueryFree returns the bytes free in the underlying freelist, for
// diagnostics.
func (d *DynamicAllocator) QueryFree() uint64 {
	return d.freelist.QueryFree()
}

func writeHeader(dst []byte, total uint64, align uint16) {
	binary.LittleEndian.PutUint64(dst[0:8], total)
	binary.LittleEndian.PutUint16(dst[8:10], align)
}

func readHeader(src []byte) (total uint64, align uint16) {
	total = binary.LittleEndian.Uint64(src[0:8])
	align = binary.LittleEndian.Uint16(src[8:10])

	return total, align
}

// alignUp rounds size up to the nearest multiple of alignment, which must
// be a power of two.
func alignUp(size, alignment uint64) uint64 {
	return (size + alignment - 1) &^ (alignment - 1)
}
