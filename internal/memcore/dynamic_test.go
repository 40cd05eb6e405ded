package memcore

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func newTestDynamicAllocator(t *testing.T, capacity uint64) *DynamicAllocator {
	t.Helper()

	required, ok := DynamicAllocatorMemoryRequirement(capacity)
	require.True(t, ok)

	d, ok := NewDynamicAllocator(capacity, make([]byte, required))
	require.True(t, ok)

	return d
}

func TestDynamicAllocateReturnsUsableRegion(t *testing.T) {
	d := newTestDynamicAllocator(t, 4096)

	ptr, ok := d.Allocate(64)
	require.True(t, ok)
	require.NotNil(t, ptr)

	s := unsafe.Slice((*byte)(ptr), 64)
	for i := range s {
		s[i] = byte(i)
	}

	for i := range s {
		require.Equal(t, byte(i), s[i])
	}
}

func TestDynamicSizeAlignmentRoundTrips(t *testing.T) {
	d := newTestDynamicAllocator(t, 4096)

	for _, align := range []uint16{8, 16, 32, 64, 128} {
		ptr, ok := d.AllocateAligned(40, align)
		require.True(t, ok, "align=%d", align)

		require.Equal(t, uintptr(0), uintptr(ptr)%uintptr(align), "returned pointer must satisfy the requested alignment")

		size, gotAlign, ok := d.SizeAlignment(ptr)
		require.True(t, ok)
		require.Equal(t, uint64(40), size)
		require.Equal(t, align, gotAlign)

		require.True(t, d.FreeAligned(ptr))
	}
}

func TestDynamicFreeThenSameSizeAllocateReusesSpace(t *testing.T) {
	d := newTestDynamicAllocator(t, 512)

	freeBefore := d.QueryFree()

	ptr, ok := d.Allocate(64)
	require.True(t, ok)
	require.True(t, d.Free(ptr))

	require.Equal(t, freeBefore, d.QueryFree(), "free must return exactly what allocate reserved")

	again, ok := d.Allocate(64)
	require.True(t, ok)
	require.Equal(t, ptr, again, "a same-size allocate after free must reuse the freed block")
}

func TestDynamicAllocateAlignedRejectsNonPowerOfTwo(t *testing.T) {
	d := newTestDynamicAllocator(t, 512)

	_, ok := d.AllocateAligned(16, 3)
	require.False(t, ok)
}

func TestDynamicAllocateAlignedRejectsTooLargeAlignment(t *testing.T) {
	d := newTestDynamicAllocator(t, 512)

	_, ok := d.AllocateAligned(16, 256)
	require.False(t, ok)
}

func TestDynamicFreeRejectsForeignPointer(t *testing.T) {
	d := newTestDynamicAllocator(t, 512)

	var foreign byte

	require.False(t, d.Free(unsafe.Pointer(&foreign)))
}

func TestDynamicFreeRejectsDoubleFree(t *testing.T) {
	d := newTestDynamicAllocator(t, 512)

	ptr, ok := d.Allocate(32)
	require.True(t, ok)
	require.True(t, d.Free(ptr))
	require.False(t, d.Free(ptr))
}

func TestDynamicManyAllocationsConserveCapacity(t *testing.T) {
	d := newTestDynamicAllocator(t, 16*1024)

	freeAtStart := d.QueryFree()

	var ptrs []unsafe.Pointer

	for i := 0; i < 64; i++ {
		ptr, ok := d.Allocate(uint64(8 + i))
		require.True(t, ok)
		ptrs = append(ptrs, ptr)
	}

	for _, ptr := range ptrs {
		require.True(t, d.Free(ptr))
	}

	require.Equal(t, freeAtStart, d.QueryFree())
}
