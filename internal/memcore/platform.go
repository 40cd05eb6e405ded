package memcore

import "unsafe"

// HostAllocate obtains a single contiguous byte region from the host. It
// is the only host primitive capable of failing; callers should treat a
// nil result as a platform failure, not exhaustion.
//
// Platform-specific implementations live in platform_unix.go (mmap-backed)
// and platform_other.go (Go-heap-backed fallback).
var hostAllocate = defaultHostAllocate

// HostFree releases a region obtained from HostAllocate.
var hostFree = defaultHostFree

// HostAllocate is the package-level entry point used by the tracked global
// allocator to obtain its one backing slab.
func HostAllocate(n uint64) ([]byte, bool) {
	return hostAllocate(n)
}

// HostFree releases buf, which must have come from HostAllocate.
func HostFree(buf []byte) {
	hostFree(buf)
}

// HostMemset fills n bytes starting at dst with v.
func HostMemset(dst unsafe.Pointer, v byte, n uint64) {
	if n == 0 {
		return
	}

	s := unsafe.Slice((*byte)(dst), n)
	for i := range s {
		s[i] = v
	}
}

// HostMemclear zeroes n bytes starting at dst.
func HostMemclear(dst unsafe.Pointer, n uint64) {
	HostMemset(dst, 0, n)
}

// HostMemcpy copies n bytes from src to dst. The regions must not overlap.
func HostMemcpy(dst, src unsafe.Pointer, n uint64) {
	if n == 0 {
		return
	}

	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}

// HostMemmove copies n bytes from src to dst; unlike HostMemcpy, the
// regions may overlap. Go's builtin copy() already has move semantics (it
// is specified to work correctly even when src and dst share storage), so
// this is HostMemcpy's implementation, not a call to it, to keep the
// overlap-safety guarantee visible at the definition rather than implied
// by a shared helper.
func HostMemmove(dst, src unsafe.Pointer, n uint64) {
	if n == 0 {
		return
	}

	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}

// HostMemcmp reports whether the n bytes starting at a and b are equal.
func HostMemcmp(a, b unsafe.Pointer, n uint64) bool {
	if n == 0 {
		return true
	}

	as := unsafe.Slice((*byte)(a), n)
	bs := unsafe.Slice((*byte)(b), n)

	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}

	return true
}
