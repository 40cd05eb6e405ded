//go:build unix

package memcore

import (
	"log"

	"golang.org/x/sys/unix"

	orizonerrors "github.com/orizon-lang/memcore/internal/errors"
)

// defaultHostAllocate obtains the slab via an anonymous, private mmap
// rather than the Go heap, so the allocator's whole backing region is a
// single real syscall-backed mapping.
func defaultHostAllocate(n uint64) ([]byte, bool) {
	if n == 0 {
		return nil, false
	}

	buf, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		log.Print(orizonerrors.PlatformFailure("HostAllocate: mmap").Error())

		return nil, false
	}

	return buf, true
}

func defaultHostFree(buf []byte) {
	if buf == nil {
		return
	}

	if err := unix.Munmap(buf); err != nil {
		log.Print(orizonerrors.PlatformFailure("HostFree: munmap").Error())
	}
}
