package memory

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// withFreshSingleton resets the package-level state around t so tests can
// run in any order without leaking an earlier test's Startup.
func withFreshSingleton(t *testing.T) {
	t.Helper()

	mu.Lock()
	st = stateUninit
	hub = nil
	mu.Unlock()

	t.Cleanup(func() {
		Shutdown()
	})
}

func TestStartupMovesToReady(t *testing.T) {
	withFreshSingleton(t)

	require.True(t, Startup(1<<16))

	mu.Lock()
	got := st
	mu.Unlock()

	require.Equal(t, stateReady, got)
}

func TestStartupTwiceFails(t *testing.T) {
	withFreshSingleton(t)

	require.True(t, Startup(1<<16))
	require.False(t, Startup(1<<16), "a second Startup before Shutdown must fail")
}

func TestShutdownBeforeStartupIsNoop(t *testing.T) {
	withFreshSingleton(t)

	Shutdown()

	mu.Lock()
	got := st
	mu.Unlock()

	require.Equal(t, stateUninit, got)
}

func TestAllocateFreeRoundTripWhileReady(t *testing.T) {
	withFreshSingleton(t)

	require.True(t, Startup(1<<16))

	ptr, ok := Allocate(128, TagArray)
	require.True(t, ok)
	require.NotNil(t, ptr)

	require.Equal(t, uint64(1), AllocationCount())
	require.True(t, Free(ptr, 128, TagArray))
	require.Equal(t, uint64(1), FreeCount())
}

func TestAllocateFallsBackOutsideReady(t *testing.T) {
	withFreshSingleton(t)

	// No Startup call: the package is in UNINIT.
	ptr, ok := Allocate(64, TagApplication)
	require.True(t, ok, "the fallback path must still satisfy the request")
	require.NotNil(t, ptr)

	// The fallback path is untracked.
	require.Equal(t, uint64(0), AllocationCount())

	require.True(t, Free(ptr, 64, TagApplication), "Free outside READY is a no-op that still reports success")
}

func TestAllocateAlignedFallbackHonorsAlignment(t *testing.T) {
	withFreshSingleton(t)

	ptr, ok := AllocateAligned(32, 64, TagApplication)
	require.True(t, ok)
	require.Equal(t, uintptr(0), uintptr(ptr)%64)
}

func TestStatAfterShutdownReportsUninitialized(t *testing.T) {
	withFreshSingleton(t)

	require.True(t, Startup(1<<16))
	Shutdown()

	require.Contains(t, Stat(), "uninitialized")
}

func TestByteHelpersWorkRegardlessOfState(t *testing.T) {
	withFreshSingleton(t)

	var a, b [16]byte

	Set(unsafe.Pointer(&a[0]), 0x7F, 16)
	Copy(unsafe.Pointer(&b[0]), unsafe.Pointer(&a[0]), 16)

	require.True(t, Equal(unsafe.Pointer(&a[0]), unsafe.Pointer(&b[0]), 16))

	Clear(unsafe.Pointer(&b[0]), 16)
	require.False(t, Equal(unsafe.Pointer(&a[0]), unsafe.Pointer(&b[0]), 16))
}

func TestConcurrentAllocateFreeWhileReady(t *testing.T) {
	withFreshSingleton(t)

	require.True(t, Startup(1<<20))

	const goroutines = 8
	const cycles = 100

	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)

		go func(seed int) {
			defer wg.Done()

			for c := 0; c < cycles; c++ {
				size := uint64(8 + (seed+c)%32)

				ptr, ok := Allocate(size, TagHashtable)
				if !ok {
					continue
				}

				Free(ptr, size, TagHashtable)
			}
		}(i)
	}

	wg.Wait()

	require.Equal(t, AllocationCount(), FreeCount())
}
