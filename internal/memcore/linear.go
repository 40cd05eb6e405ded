package memcore

import (
	"log"
	"unsafe"

	orizonerrors "github.com/orizon-lang/memcore/internal/errors"
)

// LinearConfig configures a Linear allocator via functional options.
type LinearConfig struct {
	zeroOnFree bool
}

// LinearOption configures a Linear allocator at construction time.
type LinearOption func(*LinearConfig)

// WithZeroOnFree makes Free() zero the bytes below the watermark as it
// resets it, so memory handed out before the reset is zeroed before it can
// be handed out again. Bytes above the watermark are not touched.
func WithZeroOnFree(enabled bool) LinearOption {
	return func(c *LinearConfig) { c.zeroOnFree = enabled }
}

// Linear is a bump allocator: Allocate advances a watermark and never
// reclaims individual allocations; Free resets the watermark to zero,
// reclaiming the whole arena at once. It has no per-allocation metadata
// and, like Freelist and DynamicAllocator, is not internally synchronized.
type Linear struct {
	buffer     []byte
	offset     uint64
	allocated  int
	ownsBuf    bool
	zeroOnFree bool
}

// NewLinear creates a Linear allocator owning a freshly allocated
// capacity-byte buffer.
func NewLinear(capacity uint64, opts ...LinearOption) (*Linear, bool) {
	if capacity == 0 {
		log.Print(orizonerrors.InvalidSize(capacity, "NewLinear").Error())

		return nil, false
	}

	cfg := &LinearConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Linear{buffer: make([]byte, capacity), ownsBuf: true, zeroOnFree: cfg.zeroOnFree}, true
}

// NewLinearWithBuffer creates a Linear allocator over a caller-supplied
// buffer; Destroy will not release it.
func NewLinearWithBuffer(buffer []byte, opts ...LinearOption) (*Linear, bool) {
	if buffer == nil {
		log.Print(orizonerrors.NullPointer("NewLinearWithBuffer").Error())

		return nil, false
	}

	cfg := &LinearConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Linear{buffer: buffer, ownsBuf: false, zeroOnFree: cfg.zeroOnFree}, true
}

// Allocate advances the watermark by n bytes and returns a pointer to the
// reserved region, or nil if the arena has no room left.
func (l *Linear) Allocate(n uint64) (unsafe.Pointer, bool) {
	if n == 0 {
		log.Print(orizonerrors.InvalidSize(n, "Linear.Allocate").Error())

		return nil, false
	}

	if l.offset+n > uint64(len(l.buffer)) {
		log.Print(orizonerrors.Exhausted(n, "Linear.Allocate").Error())

		return nil, false
	}

	ptr := unsafe.Pointer(&l.buffer[l.offset])
	l.offset += n
	l.allocated++

	return ptr, true
}

// Free resets the watermark to zero, reclaiming the whole arena. It zeroes
// the underlying bytes only if the allocator was built with
// WithZeroOnFree(true).
func (l *Linear) Free() {
	if l.zeroOnFree {
		for i := range l.buffer[:l.offset] {
			l.buffer[i] = 0
		}
	}

	l.offset = 0
	l.allocated = 0
}

// Destroy releases the backing buffer if NewLinear allocated it. It is a
// no-op for allocators constructed over a caller-supplied buffer.
func (l *Linear) Destroy() {
	if l.ownsBuf {
		l.buffer = nil
	}
}

// Allocated returns the number of bytes currently reserved.
func (l *Linear) Allocated() uint64 {
	return l.offset
}

// Capacity returns the total size of the arena.
func (l *Linear) Capacity() uint64 {
	return uint64(len(l.buffer))
}
