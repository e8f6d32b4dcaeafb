package rawalloc

import (
	"sync"
	"unsafe"

	"github.com/heaptrace/heaptrace/internal/header"
)

// Arena is a bump allocator over a single anonymously mapped region,
// obtained via the platform mmap/VirtualAlloc shim so the memory is
// invisible to the Go garbage collector and to this tracer's own
// instrumentation: exactly the property temporary chunks and dictionary
// backing storage need, per spec.md section 4.D ("must not itself allocate
// through the tracer").
type Arena struct {
	mu      sync.Mutex
	region  []byte
	offset  uintptr
	mapped  bool
	allocs  uint64
	peakUse uintptr
}

// NewArena maps a region of the given size. The kernel maps whole pages,
// but the arena hands out only the first size bytes.
func NewArena(size uintptr) (*Arena, error) {
	region, err := mapAnonymous(size)
	if err != nil {
		return nil, err
	}

	return &Arena{region: region, mapped: true}, nil
}

// Alloc bump-allocates size bytes, 8-byte aligned. Returns nil when the
// arena is exhausted.
func (ar *Arena) Alloc(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	ar.mu.Lock()
	defer ar.mu.Unlock()

	aligned := (ar.offset + 7) &^ 7
	if aligned+size > uintptr(len(ar.region)) {
		return nil
	}

	ptr := unsafe.Pointer(&ar.region[aligned])
	ar.offset = aligned + size
	ar.allocs++

	if ar.offset > ar.peakUse {
		ar.peakUse = ar.offset
	}

	return ptr
}

// Reset rewinds the arena to empty without unmapping it.
func (ar *Arena) Reset() {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	ar.offset = 0
}

// Used returns the number of bytes currently bump-allocated.
func (ar *Arena) Used() uintptr {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	return ar.offset
}

// Close unmaps the arena's backing region. The arena must not be used afterward.
func (ar *Arena) Close() error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	if !ar.mapped {
		return nil
	}

	ar.mapped = false

	return unmap(ar.region)
}

// ArenaBackedAllocator wraps an Arena as an Allocator, falling back to reporting
// allocator failure (never panicking) when the arena is exhausted, per
// spec.md section 7's "underlying allocator failure" policy.
type ArenaBackedAllocator struct {
	arena *Arena
}

// NewArenaBackedAllocator adapts an Arena to the Allocator interface.
func NewArenaBackedAllocator(size uintptr) (*ArenaBackedAllocator, error) {
	ar, err := NewArena(size)
	if err != nil {
		return nil, err
	}

	return &ArenaBackedAllocator{arena: ar}, nil
}

func (a *ArenaBackedAllocator) Alloc(size uintptr) unsafe.Pointer { return a.arena.Alloc(size) }

// Free is a no-op: arenas reclaim in bulk via Reset, matching spec.md's
// note that the raw allocator's Free may be trivial for arena-backed hosts.
func (a *ArenaBackedAllocator) Free(ptr unsafe.Pointer) {}

func (a *ArenaBackedAllocator) Realloc(ptr unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	return a.arena.Alloc(newSize)
}

// AllocAligned aligns from raw+HeaderSize+AlignedHeaderSize, not raw, for
// the same reason as SystemAllocator.AllocAligned above.
func (a *ArenaBackedAllocator) AllocAligned(size, align uintptr) unsafe.Pointer {
	if align == 0 || align&(align-1) != 0 {
		return nil
	}

	raw := a.arena.Alloc(size + align)
	if raw == nil {
		return nil
	}

	base := uintptr(raw) + header.HeaderSize + header.AlignedHeaderSize
	addr := (base + align - 1) &^ (align - 1)

	return unsafe.Pointer(addr)
}

func (a *ArenaBackedAllocator) FreeAligned(ptr unsafe.Pointer) {}

func (a *ArenaBackedAllocator) Stats() Stats {
	used := a.arena.Used()

	return Stats{TotalAllocated: used, ActiveBytes: used}
}
