// Package header implements the allocation header placed immediately
// before every pointer the tracer hands back to a host, per spec.md
// section 4.H: a 16-byte Header carrying the stack hash and size, and for
// aligned allocations an extra preceding word holding the raw allocator
// base pointer.
package header

import "unsafe"

// alignedFlag occupies the top bit of the packed size word, leaving 63
// bits for size as spec.md section 3 requires.
const alignedFlag = uint64(1) << 63

// Header is the 16-byte record read back by free/realloc to recover the
// stack hash and size without a dictionary lookup.
type Header struct {
	Hash        uint64
	sizeAligned uint64
}

// HeaderSize is the number of bytes the header occupies, and the offset
// from the user pointer at which it is placed.
const HeaderSize = unsafe.Sizeof(Header{})

// AlignedHeaderSize is the size of the extra word stored ahead of the
// header for aligned allocations, holding the raw allocator base pointer.
const AlignedHeaderSize = unsafe.Sizeof(uintptr(0))

// Pack builds a Header from its logical fields.
func Pack(hash uint64, size uintptr, aligned bool) Header {
	v := uint64(size) &^ alignedFlag
	if aligned {
		v |= alignedFlag
	}

	return Header{Hash: hash, sizeAligned: v}
}

// Size returns the user-requested size recorded in the header.
func (h Header) Size() uintptr {
	return uintptr(h.sizeAligned &^ alignedFlag)
}

// Aligned reports whether this header describes an aligned allocation.
func (h Header) Aligned() bool {
	return h.sizeAligned&alignedFlag != 0
}

// WriteAt places h in the HeaderSize bytes immediately preceding userPtr.
func WriteAt(userPtr unsafe.Pointer, h Header) {
	hp := (*Header)(unsafe.Pointer(uintptr(userPtr) - HeaderSize))
	*hp = h
}

// ReadAt recovers the header immediately preceding userPtr.
func ReadAt(userPtr unsafe.Pointer) Header {
	hp := (*Header)(unsafe.Pointer(uintptr(userPtr) - HeaderSize))
	return *hp
}

// WriteRawBase stores the raw allocator base pointer in the word that
// precedes an aligned allocation's header.
func WriteRawBase(userPtr unsafe.Pointer, raw unsafe.Pointer) {
	rp := (*unsafe.Pointer)(unsafe.Pointer(uintptr(userPtr) - HeaderSize - AlignedHeaderSize))
	*rp = raw
}

// ReadRawBase recovers the raw allocator base pointer preceding an aligned
// allocation's header.
func ReadRawBase(userPtr unsafe.Pointer) unsafe.Pointer {
	rp := (*unsafe.Pointer)(unsafe.Pointer(uintptr(userPtr) - HeaderSize - AlignedHeaderSize))
	return *rp
}
