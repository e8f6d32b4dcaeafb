//go:build windows

package rawalloc

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/heaptrace/heaptrace/internal/errors"
)

// mapAnonymous reserves and commits a private region via VirtualAlloc, the
// Windows counterpart to the unix mmap path in mmap_unix.go.
func mapAnonymous(size uintptr) ([]byte, error) {
	if size == 0 {
		return nil, errors.AllocatorFailed(0)
	}

	addr, err := windows.VirtualAlloc(0, size, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, errors.AllocatorFailed(size)
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func unmap(region []byte) error {
	if len(region) == 0 {
		return nil
	}

	addr := uintptr(unsafe.Pointer(&region[0]))

	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}
