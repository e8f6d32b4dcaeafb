//go:build unix

package rawalloc

import (
	"golang.org/x/sys/unix"

	"github.com/heaptrace/heaptrace/internal/errors"
)

// mapAnonymous reserves a private, anonymous region the size of at least
// size bytes. The kernel rounds up to a whole number of pages; the region
// is zero-filled and never touches the tracked heap, so arena-backed
// temporary chunks and dictionaries never recursively trigger the hooks
// they themselves exist to serve.
func mapAnonymous(size uintptr) ([]byte, error) {
	if size == 0 {
		return nil, errors.AllocatorFailed(0)
	}

	region, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.AllocatorFailed(size)
	}

	return region, nil
}

func unmap(region []byte) error {
	if len(region) == 0 {
		return nil
	}

	return unix.Munmap(region)
}
