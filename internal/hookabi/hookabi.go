// Package hookabi defines the interface the allocation-interception glue
// (operator-new overrides, CRT hooks) is expected to implement against. It
// is deliberately out of the tracer's core: the core only ever calls
// through to a Hooks implementation for the actual memory.
package hookabi

import "unsafe"

// Hooks supplies the raw allocation primitives the core's alloc/free entry
// points wrap with tracing. A real deployment's glue layer calls into the
// core's alloc/free, which call back out to Hooks for the actual memory;
// Go programs cannot override their own runtime allocator, so the host in
// this repository (cmd/heaptrace) stands in for that glue layer directly.
type Hooks interface {
	OnAlloc(userSize uintptr) unsafe.Pointer
	OnFree(ptr unsafe.Pointer)
	OnRealloc(ptr unsafe.Pointer, newSize uintptr) unsafe.Pointer
}
