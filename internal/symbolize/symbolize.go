// Package symbolize defines the platform stack walker and symbolizer the
// aggregation engine depends on, and provides a default implementation
// backed by the Go runtime's own stack-walking facilities. This is
// deliberately a thin collaborator interface: the spec treats the real
// walker/symbolizer as external glue the core only consumes through
// CaptureStack/Resolve.
package symbolize

import (
	"hash/fnv"
	"runtime"
)

// Truncated is the canonical name attributed to a frame that could not be
// resolved, or to the first frame of a stack that was cut off at MaxStack.
const Truncated = "Truncated"

// TruncatedSentinel marks the first frame slot of a truncated capture, per
// spec.md section 4.C.
const TruncatedSentinel = ^uintptr(0)

// Walker captures the return-address sequence of the calling goroutine's
// stack, skipping the innermost skip frames, into out (capped at len(out)).
// It returns the number of frames captured and a hash that is deterministic
// on the exact frame sequence.
type Walker interface {
	CaptureStack(skip int, out []uintptr) (count int, hash uint64)
}

// Resolver resolves a single return address to a canonical function name
// and a "module base" address: the address that multiple call sites inside
// the same function all resolve to, so the aggregation engine's
// canonicalization (spec.md section 4.E step 3d) collapses them to one Symbol.
type Resolver interface {
	Resolve(addr uintptr) (name string, moduleBase uintptr, ok bool)
}

// RuntimeWalker captures stacks using runtime.Callers.
type RuntimeWalker struct{}

// CaptureStack implements Walker using runtime.Callers. The hash is an
// FNV-1a fold over the raw program counters, so two calls with identical
// call stacks always produce the same hash.
func (RuntimeWalker) CaptureStack(skip int, out []uintptr) (int, uint64) {
	n := runtime.Callers(skip+2, out) // +2 accounts for runtime.Callers and this method

	h := fnv.New64a()

	buf := make([]byte, 8)
	for i := 0; i < n; i++ {
		pc := out[i]
		for j := 0; j < 8; j++ {
			buf[j] = byte(pc >> (8 * j))
		}

		_, _ = h.Write(buf)
	}

	if n == len(out) {
		// Truncated: caller (producer) is responsible for marking frame 0
		// with TruncatedSentinel per the spec's convention; we only report
		// that the walk hit the cap.
		return n, h.Sum64()
	}

	return n, h.Sum64()
}

// RuntimeResolver resolves addresses using runtime.FuncForPC. A function's
// Entry() address is used as the module-base equivalent: every call site
// inside the same function shares one Entry(), which is exactly the
// collapsing behavior spec.md section 4.E requires.
type RuntimeResolver struct{}

// Resolve implements Resolver.
func (RuntimeResolver) Resolve(addr uintptr) (string, uintptr, bool) {
	fn := runtime.FuncForPC(addr)
	if fn == nil {
		return Truncated, 0, false
	}

	return fn.Name(), fn.Entry(), true
}
