// Package producer implements the tracer's hot path: per-thread alloc,
// free, and realloc entry points that write events into the calling
// thread's current chunk, per spec.md section 4.C. Go has no native
// thread-local storage, so callers identify their logical thread with an
// explicit ThreadID (typically a goroutine-affine worker ID the host
// assigns); the producer keys its per-thread state off of that.
package producer

import (
	"sync"
	"unsafe"

	"github.com/heaptrace/heaptrace/internal/chunk"
	"github.com/heaptrace/heaptrace/internal/handoff"
	"github.com/heaptrace/heaptrace/internal/header"
	"github.com/heaptrace/heaptrace/internal/rawalloc"
	"github.com/heaptrace/heaptrace/internal/symbolize"
)

// ThreadID identifies a logical producer thread. The host is responsible
// for supplying a stable, distinct ID per concurrent caller (e.g. an
// incrementing worker index, or runtime goroutine ID obtained out of band).
type ThreadID uint64

type cacheEntry struct {
	hash uint64
	slot int
}

// threadState is the per-thread producer state of spec.md section 4.C: a
// chunk ring, a recent-hash coalescing cache, and a re-entrancy scope
// counter.
type threadState struct {
	ring    *handoff.ChunkRing
	current *chunk.Chunk

	cache       []cacheEntry
	cacheCursor int
	cacheLen    int

	scratch []uintptr // reused stack-capture buffer, never shared across threads

	scopeDepth int32
}

func newThreadState(chunkPerThread, chunkCapacity, maxFrames, cacheSize int) *threadState {
	ts := &threadState{
		ring:    handoff.NewChunkRing(chunkPerThread, chunkCapacity, maxFrames),
		cache:   make([]cacheEntry, cacheSize),
		scratch: make([]uintptr, maxFrames),
	}
	ts.current = ts.ring.Current()

	return ts
}

func (ts *threadState) resetCache() {
	ts.cacheLen = 0
	ts.cacheCursor = 0
}

// findCache scans backward through the valid entries, matching spec.md's
// "scan backward through the last CACHE_SIZE cached hashes".
func (ts *threadState) findCache(hash uint64) (int, bool) {
	n := len(ts.cache)

	for i := 0; i < ts.cacheLen; i++ {
		idx := (ts.cacheCursor - 1 - i + 2*n) % n
		if ts.cache[idx].hash == hash {
			return ts.cache[idx].slot, true
		}
	}

	return 0, false
}

func (ts *threadState) insertCache(hash uint64, slot int) {
	n := len(ts.cache)
	ts.cache[ts.cacheCursor] = cacheEntry{hash: hash, slot: slot}
	ts.cacheCursor = (ts.cacheCursor + 1) % n

	if ts.cacheLen < n {
		ts.cacheLen++
	}
}

func (ts *threadState) beginScope() { ts.scopeDepth++ }
func (ts *threadState) endScope()   { ts.scopeDepth-- }

// Reentrant reports whether the calling thread is already inside a
// tracer-internal operation (e.g. symbolization triggering its own
// allocation), for diagnostics only: the producer never special-cases
// behavior on re-entry, it just keeps recording (spec.md section 4.C).
func (ts *threadState) Reentrant() bool { return ts.scopeDepth > 1 }

// Producer implements the alloc/free/realloc hot path described in
// spec.md section 4.C, dispatching full chunks through a handoff
// Coordinator (component D).
type Producer struct {
	mu      sync.Mutex // guards the threads map only; never held during a hot-path body
	threads map[ThreadID]*threadState
	handoff *handoff.Coordinator
	walker  symbolize.Walker
	alloc   rawalloc.Allocator

	chunkPerThread, chunkCapacity, maxFrames, cacheSize int
}

// Config bundles the sizing knobs a Producer needs, mirroring the relevant
// rows of spec.md section 6's configuration table. Note that
// InternalFrameToSkip is applied by the aggregation engine when it builds
// the call graph (spec.md section 4.E step 4), not here: the producer
// captures the full raw stack so its hash stays deterministic regardless
// of how many of the tracer's own frames happen to be on it.
type Config struct {
	ChunkPerThread int
	AllocPerChunk  int
	StackPerAlloc  int
	CacheSize      int
}

// New builds a Producer. walker captures call stacks; alloc supplies the
// raw memory backing every user allocation; co dispatches full chunks to
// the aggregation engine.
func New(cfg Config, walker symbolize.Walker, alloc rawalloc.Allocator, co *handoff.Coordinator) *Producer {
	return &Producer{
		threads:        make(map[ThreadID]*threadState),
		handoff:        co,
		walker:         walker,
		alloc:          alloc,
		chunkPerThread: cfg.ChunkPerThread,
		chunkCapacity:  cfg.AllocPerChunk,
		maxFrames:      cfg.StackPerAlloc,
		cacheSize:      cfg.CacheSize,
	}
}

func (p *Producer) stateFor(id ThreadID) *threadState {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts, ok := p.threads[id]
	if !ok {
		ts = newThreadState(p.chunkPerThread, p.chunkCapacity, p.maxFrames, p.cacheSize)
		p.threads[id] = ts
	}

	return ts
}

// currentChunk returns the chunk ts should write the next event into,
// rotating via the handoff coordinator if the current one is full.
func (p *Producer) currentChunk(ts *threadState) *chunk.Chunk {
	if !ts.current.Full() {
		return ts.current
	}

	next := p.handoff.Rotate(ts.ring)
	ts.current = next
	ts.resetCache()

	return next
}

// recordAlloc captures the call stack, coalesces against the recent-hash
// cache, and records a positive event, per spec.md section 4.C's hot-path
// algorithm for an allocation event.
func (p *Producer) recordAlloc(ts *threadState, delta int64) uint64 {
	n, hash := p.walker.CaptureStack(0, ts.scratch)

	if n == len(ts.scratch) {
		// Walk hit MaxStack: mark frame 0 so the aggregation engine
		// attributes this stack to Truncated instead of misreading a cut-off
		// frame sequence, per spec.md section 4.C.
		ts.scratch[0] = symbolize.TruncatedSentinel
	}

	c := p.currentChunk(ts)

	if slot, ok := ts.findCache(hash); ok {
		c.SizeDelta[slot] += delta
		return hash
	}

	off := c.ReserveFrames(n)
	copy(c.FrameSlice(off, int32(n)), ts.scratch[:n])

	slot := c.PushEvent(delta, hash, off, int32(n))
	ts.insertCache(hash, slot)

	return hash
}

// recordFree coalesces a known stack hash (read back from the allocation
// header) against the cache, recording a negative event on a miss with no
// freshly captured stack, per spec.md section 4.C's free algorithm.
func (p *Producer) recordFree(ts *threadState, hash uint64, delta int64) {
	c := p.currentChunk(ts)

	if slot, ok := ts.findCache(hash); ok {
		c.SizeDelta[slot] += delta
		return
	}

	c.PushEvent(delta, hash, -1, 0)
}

// Alloc implements the alloc(size) entry point.
func (p *Producer) Alloc(id ThreadID, size uintptr) unsafe.Pointer {
	raw := p.alloc.Alloc(size + header.HeaderSize)
	if raw == nil {
		return nil
	}

	userPtr := unsafe.Pointer(uintptr(raw) + header.HeaderSize)

	ts := p.stateFor(id)
	ts.beginScope()
	hash := p.recordAlloc(ts, int64(size))
	ts.endScope()

	header.WriteAt(userPtr, header.Pack(hash, size, false))

	return userPtr
}

// AllocAligned implements the alloc_aligned(size, align) entry point.
//
// rawalloc.AllocAligned already returns an address aligned relative to
// raw+HeaderSize+AlignedHeaderSize (the first address satisfying align that
// still leaves room for the header ahead of it), so unlike Alloc, no further
// offset is added here: the returned pointer is the user pointer.
func (p *Producer) AllocAligned(id ThreadID, size, align uintptr) unsafe.Pointer {
	userPtr := p.alloc.AllocAligned(size+header.HeaderSize+header.AlignedHeaderSize, align)
	if userPtr == nil {
		return nil
	}

	ts := p.stateFor(id)
	ts.beginScope()
	hash := p.recordAlloc(ts, int64(size))
	ts.endScope()

	header.WriteRawBase(userPtr, userPtr)
	header.WriteAt(userPtr, header.Pack(hash, size, true))

	return userPtr
}

// Free implements the free(ptr) entry point.
func (p *Producer) Free(id ThreadID, ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	h := header.ReadAt(ptr)
	raw := unsafe.Pointer(uintptr(ptr) - header.HeaderSize)

	ts := p.stateFor(id)
	ts.beginScope()
	p.recordFree(ts, h.Hash, -int64(h.Size()))
	ts.endScope()

	p.alloc.Free(raw)
}

// FreeAligned implements the free_aligned(ptr) entry point.
func (p *Producer) FreeAligned(id ThreadID, ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	h := header.ReadAt(ptr)
	raw := header.ReadRawBase(ptr)

	ts := p.stateFor(id)
	ts.beginScope()
	p.recordFree(ts, h.Hash, -int64(h.Size()))
	ts.endScope()

	p.alloc.FreeAligned(raw)
}

// Realloc implements the realloc(ptr, size) entry point: a free of the old
// allocation plus an alloc of the new, except a same-size realloc which
// returns the same pointer and records nothing.
func (p *Producer) Realloc(id ThreadID, ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	if ptr == nil {
		return p.Alloc(id, size)
	}

	if size == 0 {
		p.Free(id, ptr)
		return nil
	}

	old := header.ReadAt(ptr)
	if old.Size() == size {
		return ptr
	}

	raw := unsafe.Pointer(uintptr(ptr) - header.HeaderSize)
	newRaw := p.alloc.Realloc(raw, size+header.HeaderSize)
	if newRaw == nil {
		return nil
	}

	newPtr := unsafe.Pointer(uintptr(newRaw) + header.HeaderSize)

	ts := p.stateFor(id)
	ts.beginScope()
	p.recordFree(ts, old.Hash, -int64(old.Size()))
	hash := p.recordAlloc(ts, int64(size))
	ts.endScope()

	header.WriteAt(newPtr, header.Pack(hash, size, false))

	return newPtr
}

// ReallocAligned is the aligned counterpart of Realloc: allocates the new
// block, copies the overlapping bytes from the old one, then frees the old
// block, mirroring Realloc and the original's reallocAligned.
func (p *Producer) ReallocAligned(id ThreadID, ptr unsafe.Pointer, size, align uintptr) unsafe.Pointer {
	if ptr == nil {
		return p.AllocAligned(id, size, align)
	}

	if size == 0 {
		p.FreeAligned(id, ptr)
		return nil
	}

	old := header.ReadAt(ptr)
	if old.Size() == size {
		return ptr
	}

	newPtr := p.AllocAligned(id, size, align)
	if newPtr == nil {
		return nil
	}

	n := old.Size()
	if size < n {
		n = size
	}

	src := (*[1 << 30]byte)(ptr)[:n:n]
	dst := (*[1 << 30]byte)(newPtr)[:n:n]
	copy(dst, src)

	p.FreeAligned(id, ptr)

	return newPtr
}

// Flush marks every in-flight chunk across every known thread as full and
// dispatches it, per spec.md section 5's explicit flush() entry point.
func (p *Producer) Flush() {
	p.mu.Lock()
	threads := make([]*threadState, 0, len(p.threads))
	for _, ts := range p.threads {
		threads = append(threads, ts)
	}
	p.mu.Unlock()

	for _, ts := range threads {
		p.handoff.Flush(ts.ring)

		if ts.current.Temporary() {
			p.handoff.FlushChunk(ts.current)
		}
	}
}
