// Package chunk implements the event chunk: a pre-sized batch of alloc/free
// events and their captured call-stack frames, handed as a unit from a
// producer thread to the aggregation engine. A chunk's Status is the only
// piece of data shared lock-free between producer and consumer.
package chunk

import "sync/atomic"

// Status is the cross-thread synchronization point for a chunk.
type Status int32

const (
	// Treated chunks may be reused by their owning producer.
	Treated Status = iota
	// Pending chunks have been handed off and must not be touched by the producer.
	Pending
	// Temporary chunks are heap-allocated overflow chunks, freed after consumption.
	Temporary
)

func (s Status) String() string {
	switch s {
	case Treated:
		return "TREATED"
	case Pending:
		return "PENDING"
	case Temporary:
		return "TEMPORARY"
	default:
		return "UNKNOWN"
	}
}

// Chunk is a pre-sized record of parallel arrays, sized for cache-friendly
// sequential writes on the producer side and sequential reads on the
// consumer side.
type Chunk struct {
	// SizeDelta[i] is signed: positive for an alloc, negative for a free.
	SizeDelta []int64
	// StackHash[i] is the deterministic hash of the captured call stack.
	StackHash []uint64
	// FrameOffset[i] indexes into Frames for event i's first captured
	// return address, or -1 if no stack was captured (a coalesced free miss).
	FrameOffset []int32
	// FrameCount[i] is the number of return addresses captured for event i.
	FrameCount []int32
	// Frames is the packed buffer of up to Capacity*MaxFrames return addresses.
	Frames []uintptr

	// AllocCount is the monotone cursor into the parallel event arrays
	// while the chunk is in the producer's hand.
	AllocCount int
	// FrameCursor is the monotone cursor into Frames while the chunk is in
	// the producer's hand.
	FrameCursor int

	status int32

	// Capacity is N: the maximum number of events this chunk can hold.
	Capacity int
	// MaxFrames is K: the maximum frames captured per event.
	MaxFrames int

	// temporary marks a heap-allocated overflow chunk, created when no
	// preallocated chunk was available; it is never reused and is dropped
	// (not reset to Treated) after consumption.
	temporary bool
}

// New allocates a preallocated chunk sized for capacity events of up to
// maxFrames return addresses each.
func New(capacity, maxFrames int) *Chunk {
	return newChunk(capacity, maxFrames, false)
}

// NewTemporary allocates a heap-backed overflow chunk per spec.md section
// 4.D's handoff-backpressure fallback.
func NewTemporary(capacity, maxFrames int) *Chunk {
	c := newChunk(capacity, maxFrames, true)
	c.status = int32(Temporary)

	return c
}

func newChunk(capacity, maxFrames int, temporary bool) *Chunk {
	return &Chunk{
		SizeDelta:   make([]int64, capacity),
		StackHash:   make([]uint64, capacity),
		FrameOffset: make([]int32, capacity),
		FrameCount:  make([]int32, capacity),
		Frames:      make([]uintptr, capacity*maxFrames),
		Capacity:    capacity,
		MaxFrames:   maxFrames,
		status:      int32(Treated),
		temporary:   temporary,
	}
}

// Temporary reports whether this is a heap-allocated overflow chunk rather
// than one of a thread's preallocated ring.
func (c *Chunk) Temporary() bool { return c.temporary }

// Status loads the chunk's lifecycle state with acquire semantics.
func (c *Chunk) Status() Status {
	return Status(atomic.LoadInt32(&c.status))
}

// SetStatus stores the chunk's lifecycle state with release semantics.
func (c *Chunk) SetStatus(s Status) {
	atomic.StoreInt32(&c.status, int32(s))
}

// CompareAndSwapStatus atomically transitions the chunk's state.
func (c *Chunk) CompareAndSwapStatus(from, to Status) bool {
	return atomic.CompareAndSwapInt32(&c.status, int32(from), int32(to))
}

// Full reports whether the chunk has no room for another event or for
// another event's worth of frames.
func (c *Chunk) Full() bool {
	return c.AllocCount >= c.Capacity || c.FrameCursor+c.MaxFrames > c.Capacity*c.MaxFrames
}

// Reset returns the chunk to an empty, reusable state. Callers must only
// call this on a chunk they own (Status == Treated).
func (c *Chunk) Reset() {
	c.AllocCount = 0
	c.FrameCursor = 0
}

// PushEvent appends a new event slot with the given delta and captured
// frame range, advancing AllocCount. It does not check Full(); callers must
// check before writing.
func (c *Chunk) PushEvent(delta int64, stackHash uint64, frameOffset, frameCount int32) int {
	i := c.AllocCount
	c.SizeDelta[i] = delta
	c.StackHash[i] = stackHash
	c.FrameOffset[i] = frameOffset
	c.FrameCount[i] = frameCount
	c.AllocCount++

	return i
}

// ReserveFrames returns the offset at which the caller may write n return
// addresses into Frames, advancing FrameCursor. It does not check capacity;
// callers must check Full() first.
func (c *Chunk) ReserveFrames(n int) int32 {
	off := c.FrameCursor
	c.FrameCursor += n

	return int32(off)
}

// FrameSlice returns the n return addresses starting at offset off.
func (c *Chunk) FrameSlice(off int32, n int32) []uintptr {
	if off < 0 || n <= 0 {
		return nil
	}

	return c.Frames[off : int(off)+int(n)]
}

// Events returns the number of events currently recorded.
func (c *Chunk) Events() int { return c.AllocCount }
