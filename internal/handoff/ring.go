package handoff

import (
	"runtime"
	"sync/atomic"
)

// ring is a bounded multi-producer multi-consumer lock-free queue based on
// Dmitry Vyukov's algorithm using per-slot sequence numbers. It carries
// full chunks from producer threads to the background consumer without
// either side ever blocking on a mutex.
type ring[T any] struct {
	_pad0   [64]byte
	mask    uint64
	_pad1   [64]byte
	enqueue uint64
	_pad2   [64]byte
	dequeue uint64
	_pad3   [64]byte
	cells   []ringCell[T]
}

type ringCell[T any] struct {
	seq uint64
	val T
}

// newRing creates a ring with the given capacity, rounded up to a power of
// two.
func newRing[T any](capacity int) *ring[T] {
	if capacity < 2 {
		capacity = 2
	}

	capPow2 := uint64(1)
	for capPow2 < uint64(capacity) {
		capPow2 <<= 1
	}

	r := &ring[T]{
		mask:  capPow2 - 1,
		cells: make([]ringCell[T], capPow2),
	}
	for i := range r.cells {
		r.cells[i].seq = uint64(i)
	}

	return r
}

// enqueueItem pushes v; returns false if the ring is full.
func (r *ring[T]) enqueueItem(v T) bool {
	for {
		pos := atomic.LoadUint64(&r.enqueue)
		c := &r.cells[pos&r.mask]
		seq := atomic.LoadUint64(&c.seq)

		switch dif := int64(seq) - int64(pos); {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&r.enqueue, pos, pos+1) {
				c.val = v
				atomic.StoreUint64(&c.seq, pos+1)
				return true
			}
		case dif < 0:
			return false
		default:
			runtime.Gosched()
		}
	}
}

// dequeueItem pops and returns the oldest item; returns false if the ring is empty.
func (r *ring[T]) dequeueItem() (T, bool) {
	var zero T

	for {
		pos := atomic.LoadUint64(&r.dequeue)
		c := &r.cells[pos&r.mask]
		seq := atomic.LoadUint64(&c.seq)

		switch dif := int64(seq) - int64(pos+1); {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&r.dequeue, pos, pos+1) {
				v := c.val
				c.val = zero
				atomic.StoreUint64(&c.seq, pos+r.mask+1)

				return v, true
			}
		case dif < 0:
			return zero, false
		default:
			runtime.Gosched()
		}
	}
}
