// Package handoff implements the chunk handoff protocol of spec.md section
// 4.D: chunk rotation, the temporary-chunk overflow policy, and dispatch of
// full chunks to the aggregation engine, optionally via a background
// worker fed by a lock-free ring queue.
package handoff

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/heaptrace/heaptrace/internal/chunk"
	"github.com/heaptrace/heaptrace/internal/lifecycle"
)

// Aggregator is the consumer-side hook a full chunk is dispatched to; in
// practice the aggregation engine (internal/aggregate).
type Aggregator interface {
	Process(c *chunk.Chunk)
}

// ChunkRing is a per-thread array of preallocated chunks plus the cursor
// into it, matching spec.md section 4.C's "fixed array of CHUNK_PER_THREAD
// preallocated chunks, a cursor into that array".
type ChunkRing struct {
	chunks []*chunk.Chunk
	cursor int
}

// NewChunkRing preallocates n chunks of the given capacity/maxFrames.
func NewChunkRing(n, capacity, maxFrames int) *ChunkRing {
	chunks := make([]*chunk.Chunk, n)
	for i := range chunks {
		chunks[i] = chunk.New(capacity, maxFrames)
	}

	return &ChunkRing{chunks: chunks}
}

// Current returns the chunk the cursor currently points at.
func (r *ChunkRing) Current() *chunk.Chunk {
	return r.chunks[r.cursor]
}

// All returns every preallocated chunk, for use by flush().
func (r *ChunkRing) All() []*chunk.Chunk {
	return r.chunks
}

// Coordinator owns the handoff policy and, optionally, the background
// consumer worker.
type Coordinator struct {
	agg       Aggregator
	lifecycle *lifecycle.Controller
	queue     *ring[*chunk.Chunk]

	workerOn int32
	group    *errgroup.Group
	cancel   context.CancelFunc

	onBackpressure func()
}

// NewCoordinator builds a Coordinator. queueCapacity of zero disables the
// background-worker ring; dispatch then always runs synchronously on the
// calling producer thread, matching the "consumer unavailable" policy of
// spec.md section 7.
func NewCoordinator(agg Aggregator, lc *lifecycle.Controller, queueCapacity int) *Coordinator {
	co := &Coordinator{agg: agg, lifecycle: lc}
	if queueCapacity > 0 {
		co.queue = newRing[*chunk.Chunk](queueCapacity)
	}

	return co
}

// OnBackpressure registers a callback invoked whenever Rotate falls back to
// a temporary chunk because the next preallocated slot was still PENDING.
func (co *Coordinator) OnBackpressure(fn func()) {
	co.onBackpressure = fn
}

// Rotate is invoked when r.Current() is full. It implements spec.md
// section 4.D's algorithm and returns the chunk the producer should write
// to next.
func (co *Coordinator) Rotate(r *ChunkRing) *chunk.Chunk {
	full := r.Current()

	if !co.lifecycle.Running() {
		r.cursor = (r.cursor + 1) % len(r.chunks)

		next := r.chunks[r.cursor]
		if next.Status() != chunk.Treated || next.Events() > 0 {
			return chunk.NewTemporary(full.Capacity, full.MaxFrames)
		}

		return next
	}

	full.SetStatus(chunk.Pending)
	co.dispatch(full)

	r.cursor = (r.cursor + 1) % len(r.chunks)
	next := r.chunks[r.cursor]

	if next.Status() == chunk.Pending {
		co.lifecycle.IncTempChunks()

		if co.onBackpressure != nil {
			co.onBackpressure()
		}

		return chunk.NewTemporary(full.Capacity, full.MaxFrames)
	}

	return next
}

// Flush forces every chunk in r that carries at least one event to be
// dispatched regardless of fullness, per spec.md section 5's explicit
// flush() entry point.
func (co *Coordinator) Flush(r *ChunkRing) {
	for _, c := range r.chunks {
		co.FlushChunk(c)
	}
}

// FlushChunk dispatches a single chunk if it carries at least one event,
// regardless of fullness. A chunk that is already Pending is left alone.
// Used both by Flush and to cover a thread's current chunk when that chunk
// is a temporary overflow chunk outside any ChunkRing.
func (co *Coordinator) FlushChunk(c *chunk.Chunk) {
	if c.Status() == chunk.Pending || c.Events() == 0 {
		return
	}

	c.SetStatus(chunk.Pending)
	co.dispatch(c)
}

// dispatch is the treat_chunk hook: enqueue onto the background worker if
// one is running and has room, else process synchronously on this thread.
func (co *Coordinator) dispatch(c *chunk.Chunk) {
	if co.queue != nil && atomic.LoadInt32(&co.workerOn) == 1 {
		if co.queue.enqueueItem(c) {
			return
		}
	}

	co.processSync(c)
}

func (co *Coordinator) processSync(c *chunk.Chunk) {
	co.agg.Process(c)
	co.finalize(c)
}

func (co *Coordinator) finalize(c *chunk.Chunk) {
	if c.Temporary() {
		co.lifecycle.DecTempChunks()
		return
	}

	c.Reset()
	c.SetStatus(chunk.Treated)
}

// StartWorker launches a single background consumer goroutine, managed by
// an errgroup.Group so StopWorker can wait for a clean shutdown. Requires
// a Coordinator built with queueCapacity > 0.
func (co *Coordinator) StartWorker(parent context.Context) {
	if co.queue == nil {
		return
	}

	atomic.StoreInt32(&co.workerOn, 1)

	ctx, cancel := context.WithCancel(parent)
	co.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	co.group = g

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				co.drain()
				return nil
			default:
			}

			c, ok := co.queue.dequeueItem()
			if !ok {
				runtime.Gosched()
				continue
			}

			co.processSync(c)
		}
	})
}

// drain processes whatever remains queued at shutdown, so flush()-then-stop
// does not lose events.
func (co *Coordinator) drain() {
	for {
		c, ok := co.queue.dequeueItem()
		if !ok {
			return
		}

		co.processSync(c)
	}
}

// StopWorker signals the background worker to drain and exit, and waits
// for it.
func (co *Coordinator) StopWorker() error {
	atomic.StoreInt32(&co.workerOn, 0)

	if co.cancel != nil {
		co.cancel()
	}

	if co.group != nil {
		return co.group.Wait()
	}

	return nil
}
