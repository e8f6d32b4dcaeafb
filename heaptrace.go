// Package heaptrace is a live in-process memory allocation tracer: a
// fixed-capacity, lock-minimal hot path records every alloc/free/realloc
// along with its call stack, batches events into chunks, hands them off to
// a single aggregation engine, and exposes the result through a read-only
// snapshot API. It wires together internal/producer, internal/handoff,
// internal/aggregate, internal/lifecycle, internal/rawalloc,
// internal/symbolize, internal/config, and internal/telemetry into the
// public surface a host program drives directly.
package heaptrace

import (
	"context"
	"unsafe"

	"github.com/heaptrace/heaptrace/internal/aggregate"
	"github.com/heaptrace/heaptrace/internal/config"
	"github.com/heaptrace/heaptrace/internal/errors"
	"github.com/heaptrace/heaptrace/internal/handoff"
	"github.com/heaptrace/heaptrace/internal/lifecycle"
	"github.com/heaptrace/heaptrace/internal/producer"
	"github.com/heaptrace/heaptrace/internal/rawalloc"
	"github.com/heaptrace/heaptrace/internal/snapshot"
	"github.com/heaptrace/heaptrace/internal/symbolize"
	"github.com/heaptrace/heaptrace/internal/telemetry"
)

// ThreadID identifies a logical producer thread; see internal/producer.
type ThreadID = producer.ThreadID

// Tracer is the assembled tracer: the facade a host program (cmd/heaptrace's
// synthetic workload, or any other embedder) drives directly.
type Tracer struct {
	cfg       config.Config
	lifecycle *lifecycle.Controller
	handoff   *handoff.Coordinator
	aggregate *aggregate.Aggregator
	producer  *producer.Producer
	alloc     rawalloc.Allocator
	telemetry *telemetry.Log
	snapshot  *snapshot.Snapshot
}

// Option customizes a Tracer at construction time.
type Option func(*options)

type options struct {
	resolver symbolize.Resolver
	walker   symbolize.Walker
	alloc    rawalloc.Allocator
}

// WithResolver overrides the default runtime-based symbolizer.
func WithResolver(r symbolize.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithWalker overrides the default runtime-based stack walker.
func WithWalker(w symbolize.Walker) Option {
	return func(o *options) { o.walker = w }
}

// WithAllocator overrides the default system allocator backing user
// allocations. Temporary chunks do not come from this allocator.
func WithAllocator(a rawalloc.Allocator) Option {
	return func(o *options) { o.alloc = a }
}

// New assembles a Tracer from cfg, in NOT_INITIALIZED state: the producer
// records into its preallocated chunks one-shot, with no rotation, until
// Init is called, per spec.md section 4.G.
func New(cfg config.Config, opts ...Option) *Tracer {
	o := options{
		resolver: symbolize.RuntimeResolver{},
		walker:   symbolize.RuntimeWalker{},
		alloc:    rawalloc.NewSystemAllocator(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	lc := lifecycle.New()
	agg := aggregate.New(aggregate.Config{
		AllocDictionary:     cfg.AllocDictionary,
		StackDictionary:     cfg.StackDictionary,
		TreeDictionary:      cfg.TreeDictionary,
		InternalFrameToSkip: cfg.InternalFrameToSkip,
	}, o.resolver)

	tel := telemetry.New(cfg.HistoryFrames)

	co := handoff.NewCoordinator(agg, lc, cfg.HandoffQueueCapacity)
	co.OnBackpressure(func() {
		tel.Record(errors.CategoryHandoffBackpressure, "producer fell back to a temporary chunk")
	})

	prod := producer.New(producer.Config{
		ChunkPerThread: cfg.ChunkPerThread,
		AllocPerChunk:  cfg.AllocPerChunk,
		StackPerAlloc:  cfg.StackPerAlloc,
		CacheSize:      cfg.CacheSize,
	}, o.walker, o.alloc, co)

	return &Tracer{
		cfg:       cfg,
		lifecycle: lc,
		handoff:   co,
		aggregate: agg,
		producer:  prod,
		alloc:     o.alloc,
		telemetry: tel,
		snapshot:  snapshot.New(agg),
	}
}

// Init transitions the tracer into RUNNING, enabling chunk rotation and
// handoff to the aggregation engine. Starts the background consumer worker
// when the configured handoff queue capacity is nonzero.
func (t *Tracer) Init(ctx context.Context) {
	t.lifecycle.Init()

	if t.cfg.HandoffQueueCapacity > 0 {
		t.handoff.StartWorker(ctx)
	}
}

// Exit transitions the tracer into EXIT. New events continue to record,
// but the caller should Flush before tearing down any background worker.
func (t *Tracer) Exit() error {
	t.lifecycle.Exit()

	return t.handoff.StopWorker()
}

// Flush marks every thread's in-flight chunks full and dispatches them, per
// the explicit flush() entry point of spec.md section 5.
func (t *Tracer) Flush() { t.producer.Flush() }

// Alloc implements the alloc(size) entry point for thread id.
func (t *Tracer) Alloc(id ThreadID, size uintptr) unsafe.Pointer {
	return t.producer.Alloc(id, size)
}

// AllocAligned implements the alloc_aligned(size, align) entry point.
func (t *Tracer) AllocAligned(id ThreadID, size, align uintptr) unsafe.Pointer {
	return t.producer.AllocAligned(id, size, align)
}

// Free implements the free(ptr) entry point.
func (t *Tracer) Free(id ThreadID, ptr unsafe.Pointer) {
	t.producer.Free(id, ptr)
}

// FreeAligned implements the free_aligned(ptr) entry point.
func (t *Tracer) FreeAligned(id ThreadID, ptr unsafe.Pointer) {
	t.producer.FreeAligned(id, ptr)
}

// Realloc implements the realloc(ptr, size) entry point.
func (t *Tracer) Realloc(id ThreadID, ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	return t.producer.Realloc(id, ptr, size)
}

// ReallocAligned implements the realloc_aligned(ptr, size, align) entry point.
func (t *Tracer) ReallocAligned(id ThreadID, ptr unsafe.Pointer, size, align uintptr) unsafe.Pointer {
	return t.producer.ReallocAligned(id, ptr, size, align)
}

// Snapshot returns the read-only query surface (component F).
func (t *Tracer) Snapshot() *snapshot.Snapshot { return t.snapshot }

// Telemetry returns the ambient event log / counters surface.
func (t *Tracer) Telemetry() *telemetry.Log { return t.telemetry }

// Lifecycle exposes the underlying state machine for diagnostics.
func (t *Tracer) Lifecycle() *lifecycle.Controller { return t.lifecycle }

// Config returns the configuration this tracer was built with.
func (t *Tracer) Config() config.Config { return t.cfg }

// AllocatorStats reports the raw allocator's own accounting, independent of
// the tracer's per-stack/per-symbol attribution.
func (t *Tracer) AllocatorStats() rawalloc.Stats { return t.alloc.Stats() }
