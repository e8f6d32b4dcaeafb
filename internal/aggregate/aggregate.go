// Package aggregate implements the aggregation engine: the sole consumer
// of event chunks, running under the one process-wide serialization lock,
// per spec.md section 4.E. It maintains the three dictionaries (symbols,
// stacks, call-graph edges), the global Symbol list, and the call-graph
// root list.
package aggregate

import (
	"encoding/binary"
	"hash/fnv"
	"sync"

	"github.com/heaptrace/heaptrace/internal/chunk"
	"github.com/heaptrace/heaptrace/internal/dict"
	"github.com/heaptrace/heaptrace/internal/symbolize"
)

// Symbol is one record per resolved function, per spec.md section 3.
type Symbol struct {
	Name       string
	TotalBytes int64
	EdgesHead  *Edge
	Next       *Symbol // intrusive global list, newest first

	// Key is the dictionary key this Symbol was canonically interned
	// under (a module-base address, or the Truncated sentinel); it feeds
	// call-graph edge keys so the same function always contributes the
	// same edge-key component regardless of which raw call site hit it.
	Key uintptr

	// Shared is non-nil when this entry is a raw-call-site slot that
	// delegates to a canonical Symbol elsewhere in the dictionary, per
	// spec.md section 4.E step 3b.
	Shared *Symbol
}

// StackAgg is keyed by stack_hash and caches the resolved frame chain so
// repeat hits of the same hash skip symbolization entirely.
type StackAgg struct {
	TotalBytes int64
	Depth      int32
	// Frames holds the resolved, already-canonicalized symbols for this
	// stack, innermost first. Nil for stacks resolved with no captured
	// frames (the "free of an unrecognized hash" edge case).
	Frames   []*Symbol
	Resolved bool
}

// EdgeKey identifies a call-graph node by its depth, the path signature of
// its ancestors, and its own symbol identity, per spec.md section 4.E's
// "Edge key rationale".
type EdgeKey struct {
	Depth      int32
	ParentHash uint64
	SymbolKey  uintptr
}

// Edge is a node in the per-location call graph.
type Edge struct {
	TotalBytes      int64
	Symbol          *Symbol
	Parent          *Edge
	Children        []*Edge
	SiblingInSymbol *Edge

	pathHash uint64 // this edge's accumulated path signature, seeding its children's keys
}

// Config mirrors the dictionary-sizing rows of spec.md section 6's
// configuration table plus the internal-frame skip count.
type Config struct {
	AllocDictionary     int
	StackDictionary     int
	TreeDictionary      int
	InternalFrameToSkip int
}

// Aggregator is the consumer side of the tracer: it owns the one
// process-wide aggregation lock guarding the dictionaries, the global
// Symbol list, and the call-graph root list.
type Aggregator struct {
	mu sync.Mutex

	symbols *dict.Table[uintptr, Symbol]
	stacks  *dict.Table[uint64, StackAgg]
	edges   *dict.Table[EdgeKey, Edge]

	symbolHead *Symbol
	roots      []*Edge

	resolver symbolize.Resolver
	skip     int

	truncated *Symbol
}

// New builds an Aggregator with fixed-capacity dictionaries sized per cfg.
func New(cfg Config, resolver symbolize.Resolver) *Aggregator {
	a := &Aggregator{
		symbols:  dict.New[uintptr, Symbol]("symbols", cfg.AllocDictionary, hashAddr),
		stacks:   dict.New[uint64, StackAgg]("stacks", cfg.StackDictionary, hashIdentity),
		edges:    dict.New[EdgeKey, Edge]("edges", cfg.TreeDictionary, hashEdgeKey),
		resolver: resolver,
		skip:     cfg.InternalFrameToSkip,
	}

	sym, _ := a.symbols.Upsert(symbolize.TruncatedSentinel)
	sym.Name = symbolize.Truncated
	sym.Key = symbolize.TruncatedSentinel
	a.pushGlobalList(sym)
	a.truncated = sym

	return a
}

func hashAddr(a uintptr) uint64 {
	h := fnv.New64a()

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(a))
	_, _ = h.Write(buf[:])

	return h.Sum64()
}

func hashIdentity(h uint64) uint64 { return h }

func hashEdgeKey(k EdgeKey) uint64 {
	return pathHash(k.ParentHash, k.Depth, k.SymbolKey)
}

func pathHash(parentHash uint64, depth int32, symKey uintptr) uint64 {
	h := fnv.New64a()

	var buf [20]byte
	binary.LittleEndian.PutUint64(buf[0:8], parentHash)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(depth))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(symKey))
	_, _ = h.Write(buf[:])

	return h.Sum64()
}

// Process consumes one chunk's events in order, under the aggregation
// lock, per spec.md section 4.E. It implements the handoff.Aggregator
// interface and is the treat_chunk hook's ultimate destination.
func (a *Aggregator) Process(c *chunk.Chunk) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < c.Events(); i++ {
		delta := c.SizeDelta[i]
		if delta == 0 {
			continue
		}

		a.processEvent(c, i, delta)
	}
}

func (a *Aggregator) processEvent(c *chunk.Chunk, i int, delta int64) {
	hash := c.StackHash[i]

	agg, ok := a.stacks.Upsert(hash)
	if !ok {
		return // stack dictionary full: record dropped, per spec.md section 7
	}

	if agg.Resolved {
		a.fastPath(agg, delta)
		return
	}

	a.slowPath(agg, c, i, delta)
}

// fastPath implements spec.md section 4.E step 2: the stack was already
// resolved by an earlier event sharing the same hash.
func (a *Aggregator) fastPath(agg *StackAgg, delta int64) {
	agg.TotalBytes += delta

	for _, sym := range agg.Frames {
		sym.TotalBytes += delta
	}

	a.updateGraph(agg.Frames, delta)
}

// slowPath implements spec.md section 4.E step 3: first observation of
// this stack hash, requiring symbolization of every captured frame.
func (a *Aggregator) slowPath(agg *StackAgg, c *chunk.Chunk, i int, delta int64) {
	frameCount := int(c.FrameCount[i])
	frameOffset := c.FrameOffset[i]

	if frameCount == 0 || frameOffset < 0 {
		// A free() whose stack_hash does not match any cache entry and
		// whose originating alloc event has not (yet) been aggregated
		// carries no frames of its own. Per the "free of an unrecognized
		// hash" policy, the event still contributes to mass conservation
		// at depth 0 rather than being discarded.
		agg.TotalBytes += delta
		agg.Depth = 0
		agg.Resolved = true

		return
	}

	raw := c.FrameSlice(frameOffset, int32(frameCount))

	skip := a.skip
	if skip > len(raw) {
		skip = len(raw)
	}

	effective := raw[skip:]

	frames := make([]*Symbol, 0, len(effective))
	for _, addr := range effective {
		if addr == symbolize.TruncatedSentinel {
			frames = append(frames, a.truncated)
			continue
		}

		frames = append(frames, a.resolveFrame(addr))
	}

	agg.TotalBytes += delta
	agg.Depth = int32(len(frames))
	agg.Frames = frames
	agg.Resolved = true

	for _, sym := range frames {
		sym.TotalBytes += delta
	}

	a.updateGraph(frames, delta)
}

// resolveFrame implements spec.md section 4.E step 3's canonicalization:
// multiple raw call sites inside the same function collapse to one
// canonical Symbol keyed by module base address.
func (a *Aggregator) resolveFrame(addr uintptr) *Symbol {
	slot, ok := a.symbols.Upsert(addr)
	if !ok {
		return a.truncated // symbol dictionary full: attribute to Truncated
	}

	if slot.Shared != nil {
		return slot.Shared
	}

	if slot.Name != "" {
		return slot // this raw address is itself the canonical entry
	}

	name, base, resolved := a.resolver.Resolve(addr)
	if !resolved {
		slot.Shared = a.truncated
		return a.truncated
	}

	if base == addr {
		slot.Name = name
		slot.Key = addr
		a.pushGlobalList(slot)

		return slot
	}

	canonical, cok := a.symbols.Upsert(base)
	if !cok {
		slot.Shared = a.truncated
		return a.truncated
	}

	if canonical.Name == "" {
		canonical.Name = name
		canonical.Key = base
		a.pushGlobalList(canonical)
	}

	slot.Shared = canonical

	return canonical
}

func (a *Aggregator) pushGlobalList(sym *Symbol) {
	sym.Next = a.symbolHead
	a.symbolHead = sym
}

// updateGraph implements spec.md section 4.E steps 2/3's call-graph
// maintenance: walk the stack outermost to innermost (frames is stored
// innermost-first, so this walks the slice backward), upserting an Edge
// per frame and linking parent/children/sibling-in-symbol chains on first
// occurrence.
func (a *Aggregator) updateGraph(frames []*Symbol, delta int64) {
	var parent *Edge

	var parentHash uint64

	var depth int32

	for i := len(frames) - 1; i >= 0; i-- {
		sym := frames[i]

		key := EdgeKey{Depth: depth, ParentHash: parentHash, SymbolKey: sym.Key}

		e, ok := a.edges.Upsert(key)
		if !ok {
			return // edge dictionary full: stop extending this path
		}

		if e.Symbol == nil {
			e.Symbol = sym
			e.Parent = parent
			e.pathHash = pathHash(parentHash, depth, sym.Key)

			if parent == nil {
				a.roots = append(a.roots, e)
			} else {
				parent.Children = append(parent.Children, e)
			}

			e.SiblingInSymbol = sym.EdgesHead
			sym.EdgesHead = e
		}

		e.TotalBytes += delta

		parent = e
		parentHash = e.pathHash
		depth++
	}
}

// View exposes read-only queries against the aggregator's state, for the
// duration of one locked callback (spec.md section 4.F: "handles valid
// until the lock is released").
type View struct {
	a *Aggregator
}

// View acquires the aggregation lock and runs fn against a View, mirroring
// spec.md section 4.F's "each taking the global lock" query contract.
func (a *Aggregator) View(fn func(*View)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fn(&View{a: a})
}

// RangeSymbols iterates the global Symbol list, newest first, stopping
// early if fn returns false.
func (v *View) RangeSymbols(fn func(*Symbol) bool) {
	for s := v.a.symbolHead; s != nil; s = s.Next {
		if !fn(s) {
			return
		}
	}
}

// RangeRoots iterates the call-graph root Edges, stopping early if fn
// returns false.
func (v *View) RangeRoots(fn func(*Edge) bool) {
	for _, e := range v.a.roots {
		if !fn(e) {
			return
		}
	}
}

// RangeStacks iterates every observed stack hash and its aggregate,
// stopping early if fn returns false. Backs the supplemented leak-reporting
// feature, which needs per-stack (not per-symbol) live totals.
func (v *View) RangeStacks(fn func(hash uint64, agg *StackAgg) bool) {
	v.a.stacks.Range(fn)
}

// DictionaryStats reports fill diagnostics for all three dictionaries,
// backing the supplemented "dictionary fill diagnostics" feature.
type DictionaryStats struct {
	SymbolLen, SymbolCap, SymbolProbeHWM int
	StackLen, StackCap, StackProbeHWM    int
	EdgeLen, EdgeCap, EdgeProbeHWM       int
}

// DictionaryStats reports the current fill level of all three dictionaries.
func (v *View) DictionaryStats() DictionaryStats {
	return DictionaryStats{
		SymbolLen: v.a.symbols.Len(), SymbolCap: v.a.symbols.Cap(), SymbolProbeHWM: v.a.symbols.ProbeHighWater(),
		StackLen: v.a.stacks.Len(), StackCap: v.a.stacks.Cap(), StackProbeHWM: v.a.stacks.ProbeHighWater(),
		EdgeLen: v.a.edges.Len(), EdgeCap: v.a.edges.Cap(), EdgeProbeHWM: v.a.edges.ProbeHighWater(),
	}
}

// Errs returns one error per dictionary that has ever overflowed, in
// symbol/stack/edge order, for diagnostics and telemetry.
func (v *View) Errs() []error {
	var errs []error

	for _, err := range []error{v.a.symbols.Err(), v.a.stacks.Err(), v.a.edges.Err()} {
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}
