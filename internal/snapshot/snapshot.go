// Package snapshot implements the read-only traversal entry points of
// spec.md section 4.F: by-function, by-call-graph, and by-histogram
// queries against the aggregation engine, all under the same aggregation
// lock a writer would take. The core retains no history between polls;
// cmd/heaptrace's renderer owns that.
package snapshot

import (
	"fmt"
	"sort"
	"strings"

	"github.com/heaptrace/heaptrace/internal/aggregate"
)

// Snapshot wraps an Aggregator with the query shapes a renderer needs.
type Snapshot struct {
	agg *aggregate.Aggregator
}

// New builds a Snapshot over agg.
func New(agg *aggregate.Aggregator) *Snapshot {
	return &Snapshot{agg: agg}
}

// FunctionRow is one entry of a ByFunction listing.
type FunctionRow struct {
	Name       string
	TotalBytes int64
	Symbol     *aggregate.Symbol
}

// ByFunction iterates the global Symbol list, per spec.md section 4.F's
// "iterate the global Symbol list, optionally filtered by substring match
// on the name". An empty filter matches everything.
func (s *Snapshot) ByFunction(filter string) []FunctionRow {
	var rows []FunctionRow

	s.agg.View(func(v *aggregate.View) {
		v.RangeSymbols(func(sym *aggregate.Symbol) bool {
			if filter == "" || strings.Contains(sym.Name, filter) {
				rows = append(rows, FunctionRow{Name: sym.Name, TotalBytes: sym.TotalBytes, Symbol: sym})
			}

			return true
		})
	})

	return rows
}

// CallGraphRow is one root of a ByCallGraph listing. Children are reachable
// through Edge.Children directly. Edge and Symbol pointers stay valid for
// the process lifetime once interned, but ByCallGraph returns them after
// releasing the aggregation lock, so their TotalBytes and Children fields
// may change on the next Process call; EdgeTotal reads a total under the
// lock.
type CallGraphRow struct {
	Edge *aggregate.Edge
}

// ByCallGraph iterates the global root Edge list.
func (s *Snapshot) ByCallGraph() []CallGraphRow {
	var rows []CallGraphRow

	s.agg.View(func(v *aggregate.View) {
		v.RangeRoots(func(e *aggregate.Edge) bool {
			rows = append(rows, CallGraphRow{Edge: e})
			return true
		})
	})

	return rows
}

// SymbolTotal answers a registered Symbol's current total_bytes on demand,
// per spec.md section 4.F's histogram query shape.
func (s *Snapshot) SymbolTotal(sym *aggregate.Symbol) int64 {
	var total int64

	s.agg.View(func(*aggregate.View) {
		total = sym.TotalBytes
	})

	return total
}

// EdgeTotal answers a registered Edge's current total_bytes on demand.
func (s *Snapshot) EdgeTotal(e *aggregate.Edge) int64 {
	var total int64

	s.agg.View(func(*aggregate.View) {
		total = e.TotalBytes
	})

	return total
}

// LeakRow is one entry of a Leaks() report.
type LeakRow struct {
	StackHash  uint64
	TotalBytes int64
	Depth      int32
	Frames     []*aggregate.Symbol
}

// Leaks implements the supplemented leak-reporting feature of
// SPEC_FULL.md section 6.1, adapted from the teacher's
// SystemAllocatorImpl.CheckLeaks/FormatLeaks pattern: every StackAgg whose
// TotalBytes is currently nonzero, sorted by size descending.
func (s *Snapshot) Leaks() []LeakRow {
	var rows []LeakRow

	s.agg.View(func(v *aggregate.View) {
		v.RangeStacks(func(hash uint64, agg *aggregate.StackAgg) bool {
			if agg.TotalBytes != 0 {
				rows = append(rows, LeakRow{
					StackHash:  hash,
					TotalBytes: agg.TotalBytes,
					Depth:      agg.Depth,
					Frames:     agg.Frames,
				})
			}

			return true
		})
	})

	sort.Slice(rows, func(i, j int) bool { return rows[i].TotalBytes > rows[j].TotalBytes })

	return rows
}

// FormatLeaks renders rows the way the teacher's FormatLeaks formats its
// report: one line per live stack, heaviest first.
func FormatLeaks(rows []LeakRow) string {
	var b strings.Builder

	for _, r := range rows {
		b.WriteString(formatLeakRow(r))
		b.WriteByte('\n')
	}

	return b.String()
}

func formatLeakRow(r LeakRow) string {
	var b strings.Builder

	b.WriteString(formatBytes(r.TotalBytes))
	b.WriteString(" leaked at stack ")
	b.WriteString(formatHash(r.StackHash))

	for i := len(r.Frames) - 1; i >= 0; i-- {
		b.WriteString("\n    ")
		b.WriteString(r.Frames[i].Name)
	}

	return b.String()
}

func formatBytes(n int64) string {
	return fmt.Sprintf("%d B", n)
}

func formatHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}

// DictionaryStats is the renderer-facing alias of the aggregation engine's
// fill diagnostics, per SPEC_FULL.md section 6.2.
type DictionaryStats = aggregate.DictionaryStats

// Stats reports the current fill level of all three dictionaries.
func (s *Snapshot) Stats() DictionaryStats {
	var stats DictionaryStats

	s.agg.View(func(v *aggregate.View) {
		stats = v.DictionaryStats()
	})

	return stats
}

// Errs returns one error per dictionary that has ever overflowed.
func (s *Snapshot) Errs() []error {
	var errs []error

	s.agg.View(func(v *aggregate.View) {
		errs = v.Errs()
	})

	return errs
}
