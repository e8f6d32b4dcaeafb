package aggregate

import (
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/heaptrace/heaptrace/internal/chunk"
	"github.com/heaptrace/heaptrace/internal/symbolize"
)

type stubResolver struct {
	resolve func(addr uintptr) (string, uintptr, bool)
}

func (s stubResolver) Resolve(addr uintptr) (string, uintptr, bool) { return s.resolve(addr) }

func selfCanonicalResolver(names map[uintptr]string) stubResolver {
	return stubResolver{resolve: func(addr uintptr) (string, uintptr, bool) {
		name, ok := names[addr]
		if !ok {
			return "", 0, false
		}

		return name, addr, true
	}}
}

func testConfig() Config {
	return Config{
		AllocDictionary:     64,
		StackDictionary:     64,
		TreeDictionary:      64,
		InternalFrameToSkip: 0,
	}
}

// oneStackChunk builds a chunk holding a single event whose captured
// frames are exactly addrs, innermost first.
func oneStackChunk(delta int64, stackHash uint64, addrs []uintptr) *chunk.Chunk {
	c := chunk.New(4, len(addrs)+1)

	off := c.ReserveFrames(len(addrs))
	copy(c.FrameSlice(off, int32(len(addrs))), addrs)
	c.PushEvent(delta, stackHash, off, int32(len(addrs)))

	return c
}

func symbolNamed(v *View, name string) *Symbol {
	var found *Symbol

	v.RangeSymbols(func(s *Symbol) bool {
		if s.Name == name {
			found = s
			return false
		}

		return true
	})

	return found
}

func TestProcessMassConservation(t *testing.T) {
	t.Run("AllocThenFreeOfSameStackNetsToZero", func(t *testing.T) {
		resolver := selfCanonicalResolver(map[uintptr]string{0x1000: "inner", 0x2000: "outer"})
		a := New(testConfig(), resolver)

		a.Process(oneStackChunk(100, 42, []uintptr{0x1000, 0x2000}))
		a.Process(oneStackChunk(-100, 42, []uintptr{0x1000, 0x2000}))

		var innerTotal, outerTotal int64

		a.View(func(v *View) {
			if s := symbolNamed(v, "inner"); s != nil {
				innerTotal = s.TotalBytes
			}
			if s := symbolNamed(v, "outer"); s != nil {
				outerTotal = s.TotalBytes
			}
		})

		if innerTotal != 0 || outerTotal != 0 {
			t.Errorf("expected both symbols back to zero, got inner=%d outer=%d", innerTotal, outerTotal)
		}
	})

	t.Run("EachFrameOfALiveStackGetsTheFullDelta", func(t *testing.T) {
		resolver := selfCanonicalResolver(map[uintptr]string{0x1000: "a", 0x2000: "b", 0x3000: "c"})
		a := New(testConfig(), resolver)

		a.Process(oneStackChunk(50, 7, []uintptr{0x1000, 0x2000, 0x3000}))

		a.View(func(v *View) {
			for _, name := range []string{"a", "b", "c"} {
				s := symbolNamed(v, name)
				if s == nil {
					t.Fatalf("expected symbol %q to exist", name)
				}
				if s.TotalBytes != 50 {
					t.Errorf("expected symbol %q total 50, got %d", name, s.TotalBytes)
				}
			}
		})
	})

	t.Run("FastPathRepeatsAvoidReResolution", func(t *testing.T) {
		calls := 0
		resolver := stubResolver{resolve: func(addr uintptr) (string, uintptr, bool) {
			calls++
			return "f", addr, true
		}}
		a := New(testConfig(), resolver)

		a.Process(oneStackChunk(10, 99, []uintptr{0x4000}))
		a.Process(oneStackChunk(10, 99, []uintptr{0x4000}))
		a.Process(oneStackChunk(10, 99, []uintptr{0x4000}))

		if calls != 1 {
			t.Errorf("expected exactly one symbolizer call across repeated hits, got %d", calls)
		}
	})
}

func TestSymbolizerFailure(t *testing.T) {
	t.Run("UnresolvableAddressAttributesToTruncated", func(t *testing.T) {
		resolver := stubResolver{resolve: func(uintptr) (string, uintptr, bool) { return "", 0, false }}
		a := New(testConfig(), resolver)

		a.Process(oneStackChunk(30, 5, []uintptr{0x9999}))

		var truncatedTotal int64
		a.View(func(v *View) {
			if s := symbolNamed(v, symbolize.Truncated); s != nil {
				truncatedTotal = s.TotalBytes
			}
		})

		if truncatedTotal != 30 {
			t.Errorf("expected Truncated symbol to absorb the event, got %d", truncatedTotal)
		}
	})

	t.Run("MockedResolverFailureIsHonored", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mock := symbolize.NewMockResolver(ctrl)
		mock.EXPECT().Resolve(uintptr(0x1234)).Return(symbolize.Truncated, uintptr(0), false)

		a := New(testConfig(), mock)
		a.Process(oneStackChunk(15, 1, []uintptr{0x1234}))

		var truncatedTotal int64
		a.View(func(v *View) {
			if s := symbolNamed(v, symbolize.Truncated); s != nil {
				truncatedTotal = s.TotalBytes
			}
		})

		if truncatedTotal != 15 {
			t.Errorf("expected Truncated symbol to absorb the mocked failure, got %d", truncatedTotal)
		}
	})
}

func TestCanonicalization(t *testing.T) {
	t.Run("DistinctCallSitesCollapseToOneCanonicalSymbol", func(t *testing.T) {
		resolver := stubResolver{resolve: func(addr uintptr) (string, uintptr, bool) {
			return "sharedFunc", 0x8000, true // every call site resolves to the same module base
		}}
		a := New(testConfig(), resolver)

		a.Process(oneStackChunk(10, 1, []uintptr{0x8001}))
		a.Process(oneStackChunk(20, 2, []uintptr{0x8042}))

		count := 0
		var total int64

		a.View(func(v *View) {
			v.RangeSymbols(func(s *Symbol) bool {
				if s.Name == "sharedFunc" {
					count++
					total = s.TotalBytes
				}
				return true
			})
		})

		if count != 1 {
			t.Errorf("expected exactly one canonical Symbol for sharedFunc, found %d", count)
		}
		if total != 30 {
			t.Errorf("expected combined total 30, got %d", total)
		}
	})
}

func TestCallGraph(t *testing.T) {
	t.Run("RepeatedIdenticalStackMergesIntoOneEdgeChain", func(t *testing.T) {
		resolver := selfCanonicalResolver(map[uintptr]string{0x1000: "leaf", 0x2000: "root"})
		a := New(testConfig(), resolver)

		a.Process(oneStackChunk(5, 11, []uintptr{0x1000, 0x2000}))
		a.Process(oneStackChunk(5, 11, []uintptr{0x1000, 0x2000}))

		var rootCount int
		var rootTotal int64

		a.View(func(v *View) {
			v.RangeRoots(func(e *Edge) bool {
				rootCount++
				rootTotal = e.TotalBytes
				return true
			})
		})

		if rootCount != 1 {
			t.Errorf("expected exactly one root edge, got %d", rootCount)
		}
		if rootTotal != 10 {
			t.Errorf("expected root edge total 10, got %d", rootTotal)
		}
	})

	t.Run("SameFunctionReachedByDifferentPathsGetsDistinctEdges", func(t *testing.T) {
		resolver := selfCanonicalResolver(map[uintptr]string{
			0x1000: "shared", 0x2000: "callerA", 0x3000: "callerB",
		})
		a := New(testConfig(), resolver)

		a.Process(oneStackChunk(1, 21, []uintptr{0x1000, 0x2000}))
		a.Process(oneStackChunk(1, 22, []uintptr{0x1000, 0x3000}))

		var roots int
		a.View(func(v *View) {
			v.RangeRoots(func(e *Edge) bool {
				roots++
				return true
			})
		})

		if roots != 2 {
			t.Errorf("expected two distinct root edges for two distinct callers, got %d", roots)
		}
	})

	t.Run("EveryEdgeChildSetHasDistinctKeys", func(t *testing.T) {
		resolver := selfCanonicalResolver(map[uintptr]string{
			0x1000: "leafA", 0x1100: "leafB", 0x2000: "root",
		})
		a := New(testConfig(), resolver)

		a.Process(oneStackChunk(1, 31, []uintptr{0x1000, 0x2000}))
		a.Process(oneStackChunk(1, 32, []uintptr{0x1100, 0x2000}))

		a.View(func(v *View) {
			v.RangeRoots(func(e *Edge) bool {
				seen := map[EdgeKey]bool{}
				for _, child := range e.Children {
					key := EdgeKey{Depth: 1, ParentHash: e.pathHash, SymbolKey: child.Symbol.Key}
					if seen[key] {
						t.Errorf("duplicate child edge key %+v", key)
					}
					seen[key] = true
				}
				if len(e.Children) != 2 {
					t.Errorf("expected 2 distinct children, got %d", len(e.Children))
				}
				return true
			})
		})
	})
}

func TestDictionaryFull(t *testing.T) {
	t.Run("StackDictionaryOverflowDropsWithoutPanic", func(t *testing.T) {
		resolver := selfCanonicalResolver(map[uintptr]string{0x1000: "a"})
		cfg := testConfig()
		cfg.StackDictionary = 1

		a := New(cfg, resolver)

		a.Process(oneStackChunk(1, 1, []uintptr{0x1000}))
		a.Process(oneStackChunk(1, 2, []uintptr{0x1000})) // different hash, table already full

		var full bool
		a.View(func(v *View) { full = len(v.Errs()) > 0 })

		if !full {
			t.Error("expected stack dictionary to report full after overflow")
		}
	})
}

func TestUnrecognizedFreeHash(t *testing.T) {
	t.Run("FreeWithNoCapturedFramesRecordsAtDepthZero", func(t *testing.T) {
		resolver := selfCanonicalResolver(nil)
		a := New(testConfig(), resolver)

		c := chunk.New(4, 1)
		c.PushEvent(-40, 777, -1, 0) // matches the producer's free-on-cache-miss shape

		a.Process(c)

		var sawStack bool
		var depth int32
		var total int64
		a.View(func(v *View) {
			v.RangeStacks(func(hash uint64, agg *StackAgg) bool {
				if hash == 777 {
					sawStack = true
					depth, total = agg.Depth, agg.TotalBytes
				}
				return true
			})
		})

		if !sawStack {
			t.Fatal("expected the free to be recorded under its stack hash")
		}
		if depth != 0 || total != -40 {
			t.Errorf("expected depth 0 and total -40, got depth %d total %d", depth, total)
		}
	})
}
