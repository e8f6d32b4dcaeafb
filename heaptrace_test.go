package heaptrace

import (
	"context"
	"testing"

	"github.com/heaptrace/heaptrace/internal/config"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.AllocPerChunk = 4
	cfg.ChunkPerThread = 2
	cfg.StackPerAlloc = 8
	cfg.CacheSize = 4
	cfg.HandoffQueueCapacity = 0 // synchronous dispatch, deterministic for tests

	return cfg
}

func TestTracerLifecycle(t *testing.T) {
	t.Run("AllocBeforeInitStillRecords", func(t *testing.T) {
		tr := New(testConfig())

		ptr := tr.Alloc(1, 64)
		if ptr == nil {
			t.Fatal("expected a non-nil pointer even before Init")
		}
	})

	t.Run("InitThenAllocThenFlushReachesSnapshot", func(t *testing.T) {
		tr := New(testConfig())
		tr.Init(context.Background())

		tr.Alloc(1, 128)
		tr.Flush()

		rows := tr.Snapshot().ByFunction("")
		if len(rows) == 0 {
			t.Error("expected at least one symbol after flush")
		}

		reached := false
		for _, row := range rows {
			if row.TotalBytes == 128 {
				reached = true
			}
		}
		if !reached {
			t.Errorf("expected a symbol carrying the 128-byte allocation, got %+v", rows)
		}
	})

	t.Run("ExitStopsWorkerCleanly", func(t *testing.T) {
		cfg := testConfig()
		cfg.HandoffQueueCapacity = 8

		tr := New(cfg)
		tr.Init(context.Background())

		tr.Alloc(1, 32)
		tr.Flush()

		if err := tr.Exit(); err != nil {
			t.Errorf("expected clean exit, got %v", err)
		}
	})
}

func TestTracerAllocFreeRealloc(t *testing.T) {
	t.Run("FreeOfAllocatedPointerNetsToZero", func(t *testing.T) {
		tr := New(testConfig())
		tr.Init(context.Background())

		ptr := tr.Alloc(1, 256)
		tr.Free(1, ptr)
		tr.Flush()

		rows := tr.Snapshot().Leaks()
		if len(rows) != 0 {
			t.Errorf("expected no live leaks after matching free, got %+v", rows)
		}
	})

	t.Run("ReallocGrowsAndTracksNewSize", func(t *testing.T) {
		tr := New(testConfig())
		tr.Init(context.Background())

		ptr := tr.Alloc(1, 16)
		grown := tr.Realloc(1, ptr, 512)

		if grown == nil {
			t.Fatal("expected non-nil pointer from grow realloc")
		}
	})

	t.Run("AlignedRoundTrip", func(t *testing.T) {
		tr := New(testConfig())
		tr.Init(context.Background())

		ptr := tr.AllocAligned(1, 64, 64)
		if ptr == nil {
			t.Fatal("expected non-nil aligned pointer")
		}

		tr.FreeAligned(1, ptr)
	})
}

func TestTracerTelemetry(t *testing.T) {
	t.Run("RotationOnEveryAllocKeepsCountersNonNegative", func(t *testing.T) {
		cfg := testConfig()
		cfg.ChunkPerThread = 2
		cfg.AllocPerChunk = 1 // force rotation on every allocation

		tr := New(cfg)
		tr.Init(context.Background())

		for i := 0; i < 8; i++ {
			tr.Alloc(1, 8)
		}

		// Not asserting a nonzero count here: with HandoffQueueCapacity 0
		// every full chunk is processed synchronously and is Treated again
		// before the producer rotates onto it, so backpressure does not fire.
		// The calls must never panic and counters must stay non-negative.
		counters := tr.Telemetry().Snapshot()
		if counters.HandoffBackpressure < 0 {
			t.Errorf("expected non-negative backpressure counter, got %d", counters.HandoffBackpressure)
		}
	})
}
