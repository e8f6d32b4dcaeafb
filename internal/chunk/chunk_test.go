package chunk

import "testing"

func TestChunkLifecycle(t *testing.T) {
	t.Run("NewChunkIsTreatedAndEmpty", func(t *testing.T) {
		c := New(4, 2)
		if c.Status() != Treated {
			t.Errorf("expected Treated, got %s", c.Status())
		}
		if c.Full() {
			t.Error("freshly created chunk should not be full")
		}
	})

	t.Run("PushEventAdvancesCursors", func(t *testing.T) {
		c := New(4, 2)
		off := c.ReserveFrames(2)
		copy(c.FrameSlice(off, 2), []uintptr{0x1000, 0x2000})
		idx := c.PushEvent(64, 0xabc, off, 2)

		if idx != 0 {
			t.Fatalf("expected first event index 0, got %d", idx)
		}
		if c.Events() != 1 {
			t.Errorf("expected 1 event, got %d", c.Events())
		}
		if c.FrameCursor != 2 {
			t.Errorf("expected frame cursor 2, got %d", c.FrameCursor)
		}
	})

	t.Run("FullWhenAllocCountReachesCapacity", func(t *testing.T) {
		c := New(2, 4)
		c.PushEvent(8, 1, -1, 0)
		c.PushEvent(8, 2, -1, 0)
		if !c.Full() {
			t.Error("expected chunk to report full at capacity")
		}
	})

	t.Run("FullWhenFrameBufferExhausted", func(t *testing.T) {
		c := New(4, 2)
		c.ReserveFrames(2)
		c.ReserveFrames(2)
		c.ReserveFrames(2)
		c.ReserveFrames(2)
		if !c.Full() {
			t.Error("expected chunk to report full once frame buffer is exhausted")
		}
	})

	t.Run("StatusTransitionsAreAtomic", func(t *testing.T) {
		c := New(4, 2)
		if !c.CompareAndSwapStatus(Treated, Pending) {
			t.Fatal("expected transition Treated->Pending to succeed")
		}
		if c.CompareAndSwapStatus(Treated, Pending) {
			t.Fatal("expected second Treated->Pending transition to fail")
		}
		if !c.CompareAndSwapStatus(Pending, Treated) {
			t.Fatal("expected transition Pending->Treated to succeed")
		}
	})

	t.Run("ResetClearsCursorsNotStatus", func(t *testing.T) {
		c := New(4, 2)
		c.PushEvent(1, 1, -1, 0)
		c.SetStatus(Pending)
		c.Reset()

		if c.AllocCount != 0 || c.FrameCursor != 0 {
			t.Error("expected Reset to zero both cursors")
		}
		if c.Status() != Pending {
			t.Error("Reset must not change status")
		}
	})

	t.Run("NewTemporaryIsMarkedTemporary", func(t *testing.T) {
		c := NewTemporary(4, 2)
		if !c.Temporary() {
			t.Error("expected NewTemporary chunk to report Temporary() true")
		}
		if c.Status() != Temporary {
			t.Errorf("expected a freshly made temporary chunk to start Temporary, got %s", c.Status())
		}
	})

	t.Run("NewIsNotTemporary", func(t *testing.T) {
		c := New(4, 2)
		if c.Temporary() {
			t.Error("expected preallocated chunk to report Temporary() false")
		}
	})
}
