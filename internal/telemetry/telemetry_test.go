package telemetry

import (
	"testing"

	"github.com/heaptrace/heaptrace/internal/errors"
)

func TestRecord(t *testing.T) {
	t.Run("BumpsMatchingCounter", func(t *testing.T) {
		l := New(8)

		l.Record(errors.CategoryDictionaryFull, "stacks is full at capacity 64")

		if got := l.Snapshot().DictionaryFull; got != 1 {
			t.Errorf("expected DictionaryFull counter 1, got %d", got)
		}
	})

	t.Run("UnrecognizedCategoryStillAppendsToRing", func(t *testing.T) {
		l := New(8)

		l.Record(errors.CategoryConfig, "schema mismatch")

		recent := l.Recent(1)
		if len(recent) != 1 || recent[0].Message != "schema mismatch" {
			t.Errorf("expected the event to be recorded regardless of counter mapping, got %+v", recent)
		}
	})
}

func TestRecordErr(t *testing.T) {
	t.Run("NilIsNoop", func(t *testing.T) {
		l := New(8)
		l.RecordErr(nil)

		if len(l.Recent(8)) != 0 {
			t.Error("expected no event recorded for a nil error")
		}
	})

	t.Run("StandardErrorDerivesCategory", func(t *testing.T) {
		l := New(8)
		l.RecordErr(errors.AllocatorFailed(128))

		if got := l.Snapshot().AllocatorFailure; got != 1 {
			t.Errorf("expected AllocatorFailure counter 1, got %d", got)
		}
	})
}

func TestRingCapacity(t *testing.T) {
	t.Run("OldestEventsAreEvictedFirst", func(t *testing.T) {
		l := New(2)

		l.Record(errors.CategoryConfig, "first")
		l.Record(errors.CategoryConfig, "second")
		l.Record(errors.CategoryConfig, "third")

		recent := l.Recent(2)
		if len(recent) != 2 || recent[0].Message != "second" || recent[1].Message != "third" {
			t.Errorf("expected ring to retain only the 2 most recent events, got %+v", recent)
		}
	})

	t.Run("RecentNeverReturnsMoreThanRequested", func(t *testing.T) {
		l := New(8)

		l.Record(errors.CategoryConfig, "a")
		l.Record(errors.CategoryConfig, "b")
		l.Record(errors.CategoryConfig, "c")

		if got := l.Recent(1); len(got) != 1 || got[0].Message != "c" {
			t.Errorf("expected exactly the single most recent event, got %+v", got)
		}
	})
}
