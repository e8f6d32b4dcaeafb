// Package dict implements the fixed-capacity, open-addressed dictionaries
// that back every lookup in the tracer's aggregation engine: the symbol
// table, the stack table, and the call-graph edge table. Entries never move
// once inserted, so every other component can hold a raw *V into a Table for
// the lifetime of the process.
package dict

import "github.com/heaptrace/heaptrace/internal/errors"

// emptyHash is the sentinel stored in unoccupied slots. A real key hash that
// collides with it is remapped by flipping its low bit, so the sentinel
// never collides with an occupied slot in practice.
const emptyHash = ^uint64(0)

type slot[K comparable, V any] struct {
	hash     uint64
	key      K
	value    V
	occupied bool
}

// Table is a bounded open-addressed hash table with linear probing. Capacity
// is fixed at construction and the table is never resized or rehashed.
type Table[K comparable, V any] struct {
	name     string
	slots    []slot[K, V]
	hasher   func(K) uint64
	capacity int

	len         int
	probeHWM    int // high-water mark of probe length ever observed
	full        bool
	discardZero V // returned via the discard slot's address when the table is full
}

// New creates a Table of the given capacity. hasher must be deterministic
// for equal keys. name is used only for diagnostics (errors.DictionaryFull).
func New[K comparable, V any](name string, capacity int, hasher func(K) uint64) *Table[K, V] {
	if capacity < 1 {
		capacity = 1
	}

	return &Table[K, V]{
		name:     name,
		slots:    make([]slot[K, V], capacity),
		hasher:   hasher,
		capacity: capacity,
	}
}

func normalize(h uint64) uint64 {
	if h == emptyHash {
		return h ^ 1
	}

	return h
}

// Upsert returns a stable pointer to the slot for key, inserting a
// zero-valued entry on first observation. ok is false when the table is
// full and the key was not already present; in that case the returned
// pointer addresses the table's single scratch value, which every rejected
// key shares and which no occupied slot uses, so writes through it never
// reach a stored entry.
func (t *Table[K, V]) Upsert(key K) (value *V, ok bool) {
	h := normalize(t.hasher(key))
	idx := int(h % uint64(t.capacity))

	for probe := 0; probe < t.capacity; probe++ {
		s := &t.slots[idx]

		if !s.occupied {
			s.occupied = true
			s.hash = h
			s.key = key
			t.len++

			if probe > t.probeHWM {
				t.probeHWM = probe
			}

			return &s.value, true
		}

		if s.hash == h && s.key == key {
			if probe > t.probeHWM {
				t.probeHWM = probe
			}

			return &s.value, true
		}

		idx = (idx + 1) % t.capacity
	}

	t.full = true

	return &t.discardZero, false
}

// Lookup returns the slot for key without inserting, and whether it exists.
func (t *Table[K, V]) Lookup(key K) (value *V, ok bool) {
	h := normalize(t.hasher(key))
	idx := int(h % uint64(t.capacity))

	for probe := 0; probe < t.capacity; probe++ {
		s := &t.slots[idx]
		if !s.occupied {
			return nil, false
		}

		if s.hash == h && s.key == key {
			return &s.value, true
		}

		idx = (idx + 1) % t.capacity
	}

	return nil, false
}

// Range iterates occupied entries in slot order. Stops early if fn returns false.
func (t *Table[K, V]) Range(fn func(key K, value *V) bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.occupied {
			if !fn(s.key, &s.value) {
				return
			}
		}
	}
}

// Len returns the number of occupied slots.
func (t *Table[K, V]) Len() int { return t.len }

// Cap returns the fixed capacity.
func (t *Table[K, V]) Cap() int { return t.capacity }

// ProbeHighWater returns the longest probe sequence ever needed to satisfy
// a successful Upsert; Lookup does not update it.
func (t *Table[K, V]) ProbeHighWater() int { return t.probeHWM }

// Full reports whether the table has ever rejected an insert.
func (t *Table[K, V]) Full() bool { return t.full }

// Err returns a DictionaryFull error describing this table's state, or nil
// if it has never overflowed.
func (t *Table[K, V]) Err() error {
	if !t.full {
		return nil
	}

	return errors.DictionaryFull(t.name, t.capacity)
}
