package perflow

import "sync/atomic"

// DefaultCounterTableCapacity is the default fixed capacity of a
// CounterTable, per spec §4.2.
const DefaultCounterTableCapacity = 65536

type slotState uint32

const (
	slotEmpty slotState = iota
	slotOccupied
	slotTombstoned
)

type counterSlot struct {
	state slotState // atomic; see Increment/find for ordering
	stack CallStack
	count uint64
}

// CounterTable is a pre-allocated, open-addressed map from CallStack to
// a u64 count, with fixed capacity. It is owned by exactly one worker
// thread/goroutine and may be mutated concurrently by a signal handler
// interrupting that same thread (spec §4.2/§5): the slot state is
// published with release ordering and observed with acquire ordering so
// that a handler preempting an in-flight insert never reads a
// half-written slot.
//
// No operation on the fast path (Increment) acquires a lock.
type CounterTable struct {
	slots    []counterSlot
	size     atomic.Uint64
	dropped  atomic.Uint64
	capacity int
}

// NewCounterTable allocates a CounterTable with the given fixed
// capacity. Capacity is rounded up internally only in the sense that
// all `capacity` slots are pre-allocated up front; it is never resized.
func NewCounterTable(capacity int) *CounterTable {
	if capacity <= 0 {
		capacity = DefaultCounterTableCapacity
	}
	return &CounterTable{
		slots:    make([]counterSlot, capacity),
		capacity: capacity,
	}
}

// Size returns the number of occupied entries.
func (t *CounterTable) Size() uint64 { return t.size.Load() }

// Dropped returns the number of samples dropped because the table was
// full at insertion time.
func (t *CounterTable) Dropped() uint64 { return t.dropped.Load() }

// Capacity returns the table's fixed number of slots.
func (t *CounterTable) Capacity() int { return t.capacity }

func (t *CounterTable) slotFor(hash uint64) int {
	return int(hash % uint64(t.capacity))
}

// find returns the index of the occupied slot matching key, or -1 if
// absent. It never mutates the table.
func (t *CounterTable) find(key *CallStack) int {
	hash := key.Hash()
	start := t.slotFor(hash)
	for i := 0; i < t.capacity; i++ {
		idx := (start + i) % t.capacity
		slot := &t.slots[idx]
		state := slotState(atomic.LoadUint32((*uint32)(&slot.state)))
		if state == slotEmpty {
			return -1
		}
		if state == slotOccupied && slot.stack.Equal(key) {
			return idx
		}
	}
	return -1
}

// Find returns the current count for key and true if present.
func (t *CounterTable) Find(key *CallStack) (uint64, bool) {
	idx := t.find(key)
	if idx < 0 {
		return 0, false
	}
	return t.slots[idx].count, true
}

// InsertOrGet returns the index of the slot holding key, creating an
// occupied zero-count entry if key is not yet present. It returns -1 if
// the table is full and key is not already present, incrementing the
// drop counter. Safe to call from a signal handler: no allocation, no
// lock, and claiming a slot publishes the key/value before the state
// transition (release), which is what makes it safe for the same
// thread's handler to observe a consistent view.
func (t *CounterTable) InsertOrGet(key *CallStack) int {
	hash := key.Hash()
	start := t.slotFor(hash)
	tombstone := -1

	for i := 0; i < t.capacity; i++ {
		idx := (start + i) % t.capacity
		slot := &t.slots[idx]
		state := slotState(atomic.LoadUint32((*uint32)(&slot.state)))

		switch state {
		case slotOccupied:
			if slot.stack.Equal(key) {
				return idx
			}
		case slotTombstoned:
			if tombstone < 0 {
				tombstone = idx
			}
		case slotEmpty:
			claim := idx
			if tombstone >= 0 {
				claim = tombstone
			}
			return t.claim(claim, key)
		}
	}

	if tombstone >= 0 {
		return t.claim(tombstone, key)
	}

	t.dropped.Add(1)
	return -1
}

func (t *CounterTable) claim(idx int, key *CallStack) int {
	slot := &t.slots[idx]
	slot.stack = key.Clone()
	slot.count = 0
	atomic.StoreUint32((*uint32)(&slot.state), uint32(slotOccupied))
	t.size.Add(1)
	return idx
}

// Increment records one more observation of key, returning true unless
// the table was full and key was not already present (in which case the
// sample is dropped and the drop counter is incremented, per spec §4.2
// failure mode).
func (t *CounterTable) Increment(key *CallStack) bool {
	return t.Add(key, 1)
}

// Add records delta additional observations of key. Returns false (and
// drops the sample) only when the table is full and key is absent.
func (t *CounterTable) Add(key *CallStack, delta uint64) bool {
	idx := t.InsertOrGet(key)
	if idx < 0 {
		return false
	}
	t.slots[idx].count += delta
	return true
}

// Erase tombstones the slot holding key, if present. Not used on the
// sampling fast path (spec §3).
func (t *CounterTable) Erase(key *CallStack) bool {
	idx := t.find(key)
	if idx < 0 {
		return false
	}
	slot := &t.slots[idx]
	atomic.StoreUint32((*uint32)(&slot.state), uint32(slotTombstoned))
	slot.count = 0
	t.size.Add(^uint64(0)) // size--
	return true
}

// ForEach invokes fn for every occupied entry, in slot order (spec §4.2
// notes artifact/entry order is unspecified; this iteration order is an
// implementation detail, not a guarantee). fn must not mutate the
// table.
func (t *CounterTable) ForEach(fn func(stack *CallStack, count uint64)) {
	for i := range t.slots {
		slot := &t.slots[i]
		if slotState(atomic.LoadUint32((*uint32)(&slot.state))) == slotOccupied {
			fn(&slot.stack, slot.count)
		}
	}
}

// Clear resets every slot to empty and zeroes the counters. Not safe to
// call concurrently with a signal handler; intended for use between
// sampling sessions (e.g. from Sampler.Finalize after the interrupt
// source has been disarmed).
func (t *CounterTable) Clear() {
	for i := range t.slots {
		t.slots[i] = counterSlot{}
	}
	t.size.Store(0)
	t.dropped.Store(0)
}
