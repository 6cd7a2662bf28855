// Package object implements the subscriber lifetime mechanism described in
// the core's object-lifecycle design. The original source identifies a
// live subscriber with a raw self-pointer (ProtoObject::self) compared at
// delivery time; that is unsound under moves and racy under concurrent
// access in a language without move semantics tied to identity. This
// package replaces it with a handle table: objects hold an (index,
// generation) pair into a central slot map, and a slot's generation is
// bumped on release, so any Handle copied out before release compares
// unequal to the slot's current generation forever after — the "skip if
// dead" contract from the original design, without address fragility.
package object

import "sync"

// Handle identifies one registration in a Table. The zero Handle is never
// valid (Table reserves index 0).
type Handle struct {
	index      uint32
	generation uint32
}

// Valid reports whether h could possibly refer to a live slot. It does not
// consult a Table; use Table.Alive for a live check.
func (h Handle) Valid() bool { return h.index != 0 }

type slot struct {
	generation uint32
	alive      bool
}

// Table is a generation-counted slot map. One Table is owned by a single
// Runtime (see package app); tests construct their own.
type Table struct {
	mu    sync.Mutex
	slots []slot
	free  []uint32
}

// NewTable returns an empty handle table.
func NewTable() *Table {
	t := &Table{}
	// index 0 is reserved so the zero Handle is never valid.
	t.slots = append(t.slots, slot{})
	return t
}

// Acquire allocates a new handle. The returned handle's generation is
// unique among all handles ever issued for its index.
func (t *Table) Acquire() Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[idx].alive = true
		return Handle{index: idx, generation: t.slots[idx].generation}
	}

	idx := uint32(len(t.slots))
	t.slots = append(t.slots, slot{generation: 1, alive: true})
	return Handle{index: idx, generation: 1}
}

// Release invalidates h. Any Handle value equal to h (copied before
// Release) becomes permanently stale: Alive reports false for it forever,
// even if the slot is later reused by a different object.
func (t *Table) Release(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(h.index) >= len(t.slots) {
		return
	}
	s := &t.slots[h.index]
	if !s.alive || s.generation != h.generation {
		return // already released, or stale handle
	}
	s.alive = false
	s.generation++
	t.free = append(t.free, h.index)
}

// Alive reports whether h still refers to a live, un-released slot.
func (t *Table) Alive(h Handle) bool {
	if !h.Valid() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(h.index) >= len(t.slots) {
		return false
	}
	s := t.slots[h.index]
	return s.alive && s.generation == h.generation
}

// noCopy marks a struct non-copyable to `go vet -copylocks`: embedding it
// (as Base does) and then passing the embedding struct by value triggers a
// vet warning, matching the original source's non-copyable Object
// invariant ("Objects are non-copyable to preserve token uniqueness").
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Base is embedded by every subscriber-capable type. It owns a Handle in
// some Table, allocated at construction (Init) and released at destruction
// (Close). Base itself never follows the handle for dispatch — signal
// delivery only ever compares it against Table.Alive, per the original
// design's "identity is read during delivery only; it is never followed
// for method dispatch."
type Base struct {
	_      noCopy
	table  *Table
	handle Handle
}

// Init anchors Base to a fresh handle in t. Must be called exactly once,
// before the object is published to any Signal.
func (b *Base) Init(t *Table) {
	b.table = t
	b.handle = t.Acquire()
}

// Handle returns the object's identity token.
func (b *Base) Handle() Handle { return b.handle }

// Close releases the object's handle. After Close, any Signal holding a
// stale reference to this object will skip it on delivery.
func (b *Base) Close() {
	if b.table != nil {
		b.table.Release(b.handle)
	}
}
