// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

// Package handle provides a generation-tagged arena of opaque handles.
//
// A Handle packs three fields into a uint64:
//
//	bits 63..32  generation of the owning module context
//	bits 31..20  slot serial, bumped every time a slot is freed
//	bits 19..0   slot index + 1
//
// Handle 0 is reserved and never issued. Resolving a handle whose
// generation has been revoked, or whose slot has since been reused, is
// rejected in O(1) without scanning the arena.
//
// A slot cycles through Serials serials. When its serial wraps it is
// retired instead of reused, and returns to service only after every
// generation that was open at the wrap has been revoked. A handle can
// therefore never match a later occupant of its slot, however long it is
// held. Generations must not be reopened once revoked.
package handle

import (
	"errors"
	"fmt"
	"sync"
)

// Handle is an opaque token referencing a pinned value in a Table.
type Handle uint64

const (
	indexBits  = 20
	serialBits = 12
	maxSlots   = 1<<indexBits - 1
	serialMask = 1<<serialBits - 1
)

// Serials is the number of distinct serials a slot cycles through.
const Serials = 1 << serialBits

// Sentinel errors for programmatic error checking.
var (
	// ErrInvalid is returned for the zero handle, out-of-range handles and
	// handles whose slot has been freed.
	ErrInvalid = errors.New("invalid handle")
	// ErrStale is returned for handles whose generation was revoked or
	// whose slot was reused by a later allocation.
	ErrStale = errors.New("stale handle")
	// ErrGenerationClosed is returned when allocating into a generation
	// that is not open.
	ErrGenerationClosed = errors.New("generation not open")
	// ErrFull is returned when the arena has no free slot left.
	ErrFull = errors.New("handle table full")
)

// Make assembles a handle from its parts.
func Make(generation uint32, serial uint16, index uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(serial&serialMask)<<indexBits | uint64(index+1)&maxSlots)
}

// Generation returns the generation tag embedded in h.
func (h Handle) Generation() uint32 {
	return uint32(h >> 32)
}

func (h Handle) serial() uint16 {
	return uint16(h >> indexBits & serialMask)
}

// index returns the slot index and false for the zero index field.
func (h Handle) index() (uint32, bool) {
	raw := uint32(h & maxSlots)
	if raw == 0 {
		return 0, false
	}
	return raw - 1, true
}

// String renders the handle for logs.
func (h Handle) String() string {
	return fmt.Sprintf("0x%016x", uint64(h))
}

type slot[T any] struct {
	value      T
	generation uint32
	serial     uint16
	used       bool
}

// Table is a generation-tagged arena. The zero value is not usable; call
// NewTable.
//
// Table is safe for concurrent use.
type Table[T any] struct {
	slots   []slot[T]
	free    []uint32
	open    map[uint32]int                 // generation -> live slot count
	retired map[uint32]map[uint32]struct{} // slot index -> generations it waits on
	mu      sync.RWMutex
}

// NewTable creates an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{
		slots: make([]slot[T], 0, 64),
		free:    make([]uint32, 0, 16),
		open:    make(map[uint32]int),
		retired: make(map[uint32]map[uint32]struct{}),
	}
}

// Open marks a generation as active so handles can be allocated for it.
func (t *Table[T]) Open(generation uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.open[generation]; !ok {
		t.open[generation] = 0
	}
}

// IsOpen reports whether the generation is active.
func (t *Table[T]) IsOpen(generation uint32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.open[generation]
	return ok
}

// Allocate pins value in a free slot and returns its handle.
func (t *Table[T]) Allocate(generation uint32, value T) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.open[generation]; !ok {
		return 0, fmt.Errorf("%w: %d", ErrGenerationClosed, generation)
	}

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if len(t.slots) >= maxSlots {
			return 0, ErrFull
		}
		t.slots = append(t.slots, slot[T]{})
		idx = uint32(len(t.slots) - 1) //nolint:gosec // bounded by maxSlots
	}

	s := &t.slots[idx]
	s.value = value
	s.generation = generation
	s.used = true
	t.open[generation]++

	return Make(generation, s.serial, idx), nil
}

// lookup returns the slot for h or the reason it cannot be used.
// Callers must hold the lock.
func (t *Table[T]) lookup(h Handle) (*slot[T], uint32, error) {
	idx, ok := h.index()
	if !ok || int(idx) >= len(t.slots) {
		return nil, 0, ErrInvalid
	}
	s := &t.slots[idx]
	if s.serial != h.serial() || (s.used && s.generation != h.Generation()) {
		return nil, idx, ErrStale
	}
	if !s.used {
		return nil, idx, ErrInvalid
	}
	return s, idx, nil
}

// Resolve returns the value pinned by h.
func (t *Table[T]) Resolve(h Handle) (T, error) {
	var zero T

	t.mu.RLock()
	defer t.mu.RUnlock()

	s, _, err := t.lookup(h)
	if err != nil {
		return zero, err
	}
	if _, ok := t.open[s.generation]; !ok {
		return zero, ErrStale
	}
	return s.value, nil
}

// Free releases the pin held by h.
//
// Freeing a handle from a revoked generation is a no-op that returns nil;
// if the slot still pins the value it is released quietly. Freeing the
// zero handle or an already-freed handle of a live generation returns
// ErrInvalid or ErrStale.
func (t *Table[T]) Free(h Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, idx, err := t.lookup(h)
	if err != nil {
		if _, open := t.open[h.Generation()]; !open && h != 0 {
			return nil
		}
		return err
	}
	t.release(s, idx)
	return nil
}

// release empties a slot and returns it to the free list. Callers must hold
// the lock.
func (t *Table[T]) release(s *slot[T], idx uint32) {
	var zero T
	if n, ok := t.open[s.generation]; ok && n > 0 {
		t.open[s.generation] = n - 1
	}
	s.value = zero
	s.used = false
	s.generation = 0
	s.serial = (s.serial + 1) & serialMask
	if s.serial == 0 {
		t.retire(idx)
		return
	}
	t.free = append(t.free, idx)
}

// retire parks a slot whose serial wrapped until every generation open now
// is revoked: only those can hold handles carrying the serials it is about
// to repeat. Callers must hold the lock.
func (t *Table[T]) retire(idx uint32) {
	if len(t.open) == 0 {
		t.free = append(t.free, idx)
		return
	}
	waiting := make(map[uint32]struct{}, len(t.open))
	for g := range t.open {
		waiting[g] = struct{}{}
	}
	t.retired[idx] = waiting
}

// Revoke closes a generation. Every handle tagged with it resolves as
// ErrStale from now on. When release is true all slots still pinned by the
// generation are freed immediately; otherwise they stay pinned until the
// holder calls Free. Revoke returns the number of slots left pinned.
func (t *Table[T]) Revoke(generation uint32, release bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.open, generation)

	pinned := 0
	for i := range t.slots {
		s := &t.slots[i]
		if !s.used || s.generation != generation {
			continue
		}
		if release {
			t.release(s, uint32(i)) //nolint:gosec // bounded by maxSlots
			continue
		}
		pinned++
	}

	for idx, waiting := range t.retired {
		delete(waiting, generation)
		if len(waiting) == 0 {
			delete(t.retired, idx)
			t.free = append(t.free, idx)
		}
	}
	return pinned
}

// Pinned returns the number of slots still held for a generation, whether
// or not the generation is open.
func (t *Table[T]) Pinned(generation uint32) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for i := range t.slots {
		if t.slots[i].used && t.slots[i].generation == generation {
			n++
		}
	}
	return n
}

// Len returns the number of pinned slots across all generations.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots) - len(t.free) - len(t.retired)
}

// Retired returns the number of slots parked after a serial wrap.
func (t *Table[T]) Retired() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.retired)
}

// Handles returns the live handles of an open generation in slot order.
func (t *Table[T]) Handles(generation uint32) []Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.open[generation]; !ok {
		return nil
	}
	var out []Handle
	for i := range t.slots {
		s := &t.slots[i]
		if s.used && s.generation == generation {
			out = append(out, Make(generation, s.serial, uint32(i))) //nolint:gosec // bounded by maxSlots
		}
	}
	return out
}
