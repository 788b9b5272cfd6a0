// Package reco implements the dual-buffer vector with atomic
// recombination described in spec.md §4.B: a vector that supports
// concurrent append plus an in-place merge of duplicate destination
// states, via a two-pass scheme backed by a packed-cost atomic cell per
// entry (see internal/lookup for the cell itself).
package reco

import "sync"

// PackCell is the atomic cell an entry's recombination race is decided
// on. It is supplied by the caller (internal/lookup.Table) so that
// Vector stays agnostic of the lookup table's layout.
type PackCell interface {
	// Load returns the packed (cost, winningIndex) value currently
	// installed, in the same encoding TryInstall used to write it.
	Load() uint64
}

// Vector is a dual-buffer vector of T, indexed by the order entries were
// pushed. It backs the two-pass atomic token recombination described in
// spec.md §4.B: pass one appends every candidate and races to install the
// minimum-cost winner in a PackCell; pass two walks each entry's cell and
// rewrites storage so the entry's value matches the authoritative winner.
type Vector[T any] struct {
	mu      sync.Mutex
	values  []T
	cells   []PackCell
	updated []bool
}

// New returns an empty Vector with capacity preallocated.
func New[T any](capacity int) *Vector[T] {
	return &Vector[T]{
		values:  make([]T, 0, capacity),
		cells:   make([]PackCell, 0, capacity),
		updated: make([]bool, 0, capacity),
	}
}

// PushBack appends value and returns its assigned index. Safe for
// concurrent use.
func (v *Vector[T]) PushBack(value T) int {
	return v.PushBackWithCell(value, nil)
}

// PushBackWithCell appends value and records the PackCell backing this
// entry, for use during the later merge pass. Safe for concurrent use.
func (v *Vector[T]) PushBackWithCell(value T, cell PackCell) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := len(v.values)
	v.values = append(v.values, value)
	v.cells = append(v.cells, cell)
	v.updated = append(v.updated, false)
	return idx
}

// Size returns the number of entries pushed so far.
func (v *Vector[T]) Size() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.values)
}

// Clear empties the vector for reuse across frames.
func (v *Vector[T]) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values = v.values[:0]
	v.cells = v.cells[:0]
	v.updated = v.updated[:0]
}

// Values returns a copy of the current values, for use as the `temp`
// argument to a later StoreByPackIndex call once candidates may have
// raced past the snapshot point.
func (v *Vector[T]) Values() []T {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]T, len(v.values))
	copy(out, v.values)
	return out
}

// At returns the current value at index i.
func (v *Vector[T]) At(i int) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.values[i]
}

// IsUpdated reports whether entry i was overwritten by the most recent
// call to StoreByPackIndex (i.e. whether i's PackCell was won by a
// different index than the one that originally allocated the slot).
func (v *Vector[T]) IsUpdated(i int) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.updated[i]
}

// UnpackFn decodes a packed cell value into the winning entry index, in
// whatever encoding the caller's PackCell uses (see internal/lookup for
// the canonical (cost-high, index-low) uint64 packing).
type UnpackFn func(packed uint64) (winnerIndex int)

// StoreByPackIndex implements spec.md §4.B's second pass: for every
// entry i that has a recorded PackCell, decode the cell's current
// winner and, if the winner differs from i, copy temp[winner] into
// values[i] and mark i updated (IsUpdated(i) == true unless i is itself
// the winner, matching "entries whose pack cell ended up owned by
// another index are marked non-updated" read from the winner's own
// perspective — the entry that *is* the winner is left alone and is
// considered not updated, since nothing changed for it).
func (v *Vector[T]) StoreByPackIndex(temp []T, unpack UnpackFn) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.values {
		if v.cells[i] == nil {
			continue
		}
		winner := unpack(v.cells[i].Load())
		if winner != i && winner >= 0 && winner < len(temp) {
			v.values[i] = temp[winner]
			v.updated[i] = true
		} else {
			v.updated[i] = false
		}
	}
}
