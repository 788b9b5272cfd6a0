// Package lookup implements the per-WFST-state token lookup table
// described in spec.md §4.C: the serialization point for recombination.
package lookup

import (
	"math"
	"sync/atomic"
)

// sentinel is the worst-possible cost, used to seed token_pack before any
// proposal has been installed for a frame.
const sentinel = math.MaxFloat32

// Elem is the TokenLookupElem from spec.md §3: one per WFST state.
type Elem struct {
	// TokenHandle is a packed (frame, local_idx) slot for the currently
	// installed token. ResetAll clears it to 0; nothing else in this
	// repository writes it — the kernel reads winners through Winner().
	TokenHandle atomic.Uint64

	active atomic.Bool

	// pack is the atomic cell: high 32 bits are the cost (as a
	// monotone-under-unsigned-compare bit pattern), low 32 bits are the
	// token index in the per-arc scratch buffer.
	pack atomic.Uint64

	// TokenStateIndex is written once, the first time this state
	// becomes active in a frame (spec.md §4.C).
	TokenStateIndex atomic.Int64
}

// Table is one Elem per WFST state, reset between frames.
type Table struct {
	elems []Elem
}

// NewTable allocates a table sized to the number of WFST states.
func NewTable(numStates int) *Table {
	t := &Table{elems: make([]Elem, numStates)}
	t.ResetAll()
	return t
}

// NumStates returns the number of WFST states this table covers.
func (t *Table) NumStates() int {
	return len(t.elems)
}

// Elem returns the Elem for the given state id.
func (t *Table) Elem(state int) *Elem {
	return &t.elems[state]
}

// ResetAll clears active/pack/tokenStateIndex for every state, for reuse
// at the start of a new frame.
func (t *Table) ResetAll() {
	for i := range t.elems {
		t.elems[i].active.Store(false)
		t.elems[i].pack.Store(packCostIndex(sentinel, math.MaxUint32))
		t.elems[i].TokenStateIndex.Store(-1)
		t.elems[i].TokenHandle.Store(0)
	}
}

// packCostIndex packs a (cost, index) pair into a uint64 whose unsigned
// ordering matches cost ordering, per spec.md §4.C: "the pair is
// monotone in cost so a single compare-and-swap implements 'keep the
// cheaper incoming token'". IEEE-754 float32 bit patterns are monotone
// under unsigned integer comparison for all non-negative costs; decoder
// costs (negative log-probabilities summed with graph/acoustic costs)
// are conventionally non-negative in this design, matching Kaldi-style
// decoders this spec is modeled on.
func packCostIndex(cost float32, index uint32) uint64 {
	bits := uint64(math.Float32bits(cost))
	return bits<<32 | uint64(index)
}

// UnpackCostIndex reverses packCostIndex, returning the cost and index.
func UnpackCostIndex(packed uint64) (cost float32, index uint32) {
	bits := uint32(packed >> 32)
	return math.Float32frombits(bits), uint32(packed & 0xffffffff)
}

// PackedCell adapts an *Elem to the reco.PackCell interface.
type PackedCell struct {
	elem *Elem
}

// Cell returns a reco.PackCell view over this element's pack field.
func (e *Elem) Cell() PackedCell {
	return PackedCell{elem: e}
}

// Load implements reco.PackCell.
func (c PackedCell) Load() uint64 {
	return c.elem.pack.Load()
}

// TryInstall attempts to install (cost, tokenIdx) as the winning
// proposal for this state, per spec.md §4.C/§4.D: "if new_cost < cutoff
// attempt atomic installation ... If the install wins [and] active was
// previously false, the inserter also allocates the TokenState slot".
//
// It returns (won, firstActivation): won is true if this call's
// proposal is the current value of the cell after the call (it may be
// superseded by a later, cheaper proposal from another goroutine before
// the caller observes it — callers must not assume `won` stays true
// forever, only that it *was* true at install time, which is sufficient
// for spec.md §4.D's "if the install wins, write a Token ... and flag
// the arc's token slot as updated"). firstActivation is true exactly
// once per frame, for the goroutine that flips active from false to
// true.
func (e *Elem) TryInstall(cost float32, tokenIdx uint32) (won, firstActivation bool) {
	proposal := packCostIndex(cost, tokenIdx)
	for {
		cur := e.pack.Load()
		curCost, _ := UnpackCostIndex(cur)
		if cost >= curCost {
			return false, false
		}
		if e.pack.CompareAndSwap(cur, proposal) {
			firstActivation = !e.active.Swap(true)
			return true, firstActivation
		}
		// lost the race to another proposer; reload and retry if we're
		// still cheaper than whatever won.
	}
}

// Active reports whether this state has an installed proposal this
// frame.
func (e *Elem) Active() bool {
	return e.active.Load()
}

// Winner returns the current (cost, tokenIdx) pair installed in the
// cell.
func (e *Elem) Winner() (cost float32, tokenIdx uint32) {
	return UnpackCostIndex(e.pack.Load())
}
