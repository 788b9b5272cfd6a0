package arena

import "sync/atomic"

// LatLink is the 32-byte lattice arc described in spec.md §3. The two
// *_tok_ref fields are packed (frame<<32)|local_idx references, produced
// by PackTokenRef/unpacked by UnpackTokenRef.
type LatLink struct {
	NextTokRef   uint64
	PrevTokRef   uint64
	ILabel       int32
	OLabel       int32
	GraphCost    float32
	AcousticCost float32
}

// PackTokenRef packs a (frame, localIdx) pair into the 64-bit reference
// used by LatLink and by Token back-pointers (spec.md §9).
func PackTokenRef(frame, localIdx int) uint64 {
	return uint64(uint32(frame))<<32 | uint64(uint32(localIdx))
}

// UnpackTokenRef reverses PackTokenRef.
func UnpackTokenRef(ref uint64) (frame, localIdx int) {
	return int(int32(ref >> 32)), int(int32(ref & 0xffffffff))
}

// ArcArena holds the "before pruning" (bpr) and "after pruning" (apr) arc
// buffers described in spec.md §3 "Frame arena layout (Arcs)". The two
// live in the same backing allocation in the reference design (a
// deliberate aliasing per spec.md §5); here bpr is a preallocated slice
// written by index, and apr is a separate slice that grows as pruned
// frames are appended, so the two do not share memory.
type ArcArena struct {
	bpr      []LatLink
	bprFront atomic.Int64

	// aprSize[frame] is the number of surviving arcs for that frame once
	// pruned; apr itself is the flattened, compacted arc stream.
	apr     []LatLink
	aprSize map[int]int
}

// NewArcArena preallocates a bpr pool of the given capacity (max_arcs).
func NewArcArena(capacity int) *ArcArena {
	return &ArcArena{
		bpr:     make([]LatLink, capacity),
		aprSize: make(map[int]int),
	}
}

// NextBprSlot reserves the next slot of the before-pruning buffer and
// returns its index; the caller then writes the arc with SetBpr.
// Concurrent callers each get a distinct slot from the atomic increment
// of the front counter, the pattern spec.md §5 describes ("atomic
// increment of its size counter").
func (a *ArcArena) NextBprSlot() int {
	return int(a.bprFront.Add(1) - 1)
}

// SetBpr writes arc into slot idx of the before-pruning buffer.
func (a *ArcArena) SetBpr(idx int, l LatLink) {
	a.bpr[idx] = l
}

// Bpr returns the full before-pruning buffer, sized to the current front.
func (a *ArcArena) Bpr() []LatLink {
	return a.bpr[:a.bprFront.Load()]
}

// BprCapacity returns max_arcs.
func (a *ArcArena) BprCapacity() int {
	return len(a.bpr)
}

// FrontBpr returns the current before-pruning front pointer, so callers
// can record where a frame's arc range starts before appending to it.
func (a *ArcArena) FrontBpr() int {
	return int(a.bprFront.Load())
}

// ResetBpr rewinds the bpr front pointer to zero without zeroing the
// buffer; the kernel calls it once per decode, from InitDecoding.
func (a *ArcArena) ResetBpr() {
	a.bprFront.Store(0)
}

// AppendApr appends surviving, pruned arcs for a frame and records the
// per-frame size, per spec.md §3's "apr ... per-frame sizes".
func (a *ArcArena) AppendApr(frame int, arcs []LatLink) {
	a.apr = append(a.apr, arcs...)
	a.aprSize[frame] = len(arcs)
}

// Apr returns the flattened, frame-ordered, pruned arc stream.
func (a *ArcArena) Apr() []LatLink {
	return a.apr
}

// AprFrameSize returns the number of surviving arcs recorded for frame.
func (a *ArcArena) AprFrameSize(frame int) int {
	return a.aprSize[frame]
}
