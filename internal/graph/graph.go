// Package graph defines the flattened WFST representation consumed by
// the decoder (spec.md §6 "Graph input") and the external-collaborator
// interfaces spec.md §1 names as non-goals: graph loading, acoustic
// scoring, and lattice sinking.
package graph

import "context"

// WFST is the flattened recognition graph: six CSR-style arrays, states
// numbered densely from 0 (state 0 is the start state unless Start is
// overridden).
type WFST struct {
	Start int

	// EOffsets/NEOffsets are per-state CSR start offsets into the arc
	// arrays, for emitting and non-emitting arcs respectively. Length is
	// NumStates()+1.
	EOffsets  []int32
	NEOffsets []int32

	ArcILabels    []int32
	ArcOLabels    []int32
	ArcWeights    []float32
	ArcNextStates []int32

	// Final holds the final-state cost for each state, or +Inf if the
	// state is non-final. Used by Driver.ReachedFinal (spec.md §7).
	Final []float32
}

// NumStates returns the number of densely-numbered WFST states.
func (w *WFST) NumStates() int {
	if len(w.EOffsets) == 0 {
		return 0
	}
	return len(w.EOffsets) - 1
}

// EmittingArcs returns the half-open arc index range [start, end) for
// state's emitting arcs.
func (w *WFST) EmittingArcs(state int) (start, end int32) {
	return w.EOffsets[state], w.EOffsets[state+1]
}

// NonEmittingArcs returns the half-open arc index range [start, end) for
// state's non-emitting (epsilon-input) arcs.
func (w *WFST) NonEmittingArcs(state int) (start, end int32) {
	return w.NEOffsets[state], w.NEOffsets[state+1]
}

// FinalCost returns the final weight of state, or math.Inf(1) if the
// state is non-final.
func (w *WFST) FinalCost(state int) float32 {
	if state < 0 || state >= len(w.Final) {
		return float32FromInf()
	}
	return w.Final[state]
}

func float32FromInf() float32 {
	var inf float32 = 1
	inf = inf / 0
	return inf
}

// GraphLoader supplies a flattened WFST. Construction, determinization,
// composition and on-disk format are explicitly out of scope (spec.md
// §1) — this interface is the seam a real implementation plugs into.
type GraphLoader interface {
	Load(ctx context.Context) (*WFST, error)
}

// AcousticScorer supplies per-frame, per-pdf log-likelihood vectors. The
// acoustic model itself is a non-goal (spec.md §1): "a black-box
// producing per-frame per-pdf log-likelihood vectors".
type AcousticScorer interface {
	// LogLikelihoods returns the log-likelihood vector for frame,
	// indexed by pdf-id (spec.md §6: "the kernel reads
	// loglikelihoods[arc.ilabel]").
	LogLikelihoods(ctx context.Context, frame int) ([]float32, error)
}

// LatticeSink accepts the pruned arc/token buffers handed off by
// Driver.Finalize (spec.md §4.F, §6 "Outputs"). The final lattice
// serialization format is a non-goal (spec.md §1); this interface is the
// seam.
type LatticeSink interface {
	Accept(ctx context.Context, out DecodeResult) error
}

// DecodeResult is the five-handle output described in spec.md §6:
// "toks_buf ... toks_fr_sidx ... arcs_buf ... arcs_fr_size ... and the
// final-frame TokenState vector."
type DecodeResult struct {
	TokensByFrame   [][]TokenRecord
	ToksFrameStart  []int
	ArcsByFrame     [][]ArcRecord
	ArcsFrameSize   []int
	FinalFrameToks  []TokenRecord
	ReachedFinal    bool
	NumFramesDecode int
}

// TokenRecord is a host-visible copy of a Token (spec.md §3), frame- and
// local-index addressed.
type TokenRecord struct {
	Cost      float32
	Frame     int32
	ExtraCost float32
	StateID   int32
	LocalIdx  int32
}

// ArcRecord is a host-visible copy of a LatLink (spec.md §3).
type ArcRecord struct {
	NextTokRef   uint64
	PrevTokRef   uint64
	ILabel       int32
	OLabel       int32
	GraphCost    float32
	AcousticCost float32
}
