package lattice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxwave/decoder/api"
	"github.com/voxwave/decoder/internal/arena"
	"github.com/voxwave/decoder/internal/decoder"
	"github.com/voxwave/decoder/internal/graph"
)

func twoStateWFST() *graph.WFST {
	return &graph.WFST{
		Start: 0,
		Final: []float32{float32FromInf(), 0},
	}
}

func float32FromInf() float32 {
	var f float32 = 1
	return f / 0
}

func TestPruneKeepsArcsWithinLatticeBeam(t *testing.T) {
	wfst := twoStateWFST()
	arcArena := arena.NewArcArena(16)
	opts := api.DefaultOptions()
	opts.LatticeBeam = 8

	p := NewPruner(wfst, arcArena, opts)

	p.CollectFrame(0, 0, []decoder.TokenState{
		{TokenHandle: arena.PackTokenRef(0, 0), StateID: 0, Cost: 0},
	}, nil)
	p.CollectFrame(1, 1, []decoder.TokenState{
		{TokenHandle: arena.PackTokenRef(1, 0), StateID: 1, Cost: 5},
	}, []arena.LatLink{
		{
			NextTokRef: arena.PackTokenRef(1, 0),
			PrevTokRef: arena.PackTokenRef(0, 0),
			GraphCost:  5,
		},
	})

	require.NoError(t, p.Prune(context.Background(), 1))

	assert.Equal(t, 0, arcArena.AprFrameSize(0))
	require.Equal(t, 1, arcArena.AprFrameSize(1))
	assert.Equal(t, 1, p.LastPruned())
}

func TestPruneDropsArcsBeyondLatticeBeam(t *testing.T) {
	// Three states: 0 (start), 1 and 2 (both final). State 0 branches to
	// both; the branch to state 2 costs far more than the best path and
	// should fall outside the lattice beam.
	wfst := &graph.WFST{
		Start: 0,
		Final: []float32{float32FromInf(), 0, 0},
	}
	arcArena := arena.NewArcArena(16)
	opts := api.DefaultOptions()
	opts.LatticeBeam = 8

	p := NewPruner(wfst, arcArena, opts)

	p.CollectFrame(0, 0, []decoder.TokenState{
		{TokenHandle: arena.PackTokenRef(0, 0), StateID: 0, Cost: 0},
	}, nil)
	p.CollectFrame(1, 1, []decoder.TokenState{
		{TokenHandle: arena.PackTokenRef(1, 0), StateID: 1, Cost: 5},
		{TokenHandle: arena.PackTokenRef(1, 1), StateID: 2, Cost: 20},
	}, []arena.LatLink{
		{
			NextTokRef: arena.PackTokenRef(1, 0),
			PrevTokRef: arena.PackTokenRef(0, 0),
			GraphCost:  5,
		},
		{
			NextTokRef: arena.PackTokenRef(1, 1),
			PrevTokRef: arena.PackTokenRef(0, 0),
			GraphCost:  20,
		},
	})

	require.NoError(t, p.Prune(context.Background(), 1))

	// Only the cheap branch (extra_cost 0) survives; the 20-cost branch
	// is 15 worse than the best path, past the LatticeBeam of 8.
	require.Equal(t, 1, arcArena.AprFrameSize(1))
}

// TestPruneCorrectsExtraCostAcrossConvergingPredecessors exercises a
// three-frame chain where two predecessor tokens (A cheap, B expensive)
// each have an arc into the same downstream token T, and a further arc
// from a common ancestor S feeds both A and B. Without the Kaldi
// correction term (tok.cost + link.cost - next.cost), the backward pass
// judges predecessor arcs purely by their own link cost and gets the
// ranking backwards: B's cheap-looking link (cost 1) into T masks that
// reaching B itself cost 10, while A's pricier-looking link (cost 5)
// masks that reaching A cost nothing. The corrected formula ranks them
// by how much worse each path really is relative to T's best cost.
func TestPruneCorrectsExtraCostAcrossConvergingPredecessors(t *testing.T) {
	wfst := &graph.WFST{
		Start: 0,
		Final: []float32{float32FromInf(), float32FromInf(), float32FromInf(), 0},
	}
	arcArena := arena.NewArcArena(16)
	opts := api.DefaultOptions()
	opts.LatticeBeam = 3

	p := NewPruner(wfst, arcArena, opts)

	tokS := arena.PackTokenRef(0, 0)
	tokA := arena.PackTokenRef(1, 0)
	tokB := arena.PackTokenRef(1, 1)
	tokT := arena.PackTokenRef(2, 0)

	p.CollectFrame(0, 0, []decoder.TokenState{
		{TokenHandle: tokS, StateID: 0, Cost: 0},
	}, nil)
	p.CollectFrame(1, 1, []decoder.TokenState{
		{TokenHandle: tokA, StateID: 1, Cost: 0},
		{TokenHandle: tokB, StateID: 2, Cost: 10},
	}, []arena.LatLink{
		{NextTokRef: tokA, PrevTokRef: tokS, GraphCost: 0},
		{NextTokRef: tokB, PrevTokRef: tokS, GraphCost: 10},
	})
	p.CollectFrame(2, 3, []decoder.TokenState{
		{TokenHandle: tokT, StateID: 3, Cost: 5},
	}, []arena.LatLink{
		{NextTokRef: tokT, PrevTokRef: tokA, GraphCost: 5},
		{NextTokRef: tokT, PrevTokRef: tokB, GraphCost: 1},
	})

	require.NoError(t, p.Prune(context.Background(), 2))

	// T itself is the best-final token (extra_cost 0), so both arcs
	// feeding it survive regardless of the correction.
	require.Equal(t, 2, arcArena.AprFrameSize(2))

	// Only the arc feeding A (the genuinely cheap predecessor, extra_cost
	// 0) should survive into frame 1; the arc feeding B (extra_cost 6,
	// past the beam of 3) must not.
	require.Equal(t, 1, arcArena.AprFrameSize(1))
	survivor := arcArena.Apr()[arcArena.AprFrameSize(0)]
	assert.Equal(t, tokA, survivor.NextTokRef)
}

func TestPruneWaitsForAFinalReachingFrame(t *testing.T) {
	wfst := twoStateWFST()
	arcArena := arena.NewArcArena(16)
	opts := api.DefaultOptions()

	p := NewPruner(wfst, arcArena, opts)
	// State 0 never reaches a final cost on its own.
	p.CollectFrame(0, 0, []decoder.TokenState{
		{TokenHandle: arena.PackTokenRef(0, 0), StateID: 0, Cost: 0},
	}, nil)

	require.NoError(t, p.Prune(context.Background(), 0))
	assert.Equal(t, -1, p.LastPruned())
}
