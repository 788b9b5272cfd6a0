package decoder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxwave/decoder/api"
	"github.com/voxwave/decoder/internal/arena"
	"github.com/voxwave/decoder/internal/graph"
)

// constScorer returns the same log-likelihood vector for every frame.
type constScorer struct {
	ll []float32
}

func (s constScorer) LogLikelihoods(ctx context.Context, frame int) ([]float32, error) {
	return s.ll, nil
}

// chainWFST builds a 3-state left-to-right graph: 0 --ilabel1--> 1
// --ilabel2--> 2(final), with no epsilon arcs.
func chainWFST() *graph.WFST {
	return &graph.WFST{
		Start:         0,
		EOffsets:      []int32{0, 1, 2, 2},
		NEOffsets:     []int32{0, 0, 0, 0},
		ArcILabels:    []int32{1, 2},
		ArcOLabels:    []int32{100, 200},
		ArcWeights:    []float32{0, 0},
		ArcNextStates: []int32{1, 2},
		Final:         []float32{inf(), inf(), 0},
	}
}

func inf() float32 {
	var f float32 = 1
	return f / 0
}

func TestDriverDecodesChainAndReachesFinal(t *testing.T) {
	wfst := chainWFST()
	scorer := constScorer{ll: []float32{0, -1, -1}}
	opts := api.DefaultOptions()

	d := NewDriver(wfst, scorer, opts)
	ctx := context.Background()
	require.NoError(t, d.Run(ctx, 2))

	assert.True(t, d.ReachedFinal())
	assert.Equal(t, 2, d.FramesDecoded())

	result, err := d.Finalize(ctx)
	require.NoError(t, err)
	assert.True(t, result.ReachedFinal)
	assert.Len(t, result.FinalFrameToks, 1)
	assert.Equal(t, int32(2), result.FinalFrameToks[0].StateID)
}

func TestDriverDiesWhenBeamPrunesEverything(t *testing.T) {
	wfst := chainWFST()
	wfst.ArcWeights[0] = 1000 // far beyond any reasonable beam
	scorer := constScorer{ll: []float32{0, 0, 0}}
	opts := api.DefaultOptions()
	opts.Beam = 1

	d := NewDriver(wfst, scorer, opts)
	ctx := context.Background()
	err := d.Run(ctx, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrDecodingDead))
}

// recombineWFST builds a graph where the epsilon closure from the start
// state activates a second state at a non-zero cost, and both of those
// states have an emitting arc to the same destination at different total
// costs — exercising real cross-source-state recombination: state 0
// (cost 0) has a direct path (weight 10) and an epsilon detour
// through state 1 (weight 5) whose own emitting arc (weight 1) reaches
// state 2 more cheaply overall (5+1=6 < 10).
func recombineWFST() *graph.WFST {
	return &graph.WFST{
		Start: 0,
		// Emitting ranges: state0=[0,1), state1=[1,2), state2=[2,2).
		EOffsets: []int32{0, 1, 2, 2},
		// Non-emitting ranges share the same backing arrays: state0's
		// single epsilon arc lives at index 2.
		NEOffsets:     []int32{2, 3, 3, 3},
		ArcILabels:    []int32{1, 1, 0},
		ArcOLabels:    []int32{10, 11, 99},
		ArcWeights:    []float32{10, 1, 5},
		ArcNextStates: []int32{2, 2, 1},
		Final:         []float32{inf(), inf(), 0},
	}
}

func TestRecombinationKeepsCheaperCandidate(t *testing.T) {
	wfst := recombineWFST()
	scorer := constScorer{ll: []float32{0, 0}}
	opts := api.DefaultOptions()

	k := NewKernel(wfst, scorer, opts)
	ctx := context.Background()
	require.NoError(t, k.InitDecoding(ctx))

	// InitDecoding's epsilon closure already activated state 1 at cost 5
	// alongside state 0 at cost 0.
	require.Equal(t, 2, k.ActiveCount())

	require.NoError(t, k.ProcessTokens(ctx, 0))
	require.NoError(t, k.ProcessNonemitting(ctx))

	require.Equal(t, 1, k.ActiveCount())
	assert.Equal(t, int32(2), k.active.At(0).StateID)
	// state0's direct path costs 10; state1's detour costs 5+1=6 and
	// must win the recombination race.
	assert.Equal(t, float32(6), k.active.At(0).Cost)
}

func TestFinalizeEmptyDecodeHasFrameZero(t *testing.T) {
	wfst := chainWFST()
	scorer := constScorer{ll: []float32{0, 0, 0}}
	opts := api.DefaultOptions()

	d := NewDriver(wfst, scorer, opts)
	ctx := context.Background()
	require.NoError(t, d.Init(ctx))

	result, err := d.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NumFramesDecode)
	assert.Len(t, result.TokensByFrame[0], 1)
	assert.False(t, result.ReachedFinal)
}

func TestCollectorReceivesEveryCompactedFrame(t *testing.T) {
	wfst := chainWFST()
	scorer := constScorer{ll: []float32{0, 0, 0}}
	opts := api.DefaultOptions()

	d := NewDriver(wfst, scorer, opts)
	collector := &recordingCollector{}
	d.SetCollector(collector)

	ctx := context.Background()
	require.NoError(t, d.Run(ctx, 2))
	_, err := d.Finalize(ctx)
	require.NoError(t, err)

	// Finalize's Close() blocks until the lattice goroutine has drained
	// every message, so reading frames here afterward is race-free.
	assert.Equal(t, []int{0, 1, 2}, collector.frames)
}

type recordingCollector struct {
	frames []int
}

func (c *recordingCollector) CollectFrame(frame int, toksStart int, states []TokenState, arcs []arena.LatLink) {
	c.frames = append(c.frames, frame)
}
