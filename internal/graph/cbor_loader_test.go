package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func TestFileLoaderRoundTrips(t *testing.T) {
	want := wireWFST{
		Start:         0,
		EOffsets:      []int32{0, 1, 1},
		NEOffsets:     []int32{0, 0, 0},
		ArcILabels:    []int32{5},
		ArcOLabels:    []int32{5},
		ArcWeights:    []float32{1.5},
		ArcNextStates: []int32{1},
		Final:         []float32{float32FromInf(), 0},
	}
	data, err := cbor.Marshal(want)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "graph.cbor")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loader := NewFileLoader(path)
	wfst, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, wfst.NumStates())
	require.Equal(t, float32(1.5), wfst.ArcWeights[0])
	require.Equal(t, float32(0), wfst.FinalCost(1))
}

func TestFileLoaderRejectsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loader := NewFileLoader("unused")
	_, err := loader.Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
