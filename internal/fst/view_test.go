package fst

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gtassert "gotest.tools/v3/assert"

	"github.com/voxwave/decoder/api"
	"github.com/voxwave/decoder/internal/lm"
)

const viewTestARPA = `
\data\
ngram 1=2
ngram 2=1

\1-grams:
-1.0 A -0.5
-2.0 B

\2-grams:
-0.3 A B

\end\
`

func buildTestView(t *testing.T) (*View, *lm.Store) {
	t.Helper()
	store, err := lm.BuildFromReader(strings.NewReader(viewTestARPA), api.DefaultOptions())
	require.NoError(t, err)
	v, err := NewView(store, 16)
	require.NoError(t, err)
	return v, store
}

func TestViewGetArcMatchesStoreLogprob(t *testing.T) {
	v, store := buildTestView(t)
	a := store.WordID("A")

	start := v.Start()
	arc, ok := v.GetArc(start, a)
	require.True(t, ok)
	assert.Equal(t, a, arc.ILabel)
	assert.NotEqual(t, float32(0), arc.Weight)
}

func TestViewCachesRepeatedLookups(t *testing.T) {
	v, store := buildTestView(t)
	a, b := store.WordID("A"), store.WordID("B")

	start := v.Start()
	arc1, ok := v.GetArc(start, a)
	require.True(t, ok)
	mid := arc1.NextState
	arc2, ok := v.GetArc(mid, b)
	require.True(t, ok)
	// Re-querying the same (state, ilabel) pair must return the cached,
	// identical arc rather than recomputing.
	arc2Again, ok := v.GetArc(mid, b)
	require.True(t, ok)
	assert.Equal(t, arc2, arc2Again)
	gtassert.Equal(t, arc2.NextState, arc2Again.NextState)
}

func TestViewFinalIsNotNaNForBOSState(t *testing.T) {
	v, _ := buildTestView(t)
	fc := v.Final(v.Start())
	assert.False(t, math.IsNaN(float64(fc)))
}

func TestViewGetArcReturnsNoArcForUnknownWord(t *testing.T) {
	v, _ := buildTestView(t)
	// A word id past the end of the vocabulary was never built as a
	// real unigram entry: GetArc must report no-arc rather than
	// fabricating a cost for it.
	_, ok := v.GetArc(v.Start(), 9999)
	assert.False(t, ok)
}
