package lm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxwave/decoder/api"
)

const backoffARPA = `
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

func buildTestStore(t *testing.T, text string) *Store {
	t.Helper()
	s, err := buildFromReader(strings.NewReader(text), api.DefaultOptions())
	require.NoError(t, err)
	return s
}

func TestGetNgramLogprobExactBigramMatch(t *testing.T) {
	s := buildTestStore(t, backoffARPA)
	a, b := s.WordID("A"), s.WordID("B")

	var sid int32
	lp := s.GetNgramLogprob([]int32{b, a}, 2, &sid) // newest-first: predicted=B, context=A
	assert.Equal(t, float32(-0.3), lp)
}

func TestGetNgramLogprobBacksOffToUnigram(t *testing.T) {
	s := buildTestStore(t, backoffARPA)
	c := s.WordID("C_UNSEEN") // unseen -> maps to unk
	b := s.WordID("B")
	require.Equal(t, s.UnkSymbol(), c)

	var sid int32
	lp := s.GetNgramLogprob([]int32{b, c}, 2, &sid)
	// "C" unigram doesn't exist in this ARPA -> backoff contributes 0,
	// recursion falls through to logprob(B) alone.
	assert.Equal(t, float32(-2.0), lp)
}

func TestGetNgramLogprobClampsOrderAboveMax(t *testing.T) {
	s := buildTestStore(t, backoffARPA)
	a, b := s.WordID("A"), s.WordID("B")

	var sid int32
	// trigram (context A,A predicting B) doesn't exist (max order is 2
	// in this LM); clamps to order 2 and resolves the same as the
	// direct bigram query.
	lp := s.GetNgramLogprob([]int32{b, a, a}, 3, &sid)
	assert.Equal(t, float32(-0.3), lp)
}

func TestRoundTripWordIDsToState(t *testing.T) {
	s := buildTestStore(t, backoffARPA)
	a, b := s.WordID("A"), s.WordID("B")

	var sid int32
	s.GetNgramLogprob([]int32{b, a}, 2, &sid)

	ids, order := s.GetWordIDsByState(sid)
	var sid2 int32
	s.GetNgramLogprob(ids, order, &sid2)
	assert.Equal(t, sid, sid2)
}

func TestBuildDeterminism(t *testing.T) {
	s1 := buildTestStore(t, backoffARPA)
	s2 := buildTestStore(t, backoffARPA)

	require.Equal(t, len(s1.states), len(s2.states))
	for i := range s1.states {
		assert.Equal(t, s1.states[i].HashSignature, s2.states[i].HashSignature, "state %d", i)
		assert.Equal(t, s1.states[i].RecoStateID, s2.states[i].RecoStateID, "state %d", i)
	}
}

func TestCollisionChainLengthUnderBudget(t *testing.T) {
	var b strings.Builder
	b.WriteString("\\data\\\n")
	const vocab = 2000
	b.WriteString("ngram 1=")
	b.WriteString(itoa(vocab))
	b.WriteString("\n")
	const bigrams = 6000
	b.WriteString("ngram 2=")
	b.WriteString(itoa(bigrams))
	b.WriteString("\n\n\\1-grams:\n")
	for i := 0; i < vocab; i++ {
		b.WriteString("-1.0 w")
		b.WriteString(itoa(i))
		b.WriteString("\n")
	}
	b.WriteString("\n\\2-grams:\n")
	for i := 0; i < bigrams; i++ {
		b.WriteString("-1.0 w")
		b.WriteString(itoa(i % vocab))
		b.WriteString(" w")
		b.WriteString(itoa((i + 1) % vocab))
		b.WriteString("\n")
	}
	b.WriteString("\\end\\\n")

	s := buildTestStore(t, b.String())

	maxChain := 0
	for _, head := range s.slots[1] {
		length := 0
		for idx := head; idx != -1; idx = s.states[idx].ChainNext {
			length++
		}
		if length > maxChain {
			maxChain = length
		}
	}
	assert.Less(t, maxChain, 16, "HASH_REDUNDANT=0.5 should keep chains short")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
