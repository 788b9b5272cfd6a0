package lm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleARPA = `
\data\
ngram 1=4
ngram 2=1

\1-grams:
-1.0 A -0.5
-2.0 B
-99.0 <unk>
-99.0 <s>

\2-grams:
-0.3 A B

\end\
`

func TestParseARPABasic(t *testing.T) {
	parsed, warnings, err := ParseARPA(strings.NewReader(sampleARPA), false)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, []int{4, 1}, parsed.DeclaredCounts)
	assert.Len(t, parsed.Entries[0], 4)
	assert.Len(t, parsed.Entries[1], 1)
	assert.Equal(t, "A", parsed.Entries[1][0].Words[0])
	assert.Equal(t, "B", parsed.Entries[1][0].Words[1])
	assert.Equal(t, float32(-0.3), parsed.Entries[1][0].LogProb)
}

func TestParseARPAMissingEnd(t *testing.T) {
	bad := strings.Replace(sampleARPA, `\end\`, "", 1)
	_, _, err := ParseARPA(strings.NewReader(bad), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

func TestParseARPAInconsistentCountTolerant(t *testing.T) {
	bad := strings.Replace(sampleARPA, "ngram 1=4", "ngram 1=99", 1)
	_, warnings, err := ParseARPA(strings.NewReader(bad), false)
	require.NoError(t, err, "inconsistent counts are tolerated unless strict")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "order 1")
}

func TestParseARPAInconsistentCountStrict(t *testing.T) {
	bad := strings.Replace(sampleARPA, "ngram 1=4", "ngram 1=99", 1)
	_, _, err := ParseARPA(strings.NewReader(bad), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared n-gram count")
}

func TestParseARPABadLogprob(t *testing.T) {
	bad := strings.Replace(sampleARPA, "-1.0 A -0.5", "notanumber A -0.5", 1)
	_, _, err := ParseARPA(strings.NewReader(bad), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad logprob")
}
