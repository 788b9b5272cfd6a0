// Package lm implements the hashed n-gram language-model store described
// in spec.md §3 ("LmState", "LM table") and §4.G: a fixed-capacity,
// multi-level hash table with collision chaining, deterministic
// pre-sampled hash coefficients per (order, vocabulary-id), and the
// reco_state_id recombination-friendly state identifier.
package lm

import "github.com/cespare/xxhash/v2"

// HashRedundant is HASH_REDUNDANT from spec.md §3: higher-order slot
// counts are sized to the next power of two above count * 2^HashRedundant.
const HashRedundant = 0.5

// DefaultHashSeed is the fixed seed spec.md §3/§9 specifies ("sampled
// deterministically at build (fixed seed)"); spec.md §9 asks that the
// seed be a build-time option, honored via Options.HashSeed.
const DefaultHashSeed uint64 = 0

// coeffTable holds R[pos][word] for pos in [0, order), generated
// deterministically from seed (spec.md §3 "Hashing"). Rather than a
// seeded math/rand stream, the sequence is derived from xxhash of
// (seed, pos, word) so it is stable across Go versions/architectures
// (SPEC_FULL.md §4.G) — the XOR construction's position-sensitivity
// (spec.md §9: "implementers must not collapse to a single R[w] table")
// falls out naturally since pos is mixed into the hash input.
type coeffTable struct {
	seed      uint64
	order     int
	vocabSize int
}

func newCoeffTable(seed uint64, order, vocabSize int) *coeffTable {
	return &coeffTable{seed: seed, order: order, vocabSize: vocabSize}
}

// R returns R[pos][word], sampled deterministically from (seed, pos,
// word). Results are not cached: positions/words are combinatorially
// many for a large vocabulary and the computation is a single xxhash
// call, cheaper than a map lookup with its bookkeeping.
func (c *coeffTable) R(pos, word int) uint64 {
	var buf [24]byte
	putUint64(buf[0:8], c.seed)
	putUint64(buf[8:16], uint64(uint32(pos)))
	putUint64(buf[16:24], uint64(uint32(word)))
	return xxhash.Sum64(buf[:])
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Signature computes the n-gram signature from spec.md §3: "XOR_i
// R[i][w[i]]" over wordIDs[0:k]. wordIDs is newest-first, as specified
// in spec.md §4.G.
func (c *coeffTable) Signature(wordIDs []int32) uint64 {
	var sig uint64
	for pos, w := range wordIDs {
		sig ^= c.R(pos, int(w))
	}
	return sig
}

// nextPowerOfTwo returns the smallest power of two >= n (n >= 1).
func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// slotsForOrder computes the per-order slot count from spec.md §3:
// "sized to the next power of two above count * 2^HASH_REDUNDANT".
func slotsForOrder(count int) int {
	scaled := float64(count) * pow2(HashRedundant)
	n := int(scaled) + 1
	return nextPowerOfTwo(n)
}

func pow2(exp float64) float64 {
	// 2^0.5 == sqrt(2); avoid pulling in math.Pow for a single constant
	// exponent used at build time only.
	if exp == 0.5 {
		return 1.4142135623730951
	}
	result := 1.0
	for i := 0.0; i < exp; i++ {
		result *= 2
	}
	return result
}
