package lm

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/voxwave/decoder/api"
	"github.com/voxwave/decoder/logutil"
)

// State is the LmState from spec.md §3: one per n-gram entry (plus the
// vocabulary-sized unigram block).
type State struct {
	LogProb        float32
	BackoffLogProb float32
	HashSignature  uint64
	// WordIDs is newest-first (spec.md §4.G): WordIDs[0] is the word
	// this entry predicts, WordIDs[1:] is its context, oldest last.
	WordIDs     []int32
	Order       int
	ChainNext   int32 // index into Store.states, -1 if none
	RecoStateID int32

	// exists distinguishes a real entry from an unwritten unigram slot
	// ("non-existent" placeholder per spec.md §4.G build pass).
	exists bool
}

// Store is the hashed n-gram LM store described in spec.md §3/§4.G.
type Store struct {
	order     int
	vocab     []string
	wordID    map[string]int32
	bos, eos, unk int32

	coeff *coeffTable

	states []State

	// slots[order-1][i] is the chain head index into states for order
	// `order`, slot `i`; slots[0] is the direct-addressed unigram block
	// (slot == word id), sized to the vocabulary.
	slots [][]int32

	warnings []string
}

const (
	bosSymbol = "<s>"
	eosSymbol = "</s>"
	unkSymbol = "<unk>"
)

// BuildFromARPA implements spec.md §4.G's "Build": two passes over the
// ARPA input — parse (header + n-gram pass, via ParseARPA), then build
// the hash tables and finalize reco_state_id assignments.
func BuildFromARPA(path string, opts api.Options) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lm: open %s: %w", path, err)
	}
	defer f.Close()
	return buildFromReader(f, opts)
}

// BuildFromReader is the io.Reader-based counterpart of BuildFromARPA,
// for callers that already have the ARPA text in memory or are reading
// it from something other than a local file (an embedded model, an
// HTTP response body).
func BuildFromReader(r io.Reader, opts api.Options) (*Store, error) {
	return buildFromReader(r, opts)
}

func buildFromReader(r io.Reader, opts api.Options) (*Store, error) {
	parsed, warnings, err := ParseARPA(r, opts.StrictARPA)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		logutil.Logger().Warn("lm: tolerating ARPA count mismatch", "detail", w)
	}

	s := &Store{
		wordID:   make(map[string]int32),
		warnings: warnings,
	}
	s.order = len(parsed.Entries)

	// Vocabulary: bos/eos/unk are guaranteed to exist even if absent
	// from the file's unigram section, per spec.md §6 ("unseen words
	// map to unk_symbol").
	for _, sym := range []string{bosSymbol, eosSymbol, unkSymbol} {
		s.internWord(sym)
	}
	for _, w := range parsed.Vocab {
		s.internWord(w)
	}
	s.bos = s.wordID[bosSymbol]
	s.eos = s.wordID[eosSymbol]
	s.unk = s.wordID[unkSymbol]

	seed := opts.HashSeed
	s.coeff = newCoeffTable(seed, s.order, len(s.vocab))

	// Unigram block: vocabulary-sized, direct-addressed by word id,
	// initialized to "non-existent" (spec.md §4.G).
	s.slots = make([][]int32, s.order)
	s.states = make([]State, len(s.vocab))
	for i := range s.states {
		s.states[i].ChainNext = -1
		s.states[i].Order = 1
	}
	s.slots[0] = nil // unigrams need no chain-head slot array: state index == word id

	for order := 2; order <= s.order; order++ {
		count := 0
		if order-1 < len(parsed.DeclaredCounts) {
			count = parsed.DeclaredCounts[order-1]
		}
		if count == 0 {
			count = len(parsed.Entries[order-1])
		}
		n := slotsForOrder(count)
		slotArr := make([]int32, n)
		for i := range slotArr {
			slotArr[i] = -1
		}
		s.slots[order-1] = slotArr
	}

	// Unigrams: insert at their direct word-id slot.
	for _, e := range parsed.Entries[0] {
		wid := s.internWord(e.Words[0])
		st := &s.states[wid]
		st.exists = true
		st.LogProb = e.LogProb
		st.BackoffLogProb = e.Backoff
		st.Order = 1
		st.WordIDs = []int32{wid}
		st.HashSignature = s.coeff.Signature(st.WordIDs)
		st.ChainNext = -1
	}

	// Higher orders: insert into the hash table, newest-first, with
	// external chaining on collision (spec.md §4.G).
	for order := 2; order <= s.order; order++ {
		for _, e := range parsed.Entries[order-1] {
			wordIDs := make([]int32, order)
			// e.Words is oldest-first (file order); store newest-first.
			for i, w := range e.Words {
				wordIDs[order-1-i] = s.internWord(w)
			}
			sig := s.coeff.Signature(wordIDs)
			slotIdx := int(sig & uint64(len(s.slots[order-1])-1))

			idx := int32(len(s.states))
			s.states = append(s.states, State{
				exists:         true,
				LogProb:        e.LogProb,
				BackoffLogProb: e.Backoff,
				HashSignature:  sig,
				WordIDs:        wordIDs,
				Order:          order,
				ChainNext:      s.slots[order-1][slotIdx],
				RecoStateID:    -1,
			})
			s.slots[order-1][slotIdx] = idx
		}
	}

	s.finalizeRecoStateIDs()
	return s, nil
}

func (s *Store) internWord(w string) int32 {
	if id, ok := s.wordID[w]; ok {
		return id
	}
	id := int32(len(s.vocab))
	s.wordID[w] = id
	s.vocab = append(s.vocab, w)
	return id
}

// finalizeRecoStateIDs implements spec.md §4.G's finalization pass:
// "walks each LmState and resolves its reco_state_id by repeatedly
// truncating the suffix until a present state is found — guaranteed to
// terminate at the unigram row."
func (s *Store) finalizeRecoStateIDs() {
	for i := range s.states {
		st := &s.states[i]
		if !st.exists {
			continue
		}
		if st.Order == 1 {
			st.RecoStateID = int32(i)
			continue
		}
		st.RecoStateID = s.resolveSuffix(st.WordIDs)
	}
}

// resolveSuffix walks wordIDs[0:k-1], wordIDs[0:k-2], ... until a state
// exists, terminating at wordIDs[0:1] (the unigram row for the newest
// word), which always exists once any word has been interned.
func (s *Store) resolveSuffix(wordIDs []int32) int32 {
	for k := len(wordIDs) - 1; k >= 1; k-- {
		if idx, ok := s.lookupExact(wordIDs[:k]); ok {
			return s.states[idx].RecoStateID
		}
	}
	// unigram row for the newest word always exists
	return wordIDs[0]
}

// lookupExact finds the state whose stored signature equals the
// signature of wordIDs (spec.md §4.G: "full 64-bit signature equal").
func (s *Store) lookupExact(wordIDs []int32) (int32, bool) {
	if len(wordIDs) == 1 {
		wid := wordIDs[0]
		if int(wid) < len(s.states) && s.states[wid].exists {
			return wid, true
		}
		return 0, false
	}
	order := len(wordIDs)
	if order > len(s.slots) || s.slots[order-1] == nil {
		return 0, false
	}
	sig := s.coeff.Signature(wordIDs)
	slotIdx := int(sig & uint64(len(s.slots[order-1])-1))
	for idx := s.slots[order-1][slotIdx]; idx != -1; idx = s.states[idx].ChainNext {
		if s.states[idx].HashSignature == sig {
			return idx, true
		}
	}
	return 0, false
}

// NgramOrder returns the LM's maximum order.
func (s *Store) NgramOrder() int {
	return s.order
}

// BOSSymbol, EOSSymbol, UnkSymbol return the reserved symbol ids.
func (s *Store) BOSSymbol() int32 { return s.bos }
func (s *Store) EOSSymbol() int32 { return s.eos }
func (s *Store) UnkSymbol() int32 { return s.unk }

// Warnings returns the tolerated (non-fatal) issues observed at build
// time, e.g. ARPA count mismatches when StrictARPA is false.
func (s *Store) Warnings() []string {
	return s.warnings
}

// VocabSize returns the number of distinct words in the LM vocabulary.
func (s *Store) VocabSize() int {
	return len(s.vocab)
}

// WordID returns the id for w, or UnkSymbol() if w is not in the
// vocabulary (spec.md §6: "unseen words map to unk_symbol").
func (s *Store) WordID(w string) int32 {
	if id, ok := s.wordID[w]; ok {
		return id
	}
	return s.unk
}

// GetWordIDsByState returns the stored (newest-first) word-id history and
// order for a state id, as in spec.md §4.G's public operations.
func (s *Store) GetWordIDsByState(stateID int32) ([]int32, int) {
	st := &s.states[stateID]
	return st.WordIDs, st.Order
}

// SentinelLogProb is returned by GetNgramLogprob (and surfaced through
// View.GetArc as a false ok) to signal an absent entry, per spec.md
// §4.H: "Returns no-arc only when the LM signals an absent entry
// (sentinel log-prob)." This mirrors the original's GetArc returning
// false when the predicted word's own state was never built
// (faster-arpa-lm.h's logprob == numeric_limits<float>::min() check):
// it fires only when the predicted word (query[0]) has no unigram
// entry at all, never for an ordinary back-off-weight miss partway
// through the recursion (spec.md §7, handled below unchanged).
var SentinelLogProb = float32(math.Inf(-1))

// GetNgramLogprob implements spec.md §4.G's "Lookup": clamp to max
// order, walk the collision chain, and recurse through back-off on a
// miss. wordIDs is newest-first and length k (or more; only the first k
// are consulted after clamping).
func (s *Store) GetNgramLogprob(wordIDs []int32, k int, stateID *int32) float32 {
	if k > s.order {
		k = s.order
	}
	if k < 1 {
		k = 1
	}
	query := wordIDs[:k]

	if idx, ok := s.lookupExact(query); ok {
		*stateID = s.states[idx].RecoStateID
		return s.states[idx].LogProb
	}

	if k == 1 {
		// lookupExact already checked existence for a length-1 query;
		// reaching here means query[0] was never populated with a real
		// unigram entry (spec.md §4.H's no-arc case).
		*stateID = query[0]
		return SentinelLogProb
	}

	// bo = chain_lookup(w[1..], k-1): the back-off weight is stored on
	// the (k-1)-gram formed by the context (drop the predicted word,
	// keep the rest), per spec.md §4.G step 3.
	var boContribution float32
	if idx, ok := s.lookupExact(query[1:k]); ok {
		boContribution = s.states[idx].BackoffLogProb
	}
	// Missing back-off states contribute 0 and do not abort (spec.md §4.G).

	rest := s.GetNgramLogprob(query[:k-1], k-1, stateID)
	if rest == SentinelLogProb {
		return SentinelLogProb
	}
	return boContribution + rest
}

// StartState precomputes the transducer start state: the state reached
// by querying [bos] (spec.md §4.H).
func (s *Store) StartState() int32 {
	return s.bos
}
