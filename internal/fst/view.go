// Package fst adapts an internal/lm.Store into the on-demand, per-state
// transducer view SPEC_FULL.md §4.H describes: the decoder never
// materializes a flattened internal/graph.WFST for a language model, it
// asks this view for a state's arc to a given word on demand, and the
// view caches (state, ilabel) -> arc lookups since the same (context,
// predicted word) pair recurs heavily across a decode's active set.
package fst

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/voxwave/decoder/internal/lm"
)

// Arc is the lazily-materialized transducer arc: predicting ilabel from
// a given n-gram state lands in NextState at cost Weight (a negative log
// probability, so lower is better, matching internal/graph.WFST's arc
// cost convention).
type Arc struct {
	ILabel    int32
	OLabel    int32
	Weight    float32
	NextState int32
}

type cacheKey struct {
	state  int32
	ilabel int32
}

// View is a read-only, cached adapter over an lm.Store.
type View struct {
	store *lm.Store
	eos   int32
	cache *lru.Cache[cacheKey, Arc]
}

// NewView builds a View over store. cacheSize <= 0 disables caching
// (every GetArc call recomputes from the store directly).
func NewView(store *lm.Store, cacheSize int) (*View, error) {
	v := &View{store: store, eos: store.EOSSymbol()}
	if cacheSize > 0 {
		c, err := lru.New[cacheKey, Arc](cacheSize)
		if err != nil {
			return nil, err
		}
		v.cache = c
	}
	return v, nil
}

// Start returns the LM's start state (the bos unigram state).
func (v *View) Start() int32 {
	return v.store.StartState()
}

// Final returns state's final cost: the negative log probability of
// predicting end-of-sentence from state's context.
func (v *View) Final(state int32) float32 {
	ids, order := v.store.GetWordIDsByState(state)
	query := make([]int32, 0, order+1)
	query = append(query, v.eos)
	query = append(query, ids...)

	var sid int32
	return -v.store.GetNgramLogprob(query, order+1, &sid)
}

// GetArc returns the arc out of state on input symbol ilabel (a word
// id), backed by the LM's back-off recursion: the destination state is
// whatever reco_state_id the n-gram lookup resolves to. ok is false
// only when the LM never built a real entry for ilabel at all (spec.md
// §4.H's no-arc case), not for an ordinary back-off miss partway
// through the recursion.
func (v *View) GetArc(state int32, ilabel int32) (Arc, bool) {
	key := cacheKey{state: state, ilabel: ilabel}
	if v.cache != nil {
		if arc, ok := v.cache.Get(key); ok {
			return arc, true
		}
	}

	ids, order := v.store.GetWordIDsByState(state)
	query := make([]int32, 0, order+1)
	query = append(query, ilabel)
	query = append(query, ids...)

	var nextState int32
	logProb := v.store.GetNgramLogprob(query, order+1, &nextState)
	if logProb == lm.SentinelLogProb {
		return Arc{}, false
	}
	arc := Arc{ILabel: ilabel, OLabel: ilabel, Weight: -logProb, NextState: nextState}

	if v.cache != nil {
		v.cache.Add(key, arc)
	}
	return arc, true
}
