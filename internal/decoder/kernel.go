// Package decoder implements the token-passing kernel described in
// spec.md §4: init_decoding, process_tokens (emitting arc expansion),
// process_nonemitting (epsilon closure to fixpoint) and finalize, wired
// together over the arena/reco/lookup/graph packages.
package decoder

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/voxwave/decoder/api"
	"github.com/voxwave/decoder/internal/arena"
	"github.com/voxwave/decoder/internal/graph"
	"github.com/voxwave/decoder/internal/lookup"
	"github.com/voxwave/decoder/internal/reco"
)

// waitTokenStateIndex returns nElem's installed TokenState slot index,
// blocking until the goroutine that first activated this state (won,
// first == true) has finished publishing it. TryInstall's active flag
// and TokenStateIndex are separate atomics with no ordering between
// them, so a goroutine that wins the cost race but isn't the first
// activator must not read TokenStateIndex until it's actually been
// written (spec.md §9's two-pass write-back).
func waitTokenStateIndex(nElem *lookup.Elem) int {
	for {
		if idx := nElem.TokenStateIndex.Load(); idx >= 0 {
			return int(idx)
		}
		runtime.Gosched()
	}
}

// FrameCollector receives each frame's surviving active states and the
// lattice arcs produced while reaching them, for the lattice pruner
// (spec.md §4.E) to accumulate into its sliding window.
type FrameCollector interface {
	CollectFrame(frame int, toksStart int, states []TokenState, arcs []arena.LatLink)
}

// Kernel holds the per-decode arenas and lookup table and drives the
// frame-by-frame token-passing recursion. It is not safe for concurrent
// calls to ProcessTokens/ProcessNonemitting — those parallelize
// internally across active states and arcs, but the frame sequence
// itself is driven by a single caller (Driver).
type Kernel struct {
	wfst      *graph.WFST
	scorer    graph.AcousticScorer
	opts      api.Options
	tokArena  *arena.TokenArena
	arcArena  *arena.ArcArena
	lookupTbl *lookup.Table
	collector FrameCollector

	computeWorkers int

	active      *reco.Vector[TokenState]
	activeFrame int

	frameTokStart []int
	frameArcStart int

	// scratch/next/cutoff/pendingFrame are live between a ProcessTokens
	// call and the ProcessNonemitting call that closes it out.
	scratch      *reco.Vector[arena.Token]
	next         *reco.Vector[TokenState]
	cutoff       float32
	pendingFrame int
}

// NewKernel constructs a Kernel over a flattened WFST and an acoustic
// scorer, sized per opts (spec.md §6).
func NewKernel(wfst *graph.WFST, scorer graph.AcousticScorer, opts api.Options) *Kernel {
	return &Kernel{
		wfst:           wfst,
		scorer:         scorer,
		opts:           opts,
		tokArena:       arena.NewTokenArena(opts.MaxTokens),
		arcArena:       arena.NewArcArena(opts.MaxArcs),
		lookupTbl:      lookup.NewTable(wfst.NumStates()),
		computeWorkers: poolSize(opts.GPUFraction),
	}
}

// SetCollector installs the lattice-pruner hook invoked at the end of
// every compacted frame.
func (k *Kernel) SetCollector(c FrameCollector) {
	k.collector = c
}

// ActiveFrame returns the frame number of the currently active state set.
func (k *Kernel) ActiveFrame() int {
	return k.activeFrame
}

// ActiveCount returns the number of states active in the current frame.
func (k *Kernel) ActiveCount() int {
	if k.active == nil {
		return 0
	}
	return k.active.Size()
}

// TokenArena exposes the underlying token arena, for driver prefetch
// hints and tests.
func (k *Kernel) TokenArena() *arena.TokenArena {
	return k.tokArena
}

// ArcArena exposes the underlying arc arena, for the lattice pruner.
func (k *Kernel) ArcArena() *arena.ArcArena {
	return k.arcArena
}

// InitDecoding resets every arena and the lookup table and seeds the
// initial active set with the WFST start state at cost zero (spec.md
// §4.A "init_decoding()"), then runs the initial epsilon closure from
// that state so frame 0's active set already reflects every
// non-emitting arc reachable before the first frame of acoustic input.
func (k *Kernel) InitDecoding(ctx context.Context) error {
	k.tokArena.Reset()
	k.arcArena.ResetBpr()
	k.lookupTbl.ResetAll()

	k.scratch = reco.New[arena.Token](64)
	k.next = reco.New[TokenState](64)

	start := k.wfst.Start
	elem := k.lookupTbl.Elem(start)
	scratchIdx := k.scratch.PushBackWithCell(arena.Token{Cost: 0, Frame: 0, StateID: int32(start)}, elem.Cell())
	elem.TryInstall(0, uint32(scratchIdx))
	nsIdx := k.next.PushBack(TokenState{StateID: int32(start)})
	elem.TokenStateIndex.Store(int64(nsIdx))

	k.cutoff = k.opts.Beam
	k.pendingFrame = 0
	k.frameArcStart = 0
	k.frameTokStart = k.frameTokStart[:0]

	return k.ProcessNonemitting(ctx)
}

// ProcessTokens expands every emitting arc out of the current frame's
// active states (spec.md §4.D), racing candidates into the lookup
// table's packed cells and appending a lattice arc for every race a
// proposal wins. frame must equal the kernel's current active frame.
func (k *Kernel) ProcessTokens(ctx context.Context, frame int) error {
	if k.active == nil || k.activeFrame != frame {
		return fmt.Errorf("decoder: ProcessTokens(%d) called with active frame %d", frame, k.activeFrame)
	}
	if k.active.Size() == 0 {
		return api.ErrDecodingDead
	}

	loglik, err := k.scorer.LogLikelihoods(ctx, frame)
	if err != nil {
		return err
	}

	bestCost := k.bestActiveCost()
	cutoff := bestCost + k.opts.Beam

	k.lookupTbl.ResetAll()
	k.scratch = reco.New[arena.Token](k.active.Size() * 2)
	k.next = reco.New[TokenState](k.active.Size())
	k.frameArcStart = k.arcArena.FrontBpr()

	activeSnapshot := k.active
	wfst := k.wfst
	jobs := newArcJobs(activeSnapshot.Size(), func(i int) int32 {
		st := activeSnapshot.At(i).StateID
		s, e := wfst.EmittingArcs(int(st))
		return e - s
	})

	err = parallelFor(ctx, jobs.Total(), k.computeWorkers, func(_ context.Context, jobIdx int) error {
		activeIdx, arcOffset := jobs.Locate(jobIdx)
		srcTok := activeSnapshot.At(activeIdx)
		arcBase, _ := wfst.EmittingArcs(int(srcTok.StateID))
		arcIdx := arcBase + arcOffset

		ilabel := wfst.ArcILabels[arcIdx]
		olabel := wfst.ArcOLabels[arcIdx]
		weight := wfst.ArcWeights[arcIdx]
		nextState := wfst.ArcNextStates[arcIdx]

		var acoustic float32
		if ilabel > 0 {
			acoustic = -loglik[ilabel]
		}
		newCost := srcTok.Cost + weight + acoustic
		if newCost >= cutoff {
			return nil
		}

		nElem := k.lookupTbl.Elem(int(nextState))
		scratchIdx := k.scratch.PushBackWithCell(arena.Token{Cost: newCost, Frame: int32(frame + 1), StateID: nextState}, nElem.Cell())
		won, first := nElem.TryInstall(newCost, uint32(scratchIdx))
		if first {
			nsIdx := k.next.PushBack(TokenState{StateID: nextState})
			nElem.TokenStateIndex.Store(int64(nsIdx))
		}
		if won {
			nextTok := arena.PackTokenRef(frame+1, waitTokenStateIndex(nElem))
			slot := k.arcArena.NextBprSlot()
			k.arcArena.SetBpr(slot, arena.LatLink{
				NextTokRef:   nextTok,
				PrevTokRef:   srcTok.TokenHandle,
				ILabel:       ilabel,
				OLabel:       olabel,
				GraphCost:    weight,
				AcousticCost: acoustic,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	k.cutoff = cutoff
	k.pendingFrame = frame + 1
	return nil
}

// ProcessNonemitting expands epsilon (ilabel==0) arcs out of the pending
// frame's active set to a fixpoint (spec.md §4.D "process_nonemitting"):
// every pass re-scans the full current set, so a state whose installed
// cost improves after a later activation gets its own epsilon arcs
// re-tried, and the pass only stops once a full scan installs nothing
// new. It then compacts the pending frame and hands it to the collector.
func (k *Kernel) ProcessNonemitting(ctx context.Context) error {
	frame := k.pendingFrame
	wfst := k.wfst

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		modified := false
		n := k.next.Size()
		for idx := 0; idx < n; idx++ {
			ts := k.next.At(idx)
			elem := k.lookupTbl.Elem(int(ts.StateID))
			curCost, _ := elem.Winner()

			neStart, neEnd := wfst.NonEmittingArcs(int(ts.StateID))
			for arcIdx := neStart; arcIdx < neEnd; arcIdx++ {
				weight := wfst.ArcWeights[arcIdx]
				olabel := wfst.ArcOLabels[arcIdx]
				nextState := wfst.ArcNextStates[arcIdx]

				newCost := curCost + weight
				if newCost >= k.cutoff {
					continue
				}

				nElem := k.lookupTbl.Elem(int(nextState))
				scratchIdx := k.scratch.PushBackWithCell(arena.Token{Cost: newCost, Frame: int32(frame), StateID: nextState}, nElem.Cell())
				won, first := nElem.TryInstall(newCost, uint32(scratchIdx))
				if first {
					nsIdx := k.next.PushBack(TokenState{StateID: nextState})
					nElem.TokenStateIndex.Store(int64(nsIdx))
				}
				if won {
					modified = true
					nextTok := arena.PackTokenRef(frame, waitTokenStateIndex(nElem))
					prevTok := arena.PackTokenRef(frame, idx)
					slot := k.arcArena.NextBprSlot()
					k.arcArena.SetBpr(slot, arena.LatLink{
						NextTokRef: nextTok,
						PrevTokRef: prevTok,
						ILabel:     0,
						OLabel:     olabel,
						GraphCost:  weight,
					})
				}
			}
		}
		if !modified {
			break
		}
	}

	return k.compact(frame)
}

// compact implements spec.md §4.B's second pass for the frame that just
// finished expanding: every destination state's authoritative winner is
// read back out of its lookup-table cell and copied into a freshly
// allocated run of the permanent token arena, and the active set is
// promoted to the compacted frame.
func (k *Kernel) compact(frame int) error {
	n := k.next.Size()
	if n == 0 {
		k.active = reco.New[TokenState](0)
		return api.ErrDecodingDead
	}

	start := k.tokArena.AdvanceFront(n)
	k.tokArena.PrefetchNextToDevice(n)

	finalStates := make([]TokenState, n)
	for i := 0; i < n; i++ {
		ts := k.next.At(i)
		elem := k.lookupTbl.Elem(int(ts.StateID))
		_, winnerIdx := elem.Winner()
		winner := k.scratch.At(int(winnerIdx))

		*k.tokArena.Get(start + i) = winner
		finalStates[i] = TokenState{
			TokenHandle: arena.PackTokenRef(frame, i),
			StateID:     ts.StateID,
			Cost:        winner.Cost,
		}
	}
	k.tokArena.PrefetchAllocatedToHost()

	next := reco.New[TokenState](n)
	for i := range finalStates {
		next.PushBack(finalStates[i])
	}
	k.active = next
	k.activeFrame = frame

	for len(k.frameTokStart) <= frame {
		k.frameTokStart = append(k.frameTokStart, 0)
	}
	k.frameTokStart[frame] = start

	if k.collector != nil {
		arcs := k.arcArena.Bpr()[k.frameArcStart:]
		arcsCopy := make([]arena.LatLink, len(arcs))
		copy(arcsCopy, arcs)
		k.collector.CollectFrame(frame, start, finalStates, arcsCopy)
	}

	return nil
}

// bestActiveCost computes min(active[i].Cost) via a parallel reduction
// (spec.md §4.D "cutoff estimation"), sharding the active set across
// computeWorkers goroutines and merging their partial minimums.
func (k *Kernel) bestActiveCost() float32 {
	n := k.active.Size()
	if n == 0 {
		return float32(math.Inf(1))
	}
	workers := k.computeWorkers
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	partials := make([]float32, workers)
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			partials[w] = float32(math.Inf(1))
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			best := float32(math.Inf(1))
			for i := lo; i < hi; i++ {
				if c := k.active.At(i).Cost; c < best {
					best = c
				}
			}
			partials[w] = best
		}(w, lo, hi)
	}
	wg.Wait()

	best := float32(math.Inf(1))
	for _, p := range partials {
		if p < best {
			best = p
		}
	}
	return best
}

// ReachedFinal reports whether any currently active state carries a
// finite final cost (spec.md §7).
func (k *Kernel) ReachedFinal() bool {
	if k.active == nil {
		return false
	}
	for i := 0; i < k.active.Size(); i++ {
		if fc := k.wfst.FinalCost(int(k.active.At(i).StateID)); !math.IsInf(float64(fc), 1) {
			return true
		}
	}
	return false
}

// Finalize assembles the host-visible DecodeResult from every compacted
// frame's tokens and the pruned arc stream (spec.md §4.F, §6 "Outputs").
func (k *Kernel) Finalize() graph.DecodeResult {
	numFrames := len(k.frameTokStart)

	toksByFrame := make([][]graph.TokenRecord, numFrames)
	toksFrameStart := make([]int, numFrames)
	for f := 0; f < numFrames; f++ {
		start := k.frameTokStart[f]
		end := k.tokArena.Front()
		if f+1 < numFrames {
			end = k.frameTokStart[f+1]
		}
		toksFrameStart[f] = start

		recs := make([]graph.TokenRecord, 0, end-start)
		for i := start; i < end; i++ {
			t := k.tokArena.Get(i)
			recs = append(recs, graph.TokenRecord{
				Cost:      t.Cost,
				Frame:     t.Frame,
				ExtraCost: t.ExtraCost,
				StateID:   t.StateID,
				LocalIdx:  int32(i - start),
			})
		}
		toksByFrame[f] = recs
	}

	arcsByFrame := make([][]graph.ArcRecord, numFrames)
	arcsFrameSize := make([]int, numFrames)
	apr := k.arcArena.Apr()
	offset := 0
	for f := 0; f < numFrames; f++ {
		sz := k.arcArena.AprFrameSize(f)
		recs := make([]graph.ArcRecord, sz)
		for i := 0; i < sz; i++ {
			l := apr[offset+i]
			recs[i] = graph.ArcRecord{
				NextTokRef:   l.NextTokRef,
				PrevTokRef:   l.PrevTokRef,
				ILabel:       l.ILabel,
				OLabel:       l.OLabel,
				GraphCost:    l.GraphCost,
				AcousticCost: l.AcousticCost,
			}
		}
		arcsByFrame[f] = recs
		arcsFrameSize[f] = sz
		offset += sz
	}

	finalToks := make([]graph.TokenRecord, 0, k.ActiveCount())
	reachedFinal := k.ReachedFinal()
	for i := 0; i < k.ActiveCount(); i++ {
		ts := k.active.At(i)
		frame, local := arena.UnpackTokenRef(ts.TokenHandle)
		finalToks = append(finalToks, graph.TokenRecord{
			Cost:     ts.Cost,
			Frame:    int32(frame),
			StateID:  ts.StateID,
			LocalIdx: int32(local),
		})
	}

	return graph.DecodeResult{
		TokensByFrame:   toksByFrame,
		ToksFrameStart:  toksFrameStart,
		ArcsByFrame:     arcsByFrame,
		ArcsFrameSize:   arcsFrameSize,
		FinalFrameToks:  finalToks,
		ReachedFinal:    reachedFinal,
		NumFramesDecode: numFrames,
	}
}
