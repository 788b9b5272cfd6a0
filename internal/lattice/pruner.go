// Package lattice implements the sliding-window backward pruning pass
// described in spec.md §4.E: frames are collected as the decoder
// compacts them, and every PruneInterval frames a backward extra-cost
// propagation runs to a fixpoint over the current window, after which
// surviving arcs are compacted into the arc arena's "after pruning"
// stream.
package lattice

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/emirpasic/gods/stacks/arraystack"

	"github.com/voxwave/decoder/api"
	"github.com/voxwave/decoder/internal/arena"
	"github.com/voxwave/decoder/internal/decoder"
	"github.com/voxwave/decoder/internal/graph"
)

// frameData is one collected frame's worth of token states and the arcs
// that produced them, held in the window until it is pruned and
// compacted.
type frameData struct {
	toksStart int
	states    []decoder.TokenState
	arcs      []arena.LatLink
}

// Pruner implements decoder.FrameCollector and decoder.Pruner. It holds
// a sliding window of uncompacted frames and, on Prune, runs a backward
// extra-cost pass over the whole window before writing survivors into
// the arc arena's apr stream and dropping the window.
type Pruner struct {
	wfst     *graph.WFST
	arcArena *arena.ArcArena
	opts     api.Options

	mu         sync.Mutex
	frames     map[int]*frameData
	lastPruned int
}

// NewPruner builds a Pruner over wfst's final-cost table and the shared
// arc arena the kernel is writing bpr arcs into.
func NewPruner(wfst *graph.WFST, arcArena *arena.ArcArena, opts api.Options) *Pruner {
	return &Pruner{
		wfst:       wfst,
		arcArena:   arcArena,
		opts:       opts,
		frames:     make(map[int]*frameData),
		lastPruned: -1,
	}
}

// CollectFrame implements decoder.FrameCollector.
func (p *Pruner) CollectFrame(frame int, toksStart int, states []decoder.TokenState, arcs []arena.LatLink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames[frame] = &frameData{toksStart: toksStart, states: states, arcs: arcs}
}

// Prune implements decoder.Pruner: it runs the backward extra-cost
// propagation over every collected frame up to and including uptoFrame,
// writes the surviving arcs into the arc arena's apr stream, and drops
// those frames from the live window (spec.md §4.E "async settle").
func (p *Pruner) Prune(ctx context.Context, uptoFrame int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameNums := make([]int, 0, len(p.frames))
	for f := range p.frames {
		if f <= uptoFrame {
			frameNums = append(frameNums, f)
		}
	}
	if len(frameNums) == 0 {
		return nil
	}
	sort.Ints(frameNums)

	bestFinal := float32(math.Inf(1))
	lastFrame := frameNums[len(frameNums)-1]
	if fd, ok := p.frames[lastFrame]; ok {
		for _, ts := range fd.states {
			if fc := p.wfst.FinalCost(int(ts.StateID)); !math.IsInf(float64(fc), 1) {
				if total := ts.Cost + fc; total < bestFinal {
					bestFinal = total
				}
			}
		}
	}
	if math.IsInf(float64(bestFinal), 1) {
		// No state in the window's last frame has reached a final cost
		// yet; nothing is prunable relative to a best path, so keep the
		// whole window and defer to a later Prune call.
		return nil
	}

	extraCost := make(map[uint64]float32)
	if fd, ok := p.frames[lastFrame]; ok {
		for _, ts := range fd.states {
			fc := p.wfst.FinalCost(int(ts.StateID))
			if math.IsInf(float64(fc), 1) {
				continue
			}
			extraCost[ts.TokenHandle] = ts.Cost + fc - bestFinal
		}
	}

	// tokenCost maps every windowed token to its own forward cost, needed
	// by the Kaldi correction term below: a token's extra_cost depends on
	// how much more it costs than the cheapest token reaching the same
	// destination, not just the raw arc weight.
	tokenCost := make(map[uint64]float32)
	for _, f := range frameNums {
		for _, ts := range p.frames[f].states {
			tokenCost[ts.TokenHandle] = ts.Cost
		}
	}

	// Reverse-frame traversal: push frames oldest-to-newest; Values()
	// lists them in LIFO order, newest first, so each pass walks the
	// window newest-to-oldest and has the destination frame's extra costs
	// settled before processing arcs that feed it.
	stack := arraystack.New()
	for _, f := range frameNums {
		stack.Push(f)
	}

	for {
		modified := false
		items := stack.Values()
		for i := 0; i < len(items); i++ {
			f := items[i].(int)
			fd := p.frames[f]
			for _, arc := range fd.arcs {
				nextCost, ok := extraCost[arc.NextTokRef]
				if !ok {
					continue
				}
				// link_extra_cost = next.extra_cost + ((tok.cost + link.cost) - next.cost):
				// the correction term discounts the portion of the arc's
				// raw cost that the destination's own forward cost already
				// accounts for, so two predecessors converging on the same
				// destination via arcs of different weight are compared on
				// equal footing instead of the cheaper one silently
				// understating its extra cost.
				linkCost := arc.GraphCost + arc.AcousticCost
				candidate := nextCost + (tokenCost[arc.PrevTokRef] + linkCost - tokenCost[arc.NextTokRef])
				cur, has := extraCost[arc.PrevTokRef]
				if !has || candidate < cur {
					extraCost[arc.PrevTokRef] = candidate
					modified = true
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !modified {
			break
		}
	}

	for _, f := range frameNums {
		fd := p.frames[f]
		survivors := make([]arena.LatLink, 0, len(fd.arcs))
		for _, arc := range fd.arcs {
			cost, ok := extraCost[arc.NextTokRef]
			if ok && cost <= p.opts.LatticeBeam {
				survivors = append(survivors, arc)
			}
		}
		p.arcArena.AppendApr(f, survivors)
		delete(p.frames, f)
	}
	p.lastPruned = uptoFrame
	return nil
}

// LastPruned returns the highest frame number flushed by a Prune call so
// far, or -1 if none has run yet.
func (p *Pruner) LastPruned() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPruned
}
