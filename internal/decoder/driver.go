package decoder

import (
	"context"
	"sync"

	"github.com/x448/float16"
	"golang.org/x/sync/semaphore"

	"github.com/voxwave/decoder/api"
	"github.com/voxwave/decoder/internal/arena"
	"github.com/voxwave/decoder/internal/graph"
)

// prefetchDepth bounds how many acoustic fetches the prefetcher runs at
// once: one frame being consumed by the compute stream, one frame being
// fetched ahead of it, matching spec.md §4.F's "double-buffered" acoustic
// upload rather than letting an eager caller fan out unboundedly many
// scorer calls.
const prefetchDepth = 2

// Pruner is implemented by a lattice collector that also runs the
// periodic backward extra-cost pass described in spec.md §4.E. A
// FrameCollector that doesn't need periodic pruning simply doesn't
// implement this interface.
type Pruner interface {
	Prune(ctx context.Context, uptoFrame int) error
}

// acousticPrefetcher wraps a graph.AcousticScorer with the double-buffered
// acoustic upload spec.md §4.F describes: Prefetch kicks off an
// async fetch for a frame the compute stream hasn't reached yet, and
// LogLikelihoods blocks on that in-flight fetch's completion event
// rather than re-issuing it, the Go analogue of waiting on a CUDA event
// instead of re-uploading already in-flight data.
type acousticPrefetcher struct {
	scorer  graph.AcousticScorer
	compact bool
	sem     *semaphore.Weighted

	mu    sync.Mutex
	buf   map[int][]float32
	bufC  map[int][]float16.Float16
	ready map[int]chan struct{}
}

func newAcousticPrefetcher(scorer graph.AcousticScorer, compact bool) *acousticPrefetcher {
	return &acousticPrefetcher{
		scorer:  scorer,
		compact: compact,
		sem:     semaphore.NewWeighted(prefetchDepth),
		buf:     make(map[int][]float32),
		bufC:    make(map[int][]float16.Float16),
		ready:   make(map[int]chan struct{}),
	}
}

// packFloat16 and unpackFloat16 implement CompactAcoustics (SPEC_FULL.md
// §3): the double-buffered prefetch arena can hold each frame's
// likelihoods at half width, trading a round-trip conversion for half the
// resident buffer size while a frame sits between being scored and being
// consumed by process_tokens.
func packFloat16(ll []float32) []float16.Float16 {
	out := make([]float16.Float16, len(ll))
	for i, v := range ll {
		out[i] = float16.Fromfloat32(v)
	}
	return out
}

func unpackFloat16(packed []float16.Float16) []float32 {
	out := make([]float32, len(packed))
	for i, v := range packed {
		out[i] = v.Float32()
	}
	return out
}

// Prefetch starts an async fetch of frame's likelihoods if one isn't
// already in flight or already buffered.
func (p *acousticPrefetcher) Prefetch(ctx context.Context, frame int) {
	p.mu.Lock()
	if _, inFlight := p.ready[frame]; inFlight {
		p.mu.Unlock()
		return
	}
	if _, buffered := p.buf[frame]; buffered {
		p.mu.Unlock()
		return
	}
	if _, buffered := p.bufC[frame]; buffered {
		p.mu.Unlock()
		return
	}
	event := make(chan struct{})
	p.ready[frame] = event
	p.mu.Unlock()

	go func() {
		defer close(event)
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)

		ll, err := p.scorer.LogLikelihoods(ctx, frame)
		if err != nil {
			return
		}
		p.mu.Lock()
		if p.compact {
			p.bufC[frame] = packFloat16(ll)
		} else {
			p.buf[frame] = ll
		}
		p.mu.Unlock()
	}()
}

// LogLikelihoods implements graph.AcousticScorer: it waits on frame's
// prefetch event if one is outstanding, otherwise it falls back to a
// direct synchronous fetch (the first frame of a decode, or a caller
// that skipped prefetching).
func (p *acousticPrefetcher) LogLikelihoods(ctx context.Context, frame int) ([]float32, error) {
	p.mu.Lock()
	event, inFlight := p.ready[frame]
	p.mu.Unlock()

	if inFlight {
		select {
		case <-event:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		p.mu.Lock()
		ll, ok := p.buf[frame]
		llC, okC := p.bufC[frame]
		delete(p.buf, frame)
		delete(p.bufC, frame)
		delete(p.ready, frame)
		p.mu.Unlock()
		if ok {
			return ll, nil
		}
		if okC {
			return unpackFloat16(llC), nil
		}
	}
	return p.scorer.LogLikelihoods(ctx, frame)
}

// collectorMsg is one lattice-stream work item: a compacted frame handed
// off by the compute stream.
type collectorMsg struct {
	frame     int
	toksStart int
	states    []TokenState
	arcs      []arena.LatLink
}

// asyncCollector decouples the lattice stream from the compute stream:
// CollectFrame (called synchronously from inside Kernel.compact) only
// enqueues, while a dedicated goroutine drains the queue and runs the
// caller's real collector — spec.md §4.F's "lattice stream" realized as
// its own goroutine rather than its own CUDA stream.
type asyncCollector struct {
	inner FrameCollector
	ch    chan collectorMsg
	done  chan struct{}
}

func newAsyncCollector(inner FrameCollector, buffer int) *asyncCollector {
	a := &asyncCollector{inner: inner, ch: make(chan collectorMsg, buffer), done: make(chan struct{})}
	go a.run()
	return a
}

func (a *asyncCollector) run() {
	defer close(a.done)
	for msg := range a.ch {
		a.inner.CollectFrame(msg.frame, msg.toksStart, msg.states, msg.arcs)
	}
}

func (a *asyncCollector) CollectFrame(frame int, toksStart int, states []TokenState, arcs []arena.LatLink) {
	a.ch <- collectorMsg{frame, toksStart, states, arcs}
}

// Close drains and stops the lattice stream, blocking until every
// enqueued frame has been handed to the inner collector.
func (a *asyncCollector) Close() {
	close(a.ch)
	<-a.done
}

// Driver orchestrates the per-frame decode loop described in spec.md
// §4.F: it owns the kernel (compute stream), a prefetching acoustic
// scorer (likelihoods stream) and, once a collector is installed, an
// async lattice stream plus the periodic backward-pruning trigger.
type Driver struct {
	kernel   *Kernel
	opts     api.Options
	prefetch *acousticPrefetcher
	lattice  *asyncCollector
	pruner   Pruner

	framesDone int
}

// NewDriver builds a Driver over wfst/scorer/opts, wrapping scorer in the
// double-buffered prefetcher before handing it to the kernel.
func NewDriver(wfst *graph.WFST, scorer graph.AcousticScorer, opts api.Options) *Driver {
	pf := newAcousticPrefetcher(scorer, opts.CompactAcoustics)
	return &Driver{
		kernel:   NewKernel(wfst, pf, opts),
		opts:     opts,
		prefetch: pf,
	}
}

// SetCollector installs the lattice-pruner hook. If c also implements
// Pruner, its periodic backward pass is triggered every opts.PruneInterval
// frames and flushed once more in Finalize.
func (d *Driver) SetCollector(c FrameCollector) {
	if d.lattice != nil {
		d.lattice.Close()
		d.lattice = nil
		d.pruner = nil
	}
	if c == nil {
		d.kernel.SetCollector(nil)
		return
	}
	d.lattice = newAsyncCollector(c, 64)
	d.kernel.SetCollector(d.lattice)
	if p, ok := c.(Pruner); ok {
		d.pruner = p
	}
}

// Kernel exposes the underlying kernel, for callers that need direct
// arena/lookup access (tests, the lattice pruner's initial wiring).
func (d *Driver) Kernel() *Kernel {
	return d.kernel
}

// Init runs init_decoding and kicks off the first frame's acoustic
// prefetch.
func (d *Driver) Init(ctx context.Context) error {
	d.framesDone = 0
	d.prefetch.Prefetch(ctx, 0)
	return d.kernel.InitDecoding(ctx)
}

// DecodeFrame runs one frame of process_tokens + process_nonemitting,
// prefetching the following frame's acoustics before blocking on the
// current one, and triggers a pruning pass every opts.PruneInterval
// frames (spec.md §4.E).
func (d *Driver) DecodeFrame(ctx context.Context, frame int) error {
	d.prefetch.Prefetch(ctx, frame+1)

	if err := d.kernel.ProcessTokens(ctx, frame); err != nil {
		return err
	}
	if err := d.kernel.ProcessNonemitting(ctx); err != nil {
		return err
	}
	d.framesDone++

	if d.pruner != nil && d.opts.PruneInterval > 0 && d.framesDone%d.opts.PruneInterval == 0 {
		if err := d.pruner.Prune(ctx, frame+1); err != nil {
			return err
		}
	}
	return nil
}

// Run decodes numFrames frames in sequence. Run itself checks ctx between
// frames; within a frame, ctx is also passed to the acoustic wait and to
// each epsilon-closure pass, so a cancellation can end a frame early.
func (d *Driver) Run(ctx context.Context, numFrames int) error {
	if err := d.Init(ctx); err != nil {
		return err
	}
	for f := 0; f < numFrames; f++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := d.DecodeFrame(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// FramesDecoded returns the number of frames successfully decoded so far.
func (d *Driver) FramesDecoded() int {
	return d.framesDone
}

// ReachedFinal reports whether the current active set includes a state
// with finite final cost (spec.md §7).
func (d *Driver) ReachedFinal() bool {
	return d.kernel.ReachedFinal()
}

// Finalize flushes the lattice stream (and its pruner, if any) and
// returns the assembled DecodeResult (spec.md §4.F, §6).
func (d *Driver) Finalize(ctx context.Context) (graph.DecodeResult, error) {
	if d.lattice != nil {
		d.lattice.Close()
	}
	if d.pruner != nil {
		if err := d.pruner.Prune(ctx, d.framesDone); err != nil {
			return graph.DecodeResult{}, err
		}
	}
	return d.kernel.Finalize(), nil
}
