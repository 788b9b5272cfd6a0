package decoder

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// poolSize turns a spec.md §6 GPUFraction/LatFraction scheduling hint into
// a worker count, per SPEC_FULL.md §5: a non-positive fraction means "use
// the full GOMAXPROCS".
func poolSize(fraction float64) int {
	n := runtime.GOMAXPROCS(0)
	if fraction <= 0 {
		return n
	}
	scaled := int(fraction * float64(n))
	if scaled < 1 {
		return 1
	}
	if scaled > n {
		return n
	}
	return scaled
}

// parallelFor runs fn(jobIdx) for every jobIdx in [0, total) across workers
// goroutines, each pulling job indices off a shared atomic cursor. This is
// the Go realization of spec.md §4.D's "two index counters ... driven by
// atomic increments, yielding dynamic work distribution independent of
// per-state fan-out skew": workers never own a fixed slice of the job
// space, so a goroutine that finishes its jobs early immediately picks up
// slack from a goroutine stuck behind a high-fan-out state.
func parallelFor(ctx context.Context, total, workers int, fn func(ctx context.Context, jobIdx int) error) error {
	if total == 0 {
		return nil
	}
	if workers > total {
		workers = total
	}
	if workers < 1 {
		workers = 1
	}
	var cursor atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				idx := int(cursor.Add(1) - 1)
				if idx >= total {
					return nil
				}
				if err := fn(ctx, idx); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}
