// Package api defines the configurable options and shared types for the
// decoder, matching the table in spec.md §6.
package api

import "time"

// Options holds the configurable options from spec.md §6.
type Options struct {
	// Beam is the cutoff margin: cutoff = best_cost + Beam. Larger is
	// slower and more accurate.
	Beam float32

	// LatticeBeam is the pruning threshold on extra_cost. Larger
	// produces a denser lattice.
	LatticeBeam float32

	// MaxTokensPerFrame / MaxTokens size the token arena. Exceeding them
	// is undefined behavior (spec.md §4.A); the caller is responsible
	// for sizing.
	MaxTokensPerFrame int
	MaxTokens         int

	// MaxLatArcPerFrame / MaxArcs size the arc arena.
	MaxLatArcPerFrame int
	MaxArcs           int

	// PruneInterval is the number of frames between backward-pruning
	// passes (spec.md §4.E).
	PruneInterval int

	// DeterminizeLattice is the lattice-determinization switch. It is
	// loaded by envconfig and carried here, but nothing in this
	// repository reads it: Finalize runs no determinization and offers
	// no hook for one.
	DeterminizeLattice bool

	// GPUFraction / LatFraction are scheduling hints for co-tenanted
	// accelerators (spec.md §6). GPUFraction is used as a worker-pool
	// size multiplier: the compute-stream pool size is GPUFraction *
	// GOMAXPROCS, and zero or unset means "use the full GOMAXPROCS".
	// LatFraction is loaded by envconfig but not read by the decoder;
	// the lattice stream always runs on a single goroutine.
	GPUFraction float64
	LatFraction float64

	// HashSeed seeds the LM's deterministic hash-coefficient sampler
	// (spec.md §9: "make the seed a build-time option"). Zero means the
	// spec's documented default seed.
	HashSeed uint64

	// FSTArcCacheSize bounds the on-demand transducer view's
	// (state,ilabel)->arc LRU cache (SPEC_FULL.md §4.H). Zero disables
	// caching.
	FSTArcCacheSize int

	// StrictARPA, if set, turns a declared-but-missing ARPA n-gram
	// count into a hard error instead of a tolerated warning (spec.md
	// §9 open question (c)).
	StrictARPA bool

	// CompactAcoustics, if set, stores the double-buffered acoustic
	// likelihood arena in float16 instead of float32 (SPEC_FULL.md §3).
	CompactAcoustics bool

	// FrameTimeout is a per-frame stall timeout loaded by envconfig. The
	// driver does not read it: its waits end only when the awaited work
	// completes or the caller's context is cancelled.
	FrameTimeout time.Duration
}

// DefaultOptions returns reasonable defaults, matching the scale of
// spec.md §8's end-to-end scenarios.
func DefaultOptions() Options {
	return Options{
		Beam:              16,
		LatticeBeam:       8,
		MaxTokensPerFrame: 1 << 16,
		MaxTokens:         1 << 22,
		MaxLatArcPerFrame: 1 << 17,
		MaxArcs:           1 << 23,
		PruneInterval:     25,
		GPUFraction:       1,
		LatFraction:       1,
		FSTArcCacheSize:   4096,
	}
}
