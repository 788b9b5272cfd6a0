package api

import "errors"

// Error taxonomy from spec.md §7. Arena overflow and malformed
// WFST/acoustic input are deliberately not part of this taxonomy: they
// are undefined behavior / caller responsibility by contract, not
// reported errors.
var (
	// ErrDecodingDead is returned when no active tokens remain at the
	// start of a frame (spec.md §7). The decoder transitions to a
	// terminal state and ReachedFinal() returns false.
	ErrDecodingDead = errors.New("decoder: no active tokens at frame start")

	// ErrARPABadFormat is returned when an ARPA line cannot be parsed.
	ErrARPABadFormat = errors.New("lm: malformed ARPA line")

	// ErrARPATruncated is returned when a required ARPA section marker
	// is missing.
	ErrARPATruncated = errors.New("lm: truncated ARPA file")

	// ErrARPAInconsistent marks a declared-vs-observed n-gram count
	// mismatch. It is tolerated (logged) unless Options.StrictARPA is
	// set (spec.md §9 open question (c)).
	ErrARPAInconsistent = errors.New("lm: declared n-gram count does not match observed count")
)
