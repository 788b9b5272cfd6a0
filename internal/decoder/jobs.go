package decoder

import "sort"

// arcJobs flattens "for every active state, for every one of its arcs"
// into a single addressable job space, so a pool of goroutines can claim
// jobs one at a time via an atomic counter — the Go realization of
// spec.md §4.D's "load balancing ... uses two index counters ... driven
// by atomic increments, yielding dynamic work distribution independent
// of per-state fan-out skew."
type arcJobs struct {
	// prefix[i] is the total number of arc-jobs contributed by active
	// states [0, i). prefix has len(activeIdx)+1 entries.
	prefix []int32
}

// newArcJobs builds the prefix-sum job table. arcCount(i) returns the
// number of arcs state i (an index into the active list, not a WFST
// state id) contributes.
func newArcJobs(n int, arcCount func(i int) int32) *arcJobs {
	prefix := make([]int32, n+1)
	for i := 0; i < n; i++ {
		prefix[i+1] = prefix[i] + arcCount(i)
	}
	return &arcJobs{prefix: prefix}
}

// Total returns the total number of arc-jobs.
func (j *arcJobs) Total() int {
	return int(j.prefix[len(j.prefix)-1])
}

// Locate maps a global job index to (activeIdx, arcOffset), where
// arcOffset is the 0-based offset into that active state's own arc
// range.
func (j *arcJobs) Locate(jobIdx int) (activeIdx int, arcOffset int32) {
	// prefix is non-decreasing; find the last i such that prefix[i] <= jobIdx.
	i := sort.Search(len(j.prefix), func(i int) bool { return j.prefix[i] > int32(jobIdx) }) - 1
	return i, int32(jobIdx) - j.prefix[i]
}
