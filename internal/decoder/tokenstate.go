package decoder

// TokenState is the compact "this WFST state is active in this frame"
// record from spec.md §3: {token-handle, state_id, cost}. Cost
// duplicates the token's own cost so the host can copy lattice data
// without dereferencing device pointers.
type TokenState struct {
	TokenHandle uint64
	StateID     int32
	Cost        float32
}
