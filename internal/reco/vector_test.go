package reco

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeCell struct {
	mu     sync.Mutex
	packed uint64
}

func (c *fakeCell) Load() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.packed
}

func (c *fakeCell) set(cost uint32, idx uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packed = uint64(cost)<<32 | uint64(idx)
}

func unpackIdx(packed uint64) int {
	return int(packed & 0xffffffff)
}

func TestVectorPushBackAndSize(t *testing.T) {
	v := New[int](4)
	assert.Equal(t, 0, v.Size())
	i0 := v.PushBack(10)
	i1 := v.PushBack(20)
	assert.Equal(t, 0, i0)
	assert.Equal(t, 1, i1)
	assert.Equal(t, 2, v.Size())
	assert.Equal(t, 10, v.At(0))
}

func TestVectorStoreByPackIndexRewritesLosers(t *testing.T) {
	v := New[int](4)
	cellA := &fakeCell{}
	cellB := &fakeCell{}

	// Two candidates race for the same destination state; B wins (lower cost).
	idxA := v.PushBackWithCell(100, cellA)
	idxB := v.PushBackWithCell(200, cellB)
	cellA.set(5, uint32(idxB)) // A's cell ends up pointing at B, the winner
	cellB.set(5, uint32(idxB))

	temp := []int{100, 200}
	v.StoreByPackIndex(temp, unpackIdx)

	assert.Equal(t, 200, v.At(idxA), "loser slot should be rewritten to the winner's value")
	assert.True(t, v.IsUpdated(idxA))
	assert.False(t, v.IsUpdated(idxB), "winner's own slot is unchanged")
}

func TestVectorClear(t *testing.T) {
	v := New[int](4)
	v.PushBack(1)
	v.PushBack(2)
	v.Clear()
	assert.Equal(t, 0, v.Size())
}
