package arena

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenArenaAdvanceFrontConcurrent(t *testing.T) {
	a := NewTokenArena(1000)

	var wg sync.WaitGroup
	starts := make([]int, 100)
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			starts[i] = a.AdvanceFront(5)
		}()
	}
	wg.Wait()

	require.Equal(t, 500, a.Front())

	seen := make(map[int]bool)
	for _, s := range starts {
		for i := 0; i < 5; i++ {
			require.False(t, seen[s+i], "slot %d double-allocated", s+i)
			seen[s+i] = true
		}
	}
	assert.Len(t, seen, 500)
}

func TestTokenArenaResetDoesNotZero(t *testing.T) {
	a := NewTokenArena(10)
	idx := a.AdvanceFront(1)
	a.Get(idx).Cost = 42

	a.Reset()
	assert.Equal(t, 0, a.Front())
	assert.Equal(t, float32(42), a.Get(idx).Cost)
}

func TestTokenArenaPrefetchCounts(t *testing.T) {
	a := NewTokenArena(10)
	a.PrefetchNextToDevice(4)
	a.PrefetchAllocatedToHost()
	a.PrefetchAllocatedToHost()

	toDevice, toHost := a.PrefetchCounts()
	assert.Equal(t, int64(1), toDevice)
	assert.Equal(t, int64(2), toHost)
}

func TestPackUnpackTokenRef(t *testing.T) {
	ref := PackTokenRef(17, 9999)
	frame, idx := UnpackTokenRef(ref)
	assert.Equal(t, 17, frame)
	assert.Equal(t, 9999, idx)
}
