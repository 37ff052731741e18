package bam

import (
	"sync"
	"testing"
	"time"

	"github.com/concordbio/hts/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateReturnsFreshRecordWhenCleanEmpty(t *testing.T) {
	a := NewAllocator(pool.Singleton())
	r := a.Allocate()
	require.NotNil(t, r)
	assert.Equal(t, Magic, r.Magic)
	assert.Equal(t, -1, r.Pos)
}

func TestDeallocateMovesIntoDirty(t *testing.T) {
	a := NewAllocator(pool.Singleton())
	r := a.Allocate()
	r.Name = "mutated"
	a.Deallocate(r)
	assert.Equal(t, 1, a.DirtyLen())
}

func TestCleanerDrainsDirtyAboveThreshold(t *testing.T) {
	a := NewAllocator(pool.Singleton())
	for i := 0; i < DirtyThreshold+10; i++ {
		r := a.Allocate()
		a.Deallocate(r)
	}
	require.Eventually(t, func() bool {
		return a.DirtyLen() == 0
	}, time.Second, time.Millisecond)
	assert.True(t, a.CleanLen() > 0)
}

func TestAllocatorConcurrentUse(t *testing.T) {
	a := NewAllocator(pool.Singleton())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				r := a.Allocate()
				assert.Equal(t, Magic, r.Magic)
				a.Deallocate(r)
			}
		}()
	}
	wg.Wait()
}
