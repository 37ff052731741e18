package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpinlockMutualExclusion(t *testing.T) {
	var lk Spinlock
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				lk.Lock()
				counter++
				lk.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50*200, counter)
}

func TestSpinlockTryLock(t *testing.T) {
	var lk Spinlock
	assert.True(t, lk.TryLock())
	assert.False(t, lk.TryLock())
	lk.Unlock()
	assert.True(t, lk.TryLock())
}

func TestFlagSetIsOneShot(t *testing.T) {
	var f Flag
	assert.False(t, f.IsSet())
	assert.True(t, f.Set())
	assert.False(t, f.Set())
	assert.True(t, f.IsSet())
	f.Clear()
	assert.False(t, f.IsSet())
	assert.True(t, f.Set())
}

func TestBoundedQueuePushPopOrder(t *testing.T) {
	q := NewBoundedQueue(10)
	q.Push(1)
	q.Push(2)
	q.Push(3)
	assert.Equal(t, 3, q.Len())
	v, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestBoundedQueueCloseDrainsThenReturnsFalse(t *testing.T) {
	q := NewBoundedQueue(10)
	q.Push("a")
	q.Close()
	v, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestBoundedQueueBlocksPushAtCapacity(t *testing.T) {
	q := NewBoundedQueue(1)
	q.Push(1)
	pushed := make(chan struct{})
	go func() {
		q.Push(2)
		close(pushed)
	}()
	select {
	case <-pushed:
		t.Fatal("Push should have blocked at capacity")
	default:
	}
	_, _ = q.Pop()
	<-pushed
}

func TestUnboundedQueuePushPop(t *testing.T) {
	var q UnboundedQueue
	q.Push("x")
	q.Push("y")
	assert.Equal(t, 2, q.Len())
	v, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, "x", v)
	_, ok = q.Pop()
	assert.True(t, ok)
	_, ok = q.Pop()
	assert.False(t, ok)
}
