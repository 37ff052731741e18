package pool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsAllSubmittedJobs(t *testing.T) {
	p := NewPool(4, 8)
	var n int64
	const jobs = 1000
	for i := 0; i < jobs; i++ {
		p.Submit(func() { atomic.AddInt64(&n, 1) })
	}
	p.WaitAll()
	assert.Equal(t, int64(jobs), atomic.LoadInt64(&n))
}

func TestPoolSubmitThrottlesOnInFlightCap(t *testing.T) {
	p := NewPool(1, 2)
	release := make(chan struct{})
	var started int64
	for i := 0; i < 2; i++ {
		p.Submit(func() {
			atomic.AddInt64(&started, 1)
			<-release
		})
	}
	done := make(chan struct{})
	go func() {
		p.Submit(func() {})
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Submit should have blocked while at in-flight capacity")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-done
}

func TestSingletonReturnsSameInstance(t *testing.T) {
	a := Singleton()
	b := Singleton()
	require.Same(t, a, b)
}
