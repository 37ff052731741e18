// Package pool provides the fixed-size worker pool and synchronization
// primitives shared by the bgzf, bam, samtext and sortshard packages: a
// bounded job queue, a spinlock, a one-shot flag, and synchronized FIFO
// queues. Every component on the hot path submits work to a pool.Pool
// instead of spawning goroutines directly, so that the number of
// in-flight jobs stays bounded regardless of how fast a producer runs.
package pool

import (
	"fmt"
	"runtime"
	"sync"

	"v.io/x/lib/vlog"
)

// Job is a unit of work submitted to a Pool.
type Job func()

// Pool is a fixed-size worker pool with a bounded in-flight job count.
// Submit blocks once the number of jobs that have been accepted but not
// yet finished reaches the pool's cap, so that a fast producer cannot run
// memory away from slower consumers.
type Pool struct {
	jobs    chan Job
	inFlite chan struct{} // capacity == max in-flight jobs
	wg      sync.WaitGroup
}

// DefaultMaxInFlight bounds the number of jobs that may be queued or
// running at once, across all workers.
const DefaultMaxInFlight = 128

// NewPool creates a pool with nWorkers goroutines (nWorkers<=0 means
// runtime.GOMAXPROCS(0)) and the given in-flight job cap
// (maxInFlight<=0 means DefaultMaxInFlight).
func NewPool(nWorkers, maxInFlight int) *Pool {
	if nWorkers <= 0 {
		nWorkers = runtime.GOMAXPROCS(0)
	}
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	p := &Pool{
		jobs:    make(chan Job, maxInFlight),
		inFlite: make(chan struct{}, maxInFlight),
	}
	for i := 0; i < nWorkers; i++ {
		name := fmt.Sprintf("pool-worker-%d", i)
		p.wg.Add(1)
		go p.workerLoop(name)
	}
	return p
}

func (p *Pool) workerLoop(name string) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.runJob(name, job)
	}
}

func (p *Pool) runJob(name string, job Job) {
	defer func() {
		<-p.inFlite
		if r := recover(); r != nil {
			// Job exceptions are fatal to the process: there is no job-level
			// retry (spec §4.1).
			vlog.Fatalf("pool: worker %s: job panicked: %v", name, r)
		}
	}()
	job()
}

// Submit blocks until the job has been accepted. Submission blocks when
// the in-flight job count is at capacity.
func (p *Pool) Submit(job Job) {
	p.inFlite <- struct{}{}
	p.jobs <- job
}

// WaitAll blocks until every job submitted so far has completed. It does
// not prevent new submissions from racing with the wait; callers that need
// a hard barrier must stop submitting before calling WaitAll.
func (p *Pool) WaitAll() {
	// Every accepted job holds one inFlite slot until it finishes, so
	// waiting for inFlite to drain to zero is sufficient and lock-free.
	for len(p.inFlite) > 0 {
		runtime.Gosched()
	}
}

// Shutdown stops accepting new jobs and waits for workers to exit. The pool
// must not be used after Shutdown returns.
func (p *Pool) Shutdown() {
	p.WaitAll()
	close(p.jobs)
	p.wg.Wait()
}

var (
	singletonOnce sync.Once
	singleton     *Pool
)

// Singleton returns the process-wide default pool, created lazily with
// default sizing. Most components accept an explicit *Pool so that a
// caller can pass a scoped pool instead;
// Singleton exists for callers (mainly tests and small CLIs) that don't
// need that control.
func Singleton() *Pool {
	singletonOnce.Do(func() {
		singleton = NewPool(0, 0)
	})
	return singleton
}
