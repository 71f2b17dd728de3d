// Package workerpool implements the three interchangeable dispatch
// strategies described in SPEC_FULL.md §5, grounded on the original
// source's ThreadPool trait: NaiveThreadPool (DirectPool),
// SharedQueueThreadPool (BoundedPool), and RayonThreadPool (ExternalPool —
// left as todo!() in the original, fully implemented here). Selection is
// policy, not contract: callers depend on the Pool interface only.
package workerpool

import "sync"

// Pool submits a job for execution, on whatever schedule the
// implementation chooses.
type Pool interface {
	Submit(job func())
	// Close stops accepting new jobs and waits for in-flight jobs to
	// finish, where the implementation tracks them.
	Close()
}

// DirectPool spawns one goroutine per submission. This maps to the
// original's NaiveThreadPool: no bound, no queue, no reuse.
type DirectPool struct {
	wg sync.WaitGroup
}

func NewDirectPool() *DirectPool {
	return &DirectPool{}
}

func (p *DirectPool) Submit(job func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		job()
	}()
}

func (p *DirectPool) Close() {
	p.wg.Wait()
}

// BoundedPool runs a fixed number of long-lived worker goroutines draining
// a buffered channel of jobs. This maps to the original's
// SharedQueueThreadPool.
type BoundedPool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

// NewBoundedPool starts workers goroutines, each pulling from a queue of
// the given capacity. Submit blocks once the queue is full, providing
// natural backpressure on the accept loop.
func NewBoundedPool(workers, queueCapacity int) *BoundedPool {
	if workers < 1 {
		workers = 1
	}
	if queueCapacity < 0 {
		queueCapacity = 0
	}

	p := &BoundedPool{jobs: make(chan func(), queueCapacity)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

func (p *BoundedPool) Submit(job func()) {
	p.jobs <- job
}

// Close stops accepting new jobs, drains whatever remains queued, and
// waits for every worker to exit.
func (p *BoundedPool) Close() {
	close(p.jobs)
	p.wg.Wait()
}

// ExternalPool delegates every submission to a caller-supplied dispatcher.
// This maps to the original's RayonThreadPool, which delegated to an
// external crate; here it delegates to whatever the embedding program
// wires in (a real worker pool, a metrics-wrapped executor, or anything
// else satisfying the same func(func()) shape).
type ExternalPool struct {
	dispatch func(func())
}

func NewExternalPool(dispatch func(func())) *ExternalPool {
	return &ExternalPool{dispatch: dispatch}
}

func (p *ExternalPool) Submit(job func()) {
	p.dispatch(job)
}

func (p *ExternalPool) Close() {}
