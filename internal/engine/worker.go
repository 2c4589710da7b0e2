package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned when a wave is dispatched on a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is one unit of pooled work, typically a single step of a wave.
type Task func(ctx context.Context) error

// PoolMetrics is a snapshot of worker pool counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// WorkerPool bounds how many tasks run concurrently across one execution.
// Work arrives in batches: RunWave dispatches a whole wave against the
// shared semaphore and returns only when every dispatched task has finished,
// which is what gives the engine its wave barrier.
type WorkerPool struct {
	sem  chan struct{}
	done chan struct{}

	mu     sync.Mutex
	closed bool

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

// NewWorkerPool creates a pool that runs at most size tasks at once.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// RunWave dispatches the batch with bounded parallelism and blocks until
// every dispatched task has finished. If the context expires or the pool
// closes mid-batch, the remaining tasks are not dispatched and the dispatch
// error is returned after the in-flight ones drain. A panic inside a task is
// recovered and counted; it never takes down the engine.
func (p *WorkerPool) RunWave(ctx context.Context, tasks []Task) error {
	var wg sync.WaitGroup
	var dispatchErr error

	for _, task := range tasks {
		if err := p.acquire(ctx); err != nil {
			dispatchErr = err
			break
		}
		wg.Add(1)
		go func(task Task) {
			defer func() {
				if r := recover(); r != nil {
					p.panics.Add(1)
					p.failed.Add(1)
				}
				p.active.Add(-1)
				<-p.sem
				wg.Done()
			}()
			p.active.Add(1)
			if err := task(ctx); err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}
		}(task)
	}

	wg.Wait()
	return dispatchErr
}

// acquire claims a semaphore slot, respecting ctx expiry and pool shutdown.
func (p *WorkerPool) acquire(ctx context.Context) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}

	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolClosed
	}
}

// Close stops the pool from dispatching further tasks. Tasks already running
// belong to an in-progress RunWave, whose caller waits for them.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
}

// Metrics returns a snapshot of the pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
