package runner

import (
	"context"
	"sync"
	"sync/atomic"
)

// Task is a unit of work run by the pool.
type Task func(ctx context.Context)

// WorkerPool manages a fixed set of goroutines draining a task queue.
// Once its context is canceled, queued tasks are dropped and Submit refuses
// new ones; running tasks unwind through their own timeouts.
type WorkerPool struct {
	ctx      context.Context
	jobs     chan Task
	wg       sync.WaitGroup
	stopOnce sync.Once
	skipped  atomic.Int64
}

// NewWorkerPool creates a pool of count workers bound to ctx.
func NewWorkerPool(ctx context.Context, count int) *WorkerPool {
	if count < 1 {
		count = 1
	}
	pool := &WorkerPool{
		ctx:  ctx,
		jobs: make(chan Task, count*2),
	}
	pool.startWorkers(count)
	return pool
}

func (p *WorkerPool) startWorkers(count int) {
	p.wg.Add(count)
	for i := 0; i < count; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.jobs {
				if p.ctx.Err() != nil {
					p.skipped.Add(1)
					continue
				}
				task(p.ctx)
			}
		}()
	}
}

// Submit queues a task, blocking while the queue is full. It returns false
// when the pool's context is done. Submit must not be called after Wait.
func (p *WorkerPool) Submit(task Task) bool {
	if p.ctx.Err() != nil {
		p.skipped.Add(1)
		return false
	}
	select {
	case p.jobs <- task:
		return true
	case <-p.ctx.Done():
		p.skipped.Add(1)
		return false
	}
}

// Wait closes the queue and blocks until every worker has exited.
func (p *WorkerPool) Wait() {
	p.stopOnce.Do(func() {
		close(p.jobs)
		p.wg.Wait()
	})
}

// Skipped returns how many tasks were dropped because of cancellation.
func (p *WorkerPool) Skipped() int64 {
	return p.skipped.Load()
}
