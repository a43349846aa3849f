// Package pipeline contains the dump processing core: artifact preparation,
// the symbol eligibility gate, per-plugin execution, secondary analyzer
// fan-out, and the orchestrator that drives one dump through all of it over
// a shared worker pool.
package pipeline

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/memharbor/memharbor/pkg/common/logger"
)

// Task is one schedulable unit of work. Tasks carry their own error handling;
// the pool never inspects outcomes.
type Task func(ctx context.Context)

// WorkerPool executes plugin tasks across a bounded set of workers. Two
// dumps processing concurrently share the pool but own disjoint task sets;
// callers track their own completion with a WaitGroup. Fan-out sub-tasks run
// elsewhere: a task on this pool may block waiting for them, so they must
// never compete with it for a worker slot.
type WorkerPool struct {
	workers  int
	tasks    chan Task
	workerWg sync.WaitGroup

	logger *logger.Logger
	tracer trace.Tracer
}

// NewWorkerPool creates a pool with the given number of workers. The queue is
// buffered so submitting a burst of plugin tasks does not serialize callers.
func NewWorkerPool(workers int, log *logger.Logger, tracer trace.Tracer) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers: workers,
		tasks:   make(chan Task, workers*10),
		logger:  log.With("component", "worker_pool", "num_workers", workers),
		tracer:  tracer,
	}
}

// Start launches the workers. They run until the context is cancelled and the
// queue has drained.
func (p *WorkerPool) Start(ctx context.Context) {
	_, span := p.tracer.Start(ctx, "worker_pool.start",
		trace.WithAttributes(attribute.Int("num_workers", p.workers)))
	defer span.End()

	p.workerWg.Add(p.workers)
	for i := range p.workers {
		go func(workerID int) {
			defer p.workerWg.Done()
			p.workerLoop(ctx, workerID)
		}(i)
	}
	p.logger.Info(ctx, "Worker pool started")
}

// Submit enqueues a task. It blocks when the queue is full, which bounds the
// amount of in-flight work, and fails only when the pool is shutting down.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queue and waits for the workers to drain it.
func (p *WorkerPool) Stop(ctx context.Context) {
	close(p.tasks)
	p.workerWg.Wait()
	p.logger.Info(ctx, "Worker pool stopped")
}

func (p *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	log := p.logger.With("worker_id", workerID)
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			task(ctx)
		case <-ctx.Done():
			log.Info(ctx, "Worker stopping", "reason", ctx.Err())
			return
		}
	}
}
