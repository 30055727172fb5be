package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Runner executes one claimed queue job. Implementations must be safe for
// concurrent use; the pool never retries a job itself.
type Runner interface {
	Run(ctx context.Context, payload []byte)
}

// Pool manages a fixed number of worker goroutines that process jobs
// claimed from one queue.
type Pool struct {
	name       string
	numWorkers int
	jobs       chan []byte
	runner     Runner
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewPool creates a worker pool with the given number of workers.
func NewPool(name string, numWorkers int, runner Runner, logger *slog.Logger) *Pool {
	return &Pool{
		name:       name,
		numWorkers: numWorkers,
		jobs:       make(chan []byte, numWorkers*2),
		runner:     runner,
		logger:     logger,
	}
}

// Start launches all worker goroutines. They read from the jobs channel
// until it is closed or the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "pool", p.name, "num_workers", p.numWorkers)
}

// Submit sends a job to the worker pool via the jobs channel.
func (p *Pool) Submit(payload []byte) {
	p.jobs <- payload
}

// Stop closes the jobs channel and waits for all workers to finish.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped", "pool", p.name)
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for payload := range p.jobs {
		select {
		case <-ctx.Done():
			return
		default:
			p.runner.Run(ctx, payload)
		}
	}
}
