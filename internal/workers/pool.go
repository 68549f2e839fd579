package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"calling-agent/internal/observability"
)

// Job is one unit of background work, typically a turn persistence or event
// publication. Jobs are retried once on failure; delivery is at-least-once.
type Job = func(ctx context.Context) error

// Config holds configuration for the worker pool.
type Config struct {
	// NumWorkers is the number of concurrent workers to run.
	NumWorkers int

	// QueueSize is the size of the job queue buffer. TrySubmit drops the job
	// when the queue is full.
	QueueSize int

	// DrainTimeout is the maximum time to wait for in-flight jobs to
	// complete during graceful shutdown.
	DrainTimeout time.Duration
}

// DefaultConfig returns sensible defaults for a worker pool.
func DefaultConfig() Config {
	return Config{
		NumWorkers:   4,
		QueueSize:    100,
		DrainTimeout: 10 * time.Second,
	}
}

// Pool runs background jobs off the webhook latency path.
type Pool struct {
	config Config
	logger *observability.Logger

	jobChan chan Job
	wg      sync.WaitGroup

	mu       sync.Mutex
	started  bool
	stopped  bool
	cancelFn context.CancelFunc
}

// NewPool creates a new worker pool.
func NewPool(config Config, logger *observability.Logger) *Pool {
	if config.NumWorkers <= 0 {
		config.NumWorkers = DefaultConfig().NumWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultConfig().DrainTimeout
	}
	return &Pool{
		config:  config,
		logger:  logger,
		jobChan: make(chan Job, config.QueueSize),
	}
}

// Start launches the workers. It is a no-op if the pool already runs.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	workerCtx, cancel := context.WithCancel(ctx)
	p.cancelFn = cancel

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker(workerCtx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for job := range p.jobChan {
		p.run(ctx, id, job)
	}
}

func (p *Pool) run(ctx context.Context, id int, job Job) {
	err := job(ctx)
	if err == nil {
		return
	}
	p.logger.Error(ctx, fmt.Sprintf("worker %d job failed, retrying once", id), err)
	if err := job(ctx); err != nil {
		p.logger.Error(ctx, fmt.Sprintf("worker %d job failed after retry, dropping", id), err)
	}
}

// TrySubmit queues a job without blocking. Returns false when the queue is
// full or the pool is stopped; the caller decides whether the loss matters.
// The send happens under the mutex so Stop cannot close the channel between
// the stopped check and the send.
func (p *Pool) TrySubmit(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}

	select {
	case p.jobChan <- job:
		return true
	default:
		return false
	}
}

// Stop closes the queue and waits for in-flight jobs up to the drain timeout.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped || !p.started {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	// Closed under the same mutex TrySubmit sends under, so no send can
	// race the close.
	close(p.jobChan)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.config.DrainTimeout):
		p.logger.Warn(context.Background(), "worker pool drain timeout reached, abandoning in-flight jobs")
	}

	if p.cancelFn != nil {
		p.cancelFn()
	}
}
