// Package executor runs batches of sync jobs on a bounded worker pool and
// keeps authoritative per-batch bookkeeping: total, failed, and skipped
// counts, plus a finished flag the finalizer reconciles against.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrBatchNotFound is returned when a batch handle is unknown, typically
// because the process restarted and in-memory bookkeeping was lost.
var ErrBatchNotFound = errors.New("batch not found")

// Result is the settled outcome of one job
type Result int

const (
	// ResultSuccess marks a job that applied its record
	ResultSuccess Result = iota

	// ResultFailed marks a job that errored; failures are contained per job
	ResultFailed

	// ResultSkipped marks a job that declined its record without failing
	ResultSkipped
)

// Job is one unit of work. The context carries the per-job timeout; jobs
// must return rather than panic, but a panic is still settled as a failure.
type Job func(ctx context.Context) Result

// BatchStatus is the executor's authoritative view of a batch
type BatchStatus struct {
	Finished    bool
	TotalJobs   int
	FailedJobs  int
	SkippedJobs int
}

// Executor accepts batches of jobs and reports their aggregate status
type Executor interface {
	// Submit enqueues the jobs as one batch and returns its handle. The call
	// returns as soon as the batch is queued; jobs run asynchronously.
	Submit(ctx context.Context, jobs []Job) (string, error)

	// Status reports batch progress by handle
	Status(handle string) (BatchStatus, error)

	// Cancel flags the batch; jobs not yet started settle as skipped.
	// In-flight jobs run to completion.
	Cancel(handle string) error
}

type batch struct {
	total     int
	settled   atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	cancelled atomic.Bool
}

func (b *batch) finished() bool {
	return b.settled.Load() >= int64(b.total)
}

// Pool is the in-process Executor implementation: a shared bounded worker
// pool fed by all batches, with per-job wall-clock timeouts.
type Pool struct {
	size       int
	jobTimeout time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	batches map[string]*batch
	closed  bool

	jobs        chan poolJob
	dispatchers sync.WaitGroup
	workers     sync.WaitGroup
}

type poolJob struct {
	run func(ctx context.Context) Result
	b   *batch
}

// PoolOption configures a Pool
type PoolOption func(*Pool)

// WithPoolSize sets the number of worker goroutines
func WithPoolSize(size int) PoolOption {
	return func(p *Pool) {
		if size > 0 {
			p.size = size
		}
	}
}

// WithJobTimeout sets the per-job wall-clock timeout
func WithJobTimeout(timeout time.Duration) PoolOption {
	return func(p *Pool) {
		if timeout > 0 {
			p.jobTimeout = timeout
		}
	}
}

// WithLogger sets the pool's logger
func WithLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates and starts a worker pool executor
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		size:       8,
		jobTimeout: 45 * time.Second,
		logger:     slog.Default(),
		batches:    make(map[string]*batch),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.jobs = make(chan poolJob, p.size*2)
	for i := 0; i < p.size; i++ {
		p.workers.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) Submit(_ context.Context, jobs []Job) (string, error) {
	if len(jobs) == 0 {
		return "", fmt.Errorf("batch must contain at least one job")
	}

	b := &batch{total: len(jobs)}
	handle := uuid.NewString()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", fmt.Errorf("executor is shut down")
	}
	p.batches[handle] = b
	// Register the dispatcher before releasing the lock so a concurrent
	// Shutdown cannot close the queue underneath it.
	p.dispatchers.Add(1)
	p.mu.Unlock()

	// Feed the shared queue from a dispatcher goroutine so Submit returns
	// immediately even when the queue is full.
	go func() {
		defer p.dispatchers.Done()
		for _, job := range jobs {
			p.jobs <- poolJob{run: job, b: b}
		}
	}()

	p.logger.Debug("batch submitted", "handle", handle, "jobs", len(jobs))
	return handle, nil
}

func (p *Pool) Status(handle string) (BatchStatus, error) {
	p.mu.Lock()
	b, ok := p.batches[handle]
	p.mu.Unlock()
	if !ok {
		return BatchStatus{}, fmt.Errorf("%w: %s", ErrBatchNotFound, handle)
	}

	return BatchStatus{
		Finished:    b.finished(),
		TotalJobs:   b.total,
		FailedJobs:  int(b.failed.Load()),
		SkippedJobs: int(b.skipped.Load()),
	}, nil
}

func (p *Pool) Cancel(handle string) error {
	p.mu.Lock()
	b, ok := p.batches[handle]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, handle)
	}

	b.cancelled.Store(true)
	p.logger.Info("batch cancelled", "handle", handle)
	return nil
}

// Shutdown stops accepting batches and drains queued jobs. It returns when
// every worker has exited or the context expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.dispatchers.Wait()
		close(p.jobs)
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor shutdown interrupted: %w", ctx.Err())
	}
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for job := range p.jobs {
		p.execute(job)
	}
}

func (p *Pool) execute(job poolJob) {
	defer job.b.settled.Add(1)

	if job.b.cancelled.Load() {
		job.b.skipped.Add(1)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.jobTimeout)
	defer cancel()

	switch p.runProtected(ctx, job.run) {
	case ResultFailed:
		job.b.failed.Add(1)
	case ResultSkipped:
		job.b.skipped.Add(1)
	case ResultSuccess:
	}
}

// runProtected settles a panicking job as failed so the batch always finishes
func (p *Pool) runProtected(ctx context.Context, run Job) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("sync job panicked", "panic", r)
			result = ResultFailed
		}
	}()
	return run(ctx)
}
