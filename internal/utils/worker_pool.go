package utils

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Job represents a task to be executed by a worker.
type Job struct {
	Name string
	Task func()
}

// WorkerPool manages a pool of workers to execute jobs.
type WorkerPool struct {
	workers   int
	jobQueue  chan Job
	waitGroup sync.WaitGroup
	logger    zerolog.Logger

	mu       sync.RWMutex
	closed   bool
	quit     chan struct{}
	quitOnce sync.Once
}

// NewWorkerPool creates a new WorkerPool with the specified number of workers.
func NewWorkerPool(workers int, logger zerolog.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	pool := &WorkerPool{
		workers:  workers,
		jobQueue: make(chan Job, workers),
		logger:   logger,
		quit:     make(chan struct{}),
	}

	pool.waitGroup.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool
}

// worker processes jobs from the jobQueue.
func (wp *WorkerPool) worker() {
	defer wp.waitGroup.Done()
	for job := range wp.jobQueue {
		wp.run(job)
	}
}

func (wp *WorkerPool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().Interface("panic", r).Str("job", job.Name).Msg("Job panicked")
		}
	}()
	job.Task()
}

// Submit adds a new job to the worker pool. It blocks while the queue is full and
// gives up with ErrPoolClosed once Shutdown starts.
func (wp *WorkerPool) Submit(name string, task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return ErrPoolClosed
	}

	select {
	case wp.jobQueue <- Job{Name: name, Task: task}:
		return nil
	case <-wp.quit:
		return ErrPoolClosed
	}
}

// Closed reports whether Shutdown was called.
func (wp *WorkerPool) Closed() bool {
	select {
	case <-wp.quit:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting jobs and waits for queued jobs to finish or ctx to end.
func (wp *WorkerPool) Shutdown(ctx context.Context) error {
	// Submitters blocked on a full queue hold the read lock; wake them first.
	wp.quitOnce.Do(func() { close(wp.quit) })

	wp.mu.Lock()
	if !wp.closed {
		wp.closed = true
		close(wp.jobQueue)
	}
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.waitGroup.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
