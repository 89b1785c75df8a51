// Package task provides a bounded background runner for the gate's
// detached side effects: usage metering writes, audit log writes, and
// API key usage bumps. Tasks run outside the request's response path;
// their failures are logged and never surfaced to callers.
package task

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is a unit of detached work. The context it receives is derived
// from the runner, not the originating request, so tasks outlive the
// response that spawned them.
type Task func(ctx context.Context)

// Runner executes tasks on a fixed pool of workers fed by a bounded
// queue. Once submitted, a task runs to completion or is lost on
// process termination; there is no per-task cancellation.
type Runner struct {
	queue   chan Task
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner starts a Runner with the given queue size and worker count.
func NewRunner(queueSize, workers int, logger *slog.Logger) *Runner {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		queue:   make(chan Task, queueSize),
		logger:  logger,
		timeout: 30 * time.Second,
	}

	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.worker()
	}
	return r
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for t := range r.queue {
		r.run(t)
	}
}

func (r *Runner) run(t Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("detached task panicked", "panic", rec)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	t(ctx)
}

// TrySubmit enqueues a task without blocking. When the queue is full the
// task is dropped and the drop is logged; eventual best-effort delivery
// is the accepted contract for detached work.
func (r *Runner) TrySubmit(name string, t Task) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("detached task rejected, runner closed", "task", name)
		return false
	}

	select {
	case r.queue <- t:
		return true
	default:
		r.logger.Warn("detached task dropped, queue full", "task", name)
		return false
	}
}

// Submit blocks until the task is accepted. Used where enqueueing must
// be guaranteed, such as MCP audit records.
func (r *Runner) Submit(name string, t Task) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("detached task rejected, runner closed", "task", name)
		return false
	}

	r.queue <- t
	return true
}

// Close stops intake and drains queued tasks before returning.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.wg.Wait()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.queue)
	r.wg.Wait()
}
