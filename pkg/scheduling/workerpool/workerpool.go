package workerpool

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	tpcontext "github.com/vnykmshr/taskpool/pkg/common/context"
	tperrors "github.com/vnykmshr/taskpool/pkg/common/errors"
	"github.com/vnykmshr/taskpool/pkg/common/validation"
)

// Submit adds a task to the tail of the queue and wakes exactly one idle
// worker. It only holds the pool lock for the append, so it never waits for
// previously queued work.
//
// Submitting after Shutdown has been called returns an error wrapping
// errors.ErrClosed; the check happens under the same lock that sets the
// shutdown flag, so a task is either queued and executed or rejected.
func (p *WorkerPool) Submit(task Task) error {
	if IsNilTask(task) {
		return validation.ValidateNotNil("workerpool", "task", nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		return tperrors.NewOperationError("workerpool", "Submit", tperrors.ErrClosed).
			WithContext("pool " + p.config.Name + " is shutting down")
	}

	p.queue.push(task)
	p.totalSubmitted.Add(1)

	// A full wake buffer means every worker already has a token to consume.
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// Shutdown initiates a graceful shutdown of the pool.
func (p *WorkerPool) Shutdown() <-chan struct{} {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.shutdown = true
		queued := p.queue.len()
		close(p.quit)
		p.mu.Unlock()

		p.logger.Info("worker pool shutting down", slog.Int("queued", queued))

		go func() {
			p.workerWg.Wait()
			p.logger.Info("worker pool shutdown completed",
				slog.Int64("completed", p.totalCompleted.Load()))
			close(p.done)
		}()
	})

	return p.done
}

// ShutdownContext initiates shutdown and waits for it to complete or for ctx
// to be done, whichever happens first.
func (p *WorkerPool) ShutdownContext(ctx context.Context) error {
	done := p.Shutdown()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		cause := ctx.Err()
		if tpcontext.IsTimedOut(ctx) {
			cause = tperrors.ErrTimeout
		}
		return tperrors.NewOperationError("workerpool", "Shutdown", cause).
			WithContext("workers are still draining the queue")
	}
}

// Close shuts the pool down and blocks until every worker has exited.
// It must not be called from inside a task running on the same pool.
func (p *WorkerPool) Close() error {
	<-p.Shutdown()
	return nil
}

// Name returns the configured pool name.
func (p *WorkerPool) Name() string {
	return p.config.Name
}

// Size returns the number of workers in the pool.
func (p *WorkerPool) Size() int {
	return p.config.WorkerCount
}

// QueueSize returns the current number of queued tasks waiting for execution.
func (p *WorkerPool) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.len()
}

// ActiveWorkers returns the number of workers currently executing tasks.
func (p *WorkerPool) ActiveWorkers() int {
	return int(p.activeWorkers.Load())
}

// TotalSubmitted returns the total number of tasks accepted by the pool.
func (p *WorkerPool) TotalSubmitted() int64 {
	return p.totalSubmitted.Load()
}

// TotalCompleted returns the total number of tasks that finished executing.
func (p *WorkerPool) TotalCompleted() int64 {
	return p.totalCompleted.Load()
}

// TotalPanicked returns the number of tasks that panicked.
func (p *WorkerPool) TotalPanicked() int64 {
	return p.totalPanicked.Load()
}

// Stats returns a point-in-time snapshot of the pool counters.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:      p.config.Name,
		Workers:   p.config.WorkerCount,
		Active:    p.ActiveWorkers(),
		Queued:    p.QueueSize(),
		Submitted: p.TotalSubmitted(),
		Completed: p.TotalCompleted(),
		Panicked:  p.TotalPanicked(),
	}
}

// claim blocks until it can pop a task, or returns false once the pool is
// shut down and the queue is empty. A worker only waits while the queue is
// empty and shutdown is false; every wake-up re-checks both under the lock.
func (p *WorkerPool) claim() (Task, bool) {
	for {
		p.mu.Lock()
		if task, ok := p.queue.pop(); ok {
			p.mu.Unlock()
			return task, true
		}
		if p.shutdown {
			p.mu.Unlock()
			return nil, false
		}
		p.mu.Unlock()

		select {
		case <-p.wake:
		case <-p.quit:
		}
	}
}

// run is the main loop for a worker.
func (w *worker) run() {
	p := w.pool
	defer p.workerWg.Done()

	if p.config.OnWorkerStart != nil {
		p.config.OnWorkerStart(w.id)
	}
	p.logger.Debug("worker started", slog.Int("worker_id", w.id))

	defer func() {
		p.logger.Debug("worker stopped", slog.Int("worker_id", w.id))
		if p.config.OnWorkerStop != nil {
			p.config.OnWorkerStop(w.id)
		}
	}()

	for {
		task, ok := p.claim()
		if !ok {
			return
		}
		w.execute(task)
	}
}

// execute runs a claimed task outside the pool lock and recovers a panic so
// the worker can keep looping. A task that calls runtime.Goexit cannot be
// recovered; its goroutine is replaced so the pool keeps WorkerCount workers.
func (w *worker) execute(task Task) {
	p := w.pool
	visible := unwrapTask(task)
	start := time.Now()
	returned := false

	p.activeWorkers.Add(1)
	defer func() {
		r := recover()
		switch {
		case r != nil:
			p.totalPanicked.Add(1)
			w.handlePanic(visible, &tperrors.PanicError{
				WorkerID: w.id,
				Value:    r,
				Stack:    debug.Stack(),
			})
		case !returned:
			p.totalPanicked.Add(1)
			w.handlePanic(visible, &tperrors.PanicError{
				WorkerID: w.id,
				Value:    tperrors.ErrTaskExited,
				Stack:    debug.Stack(),
			})
			// Added while this goroutine still holds its own count, so a
			// concurrent Shutdown cannot observe zero in between.
			p.workerWg.Add(1)
			go (&worker{id: w.id, pool: p}).run()
		}

		p.activeWorkers.Add(-1)
		p.totalCompleted.Add(1)

		if p.config.OnTaskComplete != nil {
			p.config.OnTaskComplete(w.id, visible, time.Since(start))
		}
	}()

	if p.config.OnTaskStart != nil {
		p.config.OnTaskStart(w.id, visible)
	}

	task.Execute()
	returned = true
}

func (w *worker) handlePanic(task Task, perr *tperrors.PanicError) {
	if h := w.pool.config.PanicHandler; h != nil {
		h(task, perr)
		return
	}

	w.pool.logger.Error("task panicked",
		slog.Int("worker_id", w.id),
		slog.Any("panic", perr.Value),
		slog.String("stack", string(perr.Stack)),
	)
}

// wrappedTask is implemented by decorators that wrap a caller's task.
type wrappedTask interface {
	Unwrap() Task
}

// unwrapTask returns the task the caller originally submitted so hooks see
// their own values rather than decorator wrappers.
func unwrapTask(task Task) Task {
	for {
		w, ok := task.(wrappedTask)
		if !ok {
			return task
		}
		task = w.Unwrap()
	}
}

// IsNilTask reports whether task is nil or a nil TaskFunc.
func IsNilTask(task Task) bool {
	if task == nil {
		return true
	}
	if f, ok := task.(TaskFunc); ok && f == nil {
		return true
	}
	return false
}
