/*
Package workerpool provides a fixed-size worker pool for fire-and-forget tasks.

A worker pool runs a fixed number of worker goroutines that pull tasks from a
shared, unbounded FIFO queue. Any goroutine may submit; submission only holds
the pool lock long enough to append, so it never waits on previously queued
work. Shutdown stops accepting tasks, lets the workers drain whatever is
already queued, and joins every worker.

Basic usage:

	pool := workerpool.New(4) // 4 workers
	defer pool.Close()

	err := pool.Submit(workerpool.TaskFunc(func() {
		// Do work
	}))
	if err != nil {
		log.Printf("Failed to submit: %v", err)
	}

Task Interface:

Tasks implement a single method:

	type Task interface {
		Execute()
	}

The TaskFunc type adapts a plain closure. Tasks take no arguments and return
nothing; there are no futures or per-task results. A task that needs to
report back captures a channel, a callback or shared state.

Ordering:

Tasks are claimed in the order Submit calls acquired the pool lock. With more
than one worker the completion order is not guaranteed, and no guarantee is
made about which worker runs which task. A pool of one worker therefore runs
tasks strictly in submission order.

Shutdown:

	<-pool.Shutdown()      // initiate and wait on the returned channel
	pool.Close()           // same, blocking
	pool.ShutdownContext(ctx)

All three drain the queue before the workers exit: tasks submitted before
shutdown began are always executed. After shutdown begins, Submit returns an
error wrapping errors.ErrClosed. ShutdownContext returns early if ctx is done,
but the workers keep draining in the background. Close must not be called
from inside a task on the same pool, since it would wait for itself.

Panics:

A panicking task does not take its worker down. The worker recovers, counts
the panic in TotalPanicked and hands an *errors.PanicError (worker id, value
and stack) to Config.PanicHandler, or logs it at error level when no handler
is set. The worker then goes back to claiming tasks.

A task that calls runtime.Goexit is reported the same way, with
errors.ErrTaskExited as the value. Goexit cannot be stopped, so the pool
starts a replacement worker with the same id before the old goroutine ends.

Configuration Options:

	pool, err := workerpool.NewWithConfig(workerpool.Config{
		WorkerCount: 8,
		Name:        "frames",
		Logger:      slog.Default(),
		PanicHandler: func(task workerpool.Task, err *errors.PanicError) {
			log.Printf("worker %d: %v", err.WorkerID, err.Value)
		},
		OnTaskComplete: func(workerID int, task workerpool.Task, d time.Duration) {
			log.Printf("worker %d finished in %v", workerID, d)
		},
	})

A non-positive WorkerCount is rejected with an *errors.ValidationError; New
panics with that error instead.

Monitoring and Metrics:

The pool exposes counters (Size, QueueSize, ActiveWorkers, TotalSubmitted,
TotalCompleted, TotalPanicked, Stats). NewWithMetrics and
NewWithConfigAndMetrics wrap the pool in a MetricsPool that exports them to
Prometheus, along with queue wait and execution time histograms.
*/
package workerpool
