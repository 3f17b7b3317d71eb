package workerpool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	tperrors "github.com/vnykmshr/taskpool/pkg/common/errors"
	"github.com/vnykmshr/taskpool/pkg/common/validation"
)

// Task represents a unit of work that can be executed by a worker.
type Task interface {
	// Execute runs the task. It takes no arguments and returns nothing;
	// any state the task needs is captured by the implementation.
	Execute()
}

// TaskFunc is a function type that implements the Task interface.
type TaskFunc func()

// Execute implements the Task interface for TaskFunc.
func (f TaskFunc) Execute() {
	f()
}

// Pool is the behaviour shared by WorkerPool and its decorators.
type Pool interface {
	// Submit appends a task to the tail of the queue and wakes one idle worker.
	// It never blocks on load. Returns an error wrapping errors.ErrClosed once
	// shutdown has begun.
	Submit(task Task) error

	// Shutdown stops accepting tasks, lets the workers drain the queue and
	// returns a channel that is closed once every worker has exited.
	// Calling it more than once returns the same channel.
	Shutdown() <-chan struct{}

	// ShutdownContext initiates shutdown and waits until it completes or ctx
	// is done. Queued tasks are never abandoned; an expired ctx only stops
	// the caller from waiting.
	ShutdownContext(ctx context.Context) error

	// Close initiates shutdown and blocks until every worker has exited.
	Close() error

	// Size returns the number of workers in the pool.
	Size() int

	// QueueSize returns the current number of queued tasks waiting for execution.
	QueueSize() int

	// ActiveWorkers returns the number of workers currently executing tasks.
	ActiveWorkers() int

	// TotalSubmitted returns the total number of tasks accepted by the pool.
	TotalSubmitted() int64

	// TotalCompleted returns the total number of tasks that finished
	// executing, including tasks that panicked.
	TotalCompleted() int64

	// TotalPanicked returns the number of tasks that panicked.
	TotalPanicked() int64

	// Stats returns a point-in-time snapshot of the counters above.
	Stats() Stats
}

// Stats is a point-in-time view of a pool's counters.
type Stats struct {
	Name      string
	Workers   int
	Active    int
	Queued    int
	Submitted int64
	Completed int64
	Panicked  int64
}

// Config holds configuration options for creating a worker pool.
type Config struct {
	// WorkerCount is the number of workers in the pool.
	// Must be greater than 0.
	WorkerCount int

	// Name identifies the pool in logs and metrics. Defaults to "workerpool".
	Name string

	// Logger receives lifecycle and panic logs. Defaults to a logger that
	// discards everything.
	Logger *slog.Logger

	// PanicHandler is called when a task panics. The worker keeps running
	// afterwards. If nil, the panic and its stack are logged at error level.
	PanicHandler func(task Task, err *tperrors.PanicError)

	// OnWorkerStart is called when a worker starts.
	OnWorkerStart func(workerID int)

	// OnWorkerStop is called when a worker stops.
	OnWorkerStop func(workerID int)

	// OnTaskStart is called before a task begins execution.
	OnTaskStart func(workerID int, task Task)

	// OnTaskComplete is called after a task returns or panics.
	OnTaskComplete func(workerID int, task Task, duration time.Duration)
}

const defaultName = "workerpool"

// WorkerPool runs tasks on a fixed set of worker goroutines fed from an
// unbounded FIFO queue.
type WorkerPool struct {
	config Config
	logger *slog.Logger

	// mu guards queue and shutdown.
	mu       sync.Mutex
	queue    taskQueue
	shutdown bool

	// wake carries one token per submission, buffered to the worker count.
	wake chan struct{}
	// quit is closed once to wake every idle worker for shutdown.
	quit         chan struct{}
	done         chan struct{}
	shutdownOnce sync.Once

	workerWg sync.WaitGroup

	activeWorkers  atomic.Int64
	totalSubmitted atomic.Int64
	totalCompleted atomic.Int64
	totalPanicked  atomic.Int64
}

// worker represents a single worker in the pool.
type worker struct {
	id   int
	pool *WorkerPool
}

// New creates a new worker pool with the specified number of workers.
// It panics if workerCount is not positive; use NewWithConfig to get an error instead.
func New(workerCount int) *WorkerPool {
	pool, err := NewWithConfig(Config{WorkerCount: workerCount})
	if err != nil {
		panic(err)
	}
	return pool
}

// NewWithConfig creates a new worker pool with the specified configuration.
// Every worker is started before it returns, but it does not wait for them
// to reach any particular state.
func NewWithConfig(config Config) (*WorkerPool, error) {
	if err := validation.ValidatePositive("workerpool", "WorkerCount", config.WorkerCount); err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = defaultName
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool := &WorkerPool{
		config: config,
		logger: logger.With(slog.String("pool", config.Name)),
		wake:   make(chan struct{}, config.WorkerCount),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	pool.workerWg.Add(config.WorkerCount)
	for i := range config.WorkerCount {
		w := &worker{id: i, pool: pool}
		go w.run()
	}

	pool.logger.Info("worker pool started", slog.Int("workers", config.WorkerCount))
	return pool, nil
}

var _ Pool = (*WorkerPool)(nil)
