package workerpool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vnykmshr/taskpool/pkg/metrics"
)

// MetricsPool wraps a WorkerPool with Prometheus metrics collection.
type MetricsPool struct {
	pool     *WorkerPool
	name     string
	registry atomic.Pointer[metrics.Registry]
	enabled  atomic.Bool
}

// NewWithMetrics creates a new worker pool with metrics enabled.
// It panics if workerCount is not positive.
func NewWithMetrics(workerCount int, name string) *MetricsPool {
	// Use a separate registry for each metrics-enabled component to avoid conflicts
	config := metrics.Config{
		Enabled:  true,
		Registry: prometheus.NewRegistry(),
	}

	pool, err := NewWithConfigAndMetrics(Config{WorkerCount: workerCount, Name: name}, name, config)
	if err != nil {
		panic(err)
	}
	return pool.(*MetricsPool)
}

// NewWithConfigAndMetrics creates a new worker pool with custom config and metrics.
// When metricsConfig.Enabled is false the plain *WorkerPool is returned.
func NewWithConfigAndMetrics(config Config, name string, metricsConfig metrics.Config) (Pool, error) {
	if config.Name == "" {
		config.Name = name
	}
	if err := metricsConfig.Validate(); err != nil {
		return nil, err
	}

	basePool, err := NewWithConfig(config)
	if err != nil {
		return nil, err
	}

	if !metricsConfig.Enabled {
		return basePool, nil
	}

	mp := &MetricsPool{
		pool: basePool,
		name: name,
	}
	mp.registry.Store(metrics.RegistryFor(metricsConfig))
	mp.enabled.Store(true)

	mp.updateMetrics()

	return mp, nil
}

// updateMetrics updates the current state metrics.
func (mp *MetricsPool) updateMetrics() {
	if !mp.enabled.Load() {
		return
	}

	r := mp.registry.Load()
	r.WorkerPoolSize.WithLabelValues(mp.name).Set(float64(mp.pool.Size()))
	r.WorkerPoolActive.WithLabelValues(mp.name).Set(float64(mp.pool.ActiveWorkers()))
	r.WorkerPoolQueued.WithLabelValues(mp.name).Set(float64(mp.pool.QueueSize()))
}

// Submit adds a task to the pool and records the submission.
func (mp *MetricsPool) Submit(task Task) error {
	if IsNilTask(task) || !mp.enabled.Load() {
		return mp.pool.Submit(task)
	}

	// Wrap the task to collect metrics
	wrapped := &metricsTask{
		original:   task,
		pool:       mp,
		submitTime: time.Now(),
	}

	err := mp.pool.Submit(wrapped)

	r := mp.registry.Load()
	if err != nil {
		r.TasksRejected.WithLabelValues(mp.name).Inc()
	} else {
		r.TasksSubmitted.WithLabelValues(mp.name).Inc()
	}
	mp.updateMetrics()

	return err
}

// metricsTask wraps a Task to collect execution metrics.
type metricsTask struct {
	original   Task
	pool       *MetricsPool
	submitTime time.Time
}

// Execute runs the original task and records metrics. A panic from the
// original task still propagates to the worker after being counted.
func (mt *metricsTask) Execute() {
	start := time.Now()
	mp := mt.pool
	enabled := mp.enabled.Load()
	r := mp.registry.Load()

	if enabled {
		r.TaskQueueWait.WithLabelValues(mp.name).Observe(start.Sub(mt.submitTime).Seconds())
		mp.updateMetrics()
	}

	panicked := true
	defer func() {
		if !enabled {
			return
		}
		r.TaskExecutionDuration.WithLabelValues(mp.name).Observe(time.Since(start).Seconds())
		r.TasksExecuted.WithLabelValues(mp.name).Inc()
		if panicked {
			r.TasksPanicked.WithLabelValues(mp.name).Inc()
		}
		mp.updateMetrics()
	}()

	mt.original.Execute()
	panicked = false
}

// Unwrap returns the task the caller submitted.
func (mt *metricsTask) Unwrap() Task {
	return mt.original
}

// Shutdown initiates graceful shutdown of the pool.
func (mp *MetricsPool) Shutdown() <-chan struct{} {
	return mp.pool.Shutdown()
}

// ShutdownContext initiates shutdown and waits for it or for ctx.
func (mp *MetricsPool) ShutdownContext(ctx context.Context) error {
	return mp.pool.ShutdownContext(ctx)
}

// Close shuts the pool down, waits for the workers and refreshes the gauges.
func (mp *MetricsPool) Close() error {
	err := mp.pool.Close()
	mp.updateMetrics()
	return err
}

// Size returns the current number of workers.
func (mp *MetricsPool) Size() int {
	return mp.pool.Size()
}

// QueueSize returns the current number of queued tasks.
func (mp *MetricsPool) QueueSize() int {
	queueSize := mp.pool.QueueSize()

	if mp.enabled.Load() {
		mp.registry.Load().WorkerPoolQueued.WithLabelValues(mp.name).Set(float64(queueSize))
	}

	return queueSize
}

// ActiveWorkers returns the number of workers currently executing tasks.
func (mp *MetricsPool) ActiveWorkers() int {
	activeWorkers := mp.pool.ActiveWorkers()

	if mp.enabled.Load() {
		mp.registry.Load().WorkerPoolActive.WithLabelValues(mp.name).Set(float64(activeWorkers))
	}

	return activeWorkers
}

// TotalSubmitted returns the total number of tasks submitted.
func (mp *MetricsPool) TotalSubmitted() int64 {
	return mp.pool.TotalSubmitted()
}

// TotalCompleted returns the total number of tasks completed.
func (mp *MetricsPool) TotalCompleted() int64 {
	return mp.pool.TotalCompleted()
}

// TotalPanicked returns the number of tasks that panicked.
func (mp *MetricsPool) TotalPanicked() int64 {
	return mp.pool.TotalPanicked()
}

// Stats returns a snapshot of the wrapped pool.
func (mp *MetricsPool) Stats() Stats {
	return mp.pool.Stats()
}

// Registry returns the metrics registry in use.
func (mp *MetricsPool) Registry() *metrics.Registry {
	return mp.registry.Load()
}

// EnableMetrics enables metrics collection.
func (mp *MetricsPool) EnableMetrics(config metrics.Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if config.Registry != nil {
		mp.registry.Store(metrics.RegistryFor(config))
	}
	mp.enabled.Store(config.Enabled)

	mp.updateMetrics()
	return nil
}

// DisableMetrics disables metrics collection.
func (mp *MetricsPool) DisableMetrics() {
	mp.enabled.Store(false)
}

// MetricsEnabled returns true if metrics are currently enabled.
func (mp *MetricsPool) MetricsEnabled() bool {
	return mp.enabled.Load()
}

var (
	_ Pool                   = (*MetricsPool)(nil)
	_ metrics.Instrumentable = (*MetricsPool)(nil)
)
