// Package metrics provides Prometheus instrumentation for taskpool components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace is the metric namespace used when Config.Namespace is empty.
const DefaultNamespace = "taskpool"

// Registry holds all metric instances for taskpool components.
type Registry struct {
	// Worker Pool Metrics
	WorkerPoolSize        *prometheus.GaugeVec
	WorkerPoolActive      *prometheus.GaugeVec
	WorkerPoolQueued      *prometheus.GaugeVec
	TasksSubmitted        *prometheus.CounterVec
	TasksRejected         *prometheus.CounterVec
	TasksExecuted         *prometheus.CounterVec
	TasksPanicked         *prometheus.CounterVec
	TaskQueueWait         *prometheus.HistogramVec
	TaskExecutionDuration *prometheus.HistogramVec

	// Scheduler Metrics
	SchedulerEntries  *prometheus.GaugeVec
	SchedulerFirings  *prometheus.CounterVec
	SchedulerMisfires *prometheus.CounterVec

	// Stats Publisher Metrics
	StatsPublishes     *prometheus.CounterVec
	StatsPublishErrors *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by taskpool components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithConfig(Config{Registry: reg})
}

// NewRegistryWithConfig creates a metrics registry using the namespace and
// constant labels from cfg. A nil cfg.Registry means prometheus.DefaultRegisterer.
func NewRegistryWithConfig(cfg Config) *Registry {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	factory := promauto.With(reg)

	gauge := func(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.Labels,
		}, labels)
	}
	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.Labels,
		}, labels)
	}
	histogram := func(subsystem, name, help string, labels ...string) *prometheus.HistogramVec {
		return factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.Labels,
			Buckets:     prometheus.DefBuckets,
		}, labels)
	}

	return &Registry{
		WorkerPoolSize:        gauge("workerpool", "size", "Configured number of workers", "pool_name"),
		WorkerPoolActive:      gauge("workerpool", "active_workers", "Number of workers currently executing a task", "pool_name"),
		WorkerPoolQueued:      gauge("workerpool", "queued_tasks", "Number of tasks waiting in the queue", "pool_name"),
		TasksSubmitted:        counter("workerpool", "tasks_submitted_total", "Total number of tasks accepted by the pool", "pool_name"),
		TasksRejected:         counter("workerpool", "tasks_rejected_total", "Total number of submissions rejected by the pool", "pool_name"),
		TasksExecuted:         counter("workerpool", "tasks_executed_total", "Total number of tasks executed", "pool_name"),
		TasksPanicked:         counter("workerpool", "tasks_panicked_total", "Total number of tasks that panicked", "pool_name"),
		TaskQueueWait:         histogram("workerpool", "task_queue_wait_seconds", "Time tasks spent queued before a worker claimed them", "pool_name"),
		TaskExecutionDuration: histogram("workerpool", "task_duration_seconds", "Time spent executing tasks", "pool_name"),

		SchedulerEntries:  gauge("scheduler", "entries", "Number of registered schedule entries", "scheduler_name"),
		SchedulerFirings:  counter("scheduler", "firings_total", "Total number of scheduled firings submitted to the pool", "scheduler_name"),
		SchedulerMisfires: counter("scheduler", "misfires_total", "Total number of scheduled firings the pool rejected", "scheduler_name"),

		StatsPublishes:     counter("stats", "publishes_total", "Total number of pool snapshots published", "publisher_name"),
		StatsPublishErrors: counter("stats", "publish_errors_total", "Total number of failed snapshot publishes", "publisher_name"),
	}
}
