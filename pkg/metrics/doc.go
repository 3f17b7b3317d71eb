// Package metrics provides Prometheus instrumentation for taskpool components.
//
// # Overview
//
// The metrics package provides instrumentation for:
//   - Worker pools (size, active workers, queued tasks, submissions,
//     rejections, executions, panics, queue wait and execution time)
//   - Cron schedulers feeding a pool (entries, firings, misfires)
//   - Stats publishers (publishes, publish errors)
//
// # Quick Start
//
//	pool := workerpool.NewWithMetrics(4, "frames")
//	defer pool.Close()
//
// Then expose metrics via HTTP:
//
//	http.Handle("/metrics", promhttp.Handler())
//	log.Fatal(http.ListenAndServe(":8080", nil))
//
// # Custom Registry
//
// Use a custom Prometheus registry for isolation:
//
//	registry := prometheus.NewRegistry()
//	config := metrics.Config{
//		Enabled:  true,
//		Registry: registry,
//	}
//	pool, err := workerpool.NewWithConfigAndMetrics(
//		workerpool.Config{WorkerCount: 4},
//		"frames",
//		config,
//	)
//
// # Available Metrics
//
//   - taskpool_workerpool_size
//   - taskpool_workerpool_active_workers
//   - taskpool_workerpool_queued_tasks
//   - taskpool_workerpool_tasks_submitted_total
//   - taskpool_workerpool_tasks_rejected_total
//   - taskpool_workerpool_tasks_executed_total
//   - taskpool_workerpool_tasks_panicked_total
//   - taskpool_workerpool_task_queue_wait_seconds
//   - taskpool_workerpool_task_duration_seconds
//   - taskpool_scheduler_entries
//   - taskpool_scheduler_firings_total
//   - taskpool_scheduler_misfires_total
//   - taskpool_stats_publishes_total
//   - taskpool_stats_publish_errors_total
//
// # Labels
//
//   - pool_name: User-provided name for the worker pool instance
//   - scheduler_name: User-provided name for the scheduler instance
//   - publisher_name: Name of the pool whose snapshots are published
package metrics
