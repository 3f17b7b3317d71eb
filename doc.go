/*
Package taskpool provides a fixed-size worker pool for fire-and-forget tasks,
plus the pieces commonly run around one.

Task Scheduling (pkg/scheduling):
  - workerpool: Fixed worker count, unbounded FIFO queue, draining shutdown
  - scheduler: Cron, interval and one-shot submission into a pool

Monitoring:
  - pkg/metrics: Prometheus collectors for pools and schedulers
  - pkg/monitoring/redisstats: Periodic pool snapshots in Redis

Example usage:

	import "github.com/vnykmshr/taskpool/pkg/scheduling/workerpool"

	pool := workerpool.New(4) // 4 workers
	defer pool.Close()

	pool.Submit(workerpool.TaskFunc(func() {
		// Do work
	}))

The poolbench command (cmd/poolbench) drives synthetic scan workloads through
a pool and reports throughput per case.
*/
package taskpool
