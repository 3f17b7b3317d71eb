// Package scheduler submits tasks to a worker pool on a schedule.
//
// A Scheduler owns no workers. It wakes up every TickInterval, collects the
// entries that are due and hands each of them to the pool with Submit, so
// the pool's concurrency bound and FIFO order apply to scheduled work like
// any other.
//
//	pool := workerpool.New(4)
//	sched, _ := scheduler.New(pool, scheduler.Config{})
//	sched.Schedule("stats", "@every 10s", workerpool.TaskFunc(reportStats))
//	sched.ScheduleRepeating("flush", time.Second, workerpool.TaskFunc(flush))
//	sched.Start()
//
//	<-sched.Stop()
//	pool.Close()
//
// Cron expressions are parsed with github.com/robfig/cron/v3 and may carry an
// optional leading seconds field. A firing the pool rejects (because it has
// been shut down) is logged and counted as a misfire; the entry keeps its
// schedule.
package scheduler
