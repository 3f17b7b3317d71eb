/*
Package scheduling groups the task execution packages.

  - workerpool: Fixed worker pool for concurrent task execution
  - scheduler: Time-based submission of tasks into a pool

Worker Pool:

	pool := workerpool.New(4) // 4 workers
	defer pool.Close()

	pool.Submit(workerpool.TaskFunc(func() {
		// Do work
	}))

Task Scheduler:

	s, _ := scheduler.New(pool, scheduler.Config{})
	defer func() { <-s.Stop() }()

	// One-time task
	s.ScheduleAfter("warmup", time.Minute, task)

	// Recurring task
	s.ScheduleRepeating("flush", time.Hour, task)

	// Cron-style scheduling
	s.Schedule("report", "0 9 * * MON-FRI", task) // Weekdays at 9 AM

	s.Start()

Both packages are safe for concurrent use.
*/
package scheduling
