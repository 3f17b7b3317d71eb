package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	tperrors "github.com/vnykmshr/taskpool/pkg/common/errors"
	"github.com/vnykmshr/taskpool/pkg/common/validation"
	"github.com/vnykmshr/taskpool/pkg/metrics"
	"github.com/vnykmshr/taskpool/pkg/scheduling/workerpool"
)

// Entry describes a registered schedule.
type Entry struct {
	ID       string
	Expr     string        // Cron expression, empty for interval and one-shot entries
	Interval time.Duration // Zero for cron and one-shot entries
	NextRun  time.Time
	Created  time.Time
	Fired    int64
}

// Config holds scheduler configuration.
type Config struct {
	Name         string            // Used in logs and metrics (default: "scheduler")
	Location     *time.Location    // For cron scheduling (default: time.Local)
	TickInterval time.Duration     // How often to check for due entries (default: 50ms)
	MaxEntries   int               // Maximum number of entries (default: 10000)
	Logger       *slog.Logger      // Default: discard
	Metrics      *metrics.Registry // Optional
}

type entry struct {
	id       string
	expr     string
	task     workerpool.Task
	schedule cron.Schedule
	interval time.Duration
	nextRun  time.Time
	created  time.Time
	fired    int64
}

// Scheduler submits tasks to a worker pool on cron, interval or one-shot
// schedules. It never runs tasks itself; every due entry becomes one
// pool.Submit call.
type Scheduler struct {
	pool         workerpool.Pool
	name         string
	location     *time.Location
	tickInterval time.Duration
	maxEntries   int
	parser       cron.Parser
	logger       *slog.Logger
	metrics      *metrics.Registry

	mu      sync.Mutex
	entries map[string]*entry
	running bool
	done    chan struct{}
	stopped chan struct{}
}

// New creates a scheduler that feeds pool.
func New(pool workerpool.Pool, cfg Config) (*Scheduler, error) {
	if pool == nil {
		return nil, validation.ValidateNotNil("scheduler", "pool", nil)
	}
	if err := validation.ValidateNonNegativeDuration("scheduler", "TickInterval", cfg.TickInterval); err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = "scheduler"
	}

	location := cfg.Location
	if location == nil {
		location = time.Local
	}

	tickInterval := cfg.TickInterval
	if tickInterval == 0 {
		tickInterval = 50 * time.Millisecond
	}

	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 10000
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Scheduler{
		pool:         pool,
		name:         name,
		location:     location,
		tickInterval: tickInterval,
		maxEntries:   maxEntries,
		parser:       cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:       logger.With(slog.String("scheduler", name)),
		metrics:      cfg.Metrics,
		entries:      make(map[string]*entry),
	}, nil
}

// Schedule registers task to be submitted on every activation of the cron
// expression. Both five-field and six-field (leading seconds) expressions
// are accepted, as well as descriptors such as "@hourly" or "@every 5s".
func (s *Scheduler) Schedule(id, expr string, task workerpool.Task) error {
	if err := validation.ValidateNotEmpty("scheduler", "expr", expr); err != nil {
		return err
	}

	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return tperrors.NewValidationError("scheduler", "expr", expr, err.Error()).
			WithHint(`use a cron expression such as "*/5 * * * *" or "@every 10s"`)
	}

	return s.add(id, task, &entry{
		expr:     expr,
		schedule: schedule,
		nextRun:  schedule.Next(time.Now().In(s.location)),
	})
}

// ScheduleRepeating registers task to be submitted every interval, starting
// one interval from now.
func (s *Scheduler) ScheduleRepeating(id string, interval time.Duration, task workerpool.Task) error {
	if interval <= 0 {
		return tperrors.NewValidationError("scheduler", "interval", interval, "must be positive")
	}

	return s.add(id, task, &entry{
		interval: interval,
		nextRun:  time.Now().Add(interval),
	})
}

// ScheduleAfter registers task to be submitted once after delay.
func (s *Scheduler) ScheduleAfter(id string, delay time.Duration, task workerpool.Task) error {
	if err := validation.ValidateNonNegativeDuration("scheduler", "delay", delay); err != nil {
		return err
	}

	return s.add(id, task, &entry{nextRun: time.Now().Add(delay)})
}

func (s *Scheduler) add(id string, task workerpool.Task, e *entry) error {
	if err := validation.ValidateNotEmpty("scheduler", "id", id); err != nil {
		return err
	}
	if workerpool.IsNilTask(task) {
		return validation.ValidateNotNil("scheduler", "task", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; exists {
		return tperrors.NewValidationError("scheduler", "id", id, "already exists").
			WithHint("use a different ID or cancel the existing entry first")
	}
	if len(s.entries) >= s.maxEntries {
		return tperrors.NewValidationError("scheduler", "entries", len(s.entries),
			fmt.Sprintf("maximum of %d reached", s.maxEntries))
	}

	e.id = id
	e.task = task
	e.created = time.Now()
	s.entries[id] = e
	s.updateEntriesGauge()

	s.logger.Debug("entry scheduled", slog.String("id", id), slog.Time("next_run", e.nextRun))
	return nil
}

// Cancel removes an entry. It returns false if no entry has that ID.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; !exists {
		return false
	}
	delete(s.entries, id)
	s.updateEntriesGauge()
	return true
}

// CancelAll removes every entry.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*entry)
	s.updateEntriesGauge()
}

// List returns all entries sorted by next run time.
func (s *Scheduler) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Entry{
			ID:       e.id,
			Expr:     e.expr,
			Interval: e.interval,
			NextRun:  e.nextRun,
			Created:  e.created,
			Fired:    e.fired,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].NextRun.Before(out[j].NextRun)
	})
	return out
}

// Next returns the next time the entry will be submitted.
func (s *Scheduler) Next(id string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return time.Time{}, tperrors.NewOperationError("scheduler", "Next", tperrors.ErrNotFound).
			WithContext("entry " + id)
	}
	return e.nextRun, nil
}

// Start begins checking for due entries.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return tperrors.NewOperationError("scheduler", "Start", fmt.Errorf("already running")).
			WithContext("call Stop first")
	}

	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	go s.run(s.done, s.stopped)

	s.logger.Info("scheduler started", slog.Duration("tick", s.tickInterval))
	return nil
}

// Stop halts the scheduler. The returned channel is closed once the
// scheduling loop has exited. The pool is left running.
func (s *Scheduler) Stop() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		stopped := s.stopped
		if stopped == nil {
			stopped = make(chan struct{})
			close(stopped)
		}
		return stopped
	}

	s.running = false
	close(s.done)
	s.logger.Info("scheduler stopping")
	return s.stopped
}

func (s *Scheduler) run(done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			s.fireDue(now)
		}
	}
}

func (s *Scheduler) fireDue(now time.Time) {
	s.mu.Lock()
	if len(s.entries) == 0 {
		s.mu.Unlock()
		return
	}

	type firing struct {
		e     *entry
		dueAt time.Time
	}
	due := make([]firing, 0, len(s.entries))
	for id, e := range s.entries {
		if now.Before(e.nextRun) {
			continue
		}
		due = append(due, firing{e: e, dueAt: e.nextRun})
		e.fired++

		switch {
		case e.interval > 0:
			e.nextRun = now.Add(e.interval)
		case e.schedule != nil:
			e.nextRun = e.schedule.Next(now.In(s.location))
		default:
			delete(s.entries, id)
		}
	}
	if len(due) > 0 {
		s.updateEntriesGauge()
	}
	s.mu.Unlock()

	// Submit outside the lock, earliest due first; ties go to the older entry.
	sort.Slice(due, func(i, j int) bool {
		if !due[i].dueAt.Equal(due[j].dueAt) {
			return due[i].dueAt.Before(due[j].dueAt)
		}
		return due[i].e.created.Before(due[j].e.created)
	})
	for _, f := range due {
		e := f.e
		if err := s.pool.Submit(e.task); err != nil {
			s.logger.Warn("pool rejected scheduled task", slog.String("id", e.id), slog.Any("error", err))
			if s.metrics != nil {
				s.metrics.SchedulerMisfires.WithLabelValues(s.name).Inc()
			}
			continue
		}
		if s.metrics != nil {
			s.metrics.SchedulerFirings.WithLabelValues(s.name).Inc()
		}
	}
}

// updateEntriesGauge must be called with s.mu held.
func (s *Scheduler) updateEntriesGauge() {
	if s.metrics != nil {
		s.metrics.SchedulerEntries.WithLabelValues(s.name).Set(float64(len(s.entries)))
	}
}
