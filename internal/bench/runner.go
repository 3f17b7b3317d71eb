package bench

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	tpcontext "github.com/vnykmshr/taskpool/pkg/common/context"
	"github.com/vnykmshr/taskpool/pkg/common/validation"
	"github.com/vnykmshr/taskpool/pkg/scheduling/workerpool"
)

// Case is one synthetic scan: a sequence of frames integrated into a
// single point cloud.
type Case struct {
	Name           string
	Frames         int
	PointsPerFrame int
	Seed           uint64
}

// ProgressFunc is called once per integrated frame. It runs on a pool
// worker, so calls for different frames may be concurrent.
type ProgressFunc func(caseName string, frameIndex int)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Rate   float64 // Frames per second per case, 0 for unlimited
	Burst  int
	Logger *slog.Logger
}

// Runner drives test cases through a worker pool. Each frame is submitted
// as one task. A Runner shuts its pool down at the end of Run and cannot be
// reused.
type Runner struct {
	pool   workerpool.Pool
	rate   float64
	burst  int
	logger *slog.Logger
}

// NewRunner creates a runner that submits to pool.
func NewRunner(pool workerpool.Pool, config RunnerConfig) (*Runner, error) {
	if pool == nil {
		return nil, validation.ValidateNotNil("bench", "pool", nil)
	}
	if err := validation.ValidateNonNegative("bench", "rate", config.Rate); err != nil {
		return nil, err
	}

	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Runner{
		pool:   pool,
		rate:   config.Rate,
		burst:  burst,
		logger: logger,
	}, nil
}

type caseRun struct {
	c     Case
	cloud *PointCloud

	mu       sync.Mutex
	started  time.Time
	finished time.Time
	frames   []time.Duration
}

func (cr *caseRun) frameDone(start time.Time) {
	now := time.Now()

	cr.mu.Lock()
	cr.frames = append(cr.frames, now.Sub(start))
	if now.After(cr.finished) {
		cr.finished = now
	}
	cr.mu.Unlock()
}

// Run submits every frame of every case and waits for them to complete.
// Cases are produced concurrently; within a case, frames are submitted in
// order and paced by the configured rate. Tasks already accepted by the
// pool are always executed, even when ctx is cancelled mid-run.
func (r *Runner) Run(ctx context.Context, cases []Case, progress ProgressFunc) (Report, error) {
	report := Report{
		RunID:     ulid.Make().String(),
		Workers:   r.pool.Size(),
		StartedAt: time.Now(),
	}

	runs := make([]*caseRun, len(cases))
	for i, c := range cases {
		runs[i] = &caseRun{
			c:      c,
			cloud:  NewPointCloud(c.Frames * c.PointsPerFrame),
			frames: make([]time.Duration, 0, c.Frames),
		}
	}

	r.logger.Info("benchmark started",
		slog.String("run_id", report.RunID),
		slog.Int("cases", len(cases)),
		slog.Int("workers", report.Workers))

	g, gctx := errgroup.WithContext(ctx)
	for _, cr := range runs {
		g.Go(func() error {
			return r.produce(gctx, cr, progress)
		})
	}
	runErr := g.Wait()

	// Drain whatever was accepted before returning.
	if err := r.pool.Close(); err != nil && runErr == nil {
		runErr = err
	}

	report.Elapsed = time.Since(report.StartedAt)
	report.Panicked = r.pool.TotalPanicked()
	for _, cr := range runs {
		report.Cases = append(report.Cases, cr.result())
	}

	if runErr != nil {
		r.logger.Warn("benchmark aborted", slog.String("run_id", report.RunID), slog.Any("error", runErr))
		return report, fmt.Errorf("benchmark %s: %w", report.RunID, runErr)
	}

	r.logger.Info("benchmark completed",
		slog.String("run_id", report.RunID),
		slog.Duration("elapsed", report.Elapsed))
	return report, nil
}

func (r *Runner) produce(ctx context.Context, cr *caseRun, progress ProgressFunc) error {
	var limiter *rate.Limiter
	if r.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.rate), r.burst)
	}

	cr.mu.Lock()
	cr.started = time.Now()
	cr.mu.Unlock()

	for frame := 0; frame < cr.c.Frames; frame++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		} else if tpcontext.IsCanceled(ctx) {
			return ctx.Err()
		}

		task := &frameTask{run: cr, index: frame, progress: progress}
		if err := r.pool.Submit(task); err != nil {
			return err
		}
	}

	r.logger.Debug("case submitted", slog.String("case", cr.c.Name), slog.Int("frames", cr.c.Frames))
	return nil
}

// frameTask integrates one frame into its case's point cloud.
type frameTask struct {
	run      *caseRun
	index    int
	progress ProgressFunc
}

func (t *frameTask) Execute() {
	start := time.Now()
	c := t.run.c

	t.run.cloud.Append(synthesizeFrame(c.Seed, t.index, c.PointsPerFrame)...)
	t.run.cloud.Centroid()
	t.run.frameDone(start)

	if t.progress != nil {
		t.progress(c.Name, t.index)
	}
}

func (cr *caseRun) result() CaseResult {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	res := CaseResult{
		Name:   cr.c.Name,
		Frames: len(cr.frames),
		Points: cr.cloud.Len(),
	}
	if len(cr.frames) == 0 {
		return res
	}

	res.Elapsed = cr.finished.Sub(cr.started)
	if res.Elapsed > 0 {
		res.FramesPerSec = float64(res.Frames) / res.Elapsed.Seconds()
	}

	var total time.Duration
	for _, d := range cr.frames {
		total += d
		res.MaxFrame = max(res.MaxFrame, d)
	}
	res.MeanFrame = total / time.Duration(len(cr.frames))
	return res
}
