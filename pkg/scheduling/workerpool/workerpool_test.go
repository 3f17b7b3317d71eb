package workerpool

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vnykmshr/taskpool/internal/testutil"
	tperrors "github.com/vnykmshr/taskpool/pkg/common/errors"
)

// TestTask is a simple task for testing.
type TestTask struct {
	ID          int
	Duration    time.Duration
	ShouldPanic bool
	Executed    *int32 // Atomic counter
}

func (t *TestTask) Execute() {
	atomic.AddInt32(t.Executed, 1)

	if t.Duration > 0 {
		time.Sleep(t.Duration)
	}

	if t.ShouldPanic {
		panic("test panic")
	}
}

// gate returns a task that blocks until release is called.
func gate() (Task, func()) {
	ch := make(chan struct{})
	var once sync.Once
	return TaskFunc(func() { <-ch }), func() { once.Do(func() { close(ch) }) }
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		workerCount int
		expectPanic bool
	}{
		{"valid params", 2, false},
		{"single worker", 1, false},
		{"many workers", 64, false},
		{"zero workers", 0, true},
		{"negative workers", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.expectPanic {
				defer func() {
					if r := recover(); r == nil {
						t.Error("expected panic")
					}
				}()
			}

			pool := New(tt.workerCount)
			if !tt.expectPanic {
				testutil.AssertEqual(t, pool.Size(), tt.workerCount)
				testutil.AssertNoError(t, pool.Close())
			}
		})
	}
}

func TestNewWithConfigRejectsNonPositiveWorkers(t *testing.T) {
	for _, n := range []int{0, -3} {
		pool, err := NewWithConfig(Config{WorkerCount: n})
		testutil.AssertError(t, err)
		testutil.AssertEqual(t, pool == nil, true)
		testutil.AssertEqual(t, tperrors.IsValidationError(err), true)
		testutil.AssertEqual(t, errors.Is(err, tperrors.ErrInvalidConfiguration), true)
	}
}

func TestNewWithConfigDefaults(t *testing.T) {
	pool, err := NewWithConfig(Config{WorkerCount: 2})
	testutil.AssertNoError(t, err)
	defer pool.Close()

	testutil.AssertEqual(t, pool.Name(), "workerpool")
	testutil.AssertEqual(t, pool.Stats().Workers, 2)
}

func TestBasicTaskExecution(t *testing.T) {
	pool := New(2)

	var executed int32
	task := &TestTask{
		ID:       1,
		Duration: 10 * time.Millisecond,
		Executed: &executed,
	}

	testutil.AssertNoError(t, pool.Submit(task))
	testutil.AssertNoError(t, pool.Close())

	testutil.AssertEqual(t, atomic.LoadInt32(&executed), int32(1))
	testutil.AssertEqual(t, pool.TotalSubmitted(), int64(1))
	testutil.AssertEqual(t, pool.TotalCompleted(), int64(1))
}

func TestConstructAndDestroyWithoutTasks(t *testing.T) {
	pool := New(8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pool.Close()
	}()

	testutil.WaitClosed(t, done, time.Second)
	testutil.AssertEqual(t, pool.TotalSubmitted(), int64(0))
}

func TestExactlyOnceUnderContention(t *testing.T) {
	pool := New(4)

	const numTasks = 1000
	var counter atomic.Int64
	perTask := make([]atomic.Int32, numTasks)

	for i := range numTasks {
		err := pool.Submit(TaskFunc(func() {
			perTask[i].Add(1)
			counter.Add(1)
		}))
		testutil.AssertNoError(t, err)
	}

	testutil.AssertNoError(t, pool.Close())

	testutil.AssertEqual(t, counter.Load(), int64(numTasks))
	for i := range perTask {
		if got := perTask[i].Load(); got != 1 {
			t.Fatalf("task %d executed %d times", i, got)
		}
	}
	testutil.AssertEqual(t, pool.TotalCompleted(), int64(numTasks))
}

func TestSingleWorkerPreservesSubmissionOrder(t *testing.T) {
	pool := New(1)

	const k = 20
	var rec testutil.Recorder[int]
	for i := range k {
		testutil.AssertNoError(t, pool.Submit(TaskFunc(func() {
			time.Sleep(time.Millisecond)
			rec.Record(i)
		})))
	}

	testutil.AssertNoError(t, pool.Close())

	got := rec.Values()
	testutil.AssertEqual(t, len(got), k)
	for i, v := range got {
		if v != i {
			t.Fatalf("position %d: got %d, want %d (order %v)", i, v, i, got)
		}
	}
}

func TestBoundedConcurrency(t *testing.T) {
	const workers = 3
	pool := New(workers)

	var rec testutil.Recorder[int]
	for i := range 60 {
		testutil.AssertNoError(t, pool.Submit(TaskFunc(func() {
			rec.Track(func() {
				time.Sleep(2 * time.Millisecond)
				if active := pool.ActiveWorkers(); active > workers {
					t.Errorf("active workers %d exceeds %d", active, workers)
				}
			})
			rec.Record(i)
		})))
	}

	testutil.AssertNoError(t, pool.Close())

	testutil.AssertEqual(t, rec.Len(), 60)
	if peak := rec.MaxInFlight(); peak > workers {
		t.Fatalf("observed %d concurrent tasks, limit is %d", peak, workers)
	}
}

func TestNoLossOnShutdown(t *testing.T) {
	pool := New(3)

	const numTasks = 200
	var executed int32
	for i := range numTasks {
		task := &TestTask{ID: i, Executed: &executed}
		if i%10 == 0 {
			task.Duration = time.Millisecond
		}
		testutil.AssertNoError(t, pool.Submit(task))
	}

	// Shut down while most of the queue is still pending.
	<-pool.Shutdown()

	testutil.AssertEqual(t, atomic.LoadInt32(&executed), int32(numTasks))
	testutil.AssertEqual(t, pool.QueueSize(), 0)
	testutil.AssertEqual(t, pool.ActiveWorkers(), 0)
}

func TestShutdownIsIdempotent(t *testing.T) {
	pool := New(2)

	first := pool.Shutdown()
	second := pool.Shutdown()
	testutil.AssertEqual(t, first, second)

	testutil.WaitClosed(t, first, time.Second)
	testutil.AssertNoError(t, pool.Close())
	testutil.AssertNoError(t, pool.ShutdownContext(context.Background()))
}

func TestSubmitToShutdownPool(t *testing.T) {
	pool := New(1)
	<-pool.Shutdown()

	var executed int32
	err := pool.Submit(&TestTask{ID: 1, Executed: &executed})
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, errors.Is(err, tperrors.ErrClosed), true)
	testutil.AssertEqual(t, tperrors.IsClosed(err), true)
	testutil.AssertEqual(t, pool.TotalSubmitted(), int64(0))
	testutil.AssertEqual(t, atomic.LoadInt32(&executed), int32(0))
}

func TestSubmitNilTask(t *testing.T) {
	pool := New(1)
	defer pool.Close()

	err := pool.Submit(nil)
	testutil.AssertEqual(t, tperrors.IsValidationError(err), true)

	var fn TaskFunc
	err = pool.Submit(fn)
	testutil.AssertEqual(t, tperrors.IsValidationError(err), true)
	testutil.AssertEqual(t, pool.TotalSubmitted(), int64(0))
}

func TestSubmitDoesNotWaitForRunningWork(t *testing.T) {
	pool := New(1)
	blocker, release := gate()
	defer func() {
		release()
		pool.Close()
	}()

	testutil.AssertNoError(t, pool.Submit(blocker))
	testutil.Eventually(t, func() bool { return pool.ActiveWorkers() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	for range 1000 {
		testutil.AssertNoError(t, pool.Submit(TaskFunc(func() {})))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("submitting behind a blocked worker took %v", elapsed)
	}
	testutil.AssertEqual(t, pool.QueueSize(), 1000)
}

func TestTaskPanicKeepsWorkerAlive(t *testing.T) {
	var mu sync.Mutex
	var handled []*tperrors.PanicError
	var handledTask Task

	var executed int32
	panicky := &TestTask{ID: 1, ShouldPanic: true, Executed: &executed}

	pool, err := NewWithConfig(Config{
		WorkerCount: 1,
		PanicHandler: func(task Task, perr *tperrors.PanicError) {
			mu.Lock()
			defer mu.Unlock()
			handled = append(handled, perr)
			handledTask = task
		},
	})
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, pool.Submit(panicky))
	testutil.AssertNoError(t, pool.Submit(&TestTask{ID: 2, Executed: &executed}))
	testutil.AssertNoError(t, pool.Submit(&TestTask{ID: 3, Executed: &executed}))
	testutil.AssertNoError(t, pool.Close())

	testutil.AssertEqual(t, atomic.LoadInt32(&executed), int32(3))
	testutil.AssertEqual(t, pool.TotalPanicked(), int64(1))
	testutil.AssertEqual(t, pool.TotalCompleted(), int64(3))

	mu.Lock()
	defer mu.Unlock()
	testutil.AssertEqual(t, len(handled), 1)
	testutil.AssertEqual(t, handled[0].WorkerID, 0)
	testutil.AssertEqual(t, handled[0].Value, any("test panic"))
	testutil.AssertEqual(t, len(handled[0].Stack) > 0, true)
	testutil.AssertEqual(t, handledTask, Task(panicky))
}

func TestTaskPanicDefaultHandlerLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	pool, err := NewWithConfig(Config{WorkerCount: 2, Name: "frames", Logger: logger})
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, pool.Submit(TaskFunc(func() { panic("boom") })))
	testutil.AssertNoError(t, pool.Close())

	out := buf.String()
	for _, want := range []string{"task panicked", "boom", "pool=frames", "worker pool shutdown completed"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestShutdownContextTimeout(t *testing.T) {
	pool := New(1)
	blocker, release := gate()

	var executed int32
	testutil.AssertNoError(t, pool.Submit(blocker))
	testutil.AssertNoError(t, pool.Submit(&TestTask{ID: 2, Executed: &executed}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := pool.ShutdownContext(ctx)
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, errors.Is(err, tperrors.ErrTimeout), true)

	// The queued task is still drained once the blocker returns.
	release()
	testutil.AssertNoError(t, pool.Close())
	testutil.AssertEqual(t, atomic.LoadInt32(&executed), int32(1))
}

func TestShutdownContextCanceled(t *testing.T) {
	pool := New(1)
	blocker, release := gate()
	testutil.AssertNoError(t, pool.Submit(blocker))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pool.ShutdownContext(ctx)
	testutil.AssertEqual(t, errors.Is(err, context.Canceled), true)

	release()
	testutil.AssertNoError(t, pool.Close())
}

func TestWorkerCallbacks(t *testing.T) {
	var workerStarted, workerStopped int32
	var taskStarted, taskCompleted int32
	seen := make(map[int]bool)
	var mu sync.Mutex

	config := Config{
		WorkerCount: 2,
		OnWorkerStart: func(workerID int) {
			atomic.AddInt32(&workerStarted, 1)
			mu.Lock()
			seen[workerID] = true
			mu.Unlock()
		},
		OnWorkerStop: func(workerID int) {
			atomic.AddInt32(&workerStopped, 1)
		},
		OnTaskStart: func(workerID int, task Task) {
			atomic.AddInt32(&taskStarted, 1)
		},
		OnTaskComplete: func(workerID int, task Task, duration time.Duration) {
			atomic.AddInt32(&taskCompleted, 1)
		},
	}

	pool, err := NewWithConfig(config)
	testutil.AssertNoError(t, err)

	testutil.Eventually(t, func() bool {
		return atomic.LoadInt32(&workerStarted) == 2
	}, time.Second, time.Millisecond)

	for i := range 5 {
		testutil.AssertNoError(t, pool.Submit(&TestTask{ID: i, Executed: new(int32)}))
	}

	testutil.AssertNoError(t, pool.Close())

	testutil.AssertEqual(t, atomic.LoadInt32(&taskStarted), int32(5))
	testutil.AssertEqual(t, atomic.LoadInt32(&taskCompleted), int32(5))
	testutil.AssertEqual(t, atomic.LoadInt32(&workerStopped), int32(2))

	mu.Lock()
	defer mu.Unlock()
	testutil.AssertEqual(t, seen[0] && seen[1], true)
}

func TestConcurrentSubmitters(t *testing.T) {
	pool := New(5)

	const numGoroutines = 10
	const tasksPerGoroutine = 100

	var totalExecuted int32
	var g errgroup.Group

	for i := range numGoroutines {
		g.Go(func() error {
			for j := range tasksPerGoroutine {
				task := &TestTask{
					ID:       i*1000 + j,
					Executed: &totalExecuted,
				}
				if err := pool.Submit(task); err != nil {
					return err
				}
			}
			return nil
		})
	}

	testutil.AssertNoError(t, g.Wait())
	testutil.AssertNoError(t, pool.Close())

	expected := numGoroutines * tasksPerGoroutine
	testutil.AssertEqual(t, atomic.LoadInt32(&totalExecuted), int32(expected))
	testutil.AssertEqual(t, pool.TotalSubmitted(), int64(expected))
	testutil.AssertEqual(t, pool.TotalCompleted(), int64(expected))
}

func TestActiveWorkersAndQueueSize(t *testing.T) {
	pool := New(2)

	testutil.AssertEqual(t, pool.ActiveWorkers(), 0)
	testutil.AssertEqual(t, pool.QueueSize(), 0)

	first, releaseFirst := gate()
	second, releaseSecond := gate()
	testutil.AssertNoError(t, pool.Submit(first))
	testutil.AssertNoError(t, pool.Submit(second))

	testutil.Eventually(t, func() bool { return pool.ActiveWorkers() == 2 }, time.Second, time.Millisecond)

	var executed int32
	for i := range 3 {
		testutil.AssertNoError(t, pool.Submit(&TestTask{ID: i, Executed: &executed}))
	}
	testutil.AssertEqual(t, pool.QueueSize(), 3)

	stats := pool.Stats()
	testutil.AssertEqual(t, stats.Active, 2)
	testutil.AssertEqual(t, stats.Queued, 3)
	testutil.AssertEqual(t, stats.Submitted, int64(5))

	releaseFirst()
	releaseSecond()
	testutil.AssertNoError(t, pool.Close())

	testutil.AssertEqual(t, pool.ActiveWorkers(), 0)
	testutil.AssertEqual(t, pool.QueueSize(), 0)
	testutil.AssertEqual(t, atomic.LoadInt32(&executed), int32(3))
}

func TestIdleWorkersWakeForLateSubmissions(t *testing.T) {
	pool := New(4)
	defer pool.Close()

	// Let every worker go idle, then submit in small bursts.
	time.Sleep(10 * time.Millisecond)

	var done atomic.Int64
	for range 5 {
		for range 3 {
			testutil.AssertNoError(t, pool.Submit(TaskFunc(func() { done.Add(1) })))
		}
		time.Sleep(2 * time.Millisecond)
	}

	testutil.WaitForInt64(t, &done, 15, time.Second)
}

func TestTaskGoexitReplacesWorker(t *testing.T) {
	var mu sync.Mutex
	var reported []*tperrors.PanicError
	var started atomic.Int32

	pool, err := NewWithConfig(Config{
		WorkerCount: 1,
		OnWorkerStart: func(int) {
			started.Add(1)
		},
		PanicHandler: func(task Task, perr *tperrors.PanicError) {
			mu.Lock()
			reported = append(reported, perr)
			mu.Unlock()
		},
	})
	testutil.AssertNoError(t, err)

	release := make(chan struct{})
	testutil.AssertNoError(t, pool.Submit(TaskFunc(func() {
		<-release
		runtime.Goexit()
	})))

	var ran atomic.Int32
	for range 5 {
		testutil.AssertNoError(t, pool.Submit(TaskFunc(func() { ran.Add(1) })))
	}
	close(release)

	testutil.Eventually(t, func() bool {
		return ran.Load() == 5
	}, time.Second, time.Millisecond)

	testutil.AssertNoError(t, pool.Close())

	testutil.AssertEqual(t, ran.Load(), int32(5))
	testutil.AssertEqual(t, pool.QueueSize(), 0)
	testutil.AssertEqual(t, pool.TotalCompleted(), int64(6))
	testutil.AssertEqual(t, pool.TotalPanicked(), int64(1))
	testutil.AssertEqual(t, started.Load(), int32(2))

	mu.Lock()
	defer mu.Unlock()
	testutil.AssertEqual(t, len(reported), 1)
	testutil.AssertEqual(t, reported[0].WorkerID, 0)
	testutil.AssertEqual(t, errors.Is(reported[0].Value.(error), tperrors.ErrTaskExited), true)
}

func TestTaskGoexitDoesNotBlockShutdown(t *testing.T) {
	pool := New(2)

	for range 4 {
		testutil.AssertNoError(t, pool.Submit(TaskFunc(runtime.Goexit)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	testutil.AssertNoError(t, pool.ShutdownContext(ctx))
	testutil.AssertEqual(t, pool.TotalPanicked(), int64(4))
	testutil.AssertEqual(t, pool.TotalCompleted(), int64(4))
}

func TestMultipleWorkersClaimInSubmissionOrder(t *testing.T) {
	const workers = 4
	const tasks = 50

	pool := New(workers)

	// Hold all but one worker so the free one claims the queue head each time.
	var releases []func()
	for range workers - 1 {
		blocker, release := gate()
		releases = append(releases, release)
		testutil.AssertNoError(t, pool.Submit(blocker))
	}
	testutil.Eventually(t, func() bool {
		return pool.ActiveWorkers() == workers-1
	}, time.Second, time.Millisecond)

	rec := &testutil.Recorder[int]{}
	for i := range tasks {
		testutil.AssertNoError(t, pool.Submit(TaskFunc(func() { rec.Record(i) })))
	}
	testutil.Eventually(t, func() bool {
		return rec.Len() == tasks
	}, 2*time.Second, time.Millisecond)

	for _, release := range releases {
		release()
	}
	testutil.AssertNoError(t, pool.Close())

	got := rec.Values()
	for i := range tasks {
		testutil.AssertEqual(t, got[i], i)
	}
}
