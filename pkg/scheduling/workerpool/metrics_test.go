package workerpool

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/taskpool/internal/testutil"
	tperrors "github.com/vnykmshr/taskpool/pkg/common/errors"
	"github.com/vnykmshr/taskpool/pkg/metrics"
)

func newTestMetricsPool(t *testing.T, workers int, name string) (*MetricsPool, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	pool, err := NewWithConfigAndMetrics(Config{WorkerCount: workers}, name, metrics.Config{
		Enabled:  true,
		Registry: reg,
	})
	testutil.AssertNoError(t, err)
	return pool.(*MetricsPool), reg
}

func TestMetricsPoolCountsExecutions(t *testing.T) {
	pool, _ := newTestMetricsPool(t, 2, "frames")

	var executed atomic.Int64
	for range 10 {
		testutil.AssertNoError(t, pool.Submit(TaskFunc(func() { executed.Add(1) })))
	}
	testutil.AssertNoError(t, pool.Close())

	r := pool.Registry()
	testutil.AssertEqual(t, executed.Load(), int64(10))
	testutil.AssertEqual(t, promtestutil.ToFloat64(r.TasksSubmitted.WithLabelValues("frames")), 10.0)
	testutil.AssertEqual(t, promtestutil.ToFloat64(r.TasksExecuted.WithLabelValues("frames")), 10.0)
	testutil.AssertEqual(t, promtestutil.ToFloat64(r.WorkerPoolSize.WithLabelValues("frames")), 2.0)
	testutil.AssertEqual(t, promtestutil.ToFloat64(r.WorkerPoolQueued.WithLabelValues("frames")), 0.0)
	testutil.AssertEqual(t, promtestutil.ToFloat64(r.WorkerPoolActive.WithLabelValues("frames")), 0.0)
}

func TestMetricsPoolCountsPanicsAndRejections(t *testing.T) {
	var handled Task
	reg := prometheus.NewRegistry()
	original := TaskFunc(func() { panic("bad frame") })

	p, err := NewWithConfigAndMetrics(Config{
		WorkerCount: 1,
		PanicHandler: func(task Task, perr *tperrors.PanicError) {
			handled = task
		},
	}, "frames", metrics.Config{Enabled: true, Registry: reg})
	testutil.AssertNoError(t, err)
	pool := p.(*MetricsPool)

	testutil.AssertNoError(t, pool.Submit(original))
	testutil.AssertNoError(t, pool.Close())

	err = pool.Submit(TaskFunc(func() {}))
	testutil.AssertEqual(t, errors.Is(err, tperrors.ErrClosed), true)

	r := pool.Registry()
	testutil.AssertEqual(t, promtestutil.ToFloat64(r.TasksPanicked.WithLabelValues("frames")), 1.0)
	testutil.AssertEqual(t, promtestutil.ToFloat64(r.TasksRejected.WithLabelValues("frames")), 1.0)
	testutil.AssertEqual(t, pool.TotalPanicked(), int64(1))

	// Hooks see the caller's task, not the metrics wrapper.
	if _, wrapped := handled.(*metricsTask); wrapped {
		t.Fatal("panic handler received the metrics wrapper")
	}
	testutil.AssertEqual(t, handled != nil, true)
}

func TestMetricsPoolHistograms(t *testing.T) {
	pool, reg := newTestMetricsPool(t, 1, "frames")

	testutil.AssertNoError(t, pool.Submit(TaskFunc(func() {})))
	testutil.AssertNoError(t, pool.Close())

	count, err := promtestutil.GatherAndCount(reg,
		"taskpool_workerpool_task_duration_seconds",
		"taskpool_workerpool_task_queue_wait_seconds",
	)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, count, 2)
}

func TestMetricsPoolDisable(t *testing.T) {
	pool, _ := newTestMetricsPool(t, 1, "frames")
	defer pool.Close()

	testutil.AssertEqual(t, pool.MetricsEnabled(), true)
	pool.DisableMetrics()
	testutil.AssertEqual(t, pool.MetricsEnabled(), false)

	var ran atomic.Bool
	testutil.AssertNoError(t, pool.Submit(TaskFunc(func() { ran.Store(true) })))
	testutil.AssertNoError(t, pool.Close())

	testutil.AssertEqual(t, ran.Load(), true)
	testutil.AssertEqual(t, promtestutil.ToFloat64(pool.Registry().TasksSubmitted.WithLabelValues("frames")), 0.0)

	testutil.AssertNoError(t, pool.EnableMetrics(metrics.Config{Enabled: true, Registry: prometheus.NewRegistry()}))
	testutil.AssertEqual(t, pool.MetricsEnabled(), true)
}

func TestNewWithConfigAndMetricsDisabledReturnsPlainPool(t *testing.T) {
	p, err := NewWithConfigAndMetrics(Config{WorkerCount: 1}, "plain", metrics.Config{Enabled: false})
	testutil.AssertNoError(t, err)
	defer p.Close()

	wp, ok := p.(*WorkerPool)
	testutil.AssertEqual(t, ok, true)
	testutil.AssertEqual(t, wp.Name(), "plain")
}

func TestNewWithConfigAndMetricsInvalidConfig(t *testing.T) {
	_, err := NewWithConfigAndMetrics(Config{}, "broken", metrics.Config{Enabled: true, Registry: prometheus.NewRegistry()})
	testutil.AssertEqual(t, tperrors.IsValidationError(err), true)
}

func TestNewWithMetrics(t *testing.T) {
	pool := NewWithMetrics(3, "bench")
	defer pool.Close()

	testutil.AssertEqual(t, pool.Size(), 3)
	testutil.AssertEqual(t, pool.Stats().Name, "bench")
}

func TestMetricsConfigValidated(t *testing.T) {
	_, err := NewWithConfigAndMetrics(Config{WorkerCount: 1}, "frames", metrics.Config{
		Enabled:   true,
		Registry:  prometheus.NewRegistry(),
		Namespace: "scan-fusion",
	})
	testutil.AssertEqual(t, tperrors.IsValidationError(err), true)

	pool := NewWithMetrics(1, "frames")
	defer pool.Close()

	err = pool.EnableMetrics(metrics.Config{Enabled: true, Registry: prometheus.NewRegistry()}.WithLabel("pool_name", "x"))
	testutil.AssertEqual(t, tperrors.IsValidationError(err), true)
}
