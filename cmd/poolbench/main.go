// Command poolbench drives synthetic scan cases through a worker pool and
// reports per-case throughput.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/schollz/progressbar/v3"

	"github.com/vnykmshr/taskpool/internal/bench"
	"github.com/vnykmshr/taskpool/pkg/metrics"
	"github.com/vnykmshr/taskpool/pkg/monitoring/redisstats"
	"github.com/vnykmshr/taskpool/pkg/scheduling/scheduler"
	"github.com/vnykmshr/taskpool/pkg/scheduling/workerpool"
)

type options struct {
	configFile  string
	workers     int
	frames      int
	cases       int
	rate        float64
	metricsAddr string
	redisAddr   string
	history     string
	ci          bool
	verbose     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", "", "YAML configuration file")
	flag.IntVar(&opts.workers, "workers", 0, "number of pool workers")
	flag.IntVar(&opts.frames, "frames", 0, "frames per case")
	flag.IntVar(&opts.cases, "cases", 0, "number of cases")
	flag.Float64Var(&opts.rate, "rate", 0, "frames per second per case (0 for unlimited)")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	flag.StringVar(&opts.redisAddr, "redis-addr", "", "publish pool stats to this Redis server")
	flag.StringVar(&opts.history, "history", "", "SQLite file to record run history in")
	flag.BoolVar(&opts.ci, "ci", false, "plain output without colours or progress bar")
	flag.BoolVar(&opts.verbose, "v", false, "debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: poolbench [options]\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  poolbench -workers 8 -cases 4 -frames 300\n")
		fmt.Fprintf(os.Stderr, "  poolbench -config bench.yaml -history runs.db\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "poolbench: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (bench.Config, error) {
	cfg := bench.DefaultConfig()
	if opts.configFile != "" {
		var err error
		if cfg, err = bench.LoadFile(opts.configFile); err != nil {
			return cfg, err
		}
	}

	// Flags override the file only when given explicitly.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "workers":
			cfg.Workers = opts.workers
		case "frames":
			cfg.Frames = opts.frames
		case "cases":
			cfg.Cases = opts.cases
		case "rate":
			cfg.Rate = opts.rate
		case "metrics-addr":
			cfg.MetricsAddr = opts.metricsAddr
		case "redis-addr":
			cfg.RedisAddr = opts.redisAddr
		case "history":
			cfg.History = opts.history
		}
	})

	return cfg, cfg.Validate()
}

func run(opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if opts.ci {
		color.NoColor = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, shutdownMetrics, err := newPool(cfg, logger)
	if err != nil {
		return err
	}
	defer shutdownMetrics()

	stopPublisher, err := startPublisher(ctx, cfg, pool, logger)
	if err != nil {
		_ = pool.Close()
		return err
	}
	defer stopPublisher()

	stopMonitor, err := startMonitor(pool, logger)
	if err != nil {
		_ = pool.Close()
		return err
	}
	defer stopMonitor()

	runner, err := bench.NewRunner(pool, bench.RunnerConfig{
		Rate:   cfg.Rate,
		Burst:  cfg.Burst,
		Logger: logger,
	})
	if err != nil {
		_ = pool.Close()
		return err
	}

	cases := cfg.TestCases()
	progress, finish := newProgress(cases, opts.ci)

	report, runErr := runner.Run(ctx, cases, progress)
	finish()

	if err := report.Render(os.Stdout); err != nil {
		return err
	}

	if cfg.History != "" {
		if err := saveHistory(cfg.History, report, logger); err != nil {
			return err
		}
	}

	return runErr
}

func newPool(cfg bench.Config, logger *slog.Logger) (workerpool.Pool, func(), error) {
	poolConfig := workerpool.Config{
		WorkerCount: cfg.Workers,
		Name:        "frames",
		Logger:      logger,
	}

	if cfg.MetricsAddr == "" {
		pool, err := workerpool.NewWithConfig(poolConfig)
		return pool, func() {}, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pool, err := workerpool.NewWithConfigAndMetrics(poolConfig, poolConfig.Name, metrics.Config{
		Enabled:  true,
		Registry: reg,
	}.WithLabel("service", "poolbench"))
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics server listening", slog.String("addr", cfg.MetricsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	return pool, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

func startPublisher(ctx context.Context, cfg bench.Config, pool workerpool.Pool, logger *slog.Logger) (func(), error) {
	if cfg.RedisAddr == "" {
		return func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unavailable at %s: %w", cfg.RedisAddr, err)
	}

	pub, err := redisstats.NewPublisher(client, pool, redisstats.Config{
		Interval: time.Second,
		Logger:   logger,
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	pubCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pub.Run(pubCtx)
	}()

	return func() {
		cancel()
		<-done
		_ = client.Close()
	}, nil
}

// startMonitor logs the frame pool's counters every second. The log task
// runs on its own single-worker pool so it never competes with frames.
func startMonitor(frames workerpool.Pool, logger *slog.Logger) (func(), error) {
	monitorPool, err := workerpool.NewWithConfig(workerpool.Config{WorkerCount: 1, Name: "monitor", Logger: logger})
	if err != nil {
		return nil, err
	}

	sched, err := scheduler.New(monitorPool, scheduler.Config{Name: "monitor", TickInterval: 100 * time.Millisecond, Logger: logger})
	if err != nil {
		_ = monitorPool.Close()
		return nil, err
	}

	err = sched.Schedule("pool-stats", "@every 1s", workerpool.TaskFunc(func() {
		s := frames.Stats()
		logger.Debug("pool stats",
			slog.Int("active", s.Active),
			slog.Int("queued", s.Queued),
			slog.Int64("completed", s.Completed))
	}))
	if err == nil {
		err = sched.Start()
	}
	if err != nil {
		_ = monitorPool.Close()
		return nil, err
	}

	return func() {
		<-sched.Stop()
		_ = monitorPool.Close()
	}, nil
}

func newProgress(cases []bench.Case, plain bool) (bench.ProgressFunc, func()) {
	if plain {
		return nil, func() {}
	}

	total := 0
	for _, c := range cases {
		total += c.Frames
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Integrating frames"),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("frames"),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	return func(string, int) {
			_ = bar.Add(1)
		}, func() {
			_ = bar.Finish()
			fmt.Println()
		}
}

func saveHistory(path string, report bench.Report, logger *slog.Logger) error {
	store, err := bench.OpenStore(path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Save(ctx, report); err != nil {
		return fmt.Errorf("save run %s: %w", report.RunID, err)
	}

	recent, err := store.Recent(ctx, 5)
	if err != nil {
		return err
	}

	fmt.Println("Recent runs:")
	for _, r := range recent {
		fmt.Printf("  %s  %2d workers  %6d frames  %s\n",
			r.ID, r.Workers, r.Frames, r.Elapsed.Round(time.Millisecond))
	}
	return nil
}
