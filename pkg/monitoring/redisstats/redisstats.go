package redisstats

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	tperrors "github.com/vnykmshr/taskpool/pkg/common/errors"
	"github.com/vnykmshr/taskpool/pkg/common/validation"
	"github.com/vnykmshr/taskpool/pkg/metrics"
	"github.com/vnykmshr/taskpool/pkg/scheduling/workerpool"
)

// Source provides the pool counters to publish. *workerpool.WorkerPool and
// *workerpool.MetricsPool both satisfy it.
type Source interface {
	Stats() workerpool.Stats
}

// Snapshot is a published view of a pool's counters.
type Snapshot struct {
	Name      string
	Instance  string
	Workers   int
	Active    int
	Queued    int
	Submitted int64
	Completed int64
	Panicked  int64
	TakenAt   time.Time
}

// Config holds publisher configuration.
type Config struct {
	// Prefix is the Redis key prefix (default: "taskpool")
	Prefix string

	// InstanceID identifies this process in the instances set
	InstanceID string

	// Interval between publishes in Run (default: 5s)
	Interval time.Duration

	// KeyTTL bounds how long a snapshot outlives its publisher (default: 3 * Interval)
	KeyTTL time.Duration

	// RedisTimeout is the timeout for each publish (default: 500ms)
	RedisTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// Publisher periodically writes a pool's counters to a Redis hash so other
// processes can watch it.
type Publisher struct {
	client redis.UniversalClient
	source Source
	config Config
	logger *slog.Logger
}

// RedisError wraps a failed Redis operation.
type RedisError struct {
	Op  string
	Err error
}

func (e *RedisError) Error() string {
	return fmt.Sprintf("redis %s failed: %v", e.Op, e.Err)
}

func (e *RedisError) Unwrap() error {
	return e.Err
}

// NewPublisher creates a publisher for source.
func NewPublisher(client redis.UniversalClient, source Source, config Config) (*Publisher, error) {
	if client == nil {
		return nil, validation.ValidateNotNil("redisstats", "client", nil)
	}
	if source == nil {
		return nil, validation.ValidateNotNil("redisstats", "source", nil)
	}
	for field, d := range map[string]time.Duration{
		"Interval":     config.Interval,
		"KeyTTL":       config.KeyTTL,
		"RedisTimeout": config.RedisTimeout,
	} {
		if err := validation.ValidateNonNegativeDuration("redisstats", field, d); err != nil {
			return nil, err
		}
	}

	if config.Prefix == "" {
		config.Prefix = "taskpool"
	}
	if config.InstanceID == "" {
		config.InstanceID = generateInstanceID()
	}
	if config.Interval == 0 {
		config.Interval = 5 * time.Second
	}
	if config.KeyTTL == 0 {
		config.KeyTTL = 3 * config.Interval
	}
	if config.RedisTimeout == 0 {
		config.RedisTimeout = 500 * time.Millisecond
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Publisher{
		client: client,
		source: source,
		config: config,
		logger: logger.With(slog.String("instance", config.InstanceID)),
	}, nil
}

// StatsKey returns the hash key a pool's snapshot is stored under.
func StatsKey(prefix, name string) string {
	return prefix + ":" + name + ":stats"
}

// InstancesKey returns the set key holding the IDs of publishing instances.
func InstancesKey(prefix, name string) string {
	return prefix + ":" + name + ":instances"
}

// Publish writes one snapshot.
func (p *Publisher) Publish(ctx context.Context) error {
	stats := p.source.Stats()

	ctx, cancel := context.WithTimeout(ctx, p.config.RedisTimeout)
	defer cancel()

	statsKey := StatsKey(p.config.Prefix, stats.Name)
	instancesKey := InstancesKey(p.config.Prefix, stats.Name)

	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, statsKey, map[string]interface{}{
		"name":      stats.Name,
		"instance":  p.config.InstanceID,
		"workers":   stats.Workers,
		"active":    stats.Active,
		"queued":    stats.Queued,
		"submitted": stats.Submitted,
		"completed": stats.Completed,
		"panicked":  stats.Panicked,
		"taken_at":  time.Now().UnixNano(),
	})
	pipe.Expire(ctx, statsKey, p.config.KeyTTL)
	pipe.SAdd(ctx, instancesKey, p.config.InstanceID)
	pipe.Expire(ctx, instancesKey, p.config.KeyTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		p.count(stats.Name, err)
		return &RedisError{"publish", err}
	}

	p.count(stats.Name, nil)
	return nil
}

func (p *Publisher) count(name string, err error) {
	if p.config.Metrics == nil {
		return
	}
	if err != nil {
		p.config.Metrics.StatsPublishErrors.WithLabelValues(name).Inc()
		return
	}
	p.config.Metrics.StatsPublishes.WithLabelValues(name).Inc()
}

// Run publishes every Interval until ctx is done. Failed publishes are
// logged and retried on the next tick. It publishes once more on the way out
// so the last snapshot reflects the final counters.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.logger.Info("stats publisher started", slog.Duration("interval", p.config.Interval))

	for {
		if err := p.Publish(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("stats publish failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.RedisTimeout)
			if err := p.Publish(final); err != nil {
				p.logger.Warn("final stats publish failed", slog.Any("error", err))
			}
			cancel()
			p.logger.Info("stats publisher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Load reads the snapshot published for the pool called name.
func Load(ctx context.Context, client redis.UniversalClient, prefix, name string) (Snapshot, error) {
	fields, err := client.HGetAll(ctx, StatsKey(prefix, name)).Result()
	if err != nil {
		return Snapshot{}, &RedisError{"load", err}
	}
	if len(fields) == 0 {
		return Snapshot{}, tperrors.NewOperationError("redisstats", "Load", tperrors.ErrNotFound).
			WithContext("no snapshot for pool " + name)
	}

	snap := Snapshot{
		Name:     fields["name"],
		Instance: fields["instance"],
	}

	var workers, active, queued, takenAt int64
	ints := []struct {
		field string
		dst   *int64
	}{
		{"workers", &workers},
		{"active", &active},
		{"queued", &queued},
		{"submitted", &snap.Submitted},
		{"completed", &snap.Completed},
		{"panicked", &snap.Panicked},
		{"taken_at", &takenAt},
	}
	for _, f := range ints {
		if *f.dst, err = parseInt(fields, f.field); err != nil {
			return Snapshot{}, err
		}
	}

	snap.Workers = int(workers)
	snap.Active = int(active)
	snap.Queued = int(queued)
	snap.TakenAt = time.Unix(0, takenAt)
	return snap, nil
}

// Instances returns the IDs of the processes publishing the pool called name.
func Instances(ctx context.Context, client redis.UniversalClient, prefix, name string) ([]string, error) {
	ids, err := client.SMembers(ctx, InstancesKey(prefix, name)).Result()
	if err != nil {
		return nil, &RedisError{"instances", err}
	}
	return ids, nil
}

func parseInt(fields map[string]string, field string) (int64, error) {
	v, err := strconv.ParseInt(fields[field], 10, 64)
	if err != nil {
		return 0, tperrors.NewOperationError("redisstats", "Load", err).
			WithContext("field " + field)
	}
	return v, nil
}

// generateInstanceID creates a unique identifier for this process.
func generateInstanceID() string {
	hostname, _ := os.Hostname()

	randomBytes := make([]byte, 4)
	_, _ = rand.Read(randomBytes)

	return fmt.Sprintf("%s-%d-%x", hostname, os.Getpid(), randomBytes)
}
