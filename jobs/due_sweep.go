package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/orbit-erp/orbit/internal/jobs"
	"github.com/orbit-erp/orbit/internal/sales"
	"github.com/orbit-erp/orbit/internal/shared"
)

const (
	defaultPageSize = 200
	sweepLockTTL    = 30 * time.Minute
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}

func decodeSweep(t *asynq.Task) (SweepPayload, error) {
	var payload SweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return payload, fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	if payload.PageSize <= 0 {
		payload.PageSize = defaultPageSize
	}
	return payload, nil
}

// releaseLock deletes the lock only while it still holds our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// sweepLock keeps two workers from running the same sweep at once.
type sweepLock struct {
	client *redis.Client
	token  string
}

func newSweepLock(client *redis.Client) *sweepLock {
	return &sweepLock{client: client, token: uuid.NewString()}
}

func (l *sweepLock) acquire(ctx context.Context, job string) (bool, error) {
	if l.client == nil {
		return true, nil
	}
	return l.client.SetNX(ctx, shared.SweepLockKey(job), l.token, sweepLockTTL).Result()
}

func (l *sweepLock) release(ctx context.Context, job string) {
	if l.client == nil {
		return
	}
	_ = releaseLock.Run(ctx, l.client, []string{shared.SweepLockKey(job)}, l.token).Err()
}

// DueSweeper recomputes the due status of open orders.
type DueSweeper interface {
	SweepDue(ctx context.Context, pageSize int) (sales.SweepResult, error)
}

// DueSweepJob runs the daily due sweep.
type DueSweepJob struct {
	Sweeper DueSweeper
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewDueSweepJob wires the due sweep handler.
func NewDueSweepJob(sweeper DueSweeper, client *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *DueSweepJob {
	return &DueSweepJob{Sweeper: sweeper, Redis: client, Logger: logger, Metrics: metrics}
}

// Handle executes the sweep.
func (j *DueSweepJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sweeper == nil {
		return errors.New("due sweep: handler not configured")
	}
	payload, err := decodeSweep(t)
	if err != nil {
		return err
	}
	logger := jobLogger(j.Logger, TaskDueSweep)

	lock := newSweepLock(j.Redis)
	acquired, err := lock.acquire(ctx, TaskDueSweep)
	if err != nil {
		return fmt.Errorf("due sweep: lock: %w", err)
	}
	if !acquired {
		logger.Info("due sweep already running, skipped")
		return nil
	}
	defer lock.release(context.WithoutCancel(ctx), TaskDueSweep)

	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskDueSweep)
	defer func() {
		err = tracker.End(err)
	}()

	start := time.Now()
	logger.Info("starting due sweep", slog.Int("page_size", payload.PageSize))
	res, err := j.Sweeper.SweepDue(ctx, payload.PageSize)
	if err != nil {
		logger.Error("due sweep failed", slog.Int("processed", res.Processed), slog.Any("error", err))
		return err
	}
	metrics.ObserveDueSweep(res.Due, res.Failed, res.Overdue.InexactFloat64())
	logger.Info("completed due sweep",
		slog.Int("processed", res.Processed),
		slog.Int("failed", res.Failed),
		slog.Int("due", res.Due),
		slog.String("overdue", res.Overdue.String()),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
