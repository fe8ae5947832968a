package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/orbit-erp/orbit/internal/jobs"
	"github.com/orbit-erp/orbit/internal/notify"
	"github.com/orbit-erp/orbit/internal/sales"
)

// reminderStates are the order states reminders go out for.
var reminderStates = []sales.State{sales.StateValidation, sales.StateSale, sales.StateToDelivered, sales.StateDelivered}

// OrderSource iterates orders for the reminder sweep.
type OrderSource interface {
	ForEachOrder(ctx context.Context, states []sales.State, pageSize int, fn func(context.Context, *sales.Order) error) error
	Today() time.Time
}

// Notifier sends the reminders owed for an order.
type Notifier interface {
	Notify(ctx context.Context, o *sales.Order, today time.Time) ([]notify.Template, error)
}

// RemindersJob sends the daily payment reminders.
type RemindersJob struct {
	Orders   OrderSource
	Notifier Notifier
	Redis    *redis.Client
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewRemindersJob wires the reminder handler.
func NewRemindersJob(orders OrderSource, notifier Notifier, client *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *RemindersJob {
	return &RemindersJob{Orders: orders, Notifier: notifier, Redis: client, Logger: logger, Metrics: metrics}
}

// Handle walks the open orders and queues their reminders. A failure on one
// order is logged and does not stop the sweep.
func (j *RemindersJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Orders == nil || j.Notifier == nil {
		return errors.New("due reminders: handler not configured")
	}
	payload, err := decodeSweep(t)
	if err != nil {
		return err
	}
	logger := jobLogger(j.Logger, TaskDueReminders)

	lock := newSweepLock(j.Redis)
	acquired, err := lock.acquire(ctx, TaskDueReminders)
	if err != nil {
		return fmt.Errorf("due reminders: lock: %w", err)
	}
	if !acquired {
		logger.Info("reminder sweep already running, skipped")
		return nil
	}
	defer lock.release(context.WithoutCancel(ctx), TaskDueReminders)

	metrics := metricsOrDefault(j.Metrics)
	tracker := metrics.Track(TaskDueReminders)
	defer func() {
		err = tracker.End(err)
	}()

	today := j.Orders.Today()
	var (
		scanned int
		failed  int
		counts  = map[notify.Template]int{}
	)
	err = j.Orders.ForEachOrder(ctx, reminderStates, payload.PageSize, func(ctx context.Context, o *sales.Order) error {
		scanned++
		sent, err := j.Notifier.Notify(ctx, o, today)
		for _, tmpl := range sent {
			counts[tmpl]++
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			logger.Warn("order reminders failed", slog.Int64("order_id", o.ID), slog.Any("error", err))
		}
		return nil
	})
	for tmpl, n := range counts {
		metrics.AddReminders(string(tmpl), n)
	}
	if err != nil {
		logger.Error("reminder sweep failed", slog.Int("scanned", scanned), slog.Any("error", err))
		return err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	logger.Info("completed reminder sweep",
		slog.String("today", today.Format(time.DateOnly)),
		slog.Int("scanned", scanned),
		slog.Int("sent", total),
		slog.Int("failed", failed),
	)
	return nil
}
