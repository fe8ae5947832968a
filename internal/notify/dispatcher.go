package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orbit-erp/orbit/internal/sales"
	"github.com/orbit-erp/orbit/internal/shared"
)

const dedupeTTL = 48 * time.Hour

// Outbox queues rendered e-mails for delivery.
type Outbox interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher sends the reminders an order is owed, at most once per order,
// template and day.
type Dispatcher struct {
	client   *redis.Client
	renderer *Renderer
	outbox   Outbox
	location *time.Location
	logger   *slog.Logger
}

// NewDispatcher constructs a Dispatcher. Without a Redis client every notice is sent.
func NewDispatcher(client *redis.Client, renderer *Renderer, outbox Outbox, loc *time.Location, logger *slog.Logger) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{client: client, renderer: renderer, outbox: outbox, location: loc, logger: logger}
}

// Notify sends the notices owed for o on today and returns the templates sent.
func (d *Dispatcher) Notify(ctx context.Context, o *sales.Order, today time.Time) ([]Template, error) {
	notices := Decide(o, today, d.location)
	if len(notices) == 0 {
		return nil, nil
	}
	if o.CustomerEmail == "" {
		d.logger.Warn("reminder skipped, customer has no e-mail",
			slog.Int64("order_id", o.ID),
			slog.Int64("customer_id", o.CustomerID),
		)
		return nil, nil
	}

	var sent []Template
	for _, n := range notices {
		key := shared.ReminderKey(o.ID, string(n.Template), today)
		acquired, err := d.acquire(ctx, key)
		if err != nil {
			return sent, fmt.Errorf("notify: dedupe %s: %w", key, err)
		}
		if !acquired {
			continue
		}
		msg, err := d.renderer.Render(o, n)
		if err != nil {
			d.release(ctx, key)
			return sent, err
		}
		if err := d.outbox.Send(ctx, msg); err != nil {
			d.release(ctx, key)
			return sent, fmt.Errorf("notify: send %s: %w", n.Template, err)
		}
		d.logger.Info("reminder queued",
			slog.Int64("order_id", o.ID),
			slog.String("template", string(n.Template)),
			slog.Int("days", n.Days),
		)
		sent = append(sent, n.Template)
	}
	return sent, nil
}

func (d *Dispatcher) acquire(ctx context.Context, key string) (bool, error) {
	if d.client == nil {
		return true, nil
	}
	return d.client.SetNX(ctx, key, time.Now().UTC().Unix(), dedupeTTL).Result()
}

func (d *Dispatcher) release(ctx context.Context, key string) {
	if d.client == nil {
		return
	}
	if err := d.client.Del(ctx, key).Err(); err != nil {
		d.logger.Warn("release reminder key", slog.String("key", key), slog.Any("error", err))
	}
}
