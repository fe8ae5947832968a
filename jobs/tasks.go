package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskDueSweep recomputes the due status of every open order.
	TaskDueSweep = "sales:due-sweep"
	// TaskDueReminders sends the payment reminders owed today.
	TaskDueReminders = "sales:due-reminders"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency-cleanup"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.MaxRetry(5)), nil
}

// SweepPayload configures the order sweeps.
type SweepPayload struct {
	PageSize int `json:"page_size,omitempty"`
}

// NewDueSweepTask builds the due sweep task.
func NewDueSweepTask(pageSize int) (*asynq.Task, error) {
	return newSweepTask(TaskDueSweep, pageSize)
}

// NewDueRemindersTask builds the reminder sweep task.
func NewDueRemindersTask(pageSize int) (*asynq.Task, error) {
	return newSweepTask(TaskDueReminders, pageSize)
}

func newSweepTask(typ string, pageSize int) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{PageSize: pageSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1), asynq.Timeout(30*time.Minute)), nil
}

// IdempotencyCleanupPayload configures the idempotency key purge.
type IdempotencyCleanupPayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// NewIdempotencyCleanupTask builds the idempotency cleanup task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{OlderThanHours: int(olderThan.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
