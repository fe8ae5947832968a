package shared

import (
	"fmt"
	"time"
)

// ReminderKey builds the redis key guarding a reminder sent for an order on a day.
func ReminderKey(orderID int64, template string, day time.Time) string {
	return fmt.Sprintf("sales:reminder:%d:%s:%s", orderID, template, day.Format(time.DateOnly))
}

// SweepLockKey builds the redis key held while a sweep job runs.
func SweepLockKey(job string) string {
	return fmt.Sprintf("sales:sweep:%s:lock", job)
}
