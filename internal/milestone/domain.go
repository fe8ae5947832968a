// Package milestone derives payment milestone schedules, amounts, paid flags
// and due status for sales orders. All functions are pure; callers inject the
// current date.
package milestone

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleType identifies the sales process variant of an order.
type SaleType string

const (
	// TypeOrder is a plain order tracked against its validity date.
	TypeOrder SaleType = "order"
	// TypePreorder is paid in three milestones anchored on the commitment date.
	TypePreorder SaleType = "preorder"
	// TypeCreditOrder is paid in four milestones anchored on the credit approval date.
	TypeCreditOrder SaleType = "creditorder"
)

// Valid reports whether t is a known sale type.
func (t SaleType) Valid() bool {
	switch t {
	case TypeOrder, TypePreorder, TypeCreditOrder:
		return true
	}
	return false
}

// DueState reports whether an order has passed an unpaid deadline.
type DueState string

const (
	StateNotDue DueState = "not_due"
	StateDue    DueState = "due"
)

// PaymentStatus mirrors the advance payment status of an order.
type PaymentStatus string

const (
	PaymentNotPaid PaymentStatus = "not_paid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// Slots is the number of milestone slots stored per order.
const Slots = 4

// Milestone is a scheduled partial payment obligation.
type Milestone struct {
	Date   *time.Time      `json:"date,omitempty"`
	Amount decimal.Decimal `json:"amount"`
	Paid   bool            `json:"paid"`
}

// Schedule holds the milestone slots of an order. Unused slots stay zero.
type Schedule [Slots]Milestone

// Count returns the number of milestones used by the sale type.
func Count(t SaleType) int {
	return len(splits(t))
}

// Day truncates t to its civil date in loc and returns it as UTC midnight.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the signed number of whole days from 'from' to 'to'.
// Both values are expected to be civil dates produced by Day.
func DaysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
