package milestone

import (
	"time"

	"github.com/shopspring/decimal"
)

// DueInput carries everything needed to evaluate the due status of an order.
type DueInput struct {
	Type          SaleType
	Today         time.Time
	Schedule      Schedule
	ValidityDate  *time.Time
	Residual      decimal.Decimal
	PaymentStatus PaymentStatus
}

// DueStatus is the derived overdue state of an order.
type DueStatus struct {
	State   DueState        `json:"state_due"`
	Days    int             `json:"days_util_due"`
	Overdue decimal.Decimal `json:"overdue_amount"`
}

// Due derives the due status. Today and all dates must be civil dates.
//
// Milestone orders are due once any unpaid milestone date has passed; Days is
// then the largest number of days past due and Overdue sums every unpaid
// milestone falling due today or earlier. When nothing is past due, Days is the
// nearest upcoming (least negative) offset. Plain orders key off the validity
// date instead.
func Due(in DueInput) DueStatus {
	if in.Type == TypeOrder {
		return orderDue(in)
	}

	var (
		evaluated bool
		pastDue   bool
		maxAll    int
		maxPast   int
		overdue   = decimal.Zero
	)
	for _, m := range in.Schedule {
		if m.Date == nil || m.Paid {
			continue
		}
		days := DaysBetween(*m.Date, in.Today)
		if !evaluated || days > maxAll {
			maxAll = days
		}
		evaluated = true
		if days >= 0 {
			overdue = overdue.Add(m.Amount)
		}
		if days > 0 {
			if !pastDue || days > maxPast {
				maxPast = days
			}
			pastDue = true
		}
	}

	switch {
	case pastDue:
		return DueStatus{State: StateDue, Days: maxPast, Overdue: overdue}
	case evaluated:
		return DueStatus{State: StateNotDue, Days: maxAll, Overdue: decimal.Zero}
	}
	return DueStatus{State: StateNotDue, Overdue: decimal.Zero}
}

func orderDue(in DueInput) DueStatus {
	if in.ValidityDate == nil {
		return DueStatus{State: StateNotDue, Overdue: decimal.Zero}
	}
	days := DaysBetween(*in.ValidityDate, in.Today)
	unsettled := in.Residual.IsPositive() || in.PaymentStatus != PaymentPaid
	if days > 0 && unsettled {
		return DueStatus{State: StateDue, Days: days, Overdue: in.Residual}
	}
	return DueStatus{State: StateNotDue, Overdue: decimal.Zero}
}

// NextUnpaid returns the index of the first unpaid milestone with a date, or -1.
func NextUnpaid(s Schedule) int {
	for i, m := range s {
		if m.Date != nil && !m.Paid {
			return i
		}
	}
	return -1
}
