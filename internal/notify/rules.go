// Package notify decides which payment reminders an order is owed and renders
// the e-mails sent to the customer.
package notify

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbit-erp/orbit/internal/milestone"
	"github.com/orbit-erp/orbit/internal/sales"
)

// Template names a reminder e-mail.
type Template string

const (
	// TemplateUpcoming announces an unpaid milestone falling due shortly.
	TemplateUpcoming Template = "preorder_creditorder_informative_template"
	// TemplateReminder chases an overdue milestone order.
	TemplateReminder Template = "preorder_creditorder_reminder_template"
	// TemplateOverdue chases a plain order past its validity date.
	TemplateOverdue Template = "order_overdue_reminder_template"
)

const (
	upcomingLeadDays = 2
	reminderMinDays  = 5
	overdueMinDays   = 3
)

// Notice is a reminder owed to the customer of an order.
type Notice struct {
	Template Template
	// Milestone is the 1-based milestone the notice is about, 0 for plain orders.
	Milestone int
	DueDate   time.Time
	Amount    decimal.Decimal
	Days      int
}

// Decide returns the notices owed for o on today. Today and the milestone
// dates are civil dates; loc is the zone the validity date is read in.
func Decide(o *sales.Order, today time.Time, loc *time.Location) []Notice {
	if o.State == sales.StateDraft || o.State == sales.StateCancel {
		return nil
	}
	if o.TypeSale == milestone.TypeOrder {
		return decideOrder(o, today, loc)
	}

	var out []Notice
	for i, m := range o.Milestones {
		if m.Date == nil || m.Paid {
			continue
		}
		if milestone.DaysBetween(today, *m.Date) == upcomingLeadDays {
			out = append(out, Notice{
				Template:  TemplateUpcoming,
				Milestone: i + 1,
				DueDate:   *m.Date,
				Amount:    m.Amount,
				Days:      upcomingLeadDays,
			})
			break
		}
	}
	if o.Due.State == milestone.StateDue && o.Due.Days >= reminderMinDays {
		n := Notice{Template: TemplateReminder, Amount: o.Due.Overdue, Days: o.Due.Days}
		if idx := milestone.NextUnpaid(o.Milestones); idx >= 0 {
			n.Milestone = idx + 1
			n.DueDate = *o.Milestones[idx].Date
		}
		out = append(out, n)
	}
	return out
}

func decideOrder(o *sales.Order, today time.Time, loc *time.Location) []Notice {
	if o.ValidityDate == nil || o.Due.State != milestone.StateDue {
		return nil
	}
	validity := milestone.Day(*o.ValidityDate, loc)
	days := milestone.DaysBetween(validity, today)
	if days < overdueMinDays {
		return nil
	}
	return []Notice{{Template: TemplateOverdue, DueDate: validity, Amount: o.AmountResidual, Days: days}}
}
