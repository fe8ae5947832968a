package milestone

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	preorderSplit = []decimal.Decimal{
		decimal.RequireFromString("0.30"),
		decimal.RequireFromString("0.30"),
		decimal.RequireFromString("0.40"),
	}
	creditSplit = []decimal.Decimal{
		decimal.RequireFromString("0.50"),
		decimal.RequireFromString("0.20"),
		decimal.RequireFromString("0.15"),
		decimal.RequireFromString("0.15"),
	}
)

func splits(t SaleType) []decimal.Decimal {
	switch t {
	case TypePreorder:
		return preorderSplit
	case TypeCreditOrder:
		return creditSplit
	}
	return nil
}

// Line is the part of an order line that feeds the milestone base.
type Line struct {
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	IsDownpayment bool
}

// AmountInput carries the totals used to split and settle milestones.
type AmountInput struct {
	Type      SaleType
	Lines     []Line
	PaidTotal decimal.Decimal
	Total     decimal.Decimal
	Residual  decimal.Decimal
}

// Base sums subtotal and tax over lines that are not down payments.
func Base(lines []Line) decimal.Decimal {
	base := decimal.Zero
	for _, l := range lines {
		if l.IsDownpayment {
			continue
		}
		base = base.Add(l.Subtotal).Add(l.Tax)
	}
	return base
}

// Amounts splits the base into milestone amounts and derives the paid flags.
// Dates are left untouched in the returned slots.
//
// Milestone k is paid once the posted payments reach the cumulative amount of
// milestones 1..k rounded to a whole unit. The last milestone is paid only on
// full settlement. A milestone is never paid while its predecessor is unpaid.
func Amounts(in AmountInput) [Slots]Milestone {
	var out [Slots]Milestone
	split := splits(in.Type)
	base := Base(in.Lines)
	if len(split) == 0 || base.IsZero() {
		return out
	}

	cumulative := decimal.Zero
	for i, pct := range split {
		amount := base.Mul(pct).RoundBank(2)
		cumulative = cumulative.Add(amount)
		out[i].Amount = amount

		if i > 0 && !out[i-1].Paid {
			continue
		}
		if i == len(split)-1 {
			out[i].Paid = in.PaidTotal.GreaterThanOrEqual(in.Total) && !in.Residual.IsPositive()
			continue
		}
		out[i].Paid = in.PaidTotal.GreaterThanOrEqual(cumulative.RoundBank(0))
	}
	return out
}

// Merge combines milestone dates with computed amounts and paid flags.
func Merge(dates [Slots]*time.Time, amounts [Slots]Milestone) Schedule {
	var s Schedule
	for i := range s {
		s[i] = amounts[i]
		s[i].Date = dates[i]
	}
	return s
}

// Suggested returns the amount of the next milestone to collect given what has
// already been paid. Once every threshold is covered it returns the last
// milestone amount.
func Suggested(t SaleType, s Schedule, paid decimal.Decimal) decimal.Decimal {
	n := Count(t)
	if n == 0 {
		return decimal.Zero
	}
	cumulative := decimal.Zero
	for i := 0; i < n; i++ {
		cumulative = cumulative.Add(s[i].Amount)
		if paid.LessThan(cumulative) {
			return s[i].Amount
		}
	}
	return s[n-1].Amount
}
