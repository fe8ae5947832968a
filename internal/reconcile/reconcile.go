// Package reconcile settles an order's total against advance payments and
// payments already applied to its invoices.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbit-erp/orbit/internal/milestone"
)

const (
	// AccountReceivable is the account type of lines that carry customer credit.
	AccountReceivable = "asset_receivable"
	// StatePosted is the only parent state whose lines are counted.
	StatePosted = "posted"

	MoveOutInvoice = "out_invoice"
	MoveOutRefund  = "out_refund"
)

// DefaultRounding is used when the order currency carries no rounding.
var DefaultRounding = decimal.New(1, -2)

// Converter expresses an amount in another currency on a date.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string, on time.Time) (decimal.Decimal, error)
}

// PaymentLine is a ledger line produced by a payment linked to the order.
// Residual is in company currency; ResidualCurrency is in Currency when the
// line is held in a foreign currency. Credits are negative.
type PaymentLine struct {
	ID               int64
	AccountType      string
	ParentState      string
	Residual         decimal.Decimal
	ResidualCurrency decimal.Decimal
	Currency         string
	Date             *time.Time
}

// Invoice is a customer invoice linked to the order.
type Invoice struct {
	ID       int64
	MoveType string
	Total    decimal.Decimal
	Residual decimal.Decimal
}

// Input carries the order figures and its linked ledger documents.
type Input struct {
	Total           decimal.Decimal
	Currency        string
	CompanyCurrency string
	Rounding        decimal.Decimal
	Today           time.Time
	Lines           []PaymentLine
	Invoices        []Invoice
}

// Result holds the reconciled figures of the order.
type Result struct {
	Advance      decimal.Decimal
	InvoicePaid  decimal.Decimal
	Residual     decimal.Decimal
	AmountPaid   decimal.Decimal
	Status       milestone.PaymentStatus
	PaymentCount int
	LineIDs      []int64
}

// Compute reconciles the order. Conversion errors are returned unchanged.
func Compute(ctx context.Context, conv Converter, in Input) (Result, error) {
	res := Result{Advance: decimal.Zero, InvoicePaid: decimal.Zero}
	orderCurrency := strings.ToUpper(in.Currency)
	rounding := in.Rounding
	if !rounding.IsPositive() {
		rounding = DefaultRounding
	}

	for _, line := range in.Lines {
		if line.AccountType != AccountReceivable || line.ParentState != StatePosted {
			continue
		}
		res.LineIDs = append(res.LineIDs, line.ID)

		currency := strings.ToUpper(line.Currency)
		amount := line.ResidualCurrency.Neg()
		if currency == "" {
			currency = strings.ToUpper(in.CompanyCurrency)
			amount = line.Residual.Neg()
		}
		on := in.Today
		if line.Date != nil {
			on = *line.Date
		}
		amount, err := ConvertAmount(ctx, conv, amount, currency, orderCurrency, on, rounding)
		if err != nil {
			return Result{}, err
		}
		res.Advance = res.Advance.Add(amount)
	}
	res.PaymentCount = len(res.LineIDs)

	for _, inv := range in.Invoices {
		if inv.MoveType != MoveOutInvoice && inv.MoveType != MoveOutRefund {
			continue
		}
		res.InvoicePaid = res.InvoicePaid.Add(inv.Total.Sub(inv.Residual))
	}

	res.Residual = in.Total.Sub(res.Advance).Sub(res.InvoicePaid)
	res.AmountPaid = in.Total.Sub(res.Residual)

	switch {
	case len(res.LineIDs) == 0 && len(in.Invoices) == 0:
		res.Status = milestone.PaymentNotPaid
	case !roundTo(res.Residual, rounding).IsPositive():
		res.Status = milestone.PaymentPaid
	default:
		res.Status = milestone.PaymentPartial
	}
	return res, nil
}

// ConvertAmount expresses amount in the to currency on a date, rounded to the
// target rounding. Amounts already in the target currency pass through.
func ConvertAmount(ctx context.Context, conv Converter, amount decimal.Decimal, from, to string, on time.Time, rounding decimal.Decimal) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to || from == "" {
		return amount, nil
	}
	if conv == nil {
		return decimal.Zero, fmt.Errorf("reconcile: no converter for %s to %s", from, to)
	}
	if !rounding.IsPositive() {
		rounding = DefaultRounding
	}
	converted, err := conv.Convert(ctx, amount, from, to, on)
	if err != nil {
		return decimal.Zero, err
	}
	return roundTo(converted, rounding), nil
}

func roundTo(v, rounding decimal.Decimal) decimal.Decimal {
	return v.Div(rounding).Round(0).Mul(rounding)
}
