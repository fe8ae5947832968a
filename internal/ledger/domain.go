// Package ledger records customer payments, their receivable lines and the
// invoices raised for sales orders.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbit-erp/orbit/internal/platform/httpx"
	"github.com/orbit-erp/orbit/internal/reconcile"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = fmt.Errorf("ledger: %w", httpx.ErrNotFound)
	// ErrInvalidState is returned when a document cannot move to the requested state.
	ErrInvalidState = fmt.Errorf("ledger: invalid state: %w", httpx.ErrConflict)
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = fmt.Errorf("ledger: amount must be positive: %w", httpx.ErrValidation)
)

// PaymentState enumerates payment states.
type PaymentState string

const (
	PaymentDraft     PaymentState = "draft"
	PaymentPosted    PaymentState = "posted"
	PaymentCancelled PaymentState = "cancelled"
)

// InvoiceState enumerates invoice states.
type InvoiceState string

const (
	InvoiceDraft  InvoiceState = "draft"
	InvoicePosted InvoiceState = "posted"
	InvoiceCancel InvoiceState = "cancel"
)

// InvoicePaymentState tracks how much of an invoice has been settled.
type InvoicePaymentState string

const (
	InvoiceNotPaid InvoicePaymentState = "not_paid"
	InvoicePartial InvoicePaymentState = "partial"
	InvoicePaid    InvoicePaymentState = "paid"
)

// Payment is money received from a customer for an order.
type Payment struct {
	ID         int64           `json:"id"`
	Number     string          `json:"number"`
	OrderID    int64           `json:"order_id"`
	CustomerID int64           `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	State      PaymentState    `json:"state"`
	PaidAt     time.Time       `json:"paid_at"`
	Method     string          `json:"method"`
	Memo       string          `json:"memo,omitempty"`
	CreatedBy  int64           `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
}

// PaymentLine is the receivable line produced by a payment. Residual amounts
// are negative while credit remains available; ResidualCurrency is expressed
// in Currency when the payment was not made in company currency.
type PaymentLine struct {
	ID               int64           `json:"id"`
	PaymentID        int64           `json:"payment_id"`
	OrderID          int64           `json:"order_id"`
	AccountType      string          `json:"account_type"`
	ParentState      string          `json:"parent_state"`
	Balance          decimal.Decimal `json:"balance"`
	Residual         decimal.Decimal `json:"residual"`
	ResidualCurrency decimal.Decimal `json:"residual_currency"`
	Currency         string          `json:"currency,omitempty"`
	Date             time.Time       `json:"date"`
}

// Invoice is a customer invoice or refund linked to an order.
type Invoice struct {
	ID           int64               `json:"id"`
	Number       string              `json:"number"`
	OrderID      int64               `json:"order_id"`
	CustomerID   int64               `json:"customer_id"`
	MoveType     string              `json:"move_type"`
	Label        string              `json:"label"`
	Currency     string              `json:"currency"`
	Total        decimal.Decimal     `json:"total"`
	Residual     decimal.Decimal     `json:"residual"`
	State        InvoiceState        `json:"state"`
	PaymentState InvoicePaymentState `json:"payment_state"`
	DueAt        *time.Time          `json:"due_at,omitempty"`
	PostedAt     *time.Time          `json:"posted_at,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// Reconciliation links a payment line to the invoice it settled.
type Reconciliation struct {
	ID        int64           `json:"id"`
	LineID    int64           `json:"line_id"`
	InvoiceID int64           `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// RegisterPaymentInput describes a payment received for an order.
type RegisterPaymentInput struct {
	OrderID         int64
	CustomerID      int64
	Amount          decimal.Decimal
	Currency        string
	CompanyCurrency string
	PaidAt          time.Time
	Method          string
	Memo            string
	CreatedBy       int64
}

// InvoiceBatchItem is one invoice to raise in a batch.
type InvoiceBatchItem struct {
	Label  string
	DueAt  time.Time
	Amount decimal.Decimal
}

// InvoiceBatch groups the invoices raised for an order at once.
type InvoiceBatch struct {
	OrderID    int64
	OrderName  string
	CustomerID int64
	Currency   string
	Items      []InvoiceBatchItem
}

// ReconcileLines converts ledger lines to reconciliation input.
func ReconcileLines(lines []PaymentLine) []reconcile.PaymentLine {
	out := make([]reconcile.PaymentLine, 0, len(lines))
	for _, l := range lines {
		date := l.Date
		out = append(out, reconcile.PaymentLine{
			ID:               l.ID,
			AccountType:      l.AccountType,
			ParentState:      l.ParentState,
			Residual:         l.Residual,
			ResidualCurrency: l.ResidualCurrency,
			Currency:         l.Currency,
			Date:             &date,
		})
	}
	return out
}

// ReconcileInvoices converts invoices to reconciliation input. Cancelled
// invoices are left out.
func ReconcileInvoices(invoices []Invoice) []reconcile.Invoice {
	out := make([]reconcile.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if inv.State == InvoiceCancel {
			continue
		}
		out = append(out, reconcile.Invoice{ID: inv.ID, MoveType: inv.MoveType, Total: inv.Total, Residual: inv.Residual})
	}
	return out
}
