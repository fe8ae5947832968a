package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbit-erp/orbit/internal/reconcile"
)

const (
	paymentPrefix = "PAY"
	invoicePrefix = "INV"
)

// Repository defines data access methods for the ledger.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	NextNumber(ctx context.Context, prefix string, year int) (string, error)

	InsertPayment(ctx context.Context, p Payment) (int64, error)
	GetPayment(ctx context.Context, id int64) (*Payment, error)
	ListPayments(ctx context.Context, orderID int64) ([]Payment, error)
	InsertPaymentLine(ctx context.Context, l PaymentLine) (int64, error)
	ListPaymentLines(ctx context.Context, orderID int64) ([]PaymentLine, error)
	UpdatePaymentLineResidual(ctx context.Context, id int64, residual, residualCurrency decimal.Decimal) error

	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	GetInvoice(ctx context.Context, id int64, lock bool) (*Invoice, error)
	ListInvoices(ctx context.Context, orderID int64) ([]Invoice, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	InsertReconciliation(ctx context.Context, rec Reconciliation) (int64, error)
}

// OrderHook is notified whenever ledger documents of an order change. It runs
// inside the transaction that made the change.
type OrderHook interface {
	OrderChanged(ctx context.Context, orderID int64) error
}

// Documents groups the ledger records linked to an order.
type Documents struct {
	Payments []Payment
	Lines    []PaymentLine
	Invoices []Invoice
}

// Service handles payment registration, invoicing and settlement.
type Service struct {
	repo   Repository
	fx     reconcile.Converter
	hook   OrderHook
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service instance.
func NewService(repo Repository, fx reconcile.Converter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		fx:     fx,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetOrderHook registers the listener for order changes.
func (s *Service) SetOrderHook(h OrderHook) {
	s.hook = h
}

func (s *Service) notify(ctx context.Context, orderID int64) error {
	if s.hook == nil || orderID == 0 {
		return nil
	}
	if err := s.hook.OrderChanged(ctx, orderID); err != nil {
		return fmt.Errorf("ledger: order %d changed: %w", orderID, err)
	}
	return nil
}

// RegisterPayment records a posted payment and its receivable credit line.
func (s *Service) RegisterPayment(ctx context.Context, in RegisterPaymentInput) (*Payment, error) {
	if in.OrderID == 0 {
		return nil, errors.New("ledger: order ID required")
	}
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	company := strings.ToUpper(strings.TrimSpace(in.CompanyCurrency))
	if company == "" {
		company = currency
	}
	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}

	var out *Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		companyAmount := in.Amount
		if currency != company {
			if s.fx == nil {
				return fmt.Errorf("ledger: no converter for %s to %s", currency, company)
			}
			converted, err := s.fx.Convert(ctx, in.Amount, currency, company, paidAt)
			if err != nil {
				return fmt.Errorf("ledger: convert payment: %w", err)
			}
			companyAmount = converted.Round(2)
		}

		number, err := repo.NextNumber(ctx, paymentPrefix, paidAt.Year())
		if err != nil {
			return fmt.Errorf("ledger: payment number: %w", err)
		}
		payment := Payment{
			Number:     number,
			OrderID:    in.OrderID,
			CustomerID: in.CustomerID,
			Amount:     in.Amount,
			Currency:   currency,
			State:      PaymentPosted,
			PaidAt:     paidAt,
			Method:     in.Method,
			Memo:       in.Memo,
			CreatedBy:  in.CreatedBy,
			CreatedAt:  s.now(),
		}
		id, err := repo.InsertPayment(ctx, payment)
		if err != nil {
			return fmt.Errorf("ledger: insert payment: %w", err)
		}
		payment.ID = id

		line := PaymentLine{
			PaymentID:        id,
			OrderID:          in.OrderID,
			AccountType:      reconcile.AccountReceivable,
			ParentState:      reconcile.StatePosted,
			Balance:          companyAmount.Neg(),
			Residual:         companyAmount.Neg(),
			ResidualCurrency: in.Amount.Neg(),
			Currency:         currency,
			Date:             paidAt,
		}
		if _, err := repo.InsertPaymentLine(ctx, line); err != nil {
			return fmt.Errorf("ledger: insert payment line: %w", err)
		}
		out = &payment
		return s.notify(ctx, in.OrderID)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment registered",
		slog.Int64("order_id", in.OrderID),
		slog.String("number", out.Number),
		slog.String("amount", out.Amount.String()),
		slog.String("currency", out.Currency),
	)
	return out, nil
}

// CreateInvoices raises one draft invoice per batch item.
func (s *Service) CreateInvoices(ctx context.Context, batch InvoiceBatch) ([]Invoice, error) {
	if batch.OrderID == 0 {
		return nil, errors.New("ledger: order ID required")
	}
	if batch.CustomerID == 0 {
		return nil, errors.New("ledger: customer ID required")
	}
	var out []Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		for _, item := range batch.Items {
			if !item.Amount.IsPositive() {
				continue
			}
			due := item.DueAt
			number, err := repo.NextNumber(ctx, invoicePrefix, due.Year())
			if err != nil {
				return fmt.Errorf("ledger: invoice number: %w", err)
			}
			inv := Invoice{
				Number:       number,
				OrderID:      batch.OrderID,
				CustomerID:   batch.CustomerID,
				MoveType:     reconcile.MoveOutInvoice,
				Label:        item.Label,
				Currency:     strings.ToUpper(batch.Currency),
				Total:        item.Amount,
				Residual:     item.Amount,
				State:        InvoiceDraft,
				PaymentState: InvoiceNotPaid,
				DueAt:        &due,
				CreatedAt:    s.now(),
			}
			id, err := repo.InsertInvoice(ctx, inv)
			if err != nil {
				return fmt.Errorf("ledger: insert invoice: %w", err)
			}
			inv.ID = id
			out = append(out, inv)
		}
		return s.notify(ctx, batch.OrderID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PostInvoice posts a draft invoice and settles it with the outstanding
// payment credits of its order, oldest first. Only credits held in the invoice
// currency are applied.
func (s *Service) PostInvoice(ctx context.Context, id int64) (*Invoice, error) {
	var out *Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		inv, err := repo.GetInvoice(ctx, id, true)
		if err != nil {
			return err
		}
		if inv.State != InvoiceDraft {
			return fmt.Errorf("%w: invoice %s is %s", ErrInvalidState, inv.Number, inv.State)
		}
		now := s.now()
		inv.State = InvoicePosted
		inv.PostedAt = &now

		if inv.MoveType == reconcile.MoveOutInvoice && inv.OrderID != 0 {
			if err := s.applyCredits(ctx, repo, inv); err != nil {
				return err
			}
		}
		inv.PaymentState = paymentStateOf(inv.Total, inv.Residual)
		if err := repo.UpdateInvoice(ctx, *inv); err != nil {
			return fmt.Errorf("ledger: update invoice: %w", err)
		}
		out = inv
		return s.notify(ctx, inv.OrderID)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("invoice posted",
		slog.Int64("invoice_id", out.ID),
		slog.String("number", out.Number),
		slog.String("residual", out.Residual.String()),
	)
	return out, nil
}

func (s *Service) applyCredits(ctx context.Context, repo Repository, inv *Invoice) error {
	lines, err := repo.ListPaymentLines(ctx, inv.OrderID)
	if err != nil {
		return fmt.Errorf("ledger: list payment lines: %w", err)
	}
	for _, line := range lines {
		if !inv.Residual.IsPositive() {
			break
		}
		if line.AccountType != reconcile.AccountReceivable || line.ParentState != reconcile.StatePosted {
			continue
		}
		if !strings.EqualFold(line.Currency, inv.Currency) {
			continue
		}
		available := line.ResidualCurrency.Neg()
		if !available.IsPositive() {
			continue
		}
		applied := decimal.Min(available, inv.Residual)

		remainingCurrency := line.ResidualCurrency.Add(applied)
		remaining := decimal.Zero
		if !remainingCurrency.IsZero() {
			remaining = line.Residual.Mul(remainingCurrency).Div(line.ResidualCurrency).Round(2)
		}
		if err := repo.UpdatePaymentLineResidual(ctx, line.ID, remaining, remainingCurrency); err != nil {
			return fmt.Errorf("ledger: update line residual: %w", err)
		}
		if _, err := repo.InsertReconciliation(ctx, Reconciliation{
			LineID:    line.ID,
			InvoiceID: inv.ID,
			Amount:    applied,
			CreatedAt: s.now(),
		}); err != nil {
			return fmt.Errorf("ledger: insert reconciliation: %w", err)
		}
		inv.Residual = inv.Residual.Sub(applied)
	}
	return nil
}

func paymentStateOf(total, residual decimal.Decimal) InvoicePaymentState {
	switch {
	case !residual.IsPositive():
		return InvoicePaid
	case residual.LessThan(total):
		return InvoicePartial
	}
	return InvoiceNotPaid
}

// OrderDocuments loads every ledger record linked to an order.
func (s *Service) OrderDocuments(ctx context.Context, orderID int64) (Documents, error) {
	var docs Documents
	var err error
	if docs.Payments, err = s.repo.ListPayments(ctx, orderID); err != nil {
		return Documents{}, fmt.Errorf("ledger: list payments: %w", err)
	}
	if docs.Lines, err = s.repo.ListPaymentLines(ctx, orderID); err != nil {
		return Documents{}, fmt.Errorf("ledger: list payment lines: %w", err)
	}
	if docs.Invoices, err = s.repo.ListInvoices(ctx, orderID); err != nil {
		return Documents{}, fmt.Errorf("ledger: list invoices: %w", err)
	}
	return docs, nil
}

// PostedTotal sums posted payments in currency, each converted at its
// payment date.
func PostedTotal(ctx context.Context, conv reconcile.Converter, payments []Payment, currency string, rounding decimal.Decimal) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range payments {
		if p.State != PaymentPosted {
			continue
		}
		amount, err := reconcile.ConvertAmount(ctx, conv, p.Amount, p.Currency, currency, p.PaidAt, rounding)
		if err != nil {
			return decimal.Zero, fmt.Errorf("ledger: convert payment %s: %w", p.Number, err)
		}
		total = total.Add(amount)
	}
	return total, nil
}

// GetPayment returns a payment by ID.
func (s *Service) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// GetInvoice returns an invoice by ID.
func (s *Service) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.GetInvoice(ctx, id, false)
}
