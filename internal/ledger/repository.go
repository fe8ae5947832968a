package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/orbit-erp/orbit/internal/platform/db"
)

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) conn(ctx context.Context) db.DBTX {
	return db.Conn(ctx, r.pool)
}

// WithTx runs fn in a repeatable-read transaction, joining one already bound to ctx.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, _ pgx.Tx) error {
		return fn(ctx, r)
	})
}

// NextNumber allocates the next document number for prefix and year.
func (r *PGRepository) NextNumber(ctx context.Context, prefix string, year int) (string, error) {
	var seq int64
	err := r.conn(ctx).QueryRow(ctx, `INSERT INTO document_sequences (prefix, year, last_value)
VALUES ($1, $2, 1)
ON CONFLICT (prefix, year) DO UPDATE SET last_value = document_sequences.last_value + 1
RETURNING last_value`, prefix, year).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%d/%05d", prefix, year, seq), nil
}

// InsertPayment creates a payment row.
func (r *PGRepository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := r.conn(ctx).QueryRow(ctx, `INSERT INTO ledger_payments (number, order_id, customer_id, amount, currency, state, paid_at, method, memo, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		p.Number, p.OrderID, p.CustomerID, p.Amount, p.Currency, string(p.State), p.PaidAt, p.Method, p.Memo, p.CreatedBy, p.CreatedAt).Scan(&id)
	return id, err
}

const paymentColumns = `id, number, order_id, customer_id, amount, currency, state, paid_at, method, memo, created_by, created_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p     Payment
		state string
	)
	err := row.Scan(&p.ID, &p.Number, &p.OrderID, &p.CustomerID, &p.Amount, &p.Currency, &state, &p.PaidAt, &p.Method, &p.Memo, &p.CreatedBy, &p.CreatedAt)
	p.State = PaymentState(state)
	return p, err
}

// GetPayment fetches a payment by ID.
func (r *PGRepository) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	p, err := scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+paymentColumns+` FROM ledger_payments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListPayments returns the payments of an order.
func (r *PGRepository) ListPayments(ctx context.Context, orderID int64) ([]Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+paymentColumns+` FROM ledger_payments WHERE order_id = $1 ORDER BY paid_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertPaymentLine creates the receivable line of a payment.
func (r *PGRepository) InsertPaymentLine(ctx context.Context, l PaymentLine) (int64, error) {
	var id int64
	err := r.conn(ctx).QueryRow(ctx, `INSERT INTO ledger_payment_lines (payment_id, order_id, account_type, balance, residual, residual_currency, currency, line_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		l.PaymentID, l.OrderID, l.AccountType, l.Balance, l.Residual, l.ResidualCurrency, l.Currency, l.Date).Scan(&id)
	return id, err
}

// ListPaymentLines returns the payment lines of an order with their payment state, oldest first.
func (r *PGRepository) ListPaymentLines(ctx context.Context, orderID int64) ([]PaymentLine, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT l.id, l.payment_id, l.order_id, l.account_type, p.state, l.balance, l.residual, l.residual_currency, l.currency, l.line_date
FROM ledger_payment_lines l
JOIN ledger_payments p ON p.id = l.payment_id
WHERE l.order_id = $1
ORDER BY l.line_date, l.id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentLine
	for rows.Next() {
		var l PaymentLine
		if err := rows.Scan(&l.ID, &l.PaymentID, &l.OrderID, &l.AccountType, &l.ParentState, &l.Balance, &l.Residual, &l.ResidualCurrency, &l.Currency, &l.Date); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpdatePaymentLineResidual stores the remaining credit of a line.
func (r *PGRepository) UpdatePaymentLineResidual(ctx context.Context, id int64, residual, residualCurrency decimal.Decimal) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE ledger_payment_lines SET residual = $2, residual_currency = $3 WHERE id = $1`, id, residual, residualCurrency)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertInvoice creates an invoice row.
func (r *PGRepository) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := r.conn(ctx).QueryRow(ctx, `INSERT INTO ledger_invoices (number, order_id, customer_id, move_type, label, currency, total, residual, state, payment_state, due_at, posted_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		inv.Number, inv.OrderID, inv.CustomerID, inv.MoveType, inv.Label, inv.Currency, inv.Total, inv.Residual,
		string(inv.State), string(inv.PaymentState), inv.DueAt, inv.PostedAt, inv.CreatedAt).Scan(&id)
	return id, err
}

const invoiceColumns = `id, number, order_id, customer_id, move_type, label, currency, total, residual, state, payment_state, due_at, posted_at, created_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv          Invoice
		state        string
		paymentState string
	)
	err := row.Scan(&inv.ID, &inv.Number, &inv.OrderID, &inv.CustomerID, &inv.MoveType, &inv.Label, &inv.Currency,
		&inv.Total, &inv.Residual, &state, &paymentState, &inv.DueAt, &inv.PostedAt, &inv.CreatedAt)
	inv.State = InvoiceState(state)
	inv.PaymentState = InvoicePaymentState(paymentState)
	return inv, err
}

// GetInvoice fetches an invoice, locking the row when lock is set.
func (r *PGRepository) GetInvoice(ctx context.Context, id int64, lock bool) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM ledger_invoices WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// ListInvoices returns the invoices of an order.
func (r *PGRepository) ListInvoices(ctx context.Context, orderID int64) ([]Invoice, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+invoiceColumns+` FROM ledger_invoices WHERE order_id = $1 ORDER BY due_at NULLS LAST, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// UpdateInvoice persists the state and settlement of an invoice.
func (r *PGRepository) UpdateInvoice(ctx context.Context, inv Invoice) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE ledger_invoices
SET state = $2, payment_state = $3, residual = $4, posted_at = $5
WHERE id = $1`, inv.ID, string(inv.State), string(inv.PaymentState), inv.Residual, inv.PostedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertReconciliation records a settlement between a payment line and an invoice.
func (r *PGRepository) InsertReconciliation(ctx context.Context, rec Reconciliation) (int64, error) {
	var id int64
	err := r.conn(ctx).QueryRow(ctx, `INSERT INTO ledger_reconciliations (line_id, invoice_id, amount, created_at)
VALUES ($1, $2, $3, $4) RETURNING id`, rec.LineID, rec.InvoiceID, rec.Amount, rec.CreatedAt).Scan(&id)
	return id, err
}
