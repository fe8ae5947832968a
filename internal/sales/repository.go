package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/orbit-erp/orbit/internal/milestone"
	"github.com/orbit-erp/orbit/internal/platform/db"
)

// Repository defines data access methods for orders.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	NextNumber(ctx context.Context, year int) (string, error)

	GetPartner(ctx context.Context, id int64) (*Partner, error)
	// MainContact returns the main user contact of a company, or 0 when none is defined.
	MainContact(ctx context.Context, companyID int64) (int64, error)

	InsertOrder(ctx context.Context, o Order) (int64, error)
	GetOrder(ctx context.Context, id int64, lock bool) (*Order, error)
	ListOrders(ctx context.Context, f ListFilter) ([]Order, int, error)
	ListOrderIDs(ctx context.Context, states []State, afterID int64, limit int) ([]int64, error)
	SaveOrder(ctx context.Context, o *Order) error

	InsertLine(ctx context.Context, l Line) (int64, error)
	DeleteLines(ctx context.Context, orderID int64) error
	UpdateLineDelivered(ctx context.Context, orderID, lineID int64, qty decimal.Decimal) error
}

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

// WithTx wraps callback in a repeatable-read transaction bound to ctx, so
// ledger and log writers made with the same ctx join it.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, _ pgx.Tx) error {
		return fn(ctx, r)
	})
}

// NextNumber allocates the next order number for year.
func (r *PGRepository) NextNumber(ctx context.Context, year int) (string, error) {
	var seq int64
	err := r.conn(ctx).QueryRow(ctx, `INSERT INTO document_sequences (prefix, year, last_value)
VALUES ('SO', $1, 1)
ON CONFLICT (prefix, year) DO UPDATE SET last_value = document_sequences.last_value + 1
RETURNING last_value`, year).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SO/%d/%05d", year, seq), nil
}

// ============================================================================
// PARTNERS
// ============================================================================

// GetPartner fetches a partner by ID.
func (r *PGRepository) GetPartner(ctx context.Context, id int64) (*Partner, error) {
	var (
		p        Partner
		employer *int64
	)
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, name, COALESCE(email, ''), COALESCE(lang, ''), parent_id, COALESCE(role, '')
FROM partners WHERE id = $1`, id).Scan(&p.ID, &p.Name, &p.Email, &p.Lang, &employer, &p.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if employer != nil {
		p.EmployerID = *employer
	}
	return &p, nil
}

// MainContact returns the first contact of a company holding the main user role.
func (r *PGRepository) MainContact(ctx context.Context, companyID int64) (int64, error) {
	var id int64
	err := r.conn(ctx).QueryRow(ctx, `SELECT id FROM partners WHERE parent_id = $1 AND role = $2 ORDER BY id LIMIT 1`,
		companyID, RoleMainUser).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

// ============================================================================
// ORDERS
// ============================================================================

const orderColumns = `o.id, o.ref, o.name, o.customer_id, p.name, COALESCE(p.email, ''), COALESCE(p.lang, ''), COALESCE(p.parent_id, 0),
o.type_sale, o.state, o.currency, o.currency_rounding,
o.date_order, o.commitment_date, o.validity_date, o.date_approved_creditorder,
o.amount_untaxed, o.amount_tax, o.amount_total, o.amount_residual, o.amount_payed, o.payment_count,
o.m1_date, o.m1_amount, o.m1_paid, o.m2_date, o.m2_amount, o.m2_paid,
o.m3_date, o.m3_amount, o.m3_paid, o.m4_date, o.m4_amount, o.m4_paid,
o.advance_payment_status, o.state_due, o.days_util_due, o.overdue_amount,
o.validation_rh_state, o.validation_rh_date, COALESCE(o.validation_rh_partner_id, 0),
o.validation_admin_state, o.validation_admin_date, COALESCE(o.validation_admin_user_id, 0), COALESCE(o.validation_admin_comment, ''),
o.confirmed_by, o.confirmed_at, o.created_by, o.created_at, o.updated_at`

const orderFrom = ` FROM sales_orders o JOIN partners p ON p.id = o.customer_id`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o                                      Order
		typeSale, state, advance, due, hr, adm string
	)
	m := &o.Milestones
	err := row.Scan(&o.ID, &o.Ref, &o.Name, &o.CustomerID, &o.CustomerName, &o.CustomerEmail, &o.CustomerLang, &o.EmployerID,
		&typeSale, &state, &o.Currency, &o.CurrencyRounding,
		&o.DateOrder, &o.CommitmentDate, &o.ValidityDate, &o.ApprovedAt,
		&o.AmountUntaxed, &o.AmountTax, &o.AmountTotal, &o.AmountResidual, &o.AmountPaid, &o.PaymentCount,
		&m[0].Date, &m[0].Amount, &m[0].Paid, &m[1].Date, &m[1].Amount, &m[1].Paid,
		&m[2].Date, &m[2].Amount, &m[2].Paid, &m[3].Date, &m[3].Amount, &m[3].Paid,
		&advance, &due, &o.Due.Days, &o.Due.Overdue,
		&hr, &o.HR.At, &o.HR.PartnerID,
		&adm, &o.Admin.At, &o.Admin.UserID, &o.Admin.Comment,
		&o.ConfirmedBy, &o.ConfirmedAt, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	o.TypeSale = milestone.SaleType(typeSale)
	o.State = State(state)
	o.AdvanceStatus = milestone.PaymentStatus(advance)
	o.Due.State = milestone.DueState(due)
	o.HR.State = TrackState(hr)
	o.Admin.State = TrackState(adm)
	return o, err
}

// InsertOrder creates an order row.
func (r *PGRepository) InsertOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := r.conn(ctx).QueryRow(ctx, `INSERT INTO sales_orders (
ref, name, customer_id, type_sale, state, currency, currency_rounding,
date_order, commitment_date, validity_date,
advance_payment_status, state_due, validation_rh_state, validation_admin_state,
created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
RETURNING id`,
		o.Ref, o.Name, o.CustomerID, string(o.TypeSale), string(o.State), o.Currency, o.CurrencyRounding,
		o.DateOrder, o.CommitmentDate, o.ValidityDate,
		string(o.AdvanceStatus), string(o.Due.State), string(o.HR.State), string(o.Admin.State),
		o.CreatedBy, o.CreatedAt).Scan(&id)
	return id, err
}

// GetOrder fetches an order with its lines, locking the row when lock is set.
func (r *PGRepository) GetOrder(ctx context.Context, id int64, lock bool) (*Order, error) {
	query := `SELECT ` + orderColumns + orderFrom + ` WHERE o.id = $1`
	if lock {
		query += ` FOR UPDATE OF o`
	}
	o, err := scanOrder(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if o.Lines, err = r.listLines(ctx, id); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrders returns a page of orders without lines and the total count.
func (r *PGRepository) ListOrders(ctx context.Context, f ListFilter) ([]Order, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.TypeSale != "" {
		add("o.type_sale = $%d", string(f.TypeSale))
	}
	if f.State != "" {
		add("o.state = $%d", string(f.State))
	}
	if f.StateDue != "" {
		add("o.state_due = $%d", string(f.StateDue))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+orderFrom+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s%s%s ORDER BY o.date_order DESC, o.id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, orderFrom, clause, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

// ListOrderIDs pages through order IDs in the given states, in ID order.
func (r *PGRepository) ListOrderIDs(ctx context.Context, states []State, afterID int64, limit int) ([]int64, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT id FROM sales_orders WHERE state = ANY($1) AND id > $2 ORDER BY id LIMIT $3`,
		names, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountOrders counts orders per sale type, state and due state.
func (r *PGRepository) CountOrders(ctx context.Context) ([]StateCount, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT type_sale, state, state_due, COUNT(*)
FROM sales_orders GROUP BY type_sale, state, state_due ORDER BY type_sale, state, state_due`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StateCount
	for rows.Next() {
		var c StateCount
		if err := rows.Scan(&c.TypeSale, &c.State, &c.StateDue, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveOrder persists every mutable field of an order.
func (r *PGRepository) SaveOrder(ctx context.Context, o *Order) error {
	m := o.Milestones
	o.UpdatedAt = time.Now().UTC()
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE sales_orders SET
state = $2, commitment_date = $3, validity_date = $4, date_approved_creditorder = $5,
amount_untaxed = $6, amount_tax = $7, amount_total = $8, amount_residual = $9, amount_payed = $10, payment_count = $11,
m1_date = $12, m1_amount = $13, m1_paid = $14, m2_date = $15, m2_amount = $16, m2_paid = $17,
m3_date = $18, m3_amount = $19, m3_paid = $20, m4_date = $21, m4_amount = $22, m4_paid = $23,
advance_payment_status = $24, state_due = $25, days_util_due = $26, overdue_amount = $27,
validation_rh_state = $28, validation_rh_date = $29, validation_rh_partner_id = NULLIF($30::bigint, 0),
validation_admin_state = $31, validation_admin_date = $32, validation_admin_user_id = NULLIF($33::bigint, 0), validation_admin_comment = NULLIF($34, ''),
confirmed_by = $35, confirmed_at = $36, updated_at = $37
WHERE id = $1`,
		o.ID, string(o.State), o.CommitmentDate, o.ValidityDate, o.ApprovedAt,
		o.AmountUntaxed, o.AmountTax, o.AmountTotal, o.AmountResidual, o.AmountPaid, o.PaymentCount,
		m[0].Date, m[0].Amount, m[0].Paid, m[1].Date, m[1].Amount, m[1].Paid,
		m[2].Date, m[2].Amount, m[2].Paid, m[3].Date, m[3].Amount, m[3].Paid,
		string(o.AdvanceStatus), string(o.Due.State), o.Due.Days, o.Due.Overdue,
		string(o.HR.State), o.HR.At, o.HR.PartnerID,
		string(o.Admin.State), o.Admin.At, o.Admin.UserID, o.Admin.Comment,
		o.ConfirmedBy, o.ConfirmedAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ============================================================================
// LINES
// ============================================================================

func (r *PGRepository) listLines(ctx context.Context, orderID int64) ([]Line, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, order_id, product_id, product_name, quantity, quantity_delivered,
unit_price, tax_percent, subtotal, tax, total, is_downpayment, sequence
FROM sales_order_lines WHERE order_id = $1 ORDER BY sequence, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.Quantity, &l.Delivered,
			&l.UnitPrice, &l.TaxPercent, &l.Subtotal, &l.Tax, &l.Total, &l.IsDownpayment, &l.Sequence); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// InsertLine creates an order line.
func (r *PGRepository) InsertLine(ctx context.Context, l Line) (int64, error) {
	var id int64
	err := r.conn(ctx).QueryRow(ctx, `INSERT INTO sales_order_lines (order_id, product_id, product_name, quantity, quantity_delivered,
unit_price, tax_percent, subtotal, tax, total, is_downpayment, sequence)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		l.OrderID, l.ProductID, l.ProductName, l.Quantity, l.Delivered,
		l.UnitPrice, l.TaxPercent, l.Subtotal, l.Tax, l.Total, l.IsDownpayment, l.Sequence).Scan(&id)
	return id, err
}

// DeleteLines removes every line of an order.
func (r *PGRepository) DeleteLines(ctx context.Context, orderID int64) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM sales_order_lines WHERE order_id = $1`, orderID)
	return err
}

// UpdateLineDelivered stores the delivered quantity of a line.
func (r *PGRepository) UpdateLineDelivered(ctx context.Context, orderID, lineID int64, qty decimal.Decimal) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE sales_order_lines SET quantity_delivered = $3 WHERE id = $2 AND order_id = $1`, orderID, lineID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
