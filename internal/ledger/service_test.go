package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit-erp/orbit/internal/platform/httpx"
	"github.com/orbit-erp/orbit/internal/reconcile"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	seq       map[string]int64
	payments  map[int64]*Payment
	lines     map[int64]*PaymentLine
	invoices  map[int64]*Invoice
	recs      []Reconciliation
	nextID    int64
	txError   error
	insertErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		seq:      make(map[string]int64),
		payments: make(map[int64]*Payment),
		lines:    make(map[int64]*PaymentLine),
		invoices: make(map[int64]*Invoice),
	}
}

func (m *mockRepository) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if m.txError != nil {
		return m.txError
	}
	return fn(ctx, m)
}

func (m *mockRepository) NextNumber(ctx context.Context, prefix string, year int) (string, error) {
	key := fmt.Sprintf("%s/%d", prefix, year)
	m.seq[key]++
	return fmt.Sprintf("%s/%05d", key, m.seq[key]), nil
}

func (m *mockRepository) InsertPayment(ctx context.Context, p Payment) (int64, error) {
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	p.ID = m.id()
	m.payments[p.ID] = &p
	return p.ID, nil
}

func (m *mockRepository) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepository) ListPayments(ctx context.Context, orderID int64) ([]Payment, error) {
	var out []Payment
	for _, p := range m.payments {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepository) InsertPaymentLine(ctx context.Context, l PaymentLine) (int64, error) {
	l.ID = m.id()
	m.lines[l.ID] = &l
	return l.ID, nil
}

func (m *mockRepository) ListPaymentLines(ctx context.Context, orderID int64) ([]PaymentLine, error) {
	var out []PaymentLine
	for _, l := range m.lines {
		if l.OrderID != orderID {
			continue
		}
		line := *l
		if p, ok := m.payments[l.PaymentID]; ok {
			line.ParentState = string(p.State)
		}
		out = append(out, line)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *mockRepository) UpdatePaymentLineResidual(ctx context.Context, id int64, residual, residualCurrency decimal.Decimal) error {
	l, ok := m.lines[id]
	if !ok {
		return ErrNotFound
	}
	l.Residual = residual
	l.ResidualCurrency = residualCurrency
	return nil
}

func (m *mockRepository) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	inv.ID = m.id()
	m.invoices[inv.ID] = &inv
	return inv.ID, nil
}

func (m *mockRepository) GetInvoice(ctx context.Context, id int64, lock bool) (*Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *mockRepository) ListInvoices(ctx context.Context, orderID int64) ([]Invoice, error) {
	var out []Invoice
	for _, inv := range m.invoices {
		if inv.OrderID == orderID {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockRepository) UpdateInvoice(ctx context.Context, inv Invoice) error {
	if _, ok := m.invoices[inv.ID]; !ok {
		return ErrNotFound
	}
	m.invoices[inv.ID] = &inv
	return nil
}

func (m *mockRepository) InsertReconciliation(ctx context.Context, rec Reconciliation) (int64, error) {
	rec.ID = m.id()
	m.recs = append(m.recs, rec)
	return rec.ID, nil
}

type recordingHook struct {
	orders []int64
	err    error
}

func (h *recordingHook) OrderChanged(ctx context.Context, orderID int64) error {
	h.orders = append(h.orders, orderID)
	return h.err
}

type rateConverter struct {
	rate decimal.Decimal
}

func (c rateConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string, on time.Time) (decimal.Decimal, error) {
	return amount.Mul(c.rate), nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var fixedNow = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

func newTestService(repo Repository, conv reconcile.Converter) *Service {
	svc := NewService(repo, conv, nil)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

// ============================================================================
// PAYMENTS
// ============================================================================

func TestRegisterPaymentCreatesReceivableLine(t *testing.T) {
	repo := newMockRepository()
	hook := &recordingHook{}
	svc := newTestService(repo, nil)
	svc.SetOrderHook(hook)

	payment, err := svc.RegisterPayment(context.Background(), RegisterPaymentInput{
		OrderID:    7,
		CustomerID: 3,
		Amount:     d("250"),
		Currency:   "eur",
		Method:     "bank",
	})
	require.NoError(t, err)
	assert.Equal(t, "PAY/2024/00001", payment.Number)
	assert.Equal(t, PaymentPosted, payment.State)
	assert.Equal(t, "EUR", payment.Currency)
	assert.Equal(t, fixedNow, payment.PaidAt)
	assert.Equal(t, []int64{7}, hook.orders)

	lines, err := repo.ListPaymentLines(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, reconcile.AccountReceivable, lines[0].AccountType)
	assert.Equal(t, reconcile.StatePosted, lines[0].ParentState)
	assert.True(t, d("-250").Equal(lines[0].Residual))
	assert.True(t, d("-250").Equal(lines[0].ResidualCurrency))
}

func TestRegisterPaymentConvertsToCompanyCurrency(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo, rateConverter{rate: d("0.9")})

	_, err := svc.RegisterPayment(context.Background(), RegisterPaymentInput{
		OrderID:         1,
		CustomerID:      1,
		Amount:          d("100"),
		Currency:        "USD",
		CompanyCurrency: "EUR",
	})
	require.NoError(t, err)

	lines, _ := repo.ListPaymentLines(context.Background(), 1)
	require.Len(t, lines, 1)
	assert.True(t, d("-90").Equal(lines[0].Residual))
	assert.True(t, d("-100").Equal(lines[0].ResidualCurrency))
	assert.Equal(t, "USD", lines[0].Currency)
}

func TestRegisterPaymentRejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(newMockRepository(), nil)
	_, err := svc.RegisterPayment(context.Background(), RegisterPaymentInput{OrderID: 1, Amount: d("0"), Currency: "EUR"})
	require.ErrorIs(t, err, ErrInvalidAmount)
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestRegisterPaymentHookErrorAborts(t *testing.T) {
	boom := errors.New("recompute failed")
	svc := newTestService(newMockRepository(), nil)
	svc.SetOrderHook(&recordingHook{err: boom})

	_, err := svc.RegisterPayment(context.Background(), RegisterPaymentInput{OrderID: 1, Amount: d("10"), Currency: "EUR"})
	require.ErrorIs(t, err, boom)
}

func TestPostedTotalIgnoresCancelled(t *testing.T) {
	total, err := PostedTotal(context.Background(), nil, []Payment{
		{Amount: d("100"), Currency: "USD", State: PaymentPosted},
		{Amount: d("50"), Currency: "USD", State: PaymentCancelled},
		{Amount: d("25.5"), Currency: "usd", State: PaymentPosted},
	}, "USD", d("0.01"))
	require.NoError(t, err)
	assert.True(t, d("125.5").Equal(total))
}

func TestPostedTotalConvertsForeignPayments(t *testing.T) {
	paidAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	total, err := PostedTotal(context.Background(), rateConverter{rate: d("0.1")}, []Payment{
		{Number: "PAY/1", Amount: d("500"), Currency: "EUR", State: PaymentPosted, PaidAt: paidAt},
		{Number: "PAY/2", Amount: d("20"), Currency: "USD", State: PaymentPosted, PaidAt: paidAt},
	}, "USD", d("0.01"))
	require.NoError(t, err)
	assert.True(t, d("70").Equal(total), total.String())

	_, err = PostedTotal(context.Background(), nil, []Payment{
		{Number: "PAY/3", Amount: d("5"), Currency: "GBP", State: PaymentPosted, PaidAt: paidAt},
	}, "USD", d("0.01"))
	assert.ErrorContains(t, err, "PAY/3")
}

// ============================================================================
// INVOICES
// ============================================================================

func TestCreateInvoicesSkipsZeroAmounts(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo, nil)
	due := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	invoices, err := svc.CreateInvoices(context.Background(), InvoiceBatch{
		OrderID:    5,
		CustomerID: 2,
		Currency:   "eur",
		Items: []InvoiceBatchItem{
			{Label: "Deposit", DueAt: due, Amount: d("300")},
			{Label: "Empty", DueAt: due, Amount: d("0")},
			{Label: "Balance", DueAt: due.AddDate(0, 1, 0), Amount: d("700")},
		},
	})
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, "INV/2024/00001", invoices[0].Number)
	assert.Equal(t, InvoiceDraft, invoices[0].State)
	assert.Equal(t, "EUR", invoices[1].Currency)
	assert.Equal(t, reconcile.MoveOutInvoice, invoices[1].MoveType)
}

func TestPostInvoiceAppliesCreditsOldestFirst(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	first := fixedNow.AddDate(0, 0, -10)
	second := fixedNow.AddDate(0, 0, -5)
	_, err := svc.RegisterPayment(ctx, RegisterPaymentInput{OrderID: 9, Amount: d("200"), Currency: "EUR", PaidAt: second})
	require.NoError(t, err)
	_, err = svc.RegisterPayment(ctx, RegisterPaymentInput{OrderID: 9, Amount: d("150"), Currency: "EUR", PaidAt: first})
	require.NoError(t, err)

	invoices, err := svc.CreateInvoices(ctx, InvoiceBatch{
		OrderID: 9, CustomerID: 1, Currency: "EUR",
		Items: []InvoiceBatchItem{{Label: "Deposit", DueAt: fixedNow, Amount: d("250")}},
	})
	require.NoError(t, err)

	posted, err := svc.PostInvoice(ctx, invoices[0].ID)
	require.NoError(t, err)
	assert.Equal(t, InvoicePosted, posted.State)
	assert.Equal(t, InvoicePaid, posted.PaymentState)
	assert.True(t, posted.Residual.IsZero())
	require.Len(t, repo.recs, 2)
	assert.True(t, d("150").Equal(repo.recs[0].Amount))
	assert.True(t, d("100").Equal(repo.recs[1].Amount))

	lines, _ := repo.ListPaymentLines(ctx, 9)
	require.Len(t, lines, 2)
	assert.True(t, lines[0].Residual.IsZero())
	assert.True(t, d("-100").Equal(lines[1].Residual))
}

func TestPostInvoicePartialWhenCreditShort(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	_, err := svc.RegisterPayment(ctx, RegisterPaymentInput{OrderID: 4, Amount: d("40"), Currency: "EUR"})
	require.NoError(t, err)
	invoices, err := svc.CreateInvoices(ctx, InvoiceBatch{
		OrderID: 4, CustomerID: 1, Currency: "EUR",
		Items: []InvoiceBatchItem{{Label: "Balance", DueAt: fixedNow, Amount: d("100")}},
	})
	require.NoError(t, err)

	posted, err := svc.PostInvoice(ctx, invoices[0].ID)
	require.NoError(t, err)
	assert.Equal(t, InvoicePartial, posted.PaymentState)
	assert.True(t, d("60").Equal(posted.Residual))
}

func TestPostInvoiceIgnoresOtherCurrencyCredits(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo, rateConverter{rate: d("1")})
	ctx := context.Background()

	_, err := svc.RegisterPayment(ctx, RegisterPaymentInput{OrderID: 2, Amount: d("100"), Currency: "USD", CompanyCurrency: "EUR"})
	require.NoError(t, err)
	invoices, err := svc.CreateInvoices(ctx, InvoiceBatch{
		OrderID: 2, CustomerID: 1, Currency: "EUR",
		Items: []InvoiceBatchItem{{Label: "Balance", DueAt: fixedNow, Amount: d("100")}},
	})
	require.NoError(t, err)

	posted, err := svc.PostInvoice(ctx, invoices[0].ID)
	require.NoError(t, err)
	assert.Equal(t, InvoiceNotPaid, posted.PaymentState)
	assert.Empty(t, repo.recs)
}

func TestPostInvoiceTwiceConflicts(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	invoices, err := svc.CreateInvoices(ctx, InvoiceBatch{
		OrderID: 1, CustomerID: 1, Currency: "EUR",
		Items: []InvoiceBatchItem{{Label: "Balance", DueAt: fixedNow, Amount: d("10")}},
	})
	require.NoError(t, err)
	_, err = svc.PostInvoice(ctx, invoices[0].ID)
	require.NoError(t, err)

	_, err = svc.PostInvoice(ctx, invoices[0].ID)
	require.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, err, httpx.ErrConflict)
}

func TestPostInvoiceNotFound(t *testing.T) {
	svc := newTestService(newMockRepository(), nil)
	_, err := svc.PostInvoice(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReconcileInvoicesSkipsCancelled(t *testing.T) {
	out := ReconcileInvoices([]Invoice{
		{ID: 1, State: InvoicePosted, MoveType: reconcile.MoveOutInvoice, Total: d("10"), Residual: d("0")},
		{ID: 2, State: InvoiceCancel, MoveType: reconcile.MoveOutInvoice, Total: d("10"), Residual: d("0")},
	})
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), out[0].ID)
}
