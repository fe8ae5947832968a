package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit-erp/orbit/internal/milestone"
)

type fixedConverter struct {
	rate  decimal.Decimal
	dates []time.Time
	err   error
}

func (c *fixedConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string, on time.Time) (decimal.Decimal, error) {
	c.dates = append(c.dates, on)
	if c.err != nil {
		return decimal.Zero, c.err
	}
	return amount.Mul(c.rate), nil
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func posted(id int64, residual string) PaymentLine {
	return PaymentLine{ID: id, AccountType: AccountReceivable, ParentState: StatePosted, Residual: d(residual)}
}

func TestComputeNotPaidWithoutDocuments(t *testing.T) {
	res, err := Compute(context.Background(), nil, Input{Total: d("1000"), Currency: "EUR", CompanyCurrency: "EUR"})
	require.NoError(t, err)
	assert.Equal(t, milestone.PaymentNotPaid, res.Status)
	assert.True(t, d("1000").Equal(res.Residual))
	assert.True(t, res.AmountPaid.IsZero())
	assert.Zero(t, res.PaymentCount)
}

func TestComputeExactAdvanceIsPaid(t *testing.T) {
	res, err := Compute(context.Background(), nil, Input{
		Total:           d("1000"),
		Currency:        "EUR",
		CompanyCurrency: "EUR",
		Lines:           []PaymentLine{posted(1, "-400"), posted(2, "-600")},
	})
	require.NoError(t, err)
	assert.Equal(t, milestone.PaymentPaid, res.Status)
	assert.True(t, res.Residual.IsZero())
	assert.True(t, d("1000").Equal(res.AmountPaid))
	assert.Equal(t, 2, res.PaymentCount)
	assert.Equal(t, []int64{1, 2}, res.LineIDs)
}

func TestComputeSkipsUnpostedAndNonReceivable(t *testing.T) {
	draft := posted(2, "-500")
	draft.ParentState = "draft"
	bank := posted(3, "-500")
	bank.AccountType = "asset_cash"

	res, err := Compute(context.Background(), nil, Input{
		Total:           d("1000"),
		Currency:        "EUR",
		CompanyCurrency: "EUR",
		Lines:           []PaymentLine{posted(1, "-300"), draft, bank},
	})
	require.NoError(t, err)
	assert.Equal(t, milestone.PaymentPartial, res.Status)
	assert.True(t, d("700").Equal(res.Residual))
	assert.Equal(t, []int64{1}, res.LineIDs)
}

func TestComputeInvoicePayments(t *testing.T) {
	res, err := Compute(context.Background(), nil, Input{
		Total:           d("1000"),
		Currency:        "EUR",
		CompanyCurrency: "EUR",
		Invoices: []Invoice{
			{ID: 1, MoveType: MoveOutInvoice, Total: d("300"), Residual: d("0")},
			{ID: 2, MoveType: MoveOutInvoice, Total: d("300"), Residual: d("100")},
			{ID: 3, MoveType: "in_invoice", Total: d("900"), Residual: d("0")},
		},
	})
	require.NoError(t, err)
	assert.True(t, d("500").Equal(res.InvoicePaid))
	assert.True(t, d("500").Equal(res.Residual))
	assert.Equal(t, milestone.PaymentPartial, res.Status)
}

func TestComputeConvertsForeignLines(t *testing.T) {
	lineDate := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	conv := &fixedConverter{rate: d("0.5")}
	line := posted(1, "-100")
	line.Currency = "USD"
	line.ResidualCurrency = d("-200")
	line.Date = &lineDate

	res, err := Compute(context.Background(), conv, Input{
		Total:           d("100"),
		Currency:        "EUR",
		CompanyCurrency: "EUR",
		Today:           time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Lines:           []PaymentLine{line},
	})
	require.NoError(t, err)
	assert.True(t, d("100").Equal(res.Advance))
	assert.Equal(t, milestone.PaymentPaid, res.Status)
	require.Len(t, conv.dates, 1)
	assert.Equal(t, lineDate, conv.dates[0])
}

func TestComputeCompanyCurrencyLineInForeignOrder(t *testing.T) {
	today := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	conv := &fixedConverter{rate: d("2")}
	res, err := Compute(context.Background(), conv, Input{
		Total:           d("100"),
		Currency:        "USD",
		CompanyCurrency: "EUR",
		Today:           today,
		Lines:           []PaymentLine{posted(1, "-25")},
	})
	require.NoError(t, err)
	assert.True(t, d("50").Equal(res.Advance))
	assert.Equal(t, []time.Time{today}, conv.dates)
}

func TestComputeResidualWithinRoundingIsPaid(t *testing.T) {
	res, err := Compute(context.Background(), nil, Input{
		Total:           d("100"),
		Currency:        "EUR",
		CompanyCurrency: "EUR",
		Lines:           []PaymentLine{posted(1, "-99.996")},
	})
	require.NoError(t, err)
	assert.Equal(t, milestone.PaymentPaid, res.Status)
}

func TestComputePropagatesConversionErrors(t *testing.T) {
	boom := errors.New("rate unavailable")
	line := posted(1, "-10")
	line.Currency = "USD"
	line.ResidualCurrency = d("-10")
	_, err := Compute(context.Background(), &fixedConverter{err: boom}, Input{Total: d("10"), Currency: "EUR", CompanyCurrency: "EUR", Lines: []PaymentLine{line}})
	require.ErrorIs(t, err, boom)
}
