package milestone

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(y int, m time.Month, day int) *time.Time {
	t := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func lines(base string) []Line {
	return []Line{{Subtotal: d(base), Tax: decimal.Zero}}
}

func TestDatesPreorder(t *testing.T) {
	got := Dates(DateInput{
		Type:           TypePreorder,
		OrderDate:      date(2024, 3, 1),
		CommitmentDate: date(2024, 6, 30),
	})
	require.NotNil(t, got[0])
	require.NotNil(t, got[1])
	require.NotNil(t, got[2])
	assert.Nil(t, got[3])
	assert.Equal(t, *date(2024, 3, 1), *got[0])
	assert.Equal(t, *date(2024, 5, 31), *got[1])
	assert.Equal(t, *date(2024, 6, 30), *got[2])
}

func TestDatesPreorderMissingCommitment(t *testing.T) {
	got := Dates(DateInput{Type: TypePreorder, OrderDate: date(2024, 3, 1)})
	for _, v := range got {
		assert.Nil(t, v)
	}
}

func TestDatesCreditOrder(t *testing.T) {
	approved := time.Date(2024, 1, 15, 16, 45, 0, 0, time.UTC)
	got := Dates(DateInput{Type: TypeCreditOrder, ApprovedAt: &approved})
	want := []*time.Time{date(2024, 1, 15), date(2024, 2, 14), date(2024, 3, 15), date(2024, 4, 14)}
	for i, w := range want {
		require.NotNil(t, got[i])
		assert.Equal(t, *w, *got[i], "slot %d", i+1)
	}

	none := Dates(DateInput{Type: TypeCreditOrder})
	assert.Nil(t, none[0])
}

func TestDatesUsesBusinessLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	approved := time.Date(2024, 1, 15, 22, 30, 0, 0, time.UTC)
	got := Dates(DateInput{Type: TypeCreditOrder, ApprovedAt: &approved, Location: loc})
	assert.Equal(t, *date(2024, 1, 16), *got[0])
}

func TestDatesOrderHasNoMilestones(t *testing.T) {
	got := Dates(DateInput{Type: TypeOrder, OrderDate: date(2024, 1, 1), CommitmentDate: date(2024, 2, 1)})
	for _, v := range got {
		assert.Nil(t, v)
	}
}

func TestAmountsSplit(t *testing.T) {
	tests := []struct {
		name string
		typ  SaleType
		base string
		want []string
	}{
		{"preorder", TypePreorder, "1000", []string{"300", "300", "400", "0"}},
		{"preorder rounding", TypePreorder, "333.33", []string{"100", "100", "133.33", "0"}},
		{"credit", TypeCreditOrder, "1000", []string{"500", "200", "150", "150"}},
		{"credit odd base", TypeCreditOrder, "999.99", []string{"500", "200", "150", "150"}},
		{"order", TypeOrder, "1000", []string{"0", "0", "0", "0"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Amounts(AmountInput{Type: tc.typ, Lines: lines(tc.base), Total: d(tc.base), Residual: d(tc.base)})
			for i, w := range tc.want {
				assert.True(t, d(w).Equal(got[i].Amount), "slot %d: want %s got %s", i+1, w, got[i].Amount)
			}
		})
	}
}

func TestAmountsSumToBase(t *testing.T) {
	for _, base := range []string{"1", "10.01", "333.33", "1234.56", "99999.99"} {
		for _, typ := range []SaleType{TypePreorder, TypeCreditOrder} {
			got := Amounts(AmountInput{Type: typ, Lines: lines(base)})
			sum := decimal.Zero
			for _, m := range got {
				sum = sum.Add(m.Amount)
			}
			diff := sum.Sub(d(base)).Abs()
			assert.True(t, diff.LessThanOrEqual(d("0.02")), "%s %s: sum %s", typ, base, sum)
		}
	}
}

func TestAmountsIgnoresDownpaymentLines(t *testing.T) {
	in := AmountInput{
		Type: TypePreorder,
		Lines: []Line{
			{Subtotal: d("800"), Tax: d("200")},
			{Subtotal: d("-300"), IsDownpayment: true},
		},
	}
	got := Amounts(in)
	assert.True(t, d("300").Equal(got[0].Amount))
	assert.True(t, d("400").Equal(got[2].Amount))
}

func TestAmountsZeroBaseResets(t *testing.T) {
	got := Amounts(AmountInput{Type: TypeCreditOrder, PaidTotal: d("500"), Total: d("0")})
	for _, m := range got {
		assert.True(t, m.Amount.IsZero())
		assert.False(t, m.Paid)
	}
}

func TestAmountsPaidLadder(t *testing.T) {
	tests := []struct {
		name     string
		paid     string
		residual string
		want     []bool
	}{
		{"nothing paid", "0", "1000", []bool{false, false, false}},
		{"first deposit", "300", "700", []bool{true, false, false}},
		{"just short of second", "599.40", "400.60", []bool{true, false, false}},
		{"second deposit", "600", "400", []bool{true, true, false}},
		{"fully settled", "1000", "0", []bool{true, true, true}},
		{"paid but residual open", "1000", "10", []bool{true, true, false}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Amounts(AmountInput{
				Type:      TypePreorder,
				Lines:     lines("1000"),
				PaidTotal: d(tc.paid),
				Total:     d("1000"),
				Residual:  d(tc.residual),
			})
			for i, w := range tc.want {
				assert.Equal(t, w, got[i].Paid, "slot %d", i+1)
			}
		})
	}
}

func TestAmountsWholeUnitThreshold(t *testing.T) {
	got := Amounts(AmountInput{Type: TypePreorder, Lines: lines("1000.90"), PaidTotal: d("300"), Total: d("1000.90"), Residual: d("700.90")})
	assert.True(t, d("300.27").Equal(got[0].Amount))
	assert.True(t, got[0].Paid)
}

func TestAmountsLadderIsMonotonic(t *testing.T) {
	got := Amounts(AmountInput{
		Type:      TypeCreditOrder,
		Lines:     lines("1000"),
		PaidTotal: d("500"),
		Total:     d("500"),
		Residual:  d("0"),
	})
	assert.True(t, got[0].Paid)
	assert.False(t, got[1].Paid)
	assert.False(t, got[3].Paid, "last milestone must not be paid while earlier ones are open")
	for k := 1; k < Slots; k++ {
		if got[k].Paid {
			assert.True(t, got[k-1].Paid)
		}
	}
}

func schedule(entries ...Milestone) Schedule {
	var s Schedule
	copy(s[:], entries)
	return s
}

func TestDueMilestonePastDue(t *testing.T) {
	got := Due(DueInput{
		Type:  TypePreorder,
		Today: *date(2024, 6, 10),
		Schedule: schedule(
			Milestone{Date: date(2024, 6, 5), Amount: d("1000")},
			Milestone{Date: date(2024, 6, 10), Amount: d("200")},
			Milestone{Date: date(2024, 7, 10), Amount: d("300")},
		),
	})
	assert.Equal(t, StateDue, got.State)
	assert.Equal(t, 5, got.Days)
	assert.True(t, d("1200").Equal(got.Overdue), "got %s", got.Overdue)
}

func TestDueNearestUpcoming(t *testing.T) {
	got := Due(DueInput{
		Type:  TypeCreditOrder,
		Today: *date(2024, 6, 10),
		Schedule: schedule(
			Milestone{Date: date(2024, 6, 1), Amount: d("500"), Paid: true},
			Milestone{Date: date(2024, 6, 12), Amount: d("200")},
			Milestone{Date: date(2024, 7, 12), Amount: d("150")},
		),
	})
	assert.Equal(t, StateNotDue, got.State)
	assert.Equal(t, -2, got.Days)
	assert.True(t, got.Overdue.IsZero())
}

func TestDueFallingDueTodayIsNotOverdue(t *testing.T) {
	got := Due(DueInput{
		Type:     TypePreorder,
		Today:    *date(2024, 6, 10),
		Schedule: schedule(Milestone{Date: date(2024, 6, 10), Amount: d("200")}),
	})
	assert.Equal(t, StateNotDue, got.State)
	assert.Equal(t, 0, got.Days)
	assert.True(t, got.Overdue.IsZero())
}

func TestDueAllPaid(t *testing.T) {
	got := Due(DueInput{
		Type:  TypePreorder,
		Today: *date(2025, 1, 1),
		Schedule: schedule(
			Milestone{Date: date(2024, 6, 5), Amount: d("300"), Paid: true},
			Milestone{Date: date(2024, 6, 6), Amount: d("300"), Paid: true},
			Milestone{Date: date(2024, 6, 7), Amount: d("400"), Paid: true},
		),
	})
	assert.Equal(t, DueStatus{State: StateNotDue, Overdue: decimal.Zero}, got)
}

func TestDueWithoutDates(t *testing.T) {
	got := Due(DueInput{Type: TypeCreditOrder, Today: *date(2024, 6, 10), Schedule: schedule(Milestone{Amount: d("100")})})
	assert.Equal(t, StateNotDue, got.State)
	assert.Equal(t, 0, got.Days)
}

func TestDuePlainOrder(t *testing.T) {
	tests := []struct {
		name     string
		validity *time.Time
		residual string
		status   PaymentStatus
		want     DueState
		days     int
		overdue  string
	}{
		{"past validity with residual", date(2024, 6, 1), "50", PaymentPartial, StateDue, 9, "50"},
		{"past validity settled", date(2024, 6, 1), "0", PaymentPaid, StateNotDue, 0, "0"},
		{"past validity unreconciled", date(2024, 6, 1), "0", PaymentPartial, StateDue, 9, "0"},
		{"validity ahead", date(2024, 6, 20), "50", PaymentNotPaid, StateNotDue, 0, "0"},
		{"no validity", nil, "50", PaymentNotPaid, StateNotDue, 0, "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Due(DueInput{
				Type:          TypeOrder,
				Today:         *date(2024, 6, 10),
				ValidityDate:  tc.validity,
				Residual:      d(tc.residual),
				PaymentStatus: tc.status,
			})
			assert.Equal(t, tc.want, got.State)
			assert.Equal(t, tc.days, got.Days)
			assert.True(t, d(tc.overdue).Equal(got.Overdue))
		})
	}
}

func TestSuggested(t *testing.T) {
	s := schedule(
		Milestone{Amount: d("300")},
		Milestone{Amount: d("300")},
		Milestone{Amount: d("400")},
	)
	assert.True(t, d("300").Equal(Suggested(TypePreorder, s, d("0"))))
	assert.True(t, d("300").Equal(Suggested(TypePreorder, s, d("299.99"))))
	assert.True(t, d("300").Equal(Suggested(TypePreorder, s, d("300"))))
	assert.True(t, d("400").Equal(Suggested(TypePreorder, s, d("600"))))
	assert.True(t, d("400").Equal(Suggested(TypePreorder, s, d("1000"))))
	assert.True(t, Suggested(TypeOrder, s, d("0")).IsZero())
}

func TestNextUnpaid(t *testing.T) {
	s := schedule(
		Milestone{Date: date(2024, 1, 1), Paid: true},
		Milestone{Date: date(2024, 2, 1)},
	)
	assert.Equal(t, 1, NextUnpaid(s))
	assert.Equal(t, -1, NextUnpaid(Schedule{}))
}
