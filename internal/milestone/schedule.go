package milestone

import "time"

const (
	preorderLeadDays = 30
	creditStepDays   = 30
)

// DateInput carries the order dates the schedule is anchored on.
type DateInput struct {
	Type           SaleType
	OrderDate      *time.Time
	CommitmentDate *time.Time
	ApprovedAt     *time.Time
	Location       *time.Location
}

// Dates returns the milestone dates for the order. Slots that do not apply, or
// whose anchor date is missing, are nil.
func Dates(in DateInput) [Slots]*time.Time {
	var out [Slots]*time.Time
	switch in.Type {
	case TypePreorder:
		if in.OrderDate == nil || in.CommitmentDate == nil {
			return out
		}
		commitment := Day(*in.CommitmentDate, in.Location)
		out[0] = dayPtr(Day(*in.OrderDate, in.Location))
		out[1] = dayPtr(commitment.AddDate(0, 0, -preorderLeadDays))
		out[2] = dayPtr(commitment)
	case TypeCreditOrder:
		if in.ApprovedAt == nil {
			return out
		}
		approved := Day(*in.ApprovedAt, in.Location)
		for i := 0; i < Slots; i++ {
			out[i] = dayPtr(approved.AddDate(0, 0, i*creditStepDays))
		}
	}
	return out
}

func dayPtr(t time.Time) *time.Time {
	return &t
}
