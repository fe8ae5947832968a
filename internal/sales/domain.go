// Package sales implements the order, preorder and credit order workflows:
// milestone tracking, credit approval, confirmation and delivery gates.
package sales

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orbit-erp/orbit/internal/milestone"
	"github.com/orbit-erp/orbit/internal/platform/httpx"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = fmt.Errorf("sales: %w", httpx.ErrNotFound)
	// ErrInvalidTransition is returned when the order or a track is not in a state the action accepts.
	ErrInvalidTransition = fmt.Errorf("sales: invalid transition: %w", httpx.ErrConflict)
	// ErrForbidden is returned when the actor lacks the capability for an action.
	ErrForbidden = fmt.Errorf("sales: %w", httpx.ErrForbidden)
)

// ValidationError is a business rule failure the user must resolve before retrying.
type ValidationError struct {
	Code     string
	Message  string
	Products []string
}

func (e *ValidationError) Error() string { return e.Message }

// Is matches validation errors by code and any error against httpx.ErrValidation.
func (e *ValidationError) Is(target error) bool {
	if t, ok := target.(*ValidationError); ok {
		return t.Code == e.Code
	}
	return target == httpx.ErrValidation
}

var (
	ErrHRValidationRequired = &ValidationError{
		Code:    "hr_validation_required",
		Message: "Credit order requires approval from the customer's HR department. Contact the HR manager for validation.",
	}
	ErrAdminValidationRequired = &ValidationError{
		Code:    "admin_validation_required",
		Message: "Sales manager validation is required to finalize the credit order. Contact a manager for approval.",
	}
	ErrFirstDepositRequired = &ValidationError{
		Code:    "first_deposit_required",
		Message: "Pay the first deposit to validate the credit order.",
	}
	ErrPaymentsRequired = &ValidationError{
		Code:    "payments_required",
		Message: "Complete the payments before delivery.",
	}
	ErrMainContactMissing = &ValidationError{
		Code:    "main_contact_missing",
		Message: "No user with the main role is defined in the customer's company.",
	}
	ErrCreditCapability = &ValidationError{
		Code:    "credit_capability_missing",
		Message: "You do not have the rights required to validate this order. Contact a user of the credit group.",
	}
	ErrLinesLocked = &ValidationError{
		Code:    "lines_locked",
		Message: "Lines can only be changed on draft orders or orders awaiting the client.",
	}
	ErrUndeliveredProducts = &ValidationError{
		Code:    "undelivered_products",
		Message: "Deliver the outstanding products first.",
	}
)

func undeliveredError(products []string) *ValidationError {
	return &ValidationError{
		Code:     ErrUndeliveredProducts.Code,
		Message:  "Deliver the outstanding products first: " + strings.Join(products, ", "),
		Products: products,
	}
}

// State enumerates order states.
type State string

const (
	StateDraft       State = "draft"
	StateValidation  State = "validation"
	StateSale        State = "sale"
	StateToDelivered State = "to_delivered"
	StateDelivered   State = "delivered"
	StateCancel      State = "cancel"
)

// TrackState enumerates the states of a credit approval track.
type TrackState string

const (
	TrackPending   TrackState = "pending"
	TrackValidated TrackState = "validated"
	TrackRejected  TrackState = "rejected"
	TrackCancelled TrackState = "cancelled"
)

// Track is one credit approval tier. HR approvals record a partner, admin
// approvals record a user.
type Track struct {
	State     TrackState `json:"state"`
	At        *time.Time `json:"date,omitempty"`
	PartnerID int64      `json:"partner_id,omitempty"`
	UserID    int64      `json:"user_id,omitempty"`
	Comment   string     `json:"comment,omitempty"`
}

// RoleMainUser marks the contact that approves credit for its company.
const RoleMainUser = "main_user"

// Partner is a customer, a customer's employer or one of its contacts.
// EmployerID is the parent company of a contact.
type Partner struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Lang       string `json:"lang,omitempty"`
	EmployerID int64  `json:"employer_id,omitempty"`
	Role       string `json:"role,omitempty"`
}

// Order is a sales order with its derived payment figures.
type Order struct {
	ID               int64              `json:"id"`
	Ref              uuid.UUID          `json:"ref"`
	Name             string             `json:"name"`
	CustomerID       int64              `json:"customer_id"`
	CustomerName     string             `json:"customer_name"`
	CustomerEmail    string             `json:"customer_email,omitempty"`
	CustomerLang     string             `json:"customer_lang,omitempty"`
	EmployerID       int64              `json:"employer_id,omitempty"`
	TypeSale         milestone.SaleType `json:"type_sale"`
	State            State              `json:"state"`
	Currency         string             `json:"currency"`
	CurrencyRounding decimal.Decimal    `json:"currency_rounding"`

	DateOrder      time.Time  `json:"date_order"`
	CommitmentDate *time.Time `json:"commitment_date,omitempty"`
	ValidityDate   *time.Time `json:"validity_date,omitempty"`
	ApprovedAt     *time.Time `json:"date_approved_creditorder,omitempty"`

	AmountUntaxed  decimal.Decimal `json:"amount_untaxed"`
	AmountTax      decimal.Decimal `json:"amount_tax"`
	AmountTotal    decimal.Decimal `json:"amount_total"`
	AmountResidual decimal.Decimal `json:"amount_residual"`
	AmountPaid     decimal.Decimal `json:"amount_payed"`
	PaymentCount   int             `json:"payment_count"`

	Milestones    milestone.Schedule      `json:"milestones"`
	AdvanceStatus milestone.PaymentStatus `json:"advance_payment_status"`
	Due           milestone.DueStatus     `json:"due"`

	HR    Track `json:"validation_rh"`
	Admin Track `json:"validation_admin"`

	ConfirmedBy *int64     `json:"confirmed_by,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Lines       []Line     `json:"lines"`
}

// IsCredit reports whether the order follows the credit approval path.
func (o *Order) IsCredit() bool {
	return o.TypeSale == milestone.TypeCreditOrder
}

// Line is an order line.
type Line struct {
	ID            int64           `json:"id"`
	OrderID       int64           `json:"order_id"`
	ProductID     int64           `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Quantity      decimal.Decimal `json:"quantity"`
	Delivered     decimal.Decimal `json:"quantity_delivered"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TaxPercent    decimal.Decimal `json:"tax_percent"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	IsDownpayment bool            `json:"is_downpayment"`
	Sequence      int             `json:"sequence"`
}

var hundred = decimal.NewFromInt(100)

// computeLine fills the subtotal, tax and total of a line.
func computeLine(l *Line) {
	l.Subtotal = l.Quantity.Mul(l.UnitPrice).RoundBank(2)
	l.Tax = l.Subtotal.Mul(l.TaxPercent).Div(hundred).RoundBank(2)
	l.Total = l.Subtotal.Add(l.Tax)
}

// CreateOrderRequest is the payload for creating an order.
type CreateOrderRequest struct {
	CustomerID     int64              `json:"customer_id" validate:"required,gt=0"`
	TypeSale       milestone.SaleType `json:"type_sale" validate:"required,oneof=order preorder creditorder"`
	Currency       string             `json:"currency" validate:"required,len=3"`
	Rounding       *decimal.Decimal   `json:"currency_rounding,omitempty"`
	DateOrder      *time.Time         `json:"date_order,omitempty"`
	CommitmentDate *time.Time         `json:"commitment_date,omitempty"`
	ValidityDate   *time.Time         `json:"validity_date,omitempty"`
	Lines          []LineRequest      `json:"lines" validate:"dive"`
}

// LineRequest describes an order line to create.
type LineRequest struct {
	ProductID     int64           `json:"product_id" validate:"required,gt=0"`
	ProductName   string          `json:"product_name" validate:"required,max=200"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TaxPercent    decimal.Decimal `json:"tax_percent"`
	IsDownpayment bool            `json:"is_downpayment"`
}

// DeliveredQuantity records how much of a line has been delivered.
type DeliveredQuantity struct {
	LineID   int64           `json:"line_id" validate:"required,gt=0"`
	Quantity decimal.Decimal `json:"quantity"`
}

// PaymentRequest is the payload for registering a payment on an order.
type PaymentRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"omitempty,len=3"`
	PaidAt   *time.Time      `json:"paid_at,omitempty"`
	Method   string          `json:"method" validate:"required,max=50"`
	Memo     string          `json:"memo" validate:"max=500"`
}

// PaymentSuggestion pre-fills the next payment to collect on an order.
type PaymentSuggestion struct {
	OrderID     int64           `json:"order_id"`
	PartnerID   int64           `json:"partner_id"`
	Reference   string          `json:"reference"`
	PaymentType string          `json:"payment_type"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

// ListFilter narrows order listings.
type ListFilter struct {
	TypeSale milestone.SaleType
	State    State
	StateDue milestone.DueState
	Limit    int
	Offset   int
}

// StateCount is the number of orders sharing a sale type, state and due state.
type StateCount struct {
	TypeSale milestone.SaleType
	State    State
	StateDue milestone.DueState
	Count    int64
}
