package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orbit-erp/orbit/internal/ledger"
	"github.com/orbit-erp/orbit/internal/milestone"
	"github.com/orbit-erp/orbit/internal/platform/httpx"
	"github.com/orbit-erp/orbit/internal/reconcile"
	"github.com/orbit-erp/orbit/internal/shared"
)

const (
	approvalModule    = "sales.order"
	auditEntity       = "sales_order"
	idempotencyModule = "sales.payment"

	stageHR     = "hr"
	stageAdmin  = "admin"
	stageClient = "client"
)

// Ledger is the payment and invoice book the service aggregates over.
type Ledger interface {
	OrderDocuments(ctx context.Context, orderID int64) (ledger.Documents, error)
	RegisterPayment(ctx context.Context, in ledger.RegisterPaymentInput) (*ledger.Payment, error)
	CreateInvoices(ctx context.Context, batch ledger.InvoiceBatch) ([]ledger.Invoice, error)
}

// ApprovalLog records and lists approval decisions.
type ApprovalLog interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// AuditLog records state changes.
type AuditLog interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Idempotency guards against replayed requests.
type Idempotency interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// Deps groups the collaborators of the service. Approvals, Audit and
// Idempotency are optional.
type Deps struct {
	Repo        Repository
	Ledger      Ledger
	FX          reconcile.Converter
	Approvals   ApprovalLog
	Audit       AuditLog
	Idempotency Idempotency
	Logger      *slog.Logger
}

// Config carries the company context of the service.
type Config struct {
	// Location is the business time zone civil dates are evaluated in.
	Location *time.Location
	// OwnCompanyPartnerID is the partner of the company running the shop.
	OwnCompanyPartnerID int64
	CompanyCurrency     string
}

// Service provides business logic for sales orders.
type Service struct {
	repo        Repository
	ledger      Ledger
	fx          reconcile.Converter
	approvals   ApprovalLog
	audit       AuditLog
	idempotency Idempotency
	cfg         Config
	logger      *slog.Logger
	validate    *validator.Validate
	now         func() time.Time
}

// NewService constructs a sales service.
func NewService(deps Deps, cfg Config) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	cfg.CompanyCurrency = strings.ToUpper(cfg.CompanyCurrency)
	return &Service{
		repo:        deps.Repo,
		ledger:      deps.Ledger,
		fx:          deps.FX,
		approvals:   deps.Approvals,
		audit:       deps.Audit,
		idempotency: deps.Idempotency,
		cfg:         cfg,
		logger:      deps.Logger,
		validate:    validator.New(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Today returns the current civil date in the business time zone.
func (s *Service) Today() time.Time {
	return milestone.Day(s.now(), s.cfg.Location)
}

// Location returns the business time zone.
func (s *Service) Location() *time.Location {
	return s.cfg.Location
}

// ============================================================================
// RECOMPUTE
// ============================================================================

// derive recomputes every derived field of o from its lines, its ledger
// documents and today's date.
func (s *Service) derive(ctx context.Context, o *Order) error {
	docs, err := s.ledger.OrderDocuments(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("load ledger documents: %w", err)
	}

	untaxed, tax := decimal.Zero, decimal.Zero
	lines := make([]milestone.Line, 0, len(o.Lines))
	for _, l := range o.Lines {
		untaxed = untaxed.Add(l.Subtotal)
		tax = tax.Add(l.Tax)
		lines = append(lines, milestone.Line{Subtotal: l.Subtotal, Tax: l.Tax, IsDownpayment: l.IsDownpayment})
	}
	o.AmountUntaxed = untaxed
	o.AmountTax = tax
	o.AmountTotal = untaxed.Add(tax)

	res, err := reconcile.Compute(ctx, s.fx, reconcile.Input{
		Total:           o.AmountTotal,
		Currency:        o.Currency,
		CompanyCurrency: s.cfg.CompanyCurrency,
		Rounding:        o.CurrencyRounding,
		Today:           s.now(),
		Lines:           ledger.ReconcileLines(docs.Lines),
		Invoices:        ledger.ReconcileInvoices(docs.Invoices),
	})
	if err != nil {
		return fmt.Errorf("reconcile payments: %w", err)
	}
	o.AmountResidual = res.Residual
	o.AmountPaid = res.AmountPaid
	o.PaymentCount = res.PaymentCount
	o.AdvanceStatus = res.Status

	orderDate := o.DateOrder
	dates := milestone.Dates(milestone.DateInput{
		Type:           o.TypeSale,
		OrderDate:      &orderDate,
		CommitmentDate: o.CommitmentDate,
		ApprovedAt:     o.ApprovedAt,
		Location:       s.cfg.Location,
	})
	paidTotal, err := ledger.PostedTotal(ctx, s.fx, docs.Payments, o.Currency, o.CurrencyRounding)
	if err != nil {
		return fmt.Errorf("paid total: %w", err)
	}
	amounts := milestone.Amounts(milestone.AmountInput{
		Type:      o.TypeSale,
		Lines:     lines,
		PaidTotal: paidTotal,
		Total:     o.AmountTotal,
		Residual:  o.AmountResidual,
	})
	o.Milestones = milestone.Merge(dates, amounts)

	var validity *time.Time
	if o.ValidityDate != nil {
		v := milestone.Day(*o.ValidityDate, s.cfg.Location)
		validity = &v
	}
	o.Due = milestone.Due(milestone.DueInput{
		Type:          o.TypeSale,
		Today:         s.Today(),
		Schedule:      o.Milestones,
		ValidityDate:  validity,
		Residual:      o.AmountResidual,
		PaymentStatus: o.AdvanceStatus,
	})
	return nil
}

// OrderChanged recomputes and stores the derived fields of an order. It joins
// the transaction carried by ctx and is registered as the ledger hook.
func (s *Service) OrderChanged(ctx context.Context, orderID int64) error {
	o, err := s.repo.GetOrder(ctx, orderID, true)
	if err != nil {
		return err
	}
	if err := s.derive(ctx, o); err != nil {
		return err
	}
	return s.repo.SaveOrder(ctx, o)
}

// Recompute runs OrderChanged in its own transaction and returns the order.
func (s *Service) Recompute(ctx context.Context, id int64) (*Order, error) {
	var out *Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if err := s.OrderChanged(ctx, id); err != nil {
			return err
		}
		o, err := repo.GetOrder(ctx, id, false)
		out = o
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ============================================================================
// ORDERS
// ============================================================================

// Create registers a draft order with its lines.
func (s *Service) Create(ctx context.Context, actor shared.Actor, req CreateOrderRequest) (*Order, error) {
	if actor.UserID == 0 {
		return nil, shared.ErrMissingActor
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("sales: %v: %w", err, httpx.ErrValidation)
	}
	if err := validateLines(req.Lines); err != nil {
		return nil, err
	}
	if req.TypeSale == milestone.TypePreorder && req.CommitmentDate == nil {
		return nil, fmt.Errorf("sales: preorder requires a commitment date: %w", httpx.ErrValidation)
	}

	now := s.now()
	dateOrder := now
	if req.DateOrder != nil {
		dateOrder = req.DateOrder.UTC()
	}
	rounding := reconcile.DefaultRounding
	if req.Rounding != nil && req.Rounding.IsPositive() {
		rounding = *req.Rounding
	}

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetPartner(ctx, req.CustomerID); err != nil {
			return fmt.Errorf("verify customer: %w", err)
		}
		name, err := repo.NextNumber(ctx, dateOrder.Year())
		if err != nil {
			return fmt.Errorf("generate order number: %w", err)
		}
		order := Order{
			Ref:              uuid.New(),
			Name:             name,
			CustomerID:       req.CustomerID,
			TypeSale:         req.TypeSale,
			State:            StateDraft,
			Currency:         strings.ToUpper(req.Currency),
			CurrencyRounding: rounding,
			DateOrder:        dateOrder,
			CommitmentDate:   req.CommitmentDate,
			ValidityDate:     req.ValidityDate,
			AdvanceStatus:    milestone.PaymentNotPaid,
			Due:              milestone.DueStatus{State: milestone.StateNotDue, Overdue: decimal.Zero},
			HR:               Track{State: TrackPending},
			Admin:            Track{State: TrackPending},
			CreatedBy:        actor.UserID,
			CreatedAt:        now,
		}
		if id, err = repo.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if err := insertLines(ctx, repo, id, req.Lines); err != nil {
			return err
		}
		if err := s.OrderChanged(ctx, id); err != nil {
			return err
		}
		return s.recordAudit(ctx, actor, "sales.order.create", id, map[string]any{"name": name, "type_sale": req.TypeSale})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("order created", slog.Int64("order_id", id), slog.String("type_sale", string(req.TypeSale)))
	return s.repo.GetOrder(ctx, id, false)
}

func validateLines(lines []LineRequest) error {
	for i, l := range lines {
		if !l.Quantity.IsPositive() {
			return fmt.Errorf("sales: line %d: quantity must be positive: %w", i+1, httpx.ErrValidation)
		}
		if l.UnitPrice.IsNegative() || l.TaxPercent.IsNegative() {
			return fmt.Errorf("sales: line %d: price and tax must not be negative: %w", i+1, httpx.ErrValidation)
		}
	}
	return nil
}

func insertLines(ctx context.Context, repo Repository, orderID int64, reqs []LineRequest) error {
	for i, req := range reqs {
		line := Line{
			OrderID:       orderID,
			ProductID:     req.ProductID,
			ProductName:   req.ProductName,
			Quantity:      req.Quantity,
			Delivered:     decimal.Zero,
			UnitPrice:     req.UnitPrice,
			TaxPercent:    req.TaxPercent,
			IsDownpayment: req.IsDownpayment,
			Sequence:      i + 1,
		}
		computeLine(&line)
		if _, err := repo.InsertLine(ctx, line); err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return nil
}

// Get returns an order by ID.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.repo.GetOrder(ctx, id, false)
}

// Approvals returns the approval history of an order, oldest first.
func (s *Service) Approvals(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	o, err := s.repo.GetOrder(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return nil, nil
	}
	logs, err := s.approvals.List(ctx, approvalModule, o.Ref)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	return logs, nil
}

// List returns a page of orders.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Order, shared.Pagination, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	orders, total, err := s.repo.ListOrders(ctx, f)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return orders, shared.NewPagination(f.Offset/f.Limit+1, f.Limit, total), nil
}

// ReplaceLines swaps the lines of an order that has not been confirmed.
func (s *Service) ReplaceLines(ctx context.Context, actor shared.Actor, id int64, reqs []LineRequest) (*Order, error) {
	if err := validateLines(reqs); err != nil {
		return nil, err
	}
	for _, req := range reqs {
		if err := s.validate.Struct(req); err != nil {
			return nil, fmt.Errorf("sales: %v: %w", err, httpx.ErrValidation)
		}
	}
	return s.mutate(ctx, actor, id, "sales.order.lines", func(ctx context.Context, repo Repository, o *Order) error {
		if o.State != StateDraft && o.State != StateValidation {
			return ErrLinesLocked
		}
		if err := repo.DeleteLines(ctx, o.ID); err != nil {
			return fmt.Errorf("delete order lines: %w", err)
		}
		if err := insertLines(ctx, repo, o.ID, reqs); err != nil {
			return err
		}
		return s.OrderChanged(ctx, o.ID)
	})
}

// RecordDelivered stores delivered quantities for lines of a confirmed order.
func (s *Service) RecordDelivered(ctx context.Context, actor shared.Actor, id int64, qtys []DeliveredQuantity) (*Order, error) {
	for _, q := range qtys {
		if q.LineID <= 0 || q.Quantity.IsNegative() {
			return nil, fmt.Errorf("sales: delivered quantity must reference a line and not be negative: %w", httpx.ErrValidation)
		}
	}
	return s.mutate(ctx, actor, id, "sales.order.delivered_quantities", func(ctx context.Context, repo Repository, o *Order) error {
		if o.State != StateSale && o.State != StateToDelivered {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.Name, o.State)
		}
		for _, q := range qtys {
			if err := repo.UpdateLineDelivered(ctx, o.ID, q.LineID, q.Quantity); err != nil {
				return fmt.Errorf("line %d: %w", q.LineID, err)
			}
		}
		return nil
	})
}

// mutate loads and locks an order in a transaction, applies fn and returns
// the reloaded order. fn is responsible for saving the changes it makes.
func (s *Service) mutate(ctx context.Context, actor shared.Actor, id int64, action string, fn func(context.Context, Repository, *Order) error) (*Order, error) {
	if actor.UserID == 0 {
		return nil, shared.ErrMissingActor
	}
	var out *Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		o, err := repo.GetOrder(ctx, id, true)
		if err != nil {
			return err
		}
		from := o.State
		if err := fn(ctx, repo, o); err != nil {
			return err
		}
		if out, err = repo.GetOrder(ctx, id, false); err != nil {
			return err
		}
		return s.recordAudit(ctx, actor, action, id, map[string]any{"from": from, "to": out.State})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ============================================================================
// CREDIT APPROVAL
// ============================================================================

func (s *Service) pendingTrack(o *Order, t *Track) error {
	if !o.IsCredit() {
		return fmt.Errorf("%w: order %s is not a credit order", ErrInvalidTransition, o.Name)
	}
	if t.State != TrackPending {
		return fmt.Errorf("%w: approval is %s", ErrInvalidTransition, t.State)
	}
	return nil
}

// ValidateHR validates the HR track of a credit order. The approver is the
// main contact of the customer's employer, or the actor when the customer has
// no employer other than the own company.
func (s *Service) ValidateHR(ctx context.Context, actor shared.Actor, id int64) (*Order, error) {
	if !actor.Can(shared.PermCreditValidateHR) {
		return nil, ErrCreditCapability
	}
	return s.mutate(ctx, actor, id, "sales.order.hr_validate", func(ctx context.Context, repo Repository, o *Order) error {
		if err := s.pendingTrack(o, &o.HR); err != nil {
			return err
		}
		approver := actor.PartnerID
		if o.EmployerID != 0 && o.EmployerID != s.cfg.OwnCompanyPartnerID {
			main, err := repo.MainContact(ctx, o.EmployerID)
			if err != nil {
				return fmt.Errorf("find main contact: %w", err)
			}
			if main == 0 {
				return ErrMainContactMissing
			}
			approver = main
		}
		now := s.now()
		o.HR = Track{State: TrackValidated, At: &now, PartnerID: approver}
		if err := repo.SaveOrder(ctx, o); err != nil {
			return err
		}
		return s.recordApproval(ctx, actor, o, stageHR, shared.ApprovalApprove, approver, "")
	})
}

// RejectHR rejects the HR track of a credit order on behalf of the customer.
func (s *Service) RejectHR(ctx context.Context, actor shared.Actor, id int64) (*Order, error) {
	if !actor.Can(shared.PermCreditValidateHR) {
		return nil, ErrForbidden
	}
	return s.mutate(ctx, actor, id, "sales.order.hr_reject", func(ctx context.Context, repo Repository, o *Order) error {
		if err := s.pendingTrack(o, &o.HR); err != nil {
			return err
		}
		now := s.now()
		o.HR = Track{State: TrackRejected, At: &now, PartnerID: o.CustomerID}
		if err := repo.SaveOrder(ctx, o); err != nil {
			return err
		}
		return s.recordApproval(ctx, actor, o, stageHR, shared.ApprovalReject, o.CustomerID, "")
	})
}

// ApproveAdmin validates the sales manager track of a credit order.
func (s *Service) ApproveAdmin(ctx context.Context, actor shared.Actor, id int64) (*Order, error) {
	return s.decideAdmin(ctx, actor, id, TrackValidated, "")
}

// RejectAdmin rejects the sales manager track of a credit order.
func (s *Service) RejectAdmin(ctx context.Context, actor shared.Actor, id int64, comment string) (*Order, error) {
	return s.decideAdmin(ctx, actor, id, TrackRejected, strings.TrimSpace(comment))
}

func (s *Service) decideAdmin(ctx context.Context, actor shared.Actor, id int64, state TrackState, comment string) (*Order, error) {
	if !actor.Can(shared.PermCreditValidateAdmin) {
		return nil, ErrForbidden
	}
	action := shared.ApprovalApprove
	if state == TrackRejected {
		action = shared.ApprovalReject
	}
	return s.mutate(ctx, actor, id, "sales.order.admin_"+strings.ToLower(string(action)), func(ctx context.Context, repo Repository, o *Order) error {
		if err := s.pendingTrack(o, &o.Admin); err != nil {
			return err
		}
		now := s.now()
		o.Admin = Track{State: state, At: &now, UserID: actor.UserID, Comment: comment}
		if err := repo.SaveOrder(ctx, o); err != nil {
			return err
		}
		return s.recordApproval(ctx, actor, o, stageAdmin, action, 0, comment)
	})
}

// RequestClientResponse moves a draft order to validation while the client answers.
func (s *Service) RequestClientResponse(ctx context.Context, actor shared.Actor, id int64) (*Order, error) {
	return s.mutate(ctx, actor, id, "sales.order.request_client_response", func(ctx context.Context, repo Repository, o *Order) error {
		if o.State != StateDraft {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.Name, o.State)
		}
		o.State = StateValidation
		if err := repo.SaveOrder(ctx, o); err != nil {
			return err
		}
		return s.recordApproval(ctx, actor, o, stageClient, shared.ApprovalSubmit, o.CustomerID, "")
	})
}

// ============================================================================
// CONFIRMATION & DELIVERY
// ============================================================================

// Confirm confirms an order. Credit orders must pass the HR, admin and first
// deposit gates, in that order, and get their approval date stamped.
// Preorders raise invoices for their first three milestones.
func (s *Service) Confirm(ctx context.Context, actor shared.Actor, id int64) (*Order, error) {
	return s.mutate(ctx, actor, id, "sales.order.confirm", func(ctx context.Context, repo Repository, o *Order) error {
		if o.State != StateDraft && o.State != StateValidation {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.Name, o.State)
		}
		if err := s.derive(ctx, o); err != nil {
			return err
		}

		now := s.now()
		if o.IsCredit() {
			switch {
			case o.HR.State != TrackValidated:
				return ErrHRValidationRequired
			case o.Admin.State != TrackValidated:
				return ErrAdminValidationRequired
			case !o.Milestones[0].Paid:
				return ErrFirstDepositRequired
			}
			o.ApprovedAt = &now
		}
		o.State = StateSale
		o.ConfirmedBy = &actor.UserID
		o.ConfirmedAt = &now
		if err := s.derive(ctx, o); err != nil {
			return err
		}
		if err := repo.SaveOrder(ctx, o); err != nil {
			return err
		}

		if o.TypeSale == milestone.TypePreorder {
			if err := s.raiseMilestoneInvoices(ctx, o); err != nil {
				return err
			}
			reloaded, err := repo.GetOrder(ctx, o.ID, false)
			if err != nil {
				return err
			}
			*o = *reloaded
		}
		if !o.AmountResidual.IsPositive() {
			o.State = StateToDelivered
			if err := repo.SaveOrder(ctx, o); err != nil {
				return err
			}
		}
		s.logger.Info("order confirmed",
			slog.Int64("order_id", o.ID),
			slog.String("type_sale", string(o.TypeSale)),
			slog.String("state", string(o.State)),
		)
		return nil
	})
}

func (s *Service) raiseMilestoneInvoices(ctx context.Context, o *Order) error {
	batch := ledger.InvoiceBatch{
		OrderID:    o.ID,
		OrderName:  o.Name,
		CustomerID: o.CustomerID,
		Currency:   o.Currency,
	}
	today := s.Today()
	for i := 0; i < milestone.Count(o.TypeSale); i++ {
		m := o.Milestones[i]
		due := today
		if m.Date != nil {
			due = *m.Date
		}
		batch.Items = append(batch.Items, ledger.InvoiceBatchItem{
			Label:  fmt.Sprintf("%s - milestone %d", o.Name, i+1),
			DueAt:  due,
			Amount: m.Amount,
		})
	}
	if _, err := s.ledger.CreateInvoices(ctx, batch); err != nil {
		return fmt.Errorf("create milestone invoices: %w", err)
	}
	return nil
}

// MarkToBeDelivered releases a confirmed order for delivery once its payment
// conditions hold.
func (s *Service) MarkToBeDelivered(ctx context.Context, actor shared.Actor, id int64) (*Order, error) {
	return s.mutate(ctx, actor, id, "sales.order.to_deliver", func(ctx context.Context, repo Repository, o *Order) error {
		if o.State != StateSale {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.Name, o.State)
		}
		if err := s.derive(ctx, o); err != nil {
			return err
		}
		settled := !o.AmountResidual.IsPositive()
		switch o.TypeSale {
		case milestone.TypePreorder:
			if !settled || o.AdvanceStatus != milestone.PaymentPaid {
				return ErrPaymentsRequired
			}
		case milestone.TypeCreditOrder:
			if o.Admin.State != TrackValidated || !o.Milestones[0].Paid {
				return ErrFirstDepositRequired
			}
		default:
			if !settled {
				return ErrPaymentsRequired
			}
		}
		o.State = StateToDelivered
		return repo.SaveOrder(ctx, o)
	})
}

// MarkDelivered closes an order once every line is fully delivered.
func (s *Service) MarkDelivered(ctx context.Context, actor shared.Actor, id int64) (*Order, error) {
	return s.mutate(ctx, actor, id, "sales.order.deliver", func(ctx context.Context, repo Repository, o *Order) error {
		if o.State != StateSale && o.State != StateToDelivered {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.Name, o.State)
		}
		var missing []string
		for _, l := range o.Lines {
			if l.Delivered.LessThan(l.Quantity) {
				missing = append(missing, l.ProductName)
			}
		}
		if len(missing) > 0 {
			return undeliveredError(missing)
		}
		o.State = StateDelivered
		return repo.SaveOrder(ctx, o)
	})
}

// Cancel cancels an order. Both approval tracks of a credit order are cancelled with it.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64) (*Order, error) {
	return s.mutate(ctx, actor, id, "sales.order.cancel", func(ctx context.Context, repo Repository, o *Order) error {
		if o.State == StateCancel || o.State == StateDelivered {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, o.Name, o.State)
		}
		o.State = StateCancel
		if o.IsCredit() {
			o.HR.State = TrackCancelled
			o.Admin.State = TrackCancelled
		}
		if err := repo.SaveOrder(ctx, o); err != nil {
			return err
		}
		if !o.IsCredit() {
			return nil
		}
		for _, stage := range []string{stageHR, stageAdmin} {
			if err := s.recordApproval(ctx, actor, o, stage, shared.ApprovalCancel, 0, ""); err != nil {
				return err
			}
		}
		return nil
	})
}

// ============================================================================
// PAYMENTS
// ============================================================================

// PaymentSuggestion lists the payments of an order and pre-fills the next
// amount to collect.
func (s *Service) PaymentSuggestion(ctx context.Context, id int64) (PaymentSuggestion, []ledger.Payment, error) {
	o, err := s.repo.GetOrder(ctx, id, false)
	if err != nil {
		return PaymentSuggestion{}, nil, err
	}
	docs, err := s.ledger.OrderDocuments(ctx, id)
	if err != nil {
		return PaymentSuggestion{}, nil, fmt.Errorf("load ledger documents: %w", err)
	}
	amount := milestone.Suggested(o.TypeSale, o.Milestones, o.AmountPaid)
	if o.TypeSale == milestone.TypeOrder && o.AmountResidual.IsPositive() {
		amount = o.AmountResidual
	}
	return PaymentSuggestion{
		OrderID:     o.ID,
		PartnerID:   o.CustomerID,
		Reference:   o.Name,
		PaymentType: "inbound",
		Date:        s.Today(),
		Amount:      amount,
		Currency:    o.Currency,
	}, docs.Payments, nil
}

// RegisterPayment posts a customer payment against an order. A non-empty key
// makes the request idempotent.
func (s *Service) RegisterPayment(ctx context.Context, actor shared.Actor, id int64, key string, req PaymentRequest) (*ledger.Payment, *Order, error) {
	if actor.UserID == 0 {
		return nil, nil, shared.ErrMissingActor
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, nil, fmt.Errorf("sales: %v: %w", err, httpx.ErrValidation)
	}
	var (
		payment *ledger.Payment
		out     *Order
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if key != "" && s.idempotency != nil {
			if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
				return err
			}
		}
		o, err := repo.GetOrder(ctx, id, true)
		if err != nil {
			return err
		}
		if o.State == StateCancel {
			return fmt.Errorf("%w: order %s is cancelled", ErrInvalidTransition, o.Name)
		}
		currency := req.Currency
		if currency == "" {
			currency = o.Currency
		}
		paidAt := s.now()
		if req.PaidAt != nil {
			paidAt = req.PaidAt.UTC()
		}
		payment, err = s.ledger.RegisterPayment(ctx, ledger.RegisterPaymentInput{
			OrderID:         o.ID,
			CustomerID:      o.CustomerID,
			Amount:          req.Amount,
			Currency:        currency,
			CompanyCurrency: s.cfg.CompanyCurrency,
			PaidAt:          paidAt,
			Method:          req.Method,
			Memo:            req.Memo,
			CreatedBy:       actor.UserID,
		})
		if err != nil {
			return err
		}
		if out, err = repo.GetOrder(ctx, id, false); err != nil {
			return err
		}
		return s.recordAudit(ctx, actor, "sales.order.payment", id, map[string]any{
			"payment": payment.Number,
			"amount":  payment.Amount.String(),
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return payment, out, nil
}

// ============================================================================
// SWEEPS
// ============================================================================

// SweepResult summarises a due sweep.
type SweepResult struct {
	Processed int
	Failed    int
	Due       int
	Overdue   decimal.Decimal
}

var sweepStates = []State{StateDraft, StateValidation, StateSale, StateToDelivered, StateDelivered}

// SweepDue recomputes every order that is not cancelled, each in its own
// transaction. Failures are logged and counted; only listing errors abort.
func (s *Service) SweepDue(ctx context.Context, pageSize int) (SweepResult, error) {
	res := SweepResult{Overdue: decimal.Zero}
	err := s.eachID(ctx, sweepStates, pageSize, func(id int64) error {
		o, err := s.Recompute(ctx, id)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			res.Failed++
			s.logger.Warn("recompute order failed", slog.Int64("order_id", id), slog.Any("error", err))
			return nil
		}
		res.Processed++
		if o.Due.State == milestone.StateDue {
			res.Due++
			res.Overdue = res.Overdue.Add(o.Due.Overdue)
		}
		return nil
	})
	return res, err
}

// ForEachOrder loads every order in the given states and passes it to fn.
// Iteration stops at the first error fn returns.
func (s *Service) ForEachOrder(ctx context.Context, states []State, pageSize int, fn func(context.Context, *Order) error) error {
	return s.eachID(ctx, states, pageSize, func(id int64) error {
		o, err := s.repo.GetOrder(ctx, id, false)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		return fn(ctx, o)
	})
}

func (s *Service) eachID(ctx context.Context, states []State, pageSize int, fn func(int64) error) error {
	if pageSize <= 0 {
		pageSize = 200
	}
	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := s.repo.ListOrderIDs(ctx, states, after, pageSize)
		if err != nil {
			return fmt.Errorf("list orders: %w", err)
		}
		for _, id := range ids {
			if err := fn(id); err != nil {
				return err
			}
		}
		if len(ids) < pageSize {
			return nil
		}
		after = ids[len(ids)-1]
	}
}

// ============================================================================
// LOGS
// ============================================================================

func (s *Service) recordApproval(ctx context.Context, actor shared.Actor, o *Order, stage string, action shared.ApprovalAction, approver int64, note string) error {
	if s.approvals == nil {
		return nil
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:            approvalModule,
		RefID:             o.Ref,
		Stage:             stage,
		ActorID:           actor.UserID,
		ApproverPartnerID: approver,
		Action:            action,
		Note:              note,
		At:                s.now(),
	}); err != nil {
		return fmt.Errorf("record approval: %w", err)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, orderID int64, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   action,
		Entity:   auditEntity,
		EntityID: strconv.FormatInt(orderID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}
