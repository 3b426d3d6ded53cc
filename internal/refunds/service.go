package refunds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/notify"
	"storefront/internal/orders"
	"storefront/internal/payments"
	"storefront/pkg/ctxmanage"
	"storefront/pkg/logkey"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store interface {
	CreateRequest(ctx context.Context, r Request) (Request, error)
	GetRequest(ctx context.Context, id string) (Request, error)
	HasActiveRequest(ctx context.Context, orderID string) (bool, error)
	ListRequests(ctx context.Context, status Status) ([]Request, error)
	UpdateRequest(ctx context.Context, r Request, from Status) error
}

// Orders is the part of the order workflow refunds act on.
type Orders interface {
	GetOrder(ctx context.Context, actor auth.Claims, id string) (orders.Order, error)
	Lookup(ctx context.Context, id string) (orders.Order, error)
	Apply(ctx context.Context, id string, fn func(o *orders.Order) error) (orders.Order, bool, error)
	ReleaseStock(ctx context.Context, o orders.Order)
	Now() time.Time
}

type Service struct {
	store    Store
	orders   Orders
	gateway  payments.Gateway
	events   notify.Publisher
	validate *validator.Validate
}

func NewService(store Store, o Orders, gateway payments.Gateway, events notify.Publisher) *Service {
	return &Service{store: store, orders: o, gateway: gateway, events: events, validate: apperr.NewValidator()}
}

const errInstantWindow = "Instant refund allowed only before processing"

// InstantRefund refunds a paid order that has not entered processing. A nil
// amount, or one covering the whole balance, is a full refund: the order is
// cancelled and its stock returned. A smaller amount only marks the payment
// partially refunded.
func (s *Service) InstantRefund(ctx context.Context, admin auth.Claims, orderID string, amount *decimal.Decimal, reason string) (orders.Order, error) {
	if err := auth.RequireRole(admin, auth.RoleAdmin); err != nil {
		return orders.Order{}, apperr.Forbidden("Admin access required")
	}
	o, err := s.orders.Lookup(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}
	status := o.State.Status()
	if (status != orders.StatusPending && status != orders.StatusConfirmed) || o.State.Payment() != orders.PaymentPaid {
		return orders.Order{}, apperr.Validation(errInstantWindow)
	}
	if o.PaymentReference == "" {
		return orders.Order{}, apperr.Validation("Order has no payment to refund")
	}

	refundable := o.Refundable()
	refund := refundable
	if amount != nil {
		refund = amount.Round(2)
		switch {
		case !refund.IsPositive():
			return orders.Order{}, apperr.Validation("Refund amount must be greater than zero")
		case refund.GreaterThan(refundable):
			return orders.Order{}, apperr.Validation(fmt.Sprintf("Refund amount cannot exceed %s", refundable.StringFixed(2)))
		}
	}
	full := refund.Equal(refundable)

	req := payments.RefundRequest{Reference: o.PaymentReference, Currency: o.Currency, Reason: reason}
	if !full {
		req.AmountMinor = payments.ToMinorUnits(refund)
	}
	if _, err := s.gateway.Refund(ctx, req); err != nil {
		return orders.Order{}, apperr.Upstream("Refund failed at the payment gateway", err)
	}

	note := strings.TrimSpace(reason)
	if note == "" {
		note = "Instant refund"
	}
	updated, err := s.applyRefund(ctx, o.ID, refund, full, admin.Subject, note)
	if err != nil {
		slog.Error("gateway refunded but order update failed", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
			slog.String(logkey.OrderID, o.ID), slog.String(logkey.ERROR, err.Error()))
		return orders.Order{}, err
	}
	notify.Emit(ctx, s.events, notify.RefundProcessed, o.ID, notify.RefundEvent{
		OrderID: o.ID, UserID: o.UserID, Amount: refund, Full: full, Gateway: true,
	})
	return updated, nil
}

// applyRefund records a refund of amount on the order. A full refund
// cancels orders that have not shipped and returns the stock exactly once.
func (s *Service) applyRefund(ctx context.Context, orderID string, amount decimal.Decimal, full bool, by, note string) (orders.Order, error) {
	var release bool
	o, changed, err := s.orders.Apply(ctx, orderID, func(o *orders.Order) error {
		release = false
		if o.State.Payment() == orders.PaymentRefunded {
			return orders.ErrNoChange
		}
		next := o.State
		var err error
		if full {
			status := o.State.Status()
			if !status.IsShipped() {
				status = orders.StatusCancelled
			}
			next, err = orders.NewState(status, orders.PaymentRefunded)
			o.RefundedAmount = o.Total
			if !o.StockReleased {
				o.StockReleased = true
				release = true
			}
		} else {
			next, err = o.State.WithPayment(orders.PaymentPartiallyRefunded)
			o.RefundedAmount = o.RefundedAmount.Add(amount)
		}
		if err != nil {
			return apperr.Validation("Order cannot be refunded in its current state")
		}
		o.Transition(next, by, note, s.orders.Now())
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	if changed && release {
		s.orders.ReleaseStock(ctx, o)
	}
	return o, nil
}

// RequestRefund files a refund request for one of the caller's paid orders.
func (s *Service) RequestRefund(ctx context.Context, user auth.Claims, orderID string, in NewRequest) (Request, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if err := s.validate.Struct(in); err != nil {
		return Request{}, apperr.FromValidator("Invalid refund request", err)
	}
	o, err := s.orders.GetOrder(ctx, user, orderID)
	if err != nil {
		return Request{}, err
	}
	if o.UserID != user.Subject {
		return Request{}, apperr.Forbidden("You can only request refunds for your own orders")
	}
	if p := o.State.Payment(); p != orders.PaymentPaid && p != orders.PaymentPartiallyRefunded {
		return Request{}, apperr.Validation("Only paid orders can be refunded")
	}

	const duplicate = "A refund request already exists for this order"
	active, err := s.store.HasActiveRequest(ctx, o.ID)
	if err != nil {
		return Request{}, err
	}
	if active {
		return Request{}, apperr.Validation(duplicate)
	}

	r, err := s.store.CreateRequest(ctx, Request{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		UserID:    user.Subject,
		Reason:    in.Reason,
		Status:    StatusPending,
		CreatedAt: s.orders.Now(),
	})
	if errors.Is(err, ErrActiveRequest) {
		return Request{}, apperr.Validation(duplicate)
	}
	return r, err
}

func (s *Service) ListRequests(ctx context.Context, status string) ([]Request, error) {
	var st Status
	if status != "" {
		var ok bool
		if st, ok = ParseStatus(status); !ok {
			return nil, apperr.Validation(fmt.Sprintf("Invalid status %q", status))
		}
	}
	list, err := s.store.ListRequests(ctx, st)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []Request{}
	}
	return list, nil
}

// allowedFrom lists the request statuses each action may be taken from.
var allowedFrom = map[Action][]Status{
	ActionApprove:      {StatusPending},
	ActionMarkRefunded: {StatusPending, StatusApproved},
	ActionReject:       {StatusPending},
}

var actionResult = map[Action]Status{
	ActionApprove:      StatusApproved,
	ActionMarkRefunded: StatusRefunded,
	ActionReject:       StatusRejected,
}

// ReviewRefundRequest settles a request. Approving refunds the remaining
// balance through the gateway; marking refunded records an out-of-band
// settlement. Both refund the order in full. Rejecting only closes the
// request.
func (s *Service) ReviewRefundRequest(ctx context.Context, admin auth.Claims, id string, in Review) (Request, error) {
	if err := auth.RequireRole(admin, auth.RoleAdmin); err != nil {
		return Request{}, apperr.Forbidden("Admin access required")
	}
	if err := s.validate.Struct(in); err != nil {
		return Request{}, apperr.FromValidator("Invalid refund review", err)
	}

	r, err := s.store.GetRequest(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Request{}, apperr.NotFound("Refund request not found")
	}
	if err != nil {
		return Request{}, err
	}
	from := r.Status
	if !slices.Contains(allowedFrom[in.Action], from) {
		return Request{}, apperr.Validation(fmt.Sprintf("Cannot %s a refund request that is %s",
			strings.ReplaceAll(string(in.Action), "_", " "), from))
	}

	o, err := s.orders.Lookup(ctx, r.OrderID)
	if err != nil {
		return Request{}, err
	}
	if in.Action == ActionApprove {
		if p := o.State.Payment(); p != orders.PaymentPaid && p != orders.PaymentPartiallyRefunded {
			return Request{}, apperr.Validation("Order payment cannot be refunded")
		}
		if o.PaymentReference == "" {
			return Request{}, apperr.Validation("Order has no gateway payment, mark it refunded instead")
		}
	}

	now := s.orders.Now()
	r.Status = actionResult[in.Action]
	r.AdminNote = strings.TrimSpace(in.Note)
	r.ReviewedBy = admin.Subject
	r.ReviewedAt = &now
	r.UpdatedAt = now
	if err := s.store.UpdateRequest(ctx, r, from); err != nil {
		if errors.Is(err, ErrStaleRequest) {
			return Request{}, apperr.Conflict("Refund request was modified by another request, please retry")
		}
		return Request{}, err
	}
	if in.Action == ActionReject {
		return r, nil
	}

	amount := o.Refundable()
	if in.Action == ActionApprove {
		req := payments.RefundRequest{Reference: o.PaymentReference, Currency: o.Currency, Reason: r.Reason}
		if o.State.Payment() == orders.PaymentPartiallyRefunded {
			req.AmountMinor = payments.ToMinorUnits(amount)
		}
		if _, err := s.gateway.Refund(ctx, req); err != nil {
			s.reopen(ctx, r)
			return Request{}, apperr.Upstream("Refund failed at the payment gateway", err)
		}
	}

	note := "Refund request " + string(r.Status)
	if _, err := s.applyRefund(ctx, o.ID, amount, true, admin.Subject, note); err != nil {
		slog.Error("refund settled but order update failed", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
			slog.String(logkey.OrderID, o.ID), slog.String(logkey.ERROR, err.Error()))
		return Request{}, err
	}
	notify.Emit(ctx, s.events, notify.RefundProcessed, o.ID, notify.RefundEvent{
		OrderID:   o.ID,
		UserID:    o.UserID,
		RequestID: r.ID,
		Amount:    amount,
		Full:      true,
		Gateway:   in.Action == ActionApprove,
	})
	return r, nil
}

// reopen puts a request back to pending after the gateway refused the refund.
func (s *Service) reopen(ctx context.Context, r Request) {
	from := r.Status
	r.Status = StatusPending
	r.ReviewedBy = ""
	r.ReviewedAt = nil
	if err := s.store.UpdateRequest(ctx, r, from); err != nil {
		slog.Error("failed to reopen refund request", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
			slog.String("RequestID", r.ID), slog.String(logkey.ERROR, err.Error()))
	}
}
