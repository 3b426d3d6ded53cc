package payments

import (
	"context"
	"fmt"
	"log/slog"
	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/notify"
	"storefront/internal/orders"
	"storefront/pkg/ctxmanage"
	"storefront/pkg/logkey"
	"sync"
	"time"
)

// Orders is the order workflow as seen from payment reconciliation.
type Orders interface {
	GetOrder(ctx context.Context, actor auth.Claims, id string) (orders.Order, error)
	Lookup(ctx context.Context, id string) (orders.Order, error)
	LookupByReference(ctx context.Context, reference string) (orders.Order, error)
	Apply(ctx context.Context, id string, fn func(o *orders.Order) error) (orders.Order, bool, error)
	Now() time.Time
}

// Deduper remembers which webhook deliveries were already processed.
type Deduper interface {
	// FirstDelivery records key and reports whether it was new.
	FirstDelivery(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type Outcome string

const (
	OutcomePaid      Outcome = "paid"
	OutcomeFailed    Outcome = "failed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
)

type Service struct {
	orders      Orders
	gateway     Gateway
	events      notify.Publisher
	dedupe      Deduper
	currency    string
	callbackURL string
}

type Options struct {
	Currency    string
	CallbackURL string
}

func NewService(o Orders, gateway Gateway, events notify.Publisher, dedupe Deduper, opts Options) *Service {
	if dedupe == nil {
		dedupe = NewMemoryDeduper()
	}
	return &Service{
		orders:      o,
		gateway:     gateway,
		events:      events,
		dedupe:      dedupe,
		currency:    opts.Currency,
		callbackURL: opts.CallbackURL,
	}
}

// Gateway exposes the configured gateway to the refund workflow.
func (s *Service) Gateway() Gateway {
	return s.gateway
}

// InitializePayment starts a gateway transaction for the caller's order and
// stores the returned reference on it.
func (s *Service) InitializePayment(ctx context.Context, actor auth.Claims, orderID, callbackURL string) (InitResponse, error) {
	o, err := s.orders.GetOrder(ctx, actor, orderID)
	if err != nil {
		return InitResponse{}, err
	}
	if o.UserID != actor.Subject {
		return InitResponse{}, apperr.Forbidden("You can only pay for your own orders")
	}
	if !o.PaymentMethod.Online() {
		return InitResponse{}, apperr.Validation("This order is not payable online")
	}
	if o.State.Status() == orders.StatusCancelled {
		return InitResponse{}, apperr.Validation("Cannot pay for a cancelled order")
	}
	switch o.State.Payment() {
	case orders.PaymentPaid, orders.PaymentRefunded, orders.PaymentPartiallyRefunded:
		return InitResponse{}, apperr.Validation("Order is already paid")
	}
	if callbackURL == "" {
		callbackURL = s.callbackURL
	}

	now := s.orders.Now()
	resp, err := s.gateway.InitializeTransaction(ctx, InitRequest{
		Email:       actor.Email,
		AmountMinor: ToMinorUnits(o.Total),
		Currency:    o.Currency,
		Reference:   fmt.Sprintf("%s-%d", o.OrderNumber, now.UnixMilli()),
		CallbackURL: callbackURL,
		Metadata: map[string]string{
			"orderId":     o.ID,
			"userId":      o.UserID,
			"orderNumber": o.OrderNumber,
		},
	})
	if err != nil {
		return InitResponse{}, apperr.Upstream("Payment initialization failed", err)
	}

	_, _, err = s.orders.Apply(ctx, o.ID, func(o *orders.Order) error {
		o.PaymentReference = resp.Reference
		o.UpdatedAt = now
		if o.State.Payment() == orders.PaymentFailed {
			retry, err := o.State.WithPayment(orders.PaymentPending)
			if err != nil {
				return apperr.Validation("Order cannot be paid in its current state")
			}
			o.Transition(retry, actor.Subject, "Payment retried", now)
		}
		return nil
	})
	if err != nil {
		return InitResponse{}, err
	}
	return resp, nil
}

// HandleNotification applies a verified gateway callback. Repeated
// deliveries of the same event are recognised and skipped.
func (s *Service) HandleNotification(ctx context.Context, n Notification) (Outcome, error) {
	traceId := ctxmanage.GetTraceId(ctx)
	if n.Kind == KindIgnored || n.Reference == "" {
		slog.Info("webhook event ignored", slog.String(logkey.TraceID, traceId), slog.String("Event", n.Event))
		return OutcomeIgnored, nil
	}

	key := n.Event + ":" + n.Reference
	first, err := s.dedupe.FirstDelivery(ctx, key)
	if err != nil {
		slog.Error("webhook dedupe unavailable", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		first = true
	}
	if !first {
		slog.Info("duplicate webhook delivery", slog.String(logkey.TraceID, traceId), slog.String(logkey.Reference, n.Reference))
		return OutcomeDuplicate, nil
	}

	outcome, err := s.reconcile(ctx, n.Reference, n.OrderID, n.Kind == KindSuccess)
	if Retryable(err) {
		if ferr := s.dedupe.Forget(ctx, key); ferr != nil {
			slog.Error("failed to forget webhook key", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, ferr.Error()))
		}
	}
	return outcome, err
}

// Retryable reports whether a failed notification should be redelivered by
// the gateway.
func Retryable(err error) bool {
	return err != nil && !isBusinessError(err)
}

func isBusinessError(err error) bool {
	_, ok := apperr.As(err)
	return ok && !apperr.Is(err, apperr.KindInternal) && !apperr.Is(err, apperr.KindConflict)
}

// VerifyPayment asks the gateway about reference and reconciles the order.
// It backs the payment callback page when a webhook is late or lost.
func (s *Service) VerifyPayment(ctx context.Context, actor auth.Claims, reference string) (orders.Order, error) {
	o, err := s.orders.LookupByReference(ctx, reference)
	if err != nil {
		return orders.Order{}, err
	}
	if o.UserID != actor.Subject && !actor.IsAdmin() {
		return orders.Order{}, apperr.Forbidden("You do not have access to this order")
	}

	tx, err := s.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		return orders.Order{}, apperr.Upstream("Payment verification failed", err)
	}
	switch tx.Status {
	case TxSuccess, TxFailed:
		if _, err := s.reconcile(ctx, reference, o.ID, tx.Status == TxSuccess); err != nil {
			return orders.Order{}, err
		}
	}
	return s.orders.Lookup(ctx, o.ID)
}

func (s *Service) locate(ctx context.Context, reference, orderID string) (orders.Order, error) {
	o, err := s.orders.LookupByReference(ctx, reference)
	if err == nil || !apperr.Is(err, apperr.KindNotFound) || orderID == "" {
		return o, err
	}
	return s.orders.Lookup(ctx, orderID)
}

func (s *Service) reconcile(ctx context.Context, reference, orderID string, success bool) (Outcome, error) {
	traceId := ctxmanage.GetTraceId(ctx)
	target, err := s.locate(ctx, reference, orderID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			slog.Error("webhook for unknown order", slog.String(logkey.TraceID, traceId), slog.String(logkey.Reference, reference))
			return OutcomeIgnored, nil
		}
		return OutcomeIgnored, err
	}

	now := s.orders.Now()
	o, changed, err := s.orders.Apply(ctx, target.ID, func(o *orders.Order) error {
		if success {
			return markPaid(o, reference, now)
		}
		return markFailed(o, now)
	})
	if err != nil {
		return OutcomeIgnored, err
	}
	if !changed {
		slog.Info("payment event did not change order", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.OrderID, o.ID), slog.String("State", o.State.String()))
		return OutcomeIgnored, nil
	}

	if success {
		notify.Emit(ctx, s.events, notify.OrderPaid, o.ID, orders.Event(o))
		slog.Info("order paid", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, o.ID))
		return OutcomePaid, nil
	}
	notify.Emit(ctx, s.events, notify.PaymentFailed, o.ID, orders.Event(o))
	slog.Info("order payment failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.OrderID, o.ID))
	return OutcomeFailed, nil
}

// markPaid records a successful charge. A pending order is confirmed at the
// same time; orders already settled are left alone.
func markPaid(o *orders.Order, reference string, now time.Time) error {
	switch o.State.Payment() {
	case orders.PaymentPaid, orders.PaymentRefunded, orders.PaymentPartiallyRefunded:
		return orders.ErrNoChange
	}
	status := o.State.Status()
	if status == orders.StatusPending {
		status = orders.StatusConfirmed
	}
	next, err := orders.NewState(status, orders.PaymentPaid)
	if err != nil {
		return orders.ErrNoChange
	}
	if o.PaymentReference == "" {
		o.PaymentReference = reference
	}
	o.Transition(next, "gateway", "Payment received", now)
	return nil
}

// markFailed records a failed charge. Stock stays reserved so the customer
// can retry.
func markFailed(o *orders.Order, now time.Time) error {
	if o.State.Payment() != orders.PaymentPending {
		return orders.ErrNoChange
	}
	next, err := o.State.WithPayment(orders.PaymentFailed)
	if err != nil {
		return orders.ErrNoChange
	}
	o.Transition(next, "gateway", "Payment failed", now)
	return nil
}

// MemoryDeduper is the in-process Deduper used when Redis is not configured.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]struct{})}
}

func (d *MemoryDeduper) FirstDelivery(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}

func (d *MemoryDeduper) Forget(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}
