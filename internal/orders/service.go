package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/cart"
	"storefront/internal/inventory"
	"storefront/internal/notify"
	"storefront/internal/products"
	"storefront/pkg/ctxmanage"
	"storefront/pkg/logkey"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store interface {
	CreateOrder(ctx context.Context, o Order) (Order, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	GetOrderByReference(ctx context.Context, reference string) (Order, error)
	ListOrders(ctx context.Context, f Filter) ([]Order, error)
	SaveTransition(ctx context.Context, o Order, prev State) error
	HasPurchased(ctx context.Context, userID, productID string) (bool, error)
}

type Catalog interface {
	GetProductByID(ctx context.Context, id string) (products.Product, error)
}

// Carts is the part of the cart workflow an order needs.
type Carts interface {
	GetCartByID(ctx context.Context, id string) (cart.Cart, error)
	Clear(ctx context.Context, owner cart.Owner) error
}

type Service struct {
	store       Store
	catalog     Catalog
	carts       Carts
	stock       inventory.Stock
	events      notify.Publisher
	reviews     notify.ReviewQueue
	currency    string
	reviewDelay time.Duration
	validate    *validator.Validate
	now         func() time.Time
}

type Options struct {
	Currency    string
	ReviewDelay time.Duration
}

func NewService(store Store, catalog Catalog, carts Carts, stock inventory.Stock, events notify.Publisher,
	reviews notify.ReviewQueue, opts Options) *Service {
	return &Service{
		store:       store,
		catalog:     catalog,
		carts:       carts,
		stock:       stock,
		events:      events,
		reviews:     reviews,
		currency:    opts.Currency,
		reviewDelay: opts.ReviewDelay,
		validate:    apperr.NewValidator(),
		now:         time.Now,
	}
}

// NewOrderNumber formats a human readable order number such as
// ORD-20240131-4F9A1C.
func NewOrderNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("ORD-%s-%s", at.UTC().Format("20060102"), suffix)
}

func (s *Service) checkInput(in CreateOrderInput) []string {
	var errs []string
	if err := s.validate.Struct(in); err != nil {
		errs = append(errs, apperr.FromValidator("", err).Details...)
	}
	if !in.PaymentMethod.Valid() {
		errs = append(errs, "Invalid payment method")
	}
	if (in.CartID == "") == (len(in.Items) == 0) {
		errs = append(errs, "Provide either cartId or items")
	}
	amounts := []struct {
		name  string
		value *decimal.Decimal
	}{{"tax", in.Tax}, {"shipping", in.Shipping}, {"discount", in.Discount}}
	for _, a := range amounts {
		if a.value != nil && a.value.IsNegative() {
			errs = append(errs, a.name+" must not be negative")
		}
	}
	return errs
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return d.Round(2)
}

// CreateOrder validates the input, snapshots every line from the catalog,
// and persists the order while atomically reserving stock. Expected
// validation failures come back in the result rather than as an error.
func (s *Service) CreateOrder(ctx context.Context, userID string, in CreateOrderInput) (CreateOrderResult, error) {
	if errs := s.checkInput(in); len(errs) > 0 {
		return CreateOrderResult{Errors: errs}, nil
	}

	lines := in.Items
	var source *cart.Cart
	if in.CartID != "" {
		c, err := s.carts.GetCartByID(ctx, in.CartID)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return CreateOrderResult{Errors: []string{"Cart not found"}}, nil
			}
			return CreateOrderResult{}, err
		}
		if c.UserID != userID {
			return CreateOrderResult{}, apperr.Forbidden("You do not have access to this cart")
		}
		if len(c.Items) == 0 {
			return CreateOrderResult{Errors: []string{"Cart is empty"}}, nil
		}
		for _, it := range c.Items {
			lines = append(lines, ItemInput{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
		}
		source = &c
	}

	items, errs, err := s.snapshotItems(ctx, lines)
	if err != nil {
		return CreateOrderResult{}, err
	}
	if len(errs) > 0 {
		return CreateOrderResult{Errors: errs}, nil
	}

	now := s.now().UTC()
	o := Order{
		ID:              uuid.NewString(),
		OrderNumber:     NewOrderNumber(now),
		UserID:          userID,
		Items:           items,
		ShippingAddress: *in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		Currency:        s.currency,
		Tax:             orZero(in.Tax),
		Shipping:        orZero(in.Shipping),
		Discount:        orZero(in.Discount),
		CreatedAt:       now,
	}
	for _, it := range items {
		o.Subtotal = o.Subtotal.Add(it.LineTotal())
	}
	o.Subtotal = o.Subtotal.Round(2)
	gross := o.Subtotal.Add(o.Tax).Add(o.Shipping)
	if o.Discount.GreaterThan(gross) {
		return CreateOrderResult{Errors: []string{"discount cannot exceed the order amount"}}, nil
	}
	o.Total = gross.Sub(o.Discount)
	o.Transition(InitialState(), userID, "Order placed", now)

	created, err := s.store.CreateOrder(ctx, o)
	if err != nil {
		if errors.Is(err, inventory.ErrInsufficientStock) {
			return CreateOrderResult{Errors: []string{"One or more items are no longer available in the requested quantity"}}, nil
		}
		return CreateOrderResult{}, fmt.Errorf("create order: %w", err)
	}

	if source != nil {
		if err := s.carts.Clear(ctx, cart.UserOwner(userID)); err != nil {
			slog.Error("failed to clear cart after order", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
				slog.String(logkey.OrderID, created.ID), slog.String(logkey.ERROR, err.Error()))
		}
	}
	notify.Emit(ctx, s.events, notify.OrderCreated, created.ID, orderEvent(created, ""))
	return CreateOrderResult{Order: &created}, nil
}

func (s *Service) snapshotItems(ctx context.Context, lines []ItemInput) ([]Item, []string, error) {
	var (
		items []Item
		errs  []string
	)
	requested := make(map[inventory.Line]int)
	for _, l := range lines {
		requested[inventory.Line{ProductID: l.ProductID, VariantID: l.VariantID}] += l.Quantity
	}

	for _, l := range lines {
		p, err := s.catalog.GetProductByID(ctx, l.ProductID)
		if errors.Is(err, products.ErrNotFound) {
			errs = append(errs, fmt.Sprintf("Product %s not found", l.ProductID))
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if p.HasVariants() && l.VariantID == "" {
			errs = append(errs, fmt.Sprintf("%s: a variant must be selected", p.Name))
			continue
		}
		if !p.HasVariants() && l.VariantID != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", p.Name, inventory.ReasonVariantNotFound))
			continue
		}
		total := requested[inventory.Line{ProductID: l.ProductID, VariantID: l.VariantID}]
		if av := inventory.Evaluate(p, total, l.VariantID); !av.Available {
			errs = append(errs, fmt.Sprintf("%s: %s", p.Name, av.Reason))
			continue
		}

		it := Item{
			ID:        uuid.NewString(),
			ProductID: p.ID,
			VariantID: l.VariantID,
			Name:      p.Name,
			Image:     p.PrimaryImage(),
			Price:     p.UnitPrice(l.VariantID),
			Quantity:  l.Quantity,
		}
		if v, ok := p.Variant(l.VariantID); ok {
			it.Size, it.Color = v.Size, v.Color
		}
		items = append(items, it)
	}
	return items, errs, nil
}

func (s *Service) get(ctx context.Context, id string) (Order, error) {
	o, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Order{}, apperr.NotFound("Order not found")
	}
	return o, err
}

// GetOrder returns the order to its owner or to an admin.
func (s *Service) GetOrder(ctx context.Context, actor auth.Claims, id string) (Order, error) {
	o, err := s.get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != actor.Subject && auth.RequireRole(actor, auth.RoleAdmin) != nil {
		return Order{}, apperr.Forbidden("You do not have access to this order")
	}
	return o, nil
}

// Lookup loads an order without an ownership check, for internal workflows.
func (s *Service) Lookup(ctx context.Context, id string) (Order, error) {
	return s.get(ctx, id)
}

func (s *Service) LookupByReference(ctx context.Context, reference string) (Order, error) {
	o, err := s.store.GetOrderByReference(ctx, reference)
	if errors.Is(err, ErrNotFound) {
		return Order{}, apperr.NotFound("Order not found")
	}
	return o, err
}

func (s *Service) ListOrders(ctx context.Context, f Filter) ([]Order, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	f.Offset = max(f.Offset, 0)
	list, err := s.store.ListOrders(ctx, f)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []Order{}
	}
	return list, nil
}

// HasPurchased reports whether the user has received the product.
func (s *Service) HasPurchased(ctx context.Context, userID, productID string) (bool, error) {
	return s.store.HasPurchased(ctx, userID, productID)
}

// UpdateOrderStatus moves an order along the fulfilment axis on behalf of
// actor. Owners may only cancel pending or confirmed orders; admins may make
// any move out of a non-terminal status that yields a valid state.
func (s *Service) UpdateOrderStatus(ctx context.Context, actor auth.Claims, id string, to Status, reason string) (Order, error) {
	if _, ok := ParseStatus(string(to)); !ok {
		return Order{}, apperr.Validation(fmt.Sprintf("Invalid status %q", to))
	}
	reason = strings.TrimSpace(reason)
	if to == StatusCancelled && reason == "" {
		return Order{}, apperr.Validation("Cancellation reason is required")
	}

	o, err := s.get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	isAdmin := auth.RequireRole(actor, auth.RoleAdmin) == nil
	if !isAdmin && o.UserID != actor.Subject {
		return Order{}, apperr.Forbidden("You do not have access to this order")
	}

	from := o.State.Status()
	switch {
	case from == to:
		return Order{}, apperr.Validation(fmt.Sprintf("Order is already %s", to))
	case from.IsTerminal():
		return Order{}, apperr.Validation(fmt.Sprintf("Cannot change status of a %s order", from))
	case !isAdmin && !CustomerMayTransition(from, to):
		return Order{}, apperr.Validation(fmt.Sprintf("Cannot transition order from %s to %s", from, to))
	}

	payment := o.State.Payment()
	codSettled := to == StatusDelivered && o.PaymentMethod == MethodCashOnDelivery && payment == PaymentPending
	if codSettled {
		payment = PaymentPaid
	}
	next, err := NewState(to, payment)
	if err != nil {
		return Order{}, apperr.Validation(capitalize(err.Error()))
	}

	prev := o.State
	note := ""
	if to == StatusCancelled {
		o.CancelReason = reason
		note = reason
	}
	release := to == StatusCancelled && !o.StockReleased
	if release {
		o.StockReleased = true
	}
	o.Transition(next, actor.Subject, note, s.now().UTC())
	if err := s.save(ctx, o, prev); err != nil {
		return Order{}, err
	}

	if release {
		s.ReleaseStock(ctx, o)
	}
	notify.Emit(ctx, s.events, notify.OrderStatusChanged, o.ID, orderEvent(o, string(from)))
	if codSettled {
		notify.Emit(ctx, s.events, notify.OrderPaid, o.ID, orderEvent(o, string(from)))
	}
	if to == StatusDelivered {
		s.scheduleReviewRequest(ctx, o)
	}
	return o, nil
}

// Apply loads an order, lets fn mutate it and saves the result with a
// compare-and-swap on the previous state. fn returning ErrNoChange leaves
// the order as it is; changed then reports false.
func (s *Service) Apply(ctx context.Context, id string, fn func(o *Order) error) (o Order, changed bool, err error) {
	o, err = s.get(ctx, id)
	if err != nil {
		return Order{}, false, err
	}
	prev := o.State
	if err := fn(&o); err != nil {
		if errors.Is(err, ErrNoChange) {
			return o, false, nil
		}
		return Order{}, false, err
	}
	if err := s.save(ctx, o, prev); err != nil {
		return Order{}, false, err
	}
	return o, true, nil
}

// ErrNoChange is returned by Apply callbacks when the order already is in
// the desired state.
var ErrNoChange = errors.New("order unchanged")

func (s *Service) save(ctx context.Context, o Order, prev State) error {
	err := s.store.SaveTransition(ctx, o, prev)
	if errors.Is(err, ErrStateConflict) {
		return apperr.Conflict("Order was modified by another request, please retry")
	}
	return err
}

// ReleaseStock returns the order's items to inventory. Failures are logged
// only; callers mark the order StockReleased before calling it.
func (s *Service) ReleaseStock(ctx context.Context, o Order) {
	if err := s.stock.Restore(ctx, o.StockLines()); err != nil {
		slog.Error("inventory restoration incomplete", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
			slog.String(logkey.OrderID, o.ID), slog.String(logkey.ERROR, err.Error()))
	}
}

func (s *Service) scheduleReviewRequest(ctx context.Context, o Order) {
	if s.reviews == nil {
		return
	}
	req := notify.ReviewRequest{OrderID: o.ID, UserID: o.UserID, ProductIDs: o.ProductIDs()}
	if err := s.reviews.Schedule(ctx, req, s.now().Add(s.reviewDelay)); err != nil {
		slog.Error("failed to schedule review request", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
			slog.String(logkey.OrderID, o.ID), slog.String(logkey.ERROR, err.Error()))
	}
}

// Now is the service clock, shared with the payment and refund workflows.
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

func orderEvent(o Order, previous string) notify.OrderEvent {
	return notify.OrderEvent{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Status:        string(o.State.Status()),
		PaymentStatus: string(o.State.Payment()),
		Previous:      previous,
		Total:         o.Total,
		Currency:      o.Currency,
	}
}

// Event builds the notification payload for o.
func Event(o Order) notify.OrderEvent {
	return orderEvent(o, "")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
