package orders_test

import (
	"context"
	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/cart"
	"storefront/internal/mocks"
	"storefront/internal/notify"
	"storefront/internal/orders"
	"storefront/internal/storetest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db     *storetest.DB
	carts  *cart.Service
	svc    *orders.Service
	events *mocks.Publisher
	queue  *notify.MemoryQueue
}

func newFixture() *fixture {
	db := storetest.New()
	carts := cart.NewService(db, db)
	events := &mocks.Publisher{}
	queue := &notify.MemoryQueue{}
	svc := orders.NewService(db, db, carts, db, events, queue, orders.Options{Currency: "NGN", ReviewDelay: 72 * time.Hour})
	return &fixture{db: db, carts: carts, svc: svc, events: events, queue: queue}
}

func customer(id string) auth.Claims {
	return auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: id}, Roles: []string{auth.RoleUser}}
}

func admin() auth.Claims {
	return auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()}, Roles: []string{auth.RoleUser, auth.RoleAdmin}}
}

func address() *orders.Address {
	return &orders.Address{FullName: "Ada Obi", Phone: "+2348000000000", Street: "1 Marina", City: "Lagos", State: "Lagos", Country: "NG"}
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func (f *fixture) place(t *testing.T, userID string, items ...orders.ItemInput) orders.Order {
	t.Helper()
	res, err := f.svc.CreateOrder(context.Background(), userID, orders.CreateOrderInput{
		Items:           items,
		ShippingAddress: address(),
		PaymentMethod:   orders.MethodPaystack,
	})
	require.NoError(t, err)
	require.True(t, res.OK(), "%v", res.Errors)
	return *res.Order
}

func TestCreateOrderFromItemsReservesStock(t *testing.T) {
	f := newFixture()
	dress := f.db.AddProduct("dress", "25.50", 5)
	userID := uuid.NewString()

	res, err := f.svc.CreateOrder(context.Background(), userID, orders.CreateOrderInput{
		Items:           []orders.ItemInput{{ProductID: dress.ID, Quantity: 2}},
		ShippingAddress: address(),
		PaymentMethod:   orders.MethodPaystack,
		Tax:             dec("3.00"),
		Shipping:        dec("5"),
		Discount:        dec("1.50"),
	})
	require.NoError(t, err)
	require.True(t, res.OK(), "%v", res.Errors)

	o := res.Order
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-F]{6}$`, o.OrderNumber)
	assert.Equal(t, "51", o.Subtotal.String())
	assert.Equal(t, "57.5", o.Total.String())
	assert.Equal(t, orders.StatusPending, o.State.Status())
	assert.Equal(t, orders.PaymentPending, o.State.Payment())
	assert.Equal(t, "dress", o.Items[0].Name)
	assert.Len(t, o.History, 1)
	assert.Equal(t, 3, f.db.Stock(dress.ID, ""))
	assert.Equal(t, []notify.EventType{notify.OrderCreated}, f.events.Types())
}

func TestCreateOrderValidationErrors(t *testing.T) {
	f := newFixture()
	res, err := f.svc.CreateOrder(context.Background(), uuid.NewString(), orders.CreateOrderInput{
		ShippingAddress: &orders.Address{FullName: "Ada"},
		PaymentMethod:   "cheque",
		Tax:             dec("-1"),
	})
	require.NoError(t, err)
	assert.Nil(t, res.Order)
	assert.Contains(t, res.Errors, "shippingAddress.phone is required")
	assert.Contains(t, res.Errors, "Invalid payment method")
	assert.Contains(t, res.Errors, "Provide either cartId or items")
	assert.Contains(t, res.Errors, "tax must not be negative")
}

func TestCreateOrderInsufficientStockWritesNothing(t *testing.T) {
	f := newFixture()
	shirt := f.db.AddVariantProduct("shirt", "10", map[string]int{"S": 1, "M": 4})
	small := storetest.VariantID(shirt, "S")

	res, err := f.svc.CreateOrder(context.Background(), uuid.NewString(), orders.CreateOrderInput{
		Items:           []orders.ItemInput{{ProductID: shirt.ID, VariantID: small, Quantity: 2}},
		ShippingAddress: address(),
		PaymentMethod:   orders.MethodCashOnDelivery,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"shirt: Only 1 item(s) available"}, res.Errors)
	assert.Equal(t, 1, f.db.Stock(shirt.ID, small))

	list, err := f.svc.ListOrders(context.Background(), orders.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateOrderFromCartClearsIt(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	bag := f.db.AddProduct("bag", "40", 3)
	userID := uuid.NewString()

	c, err := f.carts.AddItem(ctx, cart.UserOwner(userID), cart.AddItemInput{ProductID: bag.ID, Quantity: 2})
	require.NoError(t, err)

	res, err := f.svc.CreateOrder(ctx, userID, orders.CreateOrderInput{
		CartID:          c.ID,
		ShippingAddress: address(),
		PaymentMethod:   orders.MethodPaystack,
	})
	require.NoError(t, err)
	require.True(t, res.OK(), "%v", res.Errors)
	assert.Equal(t, "80", res.Order.Total.String())

	after, err := f.carts.GetCart(ctx, cart.UserOwner(userID))
	require.NoError(t, err)
	assert.Empty(t, after.Items)

	again, err := f.svc.CreateOrder(ctx, userID, orders.CreateOrderInput{
		CartID:          c.ID,
		ShippingAddress: address(),
		PaymentMethod:   orders.MethodPaystack,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Cart not found"}, again.Errors)
}

func TestCreateOrderRejectsSomeoneElsesCart(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	bag := f.db.AddProduct("bag", "40", 3)
	c, err := f.carts.AddItem(ctx, cart.UserOwner(uuid.NewString()), cart.AddItemInput{ProductID: bag.ID, Quantity: 1})
	require.NoError(t, err)

	_, err = f.svc.CreateOrder(ctx, uuid.NewString(), orders.CreateOrderInput{
		CartID:          c.ID,
		ShippingAddress: address(),
		PaymentMethod:   orders.MethodPaystack,
	})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestGetOrderOwnerOrAdmin(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	hat := f.db.AddProduct("hat", "12", 2)
	owner := uuid.NewString()
	o := f.place(t, owner, orders.ItemInput{ProductID: hat.ID, Quantity: 1})

	_, err := f.svc.GetOrder(ctx, customer(owner), o.ID)
	assert.NoError(t, err)
	_, err = f.svc.GetOrder(ctx, admin(), o.ID)
	assert.NoError(t, err)
	_, err = f.svc.GetOrder(ctx, customer(uuid.NewString()), o.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	_, err = f.svc.GetOrder(ctx, customer(owner), uuid.NewString())
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCustomerCancelRestoresStockOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	hat := f.db.AddProduct("hat", "12", 2)
	owner := uuid.NewString()
	o := f.place(t, owner, orders.ItemInput{ProductID: hat.ID, Quantity: 2})
	require.Equal(t, 0, f.db.Stock(hat.ID, ""))

	_, err := f.svc.UpdateOrderStatus(ctx, customer(owner), o.ID, orders.StatusCancelled, "  ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cancellation reason is required")

	cancelled, err := f.svc.UpdateOrderStatus(ctx, customer(owner), o.ID, orders.StatusCancelled, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, cancelled.State.Status())
	assert.Equal(t, "changed my mind", cancelled.CancelReason)
	assert.Equal(t, 2, f.db.Stock(hat.ID, ""))

	_, err = f.svc.UpdateOrderStatus(ctx, admin(), o.ID, orders.StatusCancelled, "again")
	require.Error(t, err)
	assert.Equal(t, 2, f.db.Stock(hat.ID, ""))
}

func TestCustomerCannotAdvanceOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	hat := f.db.AddProduct("hat", "12", 2)
	owner := uuid.NewString()
	o := f.place(t, owner, orders.ItemInput{ProductID: hat.ID, Quantity: 1})

	_, err := f.svc.UpdateOrderStatus(ctx, customer(owner), o.ID, orders.StatusShipped, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot transition order from pending to shipped")

	_, err = f.svc.UpdateOrderStatus(ctx, customer(uuid.NewString()), o.ID, orders.StatusCancelled, "nope")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestAdminDeliveryOfCashOnDeliveryOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	hat := f.db.AddProduct("hat", "12", 2)
	owner := uuid.NewString()
	res, err := f.svc.CreateOrder(ctx, owner, orders.CreateOrderInput{
		Items:           []orders.ItemInput{{ProductID: hat.ID, Quantity: 1}},
		ShippingAddress: address(),
		PaymentMethod:   orders.MethodCashOnDelivery,
	})
	require.NoError(t, err)
	require.True(t, res.OK())

	for _, to := range []orders.Status{orders.StatusConfirmed, orders.StatusProcessing, orders.StatusShipped} {
		_, err := f.svc.UpdateOrderStatus(ctx, admin(), res.Order.ID, to, "")
		require.NoError(t, err, to)
	}
	delivered, err := f.svc.UpdateOrderStatus(ctx, admin(), res.Order.ID, orders.StatusDelivered, "")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, delivered.State.Payment())
	assert.NotNil(t, delivered.PaidAt)
	assert.NotNil(t, delivered.DeliveredAt)
	assert.Len(t, delivered.History, 5)
	assert.Contains(t, f.events.Types(), notify.OrderPaid)

	purchased, err := f.svc.HasPurchased(ctx, owner, hat.ID)
	require.NoError(t, err)
	assert.True(t, purchased)

	due, err := f.queue.ClaimDue(ctx, time.Now().Add(73*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, []string{hat.ID}, due[0].ProductIDs)

	_, err = f.svc.UpdateOrderStatus(ctx, admin(), res.Order.ID, orders.StatusShipped, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot change status of a delivered order")
}

func TestAdminCannotDeliverUnpaidOnlineOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	hat := f.db.AddProduct("hat", "12", 2)
	o := f.place(t, uuid.NewString(), orders.ItemInput{ProductID: hat.ID, Quantity: 1})

	_, err := f.svc.UpdateOrderStatus(ctx, admin(), o.ID, orders.StatusDelivered, "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "Order cannot be delivered while payment is pending")
}

func TestApplyDetectsConcurrentChange(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	hat := f.db.AddProduct("hat", "12", 2)
	o := f.place(t, uuid.NewString(), orders.ItemInput{ProductID: hat.ID, Quantity: 1})

	_, _, err := f.svc.Apply(ctx, o.ID, func(cur *orders.Order) error {
		_, err := f.svc.UpdateOrderStatus(ctx, admin(), o.ID, orders.StatusConfirmed, "")
		require.NoError(t, err)
		next, err := cur.State.WithPayment(orders.PaymentPaid)
		require.NoError(t, err)
		cur.Transition(next, "test", "", time.Now())
		return nil
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, changed, err := f.svc.Apply(ctx, o.ID, func(*orders.Order) error { return orders.ErrNoChange })
	require.NoError(t, err)
	assert.False(t, changed)
}
