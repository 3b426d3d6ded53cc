package payments_test

import (
	"context"
	"errors"
	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/cart"
	"storefront/internal/mocks"
	"storefront/internal/notify"
	"storefront/internal/orders"
	"storefront/internal/payments"
	"storefront/internal/storetest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db      *storetest.DB
	orders  *orders.Service
	gateway *mocks.Gateway
	events  *mocks.Publisher
	svc     *payments.Service
	user    auth.Claims
}

func newFixture() *fixture {
	db := storetest.New()
	events := &mocks.Publisher{}
	o := orders.NewService(db, db, cart.NewService(db, db), db, events, nil, orders.Options{Currency: "NGN"})
	gw := &mocks.Gateway{}
	return &fixture{
		db:      db,
		orders:  o,
		gateway: gw,
		events:  events,
		svc:     payments.NewService(o, gw, events, payments.NewMemoryDeduper(), payments.Options{Currency: "NGN", CallbackURL: "https://shop.example.com/paid"}),
		user: auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()},
			Email:            "ada@example.com",
			Roles:            []string{auth.RoleUser},
		},
	}
}

func (f *fixture) order(t *testing.T, method orders.PaymentMethod) orders.Order {
	t.Helper()
	p := f.db.AddProduct("scarf", "15.00", 10)
	res, err := f.orders.CreateOrder(context.Background(), f.user.Subject, orders.CreateOrderInput{
		Items: []orders.ItemInput{{ProductID: p.ID, Quantity: 2}},
		ShippingAddress: &orders.Address{FullName: "Ada Obi", Phone: "080", Street: "1 Marina", City: "Lagos",
			State: "Lagos", Country: "NG"},
		PaymentMethod: method,
	})
	require.NoError(t, err)
	require.True(t, res.OK(), "%v", res.Errors)
	return *res.Order
}

// initialize starts a payment whose reference the gateway echoes back.
func (f *fixture) initialize(t *testing.T, o orders.Order) string {
	t.Helper()
	var ref string
	f.gateway.On("InitializeTransaction", mock.Anything, mock.MatchedBy(func(r payments.InitRequest) bool {
		ref = r.Reference
		return r.AmountMinor == 3000 && r.Metadata["orderId"] == o.ID && r.Metadata["userId"] == f.user.Subject
	})).Return(func(ctx context.Context, r payments.InitRequest) payments.InitResponse {
		return payments.InitResponse{AuthorizationURL: "https://pay.example.com/" + r.Reference, Reference: r.Reference}
	}, nil).Once()

	resp, err := f.svc.InitializePayment(context.Background(), f.user, o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, ref, resp.Reference)
	return resp.Reference
}

func TestInitializePaymentStoresReference(t *testing.T) {
	f := newFixture()
	o := f.order(t, orders.MethodPaystack)
	ref := f.initialize(t, o)

	stored, err := f.orders.LookupByReference(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, o.ID, stored.ID)
	assert.Equal(t, orders.PaymentPending, stored.State.Payment())
	f.gateway.AssertExpectations(t)
}

func TestInitializePaymentGuards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	cod := f.order(t, orders.MethodCashOnDelivery)
	_, err := f.svc.InitializePayment(ctx, f.user, cod.ID, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	o := f.order(t, orders.MethodPaystack)
	stranger := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()}}
	_, err = f.svc.InitializePayment(ctx, stranger, o.ID, "")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = f.orders.UpdateOrderStatus(ctx, f.user, o.ID, orders.StatusCancelled, "too slow")
	require.NoError(t, err)
	_, err = f.svc.InitializePayment(ctx, f.user, o.ID, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot pay for a cancelled order")
	f.gateway.AssertNotCalled(t, "InitializeTransaction", mock.Anything, mock.Anything)
}

func TestInitializePaymentGatewayFailure(t *testing.T) {
	f := newFixture()
	o := f.order(t, orders.MethodPaystack)
	f.gateway.On("InitializeTransaction", mock.Anything, mock.Anything).
		Return(payments.InitResponse{}, errors.New("timeout")).Once()

	_, err := f.svc.InitializePayment(context.Background(), f.user, o.ID, "")
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
}

func TestSuccessNotificationConfirmsOrderOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.order(t, orders.MethodPaystack)
	ref := f.initialize(t, o)
	n := payments.Notification{Event: payments.EventChargeSuccess, Reference: ref, OrderID: o.ID, Kind: payments.KindSuccess}

	outcome, err := f.svc.HandleNotification(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomePaid, outcome)

	paid, err := f.orders.Lookup(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, paid.State.Status())
	assert.Equal(t, orders.PaymentPaid, paid.State.Payment())
	assert.NotNil(t, paid.PaidAt)

	outcome, err = f.svc.HandleNotification(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeDuplicate, outcome)

	n.Event = "charge.success.replayed"
	outcome, err = f.svc.HandleNotification(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeIgnored, outcome, "state check stops a replay under a new key")

	paidEvents := 0
	for _, typ := range f.events.Types() {
		if typ == notify.OrderPaid {
			paidEvents++
		}
	}
	assert.Equal(t, 1, paidEvents)
}

func TestFailureNotificationKeepsStockReserved(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.order(t, orders.MethodPaystack)
	ref := f.initialize(t, o)
	productID := o.Items[0].ProductID

	outcome, err := f.svc.HandleNotification(ctx, payments.Notification{
		Event: payments.EventChargeFailed, Reference: ref, Kind: payments.KindFailure,
	})
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeFailed, outcome)

	failed, err := f.orders.Lookup(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentFailed, failed.State.Payment())
	assert.Equal(t, 8, f.db.Stock(productID, ""))
	assert.Contains(t, f.events.Types(), notify.PaymentFailed)

	// a retried payment resets the payment status
	f.initialize(t, failed)
	retried, err := f.orders.Lookup(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPending, retried.State.Payment())
}

func TestNotificationFallsBackToMetadataOrderID(t *testing.T) {
	f := newFixture()
	o := f.order(t, orders.MethodPaystack)

	outcome, err := f.svc.HandleNotification(context.Background(), payments.Notification{
		Event: payments.EventChargeSuccess, Reference: "unknown-ref", OrderID: o.ID, Kind: payments.KindSuccess,
	})
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomePaid, outcome)

	paid, err := f.orders.LookupByReference(context.Background(), "unknown-ref")
	require.NoError(t, err)
	assert.Equal(t, o.ID, paid.ID)
}

func TestUnknownOrderAndIgnoredEvents(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	outcome, err := f.svc.HandleNotification(ctx, payments.Notification{Event: "transfer.success", Reference: "x"})
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeIgnored, outcome)

	outcome, err = f.svc.HandleNotification(ctx, payments.Notification{
		Event: payments.EventChargeSuccess, Reference: "nobody", Kind: payments.KindSuccess,
	})
	require.NoError(t, err)
	assert.Equal(t, payments.OutcomeIgnored, outcome)
}

func TestVerifyPaymentReconciles(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.order(t, orders.MethodPaystack)
	ref := f.initialize(t, o)
	f.gateway.On("VerifyTransaction", mock.Anything, ref).
		Return(payments.Transaction{Reference: ref, Status: payments.TxSuccess}, nil).Once()

	verified, err := f.svc.VerifyPayment(ctx, f.user, ref)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, verified.State.Payment())
	f.gateway.AssertExpectations(t)
}

func TestMemoryDeduper(t *testing.T) {
	d := payments.NewMemoryDeduper()
	ctx := context.Background()

	first, err := d.FirstDelivery(ctx, "charge.success:r1")
	require.NoError(t, err)
	assert.True(t, first)
	first, _ = d.FirstDelivery(ctx, "charge.success:r1")
	assert.False(t, first)

	require.NoError(t, d.Forget(ctx, "charge.success:r1"))
	first, _ = d.FirstDelivery(ctx, "charge.success:r1")
	assert.True(t, first)
}
