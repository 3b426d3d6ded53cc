package refunds_test

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
	"storefront/internal/refunds"
	"storefront/internal/storetest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db      *storetest.DB
	orders  *orders.Service
	gateway *mocks.Gateway
	events  *mocks.Publisher
	svc     *refunds.Service
	user    auth.Claims
	admin   auth.Claims
	product string
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
		svc:     refunds.NewService(db, o, gw, events),
		user:    auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()}, Roles: []string{auth.RoleUser}},
		admin:   auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()}, Roles: []string{auth.RoleUser, auth.RoleAdmin}},
	}
}

// paidOrder places an order for two 15.00 scarves and records a successful
// gateway payment on it.
func (f *fixture) paidOrder(t *testing.T) orders.Order {
	t.Helper()
	ctx := context.Background()
	p := f.db.AddProduct("scarf", "15.00", 10)
	f.product = p.ID
	res, err := f.orders.CreateOrder(ctx, f.user.Subject, orders.CreateOrderInput{
		Items: []orders.ItemInput{{ProductID: p.ID, Quantity: 2}},
		ShippingAddress: &orders.Address{FullName: "Ada Obi", Phone: "080", Street: "1 Marina", City: "Lagos",
			State: "Lagos", Country: "NG"},
		PaymentMethod: orders.MethodPaystack,
	})
	require.NoError(t, err)
	require.True(t, res.OK(), "%v", res.Errors)

	o, _, err := f.orders.Apply(ctx, res.Order.ID, func(o *orders.Order) error {
		next, err := orders.NewState(orders.StatusConfirmed, orders.PaymentPaid)
		if err != nil {
			return err
		}
		o.PaymentReference = "ref-" + o.OrderNumber
		o.Transition(next, "gateway", "", f.orders.Now())
		return nil
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) advance(t *testing.T, id string, to ...orders.Status) {
	t.Helper()
	for _, st := range to {
		_, err := f.orders.UpdateOrderStatus(context.Background(), f.admin, id, st, "")
		require.NoError(t, err)
	}
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestInstantRefundFull(t *testing.T) {
	f := newFixture()
	o := f.paidOrder(t)
	require.Equal(t, 8, f.db.Stock(f.product, ""))
	f.gateway.On("Refund", mock.Anything, payments.RefundRequest{Reference: o.PaymentReference, Currency: o.Currency, Reason: "changed mind"}).
		Return(payments.RefundResult{ID: "1", Status: "pending"}, nil).Once()

	got, err := f.svc.InstantRefund(context.Background(), f.admin, o.ID, nil, "changed mind")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.State.Status())
	assert.Equal(t, orders.PaymentRefunded, got.State.Payment())
	assert.True(t, got.RefundedAmount.Equal(got.Total))
	assert.Equal(t, 10, f.db.Stock(f.product, ""))
	assert.Contains(t, f.events.Types(), notify.RefundProcessed)

	_, err = f.orders.UpdateOrderStatus(context.Background(), f.admin, o.ID, orders.StatusProcessing, "")
	assert.Error(t, err)
	assert.Equal(t, 10, f.db.Stock(f.product, ""), "stock is returned once")
	f.gateway.AssertExpectations(t)
}

func TestInstantRefundPartial(t *testing.T) {
	f := newFixture()
	o := f.paidOrder(t)
	f.gateway.On("Refund", mock.Anything, mock.MatchedBy(func(r payments.RefundRequest) bool {
		return r.AmountMinor == 1000
	})).Return(payments.RefundResult{ID: "2"}, nil).Once()

	got, err := f.svc.InstantRefund(context.Background(), f.admin, o.ID, amount("10"), "")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, got.State.Status())
	assert.Equal(t, orders.PaymentPartiallyRefunded, got.State.Payment())
	assert.Equal(t, "10", got.RefundedAmount.String())
	assert.Equal(t, 8, f.db.Stock(f.product, ""))

	f.advance(t, o.ID, orders.StatusProcessing, orders.StatusShipped, orders.StatusDelivered)
	f.gateway.AssertExpectations(t)
}

func TestInstantRefundGuards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t)

	_, err := f.svc.InstantRefund(ctx, f.user, o.ID, nil, "")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	for _, a := range []string{"0", "-5", "1000000"} {
		_, err = f.svc.InstantRefund(ctx, f.admin, o.ID, amount(a), "")
		assert.True(t, apperr.Is(err, apperr.KindValidation), a)
	}

	f.advance(t, o.ID, orders.StatusProcessing, orders.StatusShipped, orders.StatusDelivered)
	_, err = f.svc.InstantRefund(ctx, f.admin, o.ID, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Instant refund allowed only before processing")
	f.gateway.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
}

func TestInstantRefundGatewayFailureLeavesOrder(t *testing.T) {
	f := newFixture()
	o := f.paidOrder(t)
	f.gateway.On("Refund", mock.Anything, mock.Anything).Return(payments.RefundResult{}, errors.New("declined")).Once()

	_, err := f.svc.InstantRefund(context.Background(), f.admin, o.ID, nil, "")
	assert.True(t, apperr.Is(err, apperr.KindUpstream))

	stored, err := f.orders.Lookup(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, stored.State.Payment())
	assert.NotContains(t, f.events.Types(), notify.RefundProcessed)
}

func TestRequestRefund(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t)

	_, err := f.svc.RequestRefund(ctx, f.user, o.ID, refunds.NewRequest{Reason: "  "})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	r, err := f.svc.RequestRefund(ctx, f.user, o.ID, refunds.NewRequest{Reason: "Wrong size"})
	require.NoError(t, err)
	assert.Equal(t, refunds.StatusPending, r.Status)
	assert.Equal(t, f.user.Subject, r.UserID)

	_, err = f.svc.RequestRefund(ctx, f.user, o.ID, refunds.NewRequest{Reason: "Again"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A refund request already exists for this order")

	stranger := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()}}
	_, err = f.svc.RequestRefund(ctx, stranger, o.ID, refunds.NewRequest{Reason: "mine"})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	pending, err := f.svc.ListRequests(ctx, "pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	_, err = f.svc.ListRequests(ctx, "lost")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestReviewApproveRefundsThroughGateway(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t)
	f.advance(t, o.ID, orders.StatusProcessing, orders.StatusShipped, orders.StatusDelivered)
	r, err := f.svc.RequestRefund(ctx, f.user, o.ID, refunds.NewRequest{Reason: "Torn seam"})
	require.NoError(t, err)

	f.gateway.On("Refund", mock.Anything, mock.MatchedBy(func(req payments.RefundRequest) bool {
		return req.Reference == o.PaymentReference && req.AmountMinor == 0
	})).Return(payments.RefundResult{ID: "3"}, nil).Once()

	got, err := f.svc.ReviewRefundRequest(ctx, f.admin, r.ID, refunds.Review{Action: refunds.ActionApprove, Note: "ok"})
	require.NoError(t, err)
	assert.Equal(t, refunds.StatusApproved, got.Status)
	assert.Equal(t, f.admin.Subject, got.ReviewedBy)

	stored, err := f.orders.Lookup(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusDelivered, stored.State.Status())
	assert.Equal(t, orders.PaymentRefunded, stored.State.Payment())
	assert.Equal(t, 10, f.db.Stock(f.product, ""), "returned goods are restocked")

	_, err = f.svc.ReviewRefundRequest(ctx, f.admin, r.ID, refunds.Review{Action: refunds.ActionReject})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	f.gateway.AssertExpectations(t)
}

func TestReviewApproveGatewayFailureReopens(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t)
	r, err := f.svc.RequestRefund(ctx, f.user, o.ID, refunds.NewRequest{Reason: "Late"})
	require.NoError(t, err)
	f.gateway.On("Refund", mock.Anything, mock.Anything).Return(payments.RefundResult{}, errors.New("down")).Once()

	_, err = f.svc.ReviewRefundRequest(ctx, f.admin, r.ID, refunds.Review{Action: refunds.ActionApprove})
	assert.True(t, apperr.Is(err, apperr.KindUpstream))

	pending, err := f.svc.ListRequests(ctx, "pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Empty(t, pending[0].ReviewedBy)
}

func TestReviewMarkRefundedAndReject(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	o := f.paidOrder(t)
	r, err := f.svc.RequestRefund(ctx, f.user, o.ID, refunds.NewRequest{Reason: "Cash back"})
	require.NoError(t, err)

	_, err = f.svc.ReviewRefundRequest(ctx, f.user, r.ID, refunds.Review{Action: refunds.ActionReject})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	_, err = f.svc.ReviewRefundRequest(ctx, f.admin, r.ID, refunds.Review{Action: "refund_twice"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.svc.ReviewRefundRequest(ctx, f.admin, "missing", refunds.Review{Action: refunds.ActionReject})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	got, err := f.svc.ReviewRefundRequest(ctx, f.admin, r.ID, refunds.Review{Action: refunds.ActionMarkRefunded})
	require.NoError(t, err)
	assert.Equal(t, refunds.StatusRefunded, got.Status)
	stored, err := f.orders.Lookup(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, stored.State.Status())
	assert.Equal(t, 10, f.db.Stock(f.product, ""))
	f.gateway.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)

	f2 := newFixture()
	o2 := f2.paidOrder(t)
	r2, err := f2.svc.RequestRefund(ctx, f2.user, o2.ID, refunds.NewRequest{Reason: "Meh"})
	require.NoError(t, err)
	rejected, err := f2.svc.ReviewRefundRequest(ctx, f2.admin, r2.ID, refunds.Review{Action: refunds.ActionReject, Note: "Worn"})
	require.NoError(t, err)
	assert.Equal(t, refunds.StatusRejected, rejected.Status)
	stored, err = f2.orders.Lookup(ctx, o2.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, stored.State.Payment())

	again, err := f2.svc.RequestRefund(ctx, f2.user, o2.ID, refunds.NewRequest{Reason: "Please reconsider"})
	require.NoError(t, err)
	assert.NotEqual(t, r2.ID, again.ID)
}
