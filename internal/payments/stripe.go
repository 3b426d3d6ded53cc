package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// Stripe is a Gateway backed by Stripe Checkout. The checkout session id is
// the transaction reference.
type Stripe struct {
	sc        *client.API
	cancelURL string
}

func NewStripe(secretKey, cancelURL string) *Stripe {
	return &Stripe{sc: client.New(secretKey, nil), cancelURL: cancelURL}
}

func (s *Stripe) InitializeTransaction(ctx context.Context, req InitRequest) (InitResponse, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.CallbackURL),
		ClientReferenceID: stripe.String(req.Reference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.AmountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + req.Metadata["orderNumber"]),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: req.Metadata,
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	if s.cancelURL != "" {
		params.CancelURL = stripe.String(s.cancelURL)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		return InitResponse{}, fmt.Errorf("%w: %w", ErrGateway, err)
	}
	return InitResponse{AuthorizationURL: sess.URL, Reference: sess.ID}, nil
}

func (s *Stripe) VerifyTransaction(ctx context.Context, reference string) (Transaction, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.sc.CheckoutSessions.Get(reference, params)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: %w", ErrGateway, err)
	}
	return Transaction{
		Reference:   sess.ID,
		Status:      sessionStatus(sess),
		AmountMinor: sess.AmountTotal,
		Currency:    strings.ToUpper(string(sess.Currency)),
		Metadata:    sess.Metadata,
	}, nil
}

func sessionStatus(sess *stripe.CheckoutSession) string {
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return TxSuccess
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return TxFailed
	default:
		return TxPending
	}
}

func (s *Stripe) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	getParams := &stripe.CheckoutSessionParams{}
	getParams.Context = ctx
	sess, err := s.sc.CheckoutSessions.Get(req.Reference, getParams)
	if err != nil {
		return RefundResult{}, fmt.Errorf("%w: %w", ErrGateway, err)
	}
	if sess.PaymentIntent == nil || sess.PaymentIntent.ID == "" {
		return RefundResult{}, fmt.Errorf("%w: session %s has no payment intent", ErrGateway, req.Reference)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(sess.PaymentIntent.ID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	if req.AmountMinor > 0 {
		params.Amount = stripe.Int64(req.AmountMinor)
	}
	if req.Reason != "" {
		params.AddMetadata("note", req.Reason)
	}
	params.Context = ctx

	r, err := s.sc.Refunds.New(params)
	if err != nil {
		return RefundResult{}, fmt.Errorf("%w: %w", ErrGateway, err)
	}
	return RefundResult{ID: r.ID, Status: string(r.Status)}, nil
}

// ParseStripeEvent verifies a Stripe webhook and maps checkout session
// events onto a Notification.
func ParseStripeEvent(payload []byte, signature, secret string) (Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	n := Notification{Event: string(event.Type), Kind: KindIgnored}
	if event.Data == nil {
		return n, nil
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return Notification{}, fmt.Errorf("failed to decode checkout session: %w", err)
	}
	n.Reference = sess.ID
	n.OrderID = sess.Metadata["orderId"]

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			n.Kind = KindSuccess
		}
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		n.Kind = KindFailure
	}
	return n, nil
}
