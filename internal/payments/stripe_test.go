package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"
)

func signedStripeEvent(t *testing.T, payload, secret string) (string, string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return string(signed.Payload), signed.Header
}

func TestParseStripeEvent(t *testing.T) {
	payload, header := signedStripeEvent(t, `{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_test_1", "object": "checkout.session", "payment_status": "paid", "metadata": {"orderId": "o-1"}}}
	}`, "whsec_test")

	n, err := ParseStripeEvent([]byte(payload), header, "whsec_test")
	require.NoError(t, err)
	assert.Equal(t, Notification{Event: "checkout.session.completed", Reference: "cs_test_1", OrderID: "o-1", Kind: KindSuccess}, n)
}

func TestParseStripeEventFailure(t *testing.T) {
	payload, header := signedStripeEvent(t, `{
		"id": "evt_2",
		"object": "event",
		"type": "checkout.session.async_payment_failed",
		"data": {"object": {"id": "cs_test_2", "object": "checkout.session", "payment_status": "unpaid"}}
	}`, "whsec_test")

	n, err := ParseStripeEvent([]byte(payload), header, "whsec_test")
	require.NoError(t, err)
	assert.Equal(t, KindFailure, n.Kind)
	assert.Equal(t, "cs_test_2", n.Reference)
}

func TestParseStripeEventBadSignature(t *testing.T) {
	payload, header := signedStripeEvent(t, `{"id":"evt_3","object":"event","type":"checkout.session.completed","data":{"object":{}}}`, "whsec_other")
	_, err := ParseStripeEvent([]byte(payload), header, "whsec_test")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
