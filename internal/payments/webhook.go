package payments

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

// VerifyWebhookSignature checks a Paystack style signature: the hex encoded
// HMAC-SHA512 of the raw payload keyed with secret. An empty secret accepts
// every payload; configuration only allows that outside production.
func VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// SignPayload produces the signature VerifyWebhookSignature expects.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type WebhookEvent struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

type WebhookData struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Metadata  json.RawMessage `json:"metadata"`
}

func IsPaymentSuccessEvent(e WebhookEvent) bool {
	return e.Event == EventChargeSuccess && e.Data.Status == "success"
}

// IsPaymentFailureEvent covers the dedicated failure event and a success
// event that carries a failed transaction.
func IsPaymentFailureEvent(e WebhookEvent) bool {
	return e.Event == EventChargeFailed || (e.Event == EventChargeSuccess && e.Data.Status == "failed")
}

type Kind int

const (
	KindIgnored Kind = iota
	KindSuccess
	KindFailure
)

// Notification is a gateway callback reduced to what reconciliation needs.
type Notification struct {
	Event     string
	Reference string
	OrderID   string
	Kind      Kind
}

// ParsePaystackEvent decodes and classifies a Paystack webhook body. The
// signature must already have been checked.
func ParsePaystackEvent(payload []byte) (Notification, error) {
	var e WebhookEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return Notification{}, fmt.Errorf("failed to decode webhook: %w", err)
	}
	n := Notification{
		Event:     e.Event,
		Reference: e.Data.Reference,
		OrderID:   decodeMetadata(e.Data.Metadata)["orderId"],
		Kind:      KindIgnored,
	}
	switch {
	case IsPaymentSuccessEvent(e):
		n.Kind = KindSuccess
	case IsPaymentFailureEvent(e):
		n.Kind = KindFailure
	}
	return n, nil
}
