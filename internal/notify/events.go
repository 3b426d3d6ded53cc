// Package notify carries domain events out of the request path.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"storefront/pkg/ctxmanage"
	"storefront/pkg/logkey"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	OrderCreated       EventType = "order.created"
	OrderStatusChanged EventType = "order.status_changed"
	OrderPaid          EventType = "order.paid"
	PaymentFailed      EventType = "payment.failed"
	RefundProcessed    EventType = "refund.processed"
	ReviewRequested    EventType = "review.requested"
)

// Topic is the Kafka topic an event type is published on.
func Topic(t EventType) string {
	return "storefront." + string(t)
}

type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Key        string          `json:"key"`
	TraceID    string          `json:"traceId,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

func NewEvent(ctx context.Context, t EventType, key string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Key:        key,
		TraceID:    ctxmanage.GetTraceId(ctx),
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Emit publishes an event as a side effect: failures are logged and never
// returned to the caller.
func Emit(ctx context.Context, p Publisher, t EventType, key string, payload any) {
	if p == nil {
		return
	}
	traceId := ctxmanage.GetTraceId(ctx)
	e, err := NewEvent(ctx, t, key, payload)
	if err != nil {
		slog.Error("failed to build event", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		slog.Error("failed to publish event", slog.String(logkey.TraceID, traceId),
			slog.String("Event", string(t)), slog.String("Key", key), slog.String(logkey.ERROR, err.Error()))
	}
}

// LogPublisher is used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, e Event) error {
	slog.Info("event", slog.String(logkey.TraceID, e.TraceID), slog.String("Event", string(e.Type)),
		slog.String("Key", e.Key), slog.String("Payload", string(e.Payload)))
	return nil
}

type OrderEvent struct {
	OrderID       string          `json:"orderId"`
	OrderNumber   string          `json:"orderNumber"`
	UserID        string          `json:"userId"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"paymentStatus"`
	Previous      string          `json:"previousStatus,omitempty"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
}

type RefundEvent struct {
	OrderID   string          `json:"orderId"`
	UserID    string          `json:"userId"`
	RequestID string          `json:"requestId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Full      bool            `json:"full"`
	Gateway   bool            `json:"gateway"`
}

// ReviewRequest asks a customer to review the products of a delivered order.
type ReviewRequest struct {
	OrderID    string   `json:"orderId"`
	UserID     string   `json:"userId"`
	ProductIDs []string `json:"productIds"`
}
