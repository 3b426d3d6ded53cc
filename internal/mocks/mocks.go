// Package mocks holds testify mocks for the external integrations.
package mocks

import (
	"context"
	"storefront/internal/notify"
	"storefront/internal/payments"
	"sync"

	"github.com/stretchr/testify/mock"
)

type Gateway struct {
	mock.Mock
}

func (m *Gateway) InitializeTransaction(ctx context.Context, req payments.InitRequest) (payments.InitResponse, error) {
	args := m.Called(ctx, req)
	if fn, ok := args.Get(0).(func(context.Context, payments.InitRequest) payments.InitResponse); ok {
		return fn(ctx, req), args.Error(1)
	}
	return args.Get(0).(payments.InitResponse), args.Error(1)
}

func (m *Gateway) VerifyTransaction(ctx context.Context, reference string) (payments.Transaction, error) {
	args := m.Called(ctx, reference)
	return args.Get(0).(payments.Transaction), args.Error(1)
}

func (m *Gateway) Refund(ctx context.Context, req payments.RefundRequest) (payments.RefundResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(payments.RefundResult), args.Error(1)
}

// Publisher records every published event.
type Publisher struct {
	mu     sync.Mutex
	events []notify.Event
	Err    error
}

func (p *Publisher) Publish(ctx context.Context, e notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.Err
}

func (p *Publisher) Types() []notify.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]notify.EventType, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

func (p *Publisher) Events() []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Event(nil), p.events...)
}
