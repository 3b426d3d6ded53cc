// Package payments talks to the payment gateway and reconciles order
// payment status with it.
package payments

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrGateway = errors.New("payment gateway error")

type InitRequest struct {
	Email       string
	AmountMinor int64
	Currency    string
	Reference   string
	CallbackURL string
	Metadata    map[string]string
}

type InitResponse struct {
	AuthorizationURL string `json:"authorizationUrl"`
	AccessCode       string `json:"accessCode,omitempty"`
	Reference        string `json:"reference"`
}

// Transaction statuses as normalised across gateways.
const (
	TxSuccess = "success"
	TxFailed  = "failed"
	TxPending = "pending"
)

type Transaction struct {
	Reference   string
	Status      string
	AmountMinor int64
	Currency    string
	Metadata    map[string]string
}

// RefundRequest refunds AmountMinor of the transaction, or all of it when
// AmountMinor is zero.
type RefundRequest struct {
	Reference   string
	AmountMinor int64
	Currency    string
	Reason      string
}

type RefundResult struct {
	ID     string
	Status string
}

type Gateway interface {
	InitializeTransaction(ctx context.Context, req InitRequest) (InitResponse, error)
	VerifyTransaction(ctx context.Context, reference string) (Transaction, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount to kobo or cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
