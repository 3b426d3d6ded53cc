// Package refunds reverses order payments, either instantly on an admin's
// initiative or through a customer request an admin then settles.
package refunds

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("refund request not found")
	ErrActiveRequest = errors.New("refund request already active")
	ErrStaleRequest  = errors.New("refund request changed concurrently")
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusRefunded Status = "refunded"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusApproved, StatusRejected, StatusRefunded:
		return st, true
	}
	return "", false
}

// Active requests block a new request for the same order.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusApproved
}

type Action string

const (
	// ActionApprove refunds through the payment gateway.
	ActionApprove Action = "approve"
	// ActionMarkRefunded records a refund settled outside the gateway.
	ActionMarkRefunded Action = "mark_refunded"
	ActionReject       Action = "reject"
)

type Request struct {
	ID         string     `json:"id"`
	OrderID    string     `json:"orderId"`
	UserID     string     `json:"userId"`
	Reason     string     `json:"reason"`
	Status     Status     `json:"status"`
	AdminNote  string     `json:"adminNote,omitempty"`
	ReviewedBy string     `json:"reviewedBy,omitempty"`
	ReviewedAt *time.Time `json:"reviewedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type NewRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type Review struct {
	Action Action `json:"action" validate:"required,oneof=approve mark_refunded reject"`
	Note   string `json:"note" validate:"max=1000"`
}
