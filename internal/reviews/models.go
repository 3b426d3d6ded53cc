// Package reviews handles customer reviews, their moderation and the rating
// aggregate cached on each product.
package reviews

import (
	"errors"
	"fmt"
	"math"
	"storefront/internal/products"
	"time"
)

var (
	ErrNotFound        = errors.New("review not found")
	ErrDuplicate       = errors.New("review already exists")
	ErrAlreadyVoted    = errors.New("review already voted on")
	ErrAlreadyReported = errors.New("review already reported")
)

const (
	// AutoFlagThreshold is the report count at which a review is hidden
	// pending moderation.
	AutoFlagThreshold = 5
	MaxReasonLength   = 500
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusFlagged  Status = "flagged"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusApproved, StatusRejected, StatusFlagged:
		return st, true
	}
	return "", false
}

type Review struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	ProductID          string     `json:"productId"`
	Rating             int        `json:"rating"`
	Title              string     `json:"title,omitempty"`
	Comment            string     `json:"comment,omitempty"`
	IsVerifiedPurchase bool       `json:"isVerifiedPurchase"`
	Status             Status     `json:"moderationStatus"`
	Reason             string     `json:"moderationReason,omitempty"`
	ModeratedBy        string     `json:"moderatedBy,omitempty"`
	ModeratedAt        *time.Time `json:"moderatedAt,omitempty"`
	HelpfulVotes       int        `json:"helpfulVotes"`
	ReportCount        int        `json:"reportCount"`
	IsVisible          bool       `json:"isVisible"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// setStatus applies a moderation outcome. Visibility follows the status.
func (r *Review) setStatus(s Status, reason, by string, at time.Time) {
	r.Status = s
	r.Reason = reason
	r.ModeratedBy = by
	r.ModeratedAt = &at
	r.IsVisible = s == StatusApproved
	r.UpdatedAt = at
}

// AutoFlag flags and hides a review that has collected AutoFlagThreshold
// reports. It reports whether the status changed.
func (r *Review) AutoFlag(at time.Time) bool {
	if r.ReportCount < AutoFlagThreshold || r.Status == StatusFlagged {
		return false
	}
	r.setStatus(StatusFlagged, fmt.Sprintf("Automatically flagged after %d reports", r.ReportCount), "", at)
	return true
}

type NewReview struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Rating    int    `json:"rating" validate:"min=1,max=5"`
	Title     string `json:"title" validate:"max=200"`
	Comment   string `json:"comment" validate:"max=5000"`
}

type Moderation struct {
	Status Status `json:"status" validate:"required,oneof=pending approved rejected flagged"`
	Reason string `json:"reason"`
}

type Report struct {
	Reason string `json:"reason" validate:"max=500"`
}

type Filter struct {
	ProductID   string
	Status      Status
	VisibleOnly bool
	Limit       int
	Offset      int
}

// Summarize turns per-star counts into the product rating aggregate. The
// average is rounded to one decimal place.
func Summarize(counts map[int]int) products.Rating {
	r := products.Rating{Histogram: products.Histogram{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}}
	sum := 0
	for star := 1; star <= 5; star++ {
		n := counts[star]
		r.Histogram[star] = n
		r.Count += n
		sum += star * n
	}
	if r.Count > 0 {
		r.Average = math.Round(float64(sum)/float64(r.Count)*10) / 10
	}
	return r
}
