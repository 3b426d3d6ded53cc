package reviews

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/products"
	"storefront/pkg/ctxmanage"
	"storefront/pkg/logkey"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Store interface {
	InsertReview(ctx context.Context, r Review) (Review, error)
	GetReview(ctx context.Context, id string) (Review, error)
	ListReviews(ctx context.Context, f Filter) ([]Review, error)
	AddVote(ctx context.Context, reviewID, userID string) (Review, error)
	AddReport(ctx context.Context, reviewID, userID, reason string, at time.Time) (Review, bool, error)
	SaveModeration(ctx context.Context, r Review) error
	StarCounts(ctx context.Context, productID string) (map[int]int, error)
}

// Catalog is where the rating aggregate is cached.
type Catalog interface {
	GetProductByID(ctx context.Context, id string) (products.Product, error)
	UpdateRating(ctx context.Context, id string, r products.Rating) error
}

type Purchases interface {
	HasPurchased(ctx context.Context, userID, productID string) (bool, error)
}

type Service struct {
	store     Store
	catalog   Catalog
	purchases Purchases
	validate  *validator.Validate
	now       func() time.Time
}

func NewService(store Store, catalog Catalog, purchases Purchases) *Service {
	return &Service{
		store:     store,
		catalog:   catalog,
		purchases: purchases,
		validate:  apperr.NewValidator(),
		now:       time.Now,
	}
}

// CreateReview stores a review awaiting moderation. It is marked as a
// verified purchase when the author has received the product.
func (s *Service) CreateReview(ctx context.Context, user auth.Claims, in NewReview) (Review, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Comment = strings.TrimSpace(in.Comment)
	if err := s.validate.Struct(in); err != nil {
		return Review{}, apperr.FromValidator("Invalid review", err)
	}
	if in.Title == "" && in.Comment == "" {
		return Review{}, apperr.Validation("Either title or comment is required")
	}
	if _, err := s.catalog.GetProductByID(ctx, in.ProductID); err != nil {
		if errors.Is(err, products.ErrNotFound) {
			return Review{}, apperr.NotFound("Product not found")
		}
		return Review{}, err
	}

	verified, err := s.purchases.HasPurchased(ctx, user.Subject, in.ProductID)
	if err != nil {
		slog.Error("purchase lookup failed", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
			slog.String(logkey.ProductID, in.ProductID), slog.String(logkey.ERROR, err.Error()))
	}

	r, err := s.store.InsertReview(ctx, Review{
		ID:                 uuid.NewString(),
		UserID:             user.Subject,
		ProductID:          in.ProductID,
		Rating:             in.Rating,
		Title:              in.Title,
		Comment:            in.Comment,
		IsVerifiedPurchase: verified,
		Status:             StatusPending,
		CreatedAt:          s.now().UTC(),
	})
	if errors.Is(err, ErrDuplicate) {
		return Review{}, apperr.Conflict("You have already reviewed this product")
	}
	return r, err
}

func page(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return limit, max(offset, 0)
}

// ProductReviews lists the reviews shoppers can see.
func (s *Service) ProductReviews(ctx context.Context, productID string, limit, offset int) ([]Review, error) {
	f := Filter{ProductID: productID, Status: StatusApproved, VisibleOnly: true}
	f.Limit, f.Offset = page(limit, offset)
	return s.list(ctx, f)
}

// ProductRating returns the cached aggregate of a product.
func (s *Service) ProductRating(ctx context.Context, productID string) (products.Rating, error) {
	p, err := s.catalog.GetProductByID(ctx, productID)
	if errors.Is(err, products.ErrNotFound) {
		return products.Rating{}, apperr.NotFound("Product not found")
	}
	if err != nil {
		return products.Rating{}, err
	}
	if p.Rating.Histogram == nil {
		return Summarize(nil), nil
	}
	return p.Rating, nil
}

// ModerationQueue lists reviews for admins, optionally by status.
func (s *Service) ModerationQueue(ctx context.Context, status string, limit, offset int) ([]Review, error) {
	var f Filter
	if status != "" {
		st, ok := ParseStatus(status)
		if !ok {
			return nil, apperr.Validation(fmt.Sprintf("Invalid status %q", status))
		}
		f.Status = st
	}
	f.Limit, f.Offset = page(limit, offset)
	return s.list(ctx, f)
}

func (s *Service) list(ctx context.Context, f Filter) ([]Review, error) {
	list, err := s.store.ListReviews(ctx, f)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []Review{}
	}
	return list, nil
}

func (s *Service) get(ctx context.Context, id string) (Review, error) {
	r, err := s.store.GetReview(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Review{}, apperr.NotFound("Review not found")
	}
	return r, err
}

func (s *Service) MarkHelpful(ctx context.Context, user auth.Claims, id string) (Review, error) {
	r, err := s.get(ctx, id)
	if err != nil {
		return Review{}, err
	}
	if r.UserID == user.Subject {
		return Review{}, apperr.Validation("You cannot vote on your own review")
	}
	r, err = s.store.AddVote(ctx, id, user.Subject)
	if errors.Is(err, ErrAlreadyVoted) {
		return Review{}, apperr.Conflict("You have already marked this review as helpful")
	}
	return r, err
}

// Report records a user's report. The review is flagged and hidden once it
// collects AutoFlagThreshold reports, whatever its current status.
func (s *Service) Report(ctx context.Context, user auth.Claims, id string, in Report) (Review, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if err := s.validate.Struct(in); err != nil {
		return Review{}, apperr.FromValidator("Invalid report", err)
	}
	if _, err := s.get(ctx, id); err != nil {
		return Review{}, err
	}
	r, flagged, err := s.store.AddReport(ctx, id, user.Subject, in.Reason, s.now().UTC())
	if errors.Is(err, ErrAlreadyReported) {
		return Review{}, apperr.Conflict("You have already reported this review")
	}
	if err != nil {
		return Review{}, err
	}
	if flagged {
		slog.Info("review auto-flagged", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
			slog.String(logkey.ReviewID, r.ID), slog.Int("Reports", r.ReportCount))
		s.refreshRating(ctx, r.ProductID)
	}
	return r, nil
}

// Moderate sets a review's moderation status on behalf of an admin.
// Rejecting or flagging needs a reason.
func (s *Service) Moderate(ctx context.Context, admin auth.Claims, id string, in Moderation) (Review, error) {
	if err := auth.RequireRole(admin, auth.RoleAdmin); err != nil {
		return Review{}, apperr.Forbidden("Admin access required")
	}
	if err := s.validate.Struct(in); err != nil {
		return Review{}, apperr.FromValidator("Invalid moderation", err)
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" && (in.Status == StatusRejected || in.Status == StatusFlagged) {
		return Review{}, apperr.Validation("Reason is required for rejection or flagging")
	}
	if utf8.RuneCountInString(in.Reason) > MaxReasonLength {
		return Review{}, apperr.Validation(fmt.Sprintf("Reason must be at most %d characters", MaxReasonLength))
	}

	r, err := s.get(ctx, id)
	if err != nil {
		return Review{}, err
	}
	wasVisible := r.IsVisible
	r.setStatus(in.Status, in.Reason, admin.Subject, s.now().UTC())
	if err := s.store.SaveModeration(ctx, r); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Review{}, apperr.NotFound("Review not found")
		}
		return Review{}, err
	}
	if wasVisible != r.IsVisible {
		s.refreshRating(ctx, r.ProductID)
	}
	return r, nil
}

// refreshRating recomputes the product aggregate from visible reviews. A
// failure leaves the previous aggregate in place until the next change.
func (s *Service) refreshRating(ctx context.Context, productID string) {
	traceId := ctxmanage.GetTraceId(ctx)
	counts, err := s.store.StarCounts(ctx, productID)
	if err != nil {
		slog.Error("failed to count ratings", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.ProductID, productID), slog.String(logkey.ERROR, err.Error()))
		return
	}
	if err := s.catalog.UpdateRating(ctx, productID, Summarize(counts)); err != nil {
		slog.Error("failed to update product rating", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.ProductID, productID), slog.String(logkey.ERROR, err.Error()))
	}
}
