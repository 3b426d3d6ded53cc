package handlers

import (
	"net/http"
	"storefront/internal/reviews"

	"github.com/gin-gonic/gin"
)

func (h *Handler) ProductReviews(c *gin.Context) {
	var q page
	if !bindQuery(c, &q) {
		return
	}
	list, err := h.svc.Reviews.ProductReviews(c.Request.Context(), c.Param("id"), q.Limit, q.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": list})
}

func (h *Handler) ProductRating(c *gin.Context) {
	r, err := h.svc.Reviews.ProductRating(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rating": r})
}

func (h *Handler) CreateReview(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var in reviews.NewReview
	if !bindJSON(c, &in) {
		return
	}
	r, err := h.svc.Reviews.CreateReview(c.Request.Context(), claims, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"review": r})
}

func (h *Handler) MarkReviewHelpful(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	r, err := h.svc.Reviews.MarkHelpful(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"review": r})
}

func (h *Handler) ReportReview(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var in reviews.Report
	if c.Request.ContentLength != 0 && !bindJSON(c, &in) {
		return
	}
	r, err := h.svc.Reviews.Report(c.Request.Context(), claims, c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"review": r})
}

func (h *Handler) ModerationQueue(c *gin.Context) {
	var q struct {
		page
		Status string `form:"status"`
	}
	if !bindQuery(c, &q) {
		return
	}
	list, err := h.svc.Reviews.ModerationQueue(c.Request.Context(), q.Status, q.Limit, q.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": list})
}

func (h *Handler) ModerateReview(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var in reviews.Moderation
	if !bindJSON(c, &in) {
		return
	}
	r, err := h.svc.Reviews.Moderate(c.Request.Context(), claims, c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"review": r})
}
