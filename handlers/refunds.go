package handlers

import (
	"net/http"
	"storefront/internal/refunds"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// InstantRefund refunds a paid order on the admin's initiative. Without an
// amount the whole remaining total is refunded.
func (h *Handler) InstantRefund(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var req struct {
		Amount *decimal.Decimal `json:"amount"`
		Reason string           `json:"reason"`
	}
	if !bindJSON(c, &req) {
		return
	}
	o, err := h.svc.Refunds.InstantRefund(c.Request.Context(), claims, c.Param("id"), req.Amount, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

func (h *Handler) RequestRefund(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var in refunds.NewRequest
	if !bindJSON(c, &in) {
		return
	}
	r, err := h.svc.Refunds.RequestRefund(c.Request.Context(), claims, c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"refundRequest": r})
}

func (h *Handler) ListRefundRequests(c *gin.Context) {
	list, err := h.svc.Refunds.ListRequests(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refundRequests": list})
}

func (h *Handler) ReviewRefundRequest(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var in refunds.Review
	if !bindJSON(c, &in) {
		return
	}
	r, err := h.svc.Refunds.ReviewRefundRequest(c.Request.Context(), claims, c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refundRequest": r})
}
