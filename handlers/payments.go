package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"storefront/internal/payments"
	"storefront/pkg/ctxmanage"
	"storefront/pkg/logkey"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 64 << 10

func (h *Handler) InitializePayment(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var req struct {
		OrderID     string `json:"orderId" binding:"required"`
		CallbackURL string `json:"callbackUrl"`
	}
	if !bindJSON(c, &req) {
		return
	}
	resp, err := h.svc.Payments.InitializePayment(c.Request.Context(), claims, req.OrderID, req.CallbackURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) VerifyPayment(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	o, err := h.svc.Payments.VerifyPayment(c.Request.Context(), claims, c.Param("reference"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

func (h *Handler) webhookEnabled(c *gin.Context, secret string) bool {
	if secret == "" && !h.webhooks.AllowUnsigned {
		slog.Error("webhook received without a configured secret", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return false
	}
	return true
}

func readWebhookBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Unreadable webhook body"})
		return nil, false
	}
	return body, true
}

// PaystackWebhook verifies the HMAC signature over the raw body before
// anything is decoded.
func (h *Handler) PaystackWebhook(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	if !h.webhookEnabled(c, h.webhooks.PaystackSecret) {
		return
	}
	body, ok := readWebhookBody(c)
	if !ok {
		return
	}
	if !payments.VerifyWebhookSignature(body, c.GetHeader("x-paystack-signature"), h.webhooks.PaystackSecret) {
		slog.Error("webhook signature mismatch", slog.String(logkey.TraceID, traceId))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}
	n, err := payments.ParsePaystackEvent(body)
	if err != nil {
		slog.Error("undecodable webhook", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook payload"})
		return
	}
	h.applyNotification(c, n)
}

func (h *Handler) StripeWebhook(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	if !h.webhookEnabled(c, h.webhooks.StripeSecret) {
		return
	}
	body, ok := readWebhookBody(c)
	if !ok {
		return
	}
	n, err := payments.ParseStripeEvent(body, c.GetHeader("Stripe-Signature"), h.webhooks.StripeSecret)
	if err != nil {
		slog.Error("stripe webhook rejected", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		if errors.Is(err, payments.ErrInvalidSignature) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook payload"})
		return
	}
	h.applyNotification(c, n)
}

// applyNotification acknowledges every notification except those that failed
// for reasons a redelivery could fix.
func (h *Handler) applyNotification(c *gin.Context, n payments.Notification) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	outcome, err := h.svc.Payments.HandleNotification(c.Request.Context(), n)
	if payments.Retryable(err) {
		slog.Error("webhook processing failed", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.Reference, n.Reference), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Webhook processing failed"})
		return
	}
	if err != nil {
		slog.Info("webhook not applied", slog.String(logkey.TraceID, traceId),
			slog.String(logkey.Reference, n.Reference), slog.String(logkey.ERROR, err.Error()))
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
}
