package handlers

import (
	"log/slog"
	"net/http"
	"storefront/internal/apperr"
	"storefront/internal/orders"
	"storefront/pkg/ctxmanage"
	"storefront/pkg/logkey"

	"github.com/gin-gonic/gin"
)

type orderQuery struct {
	page
	Status        string `form:"status"`
	PaymentStatus string `form:"paymentStatus"`
	UserID        string `form:"userId"`
}

func (q orderQuery) filter() (orders.Filter, error) {
	f := orders.Filter{UserID: q.UserID, Limit: q.Limit, Offset: q.Offset}
	if q.Status != "" {
		st, ok := orders.ParseStatus(q.Status)
		if !ok {
			return f, apperr.Validation("Unknown order status " + q.Status)
		}
		f.Status = st
	}
	if q.PaymentStatus != "" {
		ps, ok := orders.ParsePaymentStatus(q.PaymentStatus)
		if !ok {
			return f, apperr.Validation("Unknown payment status " + q.PaymentStatus)
		}
		f.PaymentStatus = ps
	}
	return f, nil
}

func (h *Handler) CreateOrder(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var in orders.CreateOrderInput
	if !bindJSON(c, &in) {
		return
	}
	res, err := h.svc.Orders.CreateOrder(c.Request.Context(), claims.Subject, in)
	if err != nil {
		respondError(c, err)
		return
	}
	if !res.OK() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Order validation failed", "details": res.Errors})
		return
	}
	slog.Info("order created", slog.String(logkey.TraceID, traceId),
		slog.String(logkey.UserID, claims.Subject), slog.String(logkey.OrderID, res.Order.ID))
	c.JSON(http.StatusCreated, gin.H{"order": res.Order})
}

func (h *Handler) GetOrder(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	o, err := h.svc.Orders.GetOrder(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}

// ListMyOrders lists the caller's own orders; a userId query is ignored.
func (h *Handler) ListMyOrders(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var q orderQuery
	if !bindQuery(c, &q) {
		return
	}
	f, err := q.filter()
	if err != nil {
		respondError(c, err)
		return
	}
	f.UserID = claims.Subject
	list, err := h.svc.Orders.ListOrders(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (h *Handler) ListAllOrders(c *gin.Context) {
	var q orderQuery
	if !bindQuery(c, &q) {
		return
	}
	f, err := q.filter()
	if err != nil {
		respondError(c, err)
		return
	}
	list, err := h.svc.Orders.ListOrders(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var req struct {
		Status       string `json:"status" binding:"required"`
		CancelReason string `json:"cancelReason"`
		Reason       string `json:"reason"`
	}
	if !bindJSON(c, &req) {
		return
	}
	to, valid := orders.ParseStatus(req.Status)
	if !valid {
		respondError(c, apperr.Validation("Unknown order status "+req.Status))
		return
	}
	reason := req.CancelReason
	if reason == "" {
		reason = req.Reason
	}
	o, err := h.svc.Orders.UpdateOrderStatus(c.Request.Context(), claims, c.Param("id"), to, reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o})
}
