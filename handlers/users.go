package handlers

import (
	"log/slog"
	"net/http"
	"storefront/internal/users"
	"storefront/middleware"
	"storefront/pkg/ctxmanage"
	"storefront/pkg/logkey"

	"github.com/gin-gonic/gin"
)

func (h *Handler) Register(c *gin.Context) {
	var nu users.NewUser
	if !bindJSON(c, &nu) {
		return
	}
	u, err := h.svc.Users.Register(c.Request.Context(), nu)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": u})
}

// Login issues a token. A guest cart found in the session cookie is merged
// into the user's cart; a failed merge never fails the login.
func (h *Handler) Login(c *gin.Context) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	var creds users.Credentials
	if !bindJSON(c, &creds) {
		return
	}
	ctx := c.Request.Context()
	token, u, err := h.svc.Users.Login(ctx, creds)
	if err != nil {
		respondError(c, err)
		return
	}

	if sessionID, err := c.Cookie(middleware.GuestCookieName); err == nil && sessionID != "" {
		if _, err := h.svc.Carts.MergeGuestCart(ctx, sessionID, u.ID); err != nil {
			slog.Error("guest cart merge failed", slog.String(logkey.TraceID, traceId),
				slog.String(logkey.UserID, u.ID), slog.String(logkey.ERROR, err.Error()))
		}
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": u})
}

func (h *Handler) Me(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	u, err := h.svc.Users.Me(c.Request.Context(), claims.Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *Handler) AddAddress(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var a users.Address
	if !bindJSON(c, &a) {
		return
	}
	u, err := h.svc.Users.AddAddress(c.Request.Context(), claims.Subject, a)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": u})
}

func (h *Handler) SetUserRole(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var req struct {
		Role users.Role `json:"role"`
	}
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.svc.Users.SetRole(c.Request.Context(), claims, c.Param("id"), req.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *Handler) GetWishlist(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	items, err := h.svc.Users.Wishlist(c.Request.Context(), claims.Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) AddToWishlist(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	var req struct {
		ProductID string `json:"productId" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	items, err := h.svc.Users.AddToWishlist(c.Request.Context(), claims.Subject, req.ProductID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) RemoveFromWishlist(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	items, err := h.svc.Users.RemoveFromWishlist(c.Request.Context(), claims.Subject, c.Param("productId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
