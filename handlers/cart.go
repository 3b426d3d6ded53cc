package handlers

import (
	"net/http"
	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/cart"
	"storefront/middleware"

	"github.com/gin-gonic/gin"
)

// cartOwner is the signed-in user when there is one, otherwise the guest
// session.
func cartOwner(c *gin.Context) cart.Owner {
	ctx := c.Request.Context()
	if claims, ok := auth.ClaimsFromContext(ctx); ok && claims.Subject != "" {
		return cart.UserOwner(claims.Subject)
	}
	return cart.GuestOwner(middleware.GuestSessionID(ctx))
}

func (h *Handler) GetCart(c *gin.Context) {
	ct, err := h.svc.Carts.GetCart(c.Request.Context(), cartOwner(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": ct})
}

func (h *Handler) AddToCart(c *gin.Context) {
	var in cart.AddItemInput
	if !bindJSON(c, &in) {
		return
	}
	ct, err := h.svc.Carts.AddItem(c.Request.Context(), cartOwner(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": ct})
}

func (h *Handler) UpdateCartItem(c *gin.Context) {
	var req struct {
		Quantity *int `json:"quantity"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if req.Quantity == nil {
		respondError(c, apperr.Validation("quantity is required"))
		return
	}
	ct, err := h.svc.Carts.UpdateQuantity(c.Request.Context(), cartOwner(c), c.Param("itemId"), *req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": ct})
}

func (h *Handler) RemoveCartItem(c *gin.Context) {
	ct, err := h.svc.Carts.RemoveItem(c.Request.Context(), cartOwner(c), c.Param("itemId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": ct})
}

func (h *Handler) ClearCart(c *gin.Context) {
	if err := h.svc.Carts.Clear(c.Request.Context(), cartOwner(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Cart cleared"})
}

func (h *Handler) ValidateCart(c *gin.Context) {
	res, err := h.svc.Carts.ValidateCart(c.Request.Context(), cartOwner(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":        res.Valid(),
		"cart":         res.Cart,
		"removedItems": res.RemovedItems,
		"updatedItems": res.UpdatedItems,
		"errors":       res.Errors,
	})
}

// MergeCart folds the current guest session's cart into the caller's cart.
func (h *Handler) MergeCart(c *gin.Context) {
	claims, ok := claimsOf(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	ct, err := h.svc.Carts.MergeGuestCart(ctx, middleware.GuestSessionID(ctx), claims.Subject)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": ct})
}
