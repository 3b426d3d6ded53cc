package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/cart"
	"storefront/internal/inventory"
	"storefront/internal/orders"
	"storefront/internal/payments"
	"storefront/internal/products"
	"storefront/internal/refunds"
	"storefront/internal/reviews"
	"storefront/internal/users"
	"storefront/middleware"
	"storefront/pkg/ctxmanage"
	"storefront/pkg/logkey"

	"github.com/gin-gonic/gin"
)

// Services are the domain services the HTTP API is built on.
type Services struct {
	Users    *users.Service
	Products *products.Service
	Stock    inventory.Stock
	Carts    *cart.Service
	Orders   *orders.Service
	Payments *payments.Service
	Refunds  *refunds.Service
	Reviews  *reviews.Service
}

// Webhooks holds the secrets gateway callbacks are verified with. A route
// without a secret rejects every callback unless AllowUnsigned is set.
type Webhooks struct {
	PaystackSecret string
	StripeSecret   string
	AllowUnsigned  bool
}

type Handler struct {
	svc      Services
	webhooks Webhooks
}

func NewHandler(svc Services, webhooks Webhooks) *Handler {
	return &Handler{svc: svc, webhooks: webhooks}
}

func API(endpointPrefix string, a *auth.Keys, svc Services, webhooks Webhooks) (*gin.Engine, error) {
	mode := os.Getenv("GIN_MODE")
	if mode == gin.ReleaseMode || mode == gin.TestMode {
		gin.SetMode(mode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	m, err := middleware.NewMid(a)
	if err != nil {
		return nil, err
	}
	h := NewHandler(svc, webhooks)

	r := gin.New()
	r.Use(middleware.Logger(), gin.Recovery())
	r.GET("/ping", HealthCheck)

	api := r.Group(endpointPrefix)

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
		authGroup.GET("/me", m.Authentication(), h.Me)
	}

	catalog := api.Group("/products")
	{
		catalog.GET("", h.ListProducts)
		catalog.GET("/:id", h.GetProduct)
		catalog.GET("/:id/reviews", h.ProductReviews)
		catalog.GET("/:id/rating", h.ProductRating)
	}

	shopping := api.Group("")
	shopping.Use(m.OptionalAuthentication(), middleware.GuestSession())
	{
		shopping.GET("/cart", h.GetCart)
		shopping.POST("/cart/add", h.AddToCart)
		shopping.PUT("/cart/items/:itemId", h.UpdateCartItem)
		shopping.DELETE("/cart/items/:itemId", h.RemoveCartItem)
		shopping.DELETE("/cart", h.ClearCart)
		shopping.POST("/cart/validate", h.ValidateCart)
		shopping.POST("/cart/merge", m.Authorize(h.MergeCart, auth.RoleUser))
	}

	api.POST("/payments/webhook", h.PaystackWebhook)
	api.POST("/payments/webhook/stripe", h.StripeWebhook)

	member := api.Group("")
	member.Use(m.Authentication())
	{
		member.POST("/users/me/addresses", m.Authorize(h.AddAddress, auth.RoleUser))

		member.GET("/wishlist", m.Authorize(h.GetWishlist, auth.RoleUser))
		member.POST("/wishlist", m.Authorize(h.AddToWishlist, auth.RoleUser))
		member.DELETE("/wishlist/:productId", m.Authorize(h.RemoveFromWishlist, auth.RoleUser))

		member.GET("/orders", m.Authorize(h.ListMyOrders, auth.RoleUser))
		member.POST("/orders", m.Authorize(h.CreateOrder, auth.RoleUser))
		member.GET("/orders/:id", m.Authorize(h.GetOrder, auth.RoleUser))
		member.PUT("/orders/:id/status", m.Authorize(h.UpdateOrderStatus, auth.RoleUser))
		member.POST("/orders/:id/refund-request", m.Authorize(h.RequestRefund, auth.RoleUser))

		member.POST("/payments/initialize", m.Authorize(h.InitializePayment, auth.RoleUser))
		member.GET("/payments/verify/:reference", m.Authorize(h.VerifyPayment, auth.RoleUser))

		member.POST("/reviews", m.Authorize(h.CreateReview, auth.RoleUser))
		member.POST("/reviews/:id/helpful", m.Authorize(h.MarkReviewHelpful, auth.RoleUser))
		member.POST("/reviews/:id/report", m.Authorize(h.ReportReview, auth.RoleUser))
	}

	admin := api.Group("/admin")
	admin.Use(m.Authentication(), m.RequireRole(auth.RoleAdmin))
	{
		admin.PUT("/users/:id/role", h.SetUserRole)

		admin.POST("/products", h.CreateProduct)
		admin.PUT("/products/:id", h.UpdateProduct)
		admin.DELETE("/products/:id", h.DeleteProduct)
		admin.POST("/products/:id/restock", h.RestockProduct)
		admin.POST("/products/:id/images", h.UploadProductImage)

		admin.GET("/orders", h.ListAllOrders)
		admin.POST("/orders/:id/refund", h.InstantRefund)

		admin.GET("/refunds", h.ListRefundRequests)
		admin.PUT("/refunds/:id", h.ReviewRefundRequest)

		admin.GET("/reviews", h.ModerationQueue)
		admin.PUT("/reviews/:id/moderate", h.ModerateReview)
	}

	return r, nil
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError writes err as a JSON error body. Unclassified errors are
// logged and hidden behind a generic message.
func respondError(c *gin.Context, err error) {
	traceId := ctxmanage.GetTraceIdOfRequest(c)
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind == apperr.KindInternal {
		slog.Error("request failed", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if appErr.Kind == apperr.KindUpstream {
		slog.Error("upstream failure", slog.String(logkey.TraceID, traceId), slog.String(logkey.ERROR, err.Error()))
	}
	body := gin.H{"error": appErr.Message}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), body)
}

// bindJSON decodes the request body into v, answering 400 when it cannot.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		slog.Error("invalid request body", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)),
			slog.String(logkey.ERROR, err.Error()))
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return false
	}
	return true
}

func bindQuery(c *gin.Context, v any) bool {
	if err := c.ShouldBindQuery(v); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return false
	}
	return true
}

func claimsOf(c *gin.Context) (auth.Claims, bool) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok {
		slog.Error("claims not found", slog.String(logkey.TraceID, ctxmanage.GetTraceIdOfRequest(c)))
		respondError(c, apperr.Unauthorized("Authentication required"))
	}
	return claims, ok
}

type page struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}
