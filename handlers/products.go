package handlers

import (
	"net/http"
	"storefront/internal/apperr"
	"storefront/internal/products"
	"storefront/internal/stores/objectstore"

	"github.com/gin-gonic/gin"
)

func (h *Handler) ListProducts(c *gin.Context) {
	var q struct {
		page
		Query    string `form:"q"`
		Category string `form:"category"`
	}
	if !bindQuery(c, &q) {
		return
	}
	list, err := h.svc.Products.List(c.Request.Context(), products.Filter{
		Query:    q.Query,
		Category: q.Category,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": list})
}

func (h *Handler) GetProduct(c *gin.Context) {
	p, err := h.svc.Products.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": p})
}

func (h *Handler) CreateProduct(c *gin.Context) {
	var np products.NewProduct
	if !bindJSON(c, &np) {
		return
	}
	p, err := h.svc.Products.Create(c.Request.Context(), np)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"product": p})
}

func (h *Handler) UpdateProduct(c *gin.Context) {
	var np products.NewProduct
	if !bindJSON(c, &np) {
		return
	}
	p, err := h.svc.Products.Update(c.Request.Context(), c.Param("id"), np)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": p})
}

func (h *Handler) DeleteProduct(c *gin.Context) {
	if err := h.svc.Products.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) RestockProduct(c *gin.Context) {
	var req struct {
		VariantID string `json:"variantId"`
		Quantity  int    `json:"quantity"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if req.Quantity < 1 {
		respondError(c, apperr.Validation("Quantity must be at least 1"))
		return
	}
	ctx := c.Request.Context()
	p, err := h.svc.Products.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if req.VariantID != "" {
		if _, ok := p.Variant(req.VariantID); !ok {
			respondError(c, apperr.NotFound("Variant not found"))
			return
		}
	} else if p.HasVariants() {
		respondError(c, apperr.Validation("variantId is required for products with variants"))
		return
	}
	if err := h.svc.Stock.Restock(ctx, p.ID, req.VariantID, req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	p, err = h.svc.Products.Get(ctx, p.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": p})
}

func (h *Handler) UploadProductImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, objectstore.MaxObjectSize+1<<20)
	fh, err := c.FormFile("image")
	if err != nil {
		respondError(c, apperr.Validation("An image file is required in the \"image\" field"))
		return
	}
	if fh.Size > objectstore.MaxObjectSize {
		respondError(c, apperr.Validation("Image is too large"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	p, err := h.svc.Products.UploadImage(c.Request.Context(), c.Param("id"), fh.Filename, fh.Header.Get("Content-Type"), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"product": p})
}
