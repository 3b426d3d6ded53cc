// Package inventory owns product and variant stock counters.
package inventory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"storefront/internal/products"
)

var ErrInsufficientStock = errors.New("insufficient stock")

const (
	ReasonProductNotFound = "Product not found"
	ReasonVariantNotFound = "Variant not found"
	ReasonInactive        = "Product is no longer available"
	ReasonOutOfStock      = "Out of stock"
)

// Line is a quantity of one product, or one variant of it.
type Line struct {
	ProductID string
	VariantID string
	Quantity  int
}

type Availability struct {
	Available bool   `json:"available"`
	InStock   int    `json:"inStock"`
	Reason    string `json:"reason,omitempty"`
}

// Stock is what the cart, order and refund workflows need from the ledger.
type Stock interface {
	CheckAvailability(ctx context.Context, productID string, quantity int, variantID string) (Availability, error)
	Restore(ctx context.Context, lines []Line) error
	Restock(ctx context.Context, productID, variantID string, quantity int) error
}

// Evaluate decides whether quantity units of p (or of its variant) can be
// sold. It reads only the given snapshot.
func Evaluate(p products.Product, quantity int, variantID string) Availability {
	if !p.IsActive {
		return Availability{Reason: ReasonInactive}
	}
	stock := p.TotalInventory()
	if variantID != "" {
		v, ok := p.Variant(variantID)
		if !ok {
			return Availability{Reason: ReasonVariantNotFound}
		}
		stock = v.Inventory
	}
	if stock <= 0 {
		return Availability{Reason: ReasonOutOfStock}
	}
	if quantity > stock {
		return Availability{InStock: stock, Reason: fmt.Sprintf("Only %d item(s) available", stock)}
	}
	return Availability{Available: true, InStock: stock}
}

// Consolidate merges lines for the same product and variant and orders them
// so concurrent reservations lock rows in the same sequence.
func Consolidate(lines []Line) []Line {
	type key struct{ product, variant string }
	sums := make(map[key]int, len(lines))
	var order []key
	for _, l := range lines {
		k := key{l.ProductID, l.VariantID}
		if _, ok := sums[k]; !ok {
			order = append(order, k)
		}
		sums[k] += l.Quantity
	}

	out := make([]Line, 0, len(order))
	for _, k := range order {
		out = append(out, Line{ProductID: k.product, VariantID: k.variant, Quantity: sums[k]})
	}
	slices.SortFunc(out, func(a, b Line) int {
		return cmp.Or(cmp.Compare(a.ProductID, b.ProductID), cmp.Compare(a.VariantID, b.VariantID))
	})
	return out
}
