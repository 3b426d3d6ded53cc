package storetest

import (
	"context"
	"storefront/internal/products"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AddProduct stores an active product without variants.
func (db *DB) AddProduct(name, price string, stock int) products.Product {
	p := products.Product{
		ID:        uuid.NewString(),
		Name:      name,
		Price:     decimal.RequireFromString(price),
		Images:    []string{"https://cdn.example.com/" + name + ".jpg"},
		Category:  "apparel",
		Inventory: stock,
		IsActive:  true,
	}
	p.SearchText = products.BuildSearchText(p)
	out, _ := db.InsertProduct(context.Background(), p)
	return out
}

// AddVariantProduct stores an active product with one variant per entry in
// stock, keyed by size.
func (db *DB) AddVariantProduct(name, price string, stock map[string]int) products.Product {
	p := products.Product{
		ID:       uuid.NewString(),
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Images:   []string{"https://cdn.example.com/" + name + ".jpg"},
		Category: "apparel",
		IsActive: true,
	}
	for _, size := range []string{"XS", "S", "M", "L", "XL"} {
		n, ok := stock[size]
		if !ok {
			continue
		}
		p.Variants = append(p.Variants, products.Variant{
			ID:        uuid.NewString(),
			Size:      size,
			Color:     "black",
			SKU:       name + "-" + size,
			Inventory: n,
		})
	}
	p.SearchText = products.BuildSearchText(p)
	out, _ := db.InsertProduct(context.Background(), p)
	return out
}

// VariantID returns the id of the variant with the given size.
func VariantID(p products.Product, size string) string {
	for _, v := range p.Variants {
		if v.Size == size {
			return v.ID
		}
	}
	return ""
}
