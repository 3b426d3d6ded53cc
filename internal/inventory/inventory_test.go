package inventory

import (
	"testing"

	"storefront/internal/products"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	plain := products.Product{ID: "p1", IsActive: true, Inventory: 3}
	withVariants := products.Product{ID: "p2", IsActive: true, Variants: []products.Variant{
		{ID: "v1", SKU: "S-RED", Inventory: 2},
		{ID: "v2", SKU: "M-RED", Inventory: 0},
	}}

	cases := []struct {
		name    string
		product products.Product
		qty     int
		variant string
		want    Availability
	}{
		{"enough", plain, 3, "", Availability{Available: true, InStock: 3}},
		{"too many", plain, 4, "", Availability{InStock: 3, Reason: "Only 3 item(s) available"}},
		{"inactive", products.Product{Inventory: 5}, 1, "", Availability{Reason: ReasonInactive}},
		{"out of stock", products.Product{IsActive: true}, 1, "", Availability{Reason: ReasonOutOfStock}},
		{"variant", withVariants, 2, "v1", Availability{Available: true, InStock: 2}},
		{"variant sold out", withVariants, 1, "v2", Availability{Reason: ReasonOutOfStock}},
		{"unknown variant", withVariants, 1, "v9", Availability{Reason: ReasonVariantNotFound}},
		{"variant total", withVariants, 2, "", Availability{Available: true, InStock: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Evaluate(tc.product, tc.qty, tc.variant))
		})
	}
}

func TestConsolidate(t *testing.T) {
	got := Consolidate([]Line{
		{ProductID: "b", Quantity: 1},
		{ProductID: "a", VariantID: "v2", Quantity: 2},
		{ProductID: "b", Quantity: 4},
		{ProductID: "a", VariantID: "v1", Quantity: 1},
	})
	assert.Equal(t, []Line{
		{ProductID: "a", VariantID: "v1", Quantity: 1},
		{ProductID: "a", VariantID: "v2", Quantity: 2},
		{ProductID: "b", Quantity: 5},
	}, got)
}
