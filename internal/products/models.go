package products

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound     = errors.New("product not found")
	ErrImageLimit   = errors.New("product image limit reached")
	ErrDuplicateSKU = errors.New("duplicate variant sku")
)

const MaxImages = 10

type Variant struct {
	ID            string           `json:"id"`
	Size          string           `json:"size,omitempty"`
	Color         string           `json:"color,omitempty"`
	SKU           string           `json:"sku"`
	PriceOverride *decimal.Decimal `json:"priceOverride,omitempty"`
	Inventory     int              `json:"inventory"`
}

// Histogram counts approved reviews per star rating (1 to 5).
type Histogram map[int]int

type Rating struct {
	Average   float64   `json:"average"`
	Count     int       `json:"count"`
	Histogram Histogram `json:"histogram"`
}

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Images      []string        `json:"images"`
	Thumbnail   string          `json:"thumbnail,omitempty"`
	Category    string          `json:"category"`
	Brand       string          `json:"brand,omitempty"`
	Inventory   int             `json:"inventory"`
	Variants    []Variant       `json:"variants,omitempty"`
	IsActive    bool            `json:"isActive"`
	Rating      Rating          `json:"rating"`
	SearchText  string          `json:"-"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (p Product) HasVariants() bool {
	return len(p.Variants) > 0
}

func (p Product) Variant(id string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// TotalInventory is the sum over variants when the product has any, the base
// inventory otherwise.
func (p Product) TotalInventory() int {
	if !p.HasVariants() {
		return p.Inventory
	}
	total := 0
	for _, v := range p.Variants {
		total += v.Inventory
	}
	return total
}

// UnitPrice is the price charged for one unit of the given variant. An empty
// or unknown variant id yields the base price.
func (p Product) UnitPrice(variantID string) decimal.Decimal {
	if v, ok := p.Variant(variantID); ok && v.PriceOverride != nil {
		return *v.PriceOverride
	}
	return p.Price
}

// PrimaryImage is the first image, used for cart and order snapshots.
func (p Product) PrimaryImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

type NewVariant struct {
	ID            string           `json:"id,omitempty"`
	Size          string           `json:"size"`
	Color         string           `json:"color"`
	SKU           string           `json:"sku" validate:"required"`
	PriceOverride *decimal.Decimal `json:"priceOverride,omitempty"`
	Inventory     int              `json:"inventory" validate:"min=0"`
}

type NewProduct struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Images      []string        `json:"images" validate:"min=1,max=10,dive,required,url"`
	Category    string          `json:"category" validate:"required"`
	Brand       string          `json:"brand"`
	Inventory   int             `json:"inventory" validate:"min=0"`
	Variants    []NewVariant    `json:"variants" validate:"dive"`
}

type Filter struct {
	Query    string
	Category string
	Limit    int
	Offset   int
}

// BuildSearchText is the denormalised lower-case text searched by catalog queries.
func BuildSearchText(p Product) string {
	parts := []string{p.Name, p.Description, p.Category, p.Brand}
	for _, v := range p.Variants {
		parts = append(parts, v.Color, v.Size, v.SKU)
	}
	var b strings.Builder
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.ToLower(part))
	}
	return b.String()
}
