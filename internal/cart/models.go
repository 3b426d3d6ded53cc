package cart

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("cart not found")

const MaxQuantity = 99

// Owner identifies a cart by exactly one of a user id or a guest session id.
type Owner struct {
	UserID    string
	SessionID string
}

func UserOwner(userID string) Owner     { return Owner{UserID: userID} }
func GuestOwner(sessionID string) Owner { return Owner{SessionID: sessionID} }
func (o Owner) Valid() bool             { return (o.UserID == "") != (o.SessionID == "") }
func (o Owner) IsGuest() bool           { return o.SessionID != "" }

type Item struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
	AddedAt   time.Time       `json:"addedAt"`
}

func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Cart struct {
	ID        string          `json:"id,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Items     []Item          `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	ItemCount int             `json:"itemCount"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (c Cart) Owner() Owner {
	return Owner{UserID: c.UserID, SessionID: c.SessionID}
}

// Recalculate refreshes the derived subtotal and item count.
func (c *Cart) Recalculate() {
	c.Subtotal = decimal.Zero
	c.ItemCount = 0
	for _, it := range c.Items {
		c.Subtotal = c.Subtotal.Add(it.LineTotal())
		c.ItemCount += it.Quantity
	}
	if c.Items == nil {
		c.Items = []Item{}
	}
}

func (c *Cart) find(productID, variantID string) int {
	for i, it := range c.Items {
		if it.ProductID == productID && it.VariantID == variantID {
			return i
		}
	}
	return -1
}

func (c *Cart) findItem(itemID string) int {
	for i, it := range c.Items {
		if it.ID == itemID {
			return i
		}
	}
	return -1
}

func (c *Cart) remove(i int) {
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
}

type AddItemInput struct {
	ProductID string `json:"productId" validate:"required"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

// ItemChange describes a line adjusted by ValidateCart.
type ItemChange struct {
	ItemID      string          `json:"itemId"`
	ProductID   string          `json:"productId"`
	Name        string          `json:"name"`
	OldQuantity int             `json:"oldQuantity"`
	NewQuantity int             `json:"newQuantity"`
	OldPrice    decimal.Decimal `json:"oldPrice"`
	NewPrice    decimal.Decimal `json:"newPrice"`
}

type ValidationResult struct {
	Cart         Cart         `json:"cart"`
	RemovedItems []Item       `json:"removedItems"`
	UpdatedItems []ItemChange `json:"updatedItems"`
	Errors       []string     `json:"errors"`
}

// Valid is true when the cart needed no adjustment.
func (r ValidationResult) Valid() bool {
	return len(r.RemovedItems) == 0 && len(r.UpdatedItems) == 0 && len(r.Errors) == 0
}
