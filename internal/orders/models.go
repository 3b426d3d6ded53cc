package orders

import (
	"encoding/json"
	"errors"
	"storefront/internal/inventory"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("order not found")
	ErrStateConflict = errors.New("order state changed concurrently")
)

type PaymentMethod string

const (
	MethodPaystack       PaymentMethod = "paystack"
	MethodStripe         PaymentMethod = "stripe"
	MethodBankTransfer   PaymentMethod = "bank_transfer"
	MethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodPaystack, MethodStripe, MethodBankTransfer, MethodCashOnDelivery:
		return true
	}
	return false
}

// Online reports whether the method is settled through a payment gateway.
func (m PaymentMethod) Online() bool {
	return m == MethodPaystack || m == MethodStripe
}

type Address struct {
	FullName   string `json:"fullName" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	Country    string `json:"country" validate:"required"`
	PostalCode string `json:"postalCode,omitempty"`
}

// Item is the snapshot of a product line taken when the order was placed.
type Item struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId,omitempty"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type StatusChange struct {
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	Note          string        `json:"note,omitempty"`
	By            string        `json:"by,omitempty"`
	At            time.Time     `json:"at"`
}

type Order struct {
	ID               string          `json:"id"`
	OrderNumber      string          `json:"orderNumber"`
	UserID           string          `json:"userId"`
	Items            []Item          `json:"items"`
	ShippingAddress  Address         `json:"shippingAddress"`
	PaymentMethod    PaymentMethod   `json:"paymentMethod"`
	Currency         string          `json:"currency"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Tax              decimal.Decimal `json:"tax"`
	Shipping         decimal.Decimal `json:"shipping"`
	Discount         decimal.Decimal `json:"discount"`
	Total            decimal.Decimal `json:"total"`
	RefundedAmount   decimal.Decimal `json:"refundedAmount"`
	State            State           `json:"-"`
	PaymentReference string          `json:"paymentReference,omitempty"`
	CancelReason     string          `json:"cancelReason,omitempty"`
	StockReleased    bool            `json:"-"`
	History          []StatusChange  `json:"statusHistory"`
	PaidAt           *time.Time      `json:"paidAt,omitempty"`
	DeliveredAt      *time.Time      `json:"deliveredAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// MarshalJSON flattens State into status and paymentStatus fields.
func (o Order) MarshalJSON() ([]byte, error) {
	type alias Order
	return json.Marshal(struct {
		alias
		Status        Status        `json:"status"`
		PaymentStatus PaymentStatus `json:"paymentStatus"`
	}{alias(o), o.State.Status(), o.State.Payment()})
}

// Transition moves the order to next and records it in the history.
func (o *Order) Transition(next State, by, note string, at time.Time) {
	if next.Payment() == PaymentPaid && o.PaidAt == nil {
		o.PaidAt = &at
	}
	if next.Status() == StatusDelivered && o.DeliveredAt == nil {
		o.DeliveredAt = &at
	}
	o.State = next
	o.History = append(o.History, StatusChange{
		Status:        next.Status(),
		PaymentStatus: next.Payment(),
		Note:          note,
		By:            by,
		At:            at,
	})
	o.UpdatedAt = at
}

// StockLines are the inventory lines reserved by this order.
func (o Order) StockLines() []inventory.Line {
	lines := make([]inventory.Line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, inventory.Line{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
	}
	return lines
}

func (o Order) ProductIDs() []string {
	seen := make(map[string]bool, len(o.Items))
	var ids []string
	for _, it := range o.Items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	return ids
}

// Refundable is the amount that has been paid and not refunded yet.
func (o Order) Refundable() decimal.Decimal {
	return o.Total.Sub(o.RefundedAmount)
}

type ItemInput struct {
	ProductID string `json:"productId" validate:"required"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity" validate:"min=1,max=99"`
}

type CreateOrderInput struct {
	CartID          string           `json:"cartId"`
	Items           []ItemInput      `json:"items" validate:"dive"`
	ShippingAddress *Address         `json:"shippingAddress" validate:"required"`
	PaymentMethod   PaymentMethod    `json:"paymentMethod"`
	Tax             *decimal.Decimal `json:"tax"`
	Shipping        *decimal.Decimal `json:"shipping"`
	Discount        *decimal.Decimal `json:"discount"`
}

// CreateOrderResult carries either the created order or the reasons the
// input was rejected.
type CreateOrderResult struct {
	Order  *Order
	Errors []string
}

func (r CreateOrderResult) OK() bool {
	return r.Order != nil && len(r.Errors) == 0
}

type Filter struct {
	UserID        string
	Status        Status
	PaymentStatus PaymentStatus
	Limit         int
	Offset        int
}
