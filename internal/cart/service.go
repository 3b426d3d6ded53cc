package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"storefront/internal/apperr"
	"storefront/internal/inventory"
	"storefront/internal/products"
	"storefront/pkg/logkey"
	"time"

	"github.com/google/uuid"
)

type Store interface {
	GetCart(ctx context.Context, owner Owner) (Cart, error)
	GetCartByID(ctx context.Context, id string) (Cart, error)
	UpdateCart(ctx context.Context, owner Owner, fn func(*Cart) error) (Cart, error)
	MergeCarts(ctx context.Context, sessionID, userID string, fn func(guest, user *Cart) error) (Cart, error)
	DeleteCart(ctx context.Context, owner Owner) error
}

type Catalog interface {
	GetProductByID(ctx context.Context, id string) (products.Product, error)
}

func quantityRangeError() error {
	return apperr.Validation(fmt.Sprintf("Quantity must be between 1 and %d", MaxQuantity))
}

type Service struct {
	store   Store
	catalog Catalog
	now     func() time.Time
}

func NewService(store Store, catalog Catalog) *Service {
	return &Service{store: store, catalog: catalog, now: time.Now}
}

func checkOwner(owner Owner) error {
	if !owner.Valid() {
		return apperr.Unauthorized("Cart owner could not be determined")
	}
	return nil
}

// GetCart returns the owner's cart, or an empty one when none exists yet.
func (s *Service) GetCart(ctx context.Context, owner Owner) (Cart, error) {
	if err := checkOwner(owner); err != nil {
		return Cart{}, err
	}
	c, err := s.store.GetCart(ctx, owner)
	if errors.Is(err, ErrNotFound) {
		empty := Cart{UserID: owner.UserID, SessionID: owner.SessionID}
		empty.Recalculate()
		return empty, nil
	}
	if err != nil {
		return Cart{}, err
	}
	c.Recalculate()
	return c, nil
}

func (s *Service) GetCartByID(ctx context.Context, id string) (Cart, error) {
	c, err := s.store.GetCartByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Cart{}, apperr.NotFound("Cart not found")
	}
	return c, err
}

func (s *Service) product(ctx context.Context, id string) (products.Product, error) {
	p, err := s.catalog.GetProductByID(ctx, id)
	if errors.Is(err, products.ErrNotFound) {
		return products.Product{}, apperr.NotFound("Product not found")
	}
	return p, err
}

// AddItem adds quantity units to the cart, merging with an existing line for
// the same product and variant. The combined quantity is checked against the
// per-line cap and current stock; on failure the cart is left untouched.
func (s *Service) AddItem(ctx context.Context, owner Owner, in AddItemInput) (Cart, error) {
	if err := checkOwner(owner); err != nil {
		return Cart{}, err
	}
	if in.Quantity < 1 || in.Quantity > MaxQuantity {
		return Cart{}, quantityRangeError()
	}
	p, err := s.product(ctx, in.ProductID)
	if err != nil {
		return Cart{}, err
	}
	if p.HasVariants() && in.VariantID == "" {
		return Cart{}, apperr.Validation("Please select a size or color")
	}
	if !p.HasVariants() && in.VariantID != "" {
		return Cart{}, apperr.Validation(inventory.ReasonVariantNotFound)
	}
	if av := inventory.Evaluate(p, in.Quantity, in.VariantID); !av.Available {
		return Cart{}, apperr.Validation(av.Reason)
	}

	return s.store.UpdateCart(ctx, owner, func(c *Cart) error {
		if i := c.find(p.ID, in.VariantID); i >= 0 {
			combined := c.Items[i].Quantity + in.Quantity
			if combined > MaxQuantity {
				return apperr.Validation(fmt.Sprintf("Cannot have more than %d of this item in the cart", MaxQuantity))
			}
			if av := inventory.Evaluate(p, combined, in.VariantID); !av.Available {
				return apperr.Validation(av.Reason)
			}
			c.Items[i].Quantity = combined
			c.Items[i].Price = p.UnitPrice(in.VariantID)
			return nil
		}
		c.Items = append(c.Items, s.snapshot(p, in.VariantID, in.Quantity))
		return nil
	})
}

func (s *Service) snapshot(p products.Product, variantID string, qty int) Item {
	it := Item{
		ID:        uuid.NewString(),
		ProductID: p.ID,
		VariantID: variantID,
		Quantity:  qty,
		Price:     p.UnitPrice(variantID),
		Name:      p.Name,
		Image:     p.PrimaryImage(),
		AddedAt:   s.now().UTC(),
	}
	if v, ok := p.Variant(variantID); ok {
		it.Size, it.Color = v.Size, v.Color
	}
	return it
}

// UpdateQuantity sets a line's quantity. Zero removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, owner Owner, itemID string, qty int) (Cart, error) {
	if err := checkOwner(owner); err != nil {
		return Cart{}, err
	}
	if qty == 0 {
		return s.RemoveItem(ctx, owner, itemID)
	}
	if qty < 0 || qty > MaxQuantity {
		return Cart{}, quantityRangeError()
	}

	current, err := s.GetCart(ctx, owner)
	if err != nil {
		return Cart{}, err
	}
	i := current.findItem(itemID)
	if i < 0 {
		return Cart{}, apperr.NotFound("Cart item not found")
	}
	line := current.Items[i]
	p, err := s.product(ctx, line.ProductID)
	if err != nil {
		return Cart{}, err
	}
	if av := inventory.Evaluate(p, qty, line.VariantID); !av.Available {
		return Cart{}, apperr.Validation(av.Reason)
	}

	return s.store.UpdateCart(ctx, owner, func(c *Cart) error {
		i := c.findItem(itemID)
		if i < 0 {
			return apperr.NotFound("Cart item not found")
		}
		c.Items[i].Quantity = qty
		c.Items[i].Price = p.UnitPrice(line.VariantID)
		return nil
	})
}

func (s *Service) RemoveItem(ctx context.Context, owner Owner, itemID string) (Cart, error) {
	if err := checkOwner(owner); err != nil {
		return Cart{}, err
	}
	return s.store.UpdateCart(ctx, owner, func(c *Cart) error {
		i := c.findItem(itemID)
		if i < 0 {
			return apperr.NotFound("Cart item not found")
		}
		c.remove(i)
		return nil
	})
}

func (s *Service) Clear(ctx context.Context, owner Owner) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	return s.store.DeleteCart(ctx, owner)
}

// ValidateCart re-prices and re-checks every line against the catalog,
// removing lines that can no longer be bought and trimming quantities to
// what is in stock. The adjusted cart is persisted.
func (s *Service) ValidateCart(ctx context.Context, owner Owner) (ValidationResult, error) {
	if err := checkOwner(owner); err != nil {
		return ValidationResult{}, err
	}
	current, err := s.GetCart(ctx, owner)
	if err != nil {
		return ValidationResult{}, err
	}
	if current.ID == "" {
		return ValidationResult{Cart: current}, nil
	}

	snapshots := make(map[string]products.Product, len(current.Items))
	missing := make(map[string]bool)
	for _, it := range current.Items {
		if _, ok := snapshots[it.ProductID]; ok || missing[it.ProductID] {
			continue
		}
		p, err := s.catalog.GetProductByID(ctx, it.ProductID)
		switch {
		case errors.Is(err, products.ErrNotFound):
			missing[it.ProductID] = true
		case err != nil:
			return ValidationResult{}, err
		default:
			snapshots[it.ProductID] = p
		}
	}

	var result ValidationResult
	c, err := s.store.UpdateCart(ctx, owner, func(c *Cart) error {
		result = ValidationResult{}
		kept := c.Items[:0:0]
		for _, it := range c.Items {
			p, ok := snapshots[it.ProductID]
			if !ok {
				result.RemovedItems = append(result.RemovedItems, it)
				result.Errors = append(result.Errors, fmt.Sprintf("%s is no longer available", it.Name))
				continue
			}
			av := inventory.Evaluate(p, it.Quantity, it.VariantID)
			if !av.Available && av.InStock == 0 {
				result.RemovedItems = append(result.RemovedItems, it)
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", it.Name, av.Reason))
				continue
			}

			change := ItemChange{
				ItemID:      it.ID,
				ProductID:   it.ProductID,
				Name:        it.Name,
				OldQuantity: it.Quantity,
				NewQuantity: it.Quantity,
				OldPrice:    it.Price,
				NewPrice:    p.UnitPrice(it.VariantID),
			}
			if !av.Available {
				change.NewQuantity = av.InStock
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", it.Name, av.Reason))
			}
			if !change.NewPrice.Equal(change.OldPrice) {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: price changed from %s to %s",
					it.Name, change.OldPrice.StringFixed(2), change.NewPrice.StringFixed(2)))
			}
			if change.NewQuantity != change.OldQuantity || !change.NewPrice.Equal(change.OldPrice) {
				result.UpdatedItems = append(result.UpdatedItems, change)
			}
			it.Quantity, it.Price = change.NewQuantity, change.NewPrice
			kept = append(kept, it)
		}
		c.Items = kept
		return nil
	})
	if err != nil {
		return ValidationResult{}, err
	}
	result.Cart = c
	if result.RemovedItems == nil {
		result.RemovedItems = []Item{}
	}
	if result.UpdatedItems == nil {
		result.UpdatedItems = []ItemChange{}
	}
	if result.Errors == nil {
		result.Errors = []string{}
	}
	return result, nil
}

// MergeGuestCart folds the guest session's cart into the user's cart in one
// transaction. Quantities are summed and capped by the per-line limit and by
// stock; lines that can no longer be bought are dropped.
func (s *Service) MergeGuestCart(ctx context.Context, sessionID, userID string) (Cart, error) {
	if sessionID == "" || userID == "" {
		return Cart{}, apperr.Validation("Both a guest session and a user are required to merge carts")
	}
	guest, err := s.store.GetCart(ctx, GuestOwner(sessionID))
	if errors.Is(err, ErrNotFound) {
		return s.GetCart(ctx, UserOwner(userID))
	}
	if err != nil {
		return Cart{}, err
	}

	snapshots := make(map[string]products.Product, len(guest.Items))
	for _, it := range guest.Items {
		if _, ok := snapshots[it.ProductID]; ok {
			continue
		}
		p, err := s.catalog.GetProductByID(ctx, it.ProductID)
		if errors.Is(err, products.ErrNotFound) {
			continue
		}
		if err != nil {
			return Cart{}, err
		}
		snapshots[it.ProductID] = p
	}

	merged, err := s.store.MergeCarts(ctx, sessionID, userID, func(guest, user *Cart) error {
		for _, it := range guest.Items {
			p, ok := snapshots[it.ProductID]
			if !ok {
				continue
			}
			qty := it.Quantity
			i := user.find(it.ProductID, it.VariantID)
			if i >= 0 {
				qty += user.Items[i].Quantity
			}
			qty = min(qty, MaxQuantity)
			if av := inventory.Evaluate(p, qty, it.VariantID); !av.Available {
				qty = av.InStock
			}
			if qty <= 0 {
				if i >= 0 {
					user.remove(i)
				}
				continue
			}
			if i >= 0 {
				user.Items[i].Quantity = qty
				user.Items[i].Price = p.UnitPrice(it.VariantID)
				continue
			}
			user.Items = append(user.Items, s.snapshot(p, it.VariantID, qty))
		}
		return nil
	})
	if err != nil {
		return Cart{}, err
	}
	slog.Info("guest cart merged", slog.String(logkey.UserID, userID), slog.Int("Items", len(merged.Items)))
	return merged, nil
}
