package cart_test

import (
	"context"
	"storefront/internal/apperr"
	"storefront/internal/cart"
	"storefront/internal/storetest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() (*cart.Service, *storetest.DB) {
	db := storetest.New()
	return cart.NewService(db, db), db
}

func TestAddItemMergesLines(t *testing.T) {
	svc, db := newService()
	ctx := context.Background()
	tee := db.AddProduct("tee", "9.99", 10)
	owner := cart.UserOwner(uuid.NewString())

	_, err := svc.AddItem(ctx, owner, cart.AddItemInput{ProductID: tee.ID, Quantity: 2})
	require.NoError(t, err)
	c, err := svc.AddItem(ctx, owner, cart.AddItemInput{ProductID: tee.ID, Quantity: 3})
	require.NoError(t, err)

	require.Len(t, c.Items, 1)
	assert.Equal(t, 5, c.Items[0].Quantity)
	assert.Equal(t, 5, c.ItemCount)
	assert.True(t, decimal.RequireFromString("49.95").Equal(c.Subtotal))
}

func TestAddItemQuantityRules(t *testing.T) {
	svc, db := newService()
	ctx := context.Background()
	tee := db.AddProduct("tee", "9.99", 500)
	owner := cart.GuestOwner(uuid.NewString())

	for _, qty := range []int{0, -1, 100} {
		_, err := svc.AddItem(ctx, owner, cart.AddItemInput{ProductID: tee.ID, Quantity: qty})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Quantity must be between 1 and 99")
	}

	_, err := svc.AddItem(ctx, owner, cart.AddItemInput{ProductID: tee.ID, Quantity: 60})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, owner, cart.AddItemInput{ProductID: tee.ID, Quantity: 40})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot have more than 99 of this item in the cart")

	c, err := svc.GetCart(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 60, c.Items[0].Quantity, "failed add leaves the cart untouched")
}

func TestAddItemChecksStockAndVariants(t *testing.T) {
	svc, db := newService()
	ctx := context.Background()
	jeans := db.AddVariantProduct("jeans", "30", map[string]int{"M": 2, "L": 0})
	owner := cart.UserOwner(uuid.NewString())

	_, err := svc.AddItem(ctx, owner, cart.AddItemInput{ProductID: jeans.ID, Quantity: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Please select a size or color")

	_, err = svc.AddItem(ctx, owner, cart.AddItemInput{ProductID: jeans.ID, VariantID: storetest.VariantID(jeans, "L"), Quantity: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Out of stock")

	_, err = svc.AddItem(ctx, owner, cart.AddItemInput{ProductID: jeans.ID, VariantID: storetest.VariantID(jeans, "M"), Quantity: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Only 2 item(s) available")

	c, err := svc.AddItem(ctx, owner, cart.AddItemInput{ProductID: jeans.ID, VariantID: storetest.VariantID(jeans, "M"), Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, "M", c.Items[0].Size)

	_, err = svc.AddItem(ctx, owner, cart.AddItemInput{ProductID: uuid.NewString(), Quantity: 1})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUpdateAndRemove(t *testing.T) {
	svc, db := newService()
	ctx := context.Background()
	tee := db.AddProduct("tee", "5", 4)
	owner := cart.UserOwner(uuid.NewString())
	c, err := svc.AddItem(ctx, owner, cart.AddItemInput{ProductID: tee.ID, Quantity: 1})
	require.NoError(t, err)
	itemID := c.Items[0].ID

	c, err = svc.UpdateQuantity(ctx, owner, itemID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Items[0].Quantity)

	_, err = svc.UpdateQuantity(ctx, owner, itemID, 5)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.UpdateQuantity(ctx, owner, "missing", 1)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	c, err = svc.UpdateQuantity(ctx, owner, itemID, 0)
	require.NoError(t, err)
	assert.Empty(t, c.Items)

	_, err = svc.RemoveItem(ctx, owner, itemID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestValidateCartAdjustsToCatalog(t *testing.T) {
	svc, db := newService()
	ctx := context.Background()
	tee := db.AddProduct("tee", "5", 10)
	hat := db.AddProduct("hat", "8", 10)
	sock := db.AddProduct("sock", "2", 10)
	owner := cart.UserOwner(uuid.NewString())
	for _, id := range []string{tee.ID, hat.ID, sock.ID} {
		_, err := svc.AddItem(ctx, owner, cart.AddItemInput{ProductID: id, Quantity: 6})
		require.NoError(t, err)
	}

	require.NoError(t, db.DeactivateProduct(ctx, tee.ID))
	hat.Inventory = 4
	hat.Price = decimal.RequireFromString("7.50")
	_, err := db.UpdateProductInDB(ctx, hat)
	require.NoError(t, err)

	res, err := svc.ValidateCart(ctx, owner)
	require.NoError(t, err)
	assert.False(t, res.Valid())
	require.Len(t, res.RemovedItems, 1)
	assert.Equal(t, tee.ID, res.RemovedItems[0].ProductID)
	require.Len(t, res.UpdatedItems, 1)
	assert.Equal(t, 6, res.UpdatedItems[0].OldQuantity)
	assert.Equal(t, 4, res.UpdatedItems[0].NewQuantity)
	assert.Equal(t, "7.5", res.UpdatedItems[0].NewPrice.String())
	assert.Len(t, res.Cart.Items, 2)
	assert.Len(t, res.Errors, 3)

	again, err := svc.ValidateCart(ctx, owner)
	require.NoError(t, err)
	assert.True(t, again.Valid())
	assert.NotNil(t, again.RemovedItems)
}

func TestMergeGuestCart(t *testing.T) {
	svc, db := newService()
	ctx := context.Background()
	tee := db.AddProduct("tee", "5", 120)
	scarf := db.AddProduct("scarf", "12", 3)
	sessionID, userID := uuid.NewString(), uuid.NewString()

	_, err := svc.AddItem(ctx, cart.UserOwner(userID), cart.AddItemInput{ProductID: tee.ID, Quantity: 60})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, cart.UserOwner(userID), cart.AddItemInput{ProductID: scarf.ID, Quantity: 2})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, cart.GuestOwner(sessionID), cart.AddItemInput{ProductID: tee.ID, Quantity: 50})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, cart.GuestOwner(sessionID), cart.AddItemInput{ProductID: scarf.ID, Quantity: 3})
	require.NoError(t, err)

	merged, err := svc.MergeGuestCart(ctx, sessionID, userID)
	require.NoError(t, err)
	qty := map[string]int{}
	for _, it := range merged.Items {
		qty[it.ProductID] = it.Quantity
	}
	assert.Equal(t, 99, qty[tee.ID], "capped at the per-line limit")
	assert.Equal(t, 3, qty[scarf.ID], "capped at stock")

	guest, err := svc.GetCart(ctx, cart.GuestOwner(sessionID))
	require.NoError(t, err)
	assert.Empty(t, guest.Items)
}

func TestMergeGuestCartDropsSoldOutLine(t *testing.T) {
	svc, db := newService()
	ctx := context.Background()
	tee := db.AddProduct("tee", "5", 10)
	sessionID, userID := uuid.NewString(), uuid.NewString()

	_, err := svc.AddItem(ctx, cart.UserOwner(userID), cart.AddItemInput{ProductID: tee.ID, Quantity: 3})
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, cart.GuestOwner(sessionID), cart.AddItemInput{ProductID: tee.ID, Quantity: 2})
	require.NoError(t, err)
	require.NoError(t, db.Restock(ctx, tee.ID, "", -10))

	merged, err := svc.MergeGuestCart(ctx, sessionID, userID)
	require.NoError(t, err)
	assert.Empty(t, merged.Items)

	user, err := svc.GetCart(ctx, cart.UserOwner(userID))
	require.NoError(t, err)
	assert.Empty(t, user.Items)
}
