// Package storetest provides an in-memory database implementing every store
// interface. All aggregates share one product table, so stock reserved by an
// order is visible to the cart and the refund paths as it is in Postgres.
package storetest

import (
	"cmp"
	"context"
	"slices"
	"storefront/internal/cart"
	"storefront/internal/inventory"
	"storefront/internal/orders"
	"storefront/internal/products"
	"storefront/internal/refunds"
	"storefront/internal/reviews"
	"storefront/internal/users"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	_ products.Store  = (*DB)(nil)
	_ inventory.Stock = (*DB)(nil)
	_ cart.Store      = (*DB)(nil)
	_ orders.Store    = (*DB)(nil)
	_ refunds.Store   = (*DB)(nil)
	_ reviews.Store   = (*DB)(nil)
	_ users.Store     = (*DB)(nil)
)

type DB struct {
	mu sync.Mutex

	products map[string]products.Product
	carts    map[string]cart.Cart
	orders   map[string]orders.Order
	requests map[string]refunds.Request
	reviews  map[string]reviews.Review
	votes    map[[2]string]bool
	reports  map[[2]string]bool
	users    map[string]users.User
	wishlist map[string]map[string]time.Time

	// RestoreErr, when set, makes Restore fail after applying nothing.
	RestoreErr error
}

func New() *DB {
	return &DB{
		products: make(map[string]products.Product),
		carts:    make(map[string]cart.Cart),
		orders:   make(map[string]orders.Order),
		requests: make(map[string]refunds.Request),
		reviews:  make(map[string]reviews.Review),
		votes:    make(map[[2]string]bool),
		reports:  make(map[[2]string]bool),
		users:    make(map[string]users.User),
		wishlist: make(map[string]map[string]time.Time),
	}
}

func cloneProduct(p products.Product) products.Product {
	p.Images = slices.Clone(p.Images)
	p.Variants = slices.Clone(p.Variants)
	if p.Rating.Histogram != nil {
		h := make(products.Histogram, len(p.Rating.Histogram))
		for k, v := range p.Rating.Histogram {
			h[k] = v
		}
		p.Rating.Histogram = h
	}
	return p
}

func cloneCart(c cart.Cart) cart.Cart {
	c.Items = slices.Clone(c.Items)
	c.Recalculate()
	return c
}

func cloneOrder(o orders.Order) orders.Order {
	o.Items = slices.Clone(o.Items)
	o.History = slices.Clone(o.History)
	return o
}

// products.Store

func (db *DB) InsertProduct(ctx context.Context, p products.Product) (products.Product, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := uniqueSKUs(p.Variants); err != nil {
		return products.Product{}, err
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	db.products[p.ID] = cloneProduct(p)
	return p, nil
}

func uniqueSKUs(variants []products.Variant) error {
	seen := make(map[string]bool, len(variants))
	for _, v := range variants {
		if seen[v.SKU] {
			return products.ErrDuplicateSKU
		}
		seen[v.SKU] = true
	}
	return nil
}

func (db *DB) GetProductByID(ctx context.Context, id string) (products.Product, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.products[id]
	if !ok {
		return products.Product{}, products.ErrNotFound
	}
	return cloneProduct(p), nil
}

func (db *DB) ListProductsFromDB(ctx context.Context, f products.Filter) ([]products.Product, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(f.Query))
	var list []products.Product
	for _, p := range db.products {
		if !p.IsActive || (f.Category != "" && p.Category != f.Category) {
			continue
		}
		if q != "" && !strings.Contains(p.SearchText, q) {
			continue
		}
		list = append(list, cloneProduct(p))
	}
	slices.SortFunc(list, func(a, b products.Product) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return page(list, f.Limit, f.Offset), nil
}

func page[T any](list []T, limit, offset int) []T {
	if offset >= len(list) {
		return nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}

func (db *DB) UpdateProductInDB(ctx context.Context, p products.Product) (products.Product, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	cur, ok := db.products[p.ID]
	if !ok {
		return products.Product{}, products.ErrNotFound
	}
	if err := uniqueSKUs(p.Variants); err != nil {
		return products.Product{}, err
	}
	p.CreatedAt = cur.CreatedAt
	p.IsActive = cur.IsActive
	p.Rating = cur.Rating
	p.UpdatedAt = time.Now().UTC()
	db.products[p.ID] = cloneProduct(p)
	return p, nil
}

func (db *DB) DeactivateProduct(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.products[id]
	if !ok {
		return products.ErrNotFound
	}
	p.IsActive = false
	db.products[id] = p
	return nil
}

func (db *DB) AppendImage(ctx context.Context, id, url string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.products[id]
	if !ok {
		return products.ErrNotFound
	}
	if len(p.Images) >= products.MaxImages {
		return products.ErrImageLimit
	}
	p.Images = append(slices.Clone(p.Images), url)
	db.products[id] = p
	return nil
}

func (db *DB) UpdateRating(ctx context.Context, id string, r products.Rating) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.products[id]
	if !ok {
		return products.ErrNotFound
	}
	p.Rating = r
	db.products[id] = cloneProduct(p)
	return nil
}

func (db *DB) CountProducts(ctx context.Context) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.products), nil
}

// Stock reads a product's or variant's counter, for assertions.
func (db *DB) Stock(productID, variantID string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	p := db.products[productID]
	if variantID == "" {
		return p.Inventory
	}
	v, _ := p.Variant(variantID)
	return v.Inventory
}

// inventory.Stock

func (db *DB) CheckAvailability(ctx context.Context, productID string, quantity int, variantID string) (inventory.Availability, error) {
	p, err := db.GetProductByID(ctx, productID)
	if err != nil {
		return inventory.Availability{Reason: inventory.ReasonProductNotFound}, nil
	}
	return inventory.Evaluate(p, quantity, variantID), nil
}

// adjust adds delta to a counter. It reports false when the line is unknown
// or the counter would go negative. The caller holds the lock.
func (db *DB) adjust(l inventory.Line, delta int) bool {
	p, ok := db.products[l.ProductID]
	if !ok {
		return false
	}
	p = cloneProduct(p)
	if l.VariantID == "" {
		if p.Inventory+delta < 0 {
			return false
		}
		p.Inventory += delta
	} else {
		i := slices.IndexFunc(p.Variants, func(v products.Variant) bool { return v.ID == l.VariantID })
		if i < 0 || p.Variants[i].Inventory+delta < 0 {
			return false
		}
		p.Variants[i].Inventory += delta
	}
	db.products[l.ProductID] = p
	return true
}

func (db *DB) Restore(ctx context.Context, lines []inventory.Line) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.RestoreErr != nil {
		return db.RestoreErr
	}
	for _, l := range inventory.Consolidate(lines) {
		db.adjust(l, l.Quantity)
	}
	return nil
}

func (db *DB) Restock(ctx context.Context, productID, variantID string, quantity int) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.adjust(inventory.Line{ProductID: productID, VariantID: variantID}, quantity) {
		return products.ErrNotFound
	}
	return nil
}

// cart.Store

func (db *DB) findCart(owner cart.Owner) (cart.Cart, bool) {
	for _, c := range db.carts {
		if (owner.UserID != "" && c.UserID == owner.UserID) || (owner.SessionID != "" && c.SessionID == owner.SessionID) {
			return c, true
		}
	}
	return cart.Cart{}, false
}

func (db *DB) GetCart(ctx context.Context, owner cart.Owner) (cart.Cart, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.findCart(owner)
	if !ok {
		return cart.Cart{}, cart.ErrNotFound
	}
	return cloneCart(c), nil
}

func (db *DB) GetCartByID(ctx context.Context, id string) (cart.Cart, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.carts[id]
	if !ok {
		return cart.Cart{}, cart.ErrNotFound
	}
	return cloneCart(c), nil
}

func (db *DB) orCreate(owner cart.Owner) cart.Cart {
	if c, ok := db.findCart(owner); ok {
		return cloneCart(c)
	}
	return cart.Cart{ID: uuid.NewString(), UserID: owner.UserID, SessionID: owner.SessionID, Items: []cart.Item{}}
}

func (db *DB) saveCart(c *cart.Cart) {
	c.UpdatedAt = time.Now().UTC()
	c.Recalculate()
	db.carts[c.ID] = cloneCart(*c)
}

func (db *DB) UpdateCart(ctx context.Context, owner cart.Owner, fn func(*cart.Cart) error) (cart.Cart, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c := db.orCreate(owner)
	if err := fn(&c); err != nil {
		return cart.Cart{}, err
	}
	db.saveCart(&c)
	return c, nil
}

func (db *DB) MergeCarts(ctx context.Context, sessionID, userID string, fn func(guest, user *cart.Cart) error) (cart.Cart, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	user := db.orCreate(cart.UserOwner(userID))
	guest, ok := db.findCart(cart.GuestOwner(sessionID))
	if !ok {
		db.saveCart(&user)
		return user, nil
	}
	guest = cloneCart(guest)
	if err := fn(&guest, &user); err != nil {
		return cart.Cart{}, err
	}
	db.saveCart(&user)
	delete(db.carts, guest.ID)
	return user, nil
}

func (db *DB) DeleteCart(ctx context.Context, owner cart.Owner) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if c, ok := db.findCart(owner); ok {
		delete(db.carts, c.ID)
	}
	return nil
}

// orders.Store

// CreateOrder reserves every line and stores the order, or changes nothing
// when any line is short.
func (db *DB) CreateOrder(ctx context.Context, o orders.Order) (orders.Order, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	lines := inventory.Consolidate(o.StockLines())
	for i, l := range lines {
		if !db.adjust(l, -l.Quantity) {
			for _, done := range lines[:i] {
				db.adjust(done, done.Quantity)
			}
			return orders.Order{}, inventory.ErrInsufficientStock
		}
	}
	o.UpdatedAt = o.CreatedAt
	db.orders[o.ID] = cloneOrder(o)
	return o, nil
}

func (db *DB) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	o, ok := db.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (db *DB) GetOrderByReference(ctx context.Context, reference string) (orders.Order, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, o := range db.orders {
		if reference != "" && o.PaymentReference == reference {
			return cloneOrder(o), nil
		}
	}
	return orders.Order{}, orders.ErrNotFound
}

func (db *DB) ListOrders(ctx context.Context, f orders.Filter) ([]orders.Order, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var list []orders.Order
	for _, o := range db.orders {
		if (f.UserID != "" && o.UserID != f.UserID) || (f.Status != "" && o.State.Status() != f.Status) ||
			(f.PaymentStatus != "" && o.State.Payment() != f.PaymentStatus) {
			continue
		}
		list = append(list, cloneOrder(o))
	}
	slices.SortFunc(list, func(a, b orders.Order) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return page(list, f.Limit, f.Offset), nil
}

func (db *DB) SaveTransition(ctx context.Context, o orders.Order, prev orders.State) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	cur, ok := db.orders[o.ID]
	if !ok || cur.State != prev {
		return orders.ErrStateConflict
	}
	db.orders[o.ID] = cloneOrder(o)
	return nil
}

func (db *DB) HasPurchased(ctx context.Context, userID, productID string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, o := range db.orders {
		if o.UserID != userID || o.State.Status() != orders.StatusDelivered {
			continue
		}
		if slices.ContainsFunc(o.Items, func(it orders.Item) bool { return it.ProductID == productID }) {
			return true, nil
		}
	}
	return false, nil
}

// refunds.Store

func (db *DB) CreateRequest(ctx context.Context, r refunds.Request) (refunds.Request, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, other := range db.requests {
		if other.OrderID == r.OrderID && other.Status.Active() {
			return refunds.Request{}, refunds.ErrActiveRequest
		}
	}
	r.UpdatedAt = r.CreatedAt
	db.requests[r.ID] = r
	return r, nil
}

func (db *DB) GetRequest(ctx context.Context, id string) (refunds.Request, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.requests[id]
	if !ok {
		return refunds.Request{}, refunds.ErrNotFound
	}
	return r, nil
}

func (db *DB) HasActiveRequest(ctx context.Context, orderID string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, r := range db.requests {
		if r.OrderID == orderID && r.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (db *DB) ListRequests(ctx context.Context, status refunds.Status) ([]refunds.Request, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var list []refunds.Request
	for _, r := range db.requests {
		if status == "" || r.Status == status {
			list = append(list, r)
		}
	}
	slices.SortFunc(list, func(a, b refunds.Request) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return list, nil
}

func (db *DB) UpdateRequest(ctx context.Context, r refunds.Request, from refunds.Status) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	cur, ok := db.requests[r.ID]
	if !ok || cur.Status != from {
		return refunds.ErrStaleRequest
	}
	db.requests[r.ID] = r
	return nil
}

// reviews.Store

func (db *DB) InsertReview(ctx context.Context, r reviews.Review) (reviews.Review, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, other := range db.reviews {
		if other.UserID == r.UserID && other.ProductID == r.ProductID {
			return reviews.Review{}, reviews.ErrDuplicate
		}
	}
	r.UpdatedAt = r.CreatedAt
	db.reviews[r.ID] = r
	return r, nil
}

func (db *DB) GetReview(ctx context.Context, id string) (reviews.Review, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.reviews[id]
	if !ok {
		return reviews.Review{}, reviews.ErrNotFound
	}
	return r, nil
}

func (db *DB) ListReviews(ctx context.Context, f reviews.Filter) ([]reviews.Review, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var list []reviews.Review
	for _, r := range db.reviews {
		if (f.ProductID != "" && r.ProductID != f.ProductID) || (f.Status != "" && r.Status != f.Status) ||
			(f.VisibleOnly && !r.IsVisible) {
			continue
		}
		list = append(list, r)
	}
	slices.SortFunc(list, func(a, b reviews.Review) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return page(list, f.Limit, f.Offset), nil
}

func (db *DB) AddVote(ctx context.Context, reviewID, userID string) (reviews.Review, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.reviews[reviewID]
	if !ok {
		return reviews.Review{}, reviews.ErrNotFound
	}
	key := [2]string{reviewID, userID}
	if db.votes[key] {
		return reviews.Review{}, reviews.ErrAlreadyVoted
	}
	db.votes[key] = true
	r.HelpfulVotes++
	db.reviews[reviewID] = r
	return r, nil
}

func (db *DB) AddReport(ctx context.Context, reviewID, userID, reason string, at time.Time) (reviews.Review, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.reviews[reviewID]
	if !ok {
		return reviews.Review{}, false, reviews.ErrNotFound
	}
	key := [2]string{reviewID, userID}
	if db.reports[key] {
		return reviews.Review{}, false, reviews.ErrAlreadyReported
	}
	db.reports[key] = true
	r.ReportCount++
	flagged := r.AutoFlag(at)
	db.reviews[reviewID] = r
	return r, flagged, nil
}

func (db *DB) SaveModeration(ctx context.Context, r reviews.Review) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	cur, ok := db.reviews[r.ID]
	if !ok {
		return reviews.ErrNotFound
	}
	cur.Status, cur.Reason, cur.ModeratedBy, cur.ModeratedAt = r.Status, r.Reason, r.ModeratedBy, r.ModeratedAt
	cur.IsVisible, cur.UpdatedAt = r.IsVisible, r.UpdatedAt
	db.reviews[r.ID] = cur
	return nil
}

func (db *DB) StarCounts(ctx context.Context, productID string) (map[int]int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	counts := make(map[int]int, 5)
	for _, r := range db.reviews {
		if r.ProductID == productID && r.Status == reviews.StatusApproved && r.IsVisible {
			counts[r.Rating]++
		}
	}
	return counts, nil
}

// users.Store

func (db *DB) InsertUser(ctx context.Context, u users.User) (users.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, other := range db.users {
		if strings.EqualFold(other.Email, u.Email) {
			return users.User{}, users.ErrEmailTaken
		}
	}
	if u.Addresses == nil {
		u.Addresses = []users.Address{}
	}
	u.UpdatedAt = u.CreatedAt
	db.users[u.ID] = u
	return u, nil
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (users.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, u := range db.users {
		if strings.EqualFold(u.Email, email) {
			u.Addresses = slices.Clone(u.Addresses)
			return u, nil
		}
	}
	return users.User{}, users.ErrNotFound
}

func (db *DB) GetUserByID(ctx context.Context, id string) (users.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	u.Addresses = slices.Clone(u.Addresses)
	return u, nil
}

func (db *DB) SaveAddresses(ctx context.Context, userID string, addresses []users.Address) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[userID]
	if !ok {
		return users.ErrNotFound
	}
	u.Addresses = slices.Clone(addresses)
	db.users[userID] = u
	return nil
}

func (db *DB) SetRole(ctx context.Context, userID string, role users.Role) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[userID]
	if !ok {
		return users.ErrNotFound
	}
	u.Role = role
	db.users[userID] = u
	return nil
}

func (db *DB) AddToWishlist(ctx context.Context, userID, productID string, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.wishlist[userID] == nil {
		db.wishlist[userID] = make(map[string]time.Time)
	}
	if _, ok := db.wishlist[userID][productID]; !ok {
		db.wishlist[userID][productID] = at
	}
	return nil
}

func (db *DB) RemoveFromWishlist(ctx context.Context, userID, productID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.wishlist[userID], productID)
	return nil
}

func (db *DB) ListWishlist(ctx context.Context, userID string) ([]users.WishlistItem, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var list []users.WishlistItem
	for id, at := range db.wishlist[userID] {
		list = append(list, users.WishlistItem{ProductID: id, AddedAt: at})
	}
	slices.SortFunc(list, func(a, b users.WishlistItem) int {
		return cmp.Or(b.AddedAt.Compare(a.AddedAt), cmp.Compare(a.ProductID, b.ProductID))
	})
	return list, nil
}
