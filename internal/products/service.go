package products

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"storefront/internal/apperr"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type Store interface {
	InsertProduct(ctx context.Context, p Product) (Product, error)
	GetProductByID(ctx context.Context, id string) (Product, error)
	ListProductsFromDB(ctx context.Context, f Filter) ([]Product, error)
	UpdateProductInDB(ctx context.Context, p Product) (Product, error)
	DeactivateProduct(ctx context.Context, id string) error
	AppendImage(ctx context.Context, id, url string) error
	UpdateRating(ctx context.Context, id string, r Rating) error
	CountProducts(ctx context.Context) (int, error)
}

// ImageStore persists uploaded images and returns their public URL.
type ImageStore interface {
	PutObject(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Service struct {
	store    Store
	images   ImageStore
	validate *validator.Validate
}

// NewService wires the catalog. images may be nil, which disables uploads.
func NewService(store Store, images ImageStore) *Service {
	return &Service{store: store, images: images, validate: apperr.NewValidator()}
}

func (s *Service) Get(ctx context.Context, id string) (Product, error) {
	p, err := s.store.GetProductByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Product{}, apperr.NotFound("Product not found")
		}
		return Product{}, err
	}
	return withThumbnail(p), nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]Product, error) {
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	f.Limit = min(f.Limit, maxPageSize)
	f.Offset = max(f.Offset, 0)

	list, err := s.store.ListProductsFromDB(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i] = withThumbnail(list[i])
	}
	return list, nil
}

func (s *Service) Create(ctx context.Context, np NewProduct) (Product, error) {
	p, err := s.build(np, nil)
	if err != nil {
		return Product{}, err
	}
	p.IsActive = true
	p.Rating = Rating{Histogram: Histogram{}}

	inserted, err := s.store.InsertProduct(ctx, p)
	if err != nil {
		if errors.Is(err, ErrDuplicateSKU) {
			return Product{}, apperr.Validation("Variant SKUs must be unique within a product")
		}
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	return withThumbnail(inserted), nil
}

func (s *Service) Update(ctx context.Context, id string, np NewProduct) (Product, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	p, err := s.build(np, &current)
	if err != nil {
		return Product{}, err
	}

	updated, err := s.store.UpdateProductInDB(ctx, p)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateSKU):
			return Product{}, apperr.Validation("Variant SKUs must be unique within a product")
		case errors.Is(err, ErrNotFound):
			return Product{}, apperr.NotFound("Product not found")
		}
		return Product{}, fmt.Errorf("update product: %w", err)
	}
	return withThumbnail(updated), nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.DeactivateProduct(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("Product not found")
	}
	return err
}

// UploadImage stores an image and appends its URL to the product.
func (s *Service) UploadImage(ctx context.Context, id, filename, contentType string, body io.Reader) (Product, error) {
	if s.images == nil {
		return Product{}, apperr.Validation("Image uploads are not enabled")
	}
	if !strings.HasPrefix(contentType, "image/") {
		return Product{}, apperr.Validation("Only image uploads are allowed")
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if len(p.Images) >= MaxImages {
		return Product{}, apperr.Validation(fmt.Sprintf("A product can have at most %d images", MaxImages))
	}

	key := fmt.Sprintf("products/%s/%s%s", p.ID, uuid.NewString(), strings.ToLower(path.Ext(filename)))
	url, err := s.images.PutObject(ctx, key, contentType, body)
	if err != nil {
		return Product{}, apperr.Upstream("Image upload failed", err)
	}
	if err := s.store.AppendImage(ctx, p.ID, url); err != nil {
		if errors.Is(err, ErrImageLimit) {
			return Product{}, apperr.Validation(fmt.Sprintf("A product can have at most %d images", MaxImages))
		}
		return Product{}, fmt.Errorf("append image: %w", err)
	}
	return s.Get(ctx, p.ID)
}

// build validates np and turns it into a Product. Variant ids present on the
// current product are kept, any other id is replaced.
func (s *Service) build(np NewProduct, current *Product) (Product, error) {
	if err := s.validate.Struct(np); err != nil {
		return Product{}, apperr.FromValidator("Product validation failed", err)
	}

	var details []string
	if np.Price.IsNegative() {
		details = append(details, "price must not be negative")
	}
	seen := make(map[string]bool, len(np.Variants))
	for _, v := range np.Variants {
		sku := strings.TrimSpace(v.SKU)
		if seen[sku] {
			details = append(details, fmt.Sprintf("duplicate variant sku %q", sku))
		}
		seen[sku] = true
		if v.PriceOverride != nil && v.PriceOverride.IsNegative() {
			details = append(details, fmt.Sprintf("variant %s priceOverride must not be negative", sku))
		}
	}
	if len(details) > 0 {
		return Product{}, apperr.Validation("Product validation failed", details...)
	}

	p := Product{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(np.Name),
		Description: strings.TrimSpace(np.Description),
		Price:       np.Price.Round(2),
		Images:      np.Images,
		Category:    strings.TrimSpace(np.Category),
		Brand:       strings.TrimSpace(np.Brand),
		Inventory:   np.Inventory,
	}
	if current != nil {
		p.ID = current.ID
		p.IsActive = current.IsActive
		p.Rating = current.Rating
		p.CreatedAt = current.CreatedAt
	}

	for _, nv := range np.Variants {
		v := Variant{
			ID:            uuid.NewString(),
			Size:          strings.TrimSpace(nv.Size),
			Color:         strings.TrimSpace(nv.Color),
			SKU:           strings.TrimSpace(nv.SKU),
			PriceOverride: nv.PriceOverride,
			Inventory:     nv.Inventory,
		}
		if current != nil {
			if _, ok := current.Variant(nv.ID); ok {
				v.ID = nv.ID
			}
		}
		p.Variants = append(p.Variants, v)
	}
	if p.HasVariants() {
		p.Inventory = 0
	}
	p.SearchText = BuildSearchText(p)
	return p, nil
}
