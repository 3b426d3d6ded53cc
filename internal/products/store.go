package products

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"storefront/internal/stores/postgres"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Conf struct {
	db *sql.DB
}

func NewConf(db *sql.DB) (Conf, error) {
	if db == nil {
		return Conf{}, fmt.Errorf("db is nil")
	}
	return Conf{db: db}, nil
}

const productColumns = `id, name, description, price, images, category, brand, inventory, is_active,
	rating, review_count, rating_histogram, search_text, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var (
		p         Product
		histogram []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, pq.Array(&p.Images), &p.Category, &p.Brand,
		&p.Inventory, &p.IsActive, &p.Rating.Average, &p.Rating.Count, &histogram, &p.SearchText,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	if err := json.Unmarshal(histogram, &p.Rating.Histogram); err != nil {
		return Product{}, fmt.Errorf("failed to decode rating histogram: %w", err)
	}
	return p, nil
}

func (c *Conf) InsertProduct(ctx context.Context, p Product) (Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	histogram, err := json.Marshal(p.Rating.Histogram)
	if err != nil {
		return Product{}, fmt.Errorf("failed to encode rating histogram: %w", err)
	}

	err = postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO products (id, name, description, price, images, category, brand, inventory, is_active,
				rating, review_count, rating_histogram, search_text, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
			RETURNING created_at, updated_at
		`
		err := tx.QueryRowContext(ctx, query, p.ID, p.Name, p.Description, p.Price, pq.Array(p.Images),
			p.Category, p.Brand, p.Inventory, p.IsActive, p.Rating.Average, p.Rating.Count, histogram,
			p.SearchText).Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert product: %w", err)
		}
		return upsertVariants(ctx, tx, p.ID, p.Variants)
	})
	if err != nil {
		if postgres.IsUniqueViolation(err, "product_variants_sku_key") {
			return Product{}, ErrDuplicateSKU
		}
		return Product{}, err
	}
	return p, nil
}

func (c *Conf) GetProductByID(ctx context.Context, id string) (Product, error) {
	if uuid.Validate(id) != nil {
		return Product{}, ErrNotFound
	}
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	p, err := scanProduct(c.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("failed to query product: %w", err)
	}

	list := []Product{p}
	if err := c.attachVariants(ctx, list); err != nil {
		return Product{}, err
	}
	return list[0], nil
}

// ListProductsFromDB returns active products matching the filter, newest first.
func (c *Conf) ListProductsFromDB(ctx context.Context, f Filter) ([]Product, error) {
	var (
		where []string
		args  []any
	)
	where = append(where, "is_active")
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		args = append(args, "%"+q+"%")
		where = append(where, fmt.Sprintf("search_text LIKE $%d", len(args)))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM products WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		productColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var list []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating products: %w", err)
	}

	if err := c.attachVariants(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Conf) attachVariants(ctx context.Context, list []Product) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	index := make(map[string]int, len(list))
	for i, p := range list {
		ids[i] = p.ID
		index[p.ID] = i
	}

	query := `
		SELECT id, product_id, size, color, sku, price_override, inventory
		FROM product_variants
		WHERE product_id = ANY($1)
		ORDER BY sku
	`
	rows, err := c.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			v         Variant
			productID string
			override  decimal.NullDecimal
		)
		if err := rows.Scan(&v.ID, &productID, &v.Size, &v.Color, &v.SKU, &override, &v.Inventory); err != nil {
			return fmt.Errorf("failed to scan variant: %w", err)
		}
		if override.Valid {
			v.PriceOverride = &override.Decimal
		}
		i := index[productID]
		list[i].Variants = append(list[i].Variants, v)
	}
	return rows.Err()
}

// UpdateProductInDB replaces the editable fields and the variant list. Stock
// counters of kept variants are overwritten with the submitted values.
func (c *Conf) UpdateProductInDB(ctx context.Context, p Product) (Product, error) {
	err := postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		query := `
			UPDATE products
			SET name = $2, description = $3, price = $4, images = $5, category = $6, brand = $7,
				inventory = $8, search_text = $9, updated_at = NOW()
			WHERE id = $1
			RETURNING updated_at
		`
		err := tx.QueryRowContext(ctx, query, p.ID, p.Name, p.Description, p.Price, pq.Array(p.Images),
			p.Category, p.Brand, p.Inventory, p.SearchText).Scan(&p.UpdatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to update product: %w", err)
		}

		keep := make([]string, 0, len(p.Variants))
		for _, v := range p.Variants {
			keep = append(keep, v.ID)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM product_variants WHERE product_id = $1 AND NOT (id = ANY($2))`,
			p.ID, pq.Array(keep))
		if err != nil {
			return fmt.Errorf("failed to remove variants: %w", err)
		}
		return upsertVariants(ctx, tx, p.ID, p.Variants)
	})
	if err != nil {
		if postgres.IsUniqueViolation(err, "product_variants_sku_key") {
			return Product{}, ErrDuplicateSKU
		}
		return Product{}, err
	}
	return p, nil
}

func upsertVariants(ctx context.Context, tx *sql.Tx, productID string, variants []Variant) error {
	query := `
		INSERT INTO product_variants (id, product_id, size, color, sku, price_override, inventory)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET size = EXCLUDED.size, color = EXCLUDED.color, sku = EXCLUDED.sku,
			price_override = EXCLUDED.price_override, inventory = EXCLUDED.inventory
	`
	for _, v := range variants {
		var override decimal.NullDecimal
		if v.PriceOverride != nil {
			override = decimal.NewNullDecimal(*v.PriceOverride)
		}
		_, err := tx.ExecContext(ctx, query, v.ID, productID, v.Size, v.Color, v.SKU, override, v.Inventory)
		if err != nil {
			return fmt.Errorf("failed to save variant %s: %w", v.SKU, err)
		}
	}
	return nil
}

// DeactivateProduct hides a product from the catalog. Rows are kept so that
// orders and reviews keep resolving.
func (c *Conf) DeactivateProduct(ctx context.Context, id string) error {
	if uuid.Validate(id) != nil {
		return ErrNotFound
	}
	res, err := c.db.ExecContext(ctx, `UPDATE products SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate product: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

func (c *Conf) AppendImage(ctx context.Context, id, url string) error {
	if uuid.Validate(id) != nil {
		return ErrNotFound
	}
	query := `
		UPDATE products
		SET images = array_append(images, $2), updated_at = NOW()
		WHERE id = $1 AND cardinality(images) < $3
	`
	res, err := c.db.ExecContext(ctx, query, id, url, MaxImages)
	if err != nil {
		return fmt.Errorf("failed to append image: %w", err)
	}
	return expectOne(res, ErrImageLimit)
}

// UpdateRating writes the cached review aggregate onto the product.
func (c *Conf) UpdateRating(ctx context.Context, id string, r Rating) error {
	histogram, err := json.Marshal(r.Histogram)
	if err != nil {
		return fmt.Errorf("failed to encode rating histogram: %w", err)
	}
	query := `
		UPDATE products
		SET rating = $2, review_count = $3, rating_histogram = $4, updated_at = NOW()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, query, id, r.Average, r.Count, histogram)
	if err != nil {
		return fmt.Errorf("failed to update rating: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

func (c *Conf) CountProducts(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

func expectOne(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return none
	}
	return nil
}
