package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"storefront/internal/products"
	"storefront/pkg/logkey"
)

// ProductReader loads catalog snapshots for availability checks.
type ProductReader interface {
	GetProductByID(ctx context.Context, id string) (products.Product, error)
}

// Ledger is the Postgres backed Stock.
type Ledger struct {
	db       *sql.DB
	products ProductReader
}

func NewLedger(db *sql.DB, products ProductReader) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	return &Ledger{db: db, products: products}, nil
}

func (l *Ledger) CheckAvailability(ctx context.Context, productID string, quantity int, variantID string) (Availability, error) {
	p, err := l.products.GetProductByID(ctx, productID)
	if err != nil {
		if errors.Is(err, products.ErrNotFound) {
			return Availability{Reason: ReasonProductNotFound}, nil
		}
		return Availability{}, err
	}
	return Evaluate(p, quantity, variantID), nil
}

const (
	reserveVariant = `
		UPDATE product_variants
		SET inventory = inventory - $1
		WHERE id = $2 AND product_id = $3 AND inventory >= $1
	`
	reserveProduct = `
		UPDATE products
		SET inventory = inventory - $1, updated_at = NOW()
		WHERE id = $2 AND is_active AND inventory >= $1
	`
	releaseVariant = `
		UPDATE product_variants
		SET inventory = inventory + $1
		WHERE id = $2 AND product_id = $3
	`
	releaseProduct = `
		UPDATE products
		SET inventory = inventory + $1, updated_at = NOW()
		WHERE id = $2
	`
)

// ReserveTx decrements stock for every line inside tx. Each decrement is
// conditional on enough stock remaining, so a line that cannot be covered
// fails with ErrInsufficientStock and the caller rolls the whole tx back.
func ReserveTx(ctx context.Context, tx *sql.Tx, lines []Line) error {
	for _, line := range Consolidate(lines) {
		var (
			res sql.Result
			err error
		)
		if line.VariantID != "" {
			res, err = tx.ExecContext(ctx, reserveVariant, line.Quantity, line.VariantID, line.ProductID)
		} else {
			res, err = tx.ExecContext(ctx, reserveProduct, line.Quantity, line.ProductID)
		}
		if err != nil {
			return fmt.Errorf("failed to reserve stock for %s: %w", line.ProductID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: product %s variant %q", ErrInsufficientStock, line.ProductID, line.VariantID)
		}
	}
	return nil
}

// Restore puts stock back for cancelled or refunded lines. Every line is
// attempted; failures are logged and returned joined.
func (l *Ledger) Restore(ctx context.Context, lines []Line) error {
	var errs []error
	for _, line := range Consolidate(lines) {
		if err := l.increment(ctx, line.ProductID, line.VariantID, line.Quantity); err != nil {
			slog.Error("failed to restore stock", slog.String(logkey.ProductID, line.ProductID),
				slog.String("VariantID", line.VariantID), slog.Int("Quantity", line.Quantity),
				slog.String(logkey.ERROR, err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Ledger) Restock(ctx context.Context, productID, variantID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("restock quantity must be positive, got %d", quantity)
	}
	return l.increment(ctx, productID, variantID, quantity)
}

func (l *Ledger) increment(ctx context.Context, productID, variantID string, quantity int) error {
	var (
		res sql.Result
		err error
	)
	if variantID != "" {
		res, err = l.db.ExecContext(ctx, releaseVariant, quantity, variantID, productID)
	} else {
		res, err = l.db.ExecContext(ctx, releaseProduct, quantity, productID)
	}
	if err != nil {
		return fmt.Errorf("failed to increment stock for %s: %w", productID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return products.ErrNotFound
	}
	return nil
}
