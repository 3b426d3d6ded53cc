package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"storefront/internal/inventory"
	"storefront/internal/stores/postgres"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
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

// CreateOrder reserves stock for every item and inserts the order in one
// transaction. It fails with inventory.ErrInsufficientStock when any line
// cannot be covered, in which case nothing is written.
func (c *Conf) CreateOrder(ctx context.Context, o Order) (Order, error) {
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return Order{}, fmt.Errorf("failed to encode shipping address: %w", err)
	}
	history, err := json.Marshal(o.History)
	if err != nil {
		return Order{}, fmt.Errorf("failed to encode status history: %w", err)
	}

	err = postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		if err := inventory.ReserveTx(ctx, tx, o.StockLines()); err != nil {
			return err
		}

		query := `
			INSERT INTO orders (id, order_number, user_id, shipping_address, payment_method, currency, subtotal, tax,
				shipping, discount, total, refunded_amount, status, payment_status, status_history, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12, $13, $14, $15, $15)
		`
		_, err := tx.ExecContext(ctx, query, o.ID, o.OrderNumber, o.UserID, address, o.PaymentMethod, o.Currency,
			o.Subtotal, o.Tax, o.Shipping, o.Discount, o.Total, o.State.Status(), o.State.Payment(), history,
			o.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		itemQuery := `
			INSERT INTO order_items (id, order_id, product_id, variant_id, name, image, size, color, price, quantity)
			VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, $10)
		`
		for _, it := range o.Items {
			_, err := tx.ExecContext(ctx, itemQuery, it.ID, o.ID, it.ProductID, it.VariantID, it.Name, it.Image,
				it.Size, it.Color, it.Price, it.Quantity)
			if err != nil {
				return fmt.Errorf("failed to insert order item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

const orderColumns = `id, order_number, user_id, shipping_address, payment_method, currency, subtotal, tax, shipping,
	discount, total, refunded_amount, status, payment_status, COALESCE(payment_reference, ''), cancel_reason,
	stock_released, status_history, paid_at, delivered_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var (
		o        Order
		address  []byte
		history  []byte
		status   string
		payment  string
		paidAt   sql.NullTime
		delivery sql.NullTime
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &address, &o.PaymentMethod, &o.Currency, &o.Subtotal, &o.Tax,
		&o.Shipping, &o.Discount, &o.Total, &o.RefundedAmount, &status, &payment, &o.PaymentReference,
		&o.CancelReason, &o.StockReleased, &history, &paidAt, &delivery, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return Order{}, fmt.Errorf("failed to decode shipping address: %w", err)
	}
	if err := json.Unmarshal(history, &o.History); err != nil {
		return Order{}, fmt.Errorf("failed to decode status history: %w", err)
	}
	if o.State, err = NewState(Status(status), PaymentStatus(payment)); err != nil {
		return Order{}, fmt.Errorf("order %s: %w", o.ID, err)
	}
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	if delivery.Valid {
		o.DeliveredAt = &delivery.Time
	}
	return o, nil
}

func (c *Conf) getOne(ctx context.Context, where string, arg any) (Order, error) {
	o, err := scanOrder(c.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("failed to query order: %w", err)
	}
	list := []Order{o}
	if err := c.attachItems(ctx, list); err != nil {
		return Order{}, err
	}
	return list[0], nil
}

func (c *Conf) GetOrder(ctx context.Context, id string) (Order, error) {
	if uuid.Validate(id) != nil {
		return Order{}, ErrNotFound
	}
	return c.getOne(ctx, "id = $1", id)
}

func (c *Conf) GetOrderByReference(ctx context.Context, reference string) (Order, error) {
	return c.getOne(ctx, "payment_reference = $1", reference)
}

func (c *Conf) ListOrders(ctx context.Context, f Filter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.PaymentStatus != "" {
		args = append(args, f.PaymentStatus)
		where = append(where, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var list []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		list = append(list, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	if err := c.attachItems(ctx, list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Conf) attachItems(ctx context.Context, list []Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	index := make(map[string]int, len(list))
	for i, o := range list {
		ids[i] = o.ID
		index[o.ID] = i
	}

	query := `
		SELECT id, order_id, product_id, COALESCE(variant_id::text, ''), name, image, size, color, price, quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY name, id
	`
	rows, err := c.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it      Item
			orderID string
		)
		err := rows.Scan(&it.ID, &orderID, &it.ProductID, &it.VariantID, &it.Name, &it.Image, &it.Size, &it.Color,
			&it.Price, &it.Quantity)
		if err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		i := index[orderID]
		list[i].Items = append(list[i].Items, it)
	}
	return rows.Err()
}

// SaveTransition persists the mutable fields of o provided the stored state
// still equals prev. A concurrent writer makes it fail with ErrStateConflict.
func (c *Conf) SaveTransition(ctx context.Context, o Order, prev State) error {
	history, err := json.Marshal(o.History)
	if err != nil {
		return fmt.Errorf("failed to encode status history: %w", err)
	}
	query := `
		UPDATE orders
		SET status = $3, payment_status = $4, payment_reference = NULLIF($5, ''), cancel_reason = $6,
			refunded_amount = $7, stock_released = $8, status_history = $9, paid_at = $10, delivered_at = $11,
			updated_at = $12
		WHERE id = $1 AND status = $2 AND payment_status = $13
	`
	res, err := c.db.ExecContext(ctx, query, o.ID, prev.Status(), o.State.Status(), o.State.Payment(),
		o.PaymentReference, o.CancelReason, o.RefundedAmount, o.StockReleased, history, nullTime(o.PaidAt),
		nullTime(o.DeliveredAt), o.UpdatedAt, prev.Payment())
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("payment reference already in use: %w", err)
		}
		return fmt.Errorf("failed to update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrStateConflict
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// HasPurchased reports whether the user has a delivered order containing
// the product.
func (c *Conf) HasPurchased(ctx context.Context, userID, productID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM orders o
			JOIN order_items oi ON oi.order_id = o.id
			WHERE o.user_id = $1 AND oi.product_id = $2 AND o.status = $3
		)
	`
	var ok bool
	if err := c.db.QueryRowContext(ctx, query, userID, productID, StatusDelivered).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check purchase: %w", err)
	}
	return ok, nil
}
