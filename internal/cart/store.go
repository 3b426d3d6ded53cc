package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"storefront/internal/stores/postgres"

	"github.com/google/uuid"
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

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func ownerClause(o Owner) (string, string) {
	if o.UserID != "" {
		return "user_id = $1", o.UserID
	}
	return "session_id = $1", o.SessionID
}

func scanCart(row *sql.Row) (Cart, error) {
	var (
		c         Cart
		userID    sql.NullString
		sessionID sql.NullString
	)
	if err := row.Scan(&c.ID, &userID, &sessionID, &c.UpdatedAt); err != nil {
		return Cart{}, err
	}
	c.UserID, c.SessionID = userID.String, sessionID.String
	return c, nil
}

func (c *Conf) findCart(ctx context.Context, q querier, owner Owner, forUpdate bool) (Cart, error) {
	where, arg := ownerClause(owner)
	query := `SELECT id, user_id, session_id, updated_at FROM carts WHERE ` + where
	if forUpdate {
		query += ` FOR UPDATE`
	}
	cart, err := scanCart(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cart{}, ErrNotFound
		}
		return Cart{}, fmt.Errorf("failed to query cart: %w", err)
	}
	if err := c.loadItems(ctx, q, &cart); err != nil {
		return Cart{}, err
	}
	return cart, nil
}

func (c *Conf) loadItems(ctx context.Context, q querier, cart *Cart) error {
	query := `
		SELECT id, product_id, COALESCE(variant_id::text, ''), quantity, price, name, image, size, color, added_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY added_at, id
	`
	rows, err := q.QueryContext(ctx, query, cart.ID)
	if err != nil {
		return fmt.Errorf("failed to query cart items: %w", err)
	}
	defer rows.Close()

	cart.Items = nil
	for rows.Next() {
		var it Item
		err := rows.Scan(&it.ID, &it.ProductID, &it.VariantID, &it.Quantity, &it.Price, &it.Name, &it.Image,
			&it.Size, &it.Color, &it.AddedAt)
		if err != nil {
			return fmt.Errorf("failed to scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, it)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating cart items: %w", err)
	}
	cart.Recalculate()
	return nil
}

func (c *Conf) GetCart(ctx context.Context, owner Owner) (Cart, error) {
	return c.findCart(ctx, c.db, owner, false)
}

func (c *Conf) GetCartByID(ctx context.Context, id string) (Cart, error) {
	if uuid.Validate(id) != nil {
		return Cart{}, ErrNotFound
	}
	query := `SELECT id, user_id, session_id, updated_at FROM carts WHERE id = $1`
	cart, err := scanCart(c.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cart{}, ErrNotFound
		}
		return Cart{}, fmt.Errorf("failed to query cart: %w", err)
	}
	if err := c.loadItems(ctx, c.db, &cart); err != nil {
		return Cart{}, err
	}
	return cart, nil
}

// lockOrCreate returns the owner's cart locked for the rest of tx, creating
// it on first use.
func (c *Conf) lockOrCreate(ctx context.Context, tx *sql.Tx, owner Owner) (Cart, error) {
	query := `
		INSERT INTO carts (id, user_id, session_id, created_at, updated_at)
		VALUES ($1, NULLIF($2, '')::uuid, NULLIF($3, ''), NOW(), NOW())
		ON CONFLICT DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, query, uuid.NewString(), owner.UserID, owner.SessionID); err != nil {
		return Cart{}, fmt.Errorf("failed to create cart: %w", err)
	}
	return c.findCart(ctx, tx, owner, true)
}

func (c *Conf) saveItems(ctx context.Context, tx *sql.Tx, cart *Cart) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cart.ID); err != nil {
		return fmt.Errorf("failed to clear cart items: %w", err)
	}
	query := `
		INSERT INTO cart_items (id, cart_id, product_id, variant_id, quantity, price, name, image, size, color, added_at)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, $10, $11)
	`
	for _, it := range cart.Items {
		_, err := tx.ExecContext(ctx, query, it.ID, cart.ID, it.ProductID, it.VariantID, it.Quantity, it.Price,
			it.Name, it.Image, it.Size, it.Color, it.AddedAt)
		if err != nil {
			return fmt.Errorf("failed to save cart item: %w", err)
		}
	}
	err := tx.QueryRowContext(ctx, `UPDATE carts SET updated_at = NOW() WHERE id = $1 RETURNING updated_at`, cart.ID).
		Scan(&cart.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to touch cart: %w", err)
	}
	cart.Recalculate()
	return nil
}

// UpdateCart applies fn to the locked cart and persists the result. Nothing
// is written when fn fails.
func (c *Conf) UpdateCart(ctx context.Context, owner Owner, fn func(*Cart) error) (Cart, error) {
	var out Cart
	err := postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		cart, err := c.lockOrCreate(ctx, tx, owner)
		if err != nil {
			return err
		}
		if err := fn(&cart); err != nil {
			return err
		}
		if err := c.saveItems(ctx, tx, &cart); err != nil {
			return err
		}
		out = cart
		return nil
	})
	return out, err
}

// MergeCarts locks both carts, lets fn fold the guest items into the user
// cart, saves it and deletes the guest cart, all in one transaction.
func (c *Conf) MergeCarts(ctx context.Context, sessionID, userID string, fn func(guest, user *Cart) error) (Cart, error) {
	var out Cart
	err := postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		user, err := c.lockOrCreate(ctx, tx, UserOwner(userID))
		if err != nil {
			return err
		}
		guest, err := c.findCart(ctx, tx, GuestOwner(sessionID), true)
		if errors.Is(err, ErrNotFound) {
			out = user
			return nil
		}
		if err != nil {
			return err
		}

		if err := fn(&guest, &user); err != nil {
			return err
		}
		if err := c.saveItems(ctx, tx, &user); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, guest.ID); err != nil {
			return fmt.Errorf("failed to delete guest cart: %w", err)
		}
		out = user
		return nil
	})
	return out, err
}

func (c *Conf) DeleteCart(ctx context.Context, owner Owner) error {
	where, arg := ownerClause(owner)
	if _, err := c.db.ExecContext(ctx, `DELETE FROM carts WHERE `+where, arg); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}
