package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"storefront/internal/stores/postgres"
	"time"

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

const userColumns = `id, email, name, phone, password_hash, role, addresses, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var (
		u         User
		addresses []byte
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Phone, &u.PasswordHash, &u.Role, &addresses, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("failed to query user: %w", err)
	}
	if err := json.Unmarshal(addresses, &u.Addresses); err != nil {
		return User{}, fmt.Errorf("failed to decode addresses: %w", err)
	}
	if u.Addresses == nil {
		u.Addresses = []Address{}
	}
	return u, nil
}

// InsertUser stores a new account. Emails are unique regardless of case.
func (c *Conf) InsertUser(ctx context.Context, u User) (User, error) {
	query := `
		INSERT INTO users (id, email, name, phone, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`
	_, err := c.db.ExecContext(ctx, query, u.ID, u.Email, u.Name, u.Phone, u.PasswordHash, u.Role, u.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err, "users_email_lower_idx") {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	u.UpdatedAt = u.CreatedAt
	if u.Addresses == nil {
		u.Addresses = []Address{}
	}
	return u, nil
}

func (c *Conf) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(c.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

func (c *Conf) GetUserByID(ctx context.Context, id string) (User, error) {
	if uuid.Validate(id) != nil {
		return User{}, ErrNotFound
	}
	return scanUser(c.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// SaveAddresses replaces the user's address book.
func (c *Conf) SaveAddresses(ctx context.Context, userID string, addresses []Address) error {
	raw, err := json.Marshal(addresses)
	if err != nil {
		return fmt.Errorf("failed to encode addresses: %w", err)
	}
	res, err := c.db.ExecContext(ctx, `UPDATE users SET addresses = $2, updated_at = NOW() WHERE id = $1`, userID, raw)
	if err != nil {
		return fmt.Errorf("failed to save addresses: %w", err)
	}
	return expectOne(res)
}

func (c *Conf) SetRole(ctx context.Context, userID string, role Role) error {
	res, err := c.db.ExecContext(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, userID, role)
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddToWishlist is idempotent: adding a product twice keeps the first timestamp.
func (c *Conf) AddToWishlist(ctx context.Context, userID, productID string, at time.Time) error {
	query := `
		INSERT INTO wishlist_items (user_id, product_id, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id) DO NOTHING
	`
	if _, err := c.db.ExecContext(ctx, query, userID, productID, at); err != nil {
		return fmt.Errorf("failed to add wishlist item: %w", err)
	}
	return nil
}

func (c *Conf) RemoveFromWishlist(ctx context.Context, userID, productID string) error {
	if uuid.Validate(productID) != nil {
		return nil
	}
	_, err := c.db.ExecContext(ctx, `DELETE FROM wishlist_items WHERE user_id = $1 AND product_id = $2`, userID, productID)
	if err != nil {
		return fmt.Errorf("failed to remove wishlist item: %w", err)
	}
	return nil
}

func (c *Conf) ListWishlist(ctx context.Context, userID string) ([]WishlistItem, error) {
	query := `SELECT product_id, added_at FROM wishlist_items WHERE user_id = $1 ORDER BY added_at DESC`
	rows, err := c.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query wishlist: %w", err)
	}
	defer rows.Close()

	var list []WishlistItem
	for rows.Next() {
		var it WishlistItem
		if err := rows.Scan(&it.ProductID, &it.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wishlist item: %w", err)
		}
		list = append(list, it)
	}
	return list, rows.Err()
}
