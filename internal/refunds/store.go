package refunds

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

const requestColumns = `id, order_id, user_id, reason, status, admin_note, COALESCE(reviewed_by::text, ''),
	reviewed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (Request, error) {
	var (
		r          Request
		reviewedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.OrderID, &r.UserID, &r.Reason, &r.Status, &r.AdminNote, &r.ReviewedBy, &reviewedAt,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Request{}, err
	}
	if reviewedAt.Valid {
		r.ReviewedAt = &reviewedAt.Time
	}
	return r, nil
}

// CreateRequest inserts r. The partial unique index on active requests makes
// a second pending or approved request fail with ErrActiveRequest.
func (c *Conf) CreateRequest(ctx context.Context, r Request) (Request, error) {
	query := `
		INSERT INTO refund_requests (id, order_id, user_id, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`
	_, err := c.db.ExecContext(ctx, query, r.ID, r.OrderID, r.UserID, r.Reason, r.Status, r.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err, "refund_requests_active_idx") {
			return Request{}, ErrActiveRequest
		}
		return Request{}, fmt.Errorf("failed to insert refund request: %w", err)
	}
	r.UpdatedAt = r.CreatedAt
	return r, nil
}

func (c *Conf) GetRequest(ctx context.Context, id string) (Request, error) {
	if uuid.Validate(id) != nil {
		return Request{}, ErrNotFound
	}
	r, err := scanRequest(c.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM refund_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("failed to query refund request: %w", err)
	}
	return r, nil
}

// HasActiveRequest reports whether the order has a pending or approved request.
func (c *Conf) HasActiveRequest(ctx context.Context, orderID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM refund_requests WHERE order_id = $1 AND status IN ('pending', 'approved'))`
	var ok bool
	if err := c.db.QueryRowContext(ctx, query, orderID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check refund requests: %w", err)
	}
	return ok, nil
}

func (c *Conf) ListRequests(ctx context.Context, status Status) ([]Request, error) {
	query := `SELECT ` + requestColumns + ` FROM refund_requests`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query refund requests: %w", err)
	}
	defer rows.Close()

	var list []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refund request: %w", err)
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refund requests: %w", err)
	}
	return list, nil
}

// UpdateRequest saves the review outcome of r provided its stored status
// still equals from.
func (c *Conf) UpdateRequest(ctx context.Context, r Request, from Status) error {
	query := `
		UPDATE refund_requests
		SET status = $3, admin_note = $4, reviewed_by = NULLIF($5, '')::uuid, reviewed_at = $6, updated_at = $7
		WHERE id = $1 AND status = $2
	`
	var reviewedAt sql.NullTime
	if r.ReviewedAt != nil {
		reviewedAt = sql.NullTime{Time: *r.ReviewedAt, Valid: true}
	}
	res, err := c.db.ExecContext(ctx, query, r.ID, from, r.Status, r.AdminNote, r.ReviewedBy, reviewedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update refund request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrStaleRequest
	}
	return nil
}
