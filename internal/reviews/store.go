package reviews

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"storefront/internal/stores/postgres"
	"strings"
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

const reviewColumns = `id, user_id, product_id, rating, title, comment, is_verified_purchase, moderation_status,
	moderation_reason, COALESCE(moderated_by::text, ''), moderated_at, helpful_votes, report_count, is_visible,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (Review, error) {
	var (
		r           Review
		moderatedAt sql.NullTime
	)
	err := row.Scan(&r.ID, &r.UserID, &r.ProductID, &r.Rating, &r.Title, &r.Comment, &r.IsVerifiedPurchase, &r.Status,
		&r.Reason, &r.ModeratedBy, &moderatedAt, &r.HelpfulVotes, &r.ReportCount, &r.IsVisible, &r.CreatedAt,
		&r.UpdatedAt)
	if err != nil {
		return Review{}, err
	}
	if moderatedAt.Valid {
		r.ModeratedAt = &moderatedAt.Time
	}
	return r, nil
}

func (c *Conf) InsertReview(ctx context.Context, r Review) (Review, error) {
	query := `
		INSERT INTO reviews (id, user_id, product_id, rating, title, comment, is_verified_purchase, moderation_status,
			is_visible, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`
	_, err := c.db.ExecContext(ctx, query, r.ID, r.UserID, r.ProductID, r.Rating, r.Title, r.Comment,
		r.IsVerifiedPurchase, r.Status, r.IsVisible, r.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err, "reviews_user_product_key") {
			return Review{}, ErrDuplicate
		}
		return Review{}, fmt.Errorf("failed to insert review: %w", err)
	}
	r.UpdatedAt = r.CreatedAt
	return r, nil
}

func (c *Conf) GetReview(ctx context.Context, id string) (Review, error) {
	return c.getReview(ctx, c.db, id, false)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *Conf) getReview(ctx context.Context, q querier, id string, forUpdate bool) (Review, error) {
	if uuid.Validate(id) != nil {
		return Review{}, ErrNotFound
	}
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	r, err := scanReview(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Review{}, ErrNotFound
		}
		return Review{}, fmt.Errorf("failed to query review: %w", err)
	}
	return r, nil
}

func (c *Conf) ListReviews(ctx context.Context, f Filter) ([]Review, error) {
	var (
		where []string
		args  []any
	)
	if f.ProductID != "" {
		args = append(args, f.ProductID)
		where = append(where, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("moderation_status = $%d", len(args)))
	}
	if f.VisibleOnly {
		where = append(where, "is_visible")
	}
	query := `SELECT ` + reviewColumns + ` FROM reviews`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	var list []Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reviews: %w", err)
	}
	return list, nil
}

// AddVote records a helpful vote. Each user votes on a review at most once.
func (c *Conf) AddVote(ctx context.Context, reviewID, userID string) (Review, error) {
	var out Review
	err := postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		r, err := c.getReview(ctx, tx, reviewID, true)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO review_votes (review_id, user_id) VALUES ($1, $2)`, reviewID, userID)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrAlreadyVoted
			}
			return fmt.Errorf("failed to insert vote: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE reviews SET helpful_votes = helpful_votes + 1 WHERE id = $1`, reviewID); err != nil {
			return fmt.Errorf("failed to count vote: %w", err)
		}
		r.HelpfulVotes++
		out = r
		return nil
	})
	return out, err
}

// AddReport records a report against a review, one per user, and returns
// the review with its new report count. The review is flagged in the same
// transaction once the count reaches AutoFlagThreshold; flagged reports
// whether this report did it.
func (c *Conf) AddReport(ctx context.Context, reviewID, userID, reason string, at time.Time) (Review, bool, error) {
	var (
		out     Review
		flagged bool
	)
	err := postgres.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		r, err := c.getReview(ctx, tx, reviewID, true)
		if err != nil {
			return err
		}
		query := `INSERT INTO review_reports (review_id, user_id, reason) VALUES ($1, $2, $3)`
		if _, err := tx.ExecContext(ctx, query, reviewID, userID, reason); err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrAlreadyReported
			}
			return fmt.Errorf("failed to insert report: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE reviews SET report_count = report_count + 1 WHERE id = $1`, reviewID); err != nil {
			return fmt.Errorf("failed to count report: %w", err)
		}
		r.ReportCount++
		if r.AutoFlag(at) {
			query := `
				UPDATE reviews
				SET moderation_status = $2, moderation_reason = $3, moderated_by = NULL, moderated_at = $4,
					is_visible = FALSE, updated_at = $4
				WHERE id = $1
			`
			if _, err := tx.ExecContext(ctx, query, reviewID, r.Status, r.Reason, at); err != nil {
				return fmt.Errorf("failed to flag review: %w", err)
			}
			flagged = true
		}
		out = r
		return nil
	})
	if err != nil {
		return Review{}, false, err
	}
	return out, flagged, nil
}

func (c *Conf) SaveModeration(ctx context.Context, r Review) error {
	query := `
		UPDATE reviews
		SET moderation_status = $2, moderation_reason = $3, moderated_by = NULLIF($4, '')::uuid, moderated_at = $5,
			is_visible = $6, updated_at = $7
		WHERE id = $1
	`
	var at sql.NullTime
	if r.ModeratedAt != nil {
		at = sql.NullTime{Time: *r.ModeratedAt, Valid: true}
	}
	res, err := c.db.ExecContext(ctx, query, r.ID, r.Status, r.Reason, r.ModeratedBy, at, r.IsVisible, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save moderation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// StarCounts counts the approved, visible reviews of a product per rating.
func (c *Conf) StarCounts(ctx context.Context, productID string) (map[int]int, error) {
	query := `
		SELECT rating, COUNT(*)
		FROM reviews
		WHERE product_id = $1 AND moderation_status = 'approved' AND is_visible
		GROUP BY rating
	`
	rows, err := c.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to count ratings: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int, 5)
	for rows.Next() {
		var star, n int
		if err := rows.Scan(&star, &n); err != nil {
			return nil, fmt.Errorf("failed to scan rating count: %w", err)
		}
		counts[star] = n
	}
	return counts, rows.Err()
}
