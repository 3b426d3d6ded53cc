package reviews

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockConf(t *testing.T) (Conf, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := NewConf(db)
	require.NoError(t, err)
	return c, mock
}

func reviewRow(id string, status Status, reports int, visible bool, at time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "product_id", "rating", "title", "comment",
		"is_verified_purchase", "moderation_status", "moderation_reason", "moderated_by", "moderated_at",
		"helpful_votes", "report_count", "is_visible", "created_at", "updated_at"}).
		AddRow(id, uuid.NewString(), uuid.NewString(), 4, "Nice", "", true, string(status), "", "", nil,
			0, reports, visible, at, at)
}

func TestAddReportFlagsInsideTransaction(t *testing.T) {
	c, mock := newMockConf(t)
	id := uuid.NewString()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM reviews WHERE id = $1 FOR UPDATE")).
		WithArgs(id).
		WillReturnRows(reviewRow(id, StatusApproved, AutoFlagThreshold-1, true, at))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO review_reports")).
		WithArgs(id, "u1", "spam").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reviews SET report_count = report_count + 1")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET moderation_status = $2")).
		WithArgs(id, "flagged", "Automatically flagged after 5 reports", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	r, flagged, err := c.AddReport(context.Background(), id, "u1", "spam", at)
	require.NoError(t, err)
	assert.True(t, flagged)
	assert.Equal(t, StatusFlagged, r.Status)
	assert.False(t, r.IsVisible)
	assert.Equal(t, AutoFlagThreshold, r.ReportCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddReportBelowThresholdLeavesStatus(t *testing.T) {
	c, mock := newMockConf(t)
	id := uuid.NewString()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM reviews WHERE id = $1 FOR UPDATE")).
		WithArgs(id).
		WillReturnRows(reviewRow(id, StatusApproved, 1, true, at))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO review_reports")).
		WithArgs(id, "u1", "spam").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE reviews SET report_count = report_count + 1")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	r, flagged, err := c.AddReport(context.Background(), id, "u1", "spam", at)
	require.NoError(t, err)
	assert.False(t, flagged)
	assert.Equal(t, StatusApproved, r.Status)
	assert.Equal(t, 2, r.ReportCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
