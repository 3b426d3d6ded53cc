package redis

import (
	"context"
	"storefront/internal/notify"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConf(t *testing.T) (*Conf, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	conf, err := NewConf(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conf.Close() })
	return conf, mr
}

func TestFirstDelivery(t *testing.T) {
	conf, mr := newConf(t)
	ctx := context.Background()

	first, err := conf.FirstDelivery(ctx, "charge.success:ref-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := conf.FirstDelivery(ctx, "charge.success:ref-1")
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, conf.Forget(ctx, "charge.success:ref-1"))
	retried, err := conf.FirstDelivery(ctx, "charge.success:ref-1")
	require.NoError(t, err)
	assert.True(t, retried)

	mr.FastForward(DefaultDedupeTTL + time.Second)
	expired, err := conf.FirstDelivery(ctx, "charge.success:ref-1")
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestReviewQueue(t *testing.T) {
	conf, _ := newConf(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, conf.Schedule(ctx, notify.ReviewRequest{OrderID: "o1", UserID: "u1"}, now.Add(-time.Hour)))
	require.NoError(t, conf.Schedule(ctx, notify.ReviewRequest{OrderID: "o2", UserID: "u2"}, now.Add(time.Hour)))
	require.NoError(t, conf.Schedule(ctx, notify.ReviewRequest{OrderID: "o1", UserID: "u1", ProductIDs: []string{"p1"}}, now.Add(-time.Minute)))

	due, err := conf.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "o1", due[0].OrderID)
	assert.Equal(t, []string{"p1"}, due[0].ProductIDs)

	due, err = conf.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = conf.ClaimDue(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "u2", due[0].UserID)
}

func TestClaimDueRespectsLimit(t *testing.T) {
	conf, _ := newConf(t)
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, conf.Schedule(ctx, notify.ReviewRequest{OrderID: id}, now.Add(-time.Minute)))
	}
	due, err := conf.ClaimDue(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, due, 2)
	due, err = conf.ClaimDue(ctx, now, 2)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestNewConfFailsWithoutServer(t *testing.T) {
	_, err := NewConf(context.Background(), "127.0.0.1:1")
	assert.Error(t, err)
}
