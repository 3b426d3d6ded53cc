package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func TestMemoryQueueClaimsDueInOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var q MemoryQueue

	require.NoError(t, q.Schedule(ctx, ReviewRequest{OrderID: "late"}, now.Add(time.Hour)))
	require.NoError(t, q.Schedule(ctx, ReviewRequest{OrderID: "b"}, now.Add(-time.Minute)))
	require.NoError(t, q.Schedule(ctx, ReviewRequest{OrderID: "a"}, now.Add(-time.Hour)))
	require.NoError(t, q.Schedule(ctx, ReviewRequest{OrderID: "b", UserID: "u2"}, now.Add(-time.Minute)))

	due, err := q.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].OrderID)
	assert.Equal(t, "u2", due[1].UserID, "rescheduling replaces the earlier request")

	due, err = q.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = q.ClaimDue(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestWorkerTickPublishesDueRequests(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	q := &MemoryQueue{}
	pub := &recorder{}
	w := NewReviewRequestWorker(q, pub, time.Minute)
	w.now = func() time.Time { return now }
	w.batch = 2

	for i, id := range []string{"o1", "o2", "o3"} {
		due := now.Add(time.Duration(i-3) * time.Second)
		require.NoError(t, q.Schedule(ctx, ReviewRequest{OrderID: id, ProductIDs: []string{"p"}}, due))
	}

	n, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, pub.events, 3)
	e := pub.events[0]
	assert.Equal(t, ReviewRequested, e.Type)
	assert.Equal(t, "o1", e.Key)
	var payload ReviewRequest
	require.NoError(t, json.Unmarshal(e.Payload, &payload))
	assert.Equal(t, []string{"p"}, payload.ProductIDs)
}

func TestEmitSwallowsPublisherErrors(t *testing.T) {
	assert.NotPanics(t, func() {
		Emit(context.Background(), failing{}, OrderPaid, "o1", OrderEvent{OrderID: "o1"})
		Emit(context.Background(), nil, OrderPaid, "o1", OrderEvent{OrderID: "o1"})
	})
	assert.Equal(t, "storefront.order.paid", Topic(OrderPaid))
}

type failing struct{}

func (failing) Publish(ctx context.Context, e Event) error { return assert.AnError }
