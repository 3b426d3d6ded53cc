package kafka

import (
	"context"
	"encoding/json"
	"storefront/internal/notify"
	"storefront/pkg/ctxmanage"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	ctx := ctxmanage.WithTraceId(context.Background(), "trace-1")
	e, err := notify.NewEvent(ctx, notify.OrderPaid, "order-1", notify.OrderEvent{OrderID: "order-1", Status: "confirmed"})
	require.NoError(t, err)

	rec, err := Record(e)
	require.NoError(t, err)
	assert.Equal(t, "storefront.order.paid", rec.Topic)
	assert.Equal(t, []byte("order-1"), rec.Key)

	headers := map[string]string{}
	for _, h := range rec.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "order.paid", headers[HeaderEventType])
	assert.Equal(t, "trace-1", headers[HeaderTraceID])

	var decoded notify.Event
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.JSONEq(t, string(e.Payload), string(decoded.Payload))
}

func TestRecordWithoutTrace(t *testing.T) {
	e := notify.Event{ID: "e1", Type: notify.ReviewRequested, Key: "order-2", Payload: json.RawMessage(`{}`)}
	rec, err := Record(e)
	require.NoError(t, err)
	assert.Len(t, rec.Headers, 1)
}

func TestTopicsCoverEveryEvent(t *testing.T) {
	assert.Len(t, Topics, 6)
	assert.Contains(t, Topics, "storefront.review.requested")
}

func TestNewConfRequiresBrokers(t *testing.T) {
	_, err := NewConf(nil, "storefront")
	assert.Error(t, err)
}
