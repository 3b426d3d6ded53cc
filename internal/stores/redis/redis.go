// Package redis keeps short-lived coordination state in Redis: webhook
// delivery markers and the delayed review-request queue.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"storefront/internal/notify"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ReviewQueueKey   = "review-requests"
	reviewPayloadKey = "review-requests:payload"
	webhookKeyPrefix = "webhook:"
	DefaultDedupeTTL = 72 * time.Hour
)

type Conf struct {
	client    *redis.Client
	dedupeTTL time.Duration
}

func NewConf(ctx context.Context, addr string) (*Conf, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &Conf{client: client, dedupeTTL: DefaultDedupeTTL}, nil
}

func (r *Conf) Close() error {
	return r.client.Close()
}

// FirstDelivery marks key as seen and reports whether this call was the
// first to do so within the dedupe window.
func (r *Conf) FirstDelivery(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, webhookKeyPrefix+key, time.Now().UTC().Format(time.RFC3339), r.dedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Forget clears a delivery marker so a retried delivery is processed again.
func (r *Conf) Forget(ctx context.Context, key string) error {
	return r.client.Del(ctx, webhookKeyPrefix+key).Err()
}

// Schedule queues a review request for due. Scheduling the same order again
// replaces the earlier request.
func (r *Conf) Schedule(ctx context.Context, req notify.ReviewRequest, due time.Time) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal review request: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, reviewPayloadKey, req.OrderID, payload)
		p.ZAdd(ctx, ReviewQueueKey, redis.Z{Score: float64(due.Unix()), Member: req.OrderID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule review request: %w", err)
	}
	return nil
}

// ClaimDue removes and returns up to limit requests due by now. An entry is
// claimed by whoever removes it from the sorted set, so concurrent workers
// never publish the same request twice.
func (r *Conf) ClaimDue(ctx context.Context, now time.Time, limit int) ([]notify.ReviewRequest, error) {
	ids, err := r.client.ZRangeByScore(ctx, ReviewQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore: %w", err)
	}

	var out []notify.ReviewRequest
	for _, id := range ids {
		removed, err := r.client.ZRem(ctx, ReviewQueueKey, id).Result()
		if err != nil {
			return out, fmt.Errorf("redis zrem: %w", err)
		}
		if removed == 0 {
			continue
		}
		raw, err := r.client.HGet(ctx, reviewPayloadKey, id).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return out, fmt.Errorf("redis hget: %w", err)
		}
		r.client.HDel(ctx, reviewPayloadKey, id)

		var req notify.ReviewRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return out, fmt.Errorf("failed to decode review request %s: %w", id, err)
		}
		out = append(out, req)
	}
	return out, nil
}
