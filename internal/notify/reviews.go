package notify

import (
	"context"
	"log/slog"
	"slices"
	"storefront/pkg/logkey"
	"sync"
	"time"
)

// ReviewQueue holds review requests until they fall due.
type ReviewQueue interface {
	Schedule(ctx context.Context, req ReviewRequest, due time.Time) error
	// ClaimDue removes and returns up to limit requests due at or before now.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]ReviewRequest, error)
}

type ReviewRequestWorker struct {
	queue    ReviewQueue
	pub      Publisher
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewReviewRequestWorker(queue ReviewQueue, pub Publisher, interval time.Duration) *ReviewRequestWorker {
	return &ReviewRequestWorker{queue: queue, pub: pub, interval: interval, batch: 100, now: time.Now}
}

// Run polls the queue until ctx is cancelled.
func (w *ReviewRequestWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil {
				slog.Error("review request poll failed", slog.String(logkey.ERROR, err.Error()))
			}
		}
	}
}

// Tick publishes every request that is due and reports how many it handled.
func (w *ReviewRequestWorker) Tick(ctx context.Context) (int, error) {
	due, err := w.queue.ClaimDue(ctx, w.now(), w.batch)
	if err != nil {
		return 0, err
	}
	for _, req := range due {
		Emit(ctx, w.pub, ReviewRequested, req.OrderID, req)
	}
	return len(due), nil
}

// MemoryQueue is the in-process ReviewQueue used when Redis is not configured.
// Pending requests are lost on restart.
type MemoryQueue struct {
	mu      sync.Mutex
	entries []memoryEntry
}

type memoryEntry struct {
	req ReviewRequest
	due time.Time
}

func (q *MemoryQueue) Schedule(ctx context.Context, req ReviewRequest, due time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = slices.DeleteFunc(q.entries, func(e memoryEntry) bool { return e.req.OrderID == req.OrderID })
	q.entries = append(q.entries, memoryEntry{req: req, due: due})
	return nil
}

func (q *MemoryQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]ReviewRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	slices.SortFunc(q.entries, func(a, b memoryEntry) int { return a.due.Compare(b.due) })

	var out []ReviewRequest
	n := 0
	for n < len(q.entries) && len(out) < limit && !q.entries[n].due.After(now) {
		out = append(out, q.entries[n].req)
		n++
	}
	q.entries = q.entries[n:]
	return out, nil
}
