package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQueueEmpty is returned by Dequeue when no run arrived within the
// poll timeout.
var ErrQueueEmpty = errors.New("taskgraph: queue empty")

// RunQueue is the durable queue workers pull pipeline runs from. Payloads
// are opaque bytes (the recording manifest JSON); a run popped by a
// worker that then dies is re-driven from its TaskStore state when the
// operator re-enqueues it, since every task keyed by the same run id
// replays its cached output.
type RunQueue struct {
	client *redis.Client
	key    string
}

// NewRunQueue builds a RunQueue on client under key.
func NewRunQueue(client *redis.Client, key string) *RunQueue {
	if key == "" {
		key = "reflector:runs"
	}
	return &RunQueue{client: client, key: key}
}

// Enqueue pushes payload onto the queue.
func (q *RunQueue) Enqueue(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("taskgraph: enqueue run: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next payload, returning
// ErrQueueEmpty on expiry so callers can loop on shutdown checks.
func (q *RunQueue) Dequeue(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("taskgraph: dequeue run: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("taskgraph: unexpected brpop reply length %d", len(res))
	}
	return []byte(res[1]), nil
}

// Depth returns the number of queued runs.
func (q *RunQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("taskgraph: queue depth: %w", err)
	}
	return n, nil
}
