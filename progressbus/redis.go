package progressbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Monadical-SAS/reflector/logger"
)

// RedisBus is the Redis-backed Bus implementation. Each transcript's event
// log is a Redis Stream (ordered, append-only, replayable by cursor) plus
// a Set used to deduplicate by event ID so a re-driven task's retried
// publish does not double-append.
type RedisBus struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisBus.
type RedisOption func(*RedisBus)

// WithPrefix sets the Redis key prefix. Default is "reflector".
func WithPrefix(prefix string) RedisOption {
	return func(b *RedisBus) { b.prefix = prefix }
}

// NewRedisBus builds a RedisBus over an existing redis.Client.
func NewRedisBus(client *redis.Client, opts ...RedisOption) *RedisBus {
	b := &RedisBus{client: client, prefix: "reflector"}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBus) streamKey(transcriptID string) string {
	return fmt.Sprintf("%s:progress:%s:stream", b.prefix, transcriptID)
}

func (b *RedisBus) seenKey(transcriptID string) string {
	return fmt.Sprintf("%s:progress:%s:seen", b.prefix, transcriptID)
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, transcriptID string, event Event) error {
	added, err := b.client.SAdd(ctx, b.seenKey(transcriptID), event.ID).Result()
	if err != nil {
		return fmt.Errorf("progressbus: dedup check: %w", err)
	}
	if added == 0 {
		logger.DebugContext(ctx, "progressbus: duplicate event suppressed", "transcript_id", transcriptID, "event_id", event.ID)
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("progressbus: marshal event: %w", err)
	}

	_, err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.streamKey(transcriptID),
		Values: map[string]any{"payload": payload},
	}).Result()
	if err != nil {
		// Unmark the ID so a retried publish is not suppressed as a
		// duplicate of an event that was never appended.
		b.client.SRem(ctx, b.seenKey(transcriptID), event.ID)
		return fmt.Errorf("progressbus: xadd: %w", err)
	}
	return nil
}

// Subscribe implements Bus. It first replays the durable suffix of the
// stream after cursor, then blocks for new entries until ctx is done or
// stop is called.
func (b *RedisBus) Subscribe(ctx context.Context, transcriptID, cursor string) (<-chan Event, func(), error) {
	if cursor == "" {
		cursor = "0"
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan Event, 64)

	go func() {
		defer close(out)
		last := cursor
		for {
			res, err := b.client.XRead(subCtx, &redis.XReadArgs{
				Streams: []string{b.streamKey(transcriptID), last},
				Block:   2 * time.Second,
				Count:   100,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
					if subCtx.Err() != nil {
						return
					}
					continue
				}
				logger.ErrorContext(subCtx, "progressbus: xread failed", "transcript_id", transcriptID, "error", err)
				return
			}
			for _, stream := range res {
				for _, msg := range stream.Messages {
					var ev Event
					raw, _ := msg.Values["payload"].(string)
					if err := json.Unmarshal([]byte(raw), &ev); err != nil {
						logger.ErrorContext(subCtx, "progressbus: decode event failed", "error", err)
						continue
					}
					select {
					case out <- ev:
					case <-subCtx.Done():
						return
					}
					last = msg.ID
				}
			}
		}
	}()

	return out, cancel, nil
}
