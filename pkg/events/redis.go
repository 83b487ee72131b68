package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
)

// RedisPublisher appends events to a Redis stream.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisPublisher(client *redis.Client, stream string, maxLen int64) *RedisPublisher {
	stream = strings.TrimSpace(stream)
	if stream == "" {
		stream = "docs:events"
	}
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisPublisher) Publish(ctx context.Context, evt domain.Event) error {
	data, err := encode(evt)
	if err != nil {
		return err
	}
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id": evt.ID,
			"action":   evt.Action,
			"payload":  string(data),
		},
	}).Err(); err != nil {
		return fmt.Errorf("publish event to redis: %w", err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (p *RedisPublisher) Close() error { return nil }
