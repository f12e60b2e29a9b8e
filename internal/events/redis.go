package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultStreamMaxLen = 10_000

// RedisPublisher appends events to a Redis stream, trimmed to an approximate
// maximum length.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisPublisher(ctx context.Context, url, stream string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisPublisher{client: client, stream: stream, maxLen: defaultStreamMaxLen}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	if err := p.client.XAdd(ctx, xaddArgs(p.stream, p.maxLen, ev)).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

func xaddArgs(stream string, maxLen int64, ev Event) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{
			"type":    string(ev.Type),
			"id":      ev.ID.String(),
			"tx_hash": ev.Alert.TransactionHash,
			"payload": lazyPayload{ev},
		},
	}
}

// lazyPayload defers JSON encoding to the redis client's argument writer.
type lazyPayload struct{ ev Event }

func (l lazyPayload) MarshalBinary() ([]byte, error) {
	return l.ev.payload()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
