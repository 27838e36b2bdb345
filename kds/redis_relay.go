package kds

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const DefaultRelayChannel = "table-order:orders"

// RedisRelay shares published events between instances over a Redis
// pub/sub channel.
type RedisRelay struct {
	client  *redis.Client
	channel string
}

func NewRedisRelay(client *redis.Client, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{client: client, channel: channel}
}

// NewRedisRelayFromURL parses a redis:// URL and checks connectivity.
func NewRedisRelayFromURL(ctx context.Context, url string) (*RedisRelay, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisRelay(client, ""), nil
}

func (r *RedisRelay) Publish(ctx context.Context, frame []byte) error {
	return r.client.Publish(ctx, r.channel, frame).Err()
}

func (r *RedisRelay) Listen(ctx context.Context, deliver func(frame []byte)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			deliver([]byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}
