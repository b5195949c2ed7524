package pubsub

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/b-open-io/cellindex/ulogger"
)

// RedisPubSub publishes with PUBLISH and gives every Subscribe call its own
// redis subscription, so listeners in other processes see the same events.
type RedisPubSub struct {
	redisClient *redis.Client
	logger      ulogger.Logger
}

func NewRedisPubSub(ctx context.Context, redisURL string, logger ulogger.Logger) (*RedisPubSub, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if logger == nil {
		logger = ulogger.New("pubsub")
	}

	redisClient := redis.NewClient(opts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPubSub{redisClient: redisClient, logger: logger}, nil
}

func (r *RedisPubSub) Publish(ctx context.Context, topic string, data string) error {
	return r.redisClient.Publish(ctx, topic, data).Err()
}

// Subscribe waits for redis to confirm the subscription before returning,
// so an event published right after is not missed.
func (r *RedisPubSub) Subscribe(ctx context.Context, topics []string) (<-chan Event, error) {
	sub := r.redisClient.Subscribe(ctx, topics...)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %v: %w", topics, err)
	}

	events := make(chan Event, channelBuffer)
	go func() {
		defer close(events)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case events <- Event{Topic: msg.Channel, Data: msg.Payload, Source: "redis"}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

// Close closes the client; open subscriptions end with it.
func (r *RedisPubSub) Close() error {
	return r.redisClient.Close()
}
