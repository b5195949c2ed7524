// Package pubsub carries change notifications from the polling loop to
// listeners, either inside one process or across processes through redis.
package pubsub

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("pubsub closed")

// Event is one message received on a topic. Data is the raw payload as
// published, usually a JSON document.
type Event struct {
	Topic  string `json:"topic"`
	Data   string `json:"data"`
	Source string `json:"source"` // "channels" or "redis"
}

// PubSub publishes to and subscribes on named topics. A subscription ends
// and its channel is closed when the context passed to Subscribe is done.
type PubSub interface {
	Publish(ctx context.Context, topic string, data string) error
	Subscribe(ctx context.Context, topics []string) (<-chan Event, error)
	Close() error
}
