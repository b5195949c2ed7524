package subscriber

import (
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/b-open-io/cellindex/pubsub"
	"github.com/b-open-io/cellindex/types"
	"github.com/b-open-io/cellindex/ulogger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	topicPrefix     = "cellindex:subscription:"
	MedianTimeTopic = "cellindex:median_time"
	eventBuffer     = 100
)

// ChangeEvent lists the live cells that appeared for one subscription in
// the inclusive block range [FromBlock, ToBlock].
type ChangeEvent struct {
	SubscriptionID string       `json:"subscription_id"`
	FromBlock      string       `json:"from_block"`
	ToBlock        string       `json:"to_block"`
	Cells          []types.Cell `json:"cells"`
}

// MedianTimeEvent carries the node's median time in milliseconds, as hex.
type MedianTimeEvent struct {
	TipNumber  string `json:"tip_number"`
	MedianTime string `json:"median_time"`
}

// Handle identifies a subscription for Unsubscribe.
type Handle interface {
	ID() string
}

// Subscription delivers decoded events of one kind. Events are handed to
// every OnChange callback and then to the Events channel; when the channel
// is full the event is dropped from the channel only.
type Subscription[T any] struct {
	id     string
	topic  string
	events chan T
	cancel context.CancelFunc
	logger ulogger.Logger

	mu       sync.Mutex
	handlers []func(T)
}

func (s *Subscription[T]) ID() string {
	return s.id
}

// Topic is the pubsub topic the subscription listens on.
func (s *Subscription[T]) Topic() string {
	return s.topic
}

func (s *Subscription[T]) OnChange(fn func(T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

// Events is closed once the subscription ends.
func (s *Subscription[T]) Events() <-chan T {
	return s.events
}

func newSubscription[T any](ctx context.Context, ps pubsub.PubSub, id, topic string, logger ulogger.Logger) (*Subscription[T], error) {
	ctx, cancel := context.WithCancel(ctx)
	raw, err := ps.Subscribe(ctx, []string{topic})
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Subscription[T]{
		id:     id,
		topic:  topic,
		events: make(chan T, eventBuffer),
		cancel: cancel,
		logger: logger,
	}
	go s.dispatch(raw)
	return s, nil
}

func (s *Subscription[T]) dispatch(raw <-chan pubsub.Event) {
	defer close(s.events)
	for msg := range raw {
		var event T
		if err := json.UnmarshalFromString(msg.Data, &event); err != nil {
			s.logger.Warnf("subscription %s: undecodable event on %s: %v", s.id, msg.Topic, err)
			continue
		}

		s.mu.Lock()
		handlers := append([]func(T){}, s.handlers...)
		s.mu.Unlock()
		for _, fn := range handlers {
			fn(event)
		}

		select {
		case s.events <- event:
		default:
			s.logger.Debugf("subscription %s: events channel full, dropping", s.id)
		}
	}
}

func (s *Subscription[T]) close() {
	s.cancel()
}
