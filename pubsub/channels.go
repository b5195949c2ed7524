package pubsub

import (
	"context"
	"sync"

	"github.com/b-open-io/cellindex/ulogger"
)

const channelBuffer = 100

// ChannelPubSub implements PubSub with Go channels. Publishing never blocks
// on a slow subscriber: a full channel drops the event.
type ChannelPubSub struct {
	subscribers map[string][]chan Event // topic -> subscriber channels
	mu          sync.RWMutex
	logger      ulogger.Logger
	closed      bool
}

func NewChannelPubSub(logger ulogger.Logger) *ChannelPubSub {
	if logger == nil {
		logger = ulogger.New("pubsub")
	}
	return &ChannelPubSub{
		subscribers: make(map[string][]chan Event),
		logger:      logger,
	}
}

// Publish sends data to every subscriber of topic.
func (cp *ChannelPubSub) Publish(ctx context.Context, topic string, data string) error {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	if cp.closed {
		return ErrClosed
	}

	event := Event{Topic: topic, Data: data, Source: "channels"}
	sent := 0
	for _, ch := range cp.subscribers[topic] {
		select {
		case ch <- event:
			sent++
		case <-ctx.Done():
			return ctx.Err()
		default:
			cp.logger.Warnf("dropping event on %s: subscriber channel full", topic)
		}
	}
	cp.logger.Debugf("published to %s: %d/%d subscribers", topic, sent, len(cp.subscribers[topic]))
	return nil
}

// Subscribe registers a buffered channel on topics until ctx is done.
func (cp *ChannelPubSub) Subscribe(ctx context.Context, topics []string) (<-chan Event, error) {
	eventChan := make(chan Event, channelBuffer)

	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil, ErrClosed
	}
	for _, topic := range topics {
		cp.subscribers[topic] = append(cp.subscribers[topic], eventChan)
	}
	cp.mu.Unlock()

	go func() {
		<-ctx.Done()
		cp.unsubscribeChannel(eventChan, topics)
	}()

	return eventChan, nil
}

// unsubscribeChannel removes eventChan from topics and closes it, unless
// Close already did.
func (cp *ChannelPubSub) unsubscribeChannel(eventChan chan Event, topics []string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.closed {
		return
	}

	for _, topic := range topics {
		subscribers := cp.subscribers[topic]
		for i, ch := range subscribers {
			if ch == eventChan {
				cp.subscribers[topic] = append(subscribers[:i:i], subscribers[i+1:]...)
				break
			}
		}
		if len(cp.subscribers[topic]) == 0 {
			delete(cp.subscribers, topic)
		}
	}
	close(eventChan)
}

// Close closes every subscriber channel. Later calls to Publish and
// Subscribe return ErrClosed.
func (cp *ChannelPubSub) Close() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.closed {
		return nil
	}
	cp.closed = true

	seen := make(map[chan Event]bool)
	for _, subscribers := range cp.subscribers {
		for _, ch := range subscribers {
			if !seen[ch] {
				seen[ch] = true
				close(ch)
			}
		}
	}
	cp.subscribers = make(map[string][]chan Event)
	return nil
}
