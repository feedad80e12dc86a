package events

import (
	"sync"
	"sync/atomic"

	"github.com/Dea1h/AtlasEngine/internal/common"
	"github.com/Dea1h/AtlasEngine/internal/sink"
)

const defaultBufferSize = 100

// EventBus is a concurrent-safe publish-subscribe bus for decoded results.
// Publishing never blocks: a result is dropped for any subscriber whose
// buffer is full, and the drop is counted.
type EventBus struct {
	// subscribers maps topics to the set of subscriber channels
	subscribers   map[common.Topic]map[chan sink.Result]struct{}
	subscribersMu sync.RWMutex

	bufferSize int
	dropped    atomic.Uint64
	onDrop     func(topic common.Topic)
	closed     bool
}

// Option configures an EventBus.
type Option func(*EventBus)

// WithBufferSize sets the buffer size of subscriber channels.
func WithBufferSize(n int) Option {
	return func(b *EventBus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithDropHook registers a callback invoked for every dropped result.
func WithDropHook(fn func(topic common.Topic)) Option {
	return func(b *EventBus) { b.onDrop = fn }
}

func NewEventBus(opts ...Option) *EventBus {
	b := &EventBus{
		subscribers: make(map[common.Topic]map[chan sink.Result]struct{}),
		bufferSize:  defaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish sends res to every subscriber of topic without blocking.
func (b *EventBus) Publish(topic common.Topic, res sink.Result) {
	b.subscribersMu.RLock()
	defer b.subscribersMu.RUnlock()

	for ch := range b.subscribers[topic] {
		select {
		case ch <- res:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(topic)
			}
		}
	}
}

// Subscribe returns a buffered channel receiving results published to topic.
// Callers should Unsubscribe when done. Subscribing after Shutdown returns a
// closed channel.
func (b *EventBus) Subscribe(topic common.Topic) <-chan sink.Result {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()

	ch := make(chan sink.Result, b.bufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[chan sink.Result]struct{})
	}
	b.subscribers[topic][ch] = struct{}{}
	return ch
}

// Unsubscribe removes ch from topic and closes it. It is idempotent.
//
//	ch := bus.Subscribe(common.TopicTrade)
//	defer bus.Unsubscribe(common.TopicTrade, ch)
func (b *EventBus) Unsubscribe(topic common.Topic, ch <-chan sink.Result) {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()

	subscribers, ok := b.subscribers[topic]
	if !ok {
		return
	}
	for subCh := range subscribers {
		if ch == subCh {
			delete(subscribers, subCh)
			close(subCh)
			break
		}
	}
	if len(subscribers) == 0 {
		delete(b.subscribers, topic)
	}
}

// Shutdown closes all subscriber channels. Later publishes are no-ops.
func (b *EventBus) Shutdown() {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for topic, subscribers := range b.subscribers {
		for ch := range subscribers {
			close(ch)
		}
		delete(b.subscribers, topic)
	}
}

// TopicSubscriberCount returns the number of subscribers for a topic.
func (b *EventBus) TopicSubscriberCount(topic common.Topic) int {
	b.subscribersMu.RLock()
	defer b.subscribersMu.RUnlock()

	return len(b.subscribers[topic])
}

// Dropped returns how many results were dropped because a subscriber was full.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}
