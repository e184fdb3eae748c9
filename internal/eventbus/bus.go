// Package eventbus provides topic-based publish/subscribe messaging for
// control-plane observers: meter updates, stream lifecycle transitions, and
// barge-in interruptions.
package eventbus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Bus orchestrates topic-based publish/subscribe messaging. Delivery is
// non-blocking: subscribers that fall behind drop events rather than stall
// publishers, which may be hardware callback goroutines.
type Bus struct {
	logger       *log.Logger
	mu           sync.RWMutex
	subscribers  map[Topic]map[uint64]*Subscription
	topicBuffers map[Topic]int
	nextID       uint64
}

// BusOption customises bus behaviour.
type BusOption func(*Bus)

// WithLogger overrides the logger used for drop warnings.
func WithLogger(logger *log.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTopicBuffer sets the subscription buffer size for a given topic.
func WithTopicBuffer(topic Topic, size int) BusOption {
	return func(b *Bus) {
		if size <= 0 {
			size = 1
		}
		b.topicBuffers[topic] = size
	}
}

// New constructs a bus with default topic buffer sizes.
func New(opts ...BusOption) *Bus {
	bus := &Bus{
		logger:      log.Default(),
		subscribers: make(map[Topic]map[uint64]*Subscription),
		topicBuffers: map[Topic]int{
			TopicAudioMeters:    256,
			TopicAudioLifecycle: 64,
			TopicAudioBargeIn:   64,
		},
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

// Publish sends the envelope to all subscribers of its topic. A nil bus is a
// no-op so optional wiring stays nil-safe.
func (b *Bus) Publish(ctx context.Context, env Envelope) {
	if b == nil || env.Topic == "" {
		return
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.Source == "" {
		env.Source = SourceUnknown
	}

	b.mu.RLock()
	for _, sub := range b.subscribers[env.Topic] {
		sub.deliver(env, b.logger)
	}
	b.mu.RUnlock()
}

// Subscribe registers a subscriber for the given topic.
func (b *Bus) Subscribe(topic Topic, opts ...SubscriptionOption) *Subscription {
	sub := &Subscription{
		topic: topic,
		bus:   b,
	}
	for _, opt := range opts {
		opt(sub)
	}
	if sub.buffer <= 0 {
		sub.buffer = b.bufferFor(topic)
	}
	sub.ch = make(chan Envelope, sub.buffer)

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	subs, ok := b.subscribers[topic]
	if !ok {
		subs = make(map[uint64]*Subscription)
		b.subscribers[topic] = subs
	}
	subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

func (b *Bus) bufferFor(topic Topic) int {
	if size, ok := b.topicBuffers[topic]; ok {
		return size
	}
	return 64
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if subs, ok := b.subscribers[sub.topic]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.subscribers, sub.topic)
		}
	}
	b.mu.Unlock()
}

// SubscriptionOption customises a single subscription.
type SubscriptionOption func(*Subscription)

// WithSubscriptionName tags the subscription in drop warnings.
func WithSubscriptionName(name string) SubscriptionOption {
	return func(s *Subscription) {
		s.name = name
	}
}

// WithSubscriptionBuffer overrides the channel buffer size.
func WithSubscriptionBuffer(size int) SubscriptionOption {
	return func(s *Subscription) {
		if size > 0 {
			s.buffer = size
		}
	}
}

// Subscription is a registered topic listener.
type Subscription struct {
	topic     Topic
	id        uint64
	name      string
	buffer    int
	ch        chan Envelope
	bus       *Bus
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// C returns the event channel. It is closed by Close.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() Topic {
	return s.topic
}

// Dropped returns the number of events discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.bus != nil {
			s.bus.unsubscribe(s)
		}
		close(s.ch)
	})
}

func (s *Subscription) deliver(env Envelope, logger *log.Logger) {
	select {
	case s.ch <- env:
	default:
		if s.dropped.Add(1)%64 == 1 && logger != nil {
			logger.Printf("[EventBus] subscriber %s on %s lagging, dropping events (total=%d)", s.name, s.topic, s.Dropped())
		}
	}
}
