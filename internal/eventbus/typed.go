package eventbus

import (
	"context"
	"sync"
)

// Publish is a typed convenience wrapper around Bus.Publish.
func Publish[T any](ctx context.Context, bus *Bus, topic Topic, source Source, payload T) {
	if bus == nil {
		return
	}
	bus.Publish(ctx, Envelope{
		Topic:   topic,
		Source:  source,
		Payload: payload,
	})
}

// TypedEnvelope is a generic wrapper around Envelope with a typed payload.
type TypedEnvelope[T any] struct {
	Topic   Topic
	Source  Source
	Payload T
}

// TypedSubscription wraps a raw Subscription and delivers only payloads that
// match the type parameter T. Mismatched payloads are silently skipped.
//
// The typed channel is unbuffered; backpressure is absorbed by the raw
// subscription's buffer.
type TypedSubscription[T any] struct {
	raw       *Subscription
	ch        chan TypedEnvelope[T]
	quit      chan struct{}
	closeOnce sync.Once
}

// Subscribe creates a typed subscription on the given bus and topic. A bridge
// goroutine forwards matching payloads to the typed channel; it exits when
// the subscription closes. If bus is nil the returned subscription's channel
// is immediately closed, symmetric with Publish's nil-bus handling.
func Subscribe[T any](bus *Bus, topic Topic, opts ...SubscriptionOption) *TypedSubscription[T] {
	ts := &TypedSubscription[T]{
		ch:   make(chan TypedEnvelope[T]),
		quit: make(chan struct{}),
	}
	if bus == nil {
		close(ts.ch)
		return ts
	}
	ts.raw = bus.Subscribe(topic, opts...)
	go ts.bridge()
	return ts
}

func (ts *TypedSubscription[T]) bridge() {
	defer close(ts.ch)
	for env := range ts.raw.C() {
		payload, ok := env.Payload.(T)
		if !ok {
			continue
		}
		select {
		case ts.ch <- TypedEnvelope[T]{Topic: env.Topic, Source: env.Source, Payload: payload}:
		case <-ts.quit:
			return
		}
	}
}

// C returns the typed event channel. It is closed after Close.
func (ts *TypedSubscription[T]) C() <-chan TypedEnvelope[T] {
	return ts.ch
}

// Close unregisters the underlying subscription and stops the bridge.
func (ts *TypedSubscription[T]) Close() {
	ts.closeOnce.Do(func() {
		close(ts.quit)
		if ts.raw != nil {
			ts.raw.Close()
		}
	})
}
