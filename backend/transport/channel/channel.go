// Package channel is an in-process transport.Broker built on Go channels.
package channel

import (
	"context"
	"sync"

	"Co-Edit/backend/transport"
	"Co-Edit/backend/types"
)

const defaultBuffer = 256

// NewBroker returns a broker whose subscriptions buffer up to buffer
// messages. A subscriber that falls behind loses messages instead of blocking
// publishers.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broker{
		buffer: buffer,
		topics: make(map[string]map[*subscription]struct{}),
	}
}

// NewTransport returns a broker with the default buffer.
func NewTransport() transport.Broker {
	return NewBroker(defaultBuffer)
}

// Broker keeps the subscribers of every topic.
//
// - implements transport.Broker
type Broker struct {
	mu     sync.Mutex
	buffer int
	closed bool
	topics map[string]map[*subscription]struct{}
}

var _ transport.Broker = (*Broker)(nil)

// Publish implements transport.Broker
func (b *Broker) Publish(_ context.Context, topic string, msg types.TopicMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return transport.ErrClosed
	}

	msg.Topic = topic
	for sub := range b.topics[topic] {
		select {
		case sub.messages <- msg:
		default:
		}
	}
	return nil
}

// Subscribe implements transport.Broker
func (b *Broker) Subscribe(ctx context.Context, topics ...string) (transport.Subscription, error) {
	sub := &subscription{
		broker:   b,
		messages: make(chan types.TopicMessage, b.buffer),
		topics:   make(map[string]struct{}),
	}

	err := sub.Add(ctx, topics...)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Close implements transport.Broker. Every subscription is closed.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	closed := make(map[*subscription]struct{})
	for _, subs := range b.topics {
		for sub := range subs {
			if _, ok := closed[sub]; !ok {
				closed[sub] = struct{}{}
				sub.closed = true
				close(sub.messages)
			}
		}
	}
	b.topics = make(map[string]map[*subscription]struct{})
	return nil
}

// subscription fields are guarded by the broker's mutex.
//
// - implements transport.Subscription
type subscription struct {
	broker   *Broker
	messages chan types.TopicMessage
	topics   map[string]struct{}
	closed   bool
}

func (s *subscription) Messages() <-chan types.TopicMessage {
	return s.messages
}

func (s *subscription) Add(_ context.Context, topics ...string) error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()

	if s.broker.closed || s.closed {
		return transport.ErrClosed
	}

	for _, topic := range topics {
		subs, ok := s.broker.topics[topic]
		if !ok {
			subs = make(map[*subscription]struct{})
			s.broker.topics[topic] = subs
		}
		subs[s] = struct{}{}
		s.topics[topic] = struct{}{}
	}
	return nil
}

func (s *subscription) Remove(_ context.Context, topics ...string) error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()

	for _, topic := range topics {
		s.broker.unsubscribe(s, topic)
	}
	return nil
}

func (s *subscription) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()

	if s.closed {
		return nil
	}
	for topic := range s.topics {
		s.broker.unsubscribe(s, topic)
	}
	s.closed = true
	close(s.messages)
	return nil
}

// unsubscribe removes s from topic. Caller holds mu.
func (b *Broker) unsubscribe(s *subscription, topic string) {
	delete(s.topics, topic)

	subs, ok := b.topics[topic]
	if !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
}
