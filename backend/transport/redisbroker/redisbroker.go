// Package redisbroker is a transport.Broker on Redis pub/sub, so clients
// connected to different server instances see the same messages.
package redisbroker

import (
	"context"
	"encoding/json"
	"sync"

	"Co-Edit/backend/transport"
	"Co-Edit/backend/types"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Broker publishes JSON encoded topic messages on Redis channels named after
// the topics.
//
// - implements transport.Broker
type Broker struct {
	client redis.UniversalClient
	log    zerolog.Logger
}

var _ transport.Broker = (*Broker)(nil)

// NewBroker wraps client. Closing the broker does not close the client.
func NewBroker(client redis.UniversalClient, log zerolog.Logger) *Broker {
	return &Broker{client: client, log: log}
}

// Publish implements transport.Broker
func (b *Broker) Publish(ctx context.Context, topic string, msg types.TopicMessage) error {
	msg.Topic = topic

	data, err := json.Marshal(msg)
	if err != nil {
		return xerrors.Errorf("failed to marshal message for %s: %v", topic, err)
	}

	err = b.client.Publish(ctx, topic, data).Err()
	if err != nil {
		return xerrors.Errorf("failed to publish on %s: %w", topic, err)
	}
	return nil
}

// Subscribe implements transport.Broker
func (b *Broker) Subscribe(ctx context.Context, topics ...string) (transport.Subscription, error) {
	pubsub := b.client.Subscribe(ctx, topics...)

	// wait for the subscription to be confirmed so no message published
	// right after Subscribe returns is missed
	if len(topics) > 0 {
		_, err := pubsub.Receive(ctx)
		if err != nil {
			pubsub.Close()
			return nil, xerrors.Errorf("failed to subscribe: %w", err)
		}
	}

	sub := &subscription{
		pubsub:   pubsub,
		messages: make(chan types.TopicMessage, 256),
		done:     make(chan struct{}),
		log:      b.log,
	}
	go sub.forward()

	return sub, nil
}

// Close implements transport.Broker
func (b *Broker) Close() error {
	return nil
}

// - implements transport.Subscription
type subscription struct {
	pubsub   *redis.PubSub
	messages chan types.TopicMessage
	done     chan struct{}
	log      zerolog.Logger

	closeOnce sync.Once
}

func (s *subscription) forward() {
	defer close(s.messages)

	for raw := range s.pubsub.Channel() {
		var msg types.TopicMessage
		err := json.Unmarshal([]byte(raw.Payload), &msg)
		if err != nil {
			s.log.Warn().Err(err).Str("topic", raw.Channel).Msg("dropping undecodable message")
			continue
		}
		msg.Topic = raw.Channel

		select {
		case s.messages <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Messages() <-chan types.TopicMessage {
	return s.messages
}

func (s *subscription) Add(ctx context.Context, topics ...string) error {
	err := s.pubsub.Subscribe(ctx, topics...)
	if err != nil {
		return xerrors.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

func (s *subscription) Remove(ctx context.Context, topics ...string) error {
	err := s.pubsub.Unsubscribe(ctx, topics...)
	if err != nil {
		return xerrors.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
