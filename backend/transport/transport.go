// Package transport defines the publish/subscribe fan-out clients receive
// messages through. Brokers live in sub-packages.
package transport

import (
	"context"
	"encoding/json"

	"Co-Edit/backend/types"

	"golang.org/x/xerrors"
)

// ErrClosed is returned when using a closed broker.
var ErrClosed = xerrors.New("broker closed")

// Broker fans published messages out to every subscription of a topic,
// possibly across processes.
type Broker interface {
	// Publish sends msg to every current subscriber of topic.
	Publish(ctx context.Context, topic string, msg types.TopicMessage) error

	// Subscribe returns a subscription to topics. More topics can be added
	// later.
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)

	Close() error
}

// Subscription receives the messages of its topics until closed.
type Subscription interface {
	// Messages is closed once the subscription is closed.
	Messages() <-chan types.TopicMessage

	// Add subscribes to more topics.
	Add(ctx context.Context, topics ...string) error

	// Remove unsubscribes from topics.
	Remove(ctx context.Context, topics ...string) error

	Close() error
}

// Factory creates a broker.
type Factory func() Broker

// NewTopicMessage envelopes msg for topic.
func NewTopicMessage(topic string, msg types.Message) (types.TopicMessage, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return types.TopicMessage{}, xerrors.Errorf("failed to marshal %s: %w", msg.Name(), err)
	}
	return types.TopicMessage{Topic: topic, Type: msg.Name(), Payload: payload}, nil
}

// -----------------------------------------------------------------------------
// Topics

// OperationsTopic carries committed operations of a document.
func OperationsTopic(sessionID, documentID string) string {
	return "sessions/" + sessionID + "/operations/document/" + documentID
}

// StateTopic carries full-state messages of a document.
func StateTopic(sessionID, documentID string) string {
	return "sessions/" + sessionID + "/state/document/" + documentID
}

// SelectionsTopic carries cursor and selection moves of a document.
func SelectionsTopic(sessionID, documentID string) string {
	return "sessions/" + sessionID + "/selections/document/" + documentID
}

// AckTopic is the private topic of a client.
func AckTopic(clientID string) string {
	return "ack/" + clientID
}

// DocumentTopics are the topics a participant of a document listens to.
func DocumentTopics(sessionID, documentID string) []string {
	return []string{
		OperationsTopic(sessionID, documentID),
		StateTopic(sessionID, documentID),
		SelectionsTopic(sessionID, documentID),
	}
}
