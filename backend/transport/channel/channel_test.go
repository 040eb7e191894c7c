package channel

import (
	"context"
	"testing"
	"time"

	"Co-Edit/backend/transport"
	"Co-Edit/backend/types"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func receive(t *testing.T, sub transport.Subscription) types.TopicMessage {
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok)
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return types.TopicMessage{}
}

func requireNothing(t *testing.T, sub transport.Subscription) {
	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected message %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func Test_Channel_Publish_Subscribe(t *testing.T) {
	ctx := context.Background()
	b := NewBroker(0)
	defer b.Close()

	topic := transport.OperationsTopic("s1", "d1")
	sub1, err := b.Subscribe(ctx, topic)
	require.NoError(t, err)
	sub2, err := b.Subscribe(ctx, transport.DocumentTopics("s1", "d1")...)
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, transport.OperationsTopic("s1", "d2"))
	require.NoError(t, err)

	msg, err := transport.NewTopicMessage(topic, types.AckMessage{ClientID: "c1", Revision: 4})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, topic, msg))

	for _, sub := range []transport.Subscription{sub1, sub2} {
		got := receive(t, sub)
		require.Equal(t, topic, got.Topic)
		require.Equal(t, "ack", got.Type)
		require.JSONEq(t, `{"sessionId":"","documentId":"","clientId":"c1","revision":4}`, string(got.Payload))
	}
	requireNothing(t, other)
}

func Test_Channel_Add_Remove(t *testing.T) {
	ctx := context.Background()
	b := NewBroker(0)
	defer b.Close()

	sub, err := b.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, sub.Add(ctx, "a", "b"))
	require.NoError(t, b.Publish(ctx, "b", types.TopicMessage{Type: "x"}))
	require.Equal(t, "b", receive(t, sub).Topic)

	require.NoError(t, sub.Remove(ctx, "b"))
	require.NoError(t, b.Publish(ctx, "b", types.TopicMessage{Type: "x"}))
	requireNothing(t, sub)

	require.NoError(t, sub.Close())
	_, ok := <-sub.Messages()
	require.False(t, ok)
	require.Empty(t, b.topics)

	require.True(t, xerrors.Is(sub.Add(ctx, "a"), transport.ErrClosed))
}

// A full subscriber loses messages but never blocks the publisher.
func Test_Channel_Slow_Subscriber(t *testing.T) {
	ctx := context.Background()
	b := NewBroker(2)
	defer b.Close()

	sub, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, "t", types.TopicMessage{Type: "x"}))
	}
	require.Len(t, sub.Messages(), 2)
}

func Test_Channel_Close(t *testing.T) {
	ctx := context.Background()
	b := NewBroker(0)

	sub, err := b.Subscribe(ctx, "t")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, ok := <-sub.Messages()
	require.False(t, ok)
	require.NoError(t, sub.Close())

	err = b.Publish(ctx, "t", types.TopicMessage{})
	require.True(t, xerrors.Is(err, transport.ErrClosed))
}
