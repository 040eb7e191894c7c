// Package z holds helpers shared by the peer tests: a peer wired to an
// in-memory store and a channel broker, and a recorder of published messages.
package z

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"Co-Edit/backend/archive"
	"Co-Edit/backend/metrics"
	"Co-Edit/backend/peer"
	"Co-Edit/backend/registry"
	"Co-Edit/backend/storage"
	"Co-Edit/backend/storage/memory"
	"Co-Edit/backend/transport"
	"Co-Edit/backend/types"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type configTemplate struct {
	store            storage.Store
	archive          archive.Archive
	metrics          *metrics.Metrics
	logWriter        io.Writer
	maxHistory       int
	commitRetries    int
	presenceTTL      time.Duration
	archiveThreshold time.Duration
	archiveQueueSize int
}

func newConfigTemplate() configTemplate {
	return configTemplate{
		logWriter: io.Discard,
	}
}

// Option is the type of the options used to configure a test node.
type Option func(*configTemplate)

// WithStore sets a specific store. The default is a new memory store.
func WithStore(store storage.Store) Option {
	return func(ct *configTemplate) {
		ct.store = store
	}
}

// WithArchive enables archiving to a.
func WithArchive(a archive.Archive, threshold time.Duration, queueSize int) Option {
	return func(ct *configTemplate) {
		ct.archive = a
		ct.archiveThreshold = threshold
		ct.archiveQueueSize = queueSize
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ct *configTemplate) {
		ct.metrics = m
	}
}

// WithMaxHistory bounds the retained history.
func WithMaxHistory(n int) Option {
	return func(ct *configTemplate) {
		ct.maxHistory = n
	}
}

// WithCommitRetries bounds commit attempts.
func WithCommitRetries(n int) Option {
	return func(ct *configTemplate) {
		ct.commitRetries = n
	}
}

// WithPresenceTTL sets the participant hash TTL.
func WithPresenceTTL(ttl time.Duration) Option {
	return func(ct *configTemplate) {
		ct.presenceTTL = ttl
	}
}

// WithLogs sends the node's logs to the test output.
func WithLogs(t testing.TB) Option {
	return func(ct *configTemplate) {
		ct.logWriter = zerolog.NewTestWriter(t)
	}
}

// TestNode is a started peer and the collaborators it was built with.
type TestNode struct {
	peer.Peer
	t        testing.TB
	store    storage.Store
	broker   transport.Broker
	registry registry.Registry
}

// NewTestNode creates and starts a peer on broker.
func NewTestNode(t testing.TB, f peer.Factory, broker transport.Broker, opts ...Option) TestNode {
	template := newConfigTemplate()
	for _, opt := range opts {
		opt(&template)
	}

	if template.store == nil {
		template.store = memory.NewStore()
	}

	config := peer.Configuration{
		Store:            template.store,
		Broker:           broker,
		MessageRegistry:  registry.NewRegistry(),
		Archive:          template.archive,
		Metrics:          template.metrics,
		LogWriter:        template.logWriter,
		LogLevel:         zerolog.DebugLevel,
		MaxHistory:       template.maxHistory,
		CommitRetries:    template.commitRetries,
		PresenceTTL:      template.presenceTTL,
		ArchiveThreshold: template.archiveThreshold,
		ArchiveQueueSize: template.archiveQueueSize,
	}

	node := f(config)

	require.NoError(t, node.Start())

	return TestNode{
		Peer:     node,
		t:        t,
		store:    template.store,
		broker:   broker,
		registry: config.MessageRegistry,
	}
}

// Stop stops the node and fails the test on error.
func (tn TestNode) Stop() {
	require.NoError(tn.t, tn.Peer.Stop())
}

// GetStore returns the node's store.
func (tn TestNode) GetStore() storage.Store {
	return tn.store
}

// GetBroker returns the node's broker.
func (tn TestNode) GetBroker() transport.Broker {
	return tn.broker
}

// GetRegistry returns the node's message registry.
func (tn TestNode) GetRegistry() registry.Registry {
	return tn.registry
}

// Send delivers msg to the node as if it came from a connection of userID.
func (tn TestNode) Send(msg types.Message, connectionID, userID string) error {
	env, err := tn.registry.MarshalMessage(msg)
	require.NoError(tn.t, err)

	return tn.registry.ProcessEnvelope(context.Background(), env, registry.Origin{
		ConnectionID: connectionID,
		UserID:       userID,
	})
}

// Recorder collects every message published on a set of topics.
type Recorder struct {
	mu       sync.Mutex
	messages []types.TopicMessage
	sub      transport.Subscription
	done     chan struct{}
}

// NewRecorder subscribes to topics on broker and records what arrives until
// the test ends.
func NewRecorder(t *testing.T, broker transport.Broker, topics ...string) *Recorder {
	sub, err := broker.Subscribe(context.Background(), topics...)
	require.NoError(t, err)

	r := &Recorder{
		sub:  sub,
		done: make(chan struct{}),
	}

	go func() {
		defer close(r.done)
		for msg := range sub.Messages() {
			r.mu.Lock()
			r.messages = append(r.messages, msg)
			r.mu.Unlock()
		}
	}()

	t.Cleanup(func() {
		sub.Close()
		<-r.done
	})

	return r
}

// Add records more topics.
func (r *Recorder) Add(t *testing.T, topics ...string) {
	require.NoError(t, r.sub.Add(context.Background(), topics...))
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []types.TopicMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	messages := make([]types.TopicMessage, len(r.messages))
	copy(messages, r.messages)
	return messages
}

// OfType returns the recorded messages of one type.
func (r *Recorder) OfType(name string) []types.TopicMessage {
	var matching []types.TopicMessage
	for _, msg := range r.Messages() {
		if msg.Type == name {
			matching = append(matching, msg)
		}
	}
	return matching
}

// WaitFor waits until n messages of type name were recorded and returns them.
func (r *Recorder) WaitFor(t *testing.T, name string, n int) []types.TopicMessage {
	require.Eventually(t, func() bool {
		return len(r.OfType(name)) >= n
	}, time.Second, 5*time.Millisecond, "waiting for %d %s messages", n, name)

	return r.OfType(name)
}

// Decode unmarshals the payload of msg into v.
func Decode(t *testing.T, msg types.TopicMessage, v types.Message) {
	require.NoError(t, json.Unmarshal(msg.Payload, v))
}

// MustOperation builds an operation and fails the test on error.
func MustOperation(t require.TestingT, steps ...types.Step) types.Operation {
	op, err := types.NewOperation(steps...)
	require.NoError(t, err)
	return op
}
