package impl

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"Co-Edit/backend/peer"
	"Co-Edit/backend/transport"
	"Co-Edit/backend/types"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/xerrors"
)

var logIO = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// NewPeer creates a new peer. Unset configuration values take their defaults.
func NewPeer(conf peer.Configuration) peer.Peer {
	conf = conf.WithDefaults()

	var out io.Writer = logIO
	if conf.LogWriter != nil {
		out = conf.LogWriter
	}

	logger := newLogger(out, conf.LogLevel)
	loggerOT := newLogger(out, conf.LogLevel).With().Str("component", "ot").Logger()
	loggerPresence := newLogger(out, conf.LogLevel).With().Str("component", "presence").Logger()

	node := node{
		conf:            conf,
		log:             logger,
		logOT:           loggerOT,
		logPresence:     loggerPresence,
		documentLocks:   newLockTable(),
		presenceLocks:   newLockTable(),
		docTimestampMap: newDocTimestampMap(),
		tracer:          otel.Tracer("Co-Edit/backend/peer"),
	}

	return &node
}

// Helper functions

func newLogger(io io.Writer, level zerolog.Level) zerolog.Logger {
	logger := zerolog.New(io).With().Timestamp().Logger()
	return logger.Level(level)
}

func newLockTable() *LockTable {
	return &LockTable{
		locks: make(map[string]*lockEntry),
	}
}

func newDocTimestampMap() *DocTimestampMap {
	return &DocTimestampMap{
		newestTimestamp: make(map[string]time.Time),
		docSaved:        make(map[string][]string),
	}
}

// documentKey names a document in the lock tables and the timestamp map.
func documentKey(sessionID, documentID string) string {
	return sessionID + "/" + documentID
}

// node implements a collaborative editing peer
//
// - implements peer.Peer
type node struct {
	conf        peer.Configuration
	ctx         context.Context    // for managing the start/stop
	cancel      context.CancelFunc // to cancel background work
	wg          sync.WaitGroup     // archive worker
	log         zerolog.Logger
	logOT       zerolog.Logger
	logPresence zerolog.Logger

	documentLocks   *LockTable
	presenceLocks   *LockTable
	docTimestampMap *DocTimestampMap
	archiveJobs     chan archiveJob
	tracer          trace.Tracer
}

var _ peer.Peer = (*node)(nil)

// Start implements peer.Service
func (n *node) Start() error {
	if n.conf.Store == nil || n.conf.Broker == nil || n.conf.MessageRegistry == nil {
		return xerrors.New("store, broker and message registry are required")
	}

	n.ctx, n.cancel = context.WithCancel(context.Background())

	// register the callback functions
	n.conf.MessageRegistry.RegisterMessageCallback(&types.OperationMessage{}, n.OperationMessageCallback)
	n.conf.MessageRegistry.RegisterMessageCallback(&types.JoinMessage{}, n.JoinMessageCallback)
	n.conf.MessageRegistry.RegisterMessageCallback(&types.LeaveMessage{}, n.LeaveMessageCallback)
	n.conf.MessageRegistry.RegisterMessageCallback(&types.SelectionMessage{}, n.SelectionMessageCallback)
	n.conf.MessageRegistry.RegisterMessageCallback(&types.StateRequestMessage{}, n.StateRequestMessageCallback)

	if n.conf.Archive != nil {
		n.archiveJobs = make(chan archiveJob, archiveBacklog)
		n.wg.Add(1)
		go n.archiveWorker()
	}

	n.log.Info().
		Int("maxHistory", n.conf.MaxHistory).
		Dur("presenceTTL", n.conf.PresenceTTL).
		Bool("archive", n.conf.Archive != nil).
		Msg("peer started")

	return nil
}

// Stop implements peer.Service
func (n *node) Stop() error {
	if n.cancel != nil {
		n.cancel() // cancel the context to stop background work
	}
	n.wg.Wait()
	n.log.Info().Msg("peer stopped")
	return nil
}

// publish envelopes msg and publishes it on topic.
func (n *node) publish(ctx context.Context, topic string, msg types.Message) error {
	topicMsg, err := transport.NewTopicMessage(topic, msg)
	if err != nil {
		return err
	}

	err = n.conf.Broker.Publish(ctx, topic, topicMsg)
	if err != nil {
		return xerrors.Errorf("failed to publish %s on %s: %w", msg.Name(), topic, err)
	}
	return nil
}

// broadcastState publishes the full state of a document on its state topic.
func (n *node) broadcastState(ctx context.Context, sessionID, documentID string) error {
	return n.sendState(ctx, transport.StateTopic(sessionID, documentID), sessionID, documentID)
}

// sendState publishes the full state of a document on topic.
func (n *node) sendState(ctx context.Context, topic, sessionID, documentID string) error {
	state, err := n.GetDocumentState(ctx, sessionID, documentID)
	if err != nil {
		return xerrors.Errorf("failed to assemble document state: %w", err)
	}
	return n.publish(ctx, topic, state)
}
