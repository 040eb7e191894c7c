package peer

import (
	"context"
	"io"
	"time"

	"Co-Edit/backend/archive"
	"Co-Edit/backend/metrics"
	"Co-Edit/backend/registry"
	"Co-Edit/backend/storage"
	"Co-Edit/backend/transport"
	"Co-Edit/backend/types"

	"github.com/rs/zerolog"
)

// Peer is one collaborative editing server instance.
type Peer interface {
	Service
	DocumentEngine
	PresenceRegistry
	Lifecycle
	Snapshots
}

// Factory creates a peer.
type Factory func(Configuration) Peer

// Service is started once and stopped once.
type Service interface {
	// Start registers the message callbacks.
	Start() error

	// Stop waits for background work to finish.
	Stop() error
}

// DocumentEngine serializes, transforms and commits edits of documents.
type DocumentEngine interface {
	// GetContent returns the current text of a document, "" if never written.
	GetContent(ctx context.Context, sessionID, documentID string) (string, error)

	// GetRevision returns the number of operations committed since the
	// document was last seeded.
	GetRevision(ctx context.Context, sessionID, documentID string) (int, error)

	// ReceiveOperation transforms op, made against clientRevision, past every
	// operation committed since, applies it and commits it. It returns the
	// transformed operation and the revision it was committed as.
	ReceiveOperation(ctx context.Context, sessionID, documentID string, clientRevision int,
		op types.Operation) (types.Operation, int, error)

	// SetContent replaces the text of a document and restarts it at revision 0.
	SetContent(ctx context.Context, sessionID, documentID, content string) error

	// ResetDocument removes every trace of a document.
	ResetDocument(ctx context.Context, sessionID, documentID string) error

	// GetOperationHistory returns the retained operations, oldest first.
	// Entries that cannot be decoded are skipped.
	GetOperationHistory(ctx context.Context, sessionID, documentID string) ([]types.Operation, error)

	// GetDocumentState returns content, revision and participants.
	GetDocumentState(ctx context.Context, sessionID, documentID string) (types.DocumentStateMessage, error)
}

// PresenceRegistry tracks who is in which document. Last write wins.
type PresenceRegistry interface {
	// Join adds or replaces a participant.
	Join(ctx context.Context, sessionID, documentID string, participant types.Participant) error

	// Leave removes a participant and reports whether it was present.
	Leave(ctx context.Context, sessionID, documentID, userID string) (bool, error)

	// UpdateState replaces the cursor and selection of a present participant.
	// It does nothing for an absent one.
	UpdateState(ctx context.Context, sessionID, documentID, userID string,
		cursor *types.CursorPosition, selection *types.Selection) error

	// ListParticipants returns the participants sorted by id, without
	// excludeUserID when it is not empty.
	ListParticipants(ctx context.Context, sessionID, documentID, excludeUserID string) ([]types.Participant, error)

	// LeaveAll removes a user from every document and returns them.
	LeaveAll(ctx context.Context, userID string) ([]types.DocumentRef, error)
}

// Lifecycle receives connection events from the client gateway.
type Lifecycle interface {
	// HandleDisconnect cleans up after a user's connection closed.
	HandleDisconnect(ctx context.Context, userID string)
}

// Snapshots exposes the archived copies of documents.
type Snapshots interface {
	// ListSnapshots returns the archived snapshots of a document, oldest first.
	ListSnapshots(ctx context.Context, sessionID, documentID string) ([]archive.Snapshot, error)
}

// Configuration of a peer. Store, Broker and MessageRegistry are required.
type Configuration struct {
	Store           storage.Store
	Broker          transport.Broker
	MessageRegistry registry.Registry

	// Archive receives periodic snapshots. Nil disables archiving.
	Archive archive.Archive
	// Metrics may be nil.
	Metrics *metrics.Metrics

	LogWriter io.Writer
	LogLevel  zerolog.Level

	// MaxHistory bounds the retained operations per document.
	MaxHistory int
	// CommitRetries bounds how often a commit is retried after losing a
	// race on the revision.
	CommitRetries int

	PresenceTTL time.Duration
	IndexTTL    time.Duration

	// ArchiveThreshold is the minimum time between two snapshots of a
	// document. ArchiveQueueSize is how many snapshots are kept per document.
	ArchiveThreshold time.Duration
	ArchiveQueueSize int
}

// Defaults.
const (
	DefaultMaxHistory       = 500
	DefaultCommitRetries    = 5
	DefaultPresenceTTL      = 60 * time.Minute
	DefaultIndexTTL         = 24 * time.Hour
	DefaultArchiveThreshold = time.Minute
	DefaultArchiveQueueSize = 10
)

// WithDefaults fills unset fields.
func (c Configuration) WithDefaults() Configuration {
	if c.MaxHistory <= 0 {
		c.MaxHistory = DefaultMaxHistory
	}
	if c.CommitRetries <= 0 {
		c.CommitRetries = DefaultCommitRetries
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = DefaultPresenceTTL
	}
	if c.IndexTTL <= 0 {
		c.IndexTTL = DefaultIndexTTL
	}
	if c.ArchiveThreshold < 0 {
		c.ArchiveThreshold = DefaultArchiveThreshold
	}
	if c.ArchiveQueueSize <= 0 {
		c.ArchiveQueueSize = DefaultArchiveQueueSize
	}
	return c
}
