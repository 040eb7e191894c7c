// Package archive keeps point-in-time snapshots of documents, outside the
// live store. Backends live in sub-packages.
package archive

import (
	"context"
	"time"

	"golang.org/x/xerrors"
)

// ErrSnapshotNotFound is returned when deleting an unknown snapshot.
var ErrSnapshotNotFound = xerrors.New("snapshot not found")

// Snapshot is the content of a document at a given revision.
type Snapshot struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	DocumentID string    `json:"documentId"`
	Revision   int       `json:"revision"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Archive stores snapshots.
type Archive interface {
	// Save stores a snapshot. ID and CreatedAt must be set.
	Save(ctx context.Context, snapshot Snapshot) error

	// List returns the snapshots of a document, oldest first.
	List(ctx context.Context, sessionID, documentID string) ([]Snapshot, error)

	// Delete removes one snapshot.
	Delete(ctx context.Context, sessionID, documentID, id string) error

	Close() error
}
