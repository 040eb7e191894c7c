// Package postgres archives snapshots in a PostgreSQL table through a pgx
// connection pool.
package postgres

import (
	"context"

	"Co-Edit/backend/archive"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/xerrors"
)

const schema = `
CREATE TABLE IF NOT EXISTS document_snapshots (
	id          UUID PRIMARY KEY,
	session_id  TEXT NOT NULL,
	document_id TEXT NOT NULL,
	revision    INTEGER NOT NULL,
	content     TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS document_snapshots_document
	ON document_snapshots (session_id, document_id, created_at);
`

// Archive stores snapshots in the document_snapshots table.
//
// - implements archive.Archive
type Archive struct {
	pool *pgxpool.Pool
}

var _ archive.Archive = (*Archive)(nil)

// NewArchive creates the table if needed. The archive owns pool.
func NewArchive(ctx context.Context, pool *pgxpool.Pool) (*Archive, error) {
	_, err := pool.Exec(ctx, schema)
	if err != nil {
		return nil, xerrors.Errorf("failed to create snapshots table: %v", err)
	}
	return &Archive{pool: pool}, nil
}

// Save implements archive.Archive
func (a *Archive) Save(ctx context.Context, snapshot archive.Snapshot) error {
	id, err := uuid.Parse(snapshot.ID)
	if err != nil {
		return xerrors.Errorf("invalid snapshot id %q: %v", snapshot.ID, err)
	}

	_, err = a.pool.Exec(ctx,
		`INSERT INTO document_snapshots (id, session_id, document_id, revision, content, created_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6)`,
		id.String(), snapshot.SessionID, snapshot.DocumentID, snapshot.Revision, snapshot.Content, snapshot.CreatedAt)
	if err != nil {
		return xerrors.Errorf("failed to insert snapshot: %v", err)
	}
	return nil
}

// List implements archive.Archive
func (a *Archive) List(ctx context.Context, sessionID, documentID string) ([]archive.Snapshot, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id::text, revision, content, created_at FROM document_snapshots
		 WHERE session_id = $1 AND document_id = $2
		 ORDER BY created_at`,
		sessionID, documentID)
	if err != nil {
		return nil, xerrors.Errorf("failed to query snapshots: %v", err)
	}
	defer rows.Close()

	var snapshots []archive.Snapshot
	for rows.Next() {
		snapshot := archive.Snapshot{SessionID: sessionID, DocumentID: documentID}
		err = rows.Scan(&snapshot.ID, &snapshot.Revision, &snapshot.Content, &snapshot.CreatedAt)
		if err != nil {
			return nil, xerrors.Errorf("failed to scan snapshot: %v", err)
		}
		snapshots = append(snapshots, snapshot)
	}

	err = rows.Err()
	if err != nil {
		return nil, xerrors.Errorf("failed to read snapshots: %v", err)
	}
	return snapshots, nil
}

// Delete implements archive.Archive
func (a *Archive) Delete(ctx context.Context, sessionID, documentID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return xerrors.Errorf("%s: %w", id, archive.ErrSnapshotNotFound)
	}

	tag, err := a.pool.Exec(ctx,
		`DELETE FROM document_snapshots WHERE id = $1::uuid AND session_id = $2 AND document_id = $3`,
		id, sessionID, documentID)
	if err != nil {
		return xerrors.Errorf("failed to delete snapshot: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.Errorf("%s: %w", id, archive.ErrSnapshotNotFound)
	}
	return nil
}

// Close implements archive.Archive
func (a *Archive) Close() error {
	a.pool.Close()
	return nil
}
