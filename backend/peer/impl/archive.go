package impl

import (
	"context"
	"time"

	"Co-Edit/backend/archive"

	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

// archiveBacklog is how many snapshots may wait for the archive worker.
const archiveBacklog = 64

type archiveJob struct {
	sessionID  string
	documentID string
	revision   int
	content    string
}

// archiveAsync queues a snapshot for the archive worker so commits never wait
// on the archive. The snapshot is dropped when the worker is behind.
func (n *node) archiveAsync(sessionID, documentID string, revision int, content string) {
	if n.conf.Archive == nil || n.archiveJobs == nil {
		return
	}

	select {
	case n.archiveJobs <- archiveJob{sessionID, documentID, revision, content}:
	default:
		n.log.Warn().
			Str("session", sessionID).
			Str("document", documentID).
			Int("revision", revision).
			Msg("archive backlog full, snapshot dropped")
	}
}

// archiveWorker stores queued snapshots one at a time until the node stops,
// then flushes what is left.
func (n *node) archiveWorker() {
	defer n.wg.Done()

	for {
		select {
		case job := <-n.archiveJobs:
			n.runArchiveJob(n.ctx, job)
		case <-n.ctx.Done():
			for {
				select {
				case job := <-n.archiveJobs:
					ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
					n.runArchiveJob(ctx, job)
					cancel()
				default:
					return
				}
			}
		}
	}
}

const flushTimeout = 5 * time.Second

func (n *node) runArchiveJob(ctx context.Context, job archiveJob) {
	err := n.StoreDocument(ctx, job.sessionID, job.documentID, job.revision, job.content)
	if err != nil {
		n.log.Warn().
			Str("session", job.sessionID).
			Str("document", job.documentID).
			Int("revision", job.revision).
			Err(err).
			Msg("failed to archive document")
	}
}

// StoreDocument archives a snapshot of a document, unless the previous one is
// more recent than the archive threshold. Only the newest ArchiveQueueSize
// snapshots of a document are kept.
func (n *node) StoreDocument(ctx context.Context, sessionID, documentID string, revision int, content string) error {
	if n.conf.Archive == nil {
		return nil
	}

	docKey := documentKey(sessionID, documentID)

	// the queue starts from what an earlier run archived
	if !n.docTimestampMap.IsLoaded(docKey) {
		err := n.loadArchived(ctx, sessionID, documentID)
		if err != nil {
			return err
		}
	}

	now := time.Now()
	if !n.docTimestampMap.Claim(docKey, now, n.conf.ArchiveThreshold) {
		n.log.Debug().Str("document", docKey).Msg("not enough time has passed since the last snapshot")
		return nil
	}

	snapshot := archive.Snapshot{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		DocumentID: documentID,
		Revision:   revision,
		Content:    content,
		CreatedAt:  now,
	}

	err := n.conf.Archive.Save(ctx, snapshot)
	if err != nil {
		return xerrors.Errorf("failed to save snapshot: %w", err)
	}
	n.docTimestampMap.EnqueueDoc(docKey, snapshot.ID)
	n.conf.Metrics.SnapshotSaved()

	n.log.Info().
		Str("document", docKey).
		Str("snapshot", snapshot.ID).
		Int("revision", revision).
		Msg("document archived")

	// remove the oldest snapshots once the queue is full
	for n.docTimestampMap.DocSavedLen(docKey) > n.conf.ArchiveQueueSize {
		oldest, ok := n.docTimestampMap.DequeueDoc(docKey)
		if !ok {
			break
		}

		err := n.conf.Archive.Delete(ctx, sessionID, documentID, oldest)
		if err != nil && !xerrors.Is(err, archive.ErrSnapshotNotFound) {
			return xerrors.Errorf("failed to remove oldest snapshot: %w", err)
		}
	}

	return nil
}

func (n *node) loadArchived(ctx context.Context, sessionID, documentID string) error {
	snapshots, err := n.conf.Archive.List(ctx, sessionID, documentID)
	if err != nil {
		return xerrors.Errorf("failed to list snapshots: %w", err)
	}

	ids := make([]string, len(snapshots))
	var newest time.Time
	for i, snapshot := range snapshots {
		ids[i] = snapshot.ID
		if snapshot.CreatedAt.After(newest) {
			newest = snapshot.CreatedAt
		}
	}

	n.docTimestampMap.Load(documentKey(sessionID, documentID), ids, newest)
	return nil
}

// ListSnapshots implements peer.Snapshots
func (n *node) ListSnapshots(ctx context.Context, sessionID, documentID string) ([]archive.Snapshot, error) {
	if n.conf.Archive == nil {
		return []archive.Snapshot{}, nil
	}

	snapshots, err := n.conf.Archive.List(ctx, sessionID, documentID)
	if err != nil {
		return nil, xerrors.Errorf("failed to list snapshots of %s/%s: %w", sessionID, documentID, err)
	}
	return snapshots, nil
}
