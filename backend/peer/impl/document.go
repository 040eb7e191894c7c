package impl

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"Co-Edit/backend/metrics"
	"Co-Edit/backend/ot"
	"Co-Edit/backend/peer"
	"Co-Edit/backend/storage"
	"Co-Edit/backend/types"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/xerrors"
)

// GetContent implements peer.DocumentEngine
func (n *node) GetContent(ctx context.Context, sessionID, documentID string) (string, error) {
	state, err := n.conf.Store.ReadDocument(ctx, storage.NewDocumentKeys(sessionID, documentID))
	if err != nil {
		return "", xerrors.Errorf("failed to read document %s/%s: %w", sessionID, documentID, err)
	}
	return state.Content, nil
}

// GetRevision implements peer.DocumentEngine
func (n *node) GetRevision(ctx context.Context, sessionID, documentID string) (int, error) {
	state, err := n.conf.Store.ReadDocument(ctx, storage.NewDocumentKeys(sessionID, documentID))
	if err != nil {
		return 0, xerrors.Errorf("failed to read document %s/%s: %w", sessionID, documentID, err)
	}
	return state.Revision, nil
}

// ReceiveOperation implements peer.DocumentEngine
func (n *node) ReceiveOperation(ctx context.Context, sessionID, documentID string, clientRevision int,
	op types.Operation) (types.Operation, int, error) {

	ctx, span := n.tracer.Start(ctx, "ReceiveOperation", trace.WithAttributes(
		attribute.String("session", sessionID),
		attribute.String("document", documentID),
		attribute.Int("clientRevision", clientRevision),
	))
	defer span.End()

	if sessionID == "" || documentID == "" {
		return types.Operation{}, 0, xerrors.Errorf("receive operation: %w", peer.ErrMissingID)
	}

	start := time.Now()

	unlock := n.documentLocks.Lock(documentKey(sessionID, documentID))
	defer unlock()

	keys := storage.NewDocumentKeys(sessionID, documentID)

	for attempt := 0; attempt < n.conf.CommitRetries; attempt++ {
		if attempt > 0 {
			n.conf.Metrics.CommitRetried()
		}

		transformed, revision, depth, content, err := n.tryCommit(ctx, keys, clientRevision, op)
		if err == nil {
			n.conf.Metrics.ObserveOperation(metrics.ResultCommitted, depth, time.Since(start))
			span.SetAttributes(attribute.Int("revision", revision), attribute.Int("depth", depth))

			n.logOT.Debug().
				Str("session", sessionID).
				Str("document", documentID).
				Int("clientRevision", clientRevision).
				Int("revision", revision).
				Str("operation", transformed.String()).
				Msg("operation committed")

			n.archiveAsync(sessionID, documentID, revision, content)
			return transformed, revision, nil
		}

		if !errors.Is(err, storage.ErrConflict) {
			n.conf.Metrics.ObserveOperation(resultOf(err), depth, time.Since(start))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return types.Operation{}, 0, err
		}

		n.logOT.Warn().
			Str("session", sessionID).
			Str("document", documentID).
			Int("attempt", attempt+1).
			Msg("revision changed during commit, retrying")
	}

	n.conf.Metrics.ObserveOperation(metrics.ResultConflict, 0, time.Since(start))
	span.SetStatus(codes.Error, peer.ErrCommitConflict.Error())

	return types.Operation{}, 0, xerrors.Errorf("gave up after %d attempts: %w",
		n.conf.CommitRetries, peer.ErrCommitConflict)
}

// tryCommit runs one read, transform, apply and commit cycle. It returns
// storage.ErrConflict when the cycle should be retried.
func (n *node) tryCommit(ctx context.Context, keys storage.DocumentKeys, clientRevision int,
	op types.Operation) (types.Operation, int, int, string, error) {

	state, err := n.conf.Store.ReadDocument(ctx, keys)
	if err != nil {
		return types.Operation{}, 0, 0, "", xerrors.Errorf("failed to read document: %w", err)
	}

	if clientRevision < 0 || clientRevision > state.Revision {
		return types.Operation{}, 0, 0, "", xerrors.Errorf("revision %d, document at %d: %w",
			clientRevision, state.Revision, peer.ErrInvalidRevision)
	}

	if clientRevision < state.OldestRetained() {
		return types.Operation{}, 0, 0, "", xerrors.Errorf("revision %d, oldest retained %d: %w",
			clientRevision, state.OldestRetained(), peer.ErrResyncRequired)
	}

	depth := state.Revision - clientRevision

	concurrent, err := n.concurrentOperations(ctx, keys, state, clientRevision)
	if err != nil {
		return types.Operation{}, 0, depth, "", err
	}

	transformed, err := ot.TransformAgainst(op, concurrent)
	if err != nil {
		n.logOT.Error().
			Str("content", keys.Content).
			Int("clientRevision", clientRevision).
			Int("revision", state.Revision).
			Str("operation", op.String()).
			Interface("history", concurrent).
			Err(err).
			Msg("failed to transform operation")
		return types.Operation{}, 0, depth, "", xerrors.Errorf("failed to transform operation: %w", err)
	}

	content, err := ot.Apply(state.Content, transformed)
	if err != nil {
		n.logOT.Error().
			Str("content", keys.Content).
			Int("documentLength", types.TextLength(state.Content)).
			Str("operation", transformed.String()).
			Err(err).
			Msg("failed to apply operation")
		return types.Operation{}, 0, depth, "", xerrors.Errorf("failed to apply operation: %w", err)
	}

	encoded, err := json.Marshal(transformed)
	if err != nil {
		return types.Operation{}, 0, depth, "", xerrors.Errorf("failed to encode operation: %w", err)
	}

	revision, err := n.conf.Store.CommitDocument(ctx, storage.Commit{
		Keys:         keys,
		BaseRevision: state.Revision,
		Content:      content,
		Operation:    string(encoded),
		MaxHistory:   n.conf.MaxHistory,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return types.Operation{}, 0, depth, "", err
		}
		return types.Operation{}, 0, depth, "", xerrors.Errorf("failed to commit operation: %w", err)
	}

	return transformed, revision, depth, content, nil
}

// concurrentOperations returns the history entries committed after
// clientRevision, oldest first.
func (n *node) concurrentOperations(ctx context.Context, keys storage.DocumentKeys, state storage.DocumentState,
	clientRevision int) ([]types.Operation, error) {

	depth := state.Revision - clientRevision
	if depth == 0 {
		return nil, nil
	}

	raw, err := n.conf.Store.ListFrom(ctx, keys.History, clientRevision-state.OldestRetained())
	if err != nil {
		return nil, xerrors.Errorf("failed to read history: %w", err)
	}

	// the history moved between the read of the revision and the read of the
	// list, the commit would fail anyway
	if len(raw) < depth {
		return nil, xerrors.Errorf("history has %d entries after revision %d, expected %d: %w",
			len(raw), clientRevision, depth, storage.ErrConflict)
	}

	concurrent := make([]types.Operation, depth)
	for i, entry := range raw[:depth] {
		concurrent[i], err = types.ParseOperation([]byte(entry))
		if err != nil {
			n.logOT.Error().
				Str("history", keys.History).
				Int("revision", clientRevision+i+1).
				Str("entry", entry).
				Err(err).
				Msg("failed to decode history entry")
			return nil, xerrors.Errorf("entry for revision %d: %v: %w", clientRevision+i+1, err, peer.ErrCorruptHistory)
		}
	}

	return concurrent, nil
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, peer.ErrInvalidRevision):
		return metrics.ResultRejected
	case errors.Is(err, peer.ErrResyncRequired):
		return metrics.ResultResync
	default:
		return metrics.ResultError
	}
}

// SetContent implements peer.DocumentEngine
func (n *node) SetContent(ctx context.Context, sessionID, documentID, content string) error {
	if sessionID == "" || documentID == "" {
		return xerrors.Errorf("set content: %w", peer.ErrMissingID)
	}

	unlock := n.documentLocks.Lock(documentKey(sessionID, documentID))
	defer unlock()

	err := n.conf.Store.SeedDocument(ctx, storage.NewDocumentKeys(sessionID, documentID), content)
	if err != nil {
		return xerrors.Errorf("failed to seed document %s/%s: %w", sessionID, documentID, err)
	}

	n.logOT.Info().
		Str("session", sessionID).
		Str("document", documentID).
		Int("length", types.TextLength(content)).
		Msg("document content set")

	return nil
}

// ResetDocument implements peer.DocumentEngine
func (n *node) ResetDocument(ctx context.Context, sessionID, documentID string) error {
	if sessionID == "" || documentID == "" {
		return xerrors.Errorf("reset document: %w", peer.ErrMissingID)
	}

	docKey := documentKey(sessionID, documentID)

	unlock := n.documentLocks.Lock(docKey)
	defer unlock()

	keys := storage.NewDocumentKeys(sessionID, documentID)
	err := n.conf.Store.Delete(ctx, keys.Content, keys.History, keys.Revision)
	if err != nil {
		return xerrors.Errorf("failed to delete document %s/%s: %w", sessionID, documentID, err)
	}

	n.docTimestampMap.Forget(docKey)

	n.logOT.Info().
		Str("session", sessionID).
		Str("document", documentID).
		Msg("document reset")

	return nil
}

// GetOperationHistory implements peer.DocumentEngine
func (n *node) GetOperationHistory(ctx context.Context, sessionID, documentID string) ([]types.Operation, error) {
	keys := storage.NewDocumentKeys(sessionID, documentID)

	raw, err := n.conf.Store.ListFrom(ctx, keys.History, 0)
	if err != nil {
		return nil, xerrors.Errorf("failed to read history of %s/%s: %w", sessionID, documentID, err)
	}

	history := make([]types.Operation, 0, len(raw))
	for i, entry := range raw {
		op, err := types.ParseOperation([]byte(entry))
		if err != nil {
			n.logOT.Warn().
				Str("session", sessionID).
				Str("document", documentID).
				Int("index", i).
				Err(err).
				Msg("skipping malformed history entry")
			continue
		}
		history = append(history, op)
	}

	return history, nil
}

// GetDocumentState implements peer.DocumentEngine
func (n *node) GetDocumentState(ctx context.Context, sessionID, documentID string) (types.DocumentStateMessage, error) {
	state, err := n.conf.Store.ReadDocument(ctx, storage.NewDocumentKeys(sessionID, documentID))
	if err != nil {
		return types.DocumentStateMessage{}, xerrors.Errorf("failed to read document %s/%s: %w",
			sessionID, documentID, err)
	}

	participants, err := n.ListParticipants(ctx, sessionID, documentID, "")
	if err != nil {
		return types.DocumentStateMessage{}, err
	}

	return types.DocumentStateMessage{
		SessionID:    sessionID,
		DocumentID:   documentID,
		Document:     state.Content,
		Revision:     state.Revision,
		Participants: participants,
	}, nil
}
