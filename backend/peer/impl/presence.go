package impl

import (
	"context"
	"encoding/json"
	"strings"

	"Co-Edit/backend/peer"
	"Co-Edit/backend/storage"
	"Co-Edit/backend/types"

	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"
)

// Join implements peer.PresenceRegistry
func (n *node) Join(ctx context.Context, sessionID, documentID string, participant types.Participant) error {
	if sessionID == "" || documentID == "" || participant.ID == "" {
		return xerrors.Errorf("join: %w", peer.ErrMissingID)
	}

	unlock := n.presenceLocks.Lock(documentKey(sessionID, documentID))
	defer unlock()

	data, err := json.Marshal(participant)
	if err != nil {
		return xerrors.Errorf("failed to encode participant: %w", err)
	}

	err = n.conf.Store.HashPut(ctx, storage.PresenceKey(sessionID, documentID), participant.ID, string(data),
		n.conf.PresenceTTL)
	if err != nil {
		return xerrors.Errorf("failed to store participant %s: %w", participant.ID, err)
	}

	err = n.conf.Store.SetAdd(ctx, storage.UserIndexKey(participant.ID), storage.IndexMember(sessionID, documentID),
		n.conf.IndexTTL)
	if err != nil {
		return xerrors.Errorf("failed to index participant %s: %w", participant.ID, err)
	}

	n.logPresence.Info().
		Str("session", sessionID).
		Str("document", documentID).
		Str("user", participant.ID).
		Msg("user joined")

	return nil
}

// Leave implements peer.PresenceRegistry
func (n *node) Leave(ctx context.Context, sessionID, documentID, userID string) (bool, error) {
	if sessionID == "" || documentID == "" || userID == "" {
		return false, xerrors.Errorf("leave: %w", peer.ErrMissingID)
	}

	unlock := n.presenceLocks.Lock(documentKey(sessionID, documentID))
	defer unlock()

	removed, remaining, err := n.conf.Store.HashDelete(ctx, storage.PresenceKey(sessionID, documentID), userID)
	if err != nil {
		return false, xerrors.Errorf("failed to remove participant %s: %w", userID, err)
	}

	err = n.conf.Store.SetRemove(ctx, storage.UserIndexKey(userID), storage.IndexMember(sessionID, documentID))
	if err != nil {
		return removed, xerrors.Errorf("failed to unindex participant %s: %w", userID, err)
	}

	n.logPresence.Info().
		Str("session", sessionID).
		Str("document", documentID).
		Str("user", userID).
		Bool("present", removed).
		Int("remaining", remaining).
		Msg("user left")

	return removed, nil
}

// UpdateState implements peer.PresenceRegistry
func (n *node) UpdateState(ctx context.Context, sessionID, documentID, userID string,
	cursor *types.CursorPosition, selection *types.Selection) error {

	if sessionID == "" || documentID == "" || userID == "" {
		return xerrors.Errorf("update state: %w", peer.ErrMissingID)
	}

	unlock := n.presenceLocks.Lock(documentKey(sessionID, documentID))
	defer unlock()

	key := storage.PresenceKey(sessionID, documentID)

	data, exists, err := n.conf.Store.HashGet(ctx, key, userID)
	if err != nil {
		return xerrors.Errorf("failed to read participant %s: %w", userID, err)
	}
	if !exists {
		n.logPresence.Warn().
			Str("session", sessionID).
			Str("document", documentID).
			Str("user", userID).
			Msg("state update for absent user ignored")
		return nil
	}

	var participant types.Participant
	err = json.Unmarshal([]byte(data), &participant)
	if err != nil {
		return xerrors.Errorf("failed to decode participant %s: %w", userID, err)
	}

	participant.CursorPosition = cursor
	participant.Selection = selection

	encoded, err := json.Marshal(participant)
	if err != nil {
		return xerrors.Errorf("failed to encode participant: %w", err)
	}

	err = n.conf.Store.HashPut(ctx, key, userID, string(encoded), n.conf.PresenceTTL)
	if err != nil {
		return xerrors.Errorf("failed to store participant %s: %w", userID, err)
	}

	return nil
}

// ListParticipants implements peer.PresenceRegistry
func (n *node) ListParticipants(ctx context.Context, sessionID, documentID,
	excludeUserID string) ([]types.Participant, error) {

	key := storage.PresenceKey(sessionID, documentID)

	fields, err := n.conf.Store.HashGetAll(ctx, key)
	if err != nil {
		return nil, xerrors.Errorf("failed to read participants of %s/%s: %w", sessionID, documentID, err)
	}

	participants := make([]types.Participant, 0, len(fields))
	for userID, data := range fields {
		if excludeUserID != "" && userID == excludeUserID {
			continue
		}

		var participant types.Participant
		err := json.Unmarshal([]byte(data), &participant)
		if err != nil {
			n.logPresence.Warn().
				Str("session", sessionID).
				Str("document", documentID).
				Str("user", userID).
				Err(err).
				Msg("skipping malformed participant")
			continue
		}
		participants = append(participants, participant)
	}

	slices.SortFunc(participants, func(a, b types.Participant) int {
		return strings.Compare(a.ID, b.ID)
	})

	// an active document keeps its participants alive
	if len(fields) > 0 {
		err = n.conf.Store.Expire(ctx, key, n.conf.PresenceTTL)
		if err != nil {
			n.logPresence.Warn().Str("key", key).Err(err).Msg("failed to refresh presence ttl")
		}
	}

	return participants, nil
}

// LeaveAll implements peer.PresenceRegistry
func (n *node) LeaveAll(ctx context.Context, userID string) ([]types.DocumentRef, error) {
	if userID == "" {
		return nil, xerrors.Errorf("leave all: %w", peer.ErrMissingID)
	}

	indexKey := storage.UserIndexKey(userID)

	members, err := n.conf.Store.SetMembers(ctx, indexKey)
	if err != nil {
		return nil, xerrors.Errorf("failed to read index of %s: %w", userID, err)
	}

	documents := NewSet[types.DocumentRef]()
	for _, member := range members {
		sessionID, documentID, ok := storage.ParseIndexMember(member)
		if !ok {
			n.logPresence.Warn().Str("user", userID).Str("member", member).Msg("skipping malformed index entry")
			continue
		}
		documents.Add(types.DocumentRef{SessionID: sessionID, DocumentID: documentID})
	}

	if documents.Size() == 0 {
		documents, err = n.scanPresence(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	refs := documents.Values()
	slices.SortFunc(refs, func(a, b types.DocumentRef) int {
		if c := strings.Compare(a.SessionID, b.SessionID); c != 0 {
			return c
		}
		return strings.Compare(a.DocumentID, b.DocumentID)
	})

	for _, ref := range refs {
		_, err := n.Leave(ctx, ref.SessionID, ref.DocumentID, userID)
		if err != nil {
			return nil, xerrors.Errorf("failed to leave %s/%s: %w", ref.SessionID, ref.DocumentID, err)
		}
	}

	err = n.conf.Store.Delete(ctx, indexKey)
	if err != nil {
		return nil, xerrors.Errorf("failed to delete index of %s: %w", userID, err)
	}

	n.logPresence.Info().Str("user", userID).Int("documents", len(refs)).Msg("user left every document")

	return refs, nil
}

// scanPresence finds the documents of a user by walking every presence key.
// It is only used when the reverse index is missing.
func (n *node) scanPresence(ctx context.Context, userID string) (*Set[types.DocumentRef], error) {
	n.logPresence.Warn().Str("user", userID).Msg("reverse index empty, scanning presence keys")

	keys, err := n.conf.Store.ScanKeys(ctx, storage.PresencePrefix)
	if err != nil {
		return nil, xerrors.Errorf("failed to scan presence keys: %w", err)
	}

	documents := NewSet[types.DocumentRef]()
	for _, key := range keys {
		sessionID, documentID, ok := storage.ParsePresenceKey(key)
		if !ok {
			continue
		}

		_, exists, err := n.conf.Store.HashGet(ctx, key, userID)
		if err != nil {
			return nil, xerrors.Errorf("failed to read %s: %w", key, err)
		}
		if exists {
			documents.Add(types.DocumentRef{SessionID: sessionID, DocumentID: documentID})
		}
	}

	return documents, nil
}
