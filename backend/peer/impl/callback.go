package impl

import (
	"context"
	"errors"

	"Co-Edit/backend/peer"
	"Co-Edit/backend/registry"
	"Co-Edit/backend/transport"
	"Co-Edit/backend/types"

	"golang.org/x/xerrors"
)

// OperationMessageCallback commits an edit, broadcasts it to the document and
// acknowledges it to its author.
func (n *node) OperationMessageCallback(ctx context.Context, msg types.Message, origin registry.Origin) error {
	// check if the message is an operation message
	opMsg, ok := msg.(*types.OperationMessage)
	if !ok {
		return xerrors.Errorf("message is not an OperationMessage")
	}
	n.conf.Metrics.MessageProcessed(opMsg.Name())

	clientID := opMsg.ClientID
	if clientID == "" {
		clientID = origin.ConnectionID
	}

	transformed, revision, err := n.ReceiveOperation(ctx, opMsg.SessionID, opMsg.DocumentID, opMsg.Revision,
		opMsg.Operation)

	// the client is out of date: send it the full state so it can reload
	if errors.Is(err, peer.ErrInvalidRevision) || errors.Is(err, peer.ErrResyncRequired) {
		n.logOT.Warn().
			Str("session", opMsg.SessionID).
			Str("document", opMsg.DocumentID).
			Str("client", clientID).
			Int("clientRevision", opMsg.Revision).
			Err(err).
			Msg("operation rejected, sending document state")

		err = n.sendState(ctx, transport.AckTopic(clientID), opMsg.SessionID, opMsg.DocumentID)
		if err != nil {
			return xerrors.Errorf("failed to send state to %s: %w", clientID, err)
		}
		return nil
	}
	if err != nil {
		return xerrors.Errorf("failed to receive operation: %w", err)
	}

	// presence never blocks an edit
	if opMsg.Selection != nil || opMsg.CursorPosition != nil {
		userID := origin.UserID
		if userID == "" {
			userID = clientID
		}
		err = n.UpdateState(ctx, opMsg.SessionID, opMsg.DocumentID, userID, opMsg.CursorPosition, opMsg.Selection)
		if err != nil {
			n.logPresence.Warn().Str("user", userID).Err(err).Msg("failed to update state with operation")
		}
	}

	broadcast := types.OperationBroadcastMessage{
		SessionID:      opMsg.SessionID,
		DocumentID:     opMsg.DocumentID,
		ClientID:       clientID,
		Revision:       revision,
		Operation:      transformed,
		Selection:      opMsg.Selection,
		CursorPosition: opMsg.CursorPosition,
	}
	err = n.publish(ctx, transport.OperationsTopic(opMsg.SessionID, opMsg.DocumentID), broadcast)
	if err != nil {
		return xerrors.Errorf("failed to broadcast operation: %w", err)
	}

	ack := types.AckMessage{
		SessionID:  opMsg.SessionID,
		DocumentID: opMsg.DocumentID,
		ClientID:   clientID,
		Revision:   revision,
	}
	err = n.publish(ctx, transport.AckTopic(clientID), ack)
	if err != nil {
		return xerrors.Errorf("failed to acknowledge operation: %w", err)
	}

	return nil
}

// JoinMessageCallback registers a participant and broadcasts the document
// state.
func (n *node) JoinMessageCallback(ctx context.Context, msg types.Message, origin registry.Origin) error {
	// check if the message is a join message
	joinMsg, ok := msg.(*types.JoinMessage)
	if !ok {
		return xerrors.Errorf("message is not a JoinMessage")
	}
	n.conf.Metrics.MessageProcessed(joinMsg.Name())

	participant := joinMsg.Participant()
	if participant.ID == "" {
		participant.ID = origin.UserID
	}

	err := n.Join(ctx, joinMsg.SessionID, joinMsg.DocumentID, participant)
	if err != nil {
		n.logPresence.Warn().Str("user", participant.ID).Err(err).Msg("failed to join")
	}

	err = n.broadcastState(ctx, joinMsg.SessionID, joinMsg.DocumentID)
	if err != nil {
		return xerrors.Errorf("failed to broadcast state after join: %w", err)
	}
	return nil
}

// LeaveMessageCallback removes a participant and broadcasts the document
// state.
func (n *node) LeaveMessageCallback(ctx context.Context, msg types.Message, origin registry.Origin) error {
	// check if the message is a leave message
	leaveMsg, ok := msg.(*types.LeaveMessage)
	if !ok {
		return xerrors.Errorf("message is not a LeaveMessage")
	}
	n.conf.Metrics.MessageProcessed(leaveMsg.Name())

	userID := leaveMsg.UserID
	if userID == "" {
		userID = origin.UserID
	}

	_, err := n.Leave(ctx, leaveMsg.SessionID, leaveMsg.DocumentID, userID)
	if err != nil {
		n.logPresence.Warn().Str("user", userID).Err(err).Msg("failed to leave")
	}

	err = n.broadcastState(ctx, leaveMsg.SessionID, leaveMsg.DocumentID)
	if err != nil {
		return xerrors.Errorf("failed to broadcast state after leave: %w", err)
	}
	return nil
}

// SelectionMessageCallback records a cursor move and relays it to the
// document.
func (n *node) SelectionMessageCallback(ctx context.Context, msg types.Message, origin registry.Origin) error {
	// check if the message is a selection message
	selectionMsg, ok := msg.(*types.SelectionMessage)
	if !ok {
		return xerrors.Errorf("message is not a SelectionMessage")
	}
	n.conf.Metrics.MessageProcessed(selectionMsg.Name())

	if selectionMsg.UserInfo.ID == "" {
		selectionMsg.UserInfo.ID = origin.UserID
	}

	userInfo := selectionMsg.UserInfo
	err := n.UpdateState(ctx, selectionMsg.SessionID, selectionMsg.DocumentID, userInfo.ID,
		userInfo.CursorPosition, userInfo.Selection)
	if err != nil {
		n.logPresence.Warn().Str("user", userInfo.ID).Err(err).Msg("failed to update selection")
	}

	err = n.publish(ctx, transport.SelectionsTopic(selectionMsg.SessionID, selectionMsg.DocumentID), selectionMsg)
	if err != nil {
		return xerrors.Errorf("failed to relay selection: %w", err)
	}
	return nil
}

// StateRequestMessageCallback broadcasts the document state.
func (n *node) StateRequestMessageCallback(ctx context.Context, msg types.Message, _ registry.Origin) error {
	// check if the message is a state request
	stateMsg, ok := msg.(*types.StateRequestMessage)
	if !ok {
		return xerrors.Errorf("message is not a StateRequestMessage")
	}
	n.conf.Metrics.MessageProcessed(stateMsg.Name())

	err := n.broadcastState(ctx, stateMsg.SessionID, stateMsg.DocumentID)
	if err != nil {
		return xerrors.Errorf("failed to broadcast state: %w", err)
	}
	return nil
}

// HandleDisconnect implements peer.Lifecycle
func (n *node) HandleDisconnect(ctx context.Context, userID string) {
	if userID == "" {
		return
	}

	refs, err := n.LeaveAll(ctx, userID)
	if err != nil {
		n.logPresence.Warn().Str("user", userID).Err(err).Msg("failed to clean up after disconnect")
		return
	}

	for _, ref := range refs {
		err := n.broadcastState(ctx, ref.SessionID, ref.DocumentID)
		if err != nil {
			n.log.Warn().
				Str("session", ref.SessionID).
				Str("document", ref.DocumentID).
				Err(err).
				Msg("failed to broadcast state after disconnect")
		}
	}
}
