package types

import (
	"encoding/json"
	"fmt"

	"golang.org/x/xerrors"
)

// -----------------------------------------------------------------------------
// OperationMessage

// NewEmpty implements types.Message.
func (o OperationMessage) NewEmpty() Message {
	return &OperationMessage{}
}

// Name implements types.Message.
func (o OperationMessage) Name() string {
	return "operation"
}

// String implements types.Message.
func (o OperationMessage) String() string {
	return fmt.Sprintf("operation{%s/%s client=%s rev=%d %s}",
		o.SessionID, o.DocumentID, o.ClientID, o.Revision, o.Operation)
}

// -----------------------------------------------------------------------------
// OperationBroadcastMessage

// NewEmpty implements types.Message.
func (o OperationBroadcastMessage) NewEmpty() Message {
	return &OperationBroadcastMessage{}
}

// Name implements types.Message.
func (o OperationBroadcastMessage) Name() string {
	return "broadcast"
}

// String implements types.Message.
func (o OperationBroadcastMessage) String() string {
	return fmt.Sprintf("broadcast{%s/%s client=%s rev=%d %s}",
		o.SessionID, o.DocumentID, o.ClientID, o.Revision, o.Operation)
}

// -----------------------------------------------------------------------------
// AckMessage

// NewEmpty implements types.Message.
func (a AckMessage) NewEmpty() Message {
	return &AckMessage{}
}

// Name implements types.Message.
func (a AckMessage) Name() string {
	return "ack"
}

// String implements types.Message.
func (a AckMessage) String() string {
	return fmt.Sprintf("ack{%s/%s client=%s rev=%d}", a.SessionID, a.DocumentID, a.ClientID, a.Revision)
}

// -----------------------------------------------------------------------------
// DocumentStateMessage

// NewEmpty implements types.Message.
func (d DocumentStateMessage) NewEmpty() Message {
	return &DocumentStateMessage{}
}

// Name implements types.Message.
func (d DocumentStateMessage) Name() string {
	return "document-state"
}

// String implements types.Message.
func (d DocumentStateMessage) String() string {
	return fmt.Sprintf("document-state{%s/%s rev=%d %d chars, %d participants}",
		d.SessionID, d.DocumentID, d.Revision, len(d.Document), len(d.Participants))
}

// -----------------------------------------------------------------------------
// JoinMessage

// NewEmpty implements types.Message.
func (j JoinMessage) NewEmpty() Message {
	return &JoinMessage{}
}

// Name implements types.Message.
func (j JoinMessage) Name() string {
	return "join"
}

// String implements types.Message.
func (j JoinMessage) String() string {
	return fmt.Sprintf("join{%s/%s user=%s}", j.SessionID, j.DocumentID, j.UserID)
}

// Participant returns the presence entry a join creates.
func (j JoinMessage) Participant() Participant {
	return Participant{ID: j.UserID, Name: j.UserName, Color: j.UserColor}
}

// -----------------------------------------------------------------------------
// LeaveMessage

// NewEmpty implements types.Message.
func (l LeaveMessage) NewEmpty() Message {
	return &LeaveMessage{}
}

// Name implements types.Message.
func (l LeaveMessage) Name() string {
	return "leave"
}

// String implements types.Message.
func (l LeaveMessage) String() string {
	return fmt.Sprintf("leave{%s/%s user=%s}", l.SessionID, l.DocumentID, l.UserID)
}

// -----------------------------------------------------------------------------
// SelectionMessage

// NewEmpty implements types.Message.
func (s SelectionMessage) NewEmpty() Message {
	return &SelectionMessage{}
}

// Name implements types.Message.
func (s SelectionMessage) Name() string {
	return "selection"
}

// String implements types.Message.
func (s SelectionMessage) String() string {
	return fmt.Sprintf("selection{%s/%s user=%s}", s.SessionID, s.DocumentID, s.UserInfo.ID)
}

// -----------------------------------------------------------------------------
// StateRequestMessage

// NewEmpty implements types.Message.
func (s StateRequestMessage) NewEmpty() Message {
	return &StateRequestMessage{}
}

// Name implements types.Message.
func (s StateRequestMessage) Name() string {
	return "state"
}

// String implements types.Message.
func (s StateRequestMessage) String() string {
	return fmt.Sprintf("state{%s/%s}", s.SessionID, s.DocumentID)
}

// -----------------------------------------------------------------------------
// Envelope

// NewEnvelope marshals msg into an envelope named after it.
func NewEnvelope(msg Message) (Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, xerrors.Errorf("failed to marshal %s: %w", msg.Name(), err)
	}
	return Envelope{Type: msg.Name(), Payload: payload}, nil
}

func (e Envelope) String() string {
	return fmt.Sprintf("envelope{%s %d bytes}", e.Type, len(e.Payload))
}
