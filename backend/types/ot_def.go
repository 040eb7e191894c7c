package types

import "encoding/json"

// StepKind tags a single step of an Operation.
type StepKind uint8

const (
	// RetainStep copies N characters of the input document to the output.
	RetainStep StepKind = iota + 1
	// InsertStep writes Text to the output without consuming input.
	InsertStep
	// DeleteStep skips N characters of the input document.
	DeleteStep
)

// Step is one element of an Operation. N is the span of a retain or a delete,
// Text is the inserted string of an insert. Lengths are counted in runes.
type Step struct {
	Kind StepKind
	N    int
	Text string
}

// Operation is an immutable sequence of steps describing an edit of a plain
// text document. It is always in canonical form:
//
//   - no two adjacent steps have the same kind,
//   - an insert never directly follows a delete.
//
// The zero value is the empty operation, which applies to the empty document.
// Operations are only produced by a Builder (or by decoding, which goes
// through a Builder).
type Operation struct {
	steps        []Step
	baseLength   int
	targetLength int
}

// Builder accumulates steps into a canonical Operation. Every call inspects
// the last emitted step and either merges into it or appends a new one.
type Builder struct {
	steps        []Step
	baseLength   int
	targetLength int
	err          error
}

// -------------------------------------------------------------------
// Presence

// CursorPosition is the line/column of a participant's caret.
type CursorPosition struct {
	LineNumber int `json:"lineNumber"`
	Column     int `json:"column"`
}

// SelectionRange is one selected span, from anchor to head.
type SelectionRange struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// Selection is an ordered list of selected ranges.
type Selection struct {
	Ranges []SelectionRange `json:"ranges"`
}

// Participant is the presence state of one user in one document.
type Participant struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Color          string          `json:"color"`
	CursorPosition *CursorPosition `json:"cursorPosition,omitempty"`
	Selection      *Selection      `json:"selection,omitempty"`
}

// DocumentRef names a document inside a session.
type DocumentRef struct {
	SessionID  string `json:"sessionId"`
	DocumentID string `json:"documentId"`
}

// -------------------------------------------------------------------
// Messages

// Message is implemented by every payload exchanged with clients.
type Message interface {
	NewEmpty() Message
	Name() string
	String() string
}

// OperationMessage is an edit submitted by a client against Revision.
//
// - implements types.Message
type OperationMessage struct {
	SessionID      string          `json:"sessionId"`
	DocumentID     string          `json:"documentId"`
	ClientID       string          `json:"clientId"`
	Revision       int             `json:"revision"`
	Operation      Operation       `json:"operation"`
	Selection      *Selection      `json:"selection,omitempty"`
	CursorPosition *CursorPosition `json:"cursorPosition,omitempty"`
}

// OperationBroadcastMessage is a committed edit fanned out to every
// participant of the document.
//
// - implements types.Message
type OperationBroadcastMessage struct {
	SessionID      string          `json:"sessionId"`
	DocumentID     string          `json:"documentId"`
	ClientID       string          `json:"clientId"`
	Revision       int             `json:"revision"`
	Operation      Operation       `json:"operation"`
	Selection      *Selection      `json:"selection,omitempty"`
	CursorPosition *CursorPosition `json:"cursorPosition,omitempty"`
}

// AckMessage tells the submitting client that its edit was committed.
//
// - implements types.Message
type AckMessage struct {
	SessionID  string `json:"sessionId"`
	DocumentID string `json:"documentId"`
	ClientID   string `json:"clientId"`
	Revision   int    `json:"revision"`
}

// DocumentStateMessage carries the full state of a document.
//
// - implements types.Message
type DocumentStateMessage struct {
	SessionID    string        `json:"sessionId"`
	DocumentID   string        `json:"documentId"`
	Document     string        `json:"document"`
	Revision     int           `json:"revision"`
	Participants []Participant `json:"participants"`
}

// JoinMessage announces that a user opened a document.
//
// - implements types.Message
type JoinMessage struct {
	SessionID  string `json:"sessionId"`
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	UserColor  string `json:"userColor"`
}

// LeaveMessage announces that a user closed a document.
//
// - implements types.Message
type LeaveMessage struct {
	SessionID  string `json:"sessionId"`
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName,omitempty"`
	UserColor  string `json:"userColor,omitempty"`
}

// SelectionMessage carries a cursor/selection move.
//
// - implements types.Message
type SelectionMessage struct {
	SessionID  string      `json:"sessionId"`
	DocumentID string      `json:"documentId"`
	UserInfo   Participant `json:"userInfo"`
}

// StateRequestMessage asks for a full-state broadcast.
//
// - implements types.Message
type StateRequestMessage struct {
	SessionID  string `json:"sessionId"`
	DocumentID string `json:"documentId"`
}

// Envelope wraps a message on the wire with its name.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// TopicMessage is what subscribers receive: the topic a message was
// published on and the enveloped message.
type TopicMessage struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}
