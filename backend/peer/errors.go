package peer

import "golang.org/x/xerrors"

// Document engine errors
var (
	// ErrInvalidRevision indicates a client revision below 0 or above the
	// document's current revision. Nothing was read from the history nor
	// written.
	ErrInvalidRevision = xerrors.New("invalid client revision")

	// ErrResyncRequired indicates a client revision older than the oldest
	// retained history entry. The client must reload the document.
	ErrResyncRequired = xerrors.New("client revision predates the retained history")

	// ErrCorruptHistory indicates a history entry that cannot be decoded
	// while transforming an operation.
	ErrCorruptHistory = xerrors.New("corrupt history entry")

	// ErrCommitConflict indicates that every commit attempt lost the race
	// against a concurrent writer.
	ErrCommitConflict = xerrors.New("document kept changing during commit")
)

// Request errors
var (
	// ErrMissingID indicates an empty session, document or user id.
	ErrMissingID = xerrors.New("missing identifier")
)
