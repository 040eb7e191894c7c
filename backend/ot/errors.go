// Package ot implements the operational transformation algebra over plain text
// operations: apply, invert, compose and transform.
package ot

import "golang.org/x/xerrors"

// Apply and invert errors
var (
	// ErrRange indicates that a step reads past the end of the document.
	ErrRange = xerrors.New("operation step exceeds document length")

	// ErrLengthMismatch indicates that an operation did not consume the whole
	// document.
	ErrLengthMismatch = xerrors.New("operation base length does not match document length")
)

// Compose and transform errors
var (
	// ErrComposeLengthMismatch indicates that the first operation's target
	// length differs from the second operation's base length.
	ErrComposeLengthMismatch = xerrors.New("compose: target length of the first operation must equal base length of the second")

	// ErrBaseLengthMismatch indicates that two concurrent operations were not
	// made against the same document length.
	ErrBaseLengthMismatch = xerrors.New("transform: both operations must have the same base length")

	// ErrShortOperation indicates that one operand ran out of steps while the
	// other still had input to consume.
	ErrShortOperation = xerrors.New("operation is too short")
)
