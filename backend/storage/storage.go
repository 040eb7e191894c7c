// Package storage defines the key/value collaborator documents and presence
// live in. Backends live in sub-packages.
package storage

import (
	"context"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// ErrConflict is returned by CommitDocument when the stored revision is no
// longer the one the commit was computed against.
var ErrConflict = xerrors.New("document revision changed concurrently")

// Store is the set of key/value primitives the document engine and the
// presence registry are built on. Every method is safe for concurrent use.
type Store interface {
	// ReadDocument returns content, revision and history length of a document
	// as one consistent snapshot. A missing document reads as empty at
	// revision 0. A missing revision key reads as the history length.
	ReadDocument(ctx context.Context, keys DocumentKeys) (DocumentState, error)

	// ListFrom returns the elements of a list starting at index start.
	ListFrom(ctx context.Context, key string, start int) ([]string, error)

	// CommitDocument atomically sets the content, appends the operation to
	// the history, trims the history to MaxHistory entries and increments the
	// revision, provided the revision still equals BaseRevision. It returns
	// the new revision, or ErrConflict.
	CommitDocument(ctx context.Context, commit Commit) (int, error)

	// SeedDocument atomically sets the content, clears the history and resets
	// the revision to 0.
	SeedDocument(ctx context.Context, keys DocumentKeys, content string) error

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// HashPut sets a field of a hash and refreshes the key's TTL.
	HashPut(ctx context.Context, key, field, value string, ttl time.Duration) error

	// HashGet returns a field of a hash, and whether it exists.
	HashGet(ctx context.Context, key, field string) (string, bool, error)

	// HashDelete removes a field and returns whether it existed and how many
	// fields remain. A hash left empty is removed.
	HashDelete(ctx context.Context, key, field string) (bool, int, error)

	// HashGetAll returns every field of a hash.
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// Expire sets the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// SetAdd adds a member to a set and refreshes the key's TTL.
	SetAdd(ctx context.Context, key, member string, ttl time.Duration) error

	// SetRemove removes a member from a set.
	SetRemove(ctx context.Context, key, member string) error

	// SetMembers returns every member of a set.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// ScanKeys returns every key starting with prefix.
	ScanKeys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// DocumentKeys are the three keys a document is stored under.
type DocumentKeys struct {
	Content  string
	History  string
	Revision string
}

// DocumentState is a consistent read of a document.
type DocumentState struct {
	Content       string
	Revision      int
	HistoryLength int
}

// OldestRetained is the revision of the first entry still in the history.
func (d DocumentState) OldestRetained() int {
	return d.Revision - d.HistoryLength
}

// Commit describes one compare-and-swap commit of a document.
type Commit struct {
	Keys         DocumentKeys
	BaseRevision int
	Content      string
	Operation    string
	MaxHistory   int
}

// -----------------------------------------------------------------------------
// Key layout

const (
	// PresencePrefix prefixes the per-document participant hashes.
	PresencePrefix = "session:users:"
	// UserIndexPrefix prefixes the per-user reverse index sets.
	UserIndexPrefix = "user:active_docs:"
)

// NewDocumentKeys returns the keys of a document. The session id is wrapped
// in a hash tag so every key of a session lands on the same cluster slot.
func NewDocumentKeys(sessionID, documentID string) DocumentKeys {
	prefix := "doc:{" + sessionID + "}:"
	return DocumentKeys{
		Content:  prefix + "content:" + documentID,
		History:  prefix + "history:" + documentID,
		Revision: prefix + "revision:" + documentID,
	}
}

// PresenceKey is the hash holding the participants of a document.
func PresenceKey(sessionID, documentID string) string {
	return PresencePrefix + sessionID + ":" + documentID
}

// ParsePresenceKey splits a presence key back into session and document ids.
// The session id must not contain ':'.
func ParsePresenceKey(key string) (sessionID, documentID string, ok bool) {
	if !strings.HasPrefix(key, PresencePrefix) {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(key, PresencePrefix), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// UserIndexKey is the set of documents a user is present in.
func UserIndexKey(userID string) string {
	return UserIndexPrefix + userID
}

// IndexMember is the reverse index entry of a document.
func IndexMember(sessionID, documentID string) string {
	return sessionID + ":" + documentID
}

// ParseIndexMember splits a reverse index entry.
func ParseIndexMember(member string) (sessionID, documentID string, ok bool) {
	parts := strings.SplitN(member, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
