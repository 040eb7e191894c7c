// Package dir archives snapshots as plain text files, one directory per
// document.
package dir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"Co-Edit/backend/archive"

	"golang.org/x/xerrors"
)

const extension = ".txt"

// Archive writes <root>/<session>/<document>/<unixnano>_<revision>_<id>.txt.
//
// - implements archive.Archive
type Archive struct {
	root string
}

var _ archive.Archive = (*Archive)(nil)

// NewArchive creates root if needed.
func NewArchive(root string) (*Archive, error) {
	err := os.MkdirAll(root, 0755)
	if err != nil {
		return nil, xerrors.Errorf("failed to create archive directory: %v", err)
	}
	return &Archive{root: root}, nil
}

func (a *Archive) documentDir(sessionID, documentID string) string {
	return filepath.Join(a.root, filepath.Base(sessionID), filepath.Base(documentID))
}

// Save implements archive.Archive
func (a *Archive) Save(_ context.Context, snapshot archive.Snapshot) error {
	docDir := a.documentDir(snapshot.SessionID, snapshot.DocumentID)
	err := os.MkdirAll(docDir, 0755)
	if err != nil {
		return xerrors.Errorf("failed to create document directory: %v", err)
	}

	fileName := fmt.Sprintf("%d_%d_%s%s", snapshot.CreatedAt.UnixNano(), snapshot.Revision, snapshot.ID, extension)
	err = os.WriteFile(filepath.Join(docDir, fileName), []byte(snapshot.Content), 0644)
	if err != nil {
		return xerrors.Errorf("failed to save snapshot: %v", err)
	}
	return nil
}

// List implements archive.Archive
func (a *Archive) List(_ context.Context, sessionID, documentID string) ([]archive.Snapshot, error) {
	docDir := a.documentDir(sessionID, documentID)

	entries, err := os.ReadDir(docDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("failed to read archive directory: %v", err)
	}

	var snapshots []archive.Snapshot
	for _, entry := range entries {
		snapshot, ok := parseFileName(entry.Name())
		if entry.IsDir() || !ok {
			continue
		}

		content, err := os.ReadFile(filepath.Join(docDir, entry.Name()))
		if err != nil {
			return nil, xerrors.Errorf("failed to read snapshot %s: %v", entry.Name(), err)
		}

		snapshot.SessionID = sessionID
		snapshot.DocumentID = documentID
		snapshot.Content = string(content)
		snapshots = append(snapshots, snapshot)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

// Delete implements archive.Archive
func (a *Archive) Delete(_ context.Context, sessionID, documentID, id string) error {
	docDir := a.documentDir(sessionID, documentID)

	matches, err := filepath.Glob(filepath.Join(docDir, "*_*_"+id+extension))
	if err != nil {
		return xerrors.Errorf("failed to look up snapshot %s: %v", id, err)
	}
	if len(matches) == 0 {
		return xerrors.Errorf("%s: %w", id, archive.ErrSnapshotNotFound)
	}

	for _, match := range matches {
		err = os.Remove(match)
		if err != nil {
			return xerrors.Errorf("failed to remove snapshot: %w", err)
		}
	}
	return nil
}

// Close implements archive.Archive
func (a *Archive) Close() error {
	return nil
}

func parseFileName(name string) (archive.Snapshot, bool) {
	if !strings.HasSuffix(name, extension) {
		return archive.Snapshot{}, false
	}
	parts := strings.SplitN(strings.TrimSuffix(name, extension), "_", 3)
	if len(parts) != 3 {
		return archive.Snapshot{}, false
	}

	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return archive.Snapshot{}, false
	}
	revision, err := strconv.Atoi(parts[1])
	if err != nil {
		return archive.Snapshot{}, false
	}

	return archive.Snapshot{
		ID:        parts[2],
		Revision:  revision,
		CreatedAt: time.Unix(0, nanos),
	}, true
}
