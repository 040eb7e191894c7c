// Package archivetest holds the behaviour every archive.Archive backend must
// share.
package archivetest

import (
	"context"
	"testing"
	"time"

	"Co-Edit/backend/archive"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

// Run saves, lists and deletes snapshots of a fresh document.
func Run(t *testing.T, a archive.Archive) {
	ctx := context.Background()
	session := xid.New().String()
	base := time.Unix(1700000000, 0).UTC()

	snapshots := make([]archive.Snapshot, 3)
	for i := range snapshots {
		snapshots[i] = archive.Snapshot{
			ID:         uuid.NewString(),
			SessionID:  session,
			DocumentID: "doc",
			Revision:   i * 10,
			Content:    "content " + string(rune('a'+i)),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, a.Save(ctx, snapshots[i]))
	}

	// another document of the same session is not listed
	require.NoError(t, a.Save(ctx, archive.Snapshot{
		ID: uuid.NewString(), SessionID: session, DocumentID: "other", CreatedAt: base,
	}))

	listed, err := a.List(ctx, session, "doc")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	for i, snapshot := range listed {
		require.Equal(t, snapshots[i].ID, snapshot.ID)
		require.Equal(t, snapshots[i].Revision, snapshot.Revision)
		require.Equal(t, snapshots[i].Content, snapshot.Content)
		require.True(t, snapshots[i].CreatedAt.Equal(snapshot.CreatedAt))
	}

	require.NoError(t, a.Delete(ctx, session, "doc", snapshots[0].ID))
	listed, err = a.List(ctx, session, "doc")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, snapshots[1].ID, listed[0].ID)

	err = a.Delete(ctx, session, "doc", snapshots[0].ID)
	require.True(t, xerrors.Is(err, archive.ErrSnapshotNotFound))

	listed, err = a.List(ctx, session, "missing")
	require.NoError(t, err)
	require.Empty(t, listed)
}
