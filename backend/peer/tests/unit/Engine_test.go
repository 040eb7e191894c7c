package unit

import (
	"context"
	"sync"
	"testing"

	z "Co-Edit/backend/internal/testing"
	"Co-Edit/backend/ot"
	"Co-Edit/backend/peer"
	"Co-Edit/backend/storage"
	"Co-Edit/backend/storage/memory"
	"Co-Edit/backend/types"

	"github.com/stretchr/testify/require"
)

const (
	sessionID  = "session1"
	documentID = "doc1"
)

// Check that a document never written reads as empty at revision 0.
func Test_Engine_Empty_Document(t *testing.T) {
	node := z.NewTestNode(t, peerFac, channelFac())
	defer node.Stop()

	ctx := context.Background()

	content, err := node.GetContent(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Equal(t, "", content)

	revision, err := node.GetRevision(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Equal(t, 0, revision)

	history, err := node.GetOperationHistory(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Empty(t, history)
}

// Check that an operation against the current revision is applied as is.
func Test_Engine_Simple_Update(t *testing.T) {
	node := z.NewTestNode(t, peerFac, channelFac())
	defer node.Stop()

	ctx := context.Background()

	op := z.MustOperation(t, types.Insert("Hello"))

	transformed, revision, err := node.ReceiveOperation(ctx, sessionID, documentID, 0, op)
	require.NoError(t, err)
	require.Equal(t, 1, revision)
	require.True(t, op.Equal(transformed))

	content, err := node.GetContent(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Equal(t, "Hello", content)
}

// A client still at revision 0 inserts at the start while another client
// already inserted in the middle.
func Test_Engine_Stale_Client_Catch_Up(t *testing.T) {
	node := z.NewTestNode(t, peerFac, channelFac())
	defer node.Stop()

	ctx := context.Background()
	require.NoError(t, node.SetContent(ctx, sessionID, documentID, "HelloWorld"))

	a := z.MustOperation(t, types.Retain(5), types.Insert(" Beautiful "), types.Retain(5))
	_, revision, err := node.ReceiveOperation(ctx, sessionID, documentID, 0, a)
	require.NoError(t, err)
	require.Equal(t, 1, revision)

	content, err := node.GetContent(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Equal(t, "Hello Beautiful World", content)

	b := z.MustOperation(t, types.Insert("Hi "), types.Retain(10))
	transformed, revision, err := node.ReceiveOperation(ctx, sessionID, documentID, 0, b)
	require.NoError(t, err)
	require.Equal(t, 2, revision)
	require.Equal(t, z.MustOperation(t, types.Insert("Hi "), types.Retain(21)), transformed)

	content, err = node.GetContent(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Equal(t, "Hi Hello Beautiful World", content)
}

// Two clients insert at the same offset of the same revision: the insert
// committed first stays in front.
func Test_Engine_Simultaneous_Inserts(t *testing.T) {
	node := z.NewTestNode(t, peerFac, channelFac())
	defer node.Stop()

	ctx := context.Background()
	require.NoError(t, node.SetContent(ctx, sessionID, documentID, "HelloWorld"))

	a := z.MustOperation(t, types.Retain(5), types.Insert("A"), types.Retain(5))
	_, _, err := node.ReceiveOperation(ctx, sessionID, documentID, 0, a)
	require.NoError(t, err)

	b := z.MustOperation(t, types.Retain(5), types.Insert("B"), types.Retain(5))
	transformed, revision, err := node.ReceiveOperation(ctx, sessionID, documentID, 0, b)
	require.NoError(t, err)
	require.Equal(t, 2, revision)
	require.Equal(t, z.MustOperation(t, types.Retain(6), types.Insert("B"), types.Retain(5)), transformed)

	content, err := node.GetContent(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Equal(t, "HelloABWorld", content)
}

// A revision ahead of the server is rejected without touching the document.
func Test_Engine_Invalid_Revision(t *testing.T) {
	node := z.NewTestNode(t, peerFac, channelFac())
	defer node.Stop()

	ctx := context.Background()

	_, _, err := node.ReceiveOperation(ctx, sessionID, documentID, 0, z.MustOperation(t, types.Insert("ab")))
	require.NoError(t, err)
	_, _, err = node.ReceiveOperation(ctx, sessionID, documentID, 1, z.MustOperation(t, types.Retain(2), types.Insert("c")))
	require.NoError(t, err)

	_, _, err = node.ReceiveOperation(ctx, sessionID, documentID, 5, z.MustOperation(t, types.Retain(3), types.Insert("d")))
	require.ErrorIs(t, err, peer.ErrInvalidRevision)

	_, _, err = node.ReceiveOperation(ctx, sessionID, documentID, -1, z.MustOperation(t, types.Retain(3)))
	require.ErrorIs(t, err, peer.ErrInvalidRevision)

	state, err := node.GetDocumentState(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Equal(t, "abc", state.Document)
	require.Equal(t, 2, state.Revision)
}

// A delete and an insert made against the same revision converge whatever
// order they are committed in.
func Test_Engine_Delete_Insert_Both_Orders(t *testing.T) {
	a := func() types.Operation {
		return z.MustOperation(t, types.Retain(2), types.Delete(3), types.Retain(5))
	}
	b := func() types.Operation {
		return z.MustOperation(t, types.Retain(5), types.Insert("TEST"), types.Retain(5))
	}

	orders := map[string][]types.Operation{
		"delete first": {a(), b()},
		"insert first": {b(), a()},
	}

	for name, ops := range orders {
		t.Run(name, func(t *testing.T) {
			node := z.NewTestNode(t, peerFac, channelFac())
			defer node.Stop()

			ctx := context.Background()
			require.NoError(t, node.SetContent(ctx, sessionID, documentID, "HelloWorld"))

			for _, op := range ops {
				_, _, err := node.ReceiveOperation(ctx, sessionID, documentID, 0, op)
				require.NoError(t, err)
			}

			content, err := node.GetContent(ctx, sessionID, documentID)
			require.NoError(t, err)
			require.Equal(t, "HeTESTWorld", content)
		})
	}
}

// An operation whose base length does not match the document is rejected and
// leaves it untouched.
func Test_Engine_Length_Mismatch(t *testing.T) {
	node := z.NewTestNode(t, peerFac, channelFac())
	defer node.Stop()

	ctx := context.Background()
	require.NoError(t, node.SetContent(ctx, sessionID, documentID, "abc"))

	_, _, err := node.ReceiveOperation(ctx, sessionID, documentID, 0, z.MustOperation(t, types.Retain(10)))
	require.ErrorIs(t, err, ot.ErrRange)

	_, _, err = node.ReceiveOperation(ctx, sessionID, documentID, 0, z.MustOperation(t, types.Retain(1)))
	require.ErrorIs(t, err, ot.ErrLengthMismatch)

	state, err := node.GetDocumentState(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Equal(t, "abc", state.Document)
	require.Equal(t, 0, state.Revision)
}

// Once the history is trimmed, a client older than the oldest entry must
// reload while a client at the oldest entry can still catch up.
func Test_Engine_Resync_Required(t *testing.T) {
	node := z.NewTestNode(t, peerFac, channelFac(), z.WithMaxHistory(2))
	defer node.Stop()

	ctx := context.Background()

	for i := 0; i < 4; i++ {
		op, err := types.NewBuilder().Retain(i).Insert("x").Build()
		require.NoError(t, err)

		_, _, err = node.ReceiveOperation(ctx, sessionID, documentID, i, op)
		require.NoError(t, err)
	}

	history, err := node.GetOperationHistory(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	revision, err := node.GetRevision(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Equal(t, 4, revision)

	_, _, err = node.ReceiveOperation(ctx, sessionID, documentID, 1, z.MustOperation(t, types.Insert("y"), types.Retain(1)))
	require.ErrorIs(t, err, peer.ErrResyncRequired)

	_, revision, err = node.ReceiveOperation(ctx, sessionID, documentID, 2, z.MustOperation(t, types.Insert("y"), types.Retain(2)))
	require.NoError(t, err)
	require.Equal(t, 5, revision)

	content, err := node.GetContent(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Equal(t, "yxxxx", content)
}

// Setting the content restarts the document at revision 0 with no history.
func Test_Engine_Set_Content(t *testing.T) {
	node := z.NewTestNode(t, peerFac, channelFac())
	defer node.Stop()

	ctx := context.Background()

	_, _, err := node.ReceiveOperation(ctx, sessionID, documentID, 0, z.MustOperation(t, types.Insert("old")))
	require.NoError(t, err)

	require.NoError(t, node.SetContent(ctx, sessionID, documentID, "new text"))

	state, err := node.GetDocumentState(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Equal(t, "new text", state.Document)
	require.Equal(t, 0, state.Revision)

	history, err := node.GetOperationHistory(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Empty(t, history)

	// a client of the old document is now ahead of the server
	_, _, err = node.ReceiveOperation(ctx, sessionID, documentID, 1, z.MustOperation(t, types.Retain(8)))
	require.ErrorIs(t, err, peer.ErrInvalidRevision)
}

// Resetting a document removes it entirely.
func Test_Engine_Reset_Document(t *testing.T) {
	node := z.NewTestNode(t, peerFac, channelFac())
	defer node.Stop()

	ctx := context.Background()

	_, _, err := node.ReceiveOperation(ctx, sessionID, documentID, 0, z.MustOperation(t, types.Insert("text")))
	require.NoError(t, err)

	require.NoError(t, node.ResetDocument(ctx, sessionID, documentID))

	state, err := node.GetDocumentState(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Equal(t, "", state.Document)
	require.Equal(t, 0, state.Revision)

	keys, err := node.GetStore().ScanKeys(ctx, "doc:")
	require.NoError(t, err)
	require.Empty(t, keys)

	// resetting a missing document is not an error
	require.NoError(t, node.ResetDocument(ctx, sessionID, documentID))
}

// Check that every identifier is required.
func Test_Engine_Missing_IDs(t *testing.T) {
	node := z.NewTestNode(t, peerFac, channelFac())
	defer node.Stop()

	ctx := context.Background()

	_, _, err := node.ReceiveOperation(ctx, "", documentID, 0, z.MustOperation(t, types.Insert("a")))
	require.ErrorIs(t, err, peer.ErrMissingID)

	err = node.SetContent(ctx, sessionID, "", "a")
	require.ErrorIs(t, err, peer.ErrMissingID)

	err = node.ResetDocument(ctx, "", "")
	require.ErrorIs(t, err, peer.ErrMissingID)
}

// Malformed history entries are skipped when listing the history but fail an
// operation that must be transformed against them.
func Test_Engine_Corrupt_History(t *testing.T) {
	store := memory.NewStore()
	node := z.NewTestNode(t, peerFac, channelFac(), z.WithStore(store))
	defer node.Stop()

	ctx := context.Background()

	_, _, err := node.ReceiveOperation(ctx, sessionID, documentID, 0, z.MustOperation(t, types.Insert("ab")))
	require.NoError(t, err)

	_, err = store.CommitDocument(ctx, storage.Commit{
		Keys:         storage.NewDocumentKeys(sessionID, documentID),
		BaseRevision: 1,
		Content:      "abc",
		Operation:    "{not an operation",
		MaxHistory:   10,
	})
	require.NoError(t, err)

	history, err := node.GetOperationHistory(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Len(t, history, 1)

	_, _, err = node.ReceiveOperation(ctx, sessionID, documentID, 1, z.MustOperation(t, types.Retain(2), types.Insert("d")))
	require.ErrorIs(t, err, peer.ErrCorruptHistory)

	_, revision, err := node.ReceiveOperation(ctx, sessionID, documentID, 2, z.MustOperation(t, types.Retain(3), types.Insert("d")))
	require.NoError(t, err)
	require.Equal(t, 3, revision)
}

// conflictingStore loses every compare-and-swap.
type conflictingStore struct {
	storage.Store

	mu      sync.Mutex
	commits int
}

func (s *conflictingStore) CommitDocument(context.Context, storage.Commit) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	return 0, storage.ErrConflict
}

// A commit that keeps losing the race is retried a bounded number of times.
func Test_Engine_Commit_Conflict(t *testing.T) {
	store := &conflictingStore{Store: memory.NewStore()}
	node := z.NewTestNode(t, peerFac, channelFac(), z.WithStore(store), z.WithCommitRetries(3))
	defer node.Stop()

	_, _, err := node.ReceiveOperation(context.Background(), sessionID, documentID, 0,
		z.MustOperation(t, types.Insert("a")))
	require.ErrorIs(t, err, peer.ErrCommitConflict)
	require.Equal(t, 3, store.commits)
}

// Two peers sharing one store stand for two server processes: their edits are
// serialized by the store alone.
func Test_Engine_Concurrent_Peers(t *testing.T) {
	store := memory.NewStore()
	broker := channelFac()

	node1 := z.NewTestNode(t, peerFac, broker, z.WithStore(store), z.WithCommitRetries(100))
	defer node1.Stop()
	node2 := z.NewTestNode(t, peerFac, broker, z.WithStore(store), z.WithCommitRetries(100))
	defer node2.Stop()

	const editsPerClient = 20

	ctx := context.Background()
	wg := sync.WaitGroup{}

	for _, node := range []z.TestNode{node1, node2, node1, node2} {
		wg.Add(1)
		go func(node z.TestNode) {
			defer wg.Done()

			for i := 0; i < editsPerClient; i++ {
				state, err := node.GetDocumentState(ctx, sessionID, documentID)
				require.NoError(t, err)

				length := types.TextLength(state.Document)
				op := z.MustOperation(t, types.Insert("x"), types.Retain(length))

				_, _, err = node.ReceiveOperation(ctx, sessionID, documentID, state.Revision, op)
				require.NoError(t, err)
			}
		}(node)
	}

	wg.Wait()

	state, err := node1.GetDocumentState(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Equal(t, 4*editsPerClient, state.Revision)
	require.Len(t, state.Document, 4*editsPerClient)

	history, err := node2.GetOperationHistory(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Len(t, history, 4*editsPerClient)

	// replaying the history rebuilds the content
	content := ""
	for _, op := range history {
		content, err = ot.Apply(content, op)
		require.NoError(t, err)
	}
	require.Equal(t, state.Document, content)
}

// Documents of different sessions are independent.
func Test_Engine_Independent_Documents(t *testing.T) {
	node := z.NewTestNode(t, peerFac, channelFac())
	defer node.Stop()

	ctx := context.Background()

	_, _, err := node.ReceiveOperation(ctx, "s1", documentID, 0, z.MustOperation(t, types.Insert("one")))
	require.NoError(t, err)
	_, _, err = node.ReceiveOperation(ctx, "s2", documentID, 0, z.MustOperation(t, types.Insert("two")))
	require.NoError(t, err)

	content, err := node.GetContent(ctx, "s1", documentID)
	require.NoError(t, err)
	require.Equal(t, "one", content)

	content, err = node.GetContent(ctx, "s2", documentID)
	require.NoError(t, err)
	require.Equal(t, "two", content)
}
