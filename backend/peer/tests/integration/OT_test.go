package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"

	z "Co-Edit/backend/internal/testing"
	"Co-Edit/backend/ot"
	"Co-Edit/backend/peer/tests"
	"Co-Edit/backend/storage/memory"
	"Co-Edit/backend/transport"
	"Co-Edit/backend/transport/channel"
	"Co-Edit/backend/types"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

const (
	sessionID  = "session1"
	documentID = "doc1"
)

// Test_OT_Integration_Pipeline runs a whole editing session through the
// message registry with two users.
//
// alice joins, bob joins, alice types "Hello", bob appends " World" from
// revision 0, bob leaves.
//
// Both users see "Hello World" at revision 2.
func Test_OT_Integration_Pipeline(t *testing.T) {
	transp := channel.NewTransport()

	node1 := z.NewTestNode(t, studentFac, transp)
	defer node1.Stop()

	topics := transport.DocumentTopics(sessionID, documentID)
	alice := z.NewRecorder(t, transp, append(topics, transport.AckTopic("alice"))...)
	bob := z.NewRecorder(t, transp, append(topics, transport.AckTopic("bob"))...)

	// > joins

	for _, user := range []string{"alice", "bob"} {
		join := types.JoinMessage{SessionID: sessionID, DocumentID: documentID, UserID: user, UserName: user}
		require.NoError(t, node1.Send(&join, "conn-"+user, user))
	}

	states := bob.WaitFor(t, types.DocumentStateMessage{}.Name(), 2)

	var state types.DocumentStateMessage
	z.Decode(t, states[1], &state)
	require.Len(t, state.Participants, 2)

	// > edits, both made against revision 0

	hello := types.OperationMessage{
		SessionID:  sessionID,
		DocumentID: documentID,
		ClientID:   "alice",
		Revision:   0,
		Operation:  z.MustOperation(t, types.Insert("Hello")),
	}
	require.NoError(t, node1.Send(&hello, "conn-alice", "alice"))

	world := types.OperationMessage{
		SessionID:  sessionID,
		DocumentID: documentID,
		ClientID:   "bob",
		Revision:   0,
		Operation:  z.MustOperation(t, types.Insert(" World")),
	}
	require.NoError(t, node1.Send(&world, "conn-bob", "bob"))

	// > both users receive both broadcasts and rebuild the same text

	for _, recorder := range []*z.Recorder{alice, bob} {
		received := recorder.WaitFor(t, types.OperationBroadcastMessage{}.Name(), 2)

		ops := make([]tests.Revisioned, len(received))
		for i, msg := range received {
			var broadcast types.OperationBroadcastMessage
			z.Decode(t, msg, &broadcast)
			ops[i] = tests.Revisioned{Revision: broadcast.Revision, Operation: broadcast.Operation}
		}

		content, err := tests.Replay("", ops)
		require.NoError(t, err)
		require.Equal(t, "Hello World", content)
	}

	aliceAcks := alice.WaitFor(t, types.AckMessage{}.Name(), 1)
	var ack types.AckMessage
	z.Decode(t, aliceAcks[0], &ack)
	require.Equal(t, 1, ack.Revision)

	bobAcks := bob.WaitFor(t, types.AckMessage{}.Name(), 1)
	z.Decode(t, bobAcks[0], &ack)
	require.Equal(t, 2, ack.Revision)

	// > bob leaves

	leave := types.LeaveMessage{SessionID: sessionID, DocumentID: documentID, UserID: "bob"}
	require.NoError(t, node1.Send(&leave, "conn-bob", "bob"))

	states = alice.WaitFor(t, types.DocumentStateMessage{}.Name(), 3)
	state = types.DocumentStateMessage{}
	z.Decode(t, states[2], &state)
	require.Equal(t, "Hello World", state.Document)
	require.Equal(t, 2, state.Revision)
	require.Len(t, state.Participants, 1)
	require.Equal(t, "alice", state.Participants[0].ID)
}

// Test_OT_Integration_Convergence has many clients edit one document
// concurrently from possibly stale revisions, through two peers sharing one
// store. The broadcasts, the history and the content must all agree.
func Test_OT_Integration_Convergence(t *testing.T) {
	const clientCount = 6
	const editsPerClient = 25
	const initial = "The quick brown fox jumps over the lazy dog"

	transp := channel.NewBroker(clientCount * editsPerClient * 2)
	store := memory.NewStore()

	node1 := z.NewTestNode(t, studentFac, transp, z.WithStore(store), z.WithCommitRetries(1000))
	defer node1.Stop()

	node2 := z.NewTestNode(t, studentFac, transp, z.WithStore(store), z.WithCommitRetries(1000))
	defer node2.Stop()

	ctx := context.Background()
	require.NoError(t, node1.SetContent(ctx, sessionID, documentID, initial))

	observer := z.NewRecorder(t, transp, transport.OperationsTopic(sessionID, documentID))

	wg := sync.WaitGroup{}
	wg.Add(clientCount)

	for c := 0; c < clientCount; c++ {
		node := node1
		if c%2 == 1 {
			node = node2
		}

		go func(client int, node z.TestNode) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(uint64(client + 1)))
			clientID := fmt.Sprintf("client%d", client)

			state, err := node.GetDocumentState(ctx, sessionID, documentID)
			require.NoError(t, err)

			for i := 0; i < editsPerClient; i++ {
				// the local copy is refreshed only now and then, so most edits are
				// made against an old revision
				if rng.Intn(3) == 0 {
					state, err = node.GetDocumentState(ctx, sessionID, documentID)
					require.NoError(t, err)
				}

				op := tests.RandomOperation(rng, state.Document)

				msg := types.OperationMessage{
					SessionID:  sessionID,
					DocumentID: documentID,
					ClientID:   clientID,
					Revision:   state.Revision,
					Operation:  op,
				}
				require.NoError(t, node.Send(&msg, "conn-"+clientID, clientID))
			}
		}(c, node)
	}

	wg.Wait()

	total := clientCount * editsPerClient

	final, err := node2.GetDocumentState(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Equal(t, total, final.Revision)

	// > the history rebuilds the content

	history, err := node1.GetOperationHistory(ctx, sessionID, documentID)
	require.NoError(t, err)
	require.Len(t, history, total)

	content := initial
	for _, op := range history {
		content, err = ot.Apply(content, op)
		require.NoError(t, err)
	}
	require.Equal(t, final.Document, content)

	// > the broadcasts rebuild the content

	received := observer.WaitFor(t, types.OperationBroadcastMessage{}.Name(), total)

	ops := make([]tests.Revisioned, len(received))
	for i, msg := range received {
		var broadcast types.OperationBroadcastMessage
		z.Decode(t, msg, &broadcast)
		ops[i] = tests.Revisioned{Revision: broadcast.Revision, Operation: broadcast.Operation}
	}

	content, err = tests.Replay(initial, ops)
	require.NoError(t, err)
	require.Equal(t, final.Document, content)
}

// Test_OT_Integration_Stale_Edits commits three edits made against revision 0
// in every arrival order. The delete always applies and inserts at the same
// offset keep their commit order.
func Test_OT_Integration_Stale_Edits(t *testing.T) {
	edits := map[string]types.Operation{
		"A": z.MustOperation(t, types.Retain(5), types.Insert("A"), types.Retain(5)),
		"B": z.MustOperation(t, types.Retain(5), types.Insert("B"), types.Retain(5)),
		"C": z.MustOperation(t, types.Delete(5), types.Retain(5)),
	}

	orders := [][]string{
		{"A", "B", "C"},
		{"A", "C", "B"},
		{"B", "A", "C"},
		{"B", "C", "A"},
		{"C", "A", "B"},
		{"C", "B", "A"},
	}

	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			node := z.NewTestNode(t, studentFac, channel.NewTransport())
			defer node.Stop()

			ctx := context.Background()
			require.NoError(t, node.SetContent(ctx, sessionID, documentID, "HelloWorld"))

			for _, name := range order {
				_, _, err := node.ReceiveOperation(ctx, sessionID, documentID, 0, edits[name])
				require.NoError(t, err)
			}

			content, err := node.GetContent(ctx, sessionID, documentID)
			require.NoError(t, err)

			// the delete always removes "Hello", the inserts keep their
			// commit order
			expected := "World"
			for i := len(order) - 1; i >= 0; i-- {
				if order[i] != "C" {
					expected = order[i] + expected
				}
			}
			require.Equal(t, expected, content)
		})
	}
}
