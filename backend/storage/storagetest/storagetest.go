// Package storagetest holds the behaviour every storage.Store backend must
// share. Backends call Run from their own tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"Co-Edit/backend/storage"

	"github.com/rs/xid"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

// Run runs the shared suite against stores built by newStore. Key names are
// randomised so backends pointing at a shared server do not collide.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("Document_Empty", func(t *testing.T) { testDocumentEmpty(t, newStore(t)) })
	t.Run("Document_Commit", func(t *testing.T) { testDocumentCommit(t, newStore(t)) })
	t.Run("Document_Conflict", func(t *testing.T) { testDocumentConflict(t, newStore(t)) })
	t.Run("Document_Trim", func(t *testing.T) { testDocumentTrim(t, newStore(t)) })
	t.Run("Document_Seed", func(t *testing.T) { testDocumentSeed(t, newStore(t)) })
	t.Run("Hash", func(t *testing.T) { testHash(t, newStore(t)) })
	t.Run("Set", func(t *testing.T) { testSet(t, newStore(t)) })
	t.Run("Scan", func(t *testing.T) { testScan(t, newStore(t)) })
}

func newKeys() storage.DocumentKeys {
	return storage.NewDocumentKeys(xid.New().String(), "doc")
}

func commit(t *testing.T, s storage.Store, keys storage.DocumentKeys, base int, content, op string, max int) int {
	revision, err := s.CommitDocument(context.Background(), storage.Commit{
		Keys:         keys,
		BaseRevision: base,
		Content:      content,
		Operation:    op,
		MaxHistory:   max,
	})
	require.NoError(t, err)
	return revision
}

func testDocumentEmpty(t *testing.T, s storage.Store) {
	state, err := s.ReadDocument(context.Background(), newKeys())
	require.NoError(t, err)
	require.Equal(t, storage.DocumentState{}, state)
}

func testDocumentCommit(t *testing.T, s storage.Store) {
	ctx := context.Background()
	keys := newKeys()
	defer s.Delete(ctx, keys.Content, keys.History, keys.Revision)

	require.Equal(t, 1, commit(t, s, keys, 0, "a", `["a"]`, 10))
	require.Equal(t, 2, commit(t, s, keys, 1, "ab", `[1,"b"]`, 10))

	state, err := s.ReadDocument(ctx, keys)
	require.NoError(t, err)
	require.Equal(t, storage.DocumentState{Content: "ab", Revision: 2, HistoryLength: 2}, state)

	history, err := s.ListFrom(ctx, keys.History, 1)
	require.NoError(t, err)
	require.Equal(t, []string{`[1,"b"]`}, history)
}

func testDocumentConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	keys := newKeys()
	defer s.Delete(ctx, keys.Content, keys.History, keys.Revision)

	commit(t, s, keys, 0, "a", `["a"]`, 10)

	_, err := s.CommitDocument(ctx, storage.Commit{Keys: keys, BaseRevision: 0, Content: "b", Operation: `["b"]`})
	require.True(t, xerrors.Is(err, storage.ErrConflict))

	state, err := s.ReadDocument(ctx, keys)
	require.NoError(t, err)
	require.Equal(t, "a", state.Content)
	require.Equal(t, 1, state.Revision)
}

func testDocumentTrim(t *testing.T, s storage.Store) {
	ctx := context.Background()
	keys := newKeys()
	defer s.Delete(ctx, keys.Content, keys.History, keys.Revision)

	for i := 0; i < 5; i++ {
		commit(t, s, keys, i, "x", string(rune('a'+i)), 3)
	}

	state, err := s.ReadDocument(ctx, keys)
	require.NoError(t, err)
	require.Equal(t, 5, state.Revision)
	require.Equal(t, 3, state.HistoryLength)
	require.Equal(t, 2, state.OldestRetained())

	history, err := s.ListFrom(ctx, keys.History, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d", "e"}, history)
}

func testDocumentSeed(t *testing.T, s storage.Store) {
	ctx := context.Background()
	keys := newKeys()
	defer s.Delete(ctx, keys.Content, keys.History, keys.Revision)

	commit(t, s, keys, 0, "a", `["a"]`, 10)
	require.NoError(t, s.SeedDocument(ctx, keys, "HelloWorld"))

	state, err := s.ReadDocument(ctx, keys)
	require.NoError(t, err)
	require.Equal(t, storage.DocumentState{Content: "HelloWorld"}, state)

	require.NoError(t, s.Delete(ctx, keys.Content, keys.History, keys.Revision))
	state, err = s.ReadDocument(ctx, keys)
	require.NoError(t, err)
	require.Equal(t, storage.DocumentState{}, state)
}

func testHash(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := storage.PresenceKey(xid.New().String(), "doc")
	defer s.Delete(ctx, key)

	require.NoError(t, s.HashPut(ctx, key, "u1", "one", time.Minute))
	require.NoError(t, s.HashPut(ctx, key, "u2", "two", time.Minute))

	value, ok, err := s.HashGet(ctx, key, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", value)

	_, ok, err = s.HashGet(ctx, key, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	all, err := s.HashGetAll(ctx, key)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"u1": "one", "u2": "two"}, all)

	removed, remaining, err := s.HashDelete(ctx, key, "u1")
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, 1, remaining)

	removed, remaining, err = s.HashDelete(ctx, key, "u1")
	require.NoError(t, err)
	require.False(t, removed)
	require.Equal(t, 1, remaining)

	_, remaining, err = s.HashDelete(ctx, key, "u2")
	require.NoError(t, err)
	require.Equal(t, 0, remaining)

	keys, err := s.ScanKeys(ctx, key)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func testSet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := storage.UserIndexKey(xid.New().String())
	defer s.Delete(ctx, key)

	require.NoError(t, s.SetAdd(ctx, key, "s1:d1", time.Hour))
	require.NoError(t, s.SetAdd(ctx, key, "s1:d2", time.Hour))
	require.NoError(t, s.SetAdd(ctx, key, "s1:d1", time.Hour))

	members, err := s.SetMembers(ctx, key)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"s1:d1", "s1:d2"}, members)

	require.NoError(t, s.SetRemove(ctx, key, "s1:d1"))
	members, err = s.SetMembers(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []string{"s1:d2"}, members)
}

func testScan(t *testing.T, s storage.Store) {
	ctx := context.Background()
	session := xid.New().String()
	prefix := storage.PresencePrefix + session + ":"

	for _, doc := range []string{"a", "b", "c"} {
		key := storage.PresenceKey(session, doc)
		require.NoError(t, s.HashPut(ctx, key, "u", "v", time.Minute))
		defer s.Delete(ctx, key)
	}

	keys, err := s.ScanKeys(ctx, prefix)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{prefix + "a", prefix + "b", prefix + "c"}, keys)
}
