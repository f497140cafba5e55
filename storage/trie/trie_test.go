package trie

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"omnivault/storage"
)

func TestTrieCommitFlushPersistsData(t *testing.T) {
	dir := t.TempDir()

	db1, err := storage.NewLevelDB(dir)
	require.NoError(t, err)

	tr, err := NewTrie(db1, nil)
	require.NoError(t, err)

	key := crypto.Keccak256Hash([]byte("key"))
	value := []byte("value")

	require.NoError(t, tr.Update(key.Bytes(), value))
	root, err := tr.Commit(tr.Root(), 1)
	require.NoError(t, err)

	db1.Close()

	db2, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	restored, err := NewTrie(db2, root.Bytes())
	require.NoError(t, err)

	got, err := restored.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestTrieCopyIsolatesMutations(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	tr, err := NewTrie(db, nil)
	require.NoError(t, err)

	key := crypto.Keccak256Hash([]byte("shared"))
	require.NoError(t, tr.Update(key.Bytes(), []byte("original")))

	copied, err := tr.Copy()
	require.NoError(t, err)
	require.NoError(t, copied.Update(key.Bytes(), []byte("changed")))

	got, err := tr.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("original"), got)

	got, err = copied.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("changed"), got)
}

func TestTrieResetDiscardsPendingWrites(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	tr, err := NewTrie(db, nil)
	require.NoError(t, err)

	key := crypto.Keccak256Hash([]byte("durable"))
	require.NoError(t, tr.Update(key.Bytes(), []byte("kept")))
	root, err := tr.Commit(tr.Root(), 1)
	require.NoError(t, err)

	scratch := crypto.Keccak256Hash([]byte("scratch"))
	require.NoError(t, tr.Update(scratch.Bytes(), []byte("dropped")))
	require.NoError(t, tr.Reset(root))

	got, err := tr.Get(scratch.Bytes())
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = tr.Get(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("kept"), got)
}

func TestTrieDeleteRemovesKey(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	tr, err := NewTrie(db, nil)
	require.NoError(t, err)

	key := crypto.Keccak256Hash([]byte("ephemeral"))
	require.NoError(t, tr.Update(key.Bytes(), []byte("present")))
	require.NoError(t, tr.Delete(key.Bytes()))

	got, err := tr.Get(key.Bytes())
	require.NoError(t, err)
	require.Nil(t, got)
}
