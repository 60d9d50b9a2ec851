package backendflat

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rightcommons/merkleboard/internal/hashvalue"
	"github.com/rightcommons/merkleboard/internal/nodekind"
)

func publishLeaf(t *testing.T, b *Backend, timestamp uint64, data string) {
	t.Helper()
	entry := leafEntry(timestamp, data)
	tx := &nodekind.Transaction{Pending: []nodekind.Entry{entry}}
	require.NoError(t, b.Publish(tx))
}

func TestOpenCreatesFileAndPublishPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.csv")
	b, err := Open(path)
	require.NoError(t, err)
	publishLeaf(t, b, 1, "hello")

	info, ok, err := b.GetHashInfo(hashForLeaf(1, "hello"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", *info.Source.Leaf.Data)
	require.NoError(t, b.Close())
}

func TestReopenReplaysJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.csv")
	b, err := Open(path)
	require.NoError(t, err)
	publishLeaf(t, b, 1, "a")
	publishLeaf(t, b, 2, "b")
	require.NoError(t, b.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	parentless, err := reopened.GetAllParentlessLeavesAndBranches()
	require.NoError(t, err)
	assert.Len(t, parentless, 1, "two leaves merge into a single depth-1 branch on replay")
}

func TestCensorLeafRewritesJournalAndSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.csv")
	b, err := Open(path)
	require.NoError(t, err)
	publishLeaf(t, b, 1, "secret")
	hash := hashForLeaf(1, "secret")

	require.NoError(t, b.CensorLeaf(hash))
	info, ok, err := b.GetHashInfo(hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, info.Source.Leaf.Data)
	require.NoError(t, b.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	info, ok, err = reopened.GetHashInfo(hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, info.Source.Leaf.Data, "censorship must survive a journal rewrite and reopen")
	assert.Equal(t, uint64(1), info.Source.Leaf.Timestamp)
}

func hashForLeaf(timestamp uint64, data string) hashvalue.Value {
	return leafEntry(timestamp, data).Hash
}
