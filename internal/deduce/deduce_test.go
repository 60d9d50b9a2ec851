package deduce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rightcommons/merkleboard/internal/backendmem"
	"github.com/rightcommons/merkleboard/internal/forest"
	"github.com/rightcommons/merkleboard/internal/hashvalue"
	"github.com/rightcommons/merkleboard/internal/nodekind"
)

func submitLeaf(t *testing.T, backend *backendmem.Backend, f *forest.Forest, timestamp uint64, data string) hashvalue.Value {
	t.Helper()
	leaf := nodekind.Leaf{Timestamp: timestamp, Data: &data}
	hash, _ := leaf.ComputeHash()
	tx := nodekind.New()
	tx.AddLeaf(hash, leaf)
	require.NoError(t, f.AddLeaf(backend, tx, hash))
	require.NoError(t, backend.Publish(tx))
	return hash
}

func publishRoot(t *testing.T, backend *backendmem.Backend, f *forest.Forest, timestamp uint64, prior *hashvalue.Value) hashvalue.Value {
	t.Helper()
	root := nodekind.Root{Timestamp: timestamp, Prior: prior, Elements: f.GetSubtrees()}
	hash := root.ComputeHash()
	require.NoError(t, backend.Publish(nodekind.Singleton(hash, nodekind.NewRootSource(root))))
	return hash
}

func replayAll(t *testing.T, backend *backendmem.Backend, transactions []*nodekind.Transaction) {
	t.Helper()
	for _, tx := range transactions {
		require.NoError(t, backend.Publish(tx))
	}
}

func TestDeductionFromEmptyReplaysToIdenticalState(t *testing.T) {
	original := backendmem.New()
	f := forest.New()
	submitLeaf(t, original, f, 1, "a")
	submitLeaf(t, original, f, 2, "b")
	submitLeaf(t, original, f, 3, "c")

	to, err := original.GetAllParentlessLeavesAndBranches()
	require.NoError(t, err)

	transactions, err := Journal(original, nil, to, false)
	require.NoError(t, err)

	replica := backendmem.New()
	replayAll(t, replica, transactions)

	gotParentless, err := replica.GetAllParentlessLeavesAndBranches()
	require.NoError(t, err)
	assert.ElementsMatch(t, to, gotParentless)

	for _, h := range to {
		wantInfo, _, err := original.GetHashInfo(h)
		require.NoError(t, err)
		gotInfo, ok, err := replica.GetHashInfo(h)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, wantInfo.Source.Kind, gotInfo.Source.Kind)
	}
}

func TestJournalIncludesPublishedRootsInterleaved(t *testing.T) {
	original := backendmem.New()
	f := forest.New()
	submitLeaf(t, original, f, 1, "a")
	submitLeaf(t, original, f, 2, "b")
	r1 := publishRoot(t, original, f, 10, nil)
	submitLeaf(t, original, f, 3, "c")

	to, err := original.GetAllParentlessLeavesAndBranches()
	require.NoError(t, err)

	transactions, err := Journal(original, nil, to, true)
	require.NoError(t, err)

	var sawRoot bool
	for _, tx := range transactions {
		for _, entry := range tx.Pending {
			if nodekind.IsRoot(entry.Source) && entry.Hash == r1 {
				sawRoot = true
			}
		}
	}
	assert.True(t, sawRoot, "the published root must appear somewhere in the deduced journal")
}

func TestFromPriorRootToGivenRoot(t *testing.T) {
	original := backendmem.New()
	f := forest.New()
	submitLeaf(t, original, f, 1, "a")
	submitLeaf(t, original, f, 2, "b")
	r1 := publishRoot(t, original, f, 10, nil)
	submitLeaf(t, original, f, 3, "c")
	submitLeaf(t, original, f, 4, "d")
	r2 := publishRoot(t, original, f, 20, &r1)

	transactions, err := FromPriorRootToGivenRoot(original, r2)
	require.NoError(t, err)
	require.NotEmpty(t, transactions)

	last := transactions[len(transactions)-1]
	require.Len(t, last.Pending, 1)
	assert.Equal(t, r2, last.Pending[0].Hash)
	assert.True(t, nodekind.IsRoot(last.Pending[0].Source))
}

func TestLastPublishedRootToPresent(t *testing.T) {
	original := backendmem.New()
	f := forest.New()
	submitLeaf(t, original, f, 1, "a")
	publishRoot(t, original, f, 10, nil)
	submitLeaf(t, original, f, 2, "b")

	transactions, err := LastPublishedRootToPresent(original)
	require.NoError(t, err)

	for _, tx := range transactions {
		for _, entry := range tx.Pending {
			assert.False(t, nodekind.IsRoot(entry.Source), "LastPublishedRootToPresent excludes roots")
		}
	}
}
