package backendmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rightcommons/merkleboard/internal/boardbackend"
	"github.com/rightcommons/merkleboard/internal/hashvalue"
	"github.com/rightcommons/merkleboard/internal/nodekind"
)

func leafTx(timestamp uint64, data string) (*nodekind.Transaction, hashvalue.Value) {
	leaf := nodekind.Leaf{Timestamp: timestamp, Data: &data}
	hash, _ := leaf.ComputeHash()
	tx := nodekind.New()
	tx.AddLeaf(hash, leaf)
	return tx, hash
}

func TestPublishAndGetHashInfo(t *testing.T) {
	b := New()
	tx, hash := leafTx(1, "hello")
	require.NoError(t, b.Publish(tx))

	info, ok, err := b.GetHashInfo(hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, nodekind.KindLeaf, info.Source.Kind)
	assert.Nil(t, info.Parent)
}

func TestGetHashInfoUnknownHash(t *testing.T) {
	b := New()
	_, ok, err := b.GetHashInfo(hashvalue.HashLeaf(1, "nope"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBranchSetsParentOnChildren(t *testing.T) {
	b := New()
	leftTx, left := leafTx(1, "a")
	rightTx, right := leafTx(2, "b")
	require.NoError(t, b.Publish(leftTx))
	require.NoError(t, b.Publish(rightTx))

	branch := nodekind.Branch{Left: left, Right: right}
	branchHash := branch.ComputeHash()
	tx := nodekind.New()
	tx.AddBranch(branchHash, branch)
	require.NoError(t, b.Publish(tx))

	leftInfo, _, _ := b.GetHashInfo(left)
	rightInfo, _, _ := b.GetHashInfo(right)
	require.NotNil(t, leftInfo.Parent)
	require.NotNil(t, rightInfo.Parent)
	assert.Equal(t, branchHash, *leftInfo.Parent)
	assert.Equal(t, branchHash, *rightInfo.Parent)
}

func TestGetAllParentlessLeavesAndBranchesExcludesRoots(t *testing.T) {
	b := New()
	tx, leaf := leafTx(1, "a")
	require.NoError(t, b.Publish(tx))

	root := nodekind.Root{Timestamp: 10, Elements: []hashvalue.Value{leaf}}
	rootHash := root.ComputeHash()
	rootTx := nodekind.Singleton(rootHash, nodekind.NewRootSource(root))
	require.NoError(t, b.Publish(rootTx))

	parentless, err := b.GetAllParentlessLeavesAndBranches()
	require.NoError(t, err)
	assert.Equal(t, []hashvalue.Value{leaf}, parentless, "a published root must not itself appear as parentless")
}

func TestGetMostRecentAndAllPublishedRoots(t *testing.T) {
	b := New()
	_, ok, err := b.GetMostRecentPublishedRoot()
	require.NoError(t, err)
	assert.False(t, ok)

	root1 := nodekind.Root{Timestamp: 1}
	hash1 := root1.ComputeHash()
	require.NoError(t, b.Publish(nodekind.Singleton(hash1, nodekind.NewRootSource(root1))))

	prior := hash1
	root2 := nodekind.Root{Timestamp: 2, Prior: &prior}
	hash2 := root2.ComputeHash()
	require.NoError(t, b.Publish(nodekind.Singleton(hash2, nodekind.NewRootSource(root2))))

	latest, ok, err := b.GetMostRecentPublishedRoot()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, hash2, latest)

	all, err := b.GetAllPublishedRoots()
	require.NoError(t, err)
	assert.Equal(t, []hashvalue.Value{hash1, hash2}, all)
}

func TestCensorLeafClearsDataPreservesHash(t *testing.T) {
	b := New()
	tx, hash := leafTx(5, "secret")
	require.NoError(t, b.Publish(tx))

	require.NoError(t, b.CensorLeaf(hash))

	info, ok, err := b.GetHashInfo(hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, info.Source.Leaf.Data)
	assert.Equal(t, uint64(5), info.Source.Leaf.Timestamp)
}

func TestCensorLeafErrors(t *testing.T) {
	b := New()
	err := b.CensorLeaf(hashvalue.HashLeaf(1, "absent"))
	assert.ErrorIs(t, err, boardbackend.ErrNoSuchHash)

	branch := nodekind.Branch{Left: hashvalue.HashLeaf(1, "a"), Right: hashvalue.HashLeaf(1, "b")}
	branchHash := branch.ComputeHash()
	tx := nodekind.New()
	tx.AddBranch(branchHash, branch)
	require.NoError(t, b.Publish(tx))

	err = b.CensorLeaf(branchHash)
	assert.ErrorIs(t, err, boardbackend.ErrCanOnlyCensorLeaves)
}

func TestLeftDepth(t *testing.T) {
	b := New()
	leftTx, left := leafTx(1, "a")
	rightTx, right := leafTx(2, "b")
	require.NoError(t, b.Publish(leftTx))
	require.NoError(t, b.Publish(rightTx))

	depth, err := b.LeftDepth(left)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	branch := nodekind.Branch{Left: left, Right: right}
	branchHash := branch.ComputeHash()
	tx := nodekind.New()
	tx.AddBranch(branchHash, branch)
	require.NoError(t, b.Publish(tx))

	depth, err = b.LeftDepth(branchHash)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}
