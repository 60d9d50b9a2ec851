package bbboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rightcommons/merkleboard/internal/backendmem"
	"github.com/rightcommons/merkleboard/internal/boardbackend"
	"github.com/rightcommons/merkleboard/internal/hashvalue"
)

// fixedClock returns a now func that yields seq[i] on the i-th call,
// then repeats the final value forever — enough to give each test
// precise control over same-second vs different-second timing.
func fixedClock(seq ...uint64) func() uint64 {
	i := 0
	return func() uint64 {
		v := seq[i]
		if i < len(seq)-1 {
			i++
		}
		return v
	}
}

func newTestBoard(t *testing.T) *Board {
	t.Helper()
	board, err := New(backendmem.New())
	require.NoError(t, err)
	return board
}

func TestSubmitLeafReturnsDistinctHashes(t *testing.T) {
	board := newTestBoard(t)
	board.now = fixedClock(1, 2, 3)

	a, err := board.SubmitLeaf("a")
	require.NoError(t, err)
	b, err := board.SubmitLeaf("b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSubmitIdenticalDataSameSecondFails(t *testing.T) {
	board := newTestBoard(t)
	board.now = fixedClock(1, 1)

	_, err := board.SubmitLeaf("dup")
	require.NoError(t, err)
	_, err = board.SubmitLeaf("dup")
	assert.ErrorIs(t, err, ErrIdenticalDataAlreadySubmitted)
}

func TestFourLeafScenarioAtBoardLevel(t *testing.T) {
	board := newTestBoard(t)
	board.now = fixedClock(1, 2, 3, 10, 4, 20)

	_, err := board.SubmitLeaf("a")
	require.NoError(t, err)
	_, err = board.SubmitLeaf("b")
	require.NoError(t, err)
	_, err = board.SubmitLeaf("c")
	require.NoError(t, err)

	r1, _, err := board.OrderNewPublishedRoot()
	require.NoError(t, err)

	_, err = board.SubmitLeaf("d")
	require.NoError(t, err)

	r2, _, err := board.OrderNewPublishedRoot()
	require.NoError(t, err)
	assert.NotEqual(t, r1, r2)

	info, err := board.GetHashInfo(r2)
	require.NoError(t, err)
	require.NotNil(t, info.Source.Root.Prior)
	assert.Equal(t, r1, *info.Source.Root.Prior)
	assert.Len(t, info.Source.Root.Elements, 1, "four leaves collapse to a single depth-2 subtree")
}

func TestRapidDoublePublishFails(t *testing.T) {
	board := newTestBoard(t)
	board.now = fixedClock(5, 5)

	_, _, err := board.OrderNewPublishedRoot()
	require.NoError(t, err)
	_, _, err = board.OrderNewPublishedRoot()
	assert.ErrorIs(t, err, ErrPublishingNewRootInstantlyAfterLastRoot)
}

func TestOrderNewPublishedRootWithNoLeavesOnEmptyBoard(t *testing.T) {
	board := newTestBoard(t)
	board.now = fixedClock(1)

	root, sth, err := board.OrderNewPublishedRoot()
	require.NoError(t, err)
	assert.Nil(t, sth, "no signer attached means no signed tree head")

	info, err := board.GetHashInfo(root)
	require.NoError(t, err)
	assert.Empty(t, info.Source.Root.Elements)
	assert.Nil(t, info.Source.Root.Prior)
}

func TestGetProofChainAndVerifyAgainstPublishedRoot(t *testing.T) {
	board := newTestBoard(t)
	board.now = fixedClock(1, 2)

	leaf, err := board.SubmitLeaf("A")
	require.NoError(t, err)
	root, _, err := board.OrderNewPublishedRoot()
	require.NoError(t, err)

	proof, err := board.GetProofChain(leaf)
	require.NoError(t, err)
	require.NotNil(t, proof.PublishedRoot)
	assert.Equal(t, root, proof.PublishedRoot.Hash)
	assert.Equal(t, leaf, proof.Chain[0].Hash)
}

func TestGetProofChainUnknownHash(t *testing.T) {
	board := newTestBoard(t)
	_, err := board.GetProofChain(hashvalue.Value{})
	assert.ErrorIs(t, err, boardbackend.ErrNoSuchHash)
}

func TestCensorLeafPreservesTimestampAndHash(t *testing.T) {
	board := newTestBoard(t)
	board.now = fixedClock(7)

	leaf, err := board.SubmitLeaf("to-censor")
	require.NoError(t, err)

	require.NoError(t, board.CensorLeaf(leaf))

	info, err := board.GetHashInfo(leaf)
	require.NoError(t, err)
	assert.Nil(t, info.Source.Leaf.Data)
	assert.Equal(t, uint64(7), info.Source.Leaf.Timestamp)
}

func TestGetParentlessUnpublishedHashValues(t *testing.T) {
	board := newTestBoard(t)
	board.now = fixedClock(1, 2, 3)

	_, err := board.SubmitLeaf("a")
	require.NoError(t, err)
	_, _, err = board.OrderNewPublishedRoot()
	require.NoError(t, err)

	_, err = board.SubmitLeaf("b")
	require.NoError(t, err)

	pending, err := board.GetParentlessUnpublishedHashValues()
	require.NoError(t, err)
	require.Len(t, pending, 1, "only the subtree formed after the last published root (a merged with b) should be pending")
}
