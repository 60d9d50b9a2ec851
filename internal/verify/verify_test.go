package verify

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rightcommons/merkleboard/internal/backendflat"
	"github.com/rightcommons/merkleboard/internal/backendmem"
	"github.com/rightcommons/merkleboard/internal/bbboard"
)

func newBoardWithClock(t *testing.T) *bbboard.Board {
	t.Helper()
	board, err := bbboard.New(backendmem.New())
	require.NoError(t, err)
	return board
}

func TestProofSucceedsForIncludedLeaf(t *testing.T) {
	board := newBoardWithClock(t)
	hashA, err := board.SubmitLeaf("a")
	require.NoError(t, err)
	_, err = board.SubmitLeaf("b")
	require.NoError(t, err)
	root, _, err := board.OrderNewPublishedRoot()
	require.NoError(t, err)

	proof, err := board.GetProofChain(hashA)
	require.NoError(t, err)

	assert.NoError(t, Proof("a", root, proof))
}

func TestProofFailsForWrongData(t *testing.T) {
	board := newBoardWithClock(t)
	hashA, err := board.SubmitLeaf("a")
	require.NoError(t, err)
	root, _, err := board.OrderNewPublishedRoot()
	require.NoError(t, err)

	proof, err := board.GetProofChain(hashA)
	require.NoError(t, err)

	err = Proof("not-a", root, proof)
	assert.ErrorIs(t, err, ErrWrongData)
}

func TestProofFailsForWrongRoot(t *testing.T) {
	board := newBoardWithClock(t)
	hashA, err := board.SubmitLeaf("a")
	require.NoError(t, err)
	_, _, err = board.OrderNewPublishedRoot()
	require.NoError(t, err)

	proof, err := board.GetProofChain(hashA)
	require.NoError(t, err)

	var wrongRoot [32]byte
	wrongRoot[0] = 0xff
	err = Proof("a", wrongRoot, proof)
	assert.ErrorIs(t, err, ErrWrongPublishedRoot)
}

func TestProofFailsOnEmptyChain(t *testing.T) {
	err := Proof("a", [32]byte{}, bbboard.Proof{})
	assert.ErrorIs(t, err, ErrEmptyChain)
}

func TestCensoredLeafStillVerifiesWithOriginalPayload(t *testing.T) {
	board := newBoardWithClock(t)
	hashA, err := board.SubmitLeaf("A")
	require.NoError(t, err)
	root, _, err := board.OrderNewPublishedRoot()
	require.NoError(t, err)

	proofBefore, err := board.GetProofChain(hashA)
	require.NoError(t, err)

	require.NoError(t, board.CensorLeaf(hashA))

	// The chain captured before censorship still carries the original
	// payload, so it verifies even though the backend no longer does.
	assert.NoError(t, Proof("A", root, proofBefore))
	assert.Error(t, Proof("B", root, proofBefore))

	// A chain re-fetched after censorship has leaf.Data == nil, but a
	// verifier supplying the original payload must still be able to
	// recompute the leaf hash and verify it.
	proofAfter, err := board.GetProofChain(hashA)
	require.NoError(t, err)
	assert.NoError(t, Proof("A", root, proofAfter))
	assert.Error(t, Proof("B", root, proofAfter))
}

func TestBulkVerifyRoundTripsFreshJournal(t *testing.T) {
	dir := t.TempDir()
	backend, err := backendflat.Open(dir + "/board.csv")
	require.NoError(t, err)
	board, err := bbboard.New(backend)
	require.NoError(t, err)

	_, err = board.SubmitLeaf("a")
	require.NoError(t, err)
	_, err = board.SubmitLeaf("b")
	require.NoError(t, err)
	_, err = board.SubmitLeaf("c")
	require.NoError(t, err)
	rootHash, _, err := board.OrderNewPublishedRoot()
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	rootInfo, err := board.GetHashInfo(rootHash)
	require.NoError(t, err)
	newRoot := rootInfo.AddHash(rootHash)

	contents, err := os.ReadFile(dir + "/board.csv")
	require.NoError(t, err)

	err = BulkVerify(bytes.NewReader(contents), nil, newRoot)
	assert.NoError(t, err)
}

func TestBulkVerifyFailsOnTamperedJournal(t *testing.T) {
	dir := t.TempDir()
	backend, err := backendflat.Open(dir + "/board.csv")
	require.NoError(t, err)
	board, err := bbboard.New(backend)
	require.NoError(t, err)

	_, err = board.SubmitLeaf("a")
	require.NoError(t, err)
	rootHash, _, err := board.OrderNewPublishedRoot()
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	rootInfo, err := board.GetHashInfo(rootHash)
	require.NoError(t, err)
	newRoot := rootInfo.AddHash(rootHash)

	contents, err := os.ReadFile(dir + "/board.csv")
	require.NoError(t, err)
	tampered := bytes.Replace(contents, []byte("a"), []byte("z"), 1)

	err = BulkVerify(bytes.NewReader(tampered), nil, newRoot)
	assert.Error(t, err)
}
