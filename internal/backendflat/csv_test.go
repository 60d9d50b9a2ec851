package backendflat

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rightcommons/merkleboard/internal/hashvalue"
	"github.com/rightcommons/merkleboard/internal/nodekind"
)

func leafEntry(timestamp uint64, data string) nodekind.Entry {
	leaf := nodekind.Leaf{Timestamp: timestamp, Data: &data}
	hash, _ := leaf.ComputeHash()
	return nodekind.Entry{Hash: hash, Source: nodekind.NewLeafSource(leaf)}
}

func TestWriteAndReadSingleLeafTransaction(t *testing.T) {
	entry := leafEntry(1, "hello")
	tx := &nodekind.Transaction{Pending: []nodekind.Entry{entry}}

	var buf bytes.Buffer
	require.NoError(t, WriteTransaction(&buf, tx))

	r := NewReader(&buf)
	got, err := r.Next()
	require.NoError(t, err)
	require.Len(t, got.Pending, 1)
	assert.Equal(t, entry.Hash, got.Pending[0].Hash)
	assert.Equal(t, *entry.Source.Leaf.Data, *got.Pending[0].Source.Leaf.Data)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriteAndReadBranchAndRoot(t *testing.T) {
	left := leafEntry(1, "a")
	right := leafEntry(2, "b")
	branch := nodekind.Branch{Left: left.Hash, Right: right.Hash}
	branchHash := branch.ComputeHash()
	branchEntry := nodekind.Entry{Hash: branchHash, Source: nodekind.NewBranchSource(branch)}

	root := nodekind.Root{Timestamp: 99, Elements: []hashvalue.Value{branchHash}}
	rootHash := root.ComputeHash()
	rootEntry := nodekind.Entry{Hash: rootHash, Source: nodekind.NewRootSource(root)}

	tx := &nodekind.Transaction{Pending: []nodekind.Entry{left, right, branchEntry, rootEntry}}

	var buf bytes.Buffer
	require.NoError(t, WriteTransaction(&buf, tx))

	r := NewReader(&buf)
	got, err := r.Next()
	require.NoError(t, err)
	require.Len(t, got.Pending, 4)

	gotBranch := got.Pending[2].Source.Branch
	assert.Equal(t, left.Hash, gotBranch.Left)
	assert.Equal(t, right.Hash, gotBranch.Right)

	gotRoot := got.Pending[3].Source.Root
	assert.Equal(t, uint64(99), gotRoot.Timestamp)
	assert.Nil(t, gotRoot.Prior)
	assert.Equal(t, []hashvalue.Value{branchHash}, gotRoot.Elements)
}

func TestWriteAndReadRootWithPrior(t *testing.T) {
	prior := hashvalue.HashLeaf(1, "prior-stand-in")
	root := nodekind.Root{Timestamp: 5, Prior: &prior, Elements: []hashvalue.Value{hashvalue.HashLeaf(2, "e")}}
	rootHash := root.ComputeHash()
	tx := nodekind.Singleton(rootHash, nodekind.NewRootSource(root))

	var buf bytes.Buffer
	require.NoError(t, WriteTransaction(&buf, tx))

	r := NewReader(&buf)
	got, err := r.Next()
	require.NoError(t, err)
	require.NotNil(t, got.Pending[0].Source.Root.Prior)
	assert.Equal(t, prior, *got.Pending[0].Source.Root.Prior)
}

func TestWriteAndReadCensoredLeaf(t *testing.T) {
	hash := hashvalue.HashLeaf(3, "was-secret")
	tx := nodekind.Singleton(hash, nodekind.NewLeafSource(nodekind.Leaf{Timestamp: 3, Data: nil}))

	var buf bytes.Buffer
	require.NoError(t, WriteTransaction(&buf, tx))

	r := NewReader(&buf)
	got, err := r.Next()
	require.NoError(t, err)
	assert.Nil(t, got.Pending[0].Source.Leaf.Data)
	assert.Equal(t, uint64(3), got.Pending[0].Source.Leaf.Timestamp)
}

func TestMultipleTransactionsInOneFile(t *testing.T) {
	var buf bytes.Buffer
	first := &nodekind.Transaction{Pending: []nodekind.Entry{leafEntry(1, "a")}}
	second := &nodekind.Transaction{Pending: []nodekind.Entry{leafEntry(2, "b")}}
	require.NoError(t, WriteTransaction(&buf, first))
	require.NoError(t, WriteTransaction(&buf, second))

	r := NewReader(&buf)
	got1, err := r.Next()
	require.NoError(t, err)
	got2, err := r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)

	assert.Equal(t, first.Pending[0].Hash, got1.Pending[0].Hash)
	assert.Equal(t, second.Pending[0].Hash, got2.Pending[0].Hash)
}

func TestManyTransactionsInOneFileAllSurviveReplay(t *testing.T) {
	var buf bytes.Buffer
	var transactions []*nodekind.Transaction
	for i := 0; i < 10; i++ {
		tx := &nodekind.Transaction{Pending: []nodekind.Entry{leafEntry(uint64(i), fmt.Sprintf("leaf-%d", i))}}
		transactions = append(transactions, tx)
		require.NoError(t, WriteTransaction(&buf, tx))
	}

	r := NewReader(&buf)
	for i, want := range transactions {
		got, err := r.Next()
		require.NoErrorf(t, err, "transaction %d", i)
		require.Lenf(t, got.Pending, 1, "transaction %d", i)
		assert.Equalf(t, want.Pending[0].Hash, got.Pending[0].Hash, "transaction %d", i)
	}
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLegacyHeaderlessFileWithThreeTransactionsKeepsBoundariesDistinct(t *testing.T) {
	entries := []nodekind.Entry{leafEntry(1, "legacy-a"), leafEntry(2, "legacy-b"), leafEntry(3, "legacy-c")}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for i, entry := range entries {
		leaf := entry.Source.Leaf
		require.NoError(t, w.Write([]string{"0", entry.Hash.String(), fmt.Sprint(leaf.Timestamp), *leaf.Data}))
		w.Flush()
		require.NoError(t, w.Error())
		if i < len(entries)-1 {
			buf.WriteString("\n")
		}
	}

	r := NewReader(&buf)
	for i, entry := range entries {
		got, err := r.Next()
		require.NoErrorf(t, err, "transaction %d", i)
		require.Lenf(t, got.Pending, 1, "transaction %d", i)
		assert.Equalf(t, entry.Hash, got.Pending[0].Hash, "transaction %d", i)
	}
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLegacyHeaderlessFileFallsBackToBlankLineHeuristic(t *testing.T) {
	entry := leafEntry(1, "legacy")
	record := []string{"0", entry.Hash.String(), "1", "legacy"}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	require.NoError(t, w.Write(record))
	w.Flush()
	require.NoError(t, w.Error())

	r := NewReader(&buf)
	got, err := r.Next()
	require.NoError(t, err)
	require.Len(t, got.Pending, 1)
	assert.Equal(t, entry.Hash, got.Pending[0].Hash)
}
