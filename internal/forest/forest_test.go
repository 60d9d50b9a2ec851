package forest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rightcommons/merkleboard/internal/backendmem"
	"github.com/rightcommons/merkleboard/internal/hashvalue"
	"github.com/rightcommons/merkleboard/internal/nodekind"
)

// submit mirrors what bbboard.Board.SubmitLeaf does, without the
// surrounding collision/locking machinery, so the forest shape can be
// asserted directly at each step.
func submit(t *testing.T, backend *backendmem.Backend, f *Forest, timestamp uint64, data string) hashvalue.Value {
	t.Helper()
	leaf := nodekind.Leaf{Timestamp: timestamp, Data: &data}
	hash, ok := leaf.ComputeHash()
	require.True(t, ok)
	tx := nodekind.New()
	tx.AddLeaf(hash, leaf)
	require.NoError(t, f.AddLeaf(backend, tx, hash))
	require.NoError(t, backend.Publish(tx))
	return hash
}

func TestFourLeafScenario(t *testing.T) {
	backend := backendmem.New()
	f := New()

	a := submit(t, backend, f, 1, "a")
	assert.Equal(t, []hashvalue.Value{a}, f.GetSubtrees())

	b := submit(t, backend, f, 2, "b")
	ab := hashvalue.HashBranch(a, b)
	assert.Equal(t, []hashvalue.Value{ab}, f.GetSubtrees(), "after b the forest must merge into a single depth-1 subtree")

	c := submit(t, backend, f, 3, "c")
	assert.Equal(t, []hashvalue.Value{ab, c}, f.GetSubtrees(), "after c the forest holds [AB, C]")

	d := submit(t, backend, f, 4, "d")
	cd := hashvalue.HashBranch(c, d)
	abcd := hashvalue.HashBranch(ab, cd)
	assert.Equal(t, []hashvalue.Value{abcd}, f.GetSubtrees(), "after d everything merges into one depth-2 subtree")
}

func TestAddLeafToEmptyForest(t *testing.T) {
	backend := backendmem.New()
	f := New()
	leaf := submit(t, backend, f, 1, "only")
	assert.Equal(t, []hashvalue.Value{leaf}, f.GetSubtrees())
}

func TestFromSubtreesPreservesOrder(t *testing.T) {
	hashes := []hashvalue.Value{hashvalue.HashLeaf(1, "x"), hashvalue.HashLeaf(1, "y")}
	depths := []int{2, 0}
	f := FromSubtrees(hashes, depths)
	assert.Equal(t, hashes, f.GetSubtrees())
}

func TestEightLeavesProduceSingleDepth3Subtree(t *testing.T) {
	backend := backendmem.New()
	f := New()
	for i, letter := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		submit(t, backend, f, uint64(i+1), letter)
	}
	require.Len(t, f.GetSubtrees(), 1, "eight leaves is a power of two, so the forest collapses to one subtree")

	parentless, err := backend.GetAllParentlessLeavesAndBranches()
	require.NoError(t, err)
	assert.ElementsMatch(t, f.GetSubtrees(), parentless)
}
