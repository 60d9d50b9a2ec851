// Package forest implements the growing-forest algorithm: an incremental
// collection of perfect binary Merkle trees that merges same-depth
// subtrees on every leaf insertion, translated directly from
// growing_forest.rs.
package forest

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rightcommons/merkleboard/internal/boardbackend"
	"github.com/rightcommons/merkleboard/internal/hashvalue"
	"github.com/rightcommons/merkleboard/internal/nodekind"
)

// ErrMultipleHashClashes is raised when both the natural and the
// swapped-operand branch hash collide with an existing node. This is so
// improbable that it indicates a bug rather than a real SHA-256 break.
var ErrMultipleHashClashes = errors.New("forest: multiple hash clashes")

// hashAndDepth is the head of one perfectly balanced subtree: a leaf has
// depth 0, a branch has depth 1 + depth of its children.
type hashAndDepth struct {
	hash  hashvalue.Value
	depth int
}

// Forest is a depth-sorted sequence of subtree roots, largest depth
// first. No two entries share a depth.
type Forest struct {
	entries []hashAndDepth
}

// New returns an empty forest.
func New() *Forest {
	return &Forest{}
}

// FromSubtrees rebuilds a Forest from an existing (hash, depth) list, as
// produced by boardbackend.ComputeCurrentForest. The input must already
// be sorted by descending depth.
func FromSubtrees(hashes []hashvalue.Value, depths []int) *Forest {
	f := &Forest{entries: make([]hashAndDepth, len(hashes))}
	for i := range hashes {
		f.entries[i] = hashAndDepth{hash: hashes[i], depth: depths[i]}
	}
	return f
}

// GetSubtrees returns the current subtree-root hashes, largest depth
// first.
func (f *Forest) GetSubtrees() []hashvalue.Value {
	out := make([]hashvalue.Value, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.hash
	}
	return out
}

// mergeHashes computes the branch hash over (left, right), checking for
// a collision against anything already known to backend or staged in
// tx. On collision it retries once with swapped operands; a second
// collision is fatal.
func mergeHashes(backend boardbackend.Backend, tx *nodekind.Transaction, left, right hashvalue.Value) (hashvalue.Value, error) {
	branch := nodekind.Branch{Left: left, Right: right}
	newHash := branch.ComputeHash()
	if collision, ok, err := boardbackend.GetHashInfoCompletely(backend, tx, newHash); err != nil {
		return hashvalue.Value{}, err
	} else if ok {
		log.Printf("[Forest] hash collision between new branch %s and existing %+v; retrying with swapped operands", newHash, collision)
		swapped := nodekind.Branch{Left: right, Right: left}
		swappedHash := swapped.ComputeHash()
		if _, ok, err := boardbackend.GetHashInfoCompletely(backend, tx, swappedHash); err != nil {
			return hashvalue.Value{}, err
		} else if ok {
			return hashvalue.Value{}, fmt.Errorf("%w: both %s and %s already exist", ErrMultipleHashClashes, newHash, swappedHash)
		}
		tx.AddBranch(swappedHash, swapped)
		return swappedHash, nil
	}
	tx.AddBranch(newHash, branch)
	return newHash, nil
}

// mergeLastTwo pops the two smallest-depth entries and replaces them
// with their merged branch. On error the pop is rolled back so the
// forest is left unchanged.
func (f *Forest) mergeLastTwo(backend boardbackend.Backend, tx *nodekind.Transaction) error {
	n := len(f.entries)
	right := f.entries[n-1]
	left := f.entries[n-2]
	f.entries = f.entries[:n-2]
	hash, err := mergeHashes(backend, tx, left.hash, right.hash)
	if err != nil {
		f.entries = append(f.entries, left, right)
		return err
	}
	f.entries = append(f.entries, hashAndDepth{hash: hash, depth: left.depth + 1})
	return nil
}

// AddLeaf inserts hash as a new depth-0 subtree and repeatedly merges
// same-depth pairs from the tail, staging every resulting Branch into
// tx. All staged nodes, plus the caller-added Leaf, are committed in one
// backend transaction by the caller.
func (f *Forest) AddLeaf(backend boardbackend.Backend, tx *nodekind.Transaction, hash hashvalue.Value) error {
	f.entries = append(f.entries, hashAndDepth{hash: hash, depth: 0})
	for len(f.entries) >= 2 && f.entries[len(f.entries)-1].depth == f.entries[len(f.entries)-2].depth {
		if err := f.mergeLastTwo(backend, tx); err != nil {
			return err
		}
	}
	return nil
}

// SleepOnCollision is the belt-and-braces one-second wait used when a
// genuine cross-transaction SHA-256 collision is detected (as opposed
// to the in-forest swap-and-retry above, which needs no delay).
// Implementations may skip this without changing any observable
// invariant; it exists only to make an astronomically unlikely race
// slightly less likely to matter.
func SleepOnCollision() {
	time.Sleep(1 * time.Second)
}
