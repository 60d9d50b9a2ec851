// Package boardbackend defines the storage contract every bulletin-board
// backend must satisfy, and the sentinel errors its operations raise.
package boardbackend

import (
	"errors"

	"github.com/rightcommons/merkleboard/internal/hashvalue"
	"github.com/rightcommons/merkleboard/internal/nodekind"
)

// Sentinel errors raised by backend operations. Callers use errors.Is to
// test for these, and fmt.Errorf("...: %w", err) to add context.
var (
	// ErrNoSuchHash is returned when a lookup finds nothing for the hash.
	ErrNoSuchHash = errors.New("boardbackend: no such hash")
	// ErrCanOnlyCensorLeaves is returned when censor_leaf targets a
	// Branch or Root.
	ErrCanOnlyCensorLeaves = errors.New("boardbackend: can only censor leaves")
	// ErrBackendInconsistent signals a structural check failed on
	// storage (e.g. a journal sanity check).
	ErrBackendInconsistent = errors.New("boardbackend: inconsistent state")
	// ErrBackendIO wraps an underlying I/O failure.
	ErrBackendIO = errors.New("boardbackend: I/O error")
	// ErrBackendParsing signals a malformed persisted value.
	ErrBackendParsing = errors.New("boardbackend: parsing error")
)

// Backend is the abstract persistence contract for nodes, parent edges,
// and the ordered published-root list.
type Backend interface {
	// GetAllPublishedRoots returns roots ordered oldest-to-newest.
	GetAllPublishedRoots() ([]hashvalue.Value, error)
	// GetMostRecentPublishedRoot returns the last published root, or
	// ok=false if none has been published yet.
	GetMostRecentPublishedRoot() (hash hashvalue.Value, ok bool, err error)
	// GetAllParentlessLeavesAndBranches returns every Leaf or Branch
	// hash with no parent, in unspecified order.
	GetAllParentlessLeavesAndBranches() ([]hashvalue.Value, error)
	// GetHashInfo looks up a single hash's record. ok=false (no error)
	// if the hash is unknown.
	GetHashInfo(hash hashvalue.Value) (info nodekind.HashInfo, ok bool, err error)
	// Publish atomically commits every node in the transaction: new
	// hashes become retrievable, parent edges to existing children of
	// new Branches are updated, and a trailing Root becomes the new
	// most-recent published root. No visible effect on failure.
	Publish(tx *nodekind.Transaction) error
	// CensorLeaf clears the data of Leaf hash, preserving its
	// timestamp and hash. Returns ErrCanOnlyCensorLeaves or
	// ErrNoSuchHash as appropriate.
	CensorLeaf(hash hashvalue.Value) error
	// LeftDepth follows the left child of hash repeatedly until a Leaf
	// is reached, returning the number of steps taken.
	LeftDepth(hash hashvalue.Value) (int, error)
}

// GetHashInfoCompletely looks up hash first within an in-flight
// transaction's staged entries, then falls back to the backend. It
// mirrors the Rust original's collision-detection helper used by the
// growing-forest merge step: a hash that exists only within the current
// transaction is just as much a collision as one already committed.
func GetHashInfoCompletely(backend Backend, tx *nodekind.Transaction, hash hashvalue.Value) (nodekind.Source, bool, error) {
	if src, ok := tx.Lookup(hash); ok {
		return src, true, nil
	}
	info, ok, err := backend.GetHashInfo(hash)
	if err != nil {
		return nodekind.Source{}, false, err
	}
	if !ok {
		return nodekind.Source{}, false, nil
	}
	return info.Source, true, nil
}

// ComputeCurrentForest is the default implementation of deriving the
// growing forest's subtree list from parentless non-root nodes, sorted
// by strictly decreasing depth using each node's left-depth.
func ComputeCurrentForest(backend Backend) ([]hashvalue.Value, []int, error) {
	hashes, err := backend.GetAllParentlessLeavesAndBranches()
	if err != nil {
		return nil, nil, err
	}
	depths := make([]int, len(hashes))
	for i, h := range hashes {
		d, err := backend.LeftDepth(h)
		if err != nil {
			return nil, nil, err
		}
		depths[i] = d
	}
	// insertion sort by descending depth; forests are tiny (O(log N)).
	for i := 1; i < len(hashes); i++ {
		j := i
		for j > 0 && depths[j-1] < depths[j] {
			depths[j-1], depths[j] = depths[j], depths[j-1]
			hashes[j-1], hashes[j] = hashes[j], hashes[j-1]
			j--
		}
	}
	return hashes, depths, nil
}

// DefaultLeftDepth is the default implementation of LeftDepth, usable by
// any backend: repeatedly follow the left child from hash until a Leaf
// is reached.
func DefaultLeftDepth(backend Backend, hash hashvalue.Value) (int, error) {
	depth := 0
	current := hash
	for {
		info, ok, err := backend.GetHashInfo(current)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, ErrNoSuchHash
		}
		switch info.Source.Kind {
		case nodekind.KindLeaf:
			return depth, nil
		case nodekind.KindBranch:
			current = info.Source.Branch.Left
			depth++
		default:
			return 0, ErrBackendInconsistent
		}
	}
}
