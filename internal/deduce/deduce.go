// Package deduce implements journal deduction: given two snapshots of
// parentless subtree-root hashes, reconstruct the exact chronological
// sequence of historical transactions that took a backend from one
// snapshot to the other. Translated directly from deduce_journal.rs.
package deduce

import (
	"fmt"

	"github.com/rightcommons/merkleboard/internal/boardbackend"
	"github.com/rightcommons/merkleboard/internal/hashvalue"
	"github.com/rightcommons/merkleboard/internal/nodekind"
)

type entry struct {
	hash  hashvalue.Value
	depth int
}

// sortDescending builds a depth-sorted (largest first) stack from an
// unordered list of hashes, using the backend's left-depth for each.
func sortDescending(backend boardbackend.Backend, hashes []hashvalue.Value) ([]entry, error) {
	entries := make([]entry, len(hashes))
	for i, h := range hashes {
		d, err := backend.LeftDepth(h)
		if err != nil {
			return nil, err
		}
		entries[i] = entry{hash: h, depth: d}
	}
	for i := 1; i < len(entries); i++ {
		j := i
		for j > 0 && entries[j-1].depth < entries[j].depth {
			entries[j-1], entries[j] = entries[j], entries[j-1]
			j--
		}
	}
	return entries, nil
}

// tail returns the smallest-depth entry (the end of the descending
// stack), or ok=false if the stack is empty.
func tail(stack []entry) (hashvalue.Value, bool) {
	if len(stack) == 0 {
		return hashvalue.Value{}, false
	}
	return stack[len(stack)-1].hash, true
}

// Journal reconstructs the ordered transaction sequence taking a backend
// from the parentless-hash snapshot `from` to the snapshot `to`. If
// includePublishedRoots is true, every published Root whose last element
// (or, for an empty-elements root, whose position is "the very start")
// falls within this range is interleaved at its correct chronological
// position.
func Journal(backend boardbackend.Backend, from, to []hashvalue.Value, includePublishedRoots bool) ([]*nodekind.Transaction, error) {
	var res []*nodekind.Transaction

	fromSorted, err := sortDescending(backend, from)
	if err != nil {
		return nil, err
	}
	fromLast, fromHasTail := tail(fromSorted)

	work, err := sortDescending(backend, to)
	if err != nil {
		return nil, err
	}

	var currentTrans []nodekind.Entry
	var atVeryStart []*nodekind.Transaction
	checkForRoots := map[hashvalue.Value][]*nodekind.Transaction{}

	if includePublishedRoots {
		roots, err := backend.GetAllPublishedRoots()
		if err != nil {
			return nil, err
		}
		for _, root := range roots {
			info, ok, err := backend.GetHashInfo(root)
			if err != nil {
				return nil, err
			}
			if !ok || info.Source.Kind != nodekind.KindRoot {
				return nil, fmt.Errorf("deduce: claimed root %s is not a root", root)
			}
			elements := info.Source.Root.Elements
			tx := nodekind.Singleton(root, info.Source)
			if len(elements) > 0 {
				last := elements[len(elements)-1]
				checkForRoots[last] = append(checkForRoots[last], tx)
			} else if !fromHasTail {
				atVeryStart = append(atVeryStart, tx)
			}
		}
	}

	for {
		if includePublishedRoots {
			if workTail, ok := tail(work); ok {
				if roots, found := checkForRoots[workTail]; found {
					for i := len(roots) - 1; i >= 0; i-- {
						res = append(res, roots[i])
					}
					delete(checkForRoots, workTail)
				}
			}
		}
		workTail, workHasTail := tail(work)
		if workHasTail == fromHasTail && (!workHasTail || workTail == fromLast) {
			break
		}

		if len(work) == 0 {
			return nil, fmt.Errorf("deduce: can't get from %v to %v", from, to)
		}
		top := work[len(work)-1]
		work = work[:len(work)-1]
		info, ok, err := backend.GetHashInfo(top.hash)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("deduce: hash %s does not have any info", top.hash)
		}
		switch info.Source.Kind {
		case nodekind.KindLeaf:
			tx := nodekind.New()
			tx.Pending = append(tx.Pending, nodekind.Entry{Hash: top.hash, Source: info.Source})
			for i := len(currentTrans) - 1; i >= 0; i-- {
				tx.Pending = append(tx.Pending, currentTrans[i])
			}
			currentTrans = nil
			res = append(res, tx)
		case nodekind.KindBranch:
			branch := info.Source.Branch
			work = append(work, entry{hash: branch.Left, depth: top.depth - 1})
			work = append(work, entry{hash: branch.Right, depth: top.depth - 1})
			currentTrans = append(currentTrans, nodekind.Entry{Hash: top.hash, Source: info.Source})
		case nodekind.KindRoot:
			return nil, fmt.Errorf("deduce: should not have a root %s in a growing forest", top.hash)
		}
	}

	if len(currentTrans) != 0 {
		return nil, fmt.Errorf("deduce: initial state 'from' starts in the middle of branch creation: %v", from)
	}
	for i := len(atVeryStart) - 1; i >= 0; i-- {
		res = append(res, atVeryStart[i])
	}

	// reverse res into chronological order.
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

// HashesForOptionalRoot returns the elements of root, or an empty slice
// if root is absent.
func HashesForOptionalRoot(backend boardbackend.Backend, root *hashvalue.Value) ([]hashvalue.Value, error) {
	if root == nil {
		return nil, nil
	}
	info, ok, err := backend.GetHashInfo(*root)
	if err != nil {
		return nil, err
	}
	if !ok || info.Source.Kind != nodekind.KindRoot {
		return nil, fmt.Errorf("deduce: %s is not a root", *root)
	}
	return info.Source.Root.Elements, nil
}

// LastPublishedRootToPresent deduces the journal from the most-recent
// published root's elements (or the empty set, if none) to the
// backend's current parentless set, excluding roots.
func LastPublishedRootToPresent(backend boardbackend.Backend) ([]*nodekind.Transaction, error) {
	var fromRoot *hashvalue.Value
	if h, ok, err := backend.GetMostRecentPublishedRoot(); err != nil {
		return nil, err
	} else if ok {
		fromRoot = &h
	}
	from, err := HashesForOptionalRoot(backend, fromRoot)
	if err != nil {
		return nil, err
	}
	to, err := backend.GetAllParentlessLeavesAndBranches()
	if err != nil {
		return nil, err
	}
	return Journal(backend, from, to, false)
}

// FromPriorRootToGivenRoot deduces the journal from root's prior root's
// elements up to and including root itself.
func FromPriorRootToGivenRoot(backend boardbackend.Backend, root hashvalue.Value) ([]*nodekind.Transaction, error) {
	info, ok, err := backend.GetHashInfo(root)
	if err != nil {
		return nil, err
	}
	if !ok || info.Source.Kind != nodekind.KindRoot {
		return nil, fmt.Errorf("deduce: %s is not a root", root)
	}
	from, err := HashesForOptionalRoot(backend, info.Source.Root.Prior)
	if err != nil {
		return nil, err
	}
	journal, err := Journal(backend, from, info.Source.Root.Elements, false)
	if err != nil {
		return nil, err
	}
	journal = append(journal, nodekind.Singleton(root, info.Source))
	return journal, nil
}
