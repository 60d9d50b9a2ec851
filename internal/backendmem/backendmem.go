// Package backendmem implements an in-memory reference Backend, suitable
// for tests and for wrapping by the flat-file and journal backends.
package backendmem

import (
	"sync"

	"github.com/rightcommons/merkleboard/internal/boardbackend"
	"github.com/rightcommons/merkleboard/internal/hashvalue"
	"github.com/rightcommons/merkleboard/internal/nodekind"
)

// Backend is a dictionary-backed implementation of boardbackend.Backend.
// Safe for concurrent use.
type Backend struct {
	mu        sync.RWMutex
	hashes    map[hashvalue.Value]nodekind.HashInfo
	published []hashvalue.Value
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{hashes: make(map[hashvalue.Value]nodekind.HashInfo)}
}

func (b *Backend) GetAllPublishedRoots() ([]hashvalue.Value, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]hashvalue.Value, len(b.published))
	copy(out, b.published)
	return out, nil
}

func (b *Backend) GetMostRecentPublishedRoot() (hashvalue.Value, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.published) == 0 {
		return hashvalue.Value{}, false, nil
	}
	return b.published[len(b.published)-1], true, nil
}

func (b *Backend) GetAllParentlessLeavesAndBranches() ([]hashvalue.Value, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []hashvalue.Value
	for hash, info := range b.hashes {
		if info.Parent != nil {
			continue
		}
		if info.Source.Kind == nodekind.KindLeaf || info.Source.Kind == nodekind.KindBranch {
			out = append(out, hash)
		}
	}
	return out, nil
}

func (b *Backend) GetHashInfo(hash hashvalue.Value) (nodekind.HashInfo, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	info, ok := b.hashes[hash]
	return info, ok, nil
}

func (b *Backend) Publish(tx *nodekind.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, entry := range tx.Pending {
		switch entry.Source.Kind {
		case nodekind.KindLeaf:
			b.hashes[entry.Hash] = nodekind.HashInfo{Source: entry.Source}
		case nodekind.KindBranch:
			b.hashes[entry.Hash] = nodekind.HashInfo{Source: entry.Source}
			b.addParent(entry.Source.Branch.Left, entry.Hash)
			b.addParent(entry.Source.Branch.Right, entry.Hash)
		case nodekind.KindRoot:
			b.hashes[entry.Hash] = nodekind.HashInfo{Source: entry.Source}
			b.published = append(b.published, entry.Hash)
		}
	}
	return nil
}

func (b *Backend) addParent(child, parent hashvalue.Value) {
	info := b.hashes[child]
	info.Parent = &parent
	b.hashes[child] = info
}

func (b *Backend) CensorLeaf(hash hashvalue.Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.hashes[hash]
	if !ok {
		return boardbackend.ErrNoSuchHash
	}
	if info.Source.Kind != nodekind.KindLeaf {
		return boardbackend.ErrCanOnlyCensorLeaves
	}
	censored := *info.Source.Leaf
	censored.Data = nil
	info.Source = nodekind.NewLeafSource(censored)
	b.hashes[hash] = info
	return nil
}

func (b *Backend) LeftDepth(hash hashvalue.Value) (int, error) {
	return boardbackend.DefaultLeftDepth(b, hash)
}

var _ boardbackend.Backend = (*Backend)(nil)
