// Package bbboard implements the bulletin-board core: the public API for
// submitting leaves, publishing roots, querying history, walking
// inclusion-proof chains, and censoring a leaf's payload.
package bbboard

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rightcommons/merkleboard/internal/boardbackend"
	"github.com/rightcommons/merkleboard/internal/forest"
	"github.com/rightcommons/merkleboard/internal/hashvalue"
	"github.com/rightcommons/merkleboard/internal/nodekind"
	"github.com/rightcommons/merkleboard/internal/treehead"
)

// Proof is a chain from a queried hash up to, and including, the element
// of the most-recent published root that witnesses it. PublishedRoot is
// nil if the queried node has not yet been published.
type Proof struct {
	Chain         []nodekind.HashInfoWithHash
	PublishedRoot *nodekind.HashInfoWithHash
}

// Board is a bulletin board backed by a boardbackend.Backend. All
// mutating operations (Submit, OrderNewPublishedRoot, CensorLeaf) must
// be serialized by the caller; Board itself holds a single mutex across
// each call, matching the single-writer/multi-reader model of §5.
type Board struct {
	mu      sync.Mutex
	backend boardbackend.Backend

	// currentForest is nil whenever the last attempt to build it from
	// the backend failed; the next operation rebuilds it before doing
	// anything else.
	currentForest *forest.Forest

	// signer optionally signs every newly published root. nil disables
	// signing entirely; Board then behaves exactly as the unsigned
	// core specifies.
	signer *treehead.Signer

	// now is overridable in tests; defaults to wall-clock seconds.
	now func() uint64
}

// New constructs a Board over backend, eagerly building the cached
// growing forest from the backend's current parentless node set.
func New(backend boardbackend.Backend) (*Board, error) {
	b := &Board{backend: backend, now: defaultNow}
	if err := b.reloadCurrentForest(); err != nil {
		return nil, err
	}
	return b, nil
}

// WithSigner attaches an Ed25519/P-256 signer so every subsequently
// published root also produces a SignedTreeHead. Optional.
func (b *Board) WithSigner(signer *treehead.Signer) *Board {
	b.signer = signer
	return b
}

func defaultNow() uint64 {
	return uint64(time.Now().Unix())
}

func (b *Board) reloadCurrentForest() error {
	hashes, depths, err := boardbackend.ComputeCurrentForest(b.backend)
	if err != nil {
		b.currentForest = nil
		return fmt.Errorf("%w: %v", ErrCouldNotInitializeFromDatabase, err)
	}
	b.currentForest = forest.FromSubtrees(hashes, depths)
	return nil
}

func (b *Board) forestOrErr() (*forest.Forest, error) {
	if b.currentForest == nil {
		if err := b.reloadCurrentForest(); err != nil {
			return nil, err
		}
	}
	return b.currentForest, nil
}

// SubmitLeaf commits data as a new leaf, timestamped now, and returns
// its hash. Fails with ErrIdenticalDataAlreadySubmitted if a Leaf with
// the identical pre-image already exists; a collision against different
// data is treated as a genuine SHA-256 collision and retried after a
// one-second sleep. On any error the cached forest is invalidated and
// rebuilt from the backend on the next call.
func (b *Board) SubmitLeaf(data string) (hashvalue.Value, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hash, err := b.submitLeafWork(data)
	if err != nil {
		if reloadErr := b.reloadCurrentForest(); reloadErr != nil {
			log.Printf("[Board] failed to reload forest after submit error: %v", reloadErr)
		}
	}
	return hash, err
}

func (b *Board) submitLeafWork(data string) (hashvalue.Value, error) {
	leaf := nodekind.Leaf{Timestamp: b.now(), Data: &data}
	newHash, _ := leaf.ComputeHash()
	existing, ok, err := b.backend.GetHashInfo(newHash)
	if err != nil {
		return hashvalue.Value{}, err
	}
	if ok {
		if existing.Source.Kind == nodekind.KindLeaf && existing.Source.Leaf.Timestamp == leaf.Timestamp &&
			existing.Source.Leaf.Data != nil && *existing.Source.Leaf.Data == data {
			return hashvalue.Value{}, ErrIdenticalDataAlreadySubmitted
		}
		log.Printf("[Board] hash collision on submit between new leaf and existing %+v; sleeping and retrying", existing)
		forest.SleepOnCollision()
		return b.submitLeafWork(data)
	}

	tx := nodekind.New()
	tx.AddLeaf(newHash, leaf)
	f, err := b.forestOrErr()
	if err != nil {
		return hashvalue.Value{}, err
	}
	if err := f.AddLeaf(b.backend, tx, newHash); err != nil {
		return hashvalue.Value{}, err
	}
	if err := b.backend.Publish(tx); err != nil {
		return hashvalue.Value{}, err
	}
	return newHash, nil
}

// OrderNewPublishedRoot snapshots the current forest's subtree hashes
// (largest depth first), timestamps and chains them from the previous
// root, and commits a singleton Root transaction. Fails with
// ErrPublishingNewRootInstantlyAfterLastRoot if the most recent root has
// the same timestamp and elements (no data has arrived since the last
// publish, same second), or if an identical root pre-image already
// exists; a collision with a different pre-image is retried after a
// one-second sleep. If signing is enabled, also returns the
// corresponding SignedTreeHead.
func (b *Board) OrderNewPublishedRoot() (hashvalue.Value, *treehead.SignedTreeHead, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orderNewPublishedRootWork()
}

func (b *Board) orderNewPublishedRootWork() (hashvalue.Value, *treehead.SignedTreeHead, error) {
	f, err := b.forestOrErr()
	if err != nil {
		return hashvalue.Value{}, nil, err
	}
	var prior *hashvalue.Value
	if priorHash, ok, err := b.backend.GetMostRecentPublishedRoot(); err != nil {
		return hashvalue.Value{}, nil, err
	} else if ok {
		prior = &priorHash
	}
	elements := f.GetSubtrees()
	root := nodekind.Root{Timestamp: b.now(), Prior: prior, Elements: elements}
	if prior != nil {
		last, ok, err := b.backend.GetHashInfo(*prior)
		if err != nil {
			return hashvalue.Value{}, nil, err
		}
		if ok && last.Source.Kind == nodekind.KindRoot {
			same := root
			same.Prior = last.Source.Root.Prior
			if rootsEqual(*last.Source.Root, same) {
				return hashvalue.Value{}, nil, ErrPublishingNewRootInstantlyAfterLastRoot
			}
		}
	}
	newHash := root.ComputeHash()

	existing, ok, err := b.backend.GetHashInfo(newHash)
	if err != nil {
		return hashvalue.Value{}, nil, err
	}
	if ok {
		if existing.Source.Kind == nodekind.KindRoot && rootsEqual(*existing.Source.Root, root) {
			return hashvalue.Value{}, nil, ErrPublishingNewRootInstantlyAfterLastRoot
		}
		log.Printf("[Board] hash collision on publish between new root and existing %+v; sleeping and retrying", existing)
		forest.SleepOnCollision()
		return b.orderNewPublishedRootWork()
	}

	tx := nodekind.Singleton(newHash, nodekind.NewRootSource(root))
	if err := b.backend.Publish(tx); err != nil {
		return hashvalue.Value{}, nil, err
	}

	var sth *treehead.SignedTreeHead
	if b.signer != nil {
		sth, err = b.signer.SignRoot(newHash, uint64(len(elements)), root.Timestamp)
		if err != nil {
			log.Printf("[Board] failed to sign new root %s: %v", newHash, err)
		}
	}
	return newHash, sth, nil
}

func rootsEqual(a, b nodekind.Root) bool {
	if a.Timestamp != b.Timestamp || len(a.Elements) != len(b.Elements) {
		return false
	}
	if (a.Prior == nil) != (b.Prior == nil) {
		return false
	}
	if a.Prior != nil && *a.Prior != *b.Prior {
		return false
	}
	for i := range a.Elements {
		if a.Elements[i] != b.Elements[i] {
			return false
		}
	}
	return true
}

// GetMostRecentPublishedRoot delegates to the backend.
func (b *Board) GetMostRecentPublishedRoot() (hashvalue.Value, bool, error) {
	return b.backend.GetMostRecentPublishedRoot()
}

// GetAllPublishedRoots delegates to the backend.
func (b *Board) GetAllPublishedRoots() ([]hashvalue.Value, error) {
	return b.backend.GetAllPublishedRoots()
}

// GetParentlessUnpublishedHashValues returns the current forest's
// subtree hashes, minus whatever is already contained in the
// most-recent root's elements.
func (b *Board) GetParentlessUnpublishedHashValues() ([]hashvalue.Value, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, err := b.forestOrErr()
	if err != nil {
		return nil, err
	}
	current := f.GetSubtrees()
	rootHash, ok, err := b.backend.GetMostRecentPublishedRoot()
	if err != nil {
		return nil, err
	}
	if !ok {
		return current, nil
	}
	info, ok, err := b.backend.GetHashInfo(rootHash)
	if err != nil {
		return nil, err
	}
	if !ok || info.Source.Kind != nodekind.KindRoot {
		return nil, ErrPublishedRootIsNotARoot
	}
	published := make(map[hashvalue.Value]bool, len(info.Source.Root.Elements))
	for _, e := range info.Source.Root.Elements {
		published[e] = true
	}
	out := current[:0:0]
	for _, h := range current {
		if !published[h] {
			out = append(out, h)
		}
	}
	return out, nil
}

// GetHashInfo looks up hash, failing with boardbackend.ErrNoSuchHash if
// absent.
func (b *Board) GetHashInfo(hash hashvalue.Value) (nodekind.HashInfo, error) {
	info, ok, err := b.backend.GetHashInfo(hash)
	if err != nil {
		return nodekind.HashInfo{}, err
	}
	if !ok {
		return nodekind.HashInfo{}, boardbackend.ErrNoSuchHash
	}
	return info, nil
}

// GetProofChain walks parent links from hash upward until a node with no
// parent is reached. If some node on that walk is an element of the
// most-recent published root, the chain is cut after the first such node
// and that root is attached; otherwise the whole walk is returned with no
// root attached.
func (b *Board) GetProofChain(hash hashvalue.Value) (Proof, error) {
	var chain []nodekind.HashInfoWithHash
	node := hash
	for {
		info, ok, err := b.backend.GetHashInfo(node)
		if err != nil {
			return Proof{}, err
		}
		if !ok {
			if node == hash {
				return Proof{}, boardbackend.ErrNoSuchHash
			}
			return Proof{}, fmt.Errorf("%w: %s", ErrProofChainCorrupt, node)
		}
		chain = append(chain, info.AddHash(node))
		if info.Parent == nil {
			break
		}
		node = *info.Parent
	}

	var publishedRoot *nodekind.HashInfoWithHash
	if rootHash, ok, err := b.backend.GetMostRecentPublishedRoot(); err != nil {
		return Proof{}, err
	} else if ok {
		rootInfo, ok, err := b.backend.GetHashInfo(rootHash)
		if err != nil {
			return Proof{}, err
		}
		if !ok {
			return Proof{}, fmt.Errorf("%w: published node %s does not exist", ErrProofChainCorrupt, rootHash)
		}
		if rootInfo.Source.Kind != nodekind.KindRoot {
			return Proof{}, fmt.Errorf("%w: published node %s has the wrong history", ErrPublishedRootIsNotARoot, rootHash)
		}
		elements := make(map[hashvalue.Value]bool, len(rootInfo.Source.Root.Elements))
		for _, e := range rootInfo.Source.Root.Elements {
			elements[e] = true
		}
		for i, link := range chain {
			if elements[link.Hash] {
				chain = chain[:i+1]
				wh := rootInfo.AddHash(rootHash)
				publishedRoot = &wh
				break
			}
		}
	}
	return Proof{Chain: chain, PublishedRoot: publishedRoot}, nil
}

// CensorLeaf clears the data of Leaf hash, preserving its timestamp and
// hash.
func (b *Board) CensorLeaf(hash hashvalue.Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backend.CensorLeaf(hash)
}
