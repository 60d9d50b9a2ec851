// Package nodekind defines the tagged node variants (Leaf, Branch, Root)
// that make up the bulletin board's data model, plus the transaction
// object used to stage new nodes for a single atomic backend commit.
package nodekind

import "github.com/rightcommons/merkleboard/internal/hashvalue"

// Kind tags which variant a Source holds.
type Kind int

const (
	// KindLeaf marks a committed message.
	KindLeaf Kind = iota
	// KindBranch marks an internal balanced-tree combiner.
	KindBranch
	// KindRoot marks a periodic public snapshot.
	KindRoot
)

// Leaf is a committed message. Data is nil once the leaf has been
// censored; the timestamp and hash are preserved regardless.
type Leaf struct {
	Timestamp uint64
	Data      *string
}

// ComputeHash returns the leaf's hash, or false if the data has been
// censored and the hash can no longer be recomputed from this record.
func (l Leaf) ComputeHash() (hashvalue.Value, bool) {
	if l.Data == nil {
		return hashvalue.Value{}, false
	}
	return hashvalue.HashLeaf(l.Timestamp, *l.Data), true
}

// Branch combines two equal-depth subtrees.
type Branch struct {
	Left  hashvalue.Value
	Right hashvalue.Value
}

// ComputeHash returns the branch's hash.
func (b Branch) ComputeHash() hashvalue.Value {
	return hashvalue.HashBranch(b.Left, b.Right)
}

// Root is a published snapshot of the growing forest.
type Root struct {
	Timestamp uint64
	// Prior is the immediately preceding published root, if any.
	Prior *hashvalue.Value
	// Elements are the forest's subtree roots at publication time,
	// ordered by decreasing depth.
	Elements []hashvalue.Value
}

// ComputeHash returns the root's hash.
func (r Root) ComputeHash() hashvalue.Value {
	return hashvalue.HashRoot(r.Timestamp, r.Prior, r.Elements)
}

// Source is the sum type describing why a hash exists: exactly one of
// Leaf, Branch, or Root is non-nil.
type Source struct {
	Kind   Kind
	Leaf   *Leaf
	Branch *Branch
	Root   *Root
}

// NewLeafSource builds a Source wrapping a Leaf.
func NewLeafSource(l Leaf) Source { return Source{Kind: KindLeaf, Leaf: &l} }

// NewBranchSource builds a Source wrapping a Branch.
func NewBranchSource(b Branch) Source { return Source{Kind: KindBranch, Branch: &b} }

// NewRootSource builds a Source wrapping a Root.
func NewRootSource(r Root) Source { return Source{Kind: KindRoot, Root: &r} }

// ComputeHash dispatches to the wrapped variant. For a censored leaf the
// second return value is false.
func (s Source) ComputeHash() (hashvalue.Value, bool) {
	switch s.Kind {
	case KindLeaf:
		return s.Leaf.ComputeHash()
	case KindBranch:
		return s.Branch.ComputeHash(), true
	case KindRoot:
		return s.Root.ComputeHash(), true
	default:
		return hashvalue.Value{}, false
	}
}

// HashInfo is what a backend stores per hash: its source plus the parent
// branch hash, if any. Roots never have parents.
type HashInfo struct {
	Source Source
	Parent *hashvalue.Value
}

// HashInfoWithHash adds the hash itself, used when returning chains of
// nodes (e.g. inclusion proofs) where the caller needs the hash alongside
// the record.
type HashInfoWithHash struct {
	Hash   hashvalue.Value
	Source Source
	Parent *hashvalue.Value
}

// AddHash promotes a HashInfo to a HashInfoWithHash.
func (h HashInfo) AddHash(hash hashvalue.Value) HashInfoWithHash {
	return HashInfoWithHash{Hash: hash, Source: h.Source, Parent: h.Parent}
}

// Entry is one (hash, source) pair staged within a Transaction.
type Entry struct {
	Hash   hashvalue.Value
	Source Source
}

// Transaction is a small ordered list of nodes staged atomically for a
// single backend commit. Besides the append helpers, it offers a local
// lookup so the growing-forest algorithm can detect hash collisions
// against nodes created earlier within the same in-flight transaction,
// before those nodes are visible to the backend.
type Transaction struct {
	Pending []Entry
}

// New returns an empty transaction.
func New() *Transaction {
	return &Transaction{}
}

// Singleton returns a transaction containing exactly one entry, used by
// journal replay to commit one historical node at a time.
func Singleton(hash hashvalue.Value, source Source) *Transaction {
	return &Transaction{Pending: []Entry{{Hash: hash, Source: source}}}
}

// AddLeaf appends a Leaf entry and returns its hash.
func (t *Transaction) AddLeaf(hash hashvalue.Value, l Leaf) hashvalue.Value {
	t.Pending = append(t.Pending, Entry{Hash: hash, Source: NewLeafSource(l)})
	return hash
}

// AddBranch appends a Branch entry and returns its hash.
func (t *Transaction) AddBranch(hash hashvalue.Value, b Branch) hashvalue.Value {
	t.Pending = append(t.Pending, Entry{Hash: hash, Source: NewBranchSource(b)})
	return hash
}

// AddRoot appends a Root entry and returns its hash.
func (t *Transaction) AddRoot(hash hashvalue.Value, r Root) hashvalue.Value {
	t.Pending = append(t.Pending, Entry{Hash: hash, Source: NewRootSource(r)})
	return hash
}

// Lookup finds a hash already staged within this in-flight transaction,
// used to detect same-transaction collisions before the commit is
// visible to the backend.
func (t *Transaction) Lookup(hash hashvalue.Value) (Source, bool) {
	for _, e := range t.Pending {
		if e.Hash == hash {
			return e.Source, true
		}
	}
	return Source{}, false
}

// Last returns the final staged entry, if any.
func (t *Transaction) Last() (Entry, bool) {
	if len(t.Pending) == 0 {
		return Entry{}, false
	}
	return t.Pending[len(t.Pending)-1], true
}

// IsRoot reports whether a source is a Root.
func IsRoot(s Source) bool { return s.Kind == KindRoot }
