// Package backendjournal wraps any boardbackend.Backend with CSV journal
// files suitable for bulk, offline verification: every transaction is
// appended to "pending.csv", and whenever a transaction ends in a
// published Root, pending.csv is atomically renamed to "<root-hex>.csv"
// (or a zero-byte file is created if no leaves arrived since the prior
// root).
package backendjournal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/rightcommons/merkleboard/internal/backendflat"
	"github.com/rightcommons/merkleboard/internal/boardbackend"
	"github.com/rightcommons/merkleboard/internal/deduce"
	"github.com/rightcommons/merkleboard/internal/hashvalue"
	"github.com/rightcommons/merkleboard/internal/nodekind"
)

// Mirror is the subset of internal/journalmirror.Mirror this package
// needs: uploading a just-rotated journal file under its own name.
type Mirror interface {
	UploadJournal(ctx context.Context, objectKey, localPath string) error
}

// VerificationMode controls the consistency check performed when a
// Backend is opened.
type VerificationMode int

const (
	// None skips verification entirely.
	None VerificationMode = iota
	// SanityCheckPending replays pending.csv and fails to open if it
	// is inconsistent with the inner backend's current parentless set.
	SanityCheckPending
	// SanityCheckAndRepairPending is as SanityCheckPending, but on
	// failure rebuilds pending.csv by journal deduction instead of
	// refusing to open. Recommended default.
	SanityCheckAndRepairPending
	// RebuildAllJournals unconditionally recreates every <root>.csv
	// and pending.csv from journal deduction, ignoring whatever is
	// already on disk.
	RebuildAllJournals
)

// Backend adds journalling to an inner boardbackend.Backend.
type Backend struct {
	inner     boardbackend.Backend
	directory string
	mirror    Mirror
}

// WithMirror attaches an object-storage mirror: every rotated
// "<root-hex>.csv" is uploaded under that name after being written to
// disk. A failed upload is logged, not returned, since the on-disk
// journal is already the durable copy of record.
func (b *Backend) WithMirror(m Mirror) *Backend {
	b.mirror = m
	return b
}

func (b *Backend) relPath(name string) string { return filepath.Join(b.directory, name) }
func (b *Backend) pendingPath() string         { return b.relPath("pending.csv") }
func (b *Backend) hashPath(h hashvalue.Value) string {
	return b.relPath(h.String() + ".csv")
}

// New adds journalling to inner, storing journal files under directory
// (created if absent), and verifies/repairs pending.csv per mode.
func New(inner boardbackend.Backend, directory string, mode VerificationMode) (*Backend, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("backendjournal: creating %s: %w", directory, err)
	}
	b := &Backend{inner: inner, directory: directory}

	switch mode {
	case None:
		// nothing to do.
	case SanityCheckPending:
		if err := b.VerifyCurrentConsistent(); err != nil {
			return nil, err
		}
	case SanityCheckAndRepairPending:
		if err := b.VerifyCurrentConsistent(); err != nil {
			log.Printf("[Journal] pending journal is corrupt, attempting to recreate: %v", err)
			if err := b.repairPending(); err != nil {
				return nil, err
			}
			log.Printf("[Journal] successfully recreated pending journal")
		}
	case RebuildAllJournals:
		if err := b.rebuildAll(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Backend) GetAllPublishedRoots() ([]hashvalue.Value, error) {
	return b.inner.GetAllPublishedRoots()
}

func (b *Backend) GetMostRecentPublishedRoot() (hashvalue.Value, bool, error) {
	return b.inner.GetMostRecentPublishedRoot()
}

func (b *Backend) GetAllParentlessLeavesAndBranches() ([]hashvalue.Value, error) {
	return b.inner.GetAllParentlessLeavesAndBranches()
}

func (b *Backend) GetHashInfo(hash hashvalue.Value) (nodekind.HashInfo, bool, error) {
	return b.inner.GetHashInfo(hash)
}

// Publish commits to the inner backend first, so that a crash between
// the two writes loses at most the journal's record of the last
// transaction, never the inner backend's.
func (b *Backend) Publish(tx *nodekind.Transaction) error {
	if err := b.inner.Publish(tx); err != nil {
		return err
	}

	last, ok := tx.Last()
	endsInRoot := ok && nodekind.IsRoot(last.Source)
	if _, err := os.Stat(b.pendingPath()); endsInRoot && os.IsNotExist(err) {
		f, err := os.OpenFile(b.hashPath(last.Hash), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("backendjournal: creating empty %s: %w", b.hashPath(last.Hash), err)
		}
		f.Close()
		b.mirrorRotated(last.Hash)
		return nil
	}

	file, err := os.OpenFile(b.pendingPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("backendjournal: opening pending.csv: %w", err)
	}
	if err := backendflat.WriteTransaction(file, tx); err != nil {
		file.Close()
		return fmt.Errorf("backendjournal: writing pending.csv: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("backendjournal: syncing pending.csv: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("backendjournal: closing pending.csv: %w", err)
	}

	if endsInRoot {
		if err := os.Rename(b.pendingPath(), b.hashPath(last.Hash)); err != nil {
			return fmt.Errorf("backendjournal: rotating pending.csv to %s: %w", b.hashPath(last.Hash), err)
		}
		b.mirrorRotated(last.Hash)
	}
	return nil
}

func (b *Backend) mirrorRotated(root hashvalue.Value) {
	if b.mirror == nil {
		return
	}
	objectKey := root.String() + ".csv"
	if err := b.mirror.UploadJournal(context.Background(), objectKey, b.hashPath(root)); err != nil {
		log.Printf("[Journal] failed to mirror %s: %v", objectKey, err)
	}
}

// CensorLeaf delegates to the inner backend, then rebuilds every journal
// file, since every appearance of the censored payload in any journal
// file must disappear.
func (b *Backend) CensorLeaf(hash hashvalue.Value) error {
	if err := b.inner.CensorLeaf(hash); err != nil {
		return err
	}
	return b.rebuildAll()
}

func (b *Backend) LeftDepth(hash hashvalue.Value) (int, error) {
	return b.inner.LeftDepth(hash)
}

// VerifyCurrentConsistent checks that pending.csv, replayed starting
// from the most-recent published root's elements, reproduces exactly
// the inner backend's current parentless node set. It does not check
// any hashes; it only detects a truncated or otherwise structurally
// wrong pending file, e.g. from an unclean shutdown.
func (b *Backend) VerifyCurrentConsistent() error {
	var preexisting []hashvalue.Value
	if lastRoot, ok, err := b.inner.GetMostRecentPublishedRoot(); err != nil {
		return err
	} else if ok {
		if _, err := os.Stat(b.hashPath(lastRoot)); err != nil {
			return fmt.Errorf("%w: last published root journal file is missing", boardbackend.ErrBackendInconsistent)
		}
		info, ok, err := b.inner.GetHashInfo(lastRoot)
		if err != nil {
			return err
		}
		if !ok || info.Source.Kind != nodekind.KindRoot {
			return fmt.Errorf("%w: last published root hash is not a root", boardbackend.ErrBackendInconsistent)
		}
		preexisting = info.Source.Root.Elements
	}

	current := make(map[hashvalue.Value]bool, len(preexisting))
	for _, h := range preexisting {
		current[h] = true
	}

	if file, err := os.Open(b.pendingPath()); err == nil {
		defer file.Close()
		reader := backendflat.NewReader(file)
		for {
			tx, err := reader.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("%w: reading pending.csv: %v", boardbackend.ErrBackendParsing, err)
			}
			for _, entry := range tx.Pending {
				current[entry.Hash] = true
				switch entry.Source.Kind {
				case nodekind.KindLeaf:
				case nodekind.KindBranch:
					if !current[entry.Source.Branch.Left] {
						return fmt.Errorf("%w: pending file branch references unexpected left hash %s", boardbackend.ErrBackendInconsistent, entry.Source.Branch.Left)
					}
					delete(current, entry.Source.Branch.Left)
					if !current[entry.Source.Branch.Right] {
						return fmt.Errorf("%w: pending file branch references unexpected right hash %s", boardbackend.ErrBackendInconsistent, entry.Source.Branch.Right)
					}
					delete(current, entry.Source.Branch.Right)
				case nodekind.KindRoot:
					return fmt.Errorf("%w: pending file contains a root", boardbackend.ErrBackendInconsistent)
				}
			}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("backendjournal: opening pending.csv: %w", err)
	}

	expected, err := b.inner.GetAllParentlessLeavesAndBranches()
	if err != nil {
		return err
	}
	expectedSet := make(map[hashvalue.Value]bool, len(expected))
	for _, h := range expected {
		expectedSet[h] = true
	}
	if len(expectedSet) != len(current) || !setsEqual(expectedSet, current) {
		return fmt.Errorf("%w: expected parentless set does not match pending.csv replay", boardbackend.ErrBackendInconsistent)
	}
	return nil
}

func setsEqual(a, b map[hashvalue.Value]bool) bool {
	for h := range a {
		if !b[h] {
			return false
		}
	}
	return true
}

// repairPending rewrites pending.csv from journal-deduced history
// between the last published root and the present, staging to
// "recreating.csv" first to avoid clobbering a file of diagnostic value
// if the repair itself goes wrong.
func (b *Backend) repairPending() error {
	transactions, err := deduce.LastPublishedRootToPresent(b.inner)
	if err != nil {
		return fmt.Errorf("backendjournal: deducing pending journal: %w", err)
	}
	recreatePath := b.relPath("recreating.csv")
	if err := writeAll(recreatePath, transactions); err != nil {
		return err
	}
	return os.Rename(recreatePath, b.pendingPath())
}

// rebuildAll recreates every published-root journal file and
// pending.csv from journal deduction, discarding whatever is currently
// on disk.
func (b *Backend) rebuildAll() error {
	roots, err := b.inner.GetAllPublishedRoots()
	if err != nil {
		return err
	}
	for _, root := range roots {
		transactions, err := deduce.FromPriorRootToGivenRoot(b.inner, root)
		if err != nil {
			return fmt.Errorf("backendjournal: deducing journal for root %s: %w", root, err)
		}
		// the trailing Root transaction belongs in the file named
		// after itself, same as the live rotation in Publish. Unlike
		// Publish, a root with nothing since its prior root gets a
		// file holding just that root rather than an empty file.
		if err := writeAll(b.hashPath(root), transactions); err != nil {
			return err
		}
		b.mirrorRotated(root)
	}
	return b.repairPending()
}

func writeAll(path string, transactions []*nodekind.Transaction) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("backendjournal: creating %s: %w", path, err)
	}
	for _, tx := range transactions {
		if err := backendflat.WriteTransaction(file, tx); err != nil {
			file.Close()
			return fmt.Errorf("backendjournal: writing %s: %w", path, err)
		}
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("backendjournal: syncing %s: %w", path, err)
	}
	return file.Close()
}

var _ boardbackend.Backend = (*Backend)(nil)
