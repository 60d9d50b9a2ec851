package backendflat

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rightcommons/merkleboard/internal/backendmem"
	"github.com/rightcommons/merkleboard/internal/boardbackend"
	"github.com/rightcommons/merkleboard/internal/deduce"
	"github.com/rightcommons/merkleboard/internal/hashvalue"
	"github.com/rightcommons/merkleboard/internal/nodekind"
)

// Backend is a Backend implementation that durably journals every
// transaction as CSV to a single file on disk, while keeping an
// in-memory index (backendmem.Backend) for fast lookups. On CensorLeaf
// the entire file is rewritten from scratch via journal deduction,
// since the censored leaf's position in the file cannot be patched
// without disturbing the transaction boundaries around it.
type Backend struct {
	path   string
	file   *os.File
	memory *backendmem.Backend
}

// Open loads path (creating it if absent), replaying every transaction
// into a fresh in-memory index, and returns a Backend ready to accept
// further Publish/CensorLeaf calls.
func Open(path string) (*Backend, error) {
	memory := backendmem.New()

	if f, err := os.Open(path); err == nil {
		reader := NewReader(f)
		for {
			tx, err := reader.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					f.Close()
					break
				}
				f.Close()
				return nil, fmt.Errorf("backendflat: replaying %s: %w", path, err)
			}
			if err := memory.Publish(tx); err != nil {
				f.Close()
				return nil, fmt.Errorf("backendflat: replaying %s: %w", path, err)
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("backendflat: opening %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("backendflat: opening %s for append: %w", path, err)
	}
	return &Backend{path: path, file: file, memory: memory}, nil
}

func (b *Backend) GetAllPublishedRoots() ([]hashvalue.Value, error) {
	return b.memory.GetAllPublishedRoots()
}

func (b *Backend) GetMostRecentPublishedRoot() (hashvalue.Value, bool, error) {
	return b.memory.GetMostRecentPublishedRoot()
}

func (b *Backend) GetAllParentlessLeavesAndBranches() ([]hashvalue.Value, error) {
	return b.memory.GetAllParentlessLeavesAndBranches()
}

func (b *Backend) GetHashInfo(hash hashvalue.Value) (nodekind.HashInfo, bool, error) {
	return b.memory.GetHashInfo(hash)
}

// Publish commits tx to the in-memory index first, then appends its CSV
// representation to the journal file and flushes it to stable storage.
// If the flush fails the in-memory index is left ahead of the file;
// callers should treat that as fatal and stop serving writes, since a
// later restart would fail to replay this transaction.
func (b *Backend) Publish(tx *nodekind.Transaction) error {
	if err := b.memory.Publish(tx); err != nil {
		return err
	}
	if err := WriteTransaction(b.file, tx); err != nil {
		return fmt.Errorf("backendflat: writing transaction to %s: %w", b.path, err)
	}
	return b.file.Sync()
}

// CensorLeaf clears hash's payload in the in-memory index, then
// rewrites the journal file from scratch by deducing the full
// transaction history from the empty set to the current parentless
// node set (including published roots), mirroring the original
// flat-file backend's full-file rewrite on censorship.
func (b *Backend) CensorLeaf(hash hashvalue.Value) error {
	if err := b.memory.CensorLeaf(hash); err != nil {
		return err
	}

	parentless, err := b.memory.GetAllParentlessLeavesAndBranches()
	if err != nil {
		return fmt.Errorf("backendflat: rebuilding journal after censoring %s: %w", hash, err)
	}
	transactions, err := deduce.Journal(b.memory, nil, parentless, true)
	if err != nil {
		return fmt.Errorf("backendflat: deducing journal after censoring %s: %w", hash, err)
	}

	tmpPath := b.path + ".rewrite"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("backendflat: creating rewrite file: %w", err)
	}
	for _, tx := range transactions {
		if err := WriteTransaction(tmp, tx); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("backendflat: writing rewritten journal: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("backendflat: syncing rewritten journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("backendflat: closing rewritten journal: %w", err)
	}

	if err := b.file.Close(); err != nil {
		return fmt.Errorf("backendflat: closing old journal: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		return fmt.Errorf("backendflat: replacing journal with rewrite: %w", err)
	}
	file, err := os.OpenFile(b.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("backendflat: reopening journal after rewrite: %w", err)
	}
	b.file = file
	return nil
}

func (b *Backend) LeftDepth(hash hashvalue.Value) (int, error) {
	return boardbackend.DefaultLeftDepth(b, hash)
}

// Close closes the underlying file handle.
func (b *Backend) Close() error {
	return b.file.Close()
}

var _ boardbackend.Backend = (*Backend)(nil)
