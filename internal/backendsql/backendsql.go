// Package backendsql implements the PostgreSQL-backed Backend, using the
// four-table schema in schema.sql: leaf, branch, published_roots, and
// published_root_references. Grounded on the reference MySQL backend's
// table layout and query shapes, translated to database/sql against
// github.com/lib/pq.
package backendsql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rightcommons/merkleboard/internal/boardbackend"
	"github.com/rightcommons/merkleboard/internal/hashvalue"
	"github.com/rightcommons/merkleboard/internal/nodekind"
)

// Backend is a PostgreSQL-backed boardbackend.Backend. Safe for
// concurrent use: all mutation goes through a single SQL transaction
// per Publish call, and database/sql pools connections internally.
type Backend struct {
	db *sql.DB
}

// New wraps an already-opened *sql.DB. Callers are responsible for
// having applied schema.sql beforehand.
func New(db *sql.DB) *Backend {
	return &Backend{db: db}
}

func (b *Backend) GetAllPublishedRoots() ([]hashvalue.Value, error) {
	rows, err := b.db.Query("SELECT hash FROM published_roots ORDER BY serial")
	if err != nil {
		return nil, fmt.Errorf("backendsql: querying published roots: %w", err)
	}
	defer rows.Close()
	return scanHashes(rows)
}

func (b *Backend) GetMostRecentPublishedRoot() (hashvalue.Value, bool, error) {
	var raw []byte
	err := b.db.QueryRow("SELECT hash FROM published_roots ORDER BY serial DESC LIMIT 1").Scan(&raw)
	if err == sql.ErrNoRows {
		return hashvalue.Value{}, false, nil
	}
	if err != nil {
		return hashvalue.Value{}, false, fmt.Errorf("backendsql: querying most recent published root: %w", err)
	}
	hash, err := bytesToHash(raw)
	return hash, true, err
}

func (b *Backend) GetAllParentlessLeavesAndBranches() ([]hashvalue.Value, error) {
	leafRows, err := b.db.Query("SELECT hash FROM leaf WHERE parent IS NULL")
	if err != nil {
		return nil, fmt.Errorf("backendsql: querying parentless leaves: %w", err)
	}
	leaves, err := scanHashes(leafRows)
	leafRows.Close()
	if err != nil {
		return nil, err
	}

	branchRows, err := b.db.Query("SELECT hash FROM branch WHERE parent IS NULL")
	if err != nil {
		return nil, fmt.Errorf("backendsql: querying parentless branches: %w", err)
	}
	branches, err := scanHashes(branchRows)
	branchRows.Close()
	if err != nil {
		return nil, err
	}
	return append(leaves, branches...), nil
}

func (b *Backend) GetHashInfo(hash hashvalue.Value) (nodekind.HashInfo, bool, error) {
	var timestamp int64
	var data sql.NullString
	var parent []byte
	err := b.db.QueryRow("SELECT timestamp, data, parent FROM leaf WHERE hash = $1", hash[:]).
		Scan(&timestamp, &data, &parent)
	if err == nil {
		var leaf nodekind.Leaf
		leaf.Timestamp = uint64(timestamp)
		if data.Valid {
			d := data.String
			leaf.Data = &d
		}
		parentHash, err := optionalBytesToHash(parent)
		if err != nil {
			return nodekind.HashInfo{}, false, err
		}
		return nodekind.HashInfo{Source: nodekind.NewLeafSource(leaf), Parent: parentHash}, true, nil
	}
	if err != sql.ErrNoRows {
		return nodekind.HashInfo{}, false, fmt.Errorf("backendsql: querying leaf %s: %w", hash, err)
	}

	var leftRaw, rightRaw, branchParent []byte
	err = b.db.QueryRow("SELECT left_child, right_child, parent FROM branch WHERE hash = $1", hash[:]).
		Scan(&leftRaw, &rightRaw, &branchParent)
	if err == nil {
		left, err := bytesToHash(leftRaw)
		if err != nil {
			return nodekind.HashInfo{}, false, err
		}
		right, err := bytesToHash(rightRaw)
		if err != nil {
			return nodekind.HashInfo{}, false, err
		}
		parentHash, err := optionalBytesToHash(branchParent)
		if err != nil {
			return nodekind.HashInfo{}, false, err
		}
		branch := nodekind.Branch{Left: left, Right: right}
		return nodekind.HashInfo{Source: nodekind.NewBranchSource(branch), Parent: parentHash}, true, nil
	}
	if err != sql.ErrNoRows {
		return nodekind.HashInfo{}, false, fmt.Errorf("backendsql: querying branch %s: %w", hash, err)
	}

	var priorRaw []byte
	err = b.db.QueryRow("SELECT prior_hash, timestamp FROM published_roots WHERE hash = $1", hash[:]).
		Scan(&priorRaw, &timestamp)
	if err == sql.ErrNoRows {
		return nodekind.HashInfo{}, false, nil
	}
	if err != nil {
		return nodekind.HashInfo{}, false, fmt.Errorf("backendsql: querying root %s: %w", hash, err)
	}
	prior, err := optionalBytesToHash(priorRaw)
	if err != nil {
		return nodekind.HashInfo{}, false, err
	}

	rows, err := b.db.Query("SELECT referenced FROM published_root_references WHERE published = $1 ORDER BY position", hash[:])
	if err != nil {
		return nodekind.HashInfo{}, false, fmt.Errorf("backendsql: querying root elements for %s: %w", hash, err)
	}
	elements, err := scanHashes(rows)
	rows.Close()
	if err != nil {
		return nodekind.HashInfo{}, false, err
	}

	root := nodekind.Root{Timestamp: uint64(timestamp), Prior: prior, Elements: elements}
	return nodekind.HashInfo{Source: nodekind.NewRootSource(root)}, true, nil
}

// Publish commits every entry in tx within a single SQL transaction.
func (b *Backend) Publish(transaction *nodekind.Transaction) error {
	ctx := context.Background()
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("backendsql: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range transaction.Pending {
		switch entry.Source.Kind {
		case nodekind.KindLeaf:
			leaf := entry.Source.Leaf
			if _, err := tx.ExecContext(ctx, "INSERT INTO leaf (hash, timestamp, data) VALUES ($1, $2, $3)",
				entry.Hash[:], leaf.Timestamp, leaf.Data); err != nil {
				return fmt.Errorf("backendsql: inserting leaf %s: %w", entry.Hash, err)
			}
		case nodekind.KindBranch:
			branch := entry.Source.Branch
			if _, err := tx.ExecContext(ctx, "INSERT INTO branch (hash, left_child, right_child) VALUES ($1, $2, $3)",
				entry.Hash[:], branch.Left[:], branch.Right[:]); err != nil {
				return fmt.Errorf("backendsql: inserting branch %s: %w", entry.Hash, err)
			}
			if _, err := tx.ExecContext(ctx, "UPDATE branch SET parent = $1 WHERE hash = $2 OR hash = $3",
				entry.Hash[:], branch.Left[:], branch.Right[:]); err != nil {
				return fmt.Errorf("backendsql: updating branch parents for %s: %w", entry.Hash, err)
			}
			if _, err := tx.ExecContext(ctx, "UPDATE leaf SET parent = $1 WHERE hash = $2 OR hash = $3",
				entry.Hash[:], branch.Left[:], branch.Right[:]); err != nil {
				return fmt.Errorf("backendsql: updating leaf parents for %s: %w", entry.Hash, err)
			}
		case nodekind.KindRoot:
			root := entry.Source.Root
			var prior interface{}
			if root.Prior != nil {
				prior = (*root.Prior)[:]
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO published_roots (hash, prior_hash, timestamp) VALUES ($1, $2, $3)",
				entry.Hash[:], prior, root.Timestamp); err != nil {
				return fmt.Errorf("backendsql: inserting published root %s: %w", entry.Hash, err)
			}
			for position, referenced := range root.Elements {
				if _, err := tx.ExecContext(ctx, "INSERT INTO published_root_references (published, referenced, position) VALUES ($1, $2, $3)",
					entry.Hash[:], referenced[:], position); err != nil {
					return fmt.Errorf("backendsql: inserting root reference for %s: %w", entry.Hash, err)
				}
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("backendsql: committing transaction: %w", err)
	}
	return nil
}

func (b *Backend) CensorLeaf(hash hashvalue.Value) error {
	result, err := b.db.Exec("UPDATE leaf SET data = NULL WHERE hash = $1", hash[:])
	if err != nil {
		return fmt.Errorf("backendsql: censoring leaf %s: %w", hash, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("backendsql: censoring leaf %s: %w", hash, err)
	}
	if affected == 0 {
		var isBranchOrRoot bool
		_ = b.db.QueryRow("SELECT true FROM branch WHERE hash = $1 UNION SELECT true FROM published_roots WHERE hash = $1", hash[:]).Scan(&isBranchOrRoot)
		if isBranchOrRoot {
			return boardbackend.ErrCanOnlyCensorLeaves
		}
		return boardbackend.ErrNoSuchHash
	}
	return nil
}

func (b *Backend) LeftDepth(hash hashvalue.Value) (int, error) {
	return boardbackend.DefaultLeftDepth(b, hash)
}

func scanHashes(rows *sql.Rows) ([]hashvalue.Value, error) {
	var out []hashvalue.Value
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("backendsql: scanning hash: %w", err)
		}
		h, err := bytesToHash(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("backendsql: iterating rows: %w", err)
	}
	return out, nil
}

func bytesToHash(raw []byte) (hashvalue.Value, error) {
	if len(raw) != hashvalue.Size {
		return hashvalue.Value{}, fmt.Errorf("%w: expected %d bytes, got %d", boardbackend.ErrBackendParsing, hashvalue.Size, len(raw))
	}
	var h hashvalue.Value
	copy(h[:], raw)
	return h, nil
}

func optionalBytesToHash(raw []byte) (*hashvalue.Value, error) {
	if raw == nil {
		return nil, nil
	}
	h, err := bytesToHash(raw)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

var _ boardbackend.Backend = (*Backend)(nil)
